package usecase

import (
	"context"
	"time"

	domainHealth "github.com/evocrm/wabridge/domains/health"
	"github.com/evocrm/wabridge/pkg/msgworker"
	"github.com/evocrm/wabridge/ui/websocket"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// GatewayProber checks the gateway connection for an instance.
type GatewayProber interface {
	ConnectionState(ctx context.Context, instance string) (string, error)
}

type healthService struct {
	db              *gorm.DB
	gateway         GatewayProber
	hub             *websocket.Hub
	pool            *msgworker.Pool
	defaultInstance string
}

func NewHealthService(db *gorm.DB, gateway GatewayProber, hub *websocket.Hub, pool *msgworker.Pool, defaultInstance string) domainHealth.IHealthUsecase {
	return &healthService{
		db:              db,
		gateway:         gateway,
		hub:             hub,
		pool:            pool,
		defaultInstance: defaultInstance,
	}
}

// GetStatus reports store, gateway, hub and worker health. The endpoint
// stays 200 even when a dependency is down; consumers read the fields.
func (service healthService) GetStatus(ctx context.Context) domainHealth.Status {
	status := domainHealth.Status{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Database:  "ok",
		Gateway:   "unknown",
	}

	if service.db != nil {
		if sqlDB, err := service.db.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
			status.Database = "down"
			status.Status = "degraded"
		}
	} else {
		status.Database = "down"
		status.Status = "degraded"
	}

	if service.gateway != nil {
		probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		state, err := service.gateway.ConnectionState(probeCtx, service.defaultInstance)
		if err != nil {
			logrus.WithError(err).Debug("[HEALTH] Gateway probe failed")
			status.Gateway = "unreachable"
		} else {
			status.Gateway = state
		}
	}

	if service.hub != nil {
		stats := service.hub.Stats()
		status.Websocket = map[string]any{
			"connections":   stats.Connections,
			"tickets":       stats.Tickets,
			"subscriptions": stats.Subscriptions,
		}
	}

	if service.pool != nil {
		stats := service.pool.GetStats()
		status.Workers = map[string]any{
			"num_workers":      stats.NumWorkers,
			"active_workers":   stats.ActiveWorkers,
			"total_dispatched": stats.TotalDispatched,
			"total_processed":  stats.TotalProcessed,
			"total_dropped":    stats.TotalDropped,
			"total_errors":     stats.TotalErrors,
		}
	}

	return status
}
