package health

import "context"

// Status is the aggregate health report exposed on the health endpoint.
type Status struct {
	Status    string         `json:"status"`
	Timestamp string         `json:"timestamp"`
	Database  string         `json:"database"`
	Gateway   string         `json:"gateway"`
	Websocket map[string]any `json:"websocket"`
	Workers   map[string]any `json:"workers,omitempty"`
}

type IHealthUsecase interface {
	GetStatus(ctx context.Context) Status
}
