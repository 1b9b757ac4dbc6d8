package cmd

import (
	"context"
	"os"
	"time"

	crmApp "github.com/evocrm/wabridge/crm/application"
	"github.com/evocrm/wabridge/crm/repository"
	domainBridge "github.com/evocrm/wabridge/domains/bridge"
	domainHealth "github.com/evocrm/wabridge/domains/health"
	domainSend "github.com/evocrm/wabridge/domains/send"

	coreconfig "github.com/evocrm/wabridge/core/config"
	coreDB "github.com/evocrm/wabridge/core/database"
	"github.com/evocrm/wabridge/infrastructure/evolution"
	"github.com/evocrm/wabridge/infrastructure/valkey"
	"github.com/evocrm/wabridge/pkg/msgworker"
	"github.com/evocrm/wabridge/pkg/utils"
	"github.com/evocrm/wabridge/ui/websocket"
	"github.com/evocrm/wabridge/usecase"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	bridgeUsecase domainBridge.IBridgeUsecase
	sendUsecase   domainSend.ISendUsecase
	healthUsecase domainHealth.IHealthUsecase

	wsHub         *websocket.Hub
	vkClient      *valkey.Client
	gatewayClient *evolution.Client
	serverID      string

	customerRepo *repository.CustomerGormRepository
	ticketRepo   *repository.TicketGormRepository
	messageRepo  *repository.MessageGormRepository

	// Flag overrides, applied on top of env config.
	flagPort       string
	flagDebug      bool
	flagGatewayURL string
	flagGatewayKey string
	flagInstance   string
	flagWorkers    int
	flagQueueSize  int
)

var rootCmd = &cobra.Command{
	Use:   "wabridge",
	Short: "WhatsApp to CRM bridge",
	Long: `wabridge receives Evolution API webhooks, resolves every message to a
customer and an open ticket, stores it and fans it out to live CRM sessions.`,
}

func init() {
	utils.LoadConfig(".")

	time.Local = time.UTC

	rootCmd.CompletionOptions.DisableDefaultCmd = true

	initFlags()

	cobra.OnInitialize(initApp)
}

func initFlags() {
	rootCmd.PersistentFlags().StringVarP(
		&flagPort,
		"port", "p",
		"",
		"change port number with --port <number> | example: --port=3000",
	)
	rootCmd.PersistentFlags().BoolVarP(
		&flagDebug,
		"debug", "d",
		false,
		"enable debug logging --debug <true/false> | example: --debug=true",
	)
	rootCmd.PersistentFlags().StringVarP(
		&flagGatewayURL,
		"gateway-url", "",
		"",
		`Evolution API base url --gateway-url <string> | example: --gateway-url="http://localhost:8080"`,
	)
	rootCmd.PersistentFlags().StringVarP(
		&flagGatewayKey,
		"gateway-key", "",
		"",
		"Evolution API key --gateway-key <string>",
	)
	rootCmd.PersistentFlags().StringVarP(
		&flagInstance,
		"instance", "i",
		"",
		"default gateway instance name --instance <string> | example: --instance=main",
	)
	rootCmd.PersistentFlags().IntVarP(
		&flagWorkers,
		"message-workers", "",
		0,
		"number of concurrent message workers --message-workers <number>",
	)
	rootCmd.PersistentFlags().IntVarP(
		&flagQueueSize,
		"message-queue-size", "",
		0,
		"queue size per message worker --message-queue-size <number>",
	)
}

func applyFlagOverrides(cfg *coreconfig.Config) {
	if flagPort != "" {
		cfg.App.Port = flagPort
	}
	if flagDebug {
		cfg.App.Debug = true
	}
	if flagGatewayURL != "" {
		cfg.Gateway.BaseURL = flagGatewayURL
	}
	if flagGatewayKey != "" {
		cfg.Gateway.APIKey = flagGatewayKey
	}
	if flagInstance != "" {
		cfg.Gateway.DefaultInstance = flagInstance
	}
	if flagWorkers > 0 {
		cfg.WorkerPool.Size = flagWorkers
	}
	if flagQueueSize > 0 {
		cfg.WorkerPool.QueueSize = flagQueueSize
	}
}

func initApp() {
	cfg, err := coreconfig.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	applyFlagOverrides(cfg)

	if cfg.App.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}

	if err := utils.CreateFolder(cfg.Paths.Storages); err != nil {
		logrus.Errorln(err)
	}

	ctx := context.Background()

	db, err := coreDB.NewDatabase(cfg)
	if err != nil {
		logrus.Fatalf("Failed to connect to database: %v", err)
	}

	customerRepo = repository.NewCustomerGormRepository(db)
	ticketRepo = repository.NewTicketGormRepository(db)
	messageRepo = repository.NewMessageGormRepository(db)
	if err := migrateSchemas(ctx); err != nil {
		logrus.Fatalf("Failed to migrate schemas: %v", err)
	}

	serverID = utils.GetPersistentServerID(cfg.App.ServerID, cfg.Paths.Storages)

	wsHub = websocket.NewHub()

	var deduper usecase.EventDeduper
	if cfg.Database.ValkeyEnabled {
		vkClient, err = valkey.NewClient(valkey.Config{
			Address:   cfg.Database.ValkeyAddress,
			Password:  cfg.Database.ValkeyPassword,
			DB:        cfg.Database.ValkeyDB,
			KeyPrefix: cfg.Database.ValkeyKeyPrefix,
		})
		if err != nil {
			logrus.WithError(err).Warn("[INIT] Valkey unavailable, continuing single-node")
			vkClient = nil
		} else {
			wsHub.EnableDistribution(vkClient, serverID)
			deduper = vkClient
		}
	}

	gatewayClient = evolution.NewClient(
		cfg.Gateway.BaseURL,
		cfg.Gateway.APIKey,
		cfg.Gateway.CountryCode,
		time.Duration(cfg.Gateway.SendTimeoutSecs)*time.Second,
		evolution.WithSendDefaults(cfg.Gateway.DefaultDelayMs, cfg.Gateway.PresenceSimulate),
	)

	pool := msgworker.GetGlobalPool()

	bridgeUsecase = usecase.NewBridgeService(usecase.BridgeDeps{
		Normalizer:      evolution.NewNormalizer(cfg.Gateway.CountryCode),
		Identity:        crmApp.NewIdentityResolver(customerRepo, cfg.Gateway.CountryCode),
		Conversation:    crmApp.NewConversationResolver(ticketRepo),
		Writer:          crmApp.NewMessageWriter(messageRepo, wsHub),
		Customers:       customerRepo,
		Tickets:         ticketRepo,
		Messages:        messageRepo,
		Hub:             wsHub,
		Gateway:         gatewayClient,
		Pool:            pool,
		Dedup:           deduper,
		DefaultInstance: cfg.Gateway.DefaultInstance,
		CountryCode:     cfg.Gateway.CountryCode,
	})
	sendUsecase = usecase.NewSendService(gatewayClient, cfg.Gateway.DefaultInstance)
	healthUsecase = usecase.NewHealthService(db, gatewayClient, wsHub, pool, cfg.Gateway.DefaultInstance)

	logrus.Infof("[INIT] wabridge ready (server %s, instance %q)", serverID, cfg.Gateway.DefaultInstance)
}

func migrateSchemas(ctx context.Context) error {
	if err := customerRepo.InitSchema(ctx); err != nil {
		return err
	}
	if err := ticketRepo.InitSchema(ctx); err != nil {
		return err
	}
	return messageRepo.InitSchema(ctx)
}

// StopApp releases shared resources during shutdown.
func StopApp() {
	msgworker.StopGlobalPool()

	if vkClient != nil {
		vkClient.Close()
	}

	if coreDB.GlobalDB != nil {
		if sqlDB, err := coreDB.GlobalDB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}

// Execute adds all child commands to the root command. This is called by
// main.main() and only needs to happen once.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
