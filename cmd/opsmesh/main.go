package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/opsmesh/opsmesh/internal/a2a"
	"github.com/opsmesh/opsmesh/internal/agents"
	"github.com/opsmesh/opsmesh/internal/api"
	"github.com/opsmesh/opsmesh/internal/assistant"
	"github.com/opsmesh/opsmesh/internal/config"
	"github.com/opsmesh/opsmesh/internal/discovery"
	"github.com/opsmesh/opsmesh/internal/notify"
	"github.com/opsmesh/opsmesh/internal/orchestrator"
	"github.com/opsmesh/opsmesh/internal/queue"
	"github.com/opsmesh/opsmesh/internal/store"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Starting ops mesh...")

	// Load configuration
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/opsmesh.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}
	logger.Info("Config loaded", zap.String("path", cfgPath))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize PostgreSQL store
	var pgStore *store.Store
	if cfg.Database.Postgres.DSN != "" {
		ps, pgErr := store.New(cfg.Database.Postgres.DSN, logger)
		if pgErr != nil {
			logger.Warn("PostgreSQL unavailable, running without persistence", zap.Error(pgErr))
		} else {
			if mErr := ps.Migrate(ctx, "migrations"); mErr != nil {
				logger.Fatal("migration failed", zap.Error(mErr))
			}
			pgStore = ps
		}
	}

	// Initialize the agent transport
	var transport a2a.Transport
	switch cfg.Transport.Mode {
	case "redis":
		rt, rErr := a2a.NewRedisTransport(cfg.Database.Redis.URL, logger)
		if rErr != nil {
			logger.Fatal("Redis transport unavailable", zap.Error(rErr))
		}
		transport = rt
		logger.Info("Redis transport connected")
	default:
		transport = a2a.NewLocalTransport()
		logger.Info("Local transport initialized")
	}

	// Discovery service
	disc := discovery.NewService(discovery.Options{
		Liveness:      cfg.Discovery.Liveness(),
		Grace:         cfg.Discovery.Grace(),
		SweepInterval: cfg.Discovery.Sweep(),
	}, logger)
	disc.Run(ctx)

	// Queue manager
	mgr := queue.NewManager(cfg.Queue.MinWait(), cfg.Queue.DefaultAvg(), logger)
	if pgStore != nil {
		mgr.SetPersister(pgStore)
	}

	// Notification channels
	dispatcher := notify.NewDispatcher(logger)
	if cfg.Notify.Slack.Enabled && cfg.Notify.Slack.BotToken != "" {
		dispatcher.Register(notify.NewSlackNotifier(cfg.Notify.Slack.BotToken, cfg.Notify.Slack.Channel, logger))
	}
	if cfg.Notify.Discord.Enabled && cfg.Notify.Discord.BotToken != "" {
		dn, dErr := notify.NewDiscordNotifier(cfg.Notify.Discord.BotToken, cfg.Notify.Discord.ChannelID, logger)
		if dErr != nil {
			logger.Warn("Discord unavailable", zap.Error(dErr))
		} else {
			dispatcher.Register(dn)
		}
	}

	// Agent set
	opts := agents.Options{Defaults: a2a.Defaults{
		Timeout:    cfg.Tasks.Timeout(),
		MaxRetries: cfg.Tasks.MaxRetries,
		Backoff:    cfg.Tasks.Backoff(),
	}}
	mesh := []*agents.Agent{
		agents.NewQueueAgent(transport, disc, mgr, opts, logger),
		agents.NewNotificationAgent(transport, disc, dispatcher, opts, logger),
	}
	if pgStore != nil {
		mesh = append(mesh,
			agents.NewFrontDesk(transport, disc, pgStore, opts, logger),
			agents.NewAppointmentAgent(transport, disc, pgStore, opts, logger),
		)
	} else {
		logger.Warn("front desk and appointment agents disabled without persistence")
	}
	if cfg.Assistant.Enabled {
		client := assistant.NewClient(assistant.Config{
			Endpoint: cfg.Assistant.Endpoint,
			APIKey:   cfg.Assistant.APIKey,
			Model:    cfg.Assistant.Model,
		}, logger)
		mesh = append(mesh, agents.NewAssistantAgent(transport, disc, client, opts, logger))
	}
	for _, ag := range mesh {
		if pgStore != nil {
			ag.Proto().SetRecorder(pgStore)
		}
		if err := ag.Start(ctx); err != nil {
			logger.Fatal("agent failed to start", zap.String("agent", ag.ID()), zap.Error(err))
		}
	}

	// Workflow orchestrator
	proto := a2a.NewEngine("orchestrator", transport, opts.Defaults, logger)
	if pgStore != nil {
		proto.SetRecorder(pgStore)
	}
	proto.Start(ctx)
	flows := orchestrator.NewEngine(proto, disc, logger)
	for _, def := range orchestrator.BuiltinFlows() {
		if err := flows.RegisterFlow(def); err != nil {
			logger.Fatal("invalid workflow definition", zap.String("workflow_type", def.Type), zap.Error(err))
		}
	}

	// Build HTTP handler
	var records api.Records
	if pgStore != nil {
		records = pgStore
	}
	handler := api.NewHandler(disc, flows, mgr, records, logger)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("ops mesh listening", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down ops mesh...")
	srv.Shutdown(context.Background())
	for _, ag := range mesh {
		ag.Stop()
	}
	cancel()
	transport.Close()
	if pgStore != nil {
		pgStore.Close()
	}
}
