package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"sdgateway/admission"
	"sdgateway/backend"
	"sdgateway/billing"
	"sdgateway/core"
	"sdgateway/core/validation"
	"sdgateway/db"
	"sdgateway/logging"
	"sdgateway/metrics"
	"sdgateway/moderation"
	"sdgateway/orchestrator"
	"sdgateway/prompt"
	"sdgateway/server"
	"sdgateway/shutdown"
	"sdgateway/translate"
)

const (
	historyBufferSize = 256
	pruneInterval     = 6 * time.Hour
	drainTimeout      = 2 * time.Minute
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := core.LoadConfig(".env")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return core.ExitCodeConfig
	}

	logger, err := logging.NewLoggerWithLevel(cfg.LogLevel, cfg.Development, cfg.LogFile, logging.DefaultFileWriterConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return core.ExitCodeError
	}
	defer logger.Sync()

	pool, err := backend.NewPool(cfg.Servers)
	if err != nil {
		logger.Error("invalid backend list", zap.Error(err))
		return core.ExitCodeConfig
	}
	client, err := backend.NewClientFromConfig(cfg, logger)
	if err != nil {
		logger.Error("failed to create backend client", zap.Error(err))
		return core.ExitCodeError
	}

	result := validation.NewSuite(cfg, pool, client).Validate(context.Background())
	if !result.Success {
		logger.Error("startup checks failed",
			zap.String("summary", result.Summary()),
			zap.Error(result.FirstError()))
		return core.ExitCodeConfig
	}

	logger.Info("configuration loaded",
		zap.String("version", core.GetVersionInfo()),
		zap.Int("servers", pool.Len()),
		zap.Int("max_tasks", cfg.MaxTasks),
		zap.String("output_mode", cfg.OutputMode),
		zap.Bool("translation", cfg.Translation.Enabled),
		zap.Bool("billing", cfg.Billing.Enabled),
		zap.Bool("closing", cfg.Closing.Enabled),
		zap.Duration("timeout", cfg.Timeout))

	mgr := shutdown.NewManager(logger, shutdown.WithTimeout(drainTimeout+30*time.Second))
	mgr.Register("logger", shutdown.PriorityLogs, func(context.Context) error {
		logger.Sync()
		return nil
	})

	store, err := db.Open(cfg.DatabasePath)
	if err != nil {
		logger.Error("failed to open database", zap.String("path", cfg.DatabasePath), zap.Error(err))
		return core.ExitCodeError
	}
	mgr.Register("database", shutdown.PriorityStorage, func(context.Context) error {
		return store.Close()
	})
	repo := db.NewRepository(store)

	history := db.NewAsyncWriter(repo.HistoryHandler(), historyBufferSize, func(err error) {
		logger.Warn("task history write failed", zap.Error(err))
	})
	history.Start()
	mgr.Register("task history", shutdown.PriorityWorkers, func(context.Context) error {
		if !history.Stop(10 * time.Second) {
			return fmt.Errorf("%d records not written", history.Pending())
		}
		return nil
	})
	repo.StartPruner(mgr.Context(), cfg.HistoryRetentionDays, pruneInterval, func(n int64, err error) {
		if err != nil {
			logger.Warn("task history prune failed", zap.Error(err))
			return
		}
		if n > 0 {
			logger.Info("task history pruned", zap.Int64("rows", n))
		}
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(registry, nil, logger)

	var translator translate.Translator
	if cfg.Translation.Enabled {
		t, err := translate.NewOpenAITranslator(cfg.Translation)
		if err != nil {
			logger.Error("translation is enabled but misconfigured", zap.Error(err))
			return core.ExitCodeConfig
		}
		translator = t
	}
	pipeline, err := prompt.NewPipeline(cfg.Prompt, cfg.Translation.PronounCorrect, translator, logger)
	if err != nil {
		logger.Error("failed to build prompt pipeline", zap.Error(err))
		return core.ExitCodeError
	}

	gate, err := moderation.NewGate(client, cfg.Tagger, logger)
	if err != nil {
		logger.Error("failed to build moderation gate", zap.Error(err))
		return core.ExitCodeConfig
	}

	var ledger billing.Ledger
	if cfg.Billing.Enabled {
		ledger = repo
	}
	accounts, err := billing.NewGate(cfg.Billing, ledger, logger)
	if err != nil {
		logger.Error("failed to build billing gate", zap.Error(err))
		return core.ExitCodeConfig
	}

	ctrl := admission.NewController(cfg.MaxTasks)
	mgr.Register("admission", shutdown.PriorityDrain, func(context.Context) error {
		ctrl.Close()
		if n := ctrl.Active(); n > 0 {
			logger.Info("waiting for running tasks", zap.Int64("active", n))
		}
		return ctrl.Wait(drainTimeout)
	})

	hub := server.NewHub(server.DefaultHubConfig(), logger)
	go hub.Run(mgr.Context())

	orch, err := orchestrator.New(cfg, orchestrator.Deps{
		Pool:       pool,
		Client:     client,
		Admission:  ctrl,
		Prompts:    pipeline,
		Moderation: gate,
		Billing:    accounts,
		Metrics:    collector,
		History:    history,
		Notifier:   hub,
		Logger:     logger,
	})
	if err != nil {
		logger.Error("failed to build orchestrator", zap.Error(err))
		return core.ExitCodeError
	}

	srv, err := server.New(cfg, server.Deps{
		Commands: orch,
		Hub:      hub,
		Accounts: accounts,
		History:  repo,
		Metrics:  collector.Store(),
		Gatherer: registry,
		Logger:   logger,
	})
	if err != nil {
		logger.Error("failed to build HTTP server", zap.Error(err))
		return core.ExitCodeError
	}

	mgr.Start()

	// Run returns after its own graceful Shutdown once the root context is
	// cancelled, so the listener is closed before the drain step runs.
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Run(mgr.Context()) }()

	code := core.ExitCodeSuccess
	select {
	case <-mgr.Context().Done():
		if err := <-serveErr; err != nil {
			logger.Error("HTTP server shutdown failed", zap.Error(err))
		}
	case err := <-serveErr:
		if err != nil {
			logger.Error("HTTP server failed", zap.Error(err))
			code = core.ExitCodeError
		}
		mgr.Trigger("HTTP server stopped")
	}

	if err := mgr.Shutdown(); err != nil {
		logger.Error("shutdown incomplete", zap.Error(err))
		code = core.ExitCodeError
	}
	return code
}
