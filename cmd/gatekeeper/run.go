package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"clearpath-hq/gatekeeper/pkg/authz"
	"clearpath-hq/gatekeeper/pkg/cli"
	"clearpath-hq/gatekeeper/pkg/config"
	"clearpath-hq/gatekeeper/pkg/control"
	"clearpath-hq/gatekeeper/pkg/events"
	"clearpath-hq/gatekeeper/pkg/rule"
	"clearpath-hq/gatekeeper/pkg/rule/store"
	"clearpath-hq/gatekeeper/pkg/telemetry/health"
	"clearpath-hq/gatekeeper/pkg/telemetry/logging"
	"clearpath-hq/gatekeeper/pkg/telemetry/metrics"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	mode          string
	noWatch       bool
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the gatekeeper daemon",
	Long: `Start the gatekeeper daemon with the specified configuration.

The daemon opens the rule database, builds the authorization engine and
serves the loopback control API that the enforcement shim and the other
gatekeeper subcommands talk to.

Examples:
  # Start with default config
  gatekeeper run

  # Start with custom config
  gatekeeper run --config /etc/gatekeeper/config.yaml

  # Start in lockdown mode regardless of the config file
  gatekeeper run --mode lockdown

  # Validate config without starting the daemon
  gatekeeper run --dry-run`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override control API listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().StringVar(&runFlags.mode, "mode", "", "override operating mode (monitor, lockdown, standalone)")
	runCmd.Flags().BoolVar(&runFlags.noWatch, "no-watch", false, "disable configuration hot-reload")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting the daemon")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
	}

	// Apply flag overrides
	if runFlags.listenAddress != "" {
		cfg.Control.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}
	if runFlags.mode != "" {
		cfg.Engine.Mode = runFlags.mode
	}
	if err := config.Validate(cfg); err != nil {
		return cli.NewConfigError("", err.Error())
	}

	logger, err := logging.Setup(logging.Config{
		Level:     cfg.Telemetry.Logging.Level,
		Format:    cfg.Telemetry.Logging.Format,
		AddSource: cfg.Telemetry.Logging.AddSource,
	})
	if err != nil {
		return cli.NewConfigError("telemetry.logging", err.Error())
	}

	if runFlags.dryRun {
		fmt.Println("✓ Configuration valid")
		return nil
	}

	fmt.Printf("Gatekeeper v%s\n", Version)
	fmt.Printf("Loading configuration from: %s\n", cfgFile)
	fmt.Println("✓ Configuration loaded")

	// Engine configuration snapshots come from the watcher when hot-reload
	// is on, so mode changes apply without a restart.
	snapshot := staticSnapshot(cfg)
	var watcher *config.Watcher
	if !runFlags.noWatch {
		watcher, err = config.NewWatcher(cfgFile, logger.With("component", "config.watcher"))
		if err != nil {
			return cli.NewConfigError("", fmt.Sprintf("failed to create config watcher: %v", err))
		}
		snapshot = watcher.EngineSnapshot
	}

	// Rule store
	slog.Info("opening rule database", "path", cfg.Rules.DBPath)
	ruleStore, err := store.NewSQLiteStore(&store.SQLiteConfig{
		Path:        cfg.Rules.DBPath,
		BusyTimeout: cfg.Rules.BusyTimeout,
		WALMode:     cfg.Rules.WALMode,
	})
	if err != nil {
		return fmt.Errorf("failed to open rule database: %w", err)
	}
	defer ruleStore.Close()
	counts := ruleStore.Counts()
	fmt.Printf("✓ Rule database opened (%d rules)\n", totalRules(counts))

	// Authorization engine
	cache := authz.NewCache(logger.With("component", "authz.cache"))
	authz.BindStoreInvalidation(ruleStore, cache, logger.With("component", "authz.invalidation"))

	var tracker *authz.Tracker
	var transitive authz.TransitiveChecker
	if cfg.Engine.EnableTransitiveAllow {
		tracker = authz.NewTracker(ruleStore, cache, logger.With("component", "authz.tracker"))
		transitive = tracker
	}

	evaluator, err := authz.NewEvaluator(ruleStore, transitive, logger.With("component", "authz.evaluator"))
	if err != nil {
		return fmt.Errorf("failed to create evaluator: %w", err)
	}

	controllerOpts := []authz.ControllerOption{}
	if tracker != nil {
		controllerOpts = append(controllerOpts, authz.WithTracker(tracker))
	}

	// Decision event log
	var eventStore *events.Store
	var recorder *events.Recorder
	var pruner *events.Pruner
	if cfg.Events.Enabled {
		slog.Info("opening event database", "path", cfg.Events.DBPath)
		eventStore, err = events.NewStore(&events.StoreConfig{
			Path: cfg.Events.DBPath,
		})
		if err != nil {
			return fmt.Errorf("failed to open event database: %w", err)
		}
		defer eventStore.Close()

		recorder = events.NewRecorder(eventStore, &events.RecorderConfig{
			Enabled:            true,
			RecordAllDecisions: cfg.Events.RecordAllDecisions,
			AsyncBuffer:        cfg.Events.AsyncBuffer,
		})
		defer recorder.Close()
		controllerOpts = append(controllerOpts, authz.WithRecorder(recorder))

		if cfg.Events.RetentionDays > 0 && cfg.Events.PruneSchedule != "" {
			pruner = events.NewPruner(eventStore, &events.RetentionConfig{
				RetentionDays: cfg.Events.RetentionDays,
				Schedule:      cfg.Events.PruneSchedule,
			})
			if err := pruner.Start(context.Background()); err != nil {
				slog.Warn("failed to start event retention scheduler", "error", err)
			} else {
				defer pruner.Stop()
			}
		}
		fmt.Println("✓ Event log initialized")
	}

	// Metrics
	var metricsHandler http.Handler
	if cfg.Telemetry.Metrics.Enabled {
		registry := prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector())
		registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		mcfg := metrics.Config{
			Namespace: cfg.Telemetry.Metrics.Namespace,
			Subsystem: cfg.Telemetry.Metrics.Subsystem,
		}
		authzMetrics := metrics.NewAuthzMetrics(mcfg, registry)
		metrics.RegisterEngineGauges(mcfg, registry, cache.Size, func() int64 {
			return totalRules(ruleStore.Counts())
		})
		controllerOpts = append(controllerOpts, authz.WithObserver(authzMetrics))
		metricsHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	}

	controller := authz.NewController(cache, evaluator, snapshot,
		logger.With("component", "authz.controller"), controllerOpts...)

	// Health checks
	checker := health.New(0)
	checker.Register("rule_store", ruleStore.Ping)
	if eventStore != nil {
		checker.Register("event_store", eventStore.Ping)
	}

	// Control server
	srv := control.NewServer(cfg.Control, control.Dependencies{
		Controller: controller,
		Tracker:    tracker,
		Cache:      cache,
		Rules:      ruleStore,
		Events:     eventStore,
		Checker:    checker,
		Metrics:    metricsHandler,
		Snapshot:   snapshot,
		WatchMode:  watcher != nil,
		Version:    Version,
		Logger:     logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if watcher != nil {
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("failed to start config watcher: %w", err)
		}
		defer watcher.Stop()
	}

	errChan := make(chan error, 1)
	go func() {
		if err := srv.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	fmt.Printf("✓ Control API listening on %s\n", cfg.Control.ListenAddress)
	fmt.Printf("✓ Operating mode: %s\n", cfg.Engine.Mode)
	fmt.Println("\nPress Ctrl+C to stop")

	sigChan := cli.WaitForShutdown()

	select {
	case err := <-errChan:
		return cli.NewCommandError("run", err)
	case sig := <-sigChan:
		fmt.Printf("\nReceived signal %s, shutting down gracefully...\n", sig)
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Control.ShutdownTimeout)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown failed", "error", err)
			return cli.NewCommandError("run", err)
		}

		fmt.Println("✓ Daemon stopped")
		return nil
	}
}

// staticSnapshot freezes the engine configuration for --no-watch runs.
func staticSnapshot(cfg *config.Config) func() authz.Config {
	frozen := authz.Config{
		Mode:                  rule.ClientMode(cfg.Engine.Mode),
		WaiterTimeout:         cfg.Engine.WaiterTimeout,
		AllowPlatformBinaries: cfg.Engine.AllowPlatformBinaries,
		CELPrecedence:         rule.CELPrecedence(cfg.Engine.CELPrecedence),
	}
	return func() authz.Config { return frozen }
}

func totalRules(c store.Counts) int64 {
	return c.Binary + c.Certificate + c.Compiler + c.Transitive +
		c.TeamID + c.SigningID + c.CDHash + c.CEL
}
