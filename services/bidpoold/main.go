package bidpoold

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"coharvest/config"
	"coharvest/core/decimal"
	"coharvest/core/events"
	"coharvest/native/bidpool"
	"coharvest/observability/logging"
	"coharvest/observability/metrics"
	telemetry "coharvest/observability/otel"
	"coharvest/services/bidpoold/export"
	"coharvest/services/bidpoold/outbox"
	"coharvest/services/bidpoold/scheduler"
	"coharvest/services/bidpoold/server"
	"coharvest/storage"
)

// Version is stamped at build time.
var Version = "dev"

// Main initialises and runs the bid pool daemon.
func Main() error {
	var cfgPath, paramsPath string
	flag.StringVar(&cfgPath, "config", "services/bidpoold/config.yaml", "path to bidpoold configuration")
	flag.StringVar(&paramsPath, "params", "", "path to the auction parameters file (overrides the config)")
	flag.Parse()

	// A missing .env is normal outside development.
	_ = godotenv.Load()

	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if paramsPath != "" {
		cfg.ParamsPath = paramsPath
	}

	logger, logCloser := logging.SetupWithOptions("bidpoold", cfg.Environment, logging.Options{
		Level:      logging.ParseLevel(cfg.Log.Level),
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	defer logCloser.Close()

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "bidpoold",
		Environment: cfg.Environment,
		Version:     Version,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	db, err := storage.Open(cfg.Storage.Backend, cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	store := storage.NewStore(db)
	defer store.Close()

	hub := events.NewHub(256)
	engine := bidpool.NewEngine(store)
	engine.SetEmitter(events.Multi{hub, metrics.BidPool()})

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := ensureInitialised(stopCtx, engine, cfg.ParamsPath, logger); err != nil {
		return err
	}

	outboxDB, err := outbox.Open(cfg.Outbox.DSN)
	if err != nil {
		return err
	}
	instructions, err := outbox.NewStore(outboxDB)
	if err != nil {
		return err
	}
	defer instructions.Close()

	relay, err := outbox.NewRelay(engine, instructions, logger.With("component", "outbox-relay"))
	if err != nil {
		return err
	}
	if n, err := relay.Drain(stopCtx); err != nil {
		logger.Error("outbox relay failed", "relayed", n, "error", err)
	} else if n > 0 {
		logger.Info("outbox relay recovered instructions", "relayed", n)
	}
	relayCtx, stopRelay := context.WithCancel(stopCtx)
	defer stopRelay()
	go relay.Run(relayCtx, cfg.Outbox.RelayInterval.Duration)

	exporter, err := export.New(engine, cfg.Export.Directory)
	if err != nil {
		return err
	}

	if cfg.Scheduler.Enabled {
		budget, err := decimal.ParseAmount(cfg.Scheduler.Budget)
		if err != nil {
			return fmt.Errorf("scheduler budget: %w", err)
		}
		rounds, err := scheduler.New(scheduler.Config{
			Engine:   engine,
			Schedule: cfg.Scheduler.Schedule,
			Budget:   budget,
			Logger:   logger.With("component", "scheduler"),
		})
		if err != nil {
			return err
		}
		rounds.Start()
		defer func() { <-rounds.Stop().Done() }()
	}

	api := server.New(server.Config{
		Engine:   engine,
		Hub:      hub,
		Outbox:   instructions,
		Exporter: exporter,
		Auth: server.AuthConfig{
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			ClockSkew:  cfg.Auth.ClockSkew.Duration,
		},
		RateLimit: server.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		},
		HTTPMetrics: metrics.HTTP(),
		BidMetrics:  metrics.BidPool(),
		Logger:      logger.With("component", "http"),
	})
	// No write timeout: /v1/events holds connections open.
	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		logger.Info("bidpoold listening", "addr", cfg.ListenAddress, "storage", cfg.Storage.Backend)
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case <-stopCtx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout.Duration)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
			return err
		}
		return nil
	case err := <-errs:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// ensureInitialised stores the first config snapshot from the parameters
// file when the store is empty.
func ensureInitialised(ctx context.Context, engine *bidpool.Engine, paramsPath string, logger *slog.Logger) error {
	current, err := engine.Config(ctx)
	if err == nil {
		logger.Info("engine config loaded", "version", current.Version, "fingerprint", current.Fingerprint())
		return nil
	}
	if !errors.Is(err, bidpool.ErrNotInitialised) {
		return fmt.Errorf("read engine config: %w", err)
	}
	params, err := config.Load(paramsPath)
	if err != nil {
		return fmt.Errorf("load params: %w", err)
	}
	engineCfg, err := params.EngineConfig()
	if err != nil {
		return fmt.Errorf("params %s: %w", paramsPath, err)
	}
	if err := engine.Init(ctx, engineCfg); err != nil {
		return fmt.Errorf("init engine: %w", err)
	}
	logger.Info("engine initialised", "params", paramsPath, "owner", engineCfg.Owner.String())
	return nil
}
