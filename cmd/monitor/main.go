package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/procsight/baseline-monitor/internal/infrastructure/cache"
	"github.com/procsight/baseline-monitor/internal/infrastructure/config"
	"github.com/procsight/baseline-monitor/internal/infrastructure/notify"
	"github.com/procsight/baseline-monitor/internal/infrastructure/repository"
	"github.com/procsight/baseline-monitor/internal/infrastructure/telemetry"
	"github.com/procsight/baseline-monitor/internal/metrics"
)

func main() {
	var definitionPath = flag.String("definition", "configs/monitor.yaml", "Path to the monitor definition file")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := telemetry.SetupLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to set up logger: %v", err)
	}

	zapLogger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to set up infrastructure logger: %v", err)
	}
	defer zapLogger.Sync()
	zap.ReplaceGlobals(zapLogger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telCfg := telemetry.DefaultConfig()
	telCfg.ServiceVersion = cfg.Version
	telCfg.Environment = cfg.Environment
	provider, err := telemetry.Setup(ctx, telCfg)
	if err != nil {
		log.Fatalf("Failed to initialize telemetry: %v", err)
	}
	defer func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			logger.Error("telemetry shutdown failed", "error", err)
		}
	}()

	registry, err := metrics.NewRegistry("baseline-monitor")
	if err != nil {
		log.Fatalf("Failed to initialize metrics: %v", err)
	}

	var store *repository.Store
	if cfg.Database.URL != "" {
		store, err = repository.NewStore(ctx, &cfg.Database, zapLogger)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer store.Close()
	} else {
		logger.Warn("no database configured, deviations and alerts are not persisted")
	}

	var summaries *cache.SummaryCache
	if cfg.Redis.URL != "" {
		client, err := cache.NewRedisClient(&cfg.Redis)
		if err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		defer client.Close()
		summaries, err = cache.NewSummaryCache(client, zapLogger)
		if err != nil {
			log.Fatalf("Failed to initialize summary cache: %v", err)
		}
	}

	notifier := notify.NewWebhookNotifier(cfg.Notify.WebhookTimeout, zapLogger)
	runner := NewRunner(cfg, logger, registry, notifier, store, summaries)

	def, err := LoadDefinition(*definitionPath)
	if err != nil {
		log.Fatalf("Failed to load monitor definition: %v", err)
	}
	for _, eng := range def.Engagements {
		bl, err := eng.buildBaseline()
		if err != nil {
			log.Fatalf("Invalid baseline: %v", err)
		}
		jobs, err := eng.buildJobs()
		if err != nil {
			log.Fatalf("Invalid job: %v", err)
		}
		rules := eng.buildRules()
		channels := eng.buildChannels()
		for _, job := range jobs {
			if err := runner.AddJob(job, bl, rules, channels); err != nil {
				log.Fatalf("Failed to activate job %q: %v", job.Name, err)
			}
		}
		if eng.ModelPath != "" {
			runner.WatchModel(eng.EngagementID, eng.ModelPath)
		}
	}

	SetBuildInfo(cfg.Version, cfg.Environment)
	go serveMetrics(cfg.Metrics.ListenAddr, logger)

	logger.Info("baseline monitor started",
		"version", cfg.Version,
		"environment", cfg.Environment,
		"engagements", len(def.Engagements))
	for _, line := range runner.Status() {
		logger.Info("job " + line)
	}

	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("monitoring loop exited", "error", err)
	}
	logger.Info("baseline monitor stopped")
}
