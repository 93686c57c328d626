// Package main provides the entry point for the CEREBRO server.
// CEREBRO triages URLs and emails for phishing by fusing threat intelligence,
// live forensics and an ML classifier.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"maps"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Jaidealistic/CEREBRO/internal/api"
	"github.com/Jaidealistic/CEREBRO/internal/api/gateway"
	"github.com/Jaidealistic/CEREBRO/internal/classifier"
	"github.com/Jaidealistic/CEREBRO/internal/config"
	"github.com/Jaidealistic/CEREBRO/internal/forensics"
	"github.com/Jaidealistic/CEREBRO/internal/incident"
	"github.com/Jaidealistic/CEREBRO/internal/observability"
	"github.com/Jaidealistic/CEREBRO/internal/report"
	"github.com/Jaidealistic/CEREBRO/internal/threatfeed"
	"github.com/Jaidealistic/CEREBRO/internal/verdict"
)

// Version information (injected at build time via ldflags)
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("CEREBRO %s (commit: %s, built: %s)\n", Version, GitCommit, BuildTime)
		os.Exit(0)
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "cerebro: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, loaded, err := config.LoadOrDefault(configPath)
	if err != nil {
		return err
	}

	tel, err := observability.New(observability.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: Version,
		Environment:    cfg.Telemetry.Environment,
		LogLevel:       cfg.Telemetry.LogLevel,
		LogFormat:      cfg.Telemetry.LogFormat,
		TracingEnabled: cfg.Telemetry.TracingEnabled,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
		MetricsEnabled: cfg.Telemetry.MetricsEnabled,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	logger := tel.Logger()
	metrics := tel.Metrics()

	logger.Info("starting CEREBRO",
		zap.String("version", Version),
		zap.String("commit", GitCommit),
		zap.String("config", configPath),
		zap.Bool("config_loaded", loaded))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Threat feed
	feed := threatfeed.NewStore(threatfeed.Options{
		Name:         cfg.Feed.Name,
		URL:          cfg.Feed.URL,
		CachePath:    cfg.Feed.CachePath,
		FetchTimeout: cfg.Feed.FetchTimeout,
		MaxSize:      cfg.Feed.MaxSize,
		WriteCache:   cfg.Feed.WriteCache,
	}, logger, metrics)
	tel.RegisterFeedAge(func() time.Time { return feed.Snapshot().LoadedAt() })
	syncer := threatfeed.NewSyncer(feed, cfg.Feed.ReloadSchedule, logger)
	if err := syncer.Start(ctx); err != nil {
		return err
	}

	// Verdict engine
	prober := forensics.NewProber(forensics.Options{
		Resolver:   cfg.Forensics.DNSResolver,
		DNSTimeout: cfg.Forensics.DNSTimeout,
		TLSTimeout: cfg.Forensics.TLSTimeout,
		TLSPort:    cfg.Forensics.TLSPort,
	}, logger, metrics)
	assessor := verdict.NewAssessor(verdict.DefaultChecks(feed, feed.Name()), prober, logger, metrics)

	// Classifier
	urlModel, err := classifier.NewHTTPClient(cfg.Classifier.URLEndpoint, cfg.Classifier.APIKeyEnv, cfg.Classifier.Timeout, classifier.URLLabel)
	if err != nil {
		return fmt.Errorf("failed to create URL classifier: %w", err)
	}
	emailModel, err := classifier.NewHTTPClient(cfg.Classifier.EmailEndpoint, cfg.Classifier.APIKeyEnv, cfg.Classifier.Timeout, classifier.EmailLabel)
	if err != nil {
		return fmt.Errorf("failed to create email classifier: %w", err)
	}

	// Redis-backed incident log and rate limiting
	var (
		incidents incident.Store = incident.NewMemoryStore(int(cfg.Incidents.MaxEntries))
		rateLimit func(http.Handler) http.Handler
		health    = map[string]func(context.Context) error{
			"url_model":   urlModel.HealthCheck,
			"email_model": emailModel.HealthCheck,
		}
	)
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password(),
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable at startup", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}

		store := incident.NewRedisStore(rdb, cfg.Incidents.Key, cfg.Incidents.MaxEntries, logger)
		incidents = store
		rateLimit = gateway.NewRateLimiter(rdb, cfg.RateLimit, logger, metrics).Middleware
		health["redis"] = store.Ping
	} else {
		logger.Info("redis disabled, incidents kept in memory and rate limiting off")
	}

	// Report sinks
	var (
		forwarders []report.Forwarder
		hec        *report.HECSender
	)
	if cfg.Reports.HEC.Enabled {
		hec, err = report.NewHECSender(cfg.Reports.HEC)
		if err != nil {
			return fmt.Errorf("failed to create HEC sender: %w", err)
		}
		forwarders = append(forwarders, hec)
		health[hec.Name()] = hec.HealthCheck
	}
	notifier := report.NewNotifier(
		report.NewGenerator(""),
		report.NewFileSink(cfg.Reports.OutputDir),
		forwarders, logger, metrics)

	deps := api.Deps{
		Assessor:   assessor,
		URLModel:   urlModel,
		EmailModel: emailModel,
		Incidents:  incidents,
		Notifier:   notifier,
		Feed:       feed,
		RateLimit:  rateLimit,
		Readiness:  readinessChecks(feed, health),
	}
	if cfg.Telemetry.MetricsEnabled {
		deps.Metrics = tel.MetricsHandler()
	}
	srv := api.NewServer(deps, Version, cfg.Server.RequestTimeout, logger, metrics)

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      srv.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case serveErr = <-errCh:
		if serveErr != nil {
			logger.Error("server error", zap.Error(serveErr))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	select {
	case <-syncer.Stop().Done():
	case <-shutdownCtx.Done():
		logger.Warn("feed reload still running at shutdown")
	}

	if hec != nil {
		stats := hec.Stats()
		logger.Info("hec forwarder totals",
			zap.Int64("events_sent", stats.EventsSent),
			zap.Int64("events_failed", stats.EventsFailed),
			zap.Int64("bytes_sent", stats.BytesSent))
	}

	logger.Info("server stopped")
	if err := tel.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "cerebro: telemetry shutdown: %v\n", err)
	}
	return serveErr
}

// readinessChecks lists what /ready verifies: the feed has loaded at least
// once, and each named collaborator answers its health check.
func readinessChecks(feed *threatfeed.Store, health map[string]func(context.Context) error) []api.ReadinessCheck {
	checks := []api.ReadinessCheck{{
		Name: "threat_feed",
		Check: func(context.Context) error {
			if feed.Snapshot().LoadedAt().IsZero() {
				return errors.New("feed not loaded")
			}
			return nil
		},
	}}
	for _, name := range slices.Sorted(maps.Keys(health)) {
		checks = append(checks, api.ReadinessCheck{Name: name, Check: health[name]})
	}
	return checks
}
