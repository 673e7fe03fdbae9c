package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/greenflowstack/greenflow-engine/internal/aggregator"
	"github.com/greenflowstack/greenflow-engine/internal/alerting"
	"github.com/greenflowstack/greenflow-engine/internal/api"
	"github.com/greenflowstack/greenflow-engine/internal/config"
	"github.com/greenflowstack/greenflow-engine/internal/detector"
	"github.com/greenflowstack/greenflow-engine/internal/dispatch"
	"github.com/greenflowstack/greenflow-engine/internal/engine"
	"github.com/greenflowstack/greenflow-engine/internal/ingest"
	"github.com/greenflowstack/greenflow-engine/internal/metrics"
	"github.com/greenflowstack/greenflow-engine/internal/services"
	"github.com/greenflowstack/greenflow-engine/internal/store"
	"github.com/greenflowstack/greenflow-engine/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting greenflow-engine", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	var alertStore store.Store = store.NoopStore{}
	if cfg.Store.Enabled && cfg.Store.Addr != "" {
		valkey, err := store.NewValkeyStore(store.Config{
			Addr:         cfg.Store.Addr,
			Username:     cfg.Store.Username,
			Password:     cfg.Store.Password,
			DB:           cfg.Store.DB,
			DialTimeout:  cfg.Store.DialTimeout,
			ReadTimeout:  cfg.Store.ReadTimeout,
			WriteTimeout: cfg.Store.WriteTimeout,
			MaxRetries:   cfg.Store.MaxRetries,
			TLS:          cfg.Store.TLS,
			AlertLogSize: cfg.Store.AlertLogSize,
			AggregateTTL: cfg.Store.AggregateTTL,
		})
		if err != nil {
			logger.Warn("valkey store unavailable, running in-memory only", slog.Any("error", err))
		} else {
			alertStore = valkey
			defer alertStore.Close()
		}
	}

	hub := dispatch.NewHub(logger, cfg.Dispatch.QueueDepth)
	hub.OnDrop(metrics.IncEventDropped)
	defer hub.Close()

	agg := aggregator.New(logger, aggregator.Options{
		Retention:     cfg.Window.Retention,
		MaxSamples:    cfg.Window.MaxSamples,
		SkewTolerance: cfg.Window.SkewTolerance,
	})
	det := detector.New(detector.Options{
		MinWindow:     cfg.Detector.MinWindow,
		ZThreshold:    cfg.Detector.ZThreshold,
		IQRMultiplier: cfg.Detector.IQRMultiplier,
	})
	alerts := alerting.NewManager(logger, alertStore, hub, alerting.Options{
		AnomalyCooldown:   cfg.Alerting.AnomalyCooldown,
		ThresholdCooldown: cfg.Alerting.ThresholdCooldown,
		BufferCapacity:    cfg.Alerting.BufferCapacity,
		PersistTimeout:    cfg.Alerting.PersistTimeout,
	})
	eng := engine.New(logger, agg, hub, alerts, engine.Options{
		Risk:            engine.NewRiskModel(cfg.Risk.SafeThreshold, cfg.Risk.HighThreshold, cfg.Risk.CriticalThreshold),
		Forecaster:      engine.NewForecaster(cfg.Forecast.Horizon, cfg.Forecast.TrendEpsilon, cfg.Forecast.VarianceScale),
		RefreshInterval: cfg.Risk.RefreshInterval,
	})
	svc := services.NewTelemetryService(logger, agg, det, alerts, eng, hub, alertStore, services.Options{
		PersistTimeout: cfg.Alerting.PersistTimeout,
	})

	server, err := api.NewServer(logger, cfg.Server, svc)
	if err != nil {
		logger.Error("failed to create server", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go eng.Run(ctx)

	if cfg.Simulator.Enabled {
		sim := ingest.NewSimulator(logger, svc, ingest.Options{
			Interval: cfg.Simulator.Interval,
			Cities:   cfg.Simulator.Cities,
		})
		go sim.Run(ctx)
	}

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Let in-flight persistence finish before the store closes.
	svc.Drain()
	logger.Info("greenflow-engine stopped")
}
