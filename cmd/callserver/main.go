package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"mqtt-call/broker"
	"mqtt-call/config"
	"mqtt-call/indicator"
	"mqtt-call/middleware"
	"mqtt-call/registry"
	"mqtt-call/server"
	"mqtt-call/service"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Server.Debug)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	broker.SetPahoLogger(logger, cfg.Server.Debug)
	b := broker.NewPaho(broker.PahoConfig{
		URL:                  cfg.Broker.URL,
		ClientID:             cfg.Broker.ClientID,
		Username:             cfg.Broker.Username,
		Password:             cfg.Broker.Password,
		KeepAlive:            cfg.Broker.KeepAlive,
		ConnectTimeout:       cfg.Broker.ConnectTimeout,
		MaxReconnectInterval: cfg.Broker.MaxReconnectInterval,
		QueueLen:             cfg.Server.QueueLength,
		Debug:                cfg.Server.Debug,
	}, logger)

	services, err := service.FromHandler(newDevice(cfg.Server.Name))
	if err != nil {
		return err
	}

	metrics := server.NewMetrics()
	opts := []server.Option{
		server.WithLogger(logger),
		server.WithIndicator(indicator.New(cfg.Indicator.Path, cfg.Indicator.ActiveLow, logger)),
		server.WithMetrics(metrics),
	}

	if len(cfg.Discovery.Endpoints) > 0 {
		reg, err := registry.NewEtcdRegistry(cfg.Discovery.Endpoints, logger)
		if err != nil {
			return err
		}
		defer reg.Close() //nolint:errcheck
		opts = append(opts, server.WithDiscovery(reg, cfg.Discovery.TTL, cfg.Broker.URL, cfg.Broker.ClientID))
	}

	srv, err := server.New(cfg.Server.Name, b, services, opts...)
	if err != nil {
		return err
	}
	srv.Use(middleware.LoggingMiddleware(logger))
	if cfg.Server.RateLimit.RPS > 0 {
		srv.Use(middleware.RateLimitMiddleware(cfg.Server.RateLimit.RPS, cfg.Server.RateLimit.Burst))
	}
	if cfg.Server.HandlerTimeout > 0 {
		srv.Use(middleware.TimeOutMiddleware(cfg.Server.HandlerTimeout))
	}

	var metricsServer *http.Server
	if cfg.Metrics.Listen != "" {
		promReg := prometheus.NewRegistry()
		promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		if err := metrics.Register(promReg); err != nil {
			return err
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
		metricsServer = &http.Server{Addr: cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics listener failed", zap.Error(err))
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv.Start(ctx)
	logger.Info("call server started",
		zap.String("name", cfg.Server.Name),
		zap.String("topic", srv.Topic()),
		zap.String("broker", cfg.Broker.URL))

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case <-srv.Done():
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = metricsServer.Shutdown(shutdownCtx)
		cancel()
	}
	if err := srv.Shutdown(cfg.Server.ShutdownTimeout); err != nil {
		return err
	}
	return srv.Err()
}
