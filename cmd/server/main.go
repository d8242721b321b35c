// Command server runs the document authentication service.
//
// Configuration is loaded from a YAML file (discovered via -config,
// CARPETA_CONFIG, ./config.yaml, or /etc/carpeta/config.yaml) with
// CARPETA_* environment variable overrides. See pkg/config.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/edwaraco/carpetaCiudadana/pkg/auth"
	"github.com/edwaraco/carpetaCiudadana/pkg/breaker"
	amqpbroker "github.com/edwaraco/carpetaCiudadana/pkg/broker/amqp"
	"github.com/edwaraco/carpetaCiudadana/pkg/config"
	"github.com/edwaraco/carpetaCiudadana/pkg/engine"
	"github.com/edwaraco/carpetaCiudadana/pkg/gateway"
	"github.com/edwaraco/carpetaCiudadana/pkg/intake"
	"github.com/edwaraco/carpetaCiudadana/pkg/observability"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Connect to the broker and declare both queues up front so a
	// misconfigured broker fails the process instead of the first request.
	brk, err := amqpbroker.Dial(amqpbroker.Config{
		URL:          cfg.Broker.URL,
		RequestQueue: cfg.Broker.RequestQueue,
		OutcomeQueue: cfg.Broker.OutcomeQueue,
		Prefetch:     cfg.Broker.Prefetch,
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("connecting to broker: %w", err)
	}
	defer brk.Close()

	// One independent breaker per dependency. The gauge callback keeps
	// carpeta_breaker_state current without polling.
	onStateChange := func(name string, state breaker.State) {
		observability.BreakerState.WithLabelValues(name).Set(float64(state))
	}
	newBreaker := func(name string) *breaker.Breaker {
		observability.BreakerState.WithLabelValues(name).Set(float64(breaker.Closed))
		return breaker.New(breaker.Config{
			Name:             name,
			FailureThreshold: cfg.Breaker.FailureThreshold,
			Timeout:          cfg.Breaker.Timeout,
			OnStateChange:    onStateChange,
			Logger:           logger,
		})
	}

	gw := gateway.New(gateway.Config{
		FolderServiceURL: cfg.Services.FolderServiceURL,
		AuthorityURL:     cfg.Services.AuthorityURL,
		HealthTimeout:    cfg.Services.HealthTimeout,
		CallTimeout:      cfg.Services.CallTimeout,
		Logger:           logger,
	}, newBreaker(gateway.DependencyFolderService), newBreaker(gateway.DependencyAuthority))

	extractor := auth.New(auth.Config{
		Secret: cfg.JWT.Secret,
		Logger: logger,
	})

	eng := engine.New(gw, brk, extractor, engine.Config{Logger: logger})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start the request consumer.
	consumerErr := make(chan error, 1)
	go func() {
		logger.Info("consumer starting",
			"request_queue", cfg.Broker.RequestQueue,
			"outcome_queue", cfg.Broker.OutcomeQueue,
			"prefetch", cfg.Broker.Prefetch)
		if err := brk.Start(ctx, eng.Handler()); err != nil {
			consumerErr <- err
		}
	}()

	// Build the intake HTTP mux.
	handler := intake.New(brk, extractor, intake.Config{Logger: logger})

	mux := http.NewServeMux()
	mux.Handle("/api/v1/", handler)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	if cfg.Observability.Metrics.Enabled {
		mux.Handle("GET "+cfg.Observability.Metrics.Path, promhttp.Handler())
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			"port", cfg.Server.Port,
			"folder_service", cfg.Services.FolderServiceURL,
			"authority", cfg.Services.AuthorityURL)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-serverErr:
		return err
	case err := <-consumerErr:
		return fmt.Errorf("consumer failed: %w", err)
	}
}
