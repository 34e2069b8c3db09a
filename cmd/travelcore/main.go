package main

import (
	"context"
	"errors"
	"fmt"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yourorg/travelcore/internal/config"
	"github.com/yourorg/travelcore/internal/platform/logging"
	"github.com/yourorg/travelcore/internal/platform/tracing"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		stdlog.Fatalf("travelcore: %v", err)
	}
}

func run() error {
	cfg := config.Load()
	flags := pflag.NewFlagSet("travelcore", pflag.ContinueOnError)
	flags.StringVar(&cfg.HTTPAddr, "addr", cfg.HTTPAddr, "HTTP listen address")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	flags.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "also write JSON logs to this file")
	flags.BoolVar(&cfg.LogDevelopment, "dev", cfg.LogDevelopment, "human-readable console logs")
	flags.StringVar(&cfg.SQLitePath, "sqlite", cfg.SQLitePath, "SQLite file for bookings (empty keeps them in memory)")
	flags.StringVar(&cfg.RedisAddr, "redis", cfg.RedisAddr, "Redis address for shared inventory stock")
	flags.StringSliceVar(&cfg.KafkaBrokers, "kafka-brokers", cfg.KafkaBrokers, "Kafka brokers receiving domain events")
	flags.StringVar(&cfg.KafkaTopic, "kafka-topic", cfg.KafkaTopic, "Kafka topic for domain events")
	flags.StringVar(&cfg.OTLPEndpoint, "otlp-endpoint", cfg.OTLPEndpoint, "OTLP/HTTP collector host:port")
	flags.Float64Var(&cfg.ProviderFailureRate, "provider-failure-rate", cfg.ProviderFailureRate, "simulated booking provider failure rate")
	flags.Float64Var(&cfg.EmailFailureRate, "email-failure-rate", cfg.EmailFailureRate, "simulated email failure rate")
	flags.BoolVar(&cfg.SeedDemoData, "seed", cfg.SeedDemoData, "seed demo users, keys and a policy")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// amounts go out as JSON numbers
	decimal.MarshalJSONWithoutQuotes = true

	logger, closeLog, err := logging.New(logging.Config{
		Development: cfg.LogDevelopment,
		Level:       cfg.LogLevel,
		File:        cfg.LogFile,
	})
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = closeLog() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_, shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		ServiceName:    "travelcore",
		ServiceVersion: version,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Insecure:       cfg.OTLPInsecure,
		SampleRatio:    cfg.TraceSample,
	}, logger)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}

	application, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           application.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// the bus outlives the server so events published by in-flight requests
	// during Shutdown are still delivered
	busCtx, stopBus := context.WithCancel(context.Background())
	defer stopBus()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return application.bus.Run(busCtx)
	})
	g.Go(func() error {
		logger.Info("travelcore api listening", zap.String("addr", cfg.HTTPAddr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		defer stopBus()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	runErr := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	closeErr := multierr.Combine(
		application.Close(shutdownCtx),
		shutdownTracing(shutdownCtx),
	)
	if closeErr != nil {
		logger.Error("shutdown", zap.Error(closeErr))
	}
	logger.Info("travelcore stopped")
	return multierr.Append(runErr, closeErr)
}
