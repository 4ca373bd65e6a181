// Package main - Entry point for the flexplan sandbox billing server
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
	"go.uber.org/zap"

	httpadapter "flexplan/adapters/http"
	"flexplan/adapters/sandbox"
	"flexplan/internal/config"
	"flexplan/internal/logging"
	"flexplan/internal/metrics"
)

const version = "1.0.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	cfgPath := flag.String("config", config.DefaultPath(), "Config file")
	envFile := flag.String("env", ".env", "Environment file")
	addr := flag.String("addr", "", "Server address (default from billing.base_url)")
	dbPath := flag.String("db", "", "Sandbox database (default from ledger.sandbox_db)")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*cfgPath, *envFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := logging.Initialize(cfg.Logging); err != nil {
		return err
	}
	defer logging.Sync()
	log := logging.Named("server")

	if *dbPath == "" {
		*dbPath = cfg.Ledger.SandboxDB
	}
	store, err := sandbox.Open(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	if *addr == "" {
		*addr = listenAddress(cfg.Billing.BaseURL)
	}
	httpCfg := httpadapter.DefaultConfig()
	httpCfg.Address = *addr
	adapter := httpadapter.New(store, httpCfg,
		httpadapter.WithLogger(log),
		httpadapter.WithMetrics(metrics.Default(), prometheus.DefaultGatherer),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- adapter.Start()
	}()
	log.Info("sandbox billing server started",
		zap.String("version", version),
		zap.String("addr", *addr),
		zap.String("db", *dbPath),
	)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return adapter.Shutdown(shutdownCtx)
}
