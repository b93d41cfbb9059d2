/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the compliance engine server. Loads
  configuration, wires dependencies and handles graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (config.yaml and environment)
  2. Build the logger
  3. Open the SQLite store and run migrations
  4. Build the settlement, directory and mail clients
  5. Build intake, dispatcher and query services on one lock table
  6. Start the stalled request monitor
  7. Serve HTTP until SIGINT/SIGTERM

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the monitor
  2. Stop accepting new connections
  3. Wait for active requests to complete (server.shutdown_timeout)
  4. Close the database

ENVIRONMENT:
  CONFIG_PATH selects the YAML file. Every setting can be overridden by
  its environment variable; see config/config.go.

SEE ALSO:
  - config/config.go: settings
  - api/server.go: router configuration
  - store/sqlite/sqlite.go: database implementation
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/warp/compliance-engine/api"
	"github.com/warp/compliance-engine/compliance"
	"github.com/warp/compliance-engine/config"
	"github.com/warp/compliance-engine/directory"
	"github.com/warp/compliance-engine/intake"
	"github.com/warp/compliance-engine/ledger"
	"github.com/warp/compliance-engine/notify"
	"github.com/warp/compliance-engine/settlement"
	"github.com/warp/compliance-engine/store/sqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "compliance-engine: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := newLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := sqlite.New(ctx, cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	var mailer notify.Mailer = notify.LogMailer{Log: log}
	if cfg.Mail.Enabled {
		mailer = notify.NewSMTPMailer(cfg.Mail.Host, cfg.Mail.Port, cfg.Mail.From, cfg.Mail.Username, cfg.Mail.Password)
	}
	notifier := notify.NewService(log, store, mailer, ledger.SystemClock)

	settler := settlement.NewClient(cfg.Settlement.BaseURL, cfg.Settlement.APIKey,
		settlement.WithTimeout(cfg.Settlement.Timeout))
	dir := directory.NewClient(cfg.Directory.BaseURL, cfg.Directory.APIKey, cfg.Directory.Timeout)

	// Intake and review serialize on the same entity locks.
	locks := ledger.NewLocks()
	in := intake.NewService(log, store, dir, notifier, intake.WithLocks(locks))
	dispatcher := compliance.NewDispatcher(log, store, settler, dir, notifier,
		compliance.WithLocks(locks),
		compliance.WithSettlementTimeout(cfg.Settlement.Timeout))
	queries := compliance.NewService(store)

	if cfg.Monitor.Enabled {
		monitor := compliance.NewStalledMonitor(log, store, notifier, cfg.Monitor.CheckInterval)
		monitor.Start()
		defer monitor.Stop()
	}

	handler := api.NewHandler(log, in, dispatcher, queries, store)
	router := api.NewRouter(handler, api.NewTokenVerifier(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer), store, api.RouterConfig{
		AllowedOrigins:   cfg.CORS.Origins(),
		AllowedMethods:   cfg.CORS.Methods(),
		AllowedHeaders:   cfg.CORS.Headers(),
		AllowCredentials: cfg.CORS.AllowCredentials,
		MaxAge:           cfg.CORS.MaxAge,
	})

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("server starting", "addr", server.Addr, "database", cfg.Database.Path)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("server stopped")
	return nil
}
