// Package main our entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/multierr"

	"github.com/johndosdos/messenger/internal/auth"
	"github.com/johndosdos/messenger/internal/broker"
	"github.com/johndosdos/messenger/internal/broker/worker"
	"github.com/johndosdos/messenger/internal/config"
	"github.com/johndosdos/messenger/internal/handler"
	ratelimiter "github.com/johndosdos/messenger/internal/rate_limiter"
	"github.com/johndosdos/messenger/internal/store"
	ws "github.com/johndosdos/messenger/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	log := cfg.Logger(os.Stdout)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server stopped with errors", "error", err)
		os.Exit(1)
	}
	log.Info("Server stopped")
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("Starting application...")

	// Init store
	log.Info("Initializing message store...", "driver", cfg.StoreDriver)
	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}

	// Init identity
	var resolver auth.Resolver = auth.NewClient(cfg.IdentityURL, cfg.IdentityTimeout, log)
	if cfg.JWTSecret != "" {
		resolver = auth.NewTokenResolver(resolver, cfg.JWTSecret)
	}

	hub := ws.NewHub(resolver, st, ws.Options{
		SendBufferSize: cfg.SendBufferSize,
		WriteTimeout:   cfg.WriteTimeout,
		MessageRate:    cfg.MessageRate,
		MessageWindow:  cfg.MessageWindow,
		Sanitize:       cfg.SanitizeMessages,
	}, log)

	// Init NATS
	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		log.Info("Initializing NATS connection...")
		natsConn, err = connectRelay(ctx, cfg, hub, log)
		if err != nil {
			return multierr.Append(err, st.Close())
		}
	}

	limiter := ratelimiter.NewIPRateLimiter(cfg.HandshakeRate, cfg.HandshakeWindow,
		ratelimiter.CleanupOpts{TTL: 10 * cfg.HandshakeWindow, Interval: cfg.HandshakeWindow}, log)
	defer limiter.Stop()

	server := &http.Server{
		Addr: cfg.Addr(),
		Handler: handler.NewRouter(hub, handler.RouterOpts{
			ReadLimit: cfg.ReadLimit,
			Limiter:   limiter,
		}, log),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       30 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("Server starting", "addr", cfg.Addr())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var errs error
	select {
	case <-ctx.Done():
		log.Info("Shutdown signal received; shutting down...")
	case err := <-serverErr:
		errs = multierr.Append(errs, err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	errs = multierr.Append(errs, server.Shutdown(shutdownCtx))

	// Hijacked websocket connections are not tracked by the server.
	errs = multierr.Append(errs, hub.Shutdown(shutdownCtx))

	// Drain NATS connection.
	if natsConn != nil {
		errs = multierr.Append(errs, natsConn.Drain())
	}

	errs = multierr.Append(errs, st.Close())

	return errs
}

func openStore(ctx context.Context, cfg config.Config, log *slog.Logger) (store.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		return store.OpenPostgres(ctx, cfg.DBURL)
	case config.DriverBadger:
		return store.OpenBadger(cfg.BadgerPath, log)
	default:
		return store.NewMemoryStore(), nil
	}
}

func connectRelay(ctx context.Context, cfg config.Config, hub *ws.Hub, log *slog.Logger) (*nats.Conn, error) {
	var natsCredentials []nats.Option

	if cfg.NATSCred != "" {
		natsCredentials = append(natsCredentials, nats.UserCredentials(cfg.NATSCred))
	} else if cfg.NATSUser != "" && cfg.NATSPassword != "" {
		natsCredentials = append(natsCredentials, nats.UserInfo(cfg.NATSUser, cfg.NATSPassword))
	}

	natsCredentials = append(natsCredentials, nats.Timeout(5*time.Second))

	conn, err := nats.Connect(cfg.NATSURL, natsCredentials...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create jetstream instance: %w", err)
	}

	stream, err := broker.EnsureStream(ctx, js)
	if err != nil {
		conn.Close()
		return nil, err
	}

	nodeID := cfg.NodeID
	if nodeID == "" {
		nodeID = uuid.NewString()
	}

	if err := broker.Subscriber(ctx, stream, worker.LocalDelivery(hub, nodeID, log), log); err != nil {
		conn.Close()
		return nil, err
	}
	hub.SetRelay(broker.NewPublisher(js, nodeID))

	log.Info("NATS relay ready", "node_id", nodeID, "subject", broker.SubjectDirect)
	return conn, nil
}
