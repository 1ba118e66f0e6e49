package main

import (
	"context"
	"flag"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"

	"github.com/pliu/etoe/internal/config"
	"github.com/pliu/etoe/internal/handlers"
	"github.com/pliu/etoe/internal/snapshot"
	"github.com/pliu/etoe/internal/store/memstore"
	"github.com/pliu/etoe/internal/store/redisstore"
	"github.com/pliu/etoe/internal/store/sqlstore"
	"github.com/pliu/etoe/internal/ws"
)

var configPath = flag.String("config", "", "path to a YAML config file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "err", err)
		os.Exit(1)
	}
	logger := newLogger(os.Stderr, cfg)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("Relay stopped", "err", err)
		os.Exit(1)
	}
}

func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel()}
	if cfg.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// openSink picks the snapshot backend. The same sink seeds the store at
// start-up and receives maintenance dumps.
func openSink(cfg config.Snapshot) (snapshot.Sink, error) {
	switch cfg.Backend {
	case "file":
		return snapshot.NewFileSink(cfg.Dir), nil
	case "sqlite3", "postgres":
		s, err := sqlstore.New(cfg.Backend, cfg.DSN)
		if err != nil {
			return nil, errors.Wrapf(err, "open %s snapshot store", cfg.Backend)
		}
		return s, nil
	case "redis":
		s, err := redisstore.Dial(cfg.DSN, cfg.Prefix)
		if err != nil {
			return nil, errors.Wrap(err, "open redis snapshot store")
		}
		return s, nil
	default:
		return nil, errors.Errorf("unknown snapshot backend %q", cfg.Backend)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sink, err := openSink(cfg.Snapshot)
	if err != nil {
		return err
	}
	defer sink.Close()

	hub := ws.NewHub(logger)
	go hub.Run(ctx)

	store := memstore.New(hub)
	state, err := sink.Load(ctx)
	if err != nil {
		return errors.Wrap(err, "load snapshot")
	}
	if err := store.Restore(state); err != nil {
		return errors.Wrap(err, "restore snapshot")
	}
	logger.Info("State restored", "backend", cfg.Snapshot.Backend, "users", len(state.Users), "chats", len(state.Chats))

	public := &http.Server{
		Addr: cfg.Addr,
		Handler: handlers.NewRouter(handlers.RouterConfig{
			Store:          store,
			Hub:            hub,
			AllowedOrigins: cfg.AllowedOrigins,
			Logger:         logger,
		}),
	}
	maintenance := &http.Server{
		Addr:    cfg.MaintenanceAddr,
		Handler: handlers.NewMaintenanceRouter(store, sink, logger),
	}

	errc := make(chan error, 2)
	go func() {
		logger.Info("Starting relay", "addr", cfg.Addr, "tls", cfg.TLS.Enabled())
		var err error
		if cfg.TLS.Enabled() {
			err = public.ListenAndServeTLS(cfg.TLS.Cert, cfg.TLS.Key)
		} else {
			err = public.ListenAndServe()
		}
		errc <- errors.Wrap(err, "public listener")
	}()
	if cfg.MaintenanceAddr != "" {
		go func() {
			logger.Info("Starting maintenance listener", "addr", cfg.MaintenanceAddr)
			errc <- errors.Wrap(maintenance.ListenAndServe(), "maintenance listener")
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := public.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Public listener shutdown", "err", err)
	}
	if err := maintenance.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Maintenance listener shutdown", "err", err)
	}
	return nil
}
