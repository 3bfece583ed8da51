// Package app wires the Konnect server runtime: config, logging, store selection, HTTP routes
// and the live channel.
package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"konnect/cmd/internal/chat"
	chatapi "konnect/cmd/internal/chat/api"
	"konnect/cmd/internal/realtime"
)

// App is the Konnect server runtime: it owns the store, HTTP server wiring and the live hub.
type App struct {
	cfg Config
	log Logger

	store      chat.Store
	persistent bool

	hub *realtime.Hub
	ws  *realtime.WSGateway
	api *chatapi.Handler
}

// New constructs a fully wired App instance from config and logger.
// An unreachable store is fatal.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	st, err := OpenStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	return newApp(cfg, log, st), nil
}

func newApp(cfg Config, log Logger, st chat.Store) *App {
	hub := realtime.NewHub(log)
	notifier := realtime.NewNotifier(hub, cfg.AccountID, log)

	svc := chat.NewService(st, notifier, log, chat.ServiceConfig{AccountID: cfg.AccountID})
	norm := chat.NewNormalizer(st, notifier, log)

	driver := strings.ToLower(strings.TrimSpace(cfg.StoreDriver))

	return &App{
		cfg:        cfg,
		log:        log,
		store:      st,
		persistent: driver != "" && driver != DriverMemory,
		hub:        hub,
		ws:         realtime.NewWSGateway(log, hub, realtime.WSConfigFromEnv()),
		api:        chatapi.NewHandler(log, svc, norm),
	}
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.routes(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	base := runtimeBaseURL(a.cfg.HTTPAddr)
	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"base_url", base,
		"ws_url", wsBaseURL(base)+"/ws",
		"store_driver", a.cfg.StoreDriver,
		"account_id", a.cfg.AccountID,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		_ = a.store.Close()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	if err := a.store.Close(); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}

	a.log.Info("server.stopped", "live_clients", a.hub.Len())
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// runtimeBaseURL turns a listen address into a URL a local client can dial.
// Wildcard binds map to 127.0.0.1.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return "http://" + strings.TrimSpace(addr)
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// wsBaseURL maps an http(s) base URL to its ws(s) equivalent.
func wsBaseURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return "ws://" + base
	}
}
