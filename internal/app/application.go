// Package app assembles the socket server, run loop, transport, journal and
// admin API into one process-level Application.
package app

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"roomcast/internal/api"
	"roomcast/internal/config"
	"roomcast/internal/hub"
	"roomcast/internal/journal"
	"roomcast/internal/socket"
	"roomcast/internal/transport"
	"roomcast/pkg/types"
)

// Options selects the listening endpoint. Exactly one of Port or Server must
// be set. With Server, Path names the only request path that is upgraded.
type Options struct {
	Port   int
	Host   string
	Server *http.Server
	Path   string
}

func (o Options) validate() error {
	hasPort := o.Port != 0
	hasServer := o.Server != nil
	switch {
	case hasPort && hasServer:
		return types.NewConfigurationError("either a port or a server may be given, not both")
	case !hasPort && !hasServer:
		return types.NewConfigurationError("either a port or a server must be given")
	case hasPort && (o.Port < 0 || o.Port > 65535):
		return types.NewConfigurationError("port %d is out of range", o.Port)
	case hasServer && !strings.HasPrefix(o.Path, "/"):
		return types.NewConfigurationError("a server requires a path starting with /, got %q", o.Path)
	case o.Path != "" && !strings.HasPrefix(o.Path, "/"):
		return types.NewConfigurationError("path must start with /, got %q", o.Path)
	}
	return nil
}

// Application owns every runtime component.
type Application struct {
	opts   Options
	config *config.Config
	logger *zap.Logger

	server   *socket.Server
	hub      *hub.Hub
	acceptor *transport.Acceptor
	journal  *journal.Journal
	admin    *api.Server

	httpServer *http.Server
	listener   net.Listener

	mu      sync.Mutex
	started bool
}

// New validates opts before anything else and then builds the components.
// A ConfigurationError is returned for invalid opts; no socket, file or
// goroutine has been created at that point.
func New(opts Options, cfg *config.Config, logger *zap.Logger, socketOpts ...socket.Option) (*Application, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	app := &Application{
		opts:   opts,
		config: cfg,
		logger: logger.With(zap.String("component", "app")),
	}

	base := []socket.Option{socket.WithLogger(logger)}
	if cfg.Journal.Enabled {
		j, err := journal.Open(journalConfig(cfg.Journal), logger)
		if err != nil {
			return nil, errors.Wrap(err, "open journal")
		}
		app.journal = j
		base = append(base, socket.WithJournal(j))
	}

	app.server = socket.NewServer(append(base, socketOpts...)...)
	app.hub = hub.NewHub(app.server, cfg.Hub.QueueSize, logger)
	app.acceptor = transport.NewAcceptor(app.hub, opts.Path, transport.Config{
		PingInterval:   cfg.WebSocket.PingInterval,
		ReadTimeout:    cfg.WebSocket.ReadTimeout,
		WriteTimeout:   cfg.WebSocket.WriteTimeout,
		BufferSize:     cfg.WebSocket.BufferSize,
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
	}, logger)

	var history api.HistoryStore
	if app.journal != nil {
		history = app.journal
	}
	app.admin = api.NewServer(&inspector{hub: app.hub, server: app.server}, history, logger)

	if opts.Server != nil {
		opts.Server.Handler = app.acceptor.Attach(opts.Server.Handler)
		opts.Server.RegisterOnShutdown(app.hub.ServerClosed)
	} else {
		mux := http.NewServeMux()
		mux.Handle("/api/", app.admin)
		mux.Handle("/health", app.admin)
		app.httpServer = &http.Server{
			Addr:         net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port)),
			Handler:      app.acceptor.Attach(mux),
			ReadTimeout:  cfg.HTTP.ReadTimeout,
			WriteTimeout: cfg.HTTP.WriteTimeout,
		}
	}
	return app, nil
}

// journalConfig overlays the configured journal settings on the storage
// defaults.
func journalConfig(cfg *config.JournalConfig) journal.Config {
	jc := journal.DefaultConfig()
	if cfg.Path != "" {
		jc.Path = cfg.Path
	}
	if cfg.BufferSize > 0 {
		jc.BufferSize = cfg.BufferSize
	}
	if cfg.Timeout > 0 {
		jc.ConnMaxLifetime = cfg.Timeout
		jc.ConnMaxIdleTime = cfg.Timeout / 3
	}
	return jc
}

// Server returns the connection registry. Register callbacks on it before
// Start; once running, touch it only through Do.
func (a *Application) Server() *socket.Server {
	return a.server
}

// Do runs fn against the registry on the run loop.
func (a *Application) Do(ctx context.Context, fn func(*socket.Server)) error {
	return a.hub.Do(ctx, func() { fn(a.server) })
}

// AdminHandler serves /health and /api/. Port mode mounts it already;
// attach mode leaves mounting to the caller.
func (a *Application) AdminHandler() http.Handler {
	return a.admin
}

// Addr reports the listening address once started.
func (a *Application) Addr() string {
	if a.listener != nil {
		return a.listener.Addr().String()
	}
	if a.opts.Server != nil {
		return a.opts.Server.Addr
	}
	return a.httpServer.Addr
}

// Start launches the run loop and, in port mode, the listener. In attach
// mode the caller serves the external server; upgrades reaching it before
// Start or after Stop are closed without a handshake.
func (a *Application) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return errors.New("application already started")
	}

	if err := a.hub.Start(ctx); err != nil {
		return errors.Wrap(err, "start run loop")
	}

	if a.httpServer != nil {
		ln, err := net.Listen("tcp", a.httpServer.Addr)
		if err != nil {
			_ = a.hub.Stop()
			return errors.Wrapf(err, "listen on %s", a.httpServer.Addr)
		}
		a.listener = ln
		go a.serve(ln)
	}

	a.started = true
	a.logger.Info("roomcast started", zap.String("addr", a.Addr()), zap.String("path", a.opts.Path))
	return nil
}

func (a *Application) serve(ln net.Listener) {
	err := a.httpServer.Serve(ln)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.logger.Error("http server failed", zap.Error(err))
		a.hub.ServerError(err)
	}
}

// Stop closes every connection, waits for their close signals, fires the
// server-wide close callbacks and releases the journal. Stop order is the
// reverse of Start.
func (a *Application) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started {
		return errors.New("application not started")
	}
	a.started = false
	a.logger.Info("shutting down roomcast")

	var firstErr error
	keep := func(err error, msg string) {
		if err == nil {
			return
		}
		a.logger.Warn(msg, zap.Error(err))
		if firstErr == nil {
			firstErr = errors.Wrap(err, msg)
		}
	}

	if a.httpServer != nil {
		keep(a.httpServer.Shutdown(ctx), "http shutdown")
	}
	a.acceptor.Shutdown()
	keep(a.hub.Do(ctx, a.server.CloseAll), "close connections")
	keep(a.acceptor.Wait(ctx), "wait for sockets")
	keep(a.hub.Do(ctx, a.server.HandleServerClose), "server close callbacks")
	keep(a.hub.Stop(), "stop run loop")
	if a.journal != nil {
		keep(a.journal.Close(), "close journal")
	}

	a.logger.Info("roomcast stopped")
	return firstErr
}

// inspector answers admin queries on the run loop.
type inspector struct {
	hub    *hub.Hub
	server *socket.Server
}

func (i *inspector) Connections(ctx context.Context) ([]types.ConnectionInfo, error) {
	var out []types.ConnectionInfo
	err := i.hub.Do(ctx, func() { out = i.server.Snapshot() })
	return out, err
}

func (i *inspector) Stats(ctx context.Context) (map[string]int, error) {
	var out map[string]int
	err := i.hub.Do(ctx, func() {
		out = i.server.Stats()
		out["queued_signals"] = i.hub.Pending()
	})
	return out, err
}

func (i *inspector) Disconnect(ctx context.Context, id string) (bool, error) {
	var found bool
	var closeErr error
	err := i.hub.Do(ctx, func() {
		c, ok := i.server.Connection(id)
		if !ok {
			return
		}
		found = true
		closeErr = c.Close()
	})
	if err != nil {
		return false, err
	}
	return found, closeErr
}
