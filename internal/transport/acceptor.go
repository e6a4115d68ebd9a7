package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"roomcast/pkg/interfaces"
)

// Acceptor upgrades HTTP requests into Sockets and feeds them to a sink.
type Acceptor struct {
	upgrader websocket.Upgrader
	sink     interfaces.TransportSink
	cfg      Config
	path     string
	logger   *zap.Logger

	mu       sync.Mutex
	draining bool
	live     map[*Socket]struct{}
	sockets  sync.WaitGroup
}

// NewAcceptor returns an Acceptor serving upgrades on path. An empty path
// accepts upgrades on any path when used through Attach.
func NewAcceptor(sink interfaces.TransportSink, path string, cfg Config, logger *zap.Logger) *Acceptor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Acceptor{
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 10 * time.Second,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
		sink:   sink,
		cfg:    cfg.withDefaults(),
		path:   path,
		logger: logger.With(zap.String("component", "transport")),
		live:   make(map[*Socket]struct{}),
	}
}

// Accepting reports whether a new upgrade would be accepted: the acceptor
// has not been shut down and the sink is running.
func (a *Acceptor) Accepting() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return !a.draining && a.sink.Running()
}

// ServeHTTP upgrades the request and runs the resulting Socket until it
// closes. Upgrades arriving while the acceptor is not accepting are closed
// without a handshake. A failed upgrade has already been answered by the
// upgrader and is reported to the sink as a server error.
func (a *Acceptor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !a.Accepting() {
		a.reject(w, r, ErrNotAccepting)
		return
	}

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Debug("upgrade failed", zap.String("path", r.URL.Path), zap.Error(err))
		a.sink.ServerError(errors.Wrapf(err, "upgrade %s", r.URL.Path))
		return
	}

	socket := NewSocket(conn, a.sink, a.cfg, a.logger)
	if !a.track(socket) {
		a.logger.Debug("closing socket accepted during shutdown")
		_ = conn.Close()
		return
	}
	go func() {
		defer a.untrack(socket)
		socket.Run()
	}()
}

func (a *Acceptor) track(s *Socket) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.draining {
		return false
	}
	a.live[s] = struct{}{}
	a.sockets.Add(1)
	return true
}

func (a *Acceptor) untrack(s *Socket) {
	a.mu.Lock()
	delete(a.live, s)
	a.mu.Unlock()
	a.sockets.Done()
}

// Shutdown stops accepting upgrades and closes every live socket. Their
// close signals still reach the sink; use Wait to block until they have.
func (a *Acceptor) Shutdown() {
	a.mu.Lock()
	a.draining = true
	live := make([]*Socket, 0, len(a.live))
	for s := range a.live {
		live = append(live, s)
	}
	a.mu.Unlock()

	for _, s := range live {
		_ = s.Close()
	}
}

// Attach wraps next so that websocket upgrades for the acceptor's path are
// accepted. Upgrades for any other path are closed without a handshake;
// plain HTTP requests pass through to next.
func (a *Acceptor) Attach(next http.Handler) http.Handler {
	if next == nil {
		next = http.NotFoundHandler()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !websocket.IsWebSocketUpgrade(r) {
			next.ServeHTTP(w, r)
			return
		}
		if a.path != "" && r.URL.Path != a.path {
			a.reject(w, r, ErrPathMismatch)
			return
		}
		a.ServeHTTP(w, r)
	})
}

func (a *Acceptor) reject(w http.ResponseWriter, r *http.Request, reason error) {
	a.logger.Debug("upgrade rejected", zap.String("path", r.URL.Path), zap.Error(reason))
	hj, ok := w.(http.Hijacker)
	if !ok {
		a.logger.Debug("falling back to HTTP error", zap.Error(ErrNotHijacker))
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	_ = conn.Close()
}

// Wait blocks until every socket started by this acceptor has finished, or
// ctx is done.
func (a *Acceptor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.sockets.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
