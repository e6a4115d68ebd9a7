// Package hub runs the single cooperative loop that serializes every
// transport signal, server-wide signal and admin query onto one goroutine.
package hub

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"roomcast/internal/socket"
	"roomcast/pkg/interfaces"
)

// DefaultQueueSize bounds the signal channel when none is configured.
const DefaultQueueSize = 1024

// Hub owns the run loop. Signals are queued on one FIFO channel, so the
// order a transport reports them in is the order the server sees them.
type Hub struct {
	server *socket.Server
	logger *zap.Logger
	size   int

	signals  chan func()
	shutdown chan struct{}
	stopped  chan struct{}

	running bool
	mu      sync.RWMutex
}

var _ interfaces.TransportSink = (*Hub)(nil)

// NewHub creates a hub feeding server. A queueSize <= 0 selects
// DefaultQueueSize.
func NewHub(server *socket.Server, queueSize int, logger *zap.Logger) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		server: server,
		logger: logger.With(zap.String("component", "hub")),
		size:   queueSize,
	}
}

// Start launches the run loop. The loop exits on Stop or when ctx is done.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.signals = make(chan func(), h.size)
	h.shutdown = make(chan struct{})
	h.stopped = make(chan struct{})
	signals, shutdown, stopped := h.signals, h.shutdown, h.stopped
	h.mu.Unlock()

	h.logger.Info("starting run loop", zap.Int("queue_size", h.size))
	go h.run(ctx, signals, shutdown, stopped)
	return nil
}

// Stop ends the run loop and waits for the signal in flight to finish.
// Queued signals that have not started are discarded. Stop must not be
// called from the run loop itself.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.shutdown)
	stopped := h.stopped
	h.mu.Unlock()

	<-stopped
	h.logger.Info("run loop stopped")
	return nil
}

// Running reports whether the loop accepts signals.
func (h *Hub) Running() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// Pending returns the number of queued signals not yet handled.
func (h *Hub) Pending() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.signals == nil {
		return 0
	}
	return len(h.signals)
}

// Opened queues a new transport session.
func (h *Hub) Opened(t interfaces.Transport) {
	h.submit("open", func() { h.server.HandleOpen(t) })
}

// Message queues one inbound payload.
func (h *Hub) Message(t interfaces.Transport, payload []byte) {
	h.submit("message", func() { h.server.HandleMessage(t, payload) })
}

// Closed queues a close signal. Duplicates are absorbed by the server.
func (h *Hub) Closed(t interfaces.Transport) {
	h.submit("close", func() { h.server.HandleClose(t) })
}

// Failed queues a connection-scoped transport error.
func (h *Hub) Failed(t interfaces.Transport, err error) {
	h.submit("error", func() { h.server.HandleError(t, err) })
}

// ServerError queues a server-wide transport error.
func (h *Hub) ServerError(err error) {
	h.submit("server_error", func() { h.server.HandleServerError(err) })
}

// ServerClosed queues the listening endpoint's close signal.
func (h *Hub) ServerClosed() {
	h.submit("server_close", h.server.HandleServerClose)
}

// Post schedules fn on the run loop. It blocks while the queue is full and
// must therefore only be called from outside the loop.
func (h *Hub) Post(fn func()) error {
	return h.enqueue(fn)
}

// Do runs fn on the run loop and waits for it to return.
func (h *Hub) Do(ctx context.Context, fn func()) error {
	h.mu.RLock()
	stopped := h.stopped
	h.mu.RUnlock()

	done := make(chan struct{})
	err := h.enqueueContext(ctx, func() {
		defer close(done)
		fn()
	})
	if err != nil {
		return err
	}

	select {
	case <-done:
		return nil
	case <-stopped:
		select {
		case <-done:
			return nil
		default:
			return ErrHubNotRunning
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) submit(kind string, fn func()) {
	if err := h.enqueue(fn); err != nil {
		h.logger.Debug("signal dropped", zap.String("signal", kind), zap.Error(err))
	}
}

func (h *Hub) enqueue(fn func()) error {
	return h.enqueueContext(context.Background(), fn)
}

func (h *Hub) enqueueContext(ctx context.Context, fn func()) error {
	h.mu.RLock()
	if !h.running {
		h.mu.RUnlock()
		return ErrHubNotRunning
	}
	signals, shutdown := h.signals, h.shutdown
	h.mu.RUnlock()

	select {
	case signals <- fn:
		return nil
	case <-shutdown:
		return ErrHubNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) run(ctx context.Context, signals <-chan func(), shutdown, stopped chan struct{}) {
	defer close(stopped)

	for {
		select {
		case fn := <-signals:
			select {
			case <-shutdown:
				return
			default:
			}
			h.handle(fn)

		case <-shutdown:
			return

		case <-ctx.Done():
			h.logger.Info("run loop context cancelled")
			h.mu.Lock()
			if h.running && h.shutdown == shutdown {
				h.running = false
				close(h.shutdown)
			}
			h.mu.Unlock()
			return
		}
	}
}

// handle keeps a panicking signal from taking the loop down.
func (h *Hub) handle(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("signal handler panicked", zap.Any("panic", r))
		}
	}()
	fn()
}
