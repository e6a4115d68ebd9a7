// Package socket implements the connection registry, per-connection event
// dispatch and room fan-out.
//
// Every method in this package expects to run on the single run loop that
// serializes transport signals (see package hub). Nothing here locks:
// correctness under re-entrant listener code comes from snapshot iteration.
package socket

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"roomcast/pkg/interfaces"
	"roomcast/pkg/types"
)

// Server owns the live connections. It is fed transport signals through the
// Handle* methods and exposes the registry contract to application code.
type Server struct {
	conns       []*Connection
	byTransport map[interfaces.Transport]*Connection

	newID   interfaces.IDGenerator
	journal interfaces.Journal
	logger  *zap.Logger
	now     func() time.Time

	connectFn func(*Connection)
	errorFns  []func(error)
	closeFns  []func()
	closed    bool
}

// Option configures a Server.
type Option func(*Server)

// WithIDGenerator replaces the default UUID generator.
func WithIDGenerator(gen interfaces.IDGenerator) Option {
	return func(s *Server) {
		if gen != nil {
			s.newID = gen
		}
	}
}

func WithJournal(j interfaces.Journal) Option {
	return func(s *Server) {
		if j != nil {
			s.journal = j
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the timestamp source used for journal entries.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

func NewServer(opts ...Option) *Server {
	s := &Server{
		byTransport: make(map[interfaces.Transport]*Connection),
		newID:       uuid.NewString,
		journal:     interfaces.NopJournal{},
		logger:      zap.NewNop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "socket"))
	return s
}

// Connections returns a snapshot of the live connections in accept order.
func (s *Server) Connections() []*Connection {
	out := make([]*Connection, len(s.conns))
	copy(out, s.conns)
	return out
}

// Connection looks up a live connection by identity.
func (s *Server) Connection(id string) (*Connection, bool) {
	for _, c := range s.conns {
		if c.id == id {
			return c, true
		}
	}
	return nil, false
}

// Len returns the number of live connections.
func (s *Server) Len() int {
	return len(s.conns)
}

// Remove drops the connection with id from the registry. Removing an absent
// connection is a no-op; the return value reports whether anything changed.
func (s *Server) Remove(id string) bool {
	for i, c := range s.conns {
		if c.id == id {
			s.conns = append(s.conns[:i:i], s.conns[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Server) removeConn(target *Connection) {
	for i, c := range s.conns {
		if c == target {
			s.conns = append(s.conns[:i:i], s.conns[i+1:]...)
			return
		}
	}
}

// maxIDAttempts bounds retries against a generator that repeats live ids.
const maxIDAttempts = 8

// uniqueID asks the generator for an id no live connection holds, falling
// back to a UUID.
func (s *Server) uniqueID() string {
	for i := 0; i < maxIDAttempts; i++ {
		id := s.newID()
		if _, taken := s.Connection(id); id != "" && !taken {
			return id
		}
		s.logger.Warn("generated connection id rejected", zap.String("connection_id", id))
	}
	return uuid.NewString()
}

// OnConnect sets the callback invoked once per accepted connection, after it
// has been added to the registry. A later call replaces the earlier one.
func (s *Server) OnConnect(fn func(*Connection)) {
	s.connectFn = fn
}

// OnError registers a callback for server-wide transport errors: listener
// failures and failed upgrade handshakes.
func (s *Server) OnError(fn func(error)) {
	s.errorFns = append(s.errorFns, fn)
}

// OnClose registers a callback for when the listening endpoint closes.
func (s *Server) OnClose(fn func()) {
	s.closeFns = append(s.closeFns, fn)
}

// Stats summarizes registry contents for monitoring.
func (s *Server) Stats() map[string]int {
	rooms := make(map[string]struct{})
	listeners := 0
	for _, c := range s.conns {
		for _, r := range c.rooms.List() {
			rooms[r] = struct{}{}
		}
		listeners += c.listeners.Len()
	}
	return map[string]int{
		"total_connections": len(s.conns),
		"active_rooms":      len(rooms),
		"listeners":         listeners,
	}
}

// Snapshot describes every live connection.
func (s *Server) Snapshot() []types.ConnectionInfo {
	out := make([]types.ConnectionInfo, 0, len(s.conns))
	for _, c := range s.conns {
		out = append(out, c.Info())
	}
	return out
}

// CloseAll asks every live connection's transport to close.
func (s *Server) CloseAll() {
	for _, c := range s.Connections() {
		if err := c.Close(); err != nil {
			c.logger.Warn("close failed", zap.Error(err))
		}
	}
}

// HandleOpen accepts a new transport session, registers the resulting
// Connection and fires the connect callback.
func (s *Server) HandleOpen(t interfaces.Transport) *Connection {
	if existing, ok := s.byTransport[t]; ok {
		return existing
	}

	c := newConnection(s.uniqueID(), t, s)
	s.conns = append(s.conns, c)
	s.byTransport[t] = c
	s.record(c.id, types.LifecycleConnected, t.RemoteAddr())
	c.logger.Debug("connection opened")

	if s.connectFn != nil {
		s.guard(c, "connect", func() { s.connectFn(c) })
	}
	return c
}

// HandleMessage decodes and dispatches one inbound payload.
func (s *Server) HandleMessage(t interfaces.Transport, payload []byte) {
	c, ok := s.byTransport[t]
	if !ok {
		return
	}
	s.guard(c, "message", func() { c.receive(payload) })
}

// HandleClose finalizes the connection bound to t. Duplicate close signals
// are ignored.
func (s *Server) HandleClose(t interfaces.Transport) {
	c, ok := s.byTransport[t]
	if !ok {
		return
	}
	delete(s.byTransport, t)
	s.guard(c, "close", c.finalize)
}

// HandleError forwards a connection-scoped transport error.
func (s *Server) HandleError(t interfaces.Transport, err error) {
	c, ok := s.byTransport[t]
	if !ok {
		return
	}
	s.guard(c, "error", func() { c.fail(err) })
}

// HandleServerError fans a server-wide transport error out to OnError callbacks.
func (s *Server) HandleServerError(err error) {
	s.logger.Error("server transport error", zap.Error(err))
	for _, fn := range s.errorFns {
		fn(err)
	}
}

// HandleServerClose fires the OnClose callbacks once.
func (s *Server) HandleServerClose() {
	if s.closed {
		return
	}
	s.closed = true
	for _, fn := range s.closeFns {
		fn()
	}
}

// guard contains panics from application callbacks to the signal that
// triggered them.
func (s *Server) guard(c *Connection, signal string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("listener panicked",
				zap.String("signal", signal),
				zap.Any("panic", r),
			)
		}
	}()
	fn()
}

func (s *Server) record(id, kind, detail string) {
	s.journal.Record(types.LifecycleEvent{
		ConnectionID: id,
		Kind:         kind,
		Detail:       detail,
		Timestamp:    s.now(),
	})
}
