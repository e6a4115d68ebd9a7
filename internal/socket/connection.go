package socket

import (
	"go.uber.org/zap"

	"roomcast/internal/codec"
	"roomcast/internal/listener"
	"roomcast/internal/room"
	"roomcast/pkg/interfaces"
	"roomcast/pkg/types"
)

// Callback receives an inbound envelope's data.
type Callback = listener.Callback

// Token identifies a registered listener; pass it to Off.
type Token = listener.Token

// Connection is one live transport session with its identity, listeners and
// room membership.
type Connection struct {
	id        string
	transport interfaces.Transport
	server    *Server
	listeners *listener.Registry
	rooms     *room.Set
	logger    *zap.Logger

	closeFn  func()
	errorFns []func(error)
	closed   bool
}

func newConnection(id string, t interfaces.Transport, s *Server) *Connection {
	return &Connection{
		id:        id,
		transport: t,
		server:    s,
		listeners: listener.New(),
		rooms:     room.NewSet(),
		logger: s.logger.With(
			zap.String("connection_id", id),
			zap.String("remote_addr", t.RemoteAddr()),
		),
	}
}

func (c *Connection) ID() string {
	return c.id
}

// State mirrors the transport's readiness; a finalized connection is CLOSED.
func (c *Connection) State() types.State {
	if c.closed {
		return types.StateClosed
	}
	return c.transport.State()
}

func (c *Connection) RemoteAddr() string {
	return c.transport.RemoteAddr()
}

// Rooms returns a copy of the rooms this connection has joined.
func (c *Connection) Rooms() []string {
	return c.rooms.List()
}

func (c *Connection) InRoom(room string) bool {
	return c.rooms.Has(room)
}

// Info describes the connection for inspection.
func (c *Connection) Info() types.ConnectionInfo {
	return types.ConnectionInfo{
		ID:         c.id,
		State:      c.State().String(),
		RemoteAddr: c.RemoteAddr(),
		Rooms:      c.Rooms(),
		Listeners:  c.listeners.Len(),
	}
}

// On registers a persistent listener for event.
func (c *Connection) On(event string, fn Callback) Token {
	return c.listeners.On(event, fn)
}

// Once registers a listener that runs for the first matching event only.
func (c *Connection) Once(event string, fn Callback) Token {
	return c.listeners.Once(event, fn)
}

// Off removes the listener registered for event under token.
func (c *Connection) Off(event string, token Token) bool {
	return c.listeners.Off(event, token)
}

// OnClose sets the callback fired exactly once when the connection closes.
func (c *Connection) OnClose(fn func()) {
	c.closeFn = fn
}

// OnError registers a callback for connection-scoped transport errors.
func (c *Connection) OnError(fn func(error)) {
	c.errorFns = append(c.errorFns, fn)
}

// Emit sends {event, data} to this connection's peer. Failures are dropped.
func (c *Connection) Emit(event string, data any) {
	c.EmitWithErrorHandler(event, data, nil)
}

// EmitWithErrorHandler sends {event, data} to this connection's peer and
// reports encode or transport failures to onError. Delivery is best effort.
func (c *Connection) EmitWithErrorHandler(event string, data any, onError func(error)) {
	payload, err := codec.Encode(event, data)
	if err != nil {
		c.dropped(event, err, onError)
		return
	}
	c.send(payload, func(err error) { c.dropped(event, err, onError) })
}

func (c *Connection) send(payload []byte, onError func(error)) {
	if c.closed {
		if onError != nil {
			onError(types.ErrConnectionClosed)
		}
		return
	}
	c.transport.Send(payload, onError)
}

func (c *Connection) dropped(event string, err error, onError func(error)) {
	if onError != nil {
		onError(err)
		return
	}
	c.logger.Debug("emit dropped", zap.String("event", event), zap.Error(err))
}

// Close asks the transport to close. The close callback fires when the
// transport confirms closure.
func (c *Connection) Close() error {
	if c.closed {
		return nil
	}
	return c.transport.Close()
}

func (c *Connection) receive(payload []byte) {
	env, err := codec.Decode(payload)
	if err != nil {
		c.logger.Debug("inbound frame dropped", zap.Error(err), zap.Int("bytes", len(payload)))
		return
	}
	c.listeners.Dispatch(env.Event, env.Data)
}

func (c *Connection) fail(err error) {
	c.logger.Warn("transport error", zap.Error(err))
	for _, fn := range c.errorFns {
		fn(err)
	}
}

// finalize runs once per connection: registry removal, release of listener
// and room state, then the close callback.
func (c *Connection) finalize() {
	if c.closed {
		return
	}
	c.closed = true

	c.server.removeConn(c)
	c.listeners.Clear()
	c.rooms.Clear()
	c.errorFns = nil
	c.server.record(c.id, types.LifecycleClosed, "")
	c.logger.Debug("connection closed")

	if fn := c.closeFn; fn != nil {
		c.closeFn = nil
		fn()
	}
}
