// Package chat is a small room chat built on the connection API. The
// process entry point installs it as the connect handler.
package chat

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"roomcast/internal/socket"
	"roomcast/pkg/types"
)

// Inbound events.
const (
	EventJoin   = "join"
	EventLeave  = "leave"
	EventSay    = "say"
	EventWhoAmI = "whoami"
)

// Outbound events.
const (
	EventWelcome      = "welcome"
	EventJoined       = "joined"
	EventLeft         = "left"
	EventMemberJoined = "member_joined"
	EventMemberLeft   = "member_left"
	EventMessage      = "message"
	EventIdentity     = "identity"
	EventError        = "error"
	EventShutdown     = "shutdown"
)

type roomRequest struct {
	Room string `json:"room"`
}

type sayRequest struct {
	Room string `json:"room,omitempty"`
	Text string `json:"text"`
}

type Message struct {
	From string `json:"from"`
	Room string `json:"room,omitempty"`
	Text string `json:"text"`
}

type Membership struct {
	ID    string   `json:"id"`
	Room  string   `json:"room,omitempty"`
	Rooms []string `json:"rooms,omitempty"`
}

type Problem struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}

// Service wires chat behaviour onto each accepted connection.
type Service struct {
	logger *zap.Logger
	flood  *limiter
}

type Option func(*Service)

// WithSayLimit caps say messages per connection to limit per span.
// A non-positive limit turns flood control off.
func WithSayLimit(limit int, span time.Duration) Option {
	return func(s *Service) { s.flood = newLimiter(limit, span) }
}

func New(logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		logger: logger.With(zap.String("component", "chat")),
		flood:  newLimiter(DefaultSayLimit, DefaultSayWindow),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Shutdown notifies every connected client that the service is going away.
// It runs on the run loop, for example through app.Application.Do.
func (s *Service) Shutdown(server *socket.Server) {
	n := server.Broadcast(EventShutdown, nil)
	s.logger.Info("shutdown notice sent", zap.Int("recipients", n))
}

// Attach is a socket connect callback.
func (s *Service) Attach(c *socket.Connection) {
	c.On(EventJoin, func(data json.RawMessage) { s.join(c, data) })
	c.On(EventLeave, func(data json.RawMessage) { s.leave(c, data) })
	c.On(EventSay, func(data json.RawMessage) { s.say(c, data) })
	c.On(EventWhoAmI, func(json.RawMessage) {
		c.Emit(EventIdentity, Membership{ID: c.ID(), Rooms: c.Rooms()})
	})

	id := c.ID()
	c.OnClose(func() {
		s.flood.Forget(id)
		s.logger.Info("client left", zap.String("connection_id", id))
	})
	c.OnError(func(err error) {
		s.logger.Warn("client transport error", zap.String("connection_id", id), zap.Error(err))
	})

	s.logger.Info("client joined", zap.String("connection_id", id), zap.String("remote_addr", c.RemoteAddr()))
	c.Emit(EventWelcome, Membership{ID: id})
}

func (s *Service) join(c *socket.Connection, data json.RawMessage) {
	room, ok := s.room(c, EventJoin, data)
	if !ok {
		return
	}
	if c.InRoom(room) {
		c.Emit(EventJoined, Membership{ID: c.ID(), Room: room, Rooms: c.Rooms()})
		return
	}
	c.Join(room)
	c.Emit(EventJoined, Membership{ID: c.ID(), Room: room, Rooms: c.Rooms()})
	c.EmitToRoom(room, EventMemberJoined, Membership{ID: c.ID(), Room: room})
}

func (s *Service) leave(c *socket.Connection, data json.RawMessage) {
	room, ok := s.room(c, EventLeave, data)
	if !ok {
		return
	}
	if c.InRoom(room) {
		c.EmitToRoom(room, EventMemberLeft, Membership{ID: c.ID(), Room: room})
	}
	c.Leave(room)
	c.Emit(EventLeft, Membership{ID: c.ID(), Room: room, Rooms: c.Rooms()})
}

func (s *Service) say(c *socket.Connection, data json.RawMessage) {
	var req sayRequest
	if err := json.Unmarshal(data, &req); err != nil || req.Text == "" {
		s.reject(c, EventSay, "text is required")
		return
	}
	if !s.flood.Allow(c.ID()) {
		s.reject(c, EventSay, "slow down")
		return
	}

	msg := Message{From: c.ID(), Room: req.Room, Text: req.Text}
	if req.Room == "" {
		c.Broadcast(EventMessage, msg)
		return
	}
	if !c.InRoom(req.Room) {
		s.reject(c, EventSay, "join the room before speaking in it")
		return
	}
	c.EmitToRoom(req.Room, EventMessage, msg)
}

func (s *Service) room(c *socket.Connection, event string, data json.RawMessage) (string, bool) {
	var req roomRequest
	if err := json.Unmarshal(data, &req); err != nil || !types.IsValidRoomName(req.Room) {
		s.reject(c, event, "room must be 1-100 printable characters")
		return "", false
	}
	return req.Room, true
}

func (s *Service) reject(c *socket.Connection, event, reason string) {
	s.logger.Debug("request rejected",
		zap.String("connection_id", c.ID()),
		zap.String("event", event),
		zap.String("reason", reason),
	)
	c.Emit(EventError, Problem{Event: event, Message: reason})
}
