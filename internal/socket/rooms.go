package socket

import (
	"go.uber.org/zap"

	"roomcast/internal/codec"
	"roomcast/pkg/types"
)

// Join adds this connection to room. Joining twice changes nothing.
func (c *Connection) Join(room string) {
	if c.closed || !c.rooms.Join(room) {
		return
	}
	c.server.record(c.id, types.LifecycleJoined, room)
}

// Leave removes this connection from room if it is a member.
func (c *Connection) Leave(room string) {
	if !c.rooms.Leave(room) {
		return
	}
	c.server.record(c.id, types.LifecycleLeft, room)
}

// Broadcast sends {event, data} to every other live connection, in registry
// order. It returns the number of recipients the payload was handed to.
func (c *Connection) Broadcast(event string, data any) int {
	return c.fanOut(event, data, func(*Connection) bool { return true })
}

// EmitToRoom sends {event, data} to every other live member of room.
func (c *Connection) EmitToRoom(room, event string, data any) int {
	return c.fanOut(event, data, func(other *Connection) bool { return other.rooms.Has(room) })
}

func (c *Connection) fanOut(event string, data any, eligible func(*Connection) bool) int {
	payload, err := codec.Encode(event, data)
	if err != nil {
		c.logger.Warn("broadcast not encodable", zap.String("event", event), zap.Error(err))
		return 0
	}

	sent := 0
	for _, other := range c.server.Connections() {
		if other.id == c.id || !eligible(other) {
			continue
		}
		other.send(payload, func(err error) {
			other.logger.Debug("broadcast delivery failed", zap.String("event", event), zap.Error(err))
		})
		sent++
	}
	return sent
}

// Broadcast sends {event, data} to every live connection. It is meant for
// server-originated notices and returns the number of recipients.
func (s *Server) Broadcast(event string, data any) int {
	payload, err := codec.Encode(event, data)
	if err != nil {
		s.logger.Warn("broadcast not encodable", zap.String("event", event), zap.Error(err))
		return 0
	}
	conns := s.Connections()
	for _, c := range conns {
		c.send(payload, nil)
	}
	return len(conns)
}
