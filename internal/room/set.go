// Package room tracks which named rooms a connection has joined.
package room

// Set is an insertion-ordered set of room names. Join and Leave are
// idempotent. A Set is owned by one connection and is not safe for
// concurrent use.
type Set struct {
	names []string
	index map[string]struct{}
}

func NewSet() *Set {
	return &Set{index: make(map[string]struct{})}
}

// Join adds room and reports whether membership changed.
func (s *Set) Join(room string) bool {
	if _, ok := s.index[room]; ok {
		return false
	}
	s.index[room] = struct{}{}
	s.names = append(s.names, room)
	return true
}

// Leave removes room and reports whether membership changed.
func (s *Set) Leave(room string) bool {
	if _, ok := s.index[room]; !ok {
		return false
	}
	delete(s.index, room)
	for i, name := range s.names {
		if name == room {
			s.names = append(s.names[:i:i], s.names[i+1:]...)
			break
		}
	}
	return true
}

func (s *Set) Has(room string) bool {
	_, ok := s.index[room]
	return ok
}

// List returns a copy of the current membership in join order.
func (s *Set) List() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

func (s *Set) Len() int {
	return len(s.names)
}

// Clear drops every membership and returns the rooms that were left.
func (s *Set) Clear() []string {
	left := s.names
	s.names = nil
	s.index = make(map[string]struct{})
	return left
}
