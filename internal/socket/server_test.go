package socket

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roomcast/internal/sockettest"
	"roomcast/pkg/types"
)

type journalSpy struct {
	mu     sync.Mutex
	events []types.LifecycleEvent
}

func (j *journalSpy) Record(ev types.LifecycleEvent) {
	j.mu.Lock()
	j.events = append(j.events, ev)
	j.mu.Unlock()
}

func (j *journalSpy) kinds(id string) []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []string
	for _, ev := range j.events {
		if ev.ConnectionID == id {
			out = append(out, ev.Kind)
		}
	}
	return out
}

func newTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	opts = append([]Option{WithIDGenerator(sockettest.SequentialIDs("conn"))}, opts...)
	return NewServer(opts...)
}

func open(s *Server) (*Connection, *sockettest.Transport) {
	tr := sockettest.NewTransport()
	return s.HandleOpen(tr), tr
}

func TestServer_DefaultIDsAreUUIDs(t *testing.T) {
	s := NewServer()
	c, _ := open(s)

	_, err := uuid.Parse(c.ID())
	assert.NoError(t, err)
}

func TestServer_HandleOpenRegistersBeforeConnectCallback(t *testing.T) {
	s := newTestServer(t)
	var seen []int
	var ids []string
	s.OnConnect(func(c *Connection) {
		seen = append(seen, s.Len())
		ids = append(ids, c.ID())
		_, found := s.Connection(c.ID())
		assert.True(t, found)
	})

	open(s)
	open(s)

	assert.Equal(t, []int{1, 2}, seen)
	assert.Equal(t, []string{"conn-1", "conn-2"}, ids)
}

func TestServer_OnConnectLastRegistrationWins(t *testing.T) {
	s := newTestServer(t)
	var calls []string
	s.OnConnect(func(*Connection) { calls = append(calls, "first") })
	s.OnConnect(func(*Connection) { calls = append(calls, "second") })

	open(s)
	assert.Equal(t, []string{"second"}, calls)
}

func TestServer_HandleOpenSameTransportTwice(t *testing.T) {
	s := newTestServer(t)
	tr := sockettest.NewTransport()

	first := s.HandleOpen(tr)
	second := s.HandleOpen(tr)

	assert.Same(t, first, second)
	assert.Equal(t, 1, s.Len())
}

func TestServer_ConnectionsIsSnapshot(t *testing.T) {
	s := newTestServer(t)
	a, _ := open(s)
	open(s)

	snap := s.Connections()
	require.Len(t, snap, 2)
	s.Remove(a.ID())

	assert.Len(t, snap, 2)
	assert.Equal(t, 1, s.Len())
}

func TestServer_RemoveIsIdempotent(t *testing.T) {
	s := newTestServer(t)
	a, _ := open(s)
	b, _ := open(s)

	assert.True(t, s.Remove(a.ID()))
	assert.False(t, s.Remove(a.ID()))
	assert.False(t, s.Remove("never-existed"))

	ids := []string{}
	for _, c := range s.Connections() {
		ids = append(ids, c.ID())
	}
	assert.Equal(t, []string{b.ID()}, ids)
}

func TestServer_DuplicateCloseSignals(t *testing.T) {
	spy := &journalSpy{}
	s := newTestServer(t, WithJournal(spy))
	c, tr := open(s)
	other, _ := open(s)

	closes := 0
	c.OnClose(func() { closes++ })

	s.HandleClose(tr)
	s.HandleClose(tr)
	c.finalize()

	assert.Equal(t, 1, closes)
	assert.Equal(t, 1, s.Len())
	_, found := s.Connection(c.ID())
	assert.False(t, found)
	_, found = s.Connection(other.ID())
	assert.True(t, found)
	assert.Equal(t, []string{types.LifecycleConnected, types.LifecycleClosed}, spy.kinds(c.ID()))
}

func TestServer_CloseReleasesState(t *testing.T) {
	s := newTestServer(t)
	c, tr := open(s)
	calls := 0
	c.On("e", func(json.RawMessage) { calls++ })
	c.Join("lobby")
	tr.SetState(types.StateClosed)

	s.HandleClose(tr)
	s.HandleMessage(tr, []byte(`{"event":"e"}`))

	assert.Equal(t, 0, calls)
	assert.Empty(t, c.Rooms())
	assert.Equal(t, types.StateClosed, c.State())
	assert.Equal(t, 0, s.Stats()["listeners"])
}

func TestServer_CloseAfterRemove(t *testing.T) {
	s := newTestServer(t)
	c, tr := open(s)
	closes := 0
	c.OnClose(func() { closes++ })

	s.Remove(c.ID())
	s.HandleClose(tr)

	assert.Equal(t, 1, closes)
	assert.Equal(t, 0, s.Len())
}

func TestServer_RepeatedGeneratorIDsStayUnique(t *testing.T) {
	s := NewServer(WithIDGenerator(func() string { return "same" }))
	a, _ := open(s)
	b, tb := open(s)

	assert.Equal(t, "same", a.ID())
	assert.NotEqual(t, a.ID(), b.ID())
	_, err := uuid.Parse(b.ID())
	assert.NoError(t, err)

	s.HandleClose(tb)

	conns := s.Connections()
	require.Len(t, conns, 1)
	assert.Same(t, a, conns[0])
	assert.Equal(t, types.StateOpen, a.State())
}

func TestServer_CloseRemovesOnlyItself(t *testing.T) {
	s := NewServer(WithIDGenerator(func() string { return "reused" }))
	a, ta := open(s)
	s.Remove(a.ID())
	b, _ := open(s)
	require.Equal(t, a.ID(), b.ID())

	s.HandleClose(ta)

	conns := s.Connections()
	require.Len(t, conns, 1)
	assert.Same(t, b, conns[0])
}

func TestServer_ErrorDoesNotAffectLifecycle(t *testing.T) {
	s := newTestServer(t)
	c, tr := open(s)
	var got []error
	c.OnError(func(err error) { got = append(got, err) })

	boom := errors.New("read failed")
	s.HandleError(tr, boom)

	assert.Equal(t, []error{boom}, got)
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, types.StateOpen, c.State())
}

func TestServer_ServerWideCallbacks(t *testing.T) {
	s := newTestServer(t)
	var errs []error
	closes := 0
	s.OnError(func(err error) { errs = append(errs, err) })
	s.OnError(func(err error) { errs = append(errs, err) })
	s.OnClose(func() { closes++ })

	boom := errors.New("listen failed")
	s.HandleServerError(boom)
	s.HandleServerClose()
	s.HandleServerClose()

	assert.Equal(t, []error{boom, boom}, errs)
	assert.Equal(t, 1, closes)
}

func TestServer_SignalsForUnknownTransportIgnored(t *testing.T) {
	s := newTestServer(t)
	stray := sockettest.NewTransport()

	assert.NotPanics(t, func() {
		s.HandleMessage(stray, []byte(`{"event":"x"}`))
		s.HandleError(stray, errors.New("x"))
		s.HandleClose(stray)
	})
	assert.Equal(t, 0, s.Len())
}

func TestServer_StatsAndSnapshot(t *testing.T) {
	s := newTestServer(t)
	a, _ := open(s)
	b, _ := open(s)
	a.Join("r1")
	a.Join("r2")
	b.Join("r2")
	a.On("x", func(json.RawMessage) {})

	stats := s.Stats()
	assert.Equal(t, 2, stats["total_connections"])
	assert.Equal(t, 2, stats["active_rooms"])
	assert.Equal(t, 1, stats["listeners"])

	snap := s.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "conn-1", snap[0].ID)
	assert.Equal(t, "OPEN", snap[0].State)
	assert.Equal(t, []string{"r1", "r2"}, snap[0].Rooms)
	assert.Equal(t, 1, snap[0].Listeners)
}

func TestServer_CloseAll(t *testing.T) {
	s := newTestServer(t)
	_, t1 := open(s)
	_, t2 := open(s)

	s.CloseAll()

	assert.Equal(t, 1, t1.Closes())
	assert.Equal(t, 1, t2.Closes())
	// Closure is confirmed by the transport, not by CloseAll.
	assert.Equal(t, 2, s.Len())
}

func TestServer_JournalTimestampsUseClock(t *testing.T) {
	spy := &journalSpy{}
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := newTestServer(t, WithJournal(spy), WithClock(func() time.Time { return fixed }))

	c, tr := open(s)
	c.Join("lobby")
	c.Join("lobby")
	c.Leave("lobby")
	c.Leave("lobby")

	require.Len(t, spy.events, 3)
	assert.Equal(t, fixed, spy.events[0].Timestamp)
	assert.Equal(t, tr.RemoteAddr(), spy.events[0].Detail)
	assert.Equal(t, []string{types.LifecycleConnected, types.LifecycleJoined, types.LifecycleLeft}, spy.kinds(c.ID()))
	assert.Equal(t, "lobby", spy.events[1].Detail)
}

func TestServer_ServerBroadcast(t *testing.T) {
	s := newTestServer(t)
	_, ta := open(s)
	_, tb := open(s)

	assert.Equal(t, 2, s.Broadcast("notice", "maintenance"))
	assert.Equal(t, 0, s.Broadcast("", nil))

	assert.Equal(t, []string{"notice"}, ta.Events())
	assert.Equal(t, []string{"notice"}, tb.Events())
}
