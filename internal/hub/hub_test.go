package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roomcast/internal/socket"
	"roomcast/internal/sockettest"
)

func startHub(t *testing.T, queueSize int) (*Hub, *socket.Server) {
	t.Helper()
	server := socket.NewServer(socket.WithIDGenerator(sockettest.SequentialIDs("hub")))
	h := NewHub(server, queueSize, nil)
	require.NoError(t, h.Start(context.Background()))
	t.Cleanup(func() {
		if h.Running() {
			_ = h.Stop()
		}
	})
	return h, server
}

// drain waits until every signal queued before the call has been handled.
func drain(t *testing.T, h *Hub) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.Do(ctx, func() {}))
}

func TestHub_StartStop(t *testing.T) {
	h := NewHub(socket.NewServer(), 0, nil)
	ctx := context.Background()

	if err := h.Start(ctx); err != nil {
		t.Fatalf("Expected no error starting hub, got %v", err)
	}
	if err := h.Start(ctx); err != ErrHubAlreadyRunning {
		t.Errorf("Expected ErrHubAlreadyRunning, got %v", err)
	}
	if err := h.Stop(); err != nil {
		t.Errorf("Expected no error stopping hub, got %v", err)
	}
	if err := h.Stop(); err != ErrHubNotRunning {
		t.Errorf("Expected ErrHubNotRunning, got %v", err)
	}
}

func TestHub_DefaultQueueSize(t *testing.T) {
	h := NewHub(socket.NewServer(), -1, nil)
	assert.Equal(t, DefaultQueueSize, h.size)
}

func TestHub_SignalsBeforeStartAreRejected(t *testing.T) {
	server := socket.NewServer()
	h := NewHub(server, 8, nil)

	h.Opened(sockettest.NewTransport())
	assert.Equal(t, ErrHubNotRunning, h.Post(func() {}))
	assert.Equal(t, ErrHubNotRunning, h.Do(context.Background(), func() {}))
	assert.Equal(t, 0, server.Len())
	assert.Equal(t, 0, h.Pending())
}

func TestHub_SignalsKeepTransportOrder(t *testing.T) {
	h, server := startHub(t, 64)
	tr := sockettest.NewTransport()

	var (
		mu  sync.Mutex
		got []string
	)
	server.OnConnect(func(c *socket.Connection) {
		c.On("n", func(data json.RawMessage) {
			mu.Lock()
			got = append(got, string(data))
			mu.Unlock()
		})
		c.OnClose(func() {
			mu.Lock()
			got = append(got, "closed")
			mu.Unlock()
		})
	})

	h.Opened(tr)
	h.Message(tr, []byte(`{"event":"n","data":1}`))
	h.Message(tr, []byte(`{"event":"n","data":2}`))
	h.Message(tr, []byte(`{"event":"n","data":3}`))
	h.Closed(tr)
	h.Closed(tr)
	drain(t, h)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"1", "2", "3", "closed"}, got)
	assert.Equal(t, 0, server.Len())
}

func TestHub_ConcurrentProducersSerialized(t *testing.T) {
	h, server := startHub(t, 16)
	const producers = 8
	const perProducer = 50

	counter := 0
	server.OnConnect(func(c *socket.Connection) {
		c.On("inc", func(json.RawMessage) { counter++ })
	})

	transports := make([]*sockettest.Transport, producers)
	for i := range transports {
		transports[i] = sockettest.NewTransport()
		h.Opened(transports[i])
	}

	var wg sync.WaitGroup
	for _, tr := range transports {
		wg.Add(1)
		go func(tr *sockettest.Transport) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				h.Message(tr, []byte(`{"event":"inc"}`))
			}
		}(tr)
	}
	wg.Wait()
	drain(t, h)

	var total int
	require.NoError(t, h.Do(context.Background(), func() { total = counter }))
	assert.Equal(t, producers*perProducer, total)
}

func TestHub_FailedAndServerSignals(t *testing.T) {
	h, server := startHub(t, 8)
	tr := sockettest.NewTransport()
	boom := errors.New("read failed")

	var connErrs, serverErrs []error
	closes := 0
	server.OnConnect(func(c *socket.Connection) {
		c.OnError(func(err error) { connErrs = append(connErrs, err) })
	})
	server.OnError(func(err error) { serverErrs = append(serverErrs, err) })
	server.OnClose(func() { closes++ })

	h.Opened(tr)
	h.Failed(tr, boom)
	h.ServerError(boom)
	h.ServerClosed()
	h.ServerClosed()
	drain(t, h)

	require.NoError(t, h.Do(context.Background(), func() {
		assert.Equal(t, []error{boom}, connErrs)
		assert.Equal(t, []error{boom}, serverErrs)
		assert.Equal(t, 1, closes)
		assert.Equal(t, 1, server.Len(), "errors do not close connections")
	}))
}

func TestHub_PostRunsOnLoop(t *testing.T) {
	h, _ := startHub(t, 8)
	ran := make(chan struct{})

	require.NoError(t, h.Post(func() { close(ran) }))

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("posted function never ran")
	}
}

func TestHub_PanicDoesNotStopLoop(t *testing.T) {
	h, _ := startHub(t, 8)

	require.NoError(t, h.Post(func() { panic("bad handler") }))
	drain(t, h)
	assert.True(t, h.Running())
}

func TestHub_DoHonoursContext(t *testing.T) {
	h, _ := startHub(t, 8)
	release := make(chan struct{})
	require.NoError(t, h.Post(func() { <-release }))
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := h.Do(ctx, func() {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHub_StopDropsQueuedSignals(t *testing.T) {
	h, server := startHub(t, 8)
	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, h.Post(func() {
		close(started)
		<-release
	}))
	<-started
	h.Opened(sockettest.NewTransport())

	stopped := make(chan error, 1)
	go func() { stopped <- h.Stop() }()
	// Stop waits for the in-flight signal.
	time.Sleep(10 * time.Millisecond)
	close(release)

	require.NoError(t, <-stopped)
	assert.Equal(t, 0, server.Len())
	assert.Equal(t, ErrHubNotRunning, h.Post(func() {}))
}

func TestHub_ContextCancelStopsLoop(t *testing.T) {
	server := socket.NewServer()
	h := NewHub(server, 8, nil)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, h.Start(ctx))

	cancel()
	assert.Eventually(t, func() bool { return !h.Running() }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, ErrHubNotRunning, h.Stop())
}

func TestHub_RestartAfterStop(t *testing.T) {
	h, server := startHub(t, 8)
	require.NoError(t, h.Stop())
	require.NoError(t, h.Start(context.Background()))

	h.Opened(sockettest.NewTransport())
	drain(t, h)
	assert.Equal(t, 1, server.Len())
}
