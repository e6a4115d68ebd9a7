// Package sockettest provides an in-memory Transport for exercising the core
// without a network.
package sockettest

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"roomcast/pkg/types"
)

var counter atomic.Int64

// Transport records every payload handed to Send.
type Transport struct {
	mu      sync.Mutex
	addr    string
	state   types.State
	sent    [][]byte
	sendErr error
	closes  int
}

func NewTransport() *Transport {
	n := counter.Add(1)
	return &Transport{
		addr:  fmt.Sprintf("10.0.0.%d:5000", n),
		state: types.StateOpen,
	}
}

// Send records payload, or reports the injected failure through onError.
func (t *Transport) Send(payload []byte, onError func(error)) {
	t.mu.Lock()
	err := t.sendErr
	if err == nil && t.state != types.StateOpen {
		err = types.ErrConnectionClosed
	}
	if err == nil {
		t.sent = append(t.sent, payload)
	}
	t.mu.Unlock()

	if err != nil && onError != nil {
		onError(err)
	}
}

func (t *Transport) State() types.State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// SetState simulates the transport changing readiness.
func (t *Transport) SetState(s types.State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

// FailSends makes every subsequent Send report err. Pass nil to recover.
func (t *Transport) FailSends(err error) {
	t.mu.Lock()
	t.sendErr = err
	t.mu.Unlock()
}

func (t *Transport) Close() error {
	t.mu.Lock()
	t.closes++
	t.state = types.StateClosing
	t.mu.Unlock()
	return nil
}

// Closes returns how many times Close was called.
func (t *Transport) Closes() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closes
}

func (t *Transport) RemoteAddr() string {
	return t.addr
}

// Sent returns a copy of every recorded payload.
func (t *Transport) Sent() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.sent))
	copy(out, t.sent)
	return out
}

// Envelopes decodes every recorded payload. Undecodable payloads panic,
// since the core only ever sends what the codec produced.
func (t *Transport) Envelopes() []types.Envelope {
	var out []types.Envelope
	for _, payload := range t.Sent() {
		var env types.Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			panic(fmt.Sprintf("sockettest: undecodable payload %q: %v", payload, err))
		}
		out = append(out, env)
	}
	return out
}

// Events lists the event names of every recorded payload.
func (t *Transport) Events() []string {
	var out []string
	for _, env := range t.Envelopes() {
		out = append(out, env.Event)
	}
	return out
}

// Reset forgets recorded payloads.
func (t *Transport) Reset() {
	t.mu.Lock()
	t.sent = nil
	t.mu.Unlock()
}

// SequentialIDs returns a deterministic id generator: prefix-1, prefix-2, ...
func SequentialIDs(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}
