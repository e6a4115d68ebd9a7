package interfaces

import "roomcast/pkg/types"

// Transport is one bidirectional message session as seen by the core.
// Handshake, framing and upgrade negotiation live behind this interface.
type Transport interface {
	// Send hands a payload to the transport without blocking. onError, when
	// non-nil, is invoked on the run loop if the transport reports a failure.
	Send(payload []byte, onError func(error))

	// State reports the transport's readiness. The core never sets it.
	State() types.State

	// Close starts closing the session. The close signal arrives later
	// through the TransportSink.
	Close() error

	// RemoteAddr identifies the peer for logging and inspection.
	RemoteAddr() string
}

// TransportSink receives transport-originated signals. Implementations
// serialize them onto a single run loop.
type TransportSink interface {
	Opened(t Transport)
	Message(t Transport, payload []byte)
	Closed(t Transport)
	Failed(t Transport, err error)

	// ServerError reports a failure that belongs to no single session, such
	// as a failed upgrade handshake.
	ServerError(err error)

	// Post schedules fn on the run loop.
	Post(fn func()) error

	// Running reports whether signals are currently being handled. Acceptors
	// refuse new sessions while it is false.
	Running() bool
}

// IDGenerator produces unique connection identities.
type IDGenerator func() string
