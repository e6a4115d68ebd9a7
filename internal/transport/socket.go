// Package transport adapts gorilla/websocket connections to the core's
// Transport and TransportSink contracts.
package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"roomcast/pkg/interfaces"
	"roomcast/pkg/types"
)

type outbound struct {
	payload []byte
	onError func(error)
}

// Socket is one upgraded websocket session. A single writer goroutine owns
// every write; the read pump runs on the goroutine that called Run.
type Socket struct {
	conn   *websocket.Conn
	sink   interfaces.TransportSink
	cfg    Config
	logger *zap.Logger
	addr   string

	writeCh    chan outbound
	state      atomic.Int32
	ctx        context.Context
	cancel     context.CancelFunc
	writerDone chan struct{}
	closeOnce  sync.Once
}

var _ interfaces.Transport = (*Socket)(nil)

// NewSocket wraps an upgraded connection. The handshake is complete, so the
// socket starts OPEN.
func NewSocket(conn *websocket.Conn, sink interfaces.TransportSink, cfg Config, logger *zap.Logger) *Socket {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	addr := conn.RemoteAddr().String()
	s := &Socket{
		conn:       conn,
		sink:       sink,
		cfg:        cfg,
		logger:     logger.With(zap.String("remote_addr", addr)),
		addr:       addr,
		writeCh:    make(chan outbound, cfg.BufferSize),
		ctx:        ctx,
		cancel:     cancel,
		writerDone: make(chan struct{}),
	}
	s.state.Store(int32(types.StateOpen))
	return s
}

// Run reports the session to the sink, pumps inbound frames until the
// connection ends and then reports closure. It blocks for the session's
// lifetime.
func (s *Socket) Run() {
	go s.writeLoop()
	s.sink.Opened(s)

	s.readLoop()

	s.state.CompareAndSwap(int32(types.StateOpen), int32(types.StateClosing))
	s.cancel()
	<-s.writerDone
	if err := s.conn.Close(); err != nil {
		s.logger.Debug("close underlying connection", zap.Error(err))
	}
	s.state.Store(int32(types.StateClosed))
	s.sink.Closed(s)
}

// Send enqueues payload without blocking. A full queue or a socket that is no
// longer OPEN is reported to onError immediately.
func (s *Socket) Send(payload []byte, onError func(error)) {
	if s.State() != types.StateOpen {
		report(onError, types.ErrConnectionClosed)
		return
	}
	select {
	case s.writeCh <- outbound{payload: payload, onError: onError}:
	default:
		report(onError, types.ErrSendBufferFull)
	}
}

func (s *Socket) State() types.State {
	return types.State(s.state.Load())
}

// Close starts the closing handshake. The sink's Closed signal follows once
// the read pump has ended.
func (s *Socket) Close() error {
	s.closeOnce.Do(func() {
		s.state.CompareAndSwap(int32(types.StateOpen), int32(types.StateClosing))
		s.cancel()
	})
	return nil
}

func (s *Socket) RemoteAddr() string {
	return s.addr
}

func (s *Socket) readLoop() {
	s.conn.SetReadLimit(s.cfg.MaxMessageSize)
	if err := s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout)); err != nil {
		s.logger.Debug("set read deadline", zap.Error(err))
		return
	}
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	})

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.State() == types.StateOpen && !websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
				websocket.CloseAbnormalClosure,
			) {
				s.logger.Debug("read failed", zap.Error(err))
				s.sink.Failed(s, err)
			}
			return
		}
		if messageType == websocket.TextMessage || messageType == websocket.BinaryMessage {
			s.sink.Message(s, data)
		}
	}
}

func (s *Socket) writeLoop() {
	defer close(s.writerDone)

	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-s.writeCh:
			if err := s.write(msg.payload); err != nil {
				s.writeFailed(msg, err)
				return
			}

		case <-ticker.C:
			deadline := time.Now().Add(s.cfg.WriteTimeout)
			if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				s.logger.Debug("ping failed", zap.Error(err))
				s.abort()
				return
			}

		case <-s.ctx.Done():
			s.sendCloseFrame()
			return
		}
	}
}

func (s *Socket) write(payload []byte) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

// writeFailed routes the failure to the emitter's callback when it gave one,
// otherwise to the connection's error callbacks, then tears the socket down.
func (s *Socket) writeFailed(msg outbound, err error) {
	s.logger.Debug("write failed", zap.Error(err))
	if msg.onError != nil {
		if postErr := s.sink.Post(func() { msg.onError(err) }); postErr != nil {
			s.logger.Debug("write error not delivered", zap.Error(postErr))
		}
	} else {
		s.sink.Failed(s, err)
	}
	s.abort()
}

// sendCloseFrame tells the peer we are going away and bounds how long the
// read pump waits for its reply.
func (s *Socket) sendCloseFrame() {
	deadline := time.Now().Add(s.cfg.WriteTimeout)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := s.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		s.logger.Debug("close frame not sent", zap.Error(err))
		_ = s.conn.Close()
		return
	}
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		_ = s.conn.Close()
	}
}

// abort unblocks the read pump after a write-side failure.
func (s *Socket) abort() {
	s.state.CompareAndSwap(int32(types.StateOpen), int32(types.StateClosing))
	_ = s.conn.Close()
}

func report(onError func(error), err error) {
	if onError != nil {
		onError(err)
	}
}
