// Package ws adapts gorilla/websocket connections to core.Stream.
package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Huddle/internal/core"
)

type Options struct {
	ReadLimit    int64
	WriteTimeout time.Duration
	// Origins is checked by Upgrade. Empty or "*" accepts any origin.
	Origins *OriginPolicy
}

// Upgrade accepts the websocket handshake and starts the stream's reader.
func Upgrade(w http.ResponseWriter, r *http.Request, opts Options) (*Stream, error) {
	upgrader := websocket.Upgrader{CheckOrigin: opts.Origins.Allowed}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return NewStream(conn, opts), nil
}

// Stream is a core.Stream over one websocket connection.
//
// gorilla connections do not survive a read deadline, so a background
// reader owns the socket and hands frames over a channel; Receive applies
// the timeout to the channel instead.
type Stream struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	incoming chan []byte
	activity chan struct{}
	readErr  error
	done     chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func NewStream(conn *websocket.Conn, opts Options) *Stream {
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.ReadLimit > 0 {
		conn.SetReadLimit(opts.ReadLimit)
	}
	s := &Stream{
		conn:         conn,
		writeTimeout: opts.WriteTimeout,
		incoming:     make(chan []byte),
		activity:     make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
	conn.SetPongHandler(func(string) error {
		s.touch()
		return nil
	})
	go s.readLoop()
	return s
}

func (s *Stream) readLoop() {
	defer close(s.incoming)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.readErr = closeError(err)
			return
		}
		s.touch()
		select {
		case s.incoming <- data:
		case <-s.done:
			s.readErr = core.ErrStreamClosed
			return
		}
	}
}

// touch records that the peer is alive.
func (s *Stream) touch() {
	select {
	case s.activity <- struct{}{}:
	default:
	}
}

func (s *Stream) Receive(ctx context.Context, timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case data, ok := <-s.incoming:
		if !ok {
			return nil, s.readErr
		}
		return data, nil
	case <-timer.C:
		return nil, core.ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Stream) Send(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// Probe pings the peer and waits for the pong. Any inbound frame counts as
// an answer.
func (s *Stream) Probe(ctx context.Context, timeout time.Duration) error {
	select {
	case <-s.activity:
	default:
	}
	if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.writeTimeout)); err != nil {
		return err
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-s.activity:
		return nil
	case <-timer.C:
		return core.ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Stream) RemoteAddr() string { return s.conn.RemoteAddr().String() }

// Close sends a close frame when the code may appear on the wire, then
// drops the connection. Safe to call more than once.
func (s *Stream) Close(code int, reason string) error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		if sendable(code) {
			msg := websocket.FormatCloseMessage(code, reason)
			if werr := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.writeTimeout)); werr != nil &&
				!errors.Is(werr, websocket.ErrCloseSent) {
				log.Debug().Err(werr).Str("module", "adapters.ws").Msg("write close frame")
			}
		}
		err = s.conn.Close()
	})
	return err
}

func sendable(code int) bool {
	switch code {
	case websocket.CloseNoStatusReceived, websocket.CloseAbnormalClosure, websocket.CloseTLSHandshake:
		return false
	}
	return code >= 1000 && code < 5000
}

func closeError(err error) error {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return &core.CloseError{Code: ce.Code, Reason: ce.Text}
	}
	return &core.CloseError{Code: websocket.CloseAbnormalClosure, Reason: err.Error()}
}
