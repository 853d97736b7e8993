package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
)

var ErrKeepAlive = errors.New("keep-alive timeout")

type SessionState int32

const (
	StateHandshaking SessionState = iota
	StateJoinedDefault
	StateActive
	StateClosing
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateJoinedDefault:
		return "joined_default"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Session is the server side of one connection. It implements core.Member.
type Session struct {
	id     domain.ClientID
	connID string
	stream core.Stream
	queue  *core.Queue
	hub    *Hub
	log    zerolog.Logger

	// joinMu serializes room switches; mu guards user and room.
	joinMu sync.Mutex
	mu     sync.Mutex
	user   *domain.User
	room   *core.Room

	state         atomic.Int32
	bytesSent     atomic.Int64
	bytesReceived atomic.Int64
	cancel        atomic.Pointer[context.CancelCauseFunc]
}

func newSession(id domain.ClientID, stream core.Stream, hub *Hub) *Session {
	connID := uuid.NewString()
	return &Session{
		id:     id,
		connID: connID,
		stream: stream,
		queue:  core.NewQueue(hub.opts.QueueCapacity),
		hub:    hub,
		user:   domain.NewUser(id),
		log: log.With().
			Str("module", "app.session").
			Stringer("client_id", id).
			Str("conn_id", connID).
			Logger(),
	}
}

func (s *Session) ID() domain.ClientID { return s.id }

func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user.Username
}

func (s *Session) setName(name string) {
	s.mu.Lock()
	s.user.Username = name
	s.mu.Unlock()
}

// Room is nil only before the default join and after teardown.
func (s *Session) Room() *core.Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

func (s *Session) setRoom(r *core.Room) {
	s.mu.Lock()
	s.room = r
	s.mu.Unlock()
}

func (s *Session) State() SessionState { return SessionState(s.state.Load()) }

func (s *Session) BytesSent() int64 { return s.bytesSent.Load() }

func (s *Session) BytesReceived() int64 { return s.bytesReceived.Load() }

func (s *Session) dto() domain.MemberDTO {
	return domain.MemberDTO{Name: s.Name(), CID: s.id}
}

// Enqueue hands msg to the outbound duty. On a full bounded queue the
// hub's policy either drops msg or disconnects the session.
func (s *Session) Enqueue(msg any) error {
	err := s.queue.Push(msg)
	if !errors.Is(err, core.ErrQueueOverflow) {
		return err
	}
	s.hub.metrics.QueueOverflows.Inc()
	if s.hub.opts.Policy.OnOverflow(s) == Disconnect {
		s.kick(core.ErrQueueOverflow)
	}
	return err
}

func (s *Session) kick(cause error) {
	if cancel := s.cancel.Load(); cancel != nil {
		(*cancel)(cause)
	}
}

// run drives the session from handshake to teardown. It returns once both
// duties have stopped and the session is gone from its room and the hub.
func (s *Session) run(parent context.Context) {
	ctx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)
	s.cancel.Store(&cancel)

	s.log.Info().Str("remote", s.stream.RemoteAddr()).Msg("connection accepted")
	s.hub.sessions.Bind(s)
	s.hub.metrics.SessionsActive.Inc()
	if err := s.hub.joinDefault(s); err != nil {
		s.log.Error().Err(err).Msg("default room join failed")
	}
	s.state.Store(int32(StateJoinedDefault))

	err := s.runDuties(ctx)
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		err = cause
	}
	s.teardown(err)
}

func (s *Session) runDuties(ctx context.Context) error {
	p := pool.New().WithContext(ctx).WithCancelOnError().WithFirstError()
	p.Go(s.guard("inbound", s.inbound))
	p.Go(s.guard("outbound", s.outbound))
	return p.Wait()
}

// guard turns a panic in a duty into an error so the other duty is
// cancelled instead of the process going down.
func (s *Session) guard(name string, duty func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%s duty panic: %v", name, r)
			}
		}()
		return duty(ctx)
	}
}

func (s *Session) inbound(ctx context.Context) error {
	for {
		data, err := s.stream.Receive(ctx, s.hub.opts.ReceiveTimeout)
		if errors.Is(err, core.ErrTimeout) {
			if perr := s.stream.Probe(ctx, s.hub.opts.ProbeTimeout); perr != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("%w: %v", ErrKeepAlive, perr)
			}
			continue
		}
		if err != nil {
			return err
		}

		s.bytesReceived.Add(int64(len(data)))
		s.hub.metrics.BytesReceived.Add(float64(len(data)))
		s.state.CompareAndSwap(int32(StateJoinedDefault), int32(StateActive))
		s.hub.Dispatch(ctx, s, data)
	}
}

func (s *Session) outbound(ctx context.Context) error {
	for {
		msg, err := s.queue.Pop(ctx)
		if err != nil {
			return err
		}
		data, err := json.Marshal(msg)
		if err != nil {
			s.log.Error().Err(err).Msg("encode outgoing message")
			continue
		}
		if err := s.stream.Send(ctx, data); err != nil {
			return err
		}
		s.bytesSent.Add(int64(len(data)))
		s.hub.metrics.BytesSent.Add(float64(len(data)))
		s.hub.metrics.MessagesSent.Inc()
	}
}

func (s *Session) teardown(err error) {
	s.state.Store(int32(StateClosing))
	s.queue.Close()

	reason, code := s.classify(err)
	s.hub.leave(s)
	s.hub.joins.Forget(s.id)
	if s.hub.sessions.Unbind(s.id) {
		s.hub.metrics.SessionsActive.Dec()
		s.hub.metrics.SessionsClosed.WithLabelValues(reason).Inc()
	}
	if cerr := s.stream.Close(code, reason); cerr != nil {
		s.log.Debug().Err(cerr).Msg("stream close")
	}

	s.state.Store(int32(StateClosed))
	s.log.Debug().
		Int64("kb", (s.bytesSent.Load()+s.bytesReceived.Load())/1024).
		Msg("connection traffic")
	s.log.Info().Str("reason", reason).Msg("connection closed")
}

// classify logs the teardown cause and picks the close code to send.
func (s *Session) classify(err error) (string, int) {
	var ce *core.CloseError
	switch {
	case err == nil:
		return "normal", core.CloseNormal
	case errors.As(err, &ce) && ce.Normal():
		s.log.Debug().Int("code", ce.Code).Msg("peer closed")
		return "normal", ce.Code
	case errors.As(err, &ce):
		s.log.Warn().Int("code", ce.Code).Str("close_reason", ce.Reason).Msg("connection closed abnormally")
		return "abnormal", ce.Code
	case errors.Is(err, ErrKeepAlive):
		s.log.Warn().Err(err).Msg("keep-alive failed")
		return "keepalive", closePolicyViolation
	case errors.Is(err, core.ErrQueueOverflow):
		s.log.Warn().Msg("outgoing queue overflow")
		return "overflow", closePolicyViolation
	case errors.Is(err, errHubClosed), errors.Is(err, context.Canceled):
		return "shutdown", core.CloseGoingAway
	default:
		s.log.Error().Err(err).Msg("connection terminated")
		return "error", closeInternalError
	}
}

const (
	closePolicyViolation = 1008
	closeInternalError   = 1011
)
