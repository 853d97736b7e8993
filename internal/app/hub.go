package app

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/metrics"
)

var (
	ErrRoomNotFound   = errors.New("room does not exist")
	ErrRoomPersistent = errors.New("room is persistent")
	ErrSessionClosed  = errors.New("session is closing")
	errHubClosed      = errors.New("hub closed")
)

// Options configures a Hub. Zero durations fall back to the defaults below.
type Options struct {
	DefaultRoom    domain.RoomName
	PreloadRooms   []domain.RoomName
	IdleTimeout    time.Duration
	SweepInterval  time.Duration
	ReceiveTimeout time.Duration
	ProbeTimeout   time.Duration
	PersistTimeout time.Duration
	QueueCapacity  int
	// JoinLimit caps room-join messages per client within JoinInterval.
	// Zero disables the limit.
	JoinLimit    int
	JoinInterval time.Duration
	Policy       Policy
	Metrics      *metrics.Metrics
	Tracer       trace.Tracer
	Clock        func() time.Time
}

func (o *Options) setDefaults() {
	if o.DefaultRoom == "" {
		o.DefaultRoom = "default"
	}
	if o.IdleTimeout == 0 {
		o.IdleTimeout = 10 * time.Minute
	}
	if o.SweepInterval == 0 {
		o.SweepInterval = time.Minute
	}
	if o.ReceiveTimeout == 0 {
		o.ReceiveTimeout = 30 * time.Second
	}
	if o.ProbeTimeout == 0 {
		o.ProbeTimeout = 10 * time.Second
	}
	if o.PersistTimeout == 0 {
		o.PersistTimeout = 5 * time.Second
	}
	if o.Policy == nil {
		o.Policy = SimplePolicy{Action: Disconnect}
	}
	if o.Metrics == nil {
		o.Metrics = metrics.New(prometheus.NewRegistry())
	}
	if o.Tracer == nil {
		o.Tracer = otel.Tracer("github.com/dkeye/Huddle/internal/app")
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
}

// Hub is the process-wide registry of rooms and sessions. It owns the
// dispatch table and the store handle.
type Hub struct {
	opts    Options
	store   core.Store
	metrics *metrics.Metrics
	tracer  trace.Tracer

	rooms    *RoomManager
	sessions *Registry
	joins    *JoinLimiter
	nextID   atomic.Int64

	handlersMu sync.RWMutex
	handlers   map[string]Handler

	writersMu sync.Mutex
	writers   map[*core.Room]*roomWriter
	writes    conc.WaitGroup

	// afterLookup, when set, runs between finding a join target and joining
	// it.
	afterLookup func(*core.Room)

	ctx     context.Context
	cancel  context.CancelCauseFunc
	liveMu  sync.Mutex
	closed  bool
	live    sync.WaitGroup
	closing sync.Once
}

func NewHub(store core.Store, opts Options) *Hub {
	opts.setDefaults()
	ctx, cancel := context.WithCancelCause(context.Background())
	h := &Hub{
		opts:     opts,
		store:    store,
		metrics:  opts.Metrics,
		tracer:   opts.Tracer,
		sessions: NewRegistry(),
		joins:    NewJoinLimiter(opts.JoinLimit, opts.JoinInterval, opts.Clock),
		handlers: make(map[string]Handler),
		writers:  make(map[*core.Room]*roomWriter),
		ctx:      ctx,
		cancel:   cancel,
	}
	h.rooms = NewRoomManager(h, core.WithClock(opts.Clock))
	h.registerDefaultHandlers()

	h.CreateRoom(ctx, opts.DefaultRoom, true)
	for _, name := range opts.PreloadRooms {
		h.CreateRoom(ctx, name, true)
	}
	return h
}

// Run sweeps idle rooms until ctx is done or the hub is closed.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.ctx.Done():
			return
		case <-ticker.C:
			h.Sweep()
		}
	}
}

// Serve runs a session on stream until it ends. The stream is closed on
// return.
func (h *Hub) Serve(stream core.Stream) {
	h.liveMu.Lock()
	if h.closed {
		h.liveMu.Unlock()
		_ = stream.Close(core.CloseGoingAway, "server shutting down")
		return
	}
	h.live.Add(1)
	h.liveMu.Unlock()
	defer h.live.Done()

	s := newSession(domain.ClientID(h.nextID.Add(1)), stream, h)
	s.run(h.ctx)
}

func (h *Hub) Session(id domain.ClientID) (*Session, bool) { return h.sessions.Get(id) }

func (h *Hub) SessionCount() int { return h.sessions.Len() }

// SessionInfo is the admin view of one live session.
type SessionInfo struct {
	ID            domain.ClientID `json:"client-id"`
	Name          string          `json:"name"`
	Room          domain.RoomName `json:"room"`
	State         string          `json:"state"`
	BytesSent     int64           `json:"bytes_sent"`
	BytesReceived int64           `json:"bytes_received"`
}

// Sessions lists live sessions ordered by client id.
func (h *Hub) Sessions() []SessionInfo {
	list := h.sessions.List()
	out := make([]SessionInfo, 0, len(list))
	for _, s := range list {
		info := SessionInfo{
			ID:            s.ID(),
			Name:          s.Name(),
			State:         s.State().String(),
			BytesSent:     s.BytesSent(),
			BytesReceived: s.BytesReceived(),
		}
		if room := s.Room(); room != nil {
			info.Room = room.Name()
		}
		out = append(out, info)
	}
	return out
}

func (h *Hub) Rooms() []domain.RoomInfo { return h.rooms.List() }

func (h *Hub) Room(name domain.RoomName) (*core.Room, bool) { return h.rooms.Get(name) }

func (h *Hub) DefaultRoom() domain.RoomName { return h.opts.DefaultRoom }

// CreateRoom returns the named room, creating and loading it on first
// reference.
func (h *Hub) CreateRoom(ctx context.Context, name domain.RoomName, persistent bool) *core.Room {
	room, created := h.rooms.GetOrCreate(ctx, name, persistent)
	if created {
		h.metrics.RoomsActive.Set(float64(h.rooms.Len()))
	}
	return room
}

// JoinRoom moves s into the named room: leave the old room, join the new
// one, then point the session at it. If the target vanishes between lookup
// and join, s goes back where it was and gets room-join-failed.
// A session that is already closing is refused.
func (h *Hub) JoinRoom(s *Session, name domain.RoomName, username string) error {
	s.joinMu.Lock()
	defer s.joinMu.Unlock()
	return h.joinLocked(s, name, username)
}

func (h *Hub) joinLocked(s *Session, name domain.RoomName, username string) error {
	if s.State() >= StateClosing {
		return ErrSessionClosed
	}
	room, ok := h.rooms.Get(name)
	if !ok {
		s.Enqueue(roomJoinFailed(name))
		return ErrRoomNotFound
	}
	if h.afterLookup != nil {
		h.afterLookup(room)
	}
	if username != "" {
		s.setName(username)
	}

	prev := s.Room()
	if prev != nil {
		prev.MemberLeave(s)
	}
	if err := room.MemberJoin(s); err != nil {
		h.rejoin(s, prev)
		s.Enqueue(roomJoinFailed(name))
		return ErrRoomNotFound
	}
	s.setRoom(room)
	log.Debug().Str("module", "app.hub").Stringer("client_id", s.ID()).Str("room", string(name)).Msg("joined room")
	return nil
}

// rejoin puts s back into prev, or into the default room if prev is gone.
func (h *Hub) rejoin(s *Session, prev *core.Room) {
	if prev != nil && prev.MemberJoin(s) == nil {
		return
	}
	def := h.CreateRoom(h.ctx, h.opts.DefaultRoom, true)
	if err := def.MemberJoin(s); err != nil {
		s.setRoom(nil)
		return
	}
	s.setRoom(def)
}

func (h *Hub) joinDefault(s *Session) error {
	s.joinMu.Lock()
	defer s.joinMu.Unlock()
	room := h.CreateRoom(h.ctx, h.opts.DefaultRoom, true)
	if err := room.MemberJoin(s); err != nil {
		return err
	}
	s.setRoom(room)
	return nil
}

// leave takes s out of its room for good.
func (h *Hub) leave(s *Session) {
	s.joinMu.Lock()
	defer s.joinMu.Unlock()
	if room := s.Room(); room != nil {
		room.MemberLeave(s)
		s.setRoom(nil)
	}
}

// Sweep evicts non-persistent rooms that have been empty longer than the
// idle timeout.
func (h *Hub) Sweep() []domain.RoomName {
	evicted := h.rooms.Sweep(h.opts.Clock(), h.opts.IdleTimeout)
	names := make([]domain.RoomName, 0, len(evicted))
	for _, room := range evicted {
		h.dropWriter(room)
		names = append(names, room.Name())
		log.Info().Str("module", "app.hub").Str("room", string(room.Name())).Msg("idle room evicted")
	}
	if len(evicted) > 0 {
		h.metrics.RoomsEvicted.Add(float64(len(evicted)))
		h.metrics.RoomsActive.Set(float64(h.rooms.Len()))
	}
	return names
}

// EvictRoom removes a non-persistent room at once; its members are moved
// to the default room.
func (h *Hub) EvictRoom(name domain.RoomName) error {
	room, ok := h.rooms.Get(name)
	if !ok {
		return ErrRoomNotFound
	}
	if room.Persistent() {
		return ErrRoomPersistent
	}
	if _, ok := h.rooms.Remove(name); !ok {
		return ErrRoomNotFound
	}
	for _, m := range room.Members() {
		s, ok := h.sessions.Get(m.ID())
		if !ok {
			room.MemberLeave(m)
			continue
		}
		if err := h.evacuate(s, room); err != nil && !errors.Is(err, ErrSessionClosed) {
			log.Error().Err(err).Str("module", "app.hub").Stringer("client_id", s.ID()).Msg("move to default room")
		}
	}
	h.dropWriter(room)
	h.metrics.RoomsEvicted.Inc()
	h.metrics.RoomsActive.Set(float64(h.rooms.Len()))
	log.Info().Str("module", "app.hub").Str("room", string(name)).Msg("room evicted")
	return nil
}

// evacuate moves s from the evicted room to the default room. Sessions that
// already left it are not touched.
func (h *Hub) evacuate(s *Session, from *core.Room) error {
	s.joinMu.Lock()
	defer s.joinMu.Unlock()
	if s.Room() != from {
		return nil
	}
	return h.joinLocked(s, h.opts.DefaultRoom, "")
}

// Close stops accepting sessions, ends the live ones, waits for pending
// writes and closes the store.
func (h *Hub) Close() error {
	var err error
	h.closing.Do(func() {
		h.liveMu.Lock()
		h.closed = true
		h.liveMu.Unlock()
		h.cancel(errHubClosed)
		h.live.Wait()
		h.writes.Wait()
		if h.store != nil {
			err = h.store.Close()
		}
		log.Info().Str("module", "app.hub").Msg("hub closed")
	})
	return err
}
