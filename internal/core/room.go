package core

import (
	"context"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/protocol"
)

// Room owns the membership and the shared state of one named room.
// All fields behind mu change together; broadcasts are enqueued while mu is
// held so every member sees them in issue order.
// Persistence runs after mu is released on a captured snapshot.
type Room struct {
	name       domain.RoomName
	persistent bool
	persister  Persister
	now        func() time.Time
	log        zerolog.Logger

	mu          sync.Mutex
	members     *orderedmap.OrderedMap[domain.ClientID, Member]
	state       *State
	wentEmptyAt time.Time
	closed      bool
	seq         uint64
}

type RoomOption func(*Room)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) RoomOption {
	return func(r *Room) { r.now = now }
}

func NewRoom(name domain.RoomName, persistent bool, persister Persister, opts ...RoomOption) *Room {
	r := &Room{
		name:       name,
		persistent: persistent,
		persister:  persister,
		now:        time.Now,
		members:    orderedmap.New[domain.ClientID, Member](),
		state:      NewState(),
		log:        log.With().Str("module", "core.room").Str("room", string(name)).Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.wentEmptyAt = r.now()
	return r
}

func (r *Room) Name() domain.RoomName { return r.name }

func (r *Room) Persistent() bool { return r.persistent }

// TryLoadState adopts the persisted document, if any. A document that does
// not parse leaves the current state in place.
func (r *Room) TryLoadState(ctx context.Context) {
	if r.persister == nil {
		return
	}
	data, ok, err := r.persister.Load(ctx, r.name)
	if err != nil {
		r.log.Error().Err(err).Msg("load state failed")
		return
	}
	if !ok {
		return
	}
	st, err := ParseState(data)
	if err != nil {
		r.log.Warn().Err(err).Msg("persisted state rejected, keeping current state")
		return
	}
	r.mu.Lock()
	r.state = st
	r.mu.Unlock()
	r.log.Info().Int("keys", st.Len()).Msg("state loaded")
}

// MemberJoin adds m, announces it to the others and sends m its welcome,
// roster and state snapshot.
func (r *Room) MemberJoin(m Member) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRoomClosed
	}

	r.members.Set(m.ID(), m)
	r.wentEmptyAt = time.Time{}

	self := domain.MemberDTO{Name: m.Name(), CID: m.ID()}
	r.broadcastLocked(protocol.NewClientJoin(self, r.name), m.ID())
	r.sendLocked(m, protocol.NewRoomJoinSuccess(r.name, m.ID(), r.rosterLocked(m.ID())))
	r.sendLocked(m, protocol.NewState(r.state.Clone()))

	r.log.Debug().Stringer("client_id", m.ID()).Int("members", r.members.Len()).Msg("member joined")
	return nil
}

// MemberLeave removes m and tells the remaining members. Unknown members
// are ignored.
func (r *Room) MemberLeave(m Member) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members.Delete(m.ID()); !ok {
		return
	}
	if r.members.Len() == 0 {
		r.wentEmptyAt = r.now()
	}
	r.broadcastLocked(protocol.NewClientLeave(domain.MemberDTO{Name: m.Name(), CID: m.ID()}, r.name))
	r.log.Debug().Stringer("client_id", m.ID()).Int("members", r.members.Len()).Msg("member left")
}

// SendState sends m a private copy of the current state.
func (r *Room) SendState(m Member) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sendLocked(m, protocol.NewState(r.state.Clone()))
}

// ForceSetState replaces the whole document. A value that is not a JSON
// object is refused with a warning; members then receive the retained state.
func (r *Room) ForceSetState(raw json.RawMessage, exclude ...domain.ClientID) {
	st, err := ParseState(raw)

	r.mu.Lock()
	if err != nil {
		r.log.Warn().Err(err).Msg("pushed state rejected, keeping current state")
	} else {
		r.state = st
	}
	ex := excludeSet(exclude)
	for pair := r.members.Oldest(); pair != nil; pair = pair.Next() {
		if _, skip := ex[pair.Key]; skip {
			continue
		}
		r.sendLocked(pair.Value, protocol.NewState(r.state.Clone()))
	}
	if err != nil {
		r.mu.Unlock()
		return
	}
	seq, data := r.captureLocked()
	r.mu.Unlock()

	r.persist(seq, data)
}

// SetKey upserts one key. Last write wins.
func (r *Room) SetKey(from domain.ClientID, key string, value json.RawMessage) {
	r.mu.Lock()
	r.state.Set(key, value)
	r.broadcastLocked(protocol.NewKeySet(key, cloneRaw(value)), from)
	seq, data := r.captureLocked()
	r.mu.Unlock()

	r.persist(seq, data)
}

// DeleteKey removes one key; deleting an absent key is not an error.
func (r *Room) DeleteKey(from domain.ClientID, key string) {
	r.mu.Lock()
	r.state.Delete(key)
	r.broadcastLocked(protocol.NewKeyDelete(key), from)
	seq, data := r.captureLocked()
	r.mu.Unlock()

	r.persist(seq, data)
}

// Broadcast enqueues msg to every member not excluded.
func (r *Room) Broadcast(msg any, exclude ...domain.ClientID) PublishResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.broadcastLocked(msg, exclude...)
}

// Snapshot returns a private copy of the state.
func (r *Room) Snapshot() *State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Clone()
}

// Roster lists members in join order, leaving out exclude.
func (r *Room) Roster(exclude ...domain.ClientID) []domain.MemberDTO {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rosterLocked(exclude...)
}

// Members returns the current members in join order.
func (r *Room) Members() []Member {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Member, 0, r.members.Len())
	for pair := r.members.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

func (r *Room) HasMember(id domain.ClientID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.members.Get(id)
	return ok
}

func (r *Room) MemberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.members.Len()
}

// WentEmptyAt is zero while the room has members.
func (r *Room) WentEmptyAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.wentEmptyAt
}

func (r *Room) Info() domain.RoomInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return domain.RoomInfo{Name: r.name, MemberCount: r.members.Len(), Persistent: r.persistent}
}

// CloseIfIdle closes a non-persistent room that has been empty for at least
// idle. A closed room refuses joins.
func (r *Room) CloseIfIdle(now time.Time, idle time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.persistent || r.closed || r.members.Len() > 0 || r.wentEmptyAt.IsZero() {
		return false
	}
	if now.Sub(r.wentEmptyAt) < idle {
		return false
	}
	r.closed = true
	return true
}

func (r *Room) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Room) broadcastLocked(msg any, exclude ...domain.ClientID) PublishResult {
	ex := excludeSet(exclude)
	res := PublishResult{}
	for pair := r.members.Oldest(); pair != nil; pair = pair.Next() {
		if _, skip := ex[pair.Key]; skip {
			continue
		}
		if err := pair.Value.Enqueue(msg); err != nil {
			res.Dropped = append(res.Dropped, pair.Value)
			continue
		}
		res.SentTo++
	}
	if len(res.Dropped) > 0 {
		r.log.Warn().Int("sent_to", res.SentTo).Int("dropped", len(res.Dropped)).Msg("broadcast dropped")
	}
	return res
}

func (r *Room) sendLocked(m Member, msg any) {
	if err := m.Enqueue(msg); err != nil {
		r.log.Warn().Err(err).Stringer("client_id", m.ID()).Msg("send dropped")
	}
}

func (r *Room) rosterLocked(exclude ...domain.ClientID) []domain.MemberDTO {
	ex := excludeSet(exclude)
	out := make([]domain.MemberDTO, 0, r.members.Len())
	for pair := r.members.Oldest(); pair != nil; pair = pair.Next() {
		if _, skip := ex[pair.Key]; skip {
			continue
		}
		out = append(out, domain.MemberDTO{Name: pair.Value.Name(), CID: pair.Key})
	}
	return out
}

func (r *Room) captureLocked() (uint64, []byte) {
	r.seq++
	data, err := r.state.MarshalJSON()
	if err != nil {
		r.log.Error().Err(err).Msg("serialize state")
		return r.seq, nil
	}
	return r.seq, data
}

func (r *Room) persist(seq uint64, data []byte) {
	if r.persister == nil || data == nil {
		return
	}
	r.persister.Persist(r, seq, data)
}

func excludeSet(ids []domain.ClientID) map[domain.ClientID]struct{} {
	if len(ids) == 0 {
		return nil
	}
	set := make(map[domain.ClientID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// Close makes the room refuse further joins. Current members stay until
// they leave.
func (r *Room) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}
