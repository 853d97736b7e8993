package app

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
)

// RoomManager is the registry of live rooms. A room is loaded from the
// store before it is published, so no member can join it with stale state.
// Loads run outside mu; concurrent creators of one name share a single load.
type RoomManager struct {
	mu        sync.RWMutex
	rooms     map[domain.RoomName]*core.Room
	loads     singleflight.Group
	persister core.Persister
	roomOpts  []core.RoomOption
}

func NewRoomManager(persister core.Persister, opts ...core.RoomOption) *RoomManager {
	return &RoomManager{
		rooms:     make(map[domain.RoomName]*core.Room),
		persister: persister,
		roomOpts:  opts,
	}
}

// GetOrCreate reports created=true when this call made the room.
func (f *RoomManager) GetOrCreate(ctx context.Context, name domain.RoomName, persistent bool) (*core.Room, bool) {
	if room, ok := f.lookup(name); ok {
		return room, false
	}

	created := false
	v, _, _ := f.loads.Do(string(name), func() (any, error) {
		if room, ok := f.lookup(name); ok {
			return room, nil
		}
		room := core.NewRoom(name, persistent, f.persister, f.roomOpts...)
		room.TryLoadState(ctx)

		f.mu.Lock()
		f.rooms[name] = room
		f.mu.Unlock()
		created = true
		log.Info().Str("module", "app.rooms").Str("room", string(name)).Bool("persistent", persistent).Msg("room created")
		return room, nil
	})
	return v.(*core.Room), created
}

func (f *RoomManager) lookup(name domain.RoomName) (*core.Room, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	room, ok := f.rooms[name]
	return room, ok
}

// Get returns only rooms that still accept members.
func (f *RoomManager) Get(name domain.RoomName) (*core.Room, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	room, ok := f.rooms[name]
	if !ok || room.Closed() {
		return nil, false
	}
	return room, true
}

func (f *RoomManager) List() []domain.RoomInfo {
	f.mu.RLock()
	out := make([]domain.RoomInfo, 0, len(f.rooms))
	for _, r := range f.rooms {
		out = append(out, r.Info())
	}
	f.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (f *RoomManager) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.rooms)
}

// Remove closes the room and drops it from the registry.
func (f *RoomManager) Remove(name domain.RoomName) (*core.Room, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[name]
	if !ok {
		return nil, false
	}
	room.Close()
	delete(f.rooms, name)
	return room, true
}

// Sweep drops every room that has been idle for at least idle.
func (f *RoomManager) Sweep(now time.Time, idle time.Duration) []*core.Room {
	f.mu.Lock()
	defer f.mu.Unlock()
	var evicted []*core.Room
	for name, room := range f.rooms {
		if room.CloseIfIdle(now, idle) {
			delete(f.rooms, name)
			evicted = append(evicted, room)
		}
	}
	return evicted
}
