package app

import (
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Huddle/internal/domain"
)

// Registry holds every live session by client id.
type Registry struct {
	mu       sync.RWMutex
	sessions map[domain.ClientID]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[domain.ClientID]*Session)}
}

func (r *Registry) Bind(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID()] = s
	log.Debug().Str("module", "app.registry").Stringer("client_id", s.ID()).Msg("bound session")
}

// Unbind reports whether the session was still registered.
func (r *Registry) Unbind(id domain.ClientID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	log.Debug().Str("module", "app.registry").Stringer("client_id", id).Msg("unbound session")
	return true
}

func (r *Registry) Get(id domain.ClientID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// List returns sessions ordered by id.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}
