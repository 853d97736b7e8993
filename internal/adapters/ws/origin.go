package ws

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"
)

// OriginPolicy decides which browser origins may open a websocket.
// A nil policy accepts everything.
type OriginPolicy struct {
	allowAll bool
	allowed  map[string]struct{}
}

// NewOriginPolicy normalizes origins to scheme://host. Invalid entries are
// skipped with a warning.
func NewOriginPolicy(origins []string) *OriginPolicy {
	p := &OriginPolicy{allowed: make(map[string]struct{})}
	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		switch {
		case trimmed == "":
			continue
		case trimmed == "*":
			p.allowAll = true
			continue
		}
		normalized, ok := normalizeOrigin(trimmed)
		if !ok {
			log.Warn().Str("module", "adapters.ws").Str("origin", origin).Msg("ignoring invalid origin")
			continue
		}
		p.allowed[normalized] = struct{}{}
	}
	if len(p.allowed) == 0 {
		p.allowAll = true
	}
	return p
}

// Allowed is a websocket.Upgrader CheckOrigin func. Requests without an
// Origin header come from non-browser clients and are accepted.
func (p *OriginPolicy) Allowed(r *http.Request) bool {
	if p == nil || p.allowAll {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	normalized, ok := normalizeOrigin(origin)
	if !ok {
		return false
	}
	_, ok = p.allowed[normalized]
	if !ok {
		log.Warn().Str("module", "adapters.ws").Str("origin", origin).Msg("origin rejected")
	}
	return ok
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}
