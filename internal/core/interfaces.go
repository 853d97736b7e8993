package core

//go:generate mockgen -source=interfaces.go -destination=mocks/mock_core.go -package=mocks -exclude_interfaces=Persister

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/Huddle/internal/domain"
)

var (
	ErrRoomClosed    = errors.New("room closed")
	ErrTimeout       = errors.New("receive timeout")
	ErrStreamClosed  = errors.New("stream closed")
	ErrQueueOverflow = errors.New("outgoing queue overflow")
	ErrQueueClosed   = errors.New("outgoing queue closed")
)

// Member is what a room stores and fans out to.
// Enqueue must never block; delivery is the member's own business.
type Member interface {
	ID() domain.ClientID
	Name() string
	Enqueue(msg any) error
}

// Stream abstracts a bidirectional message transport.
// Owned by the adapter; the session must Close() it.
type Stream interface {
	// Receive waits at most timeout for the next message and returns
	// ErrTimeout if none arrived. Closure is reported as a *CloseError.
	Receive(ctx context.Context, timeout time.Duration) ([]byte, error)
	Send(ctx context.Context, data []byte) error
	// Probe sends a liveness probe and waits for its acknowledgment.
	Probe(ctx context.Context, timeout time.Duration) error
	RemoteAddr() string
	Close(code int, reason string) error
}

// Store is the durable blob store, keyed by room name.
type Store interface {
	Store(ctx context.Context, key string, value []byte) error
	// Load returns ok=false when nothing is stored under key.
	Load(ctx context.Context, key string) (value []byte, ok bool, err error)
	Close() error
}

// Persister is the room's view of persistence. Persist must not block on
// I/O; seq orders the snapshots of one room instance.
type Persister interface {
	Persist(room *Room, seq uint64, data []byte)
	Load(ctx context.Context, room domain.RoomName) ([]byte, bool, error)
}

// PublishResult reports delivery stats of a broadcast.
type PublishResult struct {
	SentTo  int
	Dropped []Member
}
