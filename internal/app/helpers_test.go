package app

import (
	"context"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/dkeye/Huddle/internal/adapters/store"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
)

// fakeStream is an in-memory core.Stream driven by the test.
type fakeStream struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}

	mu        sync.Mutex
	code      int
	reason    string
	closeOnce sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		in:     make(chan []byte, 16),
		out:    make(chan []byte, 256),
		closed: make(chan struct{}),
	}
}

func (s *fakeStream) Receive(ctx context.Context, timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case data, ok := <-s.in:
		if !ok {
			return nil, &core.CloseError{Code: core.CloseNormal}
		}
		return data, nil
	case <-timer.C:
		return nil, core.ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *fakeStream) Send(ctx context.Context, data []byte) error {
	select {
	case s.out <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *fakeStream) Probe(context.Context, time.Duration) error { return nil }

func (s *fakeStream) RemoteAddr() string { return "fake" }

func (s *fakeStream) Close(code int, reason string) error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.code, s.reason = code, reason
		s.mu.Unlock()
		close(s.closed)
	})
	return nil
}

func (s *fakeStream) closeCode() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.code
}

func (s *fakeStream) send(t *testing.T, msg string) {
	t.Helper()
	select {
	case s.in <- []byte(msg):
	case <-time.After(time.Second):
		t.Fatal("inbound channel full")
	}
}

// next returns the next outbound message.
func (s *fakeStream) next(t *testing.T) map[string]any {
	t.Helper()
	select {
	case data := <-s.out:
		var msg map[string]any
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("decode %s: %v", data, err)
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a message")
		return nil
	}
}

// expect returns the next outbound message and fails unless it has type typ.
func (s *fakeStream) expect(t *testing.T, typ string) map[string]any {
	t.Helper()
	msg := s.next(t)
	if msg["type"] != typ {
		t.Fatalf("Expected %s, got %v", typ, msg)
	}
	return msg
}

func (s *fakeStream) waitClosed(t *testing.T) int {
	t.Helper()
	select {
	case <-s.closed:
		return s.closeCode()
	case <-time.After(2 * time.Second):
		t.Fatal("stream was not closed")
		return 0
	}
}

func newTestHub(t *testing.T, opts Options) *Hub {
	t.Helper()
	h := NewHub(store.NewMemory(), opts)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

// connect serves a new fake client and consumes its welcome.
func connect(t *testing.T, h *Hub) (*fakeStream, domain.ClientID) {
	t.Helper()
	s := newFakeStream()
	go h.Serve(s)
	welcome := s.expect(t, "room-join-success")
	s.expect(t, "state")
	return s, domain.ClientID(welcome["client-id"].(float64))
}
