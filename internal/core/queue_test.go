package core

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestQueueFIFO(t *testing.T) {
	q := NewQueue(0)
	for i := 0; i < 100; i++ {
		if err := q.Push(i); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		msg, err := q.Pop(ctx)
		if err != nil {
			t.Fatalf("pop: %v", err)
		}
		if msg.(int) != i {
			t.Fatalf("Expected %d, got %v", i, msg)
		}
	}
}

func TestQueueOverflow(t *testing.T) {
	q := NewQueue(2)
	_ = q.Push(1)
	_ = q.Push(2)
	if err := q.Push(3); !errors.Is(err, ErrQueueOverflow) {
		t.Errorf("Expected ErrQueueOverflow, got %v", err)
	}
	if q.Len() != 2 {
		t.Errorf("Expected 2 items, got %d", q.Len())
	}
}

func TestQueuePopBlocksUntilPush(t *testing.T) {
	q := NewQueue(0)
	got := make(chan any, 1)
	go func() {
		msg, _ := q.Pop(context.Background())
		got <- msg
	}()

	select {
	case <-got:
		t.Fatal("Pop returned before anything was pushed")
	case <-time.After(20 * time.Millisecond):
	}
	_ = q.Push("hello")
	select {
	case msg := <-got:
		if msg != "hello" {
			t.Errorf("Expected hello, got %v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("Pop did not wake up")
	}
}

func TestQueuePopCancel(t *testing.T) {
	q := NewQueue(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := q.Pop(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}

	// a cancelled pop leaves the queue intact
	_ = q.Push(1)
	if q.Len() != 1 {
		t.Errorf("Expected 1 item, got %d", q.Len())
	}
}

func TestQueueClose(t *testing.T) {
	q := NewQueue(0)
	_ = q.Push(1)
	q.Close()
	if err := q.Push(2); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Expected ErrQueueClosed, got %v", err)
	}
	if _, err := q.Pop(context.Background()); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Expected ErrQueueClosed, got %v", err)
	}
}
