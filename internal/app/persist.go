package app

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
)

// roomWriter serializes the writes of one room and remembers the newest
// snapshot written, so a slow older write never overwrites a newer one.
type roomWriter struct {
	mu  sync.Mutex
	seq uint64
}

// Persist implements core.Persister. The write happens on its own
// goroutine; failures are logged and counted, never returned.
func (h *Hub) Persist(room *core.Room, seq uint64, data []byte) {
	if h.store == nil {
		return
	}
	w := h.writer(room)
	h.writes.Go(func() {
		h.write(w, room.Name(), seq, data)
	})
}

// Load implements core.Persister.
func (h *Hub) Load(ctx context.Context, room domain.RoomName) ([]byte, bool, error) {
	if h.store == nil {
		return nil, false, nil
	}
	ctx, span := h.tracer.Start(ctx, "hub.load", trace.WithAttributes(attribute.String("room", string(room))))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, h.opts.PersistTimeout)
	defer cancel()

	data, ok, err := h.store.Load(ctx, string(room))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return data, ok, err
}

func (h *Hub) write(w *roomWriter, room domain.RoomName, seq uint64, data []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if seq <= w.seq {
		h.metrics.Persists.WithLabelValues("stale").Inc()
		return
	}
	w.seq = seq

	ctx, span := h.tracer.Start(context.Background(), "hub.persist", trace.WithAttributes(
		attribute.String("room", string(room)),
		attribute.Int("bytes", len(data)),
	))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, h.opts.PersistTimeout)
	defer cancel()

	start := time.Now()
	err := h.store.Store(ctx, string(room), data)
	h.metrics.PersistDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.metrics.Persists.WithLabelValues("error").Inc()
		log.Error().Err(err).Str("module", "app.persist").Str("room", string(room)).Msg("persist failed")
		return
	}
	h.metrics.Persists.WithLabelValues("ok").Inc()
	log.Debug().Str("module", "app.persist").Str("room", string(room)).Uint64("seq", seq).Int("bytes", len(data)).Msg("state persisted")
}

func (h *Hub) writer(room *core.Room) *roomWriter {
	h.writersMu.Lock()
	defer h.writersMu.Unlock()
	w, ok := h.writers[room]
	if !ok {
		w = &roomWriter{}
		h.writers[room] = w
	}
	return w
}

func (h *Hub) dropWriter(room *core.Room) {
	h.writersMu.Lock()
	delete(h.writers, room)
	h.writersMu.Unlock()
}

// Flush waits for every write issued so far.
func (h *Hub) Flush() {
	h.writes.Wait()
}
