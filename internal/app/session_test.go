package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/mock/gomock"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/core/mocks"
	"github.com/dkeye/Huddle/internal/metrics"
	"github.com/dkeye/Huddle/internal/protocol"
)

func TestKeepAliveFailureClosesSession(t *testing.T) {
	ctrl := gomock.NewController(t)
	stream := mocks.NewMockStream(ctrl)

	stream.EXPECT().RemoteAddr().Return("10.0.0.1:5000").AnyTimes()
	stream.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	stream.EXPECT().Receive(gomock.Any(), 30*time.Second).Return(nil, core.ErrTimeout)
	stream.EXPECT().Probe(gomock.Any(), 10*time.Second).Return(core.ErrTimeout)
	stream.EXPECT().Close(closePolicyViolation, "keepalive").Return(nil)

	h := NewHub(nil, Options{})
	defer h.Close()
	h.Serve(stream)

	if h.SessionCount() != 0 {
		t.Errorf("Expected no sessions, got %d", h.SessionCount())
	}
	if room, _ := h.Room("default"); room.MemberCount() != 0 {
		t.Errorf("Expected empty default room, got %d members", room.MemberCount())
	}
}

func TestKeepAliveProbeSuccessKeepsSession(t *testing.T) {
	ctrl := gomock.NewController(t)
	stream := mocks.NewMockStream(ctrl)

	stream.EXPECT().RemoteAddr().Return("10.0.0.1:5000").AnyTimes()
	stream.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	gomock.InOrder(
		stream.EXPECT().Receive(gomock.Any(), gomock.Any()).Return(nil, core.ErrTimeout),
		stream.EXPECT().Probe(gomock.Any(), gomock.Any()).Return(nil),
		stream.EXPECT().Receive(gomock.Any(), gomock.Any()).Return([]byte(`{"type":"key-set","key":"k","value":1}`), nil),
		stream.EXPECT().Receive(gomock.Any(), gomock.Any()).Return(nil, &core.CloseError{Code: core.CloseGoingAway}),
	)
	stream.EXPECT().Close(core.CloseGoingAway, "normal").Return(nil)

	h := NewHub(nil, Options{})
	defer h.Close()
	h.Serve(stream)

	room, _ := h.Room("default")
	if v, ok := room.Snapshot().Get("k"); !ok || string(v) != "1" {
		t.Errorf("Expected k=1, got %s (%v)", v, ok)
	}
}

func TestPersistFailureIsSwallowed(t *testing.T) {
	ctrl := gomock.NewController(t)
	st := mocks.NewMockStore(ctrl)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	st.EXPECT().Load(gomock.Any(), "default").Return(nil, false, nil)
	st.EXPECT().Store(gomock.Any(), "default", gomock.Any()).Return(errors.New("disk full")).Times(2)
	st.EXPECT().Close().Return(nil)

	h := NewHub(st, Options{Metrics: m})
	a, _ := connect(t, h)
	b, _ := connect(t, h)
	a.expect(t, "room-client-join")

	a.send(t, `{"type":"key-set","key":"k","value":true}`)
	b.expect(t, "key-set")
	h.Flush()
	a.send(t, `{"type":"key-set","key":"k","value":false}`)
	b.expect(t, "key-set")
	h.Flush()

	if got := testutil.ToFloat64(m.Persists.WithLabelValues("error")); got != 2 {
		t.Errorf("Expected 2 failed persists, got %v", got)
	}
	// both sessions are still served
	a.send(t, `{"type":"text-message","text":"still here"}`)
	b.expect(t, "text-message")

	if err := h.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestPersistedStateIsLoadedOnCreate(t *testing.T) {
	ctrl := gomock.NewController(t)
	st := mocks.NewMockStore(ctrl)

	st.EXPECT().Load(gomock.Any(), "default").Return(nil, false, nil)
	st.EXPECT().Load(gomock.Any(), "saved").Return([]byte(`{"b":2,"a":1}`), true, nil)
	st.EXPECT().Close().Return(nil)

	h := NewHub(st, Options{})
	defer h.Close()
	room := h.CreateRoom(context.Background(), "saved", false)
	if got := room.Snapshot().Keys(); len(got) != 2 || got[0] != "b" || got[1] != "a" {
		t.Errorf("Expected keys [b a], got %v", got)
	}
}

func TestStaleWritesAreSkipped(t *testing.T) {
	ctrl := gomock.NewController(t)
	st := mocks.NewMockStore(ctrl)
	st.EXPECT().Load(gomock.Any(), gomock.Any()).Return(nil, false, nil).AnyTimes()
	st.EXPECT().Store(gomock.Any(), "r", []byte(`{"v":2}`)).Return(nil)
	st.EXPECT().Close().Return(nil)

	h := NewHub(st, Options{})
	defer h.Close()
	room := h.CreateRoom(context.Background(), "r", false)

	w := h.writer(room)
	h.write(w, "r", 2, []byte(`{"v":2}`))
	h.write(w, "r", 1, []byte(`{"v":1}`))

	if got := testutil.ToFloat64(h.metrics.Persists.WithLabelValues("stale")); got != 1 {
		t.Errorf("Expected 1 stale write, got %v", got)
	}
}

func TestOverflowPolicy(t *testing.T) {
	tests := []struct {
		name   string
		action OverflowAction
		kicked bool
	}{
		{"drop", DropMessage, false},
		{"disconnect", Disconnect, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHub(nil, Options{QueueCapacity: 1, Policy: SimplePolicy{Action: tt.action}})
			defer h.Close()
			s := newSession(1, newFakeStream(), h)

			ctx, cancel := context.WithCancelCause(context.Background())
			defer cancel(nil)
			s.cancel.Store(&cancel)

			if err := s.Enqueue(protocol.NewError("one")); err != nil {
				t.Fatalf("first enqueue: %v", err)
			}
			if err := s.Enqueue(protocol.NewError("two")); !errors.Is(err, core.ErrQueueOverflow) {
				t.Fatalf("Expected ErrQueueOverflow, got %v", err)
			}
			kicked := errors.Is(context.Cause(ctx), core.ErrQueueOverflow)
			if kicked != tt.kicked {
				t.Errorf("Expected kicked=%v, got %v", tt.kicked, kicked)
			}
			if got := testutil.ToFloat64(h.metrics.QueueOverflows); got != 1 {
				t.Errorf("Expected 1 overflow, got %v", got)
			}
		})
	}
}

func TestParseOverflowAction(t *testing.T) {
	for in, want := range map[string]OverflowAction{"": Disconnect, "disconnect": Disconnect, "drop": DropMessage} {
		got, err := ParseOverflowAction(in)
		if err != nil || got != want {
			t.Errorf("%q: Expected %v, got %v (%v)", in, want, got, err)
		}
	}
	if _, err := ParseOverflowAction("block"); err == nil {
		t.Error("Expected an error for an unknown action")
	}
}

func TestClassify(t *testing.T) {
	s := newSession(1, newFakeStream(), NewHub(nil, Options{}))
	tests := []struct {
		err    error
		reason string
		code   int
	}{
		{nil, "normal", core.CloseNormal},
		{&core.CloseError{Code: core.CloseGoingAway}, "normal", core.CloseGoingAway},
		{&core.CloseError{Code: 1006, Reason: "eof"}, "abnormal", 1006},
		{ErrKeepAlive, "keepalive", closePolicyViolation},
		{core.ErrQueueOverflow, "overflow", closePolicyViolation},
		{errHubClosed, "shutdown", core.CloseGoingAway},
		{errors.New("boom"), "error", closeInternalError},
	}
	for _, tt := range tests {
		reason, code := s.classify(tt.err)
		if reason != tt.reason || code != tt.code {
			t.Errorf("%v: Expected (%s, %d), got (%s, %d)", tt.err, tt.reason, tt.code, reason, code)
		}
	}
}

func TestJoinLimiter(t *testing.T) {
	now := time.Unix(0, 0)
	l := NewJoinLimiter(2, 10*time.Second, func() time.Time { return now })

	if !l.Allow(1) || !l.Allow(1) {
		t.Fatal("Expected the first two joins to pass")
	}
	if l.Allow(1) {
		t.Error("Expected the third join to be throttled")
	}
	if !l.Allow(2) {
		t.Error("Expected another client to be unaffected")
	}
	now = now.Add(11 * time.Second)
	if !l.Allow(1) {
		t.Error("Expected the window to slide")
	}

	l.Forget(1)
	var off *JoinLimiter
	if !off.Allow(1) || NewJoinLimiter(0, time.Second, nil) != nil {
		t.Error("Expected a disabled limiter to allow everything")
	}
}
