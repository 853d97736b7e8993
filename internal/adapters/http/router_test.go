package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dkeye/Huddle/internal/adapters/store"
	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/config"
	"github.com/dkeye/Huddle/internal/metrics"
)

func newTestServer(t *testing.T) (*httptest.Server, *app.Hub) {
	t.Helper()
	reg := prometheus.NewRegistry()
	hub := app.NewHub(store.NewMemory(), app.Options{Metrics: metrics.New(reg)})
	cfg := &config.Config{Mode: "release", StaticPath: t.TempDir() + "/missing", ReadLimit: 1 << 16, WriteTimeout: time.Second}
	srv := httptest.NewServer(SetupRouter(cfg, hub, reg))
	t.Cleanup(func() {
		_ = hub.Close()
		srv.Close()
	})
	return srv, hub
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readType(t *testing.T, conn *websocket.Conn, typ string) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg map[string]any
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg["type"] != typ {
		t.Fatalf("Expected %s, got %v", typ, msg)
	}
	return msg
}

func TestWebSocketSession(t *testing.T) {
	srv, _ := newTestServer(t)

	a := dial(t, srv)
	readType(t, a, "room-join-success")
	readType(t, a, "state")

	b := dial(t, srv)
	readType(t, b, "room-join-success")
	readType(t, b, "state")
	readType(t, a, "room-client-join")

	if err := a.WriteMessage(websocket.TextMessage, []byte(`{"type":"key-set","key":"x","value":[1,2]}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	got := readType(t, b, "key-set")
	if got["key"] != "x" {
		t.Errorf("Unexpected key-set %v", got)
	}

	if err := b.WriteMessage(websocket.TextMessage, []byte(`garbage`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if e := readType(t, b, "error"); e["text"] != "Bad message" {
		t.Errorf("Unexpected error %v", e)
	}

	_ = b.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	readType(t, a, "room-client-leave")
}

func TestRoomsAPI(t *testing.T) {
	srv, hub := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/rooms", "application/json", strings.NewReader(`{"name":"lab"}`))
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("Expected status code %d, got %d", http.StatusCreated, resp.StatusCode)
	}

	resp, err = http.Post(srv.URL+"/api/rooms", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status code %d, got %d", http.StatusBadRequest, resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/api/rooms")
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	var list struct {
		Rooms []struct {
			Name       string `json:"name"`
			Persistent bool   `json:"persistent"`
		} `json:"rooms"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	if len(list.Rooms) != 2 || list.Rooms[0].Name != "default" || list.Rooms[1].Name != "lab" {
		t.Errorf("Unexpected rooms %+v", list.Rooms)
	}

	room, _ := hub.Room("lab")
	room.SetKey(0, "k", []byte(`"v"`))
	resp, err = http.Get(srv.URL + "/api/rooms/lab/state")
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	var state map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&state)
	resp.Body.Close()
	if state["k"] != "v" {
		t.Errorf("Unexpected state %v", state)
	}

	for _, tc := range []struct {
		path string
		want int
	}{
		{"/api/rooms/default", http.StatusConflict},
		{"/api/rooms/lab", http.StatusNoContent},
		{"/api/rooms/lab", http.StatusNotFound},
	} {
		req, _ := http.NewRequest(http.MethodDelete, srv.URL+tc.path, nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("Failed to make request: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != tc.want {
			t.Errorf("DELETE %s: Expected status code %d, got %d", tc.path, tc.want, resp.StatusCode)
		}
	}

	resp, err = http.Get(srv.URL + "/api/rooms/lab")
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected status code %d, got %d", http.StatusNotFound, resp.StatusCode)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status code %d, got %d", http.StatusOK, resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status code %d, got %d", http.StatusOK, resp.StatusCode)
	}
}

func TestCORSPreflight(t *testing.T) {
	reg := prometheus.NewRegistry()
	hub := app.NewHub(nil, app.Options{Metrics: metrics.New(reg)})
	defer hub.Close()
	cfg := &config.Config{Mode: "release", Origins: []string{"https://app.example.com"}}
	srv := httptest.NewServer(Handler(cfg, hub, reg))
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/api/rooms", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("Expected allowed origin header, got %q", got)
	}
}
