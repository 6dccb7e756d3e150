package diag

import (
	"encoding/json"
	"log"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"terracast.dev/internal/diag"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	srv := NewServer(Hello{TickRateHz: 20, ChunkSize: 64, Seed: 1337}, 1000, log.New(testWriter{t}, "", 0))
	ts := httptest.NewServer(srv.WSHandler())
	t.Cleanup(ts.Close)
	t.Cleanup(srv.Close)
	return srv, ts
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimSpace(string(p)))
	return len(p), nil
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHelloOnConnect(t *testing.T) {
	_, ts := newTestServer(t)
	conn := dial(t, ts)

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, b, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read hello: %v", err)
	}
	var hello diag.HelloMsg
	if err := json.Unmarshal(b, &hello); err != nil {
		t.Fatalf("unmarshal hello: %v", err)
	}
	if hello.Type != "HELLO" || hello.ProtocolVersion != diag.Version {
		t.Fatalf("unexpected hello: %+v", hello)
	}
	if hello.SessionID == "" {
		t.Fatalf("hello missing session id")
	}
	if hello.TickRateHz != 20 || hello.ChunkSize != 64 || hello.Seed != 1337 {
		t.Fatalf("hello params not carried: %+v", hello)
	}
}

func TestBroadcastReachesSession(t *testing.T) {
	srv, ts := newTestServer(t)
	conn := dial(t, ts)

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); err != nil {
		t.Fatalf("read hello: %v", err)
	}

	// The session registers before HELLO reaches the client, but poll anyway
	// so the test does not race the handler goroutine.
	deadline := time.Now().Add(2 * time.Second)
	for srv.SessionCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if srv.SessionCount() != 1 {
		t.Fatalf("expected 1 session, got %d", srv.SessionCount())
	}

	srv.Broadcast(diag.StatsMsg{Type: "STATS", Tick: 42, ActiveChunks: 7})

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, b, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read stats: %v", err)
	}
	var stats diag.StatsMsg
	if err := json.Unmarshal(b, &stats); err != nil {
		t.Fatalf("unmarshal stats: %v", err)
	}
	if stats.Type != "STATS" || stats.Tick != 42 || stats.ActiveChunks != 7 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestBroadcastRateLimited(t *testing.T) {
	srv := NewServer(Hello{TickRateHz: 20, ChunkSize: 64, Seed: 1}, 0, log.New(testWriter{t}, "", 0))
	defer srv.Close()

	// A zero limit still grants the initial burst token; burn it before any
	// session is registered, then check the next snapshot is dropped.
	srv.Broadcast(diag.StatsMsg{Type: "STATS", Tick: 0})

	sess := &session{id: "s", out: make(chan []byte, 1)}
	srv.mu.Lock()
	srv.sessions[sess.id] = sess
	srv.mu.Unlock()

	srv.Broadcast(diag.StatsMsg{Type: "STATS", Tick: 1})
	select {
	case b := <-sess.out:
		t.Fatalf("rate-limited broadcast delivered: %s", b)
	default:
	}
}

func TestCloseDropsSessions(t *testing.T) {
	srv, ts := newTestServer(t)
	conn := dial(t, ts)

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); err != nil {
		t.Fatalf("read hello: %v", err)
	}
	srv.Close()

	deadline := time.Now().Add(2 * time.Second)
	for srv.SessionCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if n := srv.SessionCount(); n != 0 {
		t.Fatalf("expected 0 sessions after close, got %d", n)
	}
}
