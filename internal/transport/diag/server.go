// Package diag serves the read-only diagnostics feed over websocket.
package diag

import (
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"terracast.dev/internal/diag"
)

// Hello is the static part of the HELLO message sent to every new session.
type Hello struct {
	TickRateHz int
	ChunkSize  float64
	Seed       int64
}

type session struct {
	id  string
	out chan []byte
}

// Server accepts loopback websocket sessions and fans snapshots out to them.
// Broadcast never blocks the caller: slow sessions drop messages.
type Server struct {
	hello Hello
	log   *log.Logger

	upgrader websocket.Upgrader
	limiter  *rate.Limiter

	mu       sync.Mutex
	sessions map[string]*session
}

// NewServer builds a Server. maxStatsPerSec caps the broadcast rate; excess
// snapshots are silently dropped so the owner loop never pays for observers.
func NewServer(hello Hello, maxStatsPerSec float64, logger *log.Logger) *Server {
	return &Server{
		hello: hello,
		log:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		limiter:  rate.NewLimiter(rate.Limit(maxStatsPerSec), 1),
		sessions: make(map[string]*session),
	}
}

// WSHandler upgrades the connection, sends HELLO and streams STATS until the
// client goes away.
func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sess := &session{
			id:  uuid.NewString(),
			out: make(chan []byte, 64),
		}

		hello, err := json.Marshal(diag.HelloMsg{
			Type:            "HELLO",
			ProtocolVersion: diag.Version,
			SessionID:       sess.id,
			TickRateHz:      s.hello.TickRateHz,
			ChunkSize:       s.hello.ChunkSize,
			Seed:            s.hello.Seed,
		})
		if err != nil {
			return
		}
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, hello); err != nil {
			return
		}

		s.mu.Lock()
		s.sessions[sess.id] = sess
		s.mu.Unlock()
		defer s.drop(sess.id)
		s.log.Printf("diag: session %s connected from %s", sess.id, r.RemoteAddr)

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for b := range sess.out {
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					writeErr <- err
					return
				}
			}
			writeErr <- nil
		}()

		// Reader loop: the feed is one-way, so any inbound traffic is just a
		// liveness signal. Exit on read error or writer failure.
		readErr := make(chan error, 1)
		go func() {
			for {
				_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
				if _, _, err := conn.ReadMessage(); err != nil {
					readErr <- err
					return
				}
			}
		}()

		select {
		case <-writeErr:
		case <-readErr:
		}
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
		s.log.Printf("diag: session %s closed", sess.id)
	}
}

// Broadcast sends one stats snapshot to every connected session, subject to
// the rate limit. Sessions whose buffers are full miss this snapshot.
func (s *Server) Broadcast(msg diag.StatsMsg) {
	if !s.limiter.Allow() {
		return
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		select {
		case sess.out <- b:
		default:
			// Slow consumer; drop rather than stall the tick.
		}
	}
}

// SessionCount reports the number of connected sessions.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Close drops every session. Handlers unwind when their writers finish.
func (s *Server) Close() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		s.drop(id)
	}
}

// drop deregisters a session and closes its outbound channel exactly once.
func (s *Server) drop(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		delete(s.sessions, id)
		close(sess.out)
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
