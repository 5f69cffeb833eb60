package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialWS(t *testing.T, s *Server) (*websocket.Conn, func()) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(s.WSHandler))
	u := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		srv.Close()
		t.Fatalf("dial: %v", err)
	}
	return conn, func() { _ = conn.Close(); srv.Close() }
}

func TestWSSubscribeReceivesEvents(t *testing.T) {
	s := newTestServer(t)
	conn, done := dialWS(t, s)
	defer done()

	if err := conn.WriteJSON(wsMessage{Type: "connection_init"}); err != nil {
		t.Fatalf("init: %v", err)
	}
	var ack wsMessage
	if err := conn.ReadJSON(&ack); err != nil || ack.Type != "connection_ack" {
		t.Fatalf("ack = %+v err = %v", ack, err)
	}

	pl, _ := json.Marshal(map[string]any{"planDate": "2026-09-01"})
	if err := conn.WriteJSON(wsMessage{Type: "subscribe", ID: "1", Payload: pl}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	s.Broker.Publish("2026-09-01", SSEEvent{Type: "plan.applied", Data: map[string]any{"planDate": "2026-09-01"}})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var next wsMessage
	if err := conn.ReadJSON(&next); err != nil {
		t.Fatalf("read: %v", err)
	}
	if next.Type != "next" || next.ID != "1" {
		t.Fatalf("frame = %+v", next)
	}
}

func TestWSSubscribeRejectsBadDate(t *testing.T) {
	s := newTestServer(t)
	conn, done := dialWS(t, s)
	defer done()

	pl, _ := json.Marshal(map[string]any{"planDate": "not-a-date"})
	if err := conn.WriteJSON(wsMessage{Type: "subscribe", ID: "1", Payload: pl}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var errMsg wsMessage
	if err := conn.ReadJSON(&errMsg); err != nil || errMsg.Type != "error" {
		t.Fatalf("frame = %+v err = %v", errMsg, err)
	}
}

// Event fan-out, the server ping loop, and read-loop replies all write to
// the same connection; the race detector flags any unserialized writes.
func TestWSConcurrentWriters(t *testing.T) {
	s := newTestServer(t)
	conn, done := dialWS(t, s)
	defer done()

	if err := conn.WriteJSON(wsMessage{Type: "connection_init"}); err != nil {
		t.Fatalf("init: %v", err)
	}
	pl, _ := json.Marshal(map[string]any{"planDate": "2026-09-01"})
	if err := conn.WriteJSON(wsMessage{Type: "subscribe", ID: "1", Payload: pl}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	const events = 20
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < events/4; j++ {
				s.Broker.Publish("2026-09-01", SSEEvent{Type: "plan.applied", Data: map[string]any{"n": j}})
			}
		}()
	}
	// Interleave client pings so the read loop writes pongs at the same time.
	for i := 0; i < 5; i++ {
		if err := conn.WriteJSON(wsMessage{Type: "ping"}); err != nil {
			t.Fatalf("ping: %v", err)
		}
	}
	wg.Wait()

	// The broker may drop events when a subscriber lags; what matters here
	// is that every frame that does arrive is intact.
	deadline := time.Now().Add(time.Second)
	got := 0
	for got < events && time.Now().Before(deadline) {
		_ = conn.SetReadDeadline(deadline)
		var m wsMessage
		if err := conn.ReadJSON(&m); err != nil {
			break
		}
		switch m.Type {
		case "next":
			got++
		case "connection_ack", "pong", "ping":
		default:
			t.Fatalf("unexpected frame %+v", m)
		}
	}
	if got == 0 {
		t.Fatalf("no event frames received")
	}
}
