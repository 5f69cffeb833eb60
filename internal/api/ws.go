package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket plan-event streaming at /v1/ws. Protocol mirrors
// graphql-transport-ws: connection_init/connection_ack, subscribe with a
// planDate payload, next frames per event, complete to end a subscription.

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type wsSubscribePayload struct {
	PlanDate string   `json:"planDate"`
	Events   []string `json:"events"`
}

// WSHandler handles /v1/ws
func (s *Server) WSHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	type sub struct {
		planDate string
		ch       chan SSEEvent
	}
	subs := map[string]sub{}

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error { _ = conn.SetReadDeadline(time.Now().Add(60 * time.Second)); return nil })

	// The ping goroutine and each subscription fan-out write concurrently
	// with the read loop's replies; gorilla allows one writer at a time.
	var writeMu sync.Mutex
	write := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(v)
	}

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		switch msg.Type {
		case "connection_init":
			_ = write(wsMessage{Type: "connection_ack"})
			go func() {
				ticker := time.NewTicker(20 * time.Second)
				defer ticker.Stop()
				for range ticker.C {
					if err := write(wsMessage{Type: "ping"}); err != nil {
						return
					}
				}
			}()
		case "ping":
			_ = write(wsMessage{Type: "pong"})
		case "subscribe":
			var pl wsSubscribePayload
			_ = json.Unmarshal(msg.Payload, &pl)
			if pl.PlanDate == "" {
				_ = write(wsMessage{Type: "error", ID: msg.ID, Payload: []byte(`{"message":"planDate required"}`)})
				_ = write(wsMessage{Type: "complete", ID: msg.ID})
				continue
			}
			if _, err := time.Parse("2006-01-02", pl.PlanDate); err != nil {
				_ = write(wsMessage{Type: "error", ID: msg.ID, Payload: []byte(`{"message":"planDate must be YYYY-MM-DD"}`)})
				_ = write(wsMessage{Type: "complete", ID: msg.ID})
				continue
			}
			wanted := map[string]bool{}
			for _, e := range pl.Events {
				wanted[e] = true
			}
			ch := s.Broker.Subscribe(pl.PlanDate)
			subs[msg.ID] = sub{planDate: pl.PlanDate, ch: ch}
			go func(id string, c chan SSEEvent) {
				for evt := range c {
					if len(wanted) > 0 && !wanted[evt.Type] {
						continue
					}
					payload, _ := json.Marshal(map[string]any{"type": evt.Type, "data": evt.Data})
					_ = write(wsMessage{Type: "next", ID: id, Payload: payload})
				}
				_ = write(wsMessage{Type: "complete", ID: id})
			}(msg.ID, ch)
		case "complete":
			if s0, ok := subs[msg.ID]; ok {
				s.Broker.Unsubscribe(s0.planDate, s0.ch)
				delete(subs, msg.ID)
			}
		default:
			// ignore
		}
	}
	for id, s0 := range subs {
		s.Broker.Unsubscribe(s0.planDate, s0.ch)
		delete(subs, id)
	}
}
