// Package main runs a demo WebSocket client against a local API server:
// it seeds a plan, subscribes to its events, then optimizes and applies so
// frames show up on the socket.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func post(base, path string, body any, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, base+path, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s: status %d", path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)
	planDate := time.Now().AddDate(0, 0, 1).Format("2006-01-02")

	items := map[string]any{"items": []map[string]any{
		{"clientId": "demo-1", "lat": 37.501, "lng": 127.036},
		{"clientId": "demo-2", "lat": 37.512, "lng": 127.047},
		{"clientId": "demo-3", "lat": 37.524, "lng": 127.028},
	}}
	if err := post(base, "/v1/plans/"+planDate+"/items", items, nil); err != nil {
		log.Fatal(err)
	}
	log.Printf("seeded plan %s", planDate)

	// Subscribe before triggering anything so no frame is missed.
	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/ws"}
	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	if err := c.WriteJSON(wsMessage{Type: "connection_init"}); err != nil {
		log.Fatal(err)
	}
	pl, _ := json.Marshal(map[string]any{"planDate": planDate})
	if err := c.WriteJSON(wsMessage{Type: "subscribe", ID: "1", Payload: pl}); err != nil {
		log.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m wsMessage
			if err := c.ReadJSON(&m); err != nil {
				log.Printf("read: %v", err)
				return
			}
			log.Printf("WS <- %s: %s", m.Type, string(m.Payload))
		}
	}()

	time.Sleep(200 * time.Millisecond)

	var cand struct {
		ID string `json:"id"`
	}
	optimize := map[string]any{
		"origin":    map[string]any{"lat": 37.495, "lng": 127.030},
		"departure": "09:00",
	}
	if err := post(base, "/v1/plans/"+planDate+"/optimize", optimize, &cand); err != nil {
		log.Fatal(err)
	}
	log.Printf("candidate %s", cand.ID)

	if err := post(base, "/v1/plans/"+planDate+"/apply", map[string]any{"candidateId": cand.ID}, nil); err != nil {
		log.Fatal(err)
	}

	select {
	case <-time.After(2 * time.Second):
	case <-done:
	}
}
