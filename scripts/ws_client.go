// Package main runs a demo WebSocket client for simulation events.
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

const demoSimulation = `{
  "fleet": {
    "depot": {"id": "depot", "location": {"lat": 40.7128, "lng": -74.0060}},
    "vehicles": [{"id": "v1", "capacity": 20}, {"id": "v2", "capacity": 20}],
    "returnToDepot": true
  },
  "stops": [
    {"id": "s1", "location": {"lat": 40.7306, "lng": -73.9866}},
    {"id": "s2", "location": {"lat": 40.7061, "lng": -74.0087}},
    {"id": "s3", "location": {"lat": 40.7580, "lng": -73.9855}},
    {"id": "s4", "location": {"lat": 40.6892, "lng": -74.0445}}
  ]
}`

func post(base, path, body string) *http.Response {
	req, _ := http.NewRequest(http.MethodPost, base+path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal(err)
	}
	return resp
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	// Create a simulation with an initial plan
	resp := post(base, "/v1/simulations", demoSimulation)
	var created struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		log.Fatal(err)
	}
	_ = resp.Body.Close()
	if created.SessionID == "" {
		log.Fatalf("create simulation failed: status %d", resp.StatusCode)
	}
	log.Printf("Session ID: %s", created.SessionID)

	// Connect WS
	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/simulations/" + created.SessionID + "/ws"}
	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

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

	// Drive the simulation and add a ticket midway
	for i := 0; i < 10; i++ {
		_ = post(base, "/v1/simulations/"+created.SessionID+"/tick", `{"seconds":10}`).Body.Close()
		if i == 3 {
			_ = post(base, "/v1/simulations/"+created.SessionID+"/tickets",
				`{"stop":{"id":"late-1","location":{"lat":40.7411,"lng":-73.9897}}}`).Body.Close()
		}
		time.Sleep(200 * time.Millisecond)
	}
	_ = c.WriteJSON(wsMessage{Type: "complete"})

	select {
	case <-time.After(2 * time.Second):
	case <-done:
	}
}
