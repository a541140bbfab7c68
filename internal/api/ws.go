package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

// wsMessage is the envelope for both directions. Clients send "ping",
// "snapshot" or "complete"; the server sends "connection_ack", "next",
// "snapshot", "pong" and "complete".
type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SimulationWSHandler handles GET /v1/simulations/{id}/ws and streams the
// session's events until the client completes or disconnects.
func (s *Server) SimulationWSHandler(w http.ResponseWriter, r *http.Request, id string) {
	e, err := s.Sessions.Get(id)
	if err != nil {
		writeError(w, r, "Websocket failed", err)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	var wmu sync.Mutex
	write := func(v any) error {
		wmu.Lock()
		defer wmu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(v)
	}

	conn.SetReadLimit(1 << 16)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error { _ = conn.SetReadDeadline(time.Now().Add(60 * time.Second)); return nil })

	ch := s.Broker.Subscribe(id)
	done := make(chan struct{})
	defer func() {
		close(done)
		s.Broker.Unsubscribe(id, ch)
	}()

	snap, _ := json.Marshal(e.Snapshot())
	if err := write(wsMessage{Type: "connection_ack", ID: id, Payload: snap}); err != nil {
		return
	}

	// fan out events and keepalive pings
	go func() {
		ticker := time.NewTicker(20 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case evt, ok := <-ch:
				if !ok {
					return
				}
				payload, _ := json.Marshal(evt)
				if err := write(wsMessage{Type: "next", ID: id, Payload: payload}); err != nil {
					return
				}
			case <-ticker.C:
				wmu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
				wmu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		switch msg.Type {
		case "ping":
			_ = write(wsMessage{Type: "pong"})
		case "snapshot":
			b, _ := json.Marshal(e.Snapshot())
			_ = write(wsMessage{Type: "snapshot", ID: id, Payload: b})
		case "complete":
			_ = write(wsMessage{Type: "complete", ID: id})
			return
		default:
			// ignore
		}
	}
}
