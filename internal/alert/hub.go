// Package alert implements the live wash_detected broadcast feed (§6 GET
// /api/v1/stream) and an in-memory alert history with optional webhook
// fan-out, adapted from the teacher's CoinJoin-alert dashboard hub.
package alert

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // dashboard may be served from a different origin
	},
}

// Hub maintains the set of active websocket clients and broadcasts
// wash_detected events to all of them. It satisfies the orchestrator.Hub
// interface, so the orchestrator can broadcast without importing gin or
// gorilla/websocket directly.
type Hub struct {
	clients   map[*websocket.Conn]bool
	broadcast chan []byte
	mu        sync.Mutex
}

func NewHub() *Hub {
	return &Hub{
		broadcast: make(chan []byte, 256),
		clients:   make(map[*websocket.Conn]bool),
	}
}

// Run drains the broadcast channel and fans each message out to every
// connected client. Call it once, in its own goroutine, before serving.
func (h *Hub) Run() {
	for message := range h.broadcast {
		h.mu.Lock()
		for client := range h.clients {
			_ = client.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("[alert] websocket write error: %v", err)
				client.Close()
				delete(h.clients, client)
			}
		}
		h.mu.Unlock()
	}
}

// Subscribe upgrades an incoming request to a websocket connection and
// registers it as a broadcast recipient (GET /api/v1/stream).
func (h *Hub) Subscribe(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[alert] failed to upgrade websocket: %v", err)
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	n := len(h.clients)
	h.mu.Unlock()
	log.Printf("[alert] client connected, total=%d", n)

	go func() {
		defer func() {
			h.mu.Lock()
			delete(h.clients, conn)
			n := len(h.clients)
			h.mu.Unlock()
			conn.Close()
			log.Printf("[alert] client disconnected, total=%d", n)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("[alert] websocket error: %v", err)
				}
				return
			}
		}
	}()
}

// Broadcast sends a raw JSON payload to every connected client.
func (h *Hub) Broadcast(data []byte) {
	h.broadcast <- data
}

// washDetectedEvent is the wire shape of a §6 "wash_detected" stream event.
type washDetectedEvent struct {
	Type          string   `json:"type"`
	SCCHash       string   `json:"sccHash"`
	WindowSeconds int64    `json:"windowSeconds"`
	TxIDs         []string `json:"txIds"`
}

// BroadcastWashDetected implements orchestrator.Hub: it is called once per
// (scc, window, token, bin) partition the orchestrator labels, in the
// serial finalize step after the parallel volume-matching region for that
// SCC×window completes.
func (h *Hub) BroadcastWashDetected(sccHash string, windowSeconds int64, txIDs []string) {
	payload, err := json.Marshal(washDetectedEvent{
		Type:          "wash_detected",
		SCCHash:       sccHash,
		WindowSeconds: windowSeconds,
		TxIDs:         txIDs,
	})
	if err != nil {
		log.Printf("[alert] failed to marshal wash_detected event: %v", err)
		return
	}
	h.Broadcast(payload)
}
