package bus

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/aman1117/notifyd/internal/logger"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // tightened by the reverse proxy, not this process
	},
}

// connectedMessage is the welcome payload sent immediately after a
// successful upgrade.
type connectedMessage struct {
	Type      string `json:"type"`
	UserID    string `json:"user_id"`
	ConnCount int    `json:"connection_count"`
}

// clientMessage is the envelope for inbound messages from a connected
// client: either a keepalive ping or an acknowledgement of processed
// notification IDs.
type clientMessage struct {
	Type            string   `json:"type"`
	NotificationIDs []string `json:"notification_ids,omitempty"`
}

// Handler upgrades HTTP connections to WebSocket and wires them into a Hub.
type Handler struct {
	hub          *Hub
	serviceToken string
}

// NewHandler returns a Handler serving connections against hub. When
// serviceToken is non-empty, the upgrade requires a matching bearer token.
func NewHandler(hub *Hub, serviceToken string) *Handler {
	return &Handler{hub: hub, serviceToken: serviceToken}
}

// ServeHTTP upgrades the request, registers the client, and runs its
// read/write pumps until disconnect.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.serviceToken != "" && r.Header.Get("Authorization") != "Bearer "+h.serviceToken {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client := NewClient(userID)
	h.hub.Register(client)

	welcome, _ := json.Marshal(connectedMessage{
		Type:      "connected",
		UserID:    userID,
		ConnCount: h.hub.ClientCount(),
	})
	client.Send <- welcome

	go h.writePump(client, conn)
	h.readPump(client, conn)
}

func (h *Handler) readPump(client *Client, conn *websocket.Conn) {
	defer func() {
		h.hub.Unregister(client)
		conn.Close()
	}()

	log := logger.WithComponent("bus")
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}

		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case "ping":
			pong, _ := json.Marshal(map[string]string{"type": "pong"})
			select {
			case client.Send <- pong:
			default:
			}
		case "sync_complete":
			log.Debugw("client acknowledged sync", "client_id", client.ID, "count", len(msg.NotificationIDs))
		}
	}
}

func (h *Handler) writePump(client *Client, conn *websocket.Conn) {
	defer conn.Close()

	for message := range client.Send {
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
			break
		}
	}
}
