package bus

import (
	"encoding/json"
	"sync"

	"github.com/aman1117/notifyd/internal/metrics"
	"github.com/aman1117/notifyd/pkg/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Client represents a single WebSocket connection registered with the Hub.
type Client struct {
	ID     string
	Topics []string
	Send   chan []byte
}

// Hub is the central connection manager that tracks clients and their topic
// subscriptions. All operations are thread-safe via sync.RWMutex; writes
// happen on connect/disconnect, reads on per-topic publish.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{} // topic -> set of clients
	all     map[*Client]struct{}
	log     *zap.SugaredLogger
	m       *metrics.Metrics
}

// NewHub creates a Hub ready to manage WebSocket clients. m may be nil in
// tests that do not care about gauge updates.
func NewHub(log *zap.SugaredLogger, m *metrics.Metrics) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
		log:     log,
		m:       m,
	}
}

// NewClient allocates a client subscribed to its personal topic and the
// global broadcast topic.
func NewClient(userID string) *Client {
	return &Client{
		ID:     uuid.New().String(),
		Topics: []string{userTopic(userID), GlobalTopic},
		Send:   make(chan []byte, 256),
	}
}

// Register adds a client to the hub under all of its topics.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.all[c] = struct{}{}
	for _, topic := range c.Topics {
		if h.clients[topic] == nil {
			h.clients[topic] = make(map[*Client]struct{})
		}
		h.clients[topic][c] = struct{}{}
	}
	if h.m != nil {
		h.m.BusConnections.Set(float64(len(h.all)))
	}
}

// Unregister removes a client from the hub and closes its Send channel. A
// client that was never registered (or already unregistered) is a no-op, so
// disconnect can be called from a deferred guard without double-close risk.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[c]; !ok {
		return
	}

	for _, topic := range c.Topics {
		if subs, ok := h.clients[topic]; ok {
			delete(subs, c)
			if len(subs) == 0 {
				delete(h.clients, topic)
			}
		}
	}
	delete(h.all, c)
	close(c.Send)
	if h.m != nil {
		h.m.BusConnections.Set(float64(len(h.all)))
	}
}

// PublishToUser implements Sink by broadcasting to the recipient's personal
// topic.
func (h *Hub) PublishToUser(userID string, env Envelope) (int, error) {
	env.Topic = userTopic(userID)
	return h.publish(env)
}

// PublishToTopic implements Sink by broadcasting to an arbitrary topic.
func (h *Hub) PublishToTopic(topic string, env Envelope) (int, error) {
	env.Topic = topic
	return h.publish(env)
}

func (h *Hub) publish(env Envelope) (int, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return 0, err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	subscribers := h.clients[env.Topic]
	delivered := 0
	for c := range subscribers {
		select {
		case c.Send <- data:
			delivered++
		default:
			h.log.Warnw("dropping message to slow client", "client_id", c.ID, "topic", env.Topic)
		}
	}
	return delivered, nil
}

// SendSyncNotify pushes a sync_notify hint to a user's personal topic so a
// client that missed the live push can reconcile by re-fetching.
func (h *Hub) SendSyncNotify(userID string, count int) (int, error) {
	payload, err := json.Marshal(models.NewSyncNotifyMessage(count))
	if err != nil {
		return 0, err
	}
	return h.PublishToUser(userID, Envelope{Kind: "sync_notify", Payload: payload})
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}
