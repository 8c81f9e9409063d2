package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"debt-negotiation-be/internal/pkg/logger"
	"debt-negotiation-be/pkg/portalsync"
)

const clusterChannel = "cluster_events"

// Hub fans realtime payloads out to connected portal clients. Cross-instance
// delivery goes through a Redis channel: every instance subscribes and
// forwards to the clients it holds locally.
type Hub struct {
	// UserID -> connected clients (multi-device).
	clients map[string][]*Client

	register   chan *Client
	unregister chan *Client

	mu sync.RWMutex

	// instanceID tags cluster messages so the publishing instance skips the
	// copy it receives back from Redis.
	instanceID string

	rdb    *redis.Client
	logger logger.ILogger
}

func NewHub(rdb *redis.Client, log logger.ILogger) *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[string][]*Client),
		instanceID: uuid.NewString(),
		rdb:        rdb,
		logger:     log,
	}
}

func (h *Hub) Run() {
	if h.rdb != nil {
		go h.subscribeToRedis()
	}

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.UserID] = append(h.clients[client.UserID], client)
			h.mu.Unlock()
			h.logger.Info("Hub", "Client registered", map[string]interface{}{"user_id": client.UserID, "role": client.Role})

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.clients[client.UserID]; ok {
				for i, c := range clients {
					if c == client {
						h.clients[client.UserID] = append(clients[:i], clients[i+1:]...)
						close(client.Send)
						break
					}
				}
				if len(h.clients[client.UserID]) == 0 {
					delete(h.clients, client.UserID)
					h.logger.Info("Hub", "Client completely unregistered", map[string]interface{}{"user_id": client.UserID})
				}
			}
			h.mu.Unlock()
		}
	}
}

type clusterPayload struct {
	SourceInstance string          `json:"source_instance"`
	TargetUserID   string          `json:"target_user_id"`
	TargetRole     string          `json:"target_role,omitempty"`
	Message        json.RawMessage `json:"message"`
}

// DeliverNotification routes a cross notification to its target portal: a
// specific user type when set, everyone otherwise. This is the sync session's
// notification sink.
func (h *Hub) DeliverNotification(n portalsync.CrossNotification) {
	data, _ := json.Marshal(map[string]interface{}{
		"type": "cross_notification",
		"data": n,
	})

	if n.TargetUserType != "" {
		h.sendToRoleLocal(n.TargetUserType, data)
		h.publishCluster(clusterPayload{TargetUserID: "*", TargetRole: n.TargetUserType, Message: data})
		return
	}

	h.broadcastLocal(data)
	h.publishCluster(clusterPayload{TargetUserID: "*", Message: data})
}

// Send pushes a payload to one user's connected devices, locally and across
// instances.
func (h *Hub) Send(userID string, payload interface{}) {
	data, _ := json.Marshal(map[string]interface{}{
		"type": "notification",
		"data": payload,
	})

	h.mu.RLock()
	clients, localFound := h.clients[userID]
	h.mu.RUnlock()

	if localFound {
		for _, client := range clients {
			h.push(client, data)
		}
	}

	h.publishCluster(clusterPayload{TargetUserID: userID, Message: data})
}

func (h *Hub) broadcastLocal(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, clients := range h.clients {
		for _, client := range clients {
			h.push(client, data)
		}
	}
}

func (h *Hub) sendToRoleLocal(role string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, clients := range h.clients {
		for _, client := range clients {
			if client.Role == role {
				h.push(client, data)
			}
		}
	}
}

// push writes without blocking; a client that cannot keep up is evicted. The
// unregister branch of Run owns the single close of client.Send.
func (h *Hub) push(client *Client, data []byte) {
	select {
	case client.Send <- data:
	default:
		h.logger.Warn("Hub", "Client send buffer full, dropping connection", map[string]interface{}{"user_id": client.UserID})
		go func() { h.unregister <- client }()
	}
}

func (h *Hub) publishCluster(payload clusterPayload) {
	if h.rdb == nil {
		return
	}
	payload.SourceInstance = h.instanceID
	jsonPayload, _ := json.Marshal(payload)
	h.rdb.Publish(context.Background(), clusterChannel, jsonPayload)
}

func (h *Hub) subscribeToRedis() {
	ctx := context.Background()
	pubsub := h.rdb.Subscribe(ctx, clusterChannel)
	defer pubsub.Close()

	for msg := range pubsub.Channel() {
		var payload clusterPayload
		if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
			h.logger.Warn("Hub", "Cluster message parse error", map[string]interface{}{"error": err.Error()})
			continue
		}
		h.dispatchCluster(payload)
	}
}

func (h *Hub) dispatchCluster(payload clusterPayload) {
	// Local delivery already happened on the publishing instance.
	if payload.SourceInstance == h.instanceID {
		return
	}

	switch {
	case payload.TargetUserID == "*" && payload.TargetRole != "":
		h.sendToRoleLocal(payload.TargetRole, payload.Message)

	case payload.TargetUserID == "*":
		h.broadcastLocal(payload.Message)

	default:
		h.mu.RLock()
		clients, ok := h.clients[payload.TargetUserID]
		h.mu.RUnlock()
		if ok {
			for _, client := range clients {
				h.push(client, payload.Message)
			}
		}
	}
}
