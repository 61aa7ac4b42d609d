package gateway

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Hub tracks the connected clients of each user and fans events out
// across nodes through redis pub/sub.
type Hub struct {
	redis   *redis.Client
	origin  string
	clients map[string]map[*Client]struct{}
	mu      sync.RWMutex
}

type Client struct {
	UserID string
	Send   chan []byte
}

// fanout is the cross-node envelope. The origin id lets a node skip
// its own publishes, which it already delivered locally. The payload
// rides as base64 so frames that are not themselves JSON survive the
// trip.
type fanout struct {
	Origin  string `json:"origin"`
	UserID  string `json:"user_id"`
	Payload []byte `json:"payload"`
}

func NewHub(redisClient *redis.Client) *Hub {
	h := &Hub{
		redis:   redisClient,
		origin:  uuid.NewString(),
		clients: map[string]map[*Client]struct{}{},
	}

	if redisClient != nil {
		go h.subscribeRedis()
	}
	return h
}

func (h *Hub) Register(userID string) *Client {
	client := &Client{
		UserID: userID,
		Send:   make(chan []byte, 64),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[userID] == nil {
		h.clients[userID] = map[*Client]struct{}{}
	}
	h.clients[userID][client] = struct{}{}
	return client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if userClients, ok := h.clients[client.UserID]; ok {
		delete(userClients, client)
		if len(userClients) == 0 {
			delete(h.clients, client.UserID)
		}
	}
	close(client.Send)
}

// Broadcast delivers payload to every open session of the user, here
// and on peer nodes. Delivery is at most once; a slow client's frame
// is dropped rather than blocking the hub.
func (h *Hub) Broadcast(userID string, payload []byte) {
	h.deliverLocal(userID, payload)

	if h.redis != nil {
		env, _ := json.Marshal(fanout{Origin: h.origin, UserID: userID, Payload: payload})
		err := h.redis.Publish(context.Background(), pushChannel(userID), env).Err()
		if err != nil {
			log.Printf("gateway: redis publish error: %v", err)
		}
	}
}

func (h *Hub) deliverLocal(userID string, payload []byte) {
	// the lock is held through the sends so Unregister cannot close a
	// channel mid-broadcast
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[userID] {
		select {
		case client.Send <- payload:
		default:
		}
	}
}

func (h *Hub) subscribeRedis() {
	ctx := context.Background()
	pubsub := h.redis.PSubscribe(ctx, "push:*")
	defer pubsub.Close()

	for msg := range pubsub.Channel() {
		var env fanout
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			log.Printf("gateway: dropping malformed fanout envelope: %v", err)
			continue
		}
		if env.Origin == h.origin {
			continue
		}
		h.deliverLocal(env.UserID, env.Payload)
	}
}

func pushChannel(userID string) string {
	return "push:" + userID
}
