package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"backend-helmwatch/internal/logging"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Topics carried by the hub.
const (
	TopicTracking = "tracking"
	TopicHazards  = "hazards"
	TopicAlerts   = "alerts"
)

const (
	redisChannelPrefix = "helmwatch:events:"
	clientBuffer       = 64
)

// Hub fans payloads out to websocket clients by topic. When redis is
// configured every broadcast is mirrored so other daemons' clients see it too.
type Hub struct {
	redis  *redis.Client
	origin string
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}

	cancel context.CancelFunc
	ready  chan struct{}
}

type Client struct {
	Topic string
	Send  chan []byte
}

func NewHub(redisClient *redis.Client, logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		redis:   redisClient,
		origin:  uuid.NewString(),
		logger:  logging.OrDiscard(logger),
		clients: map[string]map[*Client]struct{}{},
		cancel:  cancel,
		ready:   make(chan struct{}),
	}

	if redisClient != nil {
		go h.subscribeRedis(ctx)
	} else {
		close(h.ready)
	}
	return h
}

// Close stops the redis mirror.
func (h *Hub) Close() {
	h.cancel()
}

func (h *Hub) Register(topic string) *Client {
	client := &Client{
		Topic: topic,
		Send:  make(chan []byte, clientBuffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[topic] == nil {
		h.clients[topic] = map[*Client]struct{}{}
	}
	h.clients[topic][client] = struct{}{}
	return client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	topicClients, ok := h.clients[client.Topic]
	if !ok {
		return
	}
	if _, ok := topicClients[client]; !ok {
		return
	}
	delete(topicClients, client)
	if len(topicClients) == 0 {
		delete(h.clients, client.Topic)
	}
	close(client.Send)
}

// Clients returns how many clients listen on topic.
func (h *Hub) Clients(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

func (h *Hub) Broadcast(topic string, payload []byte) {
	h.deliver(topic, payload)

	if h.redis != nil {
		msg := h.origin + "|" + string(payload)
		if err := h.redis.Publish(context.Background(), redisChannel(topic), msg).Err(); err != nil {
			h.logger.Warn("redis publish error", "topic", topic, "error", err)
		}
	}
}

// BroadcastJSON encodes v and broadcasts it on topic.
func (h *Hub) BroadcastJSON(topic string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("encode stream payload", "topic", topic, "error", err)
		return
	}
	h.Broadcast(topic, payload)
}

// deliver never blocks: a client with a full buffer misses the payload.
func (h *Hub) deliver(topic string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[topic] {
		select {
		case client.Send <- payload:
		default:
			h.logger.Debug("stream client lagging, payload dropped", "topic", topic)
		}
	}
}

func (h *Hub) subscribeRedis(ctx context.Context) {
	pubsub := h.redis.PSubscribe(ctx, redisChannelPrefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		h.logger.Warn("redis subscribe error", "error", err)
		close(h.ready)
		return
	}
	close(h.ready)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			origin, payload, found := strings.Cut(msg.Payload, "|")
			if !found || origin == h.origin {
				continue
			}
			h.deliver(topicFromChannel(msg.Channel), []byte(payload))
		}
	}
}

func redisChannel(topic string) string {
	return redisChannelPrefix + topic
}

func topicFromChannel(ch string) string {
	if !strings.HasPrefix(ch, redisChannelPrefix) {
		return ""
	}
	return strings.TrimPrefix(ch, redisChannelPrefix)
}

// Forward broadcasts every value received on events as JSON until events
// closes or ctx ends.
func Forward[T any](ctx context.Context, h *Hub, topic string, events <-chan T) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			h.BroadcastJSON(topic, ev)
		}
	}
}
