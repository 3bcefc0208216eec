package websocket

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"sync"

	"chatbuffer/internal/app/message"
	"chatbuffer/internal/metrics"
	"chatbuffer/internal/utils"

	"go.uber.org/zap"
)

func generateClientID() string {
	bytes := make([]byte, 6)
	if _, err := rand.Read(bytes); err != nil {
		return "xxxxx"
	}
	return base64.URLEncoding.EncodeToString(bytes)
}

type subscription struct {
	client    *Client
	streamKey string
	join      bool
}

// Hub tracks connected clients and the streams they follow. All of its maps
// are owned by the Run goroutine.
type Hub struct {
	clients       map[*Client]bool
	streams       map[string]map[*Client]bool
	register      chan *Client
	unregister    chan *Client
	subscriptions chan subscription
	broadcast     chan utils.Event
	done          chan struct{}
	service       message.Service
	logger        *zap.SugaredLogger
	metrics       *metrics.Metrics

	// gate is held shared by every event in flight.
	gate    sync.RWMutex
	closing bool
}

func NewHub(service message.Service, eventBus *utils.EventBus, logger *zap.Logger, m *metrics.Metrics) *Hub {
	h := &Hub{
		clients:       make(map[*Client]bool),
		streams:       make(map[string]map[*Client]bool),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		subscriptions: make(chan subscription),
		broadcast:     make(chan utils.Event, 256),
		done:          make(chan struct{}),
		service:       service,
		logger:        logger.Sugar(),
		metrics:       m,
	}
	if eventBus != nil {
		eventBus.Subscribe("*", h.onEvent)
	}
	return h
}

func (h *Hub) onEvent(e utils.Event) {
	if e.StreamKey == "" {
		return
	}
	select {
	case h.broadcast <- e:
	default:
		h.logger.Warnw("Hub broadcast queue full, event dropped",
			"event", e.Event,
			"stream_key", e.StreamKey,
		)
	}
}

func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	h.logger.Info("WebSocket Hub started")

	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				client.close()
			}
			h.logger.Infow("WebSocket Hub stopped", "clients_count", len(h.clients))
			return nil

		case client := <-h.register:
			h.clients[client] = true
			h.logger.Infow("Client connected",
				"client_id", client.ID,
				"user_id", client.UserID,
				"clients_count", len(h.clients),
			)

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				h.remove(client)
				h.logger.Infow("Client disconnected",
					"client_id", client.ID,
					"clients_count", len(h.clients),
				)
			}

		case sub := <-h.subscriptions:
			h.subscribe(sub)

		case e := <-h.broadcast:
			h.fanOut(e)
		}
	}
}

func (h *Hub) subscribe(sub subscription) {
	if _, ok := h.clients[sub.client]; !ok {
		return
	}
	members := h.streams[sub.streamKey]
	if sub.join {
		if members == nil {
			members = make(map[*Client]bool)
			h.streams[sub.streamKey] = members
		}
		members[sub.client] = true
		sub.client.streams[sub.streamKey] = true
		return
	}
	delete(members, sub.client)
	delete(sub.client.streams, sub.streamKey)
	if len(members) == 0 {
		delete(h.streams, sub.streamKey)
	}
}

func (h *Hub) fanOut(e utils.Event) {
	members := h.streams[e.StreamKey]
	if len(members) == 0 {
		return
	}
	data, err := json.Marshal(e)
	if err != nil {
		h.logger.Errorw("Failed to encode event", "event", e.Event, "error", err)
		return
	}
	for client := range members {
		if !client.enqueue(data) {
			h.logger.Warnw("Client too slow, disconnecting",
				"client_id", client.ID,
				"stream_key", e.StreamKey,
			)
			h.remove(client)
		}
	}
}

func (h *Hub) remove(client *Client) {
	for key := range client.streams {
		if members := h.streams[key]; members != nil {
			delete(members, client)
			if len(members) == 0 {
				delete(h.streams, key)
			}
		}
	}
	delete(h.clients, client)
	client.close()
}

// deliver hands client to the Run goroutine. It reports false once the hub is gone.
func (h *Hub) deliver(ch chan *Client, client *Client) bool {
	select {
	case ch <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) setSubscription(client *Client, streamKey string, join bool) bool {
	select {
	case h.subscriptions <- subscription{client: client, streamKey: streamKey, join: join}:
		return true
	case <-h.done:
		return false
	}
}

// Quiesce waits for events already being handled and makes the hub refuse
// new ones. Connections stay open until Run returns.
func (h *Hub) Quiesce() {
	h.gate.Lock()
	defer h.gate.Unlock()
	h.closing = true
}
