package websocket

import (
	"context"
	"encoding/json"

	"stylii-be/internal/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ClusterChannel is the redis channel instances use to fan session events
// out to clients connected elsewhere.
const ClusterChannel = "stylii_session_events"

type clusterMessage struct {
	Origin          string          `json:"origin"`
	TargetSessionID string          `json:"target_session_id"`
	Message         json.RawMessage `json:"message"`
}

type delivery struct {
	sessionID string
	data      []byte
}

type countRequest struct {
	sessionID string
	reply     chan int
}

// Hub tracks websocket clients per design session. All map access happens on
// the Run goroutine.
type Hub struct {
	clients map[string][]*Client

	register   chan *Client
	unregister chan *Client
	deliver    chan delivery
	closeAll   chan string
	count      chan countRequest
	done       chan struct{}

	// Redis connection for cross-instance delivery, optional.
	rdb        *redis.Client
	instanceID string

	logger logger.ILogger
}

func NewHub(rdb *redis.Client, log logger.ILogger) *Hub {
	return &Hub{
		clients:    make(map[string][]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		deliver:    make(chan delivery, 256),
		closeAll:   make(chan string),
		count:      make(chan countRequest),
		done:       make(chan struct{}),
		rdb:        rdb,
		instanceID: uuid.NewString(),
		logger:     log,
	}
}

// Run serves hub requests until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	if h.rdb != nil {
		go h.subscribeToRedis(ctx)
	}

	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for sid, clients := range h.clients {
				for _, c := range clients {
					close(c.Send)
				}
				delete(h.clients, sid)
			}
			return

		case client := <-h.register:
			h.clients[client.SessionID] = append(h.clients[client.SessionID], client)
			h.logger.Info("Hub", "Client registered", map[string]interface{}{"session_id": client.SessionID})

		case client := <-h.unregister:
			h.remove(client)

		case d := <-h.deliver:
			h.deliverLocal(d.sessionID, d.data)

		case sid := <-h.closeAll:
			for _, c := range h.clients[sid] {
				close(c.Send)
			}
			delete(h.clients, sid)

		case req := <-h.count:
			req.reply <- len(h.clients[req.sessionID])
		}
	}
}

func (h *Hub) remove(client *Client) {
	clients, ok := h.clients[client.SessionID]
	if !ok {
		return
	}
	for i, c := range clients {
		if c == client {
			h.clients[client.SessionID] = append(clients[:i], clients[i+1:]...)
			close(client.Send)
			break
		}
	}
	if len(h.clients[client.SessionID]) == 0 {
		delete(h.clients, client.SessionID)
		h.logger.Info("Hub", "Session has no more clients", map[string]interface{}{"session_id": client.SessionID})
	}
}

func (h *Hub) deliverLocal(sessionID string, data []byte) {
	var slow []*Client
	for _, client := range h.clients[sessionID] {
		select {
		case client.Send <- data:
		default:
			slow = append(slow, client)
		}
	}
	for _, client := range slow {
		h.logger.Warn("Hub", "Client Send buffer full, dropping client", map[string]interface{}{"session_id": sessionID})
		h.remove(client)
	}
}

func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		close(client.Send)
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Send delivers data to every client of the session on this instance and
// publishes it for the others.
func (h *Hub) Send(ctx context.Context, sessionID string, data []byte) {
	select {
	case h.deliver <- delivery{sessionID: sessionID, data: data}:
	case <-h.done:
		return
	case <-ctx.Done():
		return
	}

	if h.rdb != nil {
		payload, err := json.Marshal(clusterMessage{
			Origin:          h.instanceID,
			TargetSessionID: sessionID,
			Message:         data,
		})
		if err != nil {
			return
		}
		if err := h.rdb.Publish(ctx, ClusterChannel, payload).Err(); err != nil {
			h.logger.Warn("Hub", "Failed to publish cluster event", map[string]interface{}{"error": err.Error()})
		}
	}
}

// CloseSession disconnects every local client of the session.
func (h *Hub) CloseSession(sessionID string) {
	select {
	case h.closeAll <- sessionID:
	case <-h.done:
	}
}

// ClientCount reports how many local clients the session has.
func (h *Hub) ClientCount(sessionID string) int {
	reply := make(chan int, 1)
	select {
	case h.count <- countRequest{sessionID: sessionID, reply: reply}:
		return <-reply
	case <-h.done:
		return 0
	}
}

func (h *Hub) subscribeToRedis(ctx context.Context) {
	pubsub := h.rdb.Subscribe(ctx, ClusterChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var payload clusterMessage
			if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
				h.logger.Warn("Hub", "Redis msg parse error", map[string]interface{}{"error": err.Error()})
				continue
			}
			// Local clients already got it.
			if payload.Origin == h.instanceID {
				continue
			}
			select {
			case h.deliver <- delivery{sessionID: payload.TargetSessionID, data: payload.Message}:
			case <-ctx.Done():
				return
			}
		}
	}
}
