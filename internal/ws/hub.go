package ws

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/pliu/etoe/internal/models"
)

const pushBuffer = 256

type outbound struct {
	userID int
	frame  []byte
}

type onlineQuery struct {
	userID int
	reply  chan bool
}

// Hub is the connection registry. It owns the user → client map and is the
// only goroutine that touches it; everything else talks to it over channels.
type Hub struct {
	// Live client per user. A newer connection replaces the older one.
	clients map[int]*Client

	// Every client whose send channel is still open, current or superseded.
	open map[*Client]bool

	register   chan *Client
	unregister chan *Client
	push       chan outbound
	online     chan onlineQuery
	done       chan struct{}

	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[int]*Client),
		open:       make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		push:       make(chan outbound, pushBuffer),
		online:     make(chan onlineQuery),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run processes registry changes and pushes until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.open {
				close(client.send)
			}
			h.open = make(map[*Client]bool)
			h.clients = make(map[int]*Client)
			return
		case client := <-h.register:
			if prev, ok := h.clients[client.userID]; ok && prev != client {
				h.logger.Info("connection superseded", "user_id", client.userID)
			}
			h.clients[client.userID] = client
			h.open[client] = true
		case client := <-h.unregister:
			if h.clients[client.userID] == client {
				delete(h.clients, client.userID)
			}
			if h.open[client] {
				delete(h.open, client)
				close(client.send)
			}
		case msg := <-h.push:
			client, ok := h.clients[msg.userID]
			if !ok {
				continue
			}
			select {
			case client.send <- msg.frame:
			default:
				h.logger.Warn("push dropped, client buffer full", "user_id", msg.userID)
			}
		case q := <-h.online:
			_, ok := h.clients[q.userID]
			q.reply <- ok
		}
	}
}

// Push hands event to the user's live connection. It never blocks: with no
// live connection, or a saturated hub, the event is dropped.
func (h *Hub) Push(userID int, event models.Event) {
	frame, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("encode push event", "err", err)
		return
	}
	select {
	case h.push <- outbound{userID: userID, frame: frame}:
	default:
		h.logger.Warn("push dropped, hub saturated", "user_id", userID)
	}
}

// Online reports whether userID currently has a registered connection.
func (h *Hub) Online(ctx context.Context, userID int) bool {
	q := onlineQuery{userID: userID, reply: make(chan bool, 1)}
	select {
	case h.online <- q:
	case <-ctx.Done():
		return false
	case <-h.done:
		return false
	}
	select {
	case ok := <-q.reply:
		return ok
	case <-ctx.Done():
		return false
	}
}

func (h *Hub) attach(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) detach(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
