package api

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/redis/go-redis/v9"
)

const sendBuffer = 64

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// Client is one open connection. Outbound messages are queued on it and drained by the transport.
type Client struct {
	ID string

	send chan []byte
	done chan struct{}
	once sync.Once
}

func newClient(id string) *Client {
	return &Client{
		ID:   id,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

// Messages returns the queue of encoded notifications for the connection.
func (c *Client) Messages() <-chan []byte { return c.send }

// Done is closed once the client is disconnected from the hub.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) close() {
	c.once.Do(func() { close(c.done) })
}

func (c *Client) enqueue(b []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

type binding struct {
	roomCode string
	playerID string
}

// Hub tracks open connections and the room each one listens to.
// A slow connection whose queue is full is dropped rather than blocking a broadcast.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]*Client
	bindings map[string]binding
	members  map[string]map[string]struct{}
	players  map[string]string

	redis  Redis
	prefix string
}

func NewHub(r Redis, prefix string) *Hub {
	return &Hub{
		clients:  make(map[string]*Client),
		bindings: make(map[string]binding),
		members:  make(map[string]map[string]struct{}),
		players:  make(map[string]string),
		redis:    r,
		prefix:   prefix,
	}
}

func (h *Hub) Connect(id string) *Client {
	c := newClient(id)

	h.mu.Lock()
	h.clients[id] = c
	h.mu.Unlock()

	return c
}

func (h *Hub) Disconnect(id string) {
	h.mu.Lock()
	c, ok := h.clients[id]
	delete(h.clients, id)
	h.unbindLocked(id)
	h.mu.Unlock()

	if ok {
		c.close()
	}
}

// Bind makes the connection receive the broadcasts of a room on behalf of a player.
// A previous connection of the same player stops receiving them.
func (h *Hub) Bind(connID, roomCode, playerID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.unbindLocked(connID)
	if old, ok := h.players[playerID]; ok {
		h.unbindLocked(old)
	}

	if h.members[roomCode] == nil {
		h.members[roomCode] = make(map[string]struct{})
	}
	h.members[roomCode][connID] = struct{}{}
	h.bindings[connID] = binding{roomCode: roomCode, playerID: playerID}
	h.players[playerID] = connID
}

func (h *Hub) Unbind(connID string) {
	h.mu.Lock()
	h.unbindLocked(connID)
	h.mu.Unlock()
}

func (h *Hub) UnbindPlayer(playerID string) {
	h.mu.Lock()
	if connID, ok := h.players[playerID]; ok {
		h.unbindLocked(connID)
	}
	h.mu.Unlock()
}

func (h *Hub) unbindLocked(connID string) {
	b, ok := h.bindings[connID]
	if !ok {
		return
	}

	delete(h.bindings, connID)
	if h.players[b.playerID] == connID {
		delete(h.players, b.playerID)
	}
	if m := h.members[b.roomCode]; m != nil {
		delete(m, connID)
		if len(m) == 0 {
			delete(h.members, b.roomCode)
		}
	}
}

// DropRoom unbinds every connection of a room.
func (h *Hub) DropRoom(roomCode string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for connID := range h.members[roomCode] {
		h.unbindLocked(connID)
	}
}

func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}

// Reply sends a notification to one connection.
func (h *Hub) Reply(ctx context.Context, connID string, n Notification) error {
	b, err := n.marshal()
	if err != nil {
		return err
	}

	h.mu.RLock()
	c, ok := h.clients[connID]
	h.mu.RUnlock()

	if !ok {
		return nil
	}

	if !c.enqueue(b) {
		h.drop(ctx, c)
	}

	return nil
}

// Broadcast sends a notification to every connection bound to a room, except the given ones,
// and mirrors it on the room's pub/sub channel.
func (h *Hub) Broadcast(ctx context.Context, roomCode string, n Notification, except ...string) error {
	b, err := n.marshal()
	if err != nil {
		return err
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.members[roomCode]))
	for connID := range h.members[roomCode] {
		if slices.Contains(except, connID) {
			continue
		}
		if c, ok := h.clients[connID]; ok {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if !c.enqueue(b) {
			h.drop(ctx, c)
		}
	}

	return h.publish(ctx, h.roomChannel(roomCode), b)
}

func (h *Hub) drop(ctx context.Context, c *Client) {
	slog.WarnContext(ctx, "api: dropping slow connection", "conn", c.ID)
	c.close()
}

func (h *Hub) roomChannel(roomCode string) string {
	return fmt.Sprintf("%s:room:%s", h.prefix, roomCode)
}

func (h *Hub) playerChannel(playerID string) string {
	return fmt.Sprintf("%s:player:%s", h.prefix, playerID)
}
