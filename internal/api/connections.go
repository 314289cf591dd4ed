package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const publishTimeout = 5 * time.Second

// Connections tracks the open planning socket of each user. A user has at
// most one; a newer connection replaces the older one.
type Connections struct {
	mu     sync.RWMutex
	active map[string]*websocket.Conn
}

// NewConnections creates an empty connection registry.
func NewConnections() *Connections {
	return &Connections{active: make(map[string]*websocket.Conn)}
}

// Register makes conn the user's planning socket. A replaced socket is
// closed in the background; its close handshake can take seconds and must
// not hold up the registry.
func (c *Connections) Register(userID string, conn *websocket.Conn) {
	c.mu.Lock()
	replaced, ok := c.active[userID]
	c.active[userID] = conn
	c.mu.Unlock()

	slog.Info("Planning socket registered", "user_id", userID, "replaced", ok && replaced != conn)
	if ok && replaced != conn {
		go func() { _ = replaced.Close(websocket.StatusNormalClosure, "connection replaced") }()
	}
}

// Unregister removes conn if it is still the user's socket.
func (c *Connections) Unregister(userID string, conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if current, ok := c.active[userID]; ok && current == conn {
		delete(c.active, userID)
		slog.Info("Planning socket unregistered", "user_id", userID)
	}
}

// Get returns the user's socket or nil.
func (c *Connections) Get(userID string) *websocket.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active[userID]
}

// Len returns the number of connected users.
func (c *Connections) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.active)
}

// Publish sends v to the user's socket if one is open. Failures are logged.
func (c *Connections) Publish(userID string, v any) {
	conn := c.Get(userID)
	if conn == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := writeJSON(ctx, conn, v); err != nil {
		slog.Debug("Failed to publish to planning socket", "user_id", userID, "error", err)
	}
}

// CloseAll closes every socket, used on shutdown.
func (c *Connections) CloseAll() {
	c.mu.Lock()
	open := c.active
	c.active = make(map[string]*websocket.Conn)
	c.mu.Unlock()

	var wg sync.WaitGroup
	for _, conn := range open {
		wg.Add(1)
		go func(conn *websocket.Conn) {
			defer wg.Done()
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		}(conn)
	}
	wg.Wait()
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
