package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// frame is the wire envelope in both directions. Pushed events carry Event +
// Payload; invocations carry ID + Method + Args.
type frame struct {
	ID      string          `json:"id,omitempty"`
	Event   string          `json:"event,omitempty"`
	Method  string          `json:"method,omitempty"`
	Args    []any           `json:"args,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// WSChannel is the websocket implementation of Channel: JSON event frames
// in, JSON invocation frames out, bearer token on the dial request.
type WSChannel struct {
	url    string
	logger *zap.Logger

	mu        sync.RWMutex
	conn      *websocket.Conn
	handlers  map[string]map[int]Handler
	closeSubs map[int]func(error)
	nextID    int
	stopped   bool
	writeMu   sync.Mutex
	done      chan struct{}
}

// NewWSChannel creates a websocket channel for the given hub URL.
func NewWSChannel(url string, logger *zap.Logger) *WSChannel {
	return &WSChannel{
		url:       url,
		logger:    logger,
		handlers:  make(map[string]map[int]Handler),
		closeSubs: make(map[int]func(error)),
	}
}

// Start dials the hub. The token rides in the Authorization header.
func (c *WSChannel) Start(ctx context.Context, token string) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, header)
	if err != nil {
		return fmt.Errorf("dial hub: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.stopped = false
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	go c.readLoop(conn, done)
	return nil
}

// Stop closes the connection. Loss notifications are suppressed for a
// deliberate stop.
func (c *WSChannel) Stop(_ context.Context) error {
	c.mu.Lock()
	conn := c.conn
	done := c.done
	c.conn = nil
	c.stopped = true
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	err := conn.Close()
	if done != nil {
		<-done
	}
	return err
}

// Invoke writes an invocation frame for the named remote method.
func (c *WSChannel) Invoke(_ context.Context, method string, args ...any) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("invoke %s: channel not started", method)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteJSON(frame{ID: uuid.NewString(), Method: method, Args: args}); err != nil {
		return fmt.Errorf("invoke %s: %w", method, err)
	}
	return nil
}

// On registers a handler for a push event. Valid before or after Start.
func (c *WSChannel) On(event string, h Handler) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handlers[event] == nil {
		c.handlers[event] = make(map[int]Handler)
	}
	id := c.nextID
	c.nextID++
	c.handlers[event][id] = h

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.handlers[event], id)
	}
}

// OnDisconnect registers a connection-loss handler.
func (c *WSChannel) OnDisconnect(h func(err error)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.closeSubs[id] = h

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.closeSubs, id)
	}
}

func (c *WSChannel) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			c.mu.RLock()
			stopped := c.stopped
			subs := make([]func(error), 0, len(c.closeSubs))
			for _, h := range c.closeSubs {
				subs = append(subs, h)
			}
			c.mu.RUnlock()
			if !stopped {
				c.logger.Warn("hub connection lost", zap.Error(err))
				for _, h := range subs {
					h(err)
				}
			}
			return
		}
		if f.Event == "" {
			continue
		}
		c.dispatch(f.Event, f.Payload)
	}
}

func (c *WSChannel) dispatch(event string, payload json.RawMessage) {
	c.mu.RLock()
	hs := make([]Handler, 0, len(c.handlers[event]))
	for _, h := range c.handlers[event] {
		hs = append(hs, h)
	}
	c.mu.RUnlock()
	for _, h := range hs {
		h(payload)
	}
}
