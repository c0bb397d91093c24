// Package typing debounces local keystroke activity into typing signals and
// mirrors remote peers' typing state.
package typing

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/FYLA-Organization/fylachat/internal/bus"
	"github.com/FYLA-Organization/fylachat/internal/hub"
)

// Invoker sends remote method calls over the active connection. Satisfied by
// the connection manager.
type Invoker interface {
	Invoke(ctx context.Context, method string, args ...any) error
}

// RemoteChange is the payload of typing.remote_changed events.
type RemoteChange struct {
	PeerID string
	Typing bool
}

type peerState struct {
	typing bool
	timer  *time.Timer
}

// Coordinator owns one idle timer per peer. Arming a new timer always
// replaces the previous one, so a stale stop-typing can never fire after new
// activity. Typing signals are best-effort: invoke failures are logged and
// swallowed.
type Coordinator struct {
	inv    Invoker
	bus    *bus.Bus
	logger *zap.Logger
	idle   time.Duration

	mu     sync.Mutex
	local  map[string]*peerState
	remote map[string]bool
	cancel context.CancelFunc
}

// NewCoordinator creates a typing coordinator with the given idle window.
func NewCoordinator(inv Invoker, b *bus.Bus, idle time.Duration, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		inv:    inv,
		bus:    b,
		logger: logger,
		idle:   idle,
		local:  make(map[string]*peerState),
		remote: make(map[string]bool),
	}
}

// Start subscribes to remote typing events on the bus.
func (c *Coordinator) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	ch, unsub := c.bus.Subscribe("hub.", 64)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				sig, ok := evt.Payload.(hub.TypingSignal)
				if !ok {
					continue
				}
				switch evt.Kind {
				case "hub.typing":
					c.OnRemoteTyping(sig.UserID)
				case "hub.stop_typing":
					c.OnRemoteStoppedTyping(sig.UserID)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the coordinator.
func (c *Coordinator) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
}

// OnLocalTextChanged reacts to the composer's text for a peer. The first
// non-empty input emits a typing signal; each further input rearms the idle
// timer; emptying the text stops immediately.
func (c *Coordinator) OnLocalTextChanged(ctx context.Context, peerID, text string) {
	c.mu.Lock()
	st := c.local[peerID]
	if st == nil {
		st = &peerState{}
		c.local[peerID] = st
	}

	if text == "" {
		emit := st.typing
		c.clearLocked(st)
		c.mu.Unlock()
		if emit {
			c.signal(ctx, hub.MethodStopTyping, peerID)
		}
		return
	}

	emit := !st.typing
	st.typing = true
	if st.timer != nil {
		st.timer.Stop()
	}
	st.timer = time.AfterFunc(c.idle, func() { c.idleFired(peerID) })
	c.mu.Unlock()

	if emit {
		c.signal(ctx, hub.MethodSendTyping, peerID)
	}
}

// Reset clears local typing state for a peer without a network signal beyond
// the stop it may owe. Called on send and on conversation close.
func (c *Coordinator) Reset(ctx context.Context, peerID string) {
	c.mu.Lock()
	st := c.local[peerID]
	emit := st != nil && st.typing
	if st != nil {
		c.clearLocked(st)
	}
	c.mu.Unlock()
	if emit {
		c.signal(ctx, hub.MethodStopTyping, peerID)
	}
}

// OnRemoteTyping records that a peer started typing. Remote state holds
// whatever the latest signal said; there is no timer on this side.
func (c *Coordinator) OnRemoteTyping(peerID string) {
	c.setRemote(peerID, true)
}

// OnRemoteStoppedTyping records that a peer stopped typing.
func (c *Coordinator) OnRemoteStoppedTyping(peerID string) {
	c.setRemote(peerID, false)
}

// RemoteTyping reports whether a peer is currently typing.
func (c *Coordinator) RemoteTyping(peerID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote[peerID]
}

func (c *Coordinator) idleFired(peerID string) {
	c.mu.Lock()
	st := c.local[peerID]
	if st == nil || !st.typing {
		c.mu.Unlock()
		return
	}
	st.typing = false
	st.timer = nil
	c.mu.Unlock()

	c.signal(context.Background(), hub.MethodStopTyping, peerID)
}

func (c *Coordinator) clearLocked(st *peerState) {
	st.typing = false
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
}

func (c *Coordinator) setRemote(peerID string, typing bool) {
	c.mu.Lock()
	c.remote[peerID] = typing
	c.mu.Unlock()
	c.bus.Emit("typing.remote_changed", RemoteChange{PeerID: peerID, Typing: typing})
}

func (c *Coordinator) signal(ctx context.Context, method, peerID string) {
	if err := c.inv.Invoke(ctx, method, peerID); err != nil {
		c.logger.Debug("typing signal failed", zap.String("method", method), zap.Error(err))
	}
}
