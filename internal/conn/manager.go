package conn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/FYLA-Organization/fylachat/internal/hub"
)

// Hooks attach session seeding and clearing to the connection lifecycle
// without the manager importing the aggregates.
type Hooks struct {
	// Seed runs once after each successful connect (room list, unread count).
	Seed func(ctx context.Context) error
	// Clear wipes session-scoped caches on disconnect.
	Clear func()
}

// Manager owns the hub channel lifecycle: auth token binding, push handler
// registration, and the fixed-delay retry policy on top of transport
// failures. Retries are unbounded but single-flight, and a pending retry dies
// when Disconnect bumps the generation counter.
type Manager struct {
	ch         hub.Channel
	machine    *Machine
	registrar  func(hub.Channel) func()
	hooks      Hooks
	retryDelay time.Duration
	logger     *zap.Logger

	mu         sync.Mutex
	inFlight   bool
	generation uint64
	session    uint64
	retryTimer *time.Timer
	dispose    func()
	token      string
}

// NewManager creates a connection manager. registrar registers all push
// handlers on the channel and returns their collective disposer; it runs once
// per successful connect.
func NewManager(ch hub.Channel, machine *Machine, registrar func(hub.Channel) func(), hooks Hooks, retryDelay time.Duration, logger *zap.Logger) *Manager {
	m := &Manager{
		ch:         ch,
		machine:    machine,
		registrar:  registrar,
		hooks:      hooks,
		retryDelay: retryDelay,
		logger:     logger,
	}
	ch.OnDisconnect(m.onTransportDown)
	return m
}

// Connect binds the token and starts the channel. Idempotent: returns
// immediately when already connected or a connect attempt is in flight.
// Connect failures are not surfaced; they schedule exactly one retry after
// the fixed delay and are logged.
func (m *Manager) Connect(ctx context.Context, token string) error {
	m.mu.Lock()
	if m.machine.Current() == Connected || m.inFlight {
		m.mu.Unlock()
		return nil
	}
	m.inFlight = true
	m.token = token
	gen := m.generation
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	m.mu.Unlock()

	_ = m.machine.Transition(Connecting)

	if err := m.ch.Start(ctx, token); err != nil {
		m.logger.Warn("hub connect failed",
			zap.Error(err), zap.Duration("retry_in", m.retryDelay))
		_ = m.machine.Transition(Disconnected)
		m.mu.Lock()
		m.inFlight = false
		stale := gen != m.generation
		m.mu.Unlock()
		if !stale {
			m.scheduleRetry(gen, token)
		}
		return nil
	}

	m.mu.Lock()
	if gen != m.generation {
		// Disconnect raced the dial; tear the fresh connection down.
		m.inFlight = false
		m.mu.Unlock()
		_ = m.ch.Stop(ctx)
		if m.machine.Current() != Disconnected {
			_ = m.machine.Transition(Disconnected)
		}
		return nil
	}
	m.dispose = m.registrar(m.ch)
	m.inFlight = false
	m.mu.Unlock()

	_ = m.machine.Transition(Connected)
	m.logger.Info("hub connected")

	if m.hooks.Seed != nil {
		if err := m.hooks.Seed(ctx); err != nil {
			m.logger.Warn("post-connect load failed", zap.Error(err))
		}
	}
	return nil
}

// Disconnect stops the channel, unregisters push handlers, cancels any
// pending retry and clears session-scoped state.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	m.generation++
	m.session++
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	dispose := m.dispose
	m.dispose = nil
	m.mu.Unlock()

	if dispose != nil {
		dispose()
	}
	if err := m.ch.Stop(ctx); err != nil {
		m.logger.Warn("hub stop failed", zap.Error(err))
	}
	if m.machine.Current() != Disconnected {
		_ = m.machine.Transition(Disconnected)
	}
	if m.hooks.Clear != nil {
		m.hooks.Clear()
	}
	m.logger.Info("hub disconnected")
	return nil
}

// Invoke proxies a remote method call to the channel while connected.
func (m *Manager) Invoke(ctx context.Context, method string, args ...any) error {
	if m.machine.Current() != Connected {
		return fmt.Errorf("invoke %s: not connected", method)
	}
	return m.ch.Invoke(ctx, method, args...)
}

// State returns the current connection state.
func (m *Manager) State() State {
	return m.machine.Current()
}

// Session returns the current session id. It changes only on Disconnect,
// which is the one path that clears session state; stale async results
// compare it to decide whether their store writes still belong to a live
// session. A transport blip with automatic reconnect keeps the same session,
// since nothing was cleared.
func (m *Manager) Session() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

func (m *Manager) scheduleRetry(gen uint64, token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.retryTimer != nil || m.inFlight || gen != m.generation {
		return
	}
	m.retryTimer = time.AfterFunc(m.retryDelay, func() {
		m.mu.Lock()
		m.retryTimer = nil
		stale := gen != m.generation
		m.mu.Unlock()
		if stale {
			return
		}
		_ = m.Connect(context.Background(), token)
	})
}

// onTransportDown handles loss of an established connection. The transport
// owns low-level reconnect attempts; at this level the session's push
// handlers are disposed and a normal retry is scheduled.
func (m *Manager) onTransportDown(err error) {
	if m.machine.Current() != Connected {
		return
	}
	m.logger.Warn("hub connection lost", zap.Error(err))

	m.mu.Lock()
	dispose := m.dispose
	m.dispose = nil
	gen := m.generation
	token := m.token
	m.mu.Unlock()

	if dispose != nil {
		dispose()
	}
	_ = m.machine.Transition(Reconnecting)
	m.scheduleRetry(gen, token)
}
