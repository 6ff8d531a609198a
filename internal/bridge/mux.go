package bridge

import (
	"context"
	"sync"

	"github.com/quantum28/MagicMirror/internal/ctxlog"
)

// Subscriber is a client-side module instance receiving backend messages for
// its module type.
type Subscriber interface {
	ID() string
	DeliverBackend(ctx context.Context, event string, payload any)
}

// Multiplexer is the client half of the bridge. It opens one logical channel
// per module type, lazily and at most once, fans incoming messages out to
// every subscribed instance of that type, and fails sends fast while the
// transport is down. After a reconnect it re-opens every previously opened
// channel before any new send can proceed.
type Multiplexer struct {
	ctx  context.Context
	conn ClientConn

	mu          sync.Mutex
	connected   bool
	opened      map[string]ClientChannel
	subscribers map[string][]Subscriber
}

// NewMultiplexer wraps a client transport. The context carries the logger
// used for incoming-message handling.
func NewMultiplexer(ctx context.Context, conn ClientConn) *Multiplexer {
	m := &Multiplexer{
		ctx:         ctx,
		conn:        conn,
		connected:   conn.Connected(),
		opened:      make(map[string]ClientChannel),
		subscribers: make(map[string][]Subscriber),
	}
	conn.OnConnectionChange(m.connectionChanged)
	return m
}

// Subscribe registers an instance for its module's channel, opening the
// channel on first use. Instances of the same module type share the channel.
func (m *Multiplexer) Subscribe(moduleName string, sub Subscriber) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers[moduleName] = append(m.subscribers[moduleName], sub)
	if m.connected {
		if err := m.openLocked(moduleName); err != nil {
			return err
		}
	} else {
		// Remember the channel so reconnection opens it.
		if _, ok := m.opened[moduleName]; !ok {
			m.opened[moduleName] = nil
		}
	}
	return nil
}

// Unsubscribe removes one instance. The channel itself stays open; channel
// identity belongs to the module type, not the instance.
func (m *Multiplexer) Unsubscribe(moduleName, instanceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subscribers[moduleName]
	for i, s := range subs {
		if s.ID() == instanceID {
			m.subscribers[moduleName] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Send writes a tagged message on the module's channel. While the transport
// is disconnected it fails fast with a *ChannelUnavailableError.
//
// The channel is resolved under the lock but the write happens outside it: a
// synchronous transport delivers the backend's reply inline, and that reply
// re-enters dispatch on this same goroutine.
func (m *Multiplexer) Send(moduleName, event string, payload any) error {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return &ChannelUnavailableError{Channel: moduleName}
	}
	if err := m.openLocked(moduleName); err != nil {
		m.mu.Unlock()
		return err
	}
	ch := m.opened[moduleName]
	m.mu.Unlock()
	return ch.Send(event, payload)
}

// openLocked opens the channel if it is not open yet and wires its receive
// handler. Caller holds m.mu.
func (m *Multiplexer) openLocked(moduleName string) error {
	if ch := m.opened[moduleName]; ch != nil {
		return nil
	}
	ch, err := m.conn.Open(moduleName)
	if err != nil {
		return err
	}
	ch.OnReceive(func(event string, payload any) {
		m.dispatch(moduleName, event, payload)
	})
	m.opened[moduleName] = ch
	return nil
}

// dispatch fans one backend message out to every instance subscribed to the
// module name, isolating each hook.
func (m *Multiplexer) dispatch(moduleName, event string, payload any) {
	m.mu.Lock()
	subs := make([]Subscriber, len(m.subscribers[moduleName]))
	copy(subs, m.subscribers[moduleName])
	m.mu.Unlock()

	logger := ctxlog.FromContext(m.ctx)
	for _, sub := range subs {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("Backend notification handler panicked.",
						"instance", sub.ID(), "channel", moduleName, "event", event, "panic", rec)
				}
			}()
			sub.DeliverBackend(m.ctx, event, payload)
		}()
	}
}

// connectionChanged tracks transport state. On reconnect every previously
// opened channel is re-established while the lock is held, so no send can
// slip in before the channels are back.
func (m *Multiplexer) connectionChanged(connected bool) {
	logger := ctxlog.FromContext(m.ctx)
	m.mu.Lock()
	defer m.mu.Unlock()

	if !connected {
		m.connected = false
		for name := range m.opened {
			m.opened[name] = nil
		}
		logger.Warn("Transport disconnected; sends will fail fast until reconnect.")
		return
	}

	for name := range m.opened {
		if err := m.openLocked(name); err != nil {
			logger.Error("Failed to re-open channel after reconnect.", "channel", name, "error", err)
			return
		}
	}
	m.connected = true
	logger.Info("Transport reconnected; channels re-established.", "channels", len(m.opened))
}

// Close shuts the underlying transport down.
func (m *Multiplexer) Close() error {
	return m.conn.Close()
}
