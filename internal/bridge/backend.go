package bridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/quantum28/MagicMirror/internal/ctxlog"
)

// ClientSender is the handle a backend uses to push notifications to every
// connected client subscribed to its module name.
type ClientSender interface {
	SendToClients(event string, payload any) error
}

// BackendHooks is the capability set a backend may implement. Members are
// optional; nil means no-op.
type BackendHooks struct {
	// Start runs once when the registry starts, after registration.
	Start func(ctx context.Context, send ClientSender) error
	// Notification receives client-to-backend messages on this module's
	// channel.
	Notification func(ctx context.Context, send ClientSender, event string, payload any)
}

// Backend is the server-side counterpart of a module type. Unlike client
// instances, backends are process-wide singletons: at most one per name.
type Backend struct {
	Name  string
	Hooks BackendHooks
}

// BackendRegistry is the server half of the bridge. It routes inbound tagged
// messages to the backend registered under the tag and broadcasts backend
// notifications out to subscribed clients.
type BackendRegistry struct {
	ctx  context.Context
	conn ServerConn

	mu       sync.RWMutex
	backends map[string]*Backend
}

// NewBackendRegistry wraps a server transport and starts routing its inbound
// messages.
func NewBackendRegistry(ctx context.Context, conn ServerConn) *BackendRegistry {
	r := &BackendRegistry{
		ctx:      ctx,
		conn:     conn,
		backends: make(map[string]*Backend),
	}
	conn.OnMessage(r.route)
	return r
}

// Register installs a backend under its module name. A duplicate name is a
// programmer error and panics, matching definition registration.
func (r *BackendRegistry) Register(b *Backend) {
	if b == nil || b.Name == "" {
		panic("bridge: backend requires a module name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.backends[b.Name]; exists {
		panic(fmt.Sprintf("backend for module %q already registered", b.Name))
	}
	ctxlog.FromContext(r.ctx).Debug("Registering backend.", "module", b.Name)
	r.backends[b.Name] = b
	r.conn.EnsureChannel(b.Name)
}

// Lookup returns the backend registered under name.
func (r *BackendRegistry) Lookup(name string) (*Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[name]
	return b, ok
}

// StartAll invokes every backend's Start hook. A failing backend is logged
// and skipped; the registry keeps running for the others.
func (r *BackendRegistry) StartAll(ctx context.Context) {
	r.mu.RLock()
	backends := make([]*Backend, 0, len(r.backends))
	for _, b := range r.backends {
		backends = append(backends, b)
	}
	r.mu.RUnlock()

	logger := ctxlog.FromContext(ctx)
	for _, b := range backends {
		if b.Hooks.Start == nil {
			continue
		}
		if err := r.invokeStart(ctx, b); err != nil {
			logger.Error("Backend start failed.", "module", b.Name, "error", err)
		}
	}
}

func (r *BackendRegistry) invokeStart(ctx context.Context, b *Backend) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("backend %q start panicked: %v", b.Name, rec)
		}
	}()
	return b.Hooks.Start(ctx, r.senderFor(b.Name))
}

// route delivers one inbound message. A message for an unregistered name is
// dropped and logged, never fatal.
func (r *BackendRegistry) route(env Envelope) {
	logger := ctxlog.FromContext(r.ctx)

	b, ok := r.Lookup(env.Channel)
	if !ok {
		logger.Warn("Dropping unroutable message.",
			"error", &UnroutableMessageError{Channel: env.Channel}, "event", env.Event)
		return
	}
	if b.Hooks.Notification == nil {
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("Backend notification handler panicked.",
				"module", b.Name, "event", env.Event, "panic", rec)
		}
	}()
	b.Hooks.Notification(r.ctx, r.senderFor(b.Name), env.Event, env.Payload)
}

func (r *BackendRegistry) senderFor(name string) ClientSender {
	return &broadcastSender{conn: r.conn, channel: name}
}

// Close shuts the server transport down.
func (r *BackendRegistry) Close() error {
	return r.conn.Close()
}

type broadcastSender struct {
	conn    ServerConn
	channel string
}

func (s *broadcastSender) SendToClients(event string, payload any) error {
	return s.conn.Broadcast(s.channel, event, payload)
}
