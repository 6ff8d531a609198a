// Package bus implements the synchronous in-process notification broadcast
// between module instances.
//
// Delivery rules:
//   - recipients are visited in instance registration order, which is stable
//     for the life of the process
//   - the sender never receives its own notification
//   - only active (running or suspended) instances receive anything
//   - a recipient failure is logged and delivery continues; nothing
//     propagates back to the sender
//
// Publishes are serialized: one publish's delivery pass runs to completion
// before the next begins. A publish issued from inside a delivery (a hook
// reacting to a notification) is queued and drained by the goroutine already
// delivering, so nested publishes neither deadlock nor interleave.
package bus

import (
	"context"
	"sync"

	"github.com/quantum28/MagicMirror/internal/ctxlog"
)

// SenderSystem is the sender sentinel for notifications originated by the
// core rather than by a module instance.
const SenderSystem = "core"

// ContentAttached is the reserved system notification delivered to each
// instance exactly once, immediately after its content node is attached.
const ContentAttached = "CONTENT_ATTACHED"

// Notification is one event on the bus.
type Notification struct {
	Name    string
	Payload any
	Sender  string
}

// Recipient is a registered delivery target, implemented by the lifecycle
// controller's instances.
type Recipient interface {
	// ID is the instance identity used for sender exclusion and targeting.
	ID() string
	// Active reports whether the instance currently accepts notifications.
	Active() bool
	// Deliver invokes the instance's notification hook, if any.
	Deliver(ctx context.Context, n Notification)
}

type envelope struct {
	ctx    context.Context
	n      Notification
	target string // empty means broadcast
}

// Bus is the process-scoped notification bus.
type Bus struct {
	mu         sync.Mutex
	recipients []Recipient
	queue      []envelope
	delivering bool
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{}
}

// Register appends a recipient. Registration order fixes delivery order.
func (b *Bus) Register(r Recipient) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recipients = append(b.recipients, r)
}

// Unregister removes the recipient with the given id, preserving the order of
// the rest. Unknown ids are ignored so termination stays idempotent.
func (b *Bus) Unregister(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, r := range b.recipients {
		if r.ID() == id {
			b.recipients = append(b.recipients[:i], b.recipients[i+1:]...)
			return
		}
	}
}

// Publish broadcasts a notification from sender to every other active
// recipient. Fire-and-forget: recipient errors never reach the caller.
func (b *Bus) Publish(ctx context.Context, sender, name string, payload any) {
	b.enqueue(envelope{ctx: ctx, n: Notification{Name: name, Payload: payload, Sender: sender}})
}

// PublishTo delivers a notification to a single named recipient. A recipient
// equal to the sender is excluded, same as in a broadcast.
func (b *Bus) PublishTo(ctx context.Context, sender, target, name string, payload any) {
	b.enqueue(envelope{ctx: ctx, n: Notification{Name: name, Payload: payload, Sender: sender}, target: target})
}

func (b *Bus) enqueue(env envelope) {
	b.mu.Lock()
	b.queue = append(b.queue, env)
	if b.delivering {
		b.mu.Unlock()
		return
	}
	b.delivering = true
	for len(b.queue) > 0 {
		next := b.queue[0]
		b.queue = b.queue[1:]
		recipients := make([]Recipient, len(b.recipients))
		copy(recipients, b.recipients)
		b.mu.Unlock()
		b.deliver(next, recipients)
		b.mu.Lock()
	}
	b.delivering = false
	b.mu.Unlock()
}

func (b *Bus) deliver(env envelope, recipients []Recipient) {
	for _, r := range recipients {
		if r.ID() == env.n.Sender {
			continue
		}
		if env.target != "" && r.ID() != env.target {
			continue
		}
		if !r.Active() {
			continue
		}
		b.deliverOne(env.ctx, r, env.n)
	}
}

// deliverOne isolates a single recipient so one misbehaving hook cannot stop
// delivery to the rest.
func (b *Bus) deliverOne(ctx context.Context, r Recipient, n Notification) {
	defer func() {
		if rec := recover(); rec != nil {
			ctxlog.FromContext(ctx).Error("Notification recipient panicked.",
				"recipient", r.ID(), "notification", n.Name, "panic", rec)
		}
	}()
	r.Deliver(ctx, n)
}
