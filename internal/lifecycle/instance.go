package lifecycle

import (
	"context"
	"log/slog"
	"sync"

	"github.com/quantum28/MagicMirror/internal/bus"
	"github.com/quantum28/MagicMirror/internal/config"
	"github.com/quantum28/MagicMirror/internal/ctxlog"
	"github.com/quantum28/MagicMirror/internal/dom"
	"github.com/quantum28/MagicMirror/internal/module"
	"github.com/quantum28/MagicMirror/internal/resource"
	"github.com/quantum28/MagicMirror/internal/scheduler"
)

// Instance is one placed module: identity, resolved configuration, lifecycle
// state, and an exclusively-owned display region. Instances are created by
// Controller.Register and mutated only through the controller's API.
type Instance struct {
	id     string
	index  int
	def    *module.Definition
	region *dom.Region
	cfg    config.Resolved
	ctrl   *Controller

	mu              sync.Mutex
	state           State
	bundle          *resource.Bundle
	failure         error
	attachNotifSent bool
}

// Index returns the instance's sequence position in registration order.
func (in *Instance) Index() int {
	return in.index
}

// ID returns the instance identity, unique for the process lifetime.
func (in *Instance) ID() string {
	return in.id
}

// ModuleName returns the definition name this instance was created from.
func (in *Instance) ModuleName() string {
	return in.def.Name
}

// Definition returns the immutable module definition.
func (in *Instance) Definition() *module.Definition {
	return in.def
}

// Region returns the display region this instance exclusively owns.
func (in *Instance) Region() *dom.Region {
	return in.region
}

// Config returns the resolved configuration, immutable once the instance has
// started.
func (in *Instance) Config() config.Resolved {
	return in.cfg
}

// State returns the current lifecycle state.
func (in *Instance) State() State {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.state
}

// Failure returns the recorded failure for a Failed or stalled instance.
func (in *Instance) Failure() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.failure
}

// Active reports whether the instance receives notifications: Running or
// Suspended, per the bus contract.
func (in *Instance) Active() bool {
	state := in.State()
	return state == StateRunning || state == StateSuspended
}

// Deliver implements bus.Recipient. The reserved content-attached
// notification routes to the dedicated hook and is accepted exactly once;
// everything else goes to the general notification hook.
func (in *Instance) Deliver(ctx context.Context, n bus.Notification) {
	if n.Name == bus.ContentAttached {
		in.mu.Lock()
		if in.attachNotifSent {
			in.mu.Unlock()
			return
		}
		in.attachNotifSent = true
		in.mu.Unlock()
		if in.def.Hooks.ContentAttached != nil {
			in.ctrl.safeHook(ctx, in, "contentAttached", func(ctx context.Context) error {
				in.def.Hooks.ContentAttached(ctx, in)
				return nil
			})
		}
		return
	}
	if in.def.Hooks.Notification == nil {
		return
	}
	in.ctrl.safeHook(ctx, in, "notification", func(ctx context.Context) error {
		in.def.Hooks.Notification(ctx, in, n.Name, n.Payload, n.Sender)
		return nil
	})
}

// DeliverBackend implements bridge.Subscriber.
func (in *Instance) DeliverBackend(ctx context.Context, event string, payload any) {
	if !in.Active() || in.def.Hooks.BackendNotification == nil {
		return
	}
	in.ctrl.safeHook(ctx, in, "backendNotification", func(ctx context.Context) error {
		in.def.Hooks.BackendNotification(ctx, in, event, payload)
		return nil
	})
}

// Translate implements module.Runtime.
func (in *Instance) Translate(key string) string {
	in.mu.Lock()
	bundle := in.bundle
	in.mu.Unlock()
	return bundle.Translate(in.ctrl.locale, key)
}

// Logger implements module.Runtime.
func (in *Instance) Logger() *slog.Logger {
	return ctxlog.FromContext(in.ctrl.ctx).With("instance", in.id, "module", in.def.Name)
}

// SendNotification implements module.Runtime: broadcast to all siblings.
func (in *Instance) SendNotification(name string, payload any) {
	in.ctrl.bus.Publish(in.ctrl.ctx, in.id, name, payload)
}

// SendToBackend implements module.Runtime. Send failures are reported through
// the failure log and never surface to the calling hook.
func (in *Instance) SendToBackend(name string, payload any) {
	if in.ctrl.mux == nil {
		in.Logger().Warn("No backend transport configured; notification dropped.", "event", name)
		return
	}
	if err := in.ctrl.mux.Send(in.def.Name, name, payload); err != nil {
		in.Logger().Error("Failed to send to backend.", "event", name, "error", err)
	}
}

// RequestUpdate implements module.Runtime: ask the scheduler to re-render
// this instance's region. Later requests supersede in-flight ones.
func (in *Instance) RequestUpdate(opts module.UpdateOptions) {
	in.ctrl.sched.RequestUpdate(in.ctrl.ctx, scheduler.Request{
		InstanceID: in.id,
		Region:     in.region,
		Produce:    in.produceContent,
		Options:    opts,
		OnError: func(err error) {
			// Content production failures are terminal for the instance; the
			// region keeps its last successful content.
			in.ctrl.fail(in.ctrl.ctx, in, "produceContent", err)
		},
	})
}

// produceContent invokes the module's content hook. A nil hook keeps the
// region's current content.
func (in *Instance) produceContent(ctx context.Context) (*dom.Node, error) {
	if in.def.Hooks.ProduceContent == nil {
		return in.region.Content(), nil
	}
	return in.def.Hooks.ProduceContent(ctx, in)
}
