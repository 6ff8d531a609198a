package lifecycle

import (
	"context"
	"fmt"
	"sync"

	"github.com/quantum28/MagicMirror/internal/bridge"
	"github.com/quantum28/MagicMirror/internal/bus"
	"github.com/quantum28/MagicMirror/internal/config"
	"github.com/quantum28/MagicMirror/internal/ctxlog"
	"github.com/quantum28/MagicMirror/internal/dom"
	"github.com/quantum28/MagicMirror/internal/module"
	"github.com/quantum28/MagicMirror/internal/resource"
	"github.com/quantum28/MagicMirror/internal/scheduler"
)

// Options holds the collaborators a Controller is constructed with. Mux may
// be nil for displays running without a paired server.
type Options struct {
	Registry  *module.Registry
	Resources *resource.Loader
	Bus       *bus.Bus
	Mux       *bridge.Multiplexer
	Scheduler *scheduler.Scheduler
	Locale    string
}

// Controller owns every module instance's state and is the only component
// that mutates it. All transitions go through its API.
type Controller struct {
	ctx       context.Context
	registry  *module.Registry
	resources *resource.Loader
	bus       *bus.Bus
	mux       *bridge.Multiplexer
	sched     *scheduler.Scheduler
	locale    string

	mu        sync.Mutex
	instances []*Instance
}

// NewController creates a controller with no instances. The context carries
// the application logger.
func NewController(ctx context.Context, opts Options) *Controller {
	locale := opts.Locale
	if locale == "" {
		locale = "en"
	}
	return &Controller{
		ctx:       ctx,
		registry:  opts.Registry,
		resources: opts.Resources,
		bus:       opts.Bus,
		mux:       opts.Mux,
		sched:     opts.Scheduler,
		locale:    locale,
	}
}

// Register creates a new instance for a placement and registers it with the
// notification bus. An undeclared module type fails with
// *module.UnknownModuleError and registers nothing.
func (c *Controller) Register(ctx context.Context, moduleName, position string, overrides map[string]any) (*Instance, error) {
	def, ok := c.registry.Lookup(moduleName)
	if !ok {
		return nil, &module.UnknownModuleError{Name: moduleName}
	}

	c.mu.Lock()
	index := len(c.instances)
	in := &Instance{
		id:     fmt.Sprintf("module_%d_%s", index, moduleName),
		index:  index,
		def:    def,
		region: dom.NewRegion(position),
		cfg:    config.Resolve(ctx, moduleName, def.Defaults, overrides),
		ctrl:   c,
		state:  StateRegistered,
	}
	c.instances = append(c.instances, in)
	c.mu.Unlock()

	c.bus.Register(in)
	ctxlog.FromContext(ctx).Debug("Instance registered.",
		"instance", in.id, "module", moduleName, "position", position)

	if def.Hooks.Init != nil {
		c.safeHook(ctx, in, "init", func(ctx context.Context) error {
			return def.Hooks.Init(ctx, in)
		})
	}
	return in, nil
}

// Instances returns all instances in registration order.
func (c *Controller) Instances() []*Instance {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Instance, len(c.instances))
	copy(out, c.instances)
	return out
}

// Lookup returns the instance with the given id.
func (c *Controller) Lookup(id string) (*Instance, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, in := range c.instances {
		if in.id == id {
			return in, true
		}
	}
	return nil, false
}

// Advance drives one state transition for the instance, invoking the hook
// belonging to that transition if the module defines it. A hook failure moves
// this instance to Failed and is returned; sibling instances are unaffected.
func (c *Controller) Advance(ctx context.Context, in *Instance) error {
	switch in.State() {
	case StateRegistered:
		return c.loadResources(ctx, in)

	case StateResourcesLoading:
		// Stalled: resources failed earlier and the instance never proceeds
		// with missing resources.
		if err := in.Failure(); err != nil {
			return err
		}
		return nil

	case StateResourcesLoaded:
		return c.start(ctx, in)

	case StateStarted:
		return c.attachContent(ctx, in)

	case StateContentAttached:
		in.setState(StateRunning)
		// The canonical first-refresh signal, delivered to this instance
		// only, exactly once.
		c.bus.PublishTo(ctx, bus.SenderSystem, in.id, bus.ContentAttached, nil)
		return nil

	case StateFailed:
		return in.Failure()

	default:
		// Running, Suspended and Terminated have no forward transition.
		return nil
	}
}

func (c *Controller) loadResources(ctx context.Context, in *Instance) error {
	in.setState(StateResourcesLoading)
	bundle, err := c.resources.Load(ctx, in.def)
	if err != nil {
		in.recordFailure(err)
		ctxlog.FromContext(ctx).Error("Resource loading failed; instance stalled.",
			"instance", in.id, "module", in.def.Name, "state", StateResourcesLoading.String(), "error", err)
		return err
	}
	in.setBundle(bundle)
	in.setState(StateResourcesLoaded)
	return nil
}

func (c *Controller) start(ctx context.Context, in *Instance) error {
	if c.mux != nil {
		// Lazily opens the module's logical channel; instances of one type
		// share it. A down transport is not fatal to the start: the channel
		// set is remembered and re-opened on reconnect.
		if err := c.mux.Subscribe(in.def.Name, in); err != nil {
			ctxlog.FromContext(ctx).Warn("Channel not yet available.",
				"instance", in.id, "module", in.def.Name, "error", err)
		}
	}
	if in.def.Hooks.Start != nil {
		if err := c.safeHook(ctx, in, "start", func(ctx context.Context) error {
			return in.def.Hooks.Start(ctx, in)
		}); err != nil {
			return err
		}
	}
	in.setState(StateStarted)
	return nil
}

func (c *Controller) attachContent(ctx context.Context, in *Instance) error {
	var node *dom.Node
	if err := c.safeHook(ctx, in, "produceContent", func(ctx context.Context) error {
		var err error
		node, err = in.produceContent(ctx)
		return err
	}); err != nil {
		return err
	}
	in.region.Attach(node)
	in.setState(StateContentAttached)
	return nil
}

// StartAll advances every registered instance to Running. A failing instance
// stops advancing but never blocks its siblings.
func (c *Controller) StartAll(ctx context.Context) {
	for _, in := range c.Instances() {
		for {
			state := in.State()
			if state == StateRunning || state == StateTerminated || state == StateFailed {
				break
			}
			if err := c.Advance(ctx, in); err != nil {
				break
			}
			if state == in.State() {
				// No forward progress possible from this state.
				break
			}
		}
	}
}

// Suspend hides a Running instance. Its content node is retained so Resume
// needs no reinitialization. No-op in any other state.
func (c *Controller) Suspend(ctx context.Context, in *Instance) {
	if !in.transition(StateRunning, StateSuspended) {
		return
	}
	in.region.SetHidden(true)
	if in.def.Hooks.Suspended != nil {
		c.safeHook(ctx, in, "suspended", func(ctx context.Context) error {
			in.def.Hooks.Suspended(ctx, in)
			return nil
		})
	}
}

// Resume shows a Suspended instance again. No-op if already Running.
func (c *Controller) Resume(ctx context.Context, in *Instance) {
	if !in.transition(StateSuspended, StateRunning) {
		return
	}
	in.region.SetHidden(false)
	if in.def.Hooks.Resumed != nil {
		c.safeHook(ctx, in, "resumed", func(ctx context.Context) error {
			in.def.Hooks.Resumed(ctx, in)
			return nil
		})
	}
}

// Terminate releases the instance's resources and unregisters it from the
// bus and the channel multiplexer. Idempotent.
func (c *Controller) Terminate(ctx context.Context, in *Instance) {
	if in.State() == StateTerminated {
		return
	}
	if in.def.Hooks.Stop != nil {
		if err := c.runHook(ctx, func(ctx context.Context) error {
			in.def.Hooks.Stop(ctx, in)
			return nil
		}); err != nil {
			ctxlog.FromContext(ctx).Warn("Stop hook failed during termination.",
				"instance", in.id, "error", err)
		}
	}
	c.sched.Cancel(in.id)
	c.bus.Unregister(in.id)
	if c.mux != nil {
		c.mux.Unsubscribe(in.def.Name, in.id)
	}
	in.region.Attach(nil)
	in.setState(StateTerminated)
	ctxlog.FromContext(ctx).Debug("Instance terminated.", "instance", in.id)
}

// TerminateAll tears down every instance, in registration order.
func (c *Controller) TerminateAll(ctx context.Context) {
	for _, in := range c.Instances() {
		c.Terminate(ctx, in)
	}
}

// safeHook runs a hook with panic containment. Any failure marks the
// instance Failed, logs a structured failure event tagged with the instance
// identity, and is returned as a *HookFailure.
func (c *Controller) safeHook(ctx context.Context, in *Instance, stage string, fn func(ctx context.Context) error) error {
	err := c.runHook(ctx, fn)
	if err == nil {
		return nil
	}
	failure := &HookFailure{Instance: in.id, Stage: stage, Err: err}
	c.fail(ctx, in, stage, failure)
	return failure
}

func (c *Controller) runHook(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return fn(ctx)
}

// fail moves an instance to the terminal Failed state. Terminated instances
// stay terminated.
func (c *Controller) fail(ctx context.Context, in *Instance, stage string, err error) {
	if state := in.State(); state == StateTerminated || state == StateFailed {
		return
	}
	in.recordFailure(err)
	in.setState(StateFailed)
	ctxlog.FromContext(ctx).Error("Instance failed; siblings continue.",
		"instance", in.id, "module", in.def.Name, "stage", stage, "error", err)
}

func (in *Instance) setState(s State) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.state = s
}

// transition atomically moves from one exact state to another; reports
// whether it happened.
func (in *Instance) transition(from, to State) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.state != from {
		return false
	}
	in.state = to
	return true
}

func (in *Instance) setBundle(b *resource.Bundle) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.bundle = b
}

func (in *Instance) recordFailure(err error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.failure = err
}
