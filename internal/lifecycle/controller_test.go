package lifecycle

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/quantum28/MagicMirror/internal/bus"
	"github.com/quantum28/MagicMirror/internal/dom"
	"github.com/quantum28/MagicMirror/internal/module"
	"github.com/quantum28/MagicMirror/internal/resource"
	"github.com/quantum28/MagicMirror/internal/scheduler"
	"github.com/quantum28/MagicMirror/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	ctx      context.Context
	logs     *testutil.SafeBuffer
	registry *module.Registry
	bus      *bus.Bus
	ctrl     *Controller
}

func newHarness(t *testing.T, defs ...*module.Definition) *harness {
	t.Helper()
	ctx, logs := testutil.NewContext()
	registry := module.NewRegistry()
	for _, def := range defs {
		registry.Register(def)
	}
	b := bus.New()
	loader := resource.NewLoader(t.TempDir(), 0)
	t.Cleanup(func() { _ = loader.Close() })
	ctrl := NewController(ctx, Options{
		Registry:  registry,
		Resources: loader,
		Bus:       b,
		Scheduler: scheduler.New(),
	})
	return &harness{ctx: ctx, logs: logs, registry: registry, bus: b, ctrl: ctrl}
}

// callLog records hook invocations across goroutines.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, s)
}

func (l *callLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.calls))
	copy(out, l.calls)
	return out
}

func TestRegisterUnknownModule(t *testing.T) {
	h := newHarness(t)
	_, err := h.ctrl.Register(h.ctx, "newsfeed", "top_bar", nil)
	var unknown *module.UnknownModuleError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "newsfeed", unknown.Name)
	assert.Empty(t, h.ctrl.Instances())
}

func TestStartAllDrivesInstanceToRunning(t *testing.T) {
	hooks := &callLog{}
	def := &module.Definition{
		Name:     "clock",
		Defaults: map[string]any{"timeFormat": "15:04:05", "updateInterval": "1s"},
		Hooks: module.Hooks{
			Init: func(_ context.Context, rt module.Runtime) error {
				hooks.add("init")
				return nil
			},
			Start: func(_ context.Context, rt module.Runtime) error {
				hooks.add("start")
				// Overrides are already merged over defaults here.
				assert.Equal(t, "HH:mm", rt.Config().String("timeFormat", ""))
				assert.Equal(t, "1s", rt.Config().String("updateInterval", ""))
				return nil
			},
			ContentAttached: func(_ context.Context, rt module.Runtime) {
				hooks.add("contentAttached")
			},
			ProduceContent: func(_ context.Context, rt module.Runtime) (*dom.Node, error) {
				hooks.add("produceContent")
				return dom.NewText("12:00"), nil
			},
		},
	}
	h := newHarness(t, def)

	in, err := h.ctrl.Register(h.ctx, "clock", "top_bar", map[string]any{"timeFormat": "HH:mm"})
	require.NoError(t, err)
	assert.Equal(t, "module_0_clock", in.ID())
	assert.Equal(t, StateRegistered, in.State())

	h.ctrl.StartAll(h.ctx)

	assert.Equal(t, StateRunning, in.State())
	assert.True(t, in.Active())
	require.NotNil(t, in.Region().Content())
	assert.Equal(t, "12:00", in.Region().Content().Text)
	assert.Equal(t, []string{"init", "start", "produceContent", "contentAttached"}, hooks.list())
}

func TestStartHookFailureIsolatesSiblings(t *testing.T) {
	broken := &module.Definition{
		Name: "broken",
		Hooks: module.Hooks{
			Start: func(context.Context, module.Runtime) error {
				return errors.New("no database")
			},
		},
	}
	healthy := &module.Definition{Name: "healthy"}
	h := newHarness(t, broken, healthy)

	bad, err := h.ctrl.Register(h.ctx, "broken", "top_bar", nil)
	require.NoError(t, err)
	good, err := h.ctrl.Register(h.ctx, "healthy", "bottom_bar", nil)
	require.NoError(t, err)

	h.ctrl.StartAll(h.ctx)

	assert.Equal(t, StateFailed, bad.State())
	var failure *HookFailure
	require.ErrorAs(t, bad.Failure(), &failure)
	assert.Equal(t, "start", failure.Stage)
	assert.Equal(t, "module_0_broken", failure.Instance)

	assert.Equal(t, StateRunning, good.State())
	assert.Contains(t, h.logs.String(), "Instance failed; siblings continue.")
}

func TestPanickingHookBecomesFailure(t *testing.T) {
	def := &module.Definition{
		Name: "panicky",
		Hooks: module.Hooks{
			Start: func(context.Context, module.Runtime) error {
				panic("unexpected nil")
			},
		},
	}
	h := newHarness(t, def)
	in, err := h.ctrl.Register(h.ctx, "panicky", "top_bar", nil)
	require.NoError(t, err)

	h.ctrl.StartAll(h.ctx)
	assert.Equal(t, StateFailed, in.State())
	assert.ErrorContains(t, in.Failure(), "panic")
}

func TestMissingResourceStallsInstance(t *testing.T) {
	def := &module.Definition{
		Name:    "heavy",
		Scripts: []string{"vendor/missing.js"},
	}
	h := newHarness(t, def)
	in, err := h.ctrl.Register(h.ctx, "heavy", "top_bar", nil)
	require.NoError(t, err)

	h.ctrl.StartAll(h.ctx)

	assert.Equal(t, StateResourcesLoading, in.State())
	var loadErr *resource.LoadError
	require.ErrorAs(t, in.Failure(), &loadErr)
	assert.Equal(t, "heavy", loadErr.Module)
	assert.Contains(t, h.logs.String(), "Resource loading failed; instance stalled.")

	// Re-advancing never proceeds with missing resources.
	require.Error(t, h.ctrl.Advance(h.ctx, in))
	assert.Equal(t, StateResourcesLoading, in.State())
}

func TestNotificationReachesSiblingsNotSender(t *testing.T) {
	received := &callLog{}
	sender := &module.Definition{
		Name: "announcer",
		Hooks: module.Hooks{
			Notification: func(_ context.Context, rt module.Runtime, name string, _ any, _ string) {
				received.add(rt.ID() + ":" + name)
			},
		},
	}
	listener := &module.Definition{
		Name: "listener",
		Hooks: module.Hooks{
			Notification: func(_ context.Context, rt module.Runtime, name string, payload any, from string) {
				received.add(rt.ID() + ":" + name + ":from=" + from)
				assert.Equal(t, map[string]any{"second": 7}, payload)
			},
		},
	}
	h := newHarness(t, sender, listener)
	src, err := h.ctrl.Register(h.ctx, "announcer", "top_bar", nil)
	require.NoError(t, err)
	_, err = h.ctrl.Register(h.ctx, "listener", "bottom_bar", nil)
	require.NoError(t, err)
	h.ctrl.StartAll(h.ctx)

	src.SendNotification("CLOCK_SECOND", map[string]any{"second": 7})

	assert.Equal(t, []string{"module_1_listener:CLOCK_SECOND:from=module_0_announcer"}, received.list())
}

func TestContentAttachedDeliveredExactlyOnce(t *testing.T) {
	attached := &callLog{}
	def := &module.Definition{
		Name: "clock",
		Hooks: module.Hooks{
			ContentAttached: func(_ context.Context, rt module.Runtime) {
				attached.add(rt.ID())
			},
		},
	}
	h := newHarness(t, def)
	in, err := h.ctrl.Register(h.ctx, "clock", "top_bar", nil)
	require.NoError(t, err)
	h.ctrl.StartAll(h.ctx)
	require.Equal(t, StateRunning, in.State())

	// A stray duplicate of the system signal must not re-trigger the hook.
	h.bus.PublishTo(h.ctx, bus.SenderSystem, in.ID(), bus.ContentAttached, nil)

	assert.Equal(t, []string{"module_0_clock"}, attached.list())
}

func TestSuspendAndResume(t *testing.T) {
	hooks := &callLog{}
	def := &module.Definition{
		Name: "clock",
		Hooks: module.Hooks{
			Notification: func(_ context.Context, _ module.Runtime, name string, _ any, _ string) {
				hooks.add("notification:" + name)
			},
			Suspended: func(context.Context, module.Runtime) { hooks.add("suspended") },
			Resumed:   func(context.Context, module.Runtime) { hooks.add("resumed") },
		},
	}
	h := newHarness(t, def)
	in, err := h.ctrl.Register(h.ctx, "clock", "top_bar", nil)
	require.NoError(t, err)
	h.ctrl.StartAll(h.ctx)

	h.ctrl.Suspend(h.ctx, in)
	assert.Equal(t, StateSuspended, in.State())
	assert.True(t, in.Region().Hidden())
	assert.True(t, in.Active())

	// Suspended instances keep receiving notifications.
	h.bus.Publish(h.ctx, "elsewhere", "PING", nil)

	// Suspend is a no-op unless Running.
	h.ctrl.Suspend(h.ctx, in)

	h.ctrl.Resume(h.ctx, in)
	assert.Equal(t, StateRunning, in.State())
	assert.False(t, in.Region().Hidden())

	// Resume is a no-op when already Running.
	h.ctrl.Resume(h.ctx, in)

	assert.Equal(t, []string{"suspended", "notification:PING", "resumed"}, hooks.list())
}

func TestTerminateIsIdempotent(t *testing.T) {
	hooks := &callLog{}
	def := &module.Definition{
		Name: "clock",
		Hooks: module.Hooks{
			Notification: func(_ context.Context, _ module.Runtime, name string, _ any, _ string) {
				hooks.add("notification:" + name)
			},
			Stop: func(context.Context, module.Runtime) { hooks.add("stop") },
		},
	}
	h := newHarness(t, def)
	in, err := h.ctrl.Register(h.ctx, "clock", "top_bar", nil)
	require.NoError(t, err)
	h.ctrl.StartAll(h.ctx)
	in.Region().Attach(dom.NewText("12:00"))

	h.ctrl.Terminate(h.ctx, in)
	h.ctrl.Terminate(h.ctx, in)

	assert.Equal(t, StateTerminated, in.State())
	assert.False(t, in.Active())
	assert.Nil(t, in.Region().Content())
	assert.Equal(t, []string{"stop"}, hooks.list())

	// Terminated instances are off the bus entirely.
	h.bus.Publish(h.ctx, "elsewhere", "PING", nil)
	assert.Equal(t, []string{"stop"}, hooks.list())
}

func TestTranslateUsesLoadedBundle(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "de.yaml"), []byte("LOADING: Lade ...\n"), 0o644))

	ctx, _ := testutil.NewContext()
	registry := module.NewRegistry()
	registry.Register(&module.Definition{
		Name:         "weather",
		Translations: map[string]string{"de": "de.yaml"},
	})
	loader := resource.NewLoader(dir, 0)
	t.Cleanup(func() { _ = loader.Close() })
	ctrl := NewController(ctx, Options{
		Registry:  registry,
		Resources: loader,
		Bus:       bus.New(),
		Scheduler: scheduler.New(),
		Locale:    "de",
	})

	in, err := ctrl.Register(ctx, "weather", "bottom_bar", nil)
	require.NoError(t, err)
	ctrl.StartAll(ctx)
	require.Equal(t, StateRunning, in.State())

	assert.Equal(t, "Lade ...", in.Translate("LOADING"))
	assert.Equal(t, "UNKNOWN", in.Translate("UNKNOWN"))
}

func TestBackendDeliveryGatedOnActive(t *testing.T) {
	got := &callLog{}
	def := &module.Definition{
		Name: "weather",
		Hooks: module.Hooks{
			BackendNotification: func(_ context.Context, _ module.Runtime, name string, _ any) {
				got.add(name)
			},
		},
	}
	h := newHarness(t, def)
	in, err := h.ctrl.Register(h.ctx, "weather", "bottom_bar", nil)
	require.NoError(t, err)

	// Before Running: dropped.
	in.DeliverBackend(h.ctx, "DATA_READY", nil)
	assert.Empty(t, got.list())

	h.ctrl.StartAll(h.ctx)
	in.DeliverBackend(h.ctx, "DATA_READY", nil)
	assert.Equal(t, []string{"DATA_READY"}, got.list())
}

func TestRequestUpdateRerendersRegion(t *testing.T) {
	content := "first"
	def := &module.Definition{
		Name: "clock",
		Hooks: module.Hooks{
			ProduceContent: func(context.Context, module.Runtime) (*dom.Node, error) {
				return dom.NewText(content), nil
			},
		},
	}
	h := newHarness(t, def)
	in, err := h.ctrl.Register(h.ctx, "clock", "top_bar", nil)
	require.NoError(t, err)
	h.ctrl.StartAll(h.ctx)
	require.Equal(t, "first", in.Region().Content().Text)

	content = "second"
	in.RequestUpdate(module.UpdateOptions{})
	assert.Equal(t, "second", in.Region().Content().Text)
}

func TestProduceContentFailureIsTerminal(t *testing.T) {
	fail := false
	def := &module.Definition{
		Name: "clock",
		Hooks: module.Hooks{
			ProduceContent: func(context.Context, module.Runtime) (*dom.Node, error) {
				if fail {
					return nil, errors.New("render exploded")
				}
				return dom.NewText("ok"), nil
			},
		},
	}
	h := newHarness(t, def)
	in, err := h.ctrl.Register(h.ctx, "clock", "top_bar", nil)
	require.NoError(t, err)
	h.ctrl.StartAll(h.ctx)

	fail = true
	in.RequestUpdate(module.UpdateOptions{})

	assert.Equal(t, StateFailed, in.State())
	assert.ErrorContains(t, in.Failure(), "render exploded")
	// The region keeps its last good content.
	assert.Equal(t, "ok", in.Region().Content().Text)
}

func TestDuplicatePlacementsGetDistinctIdentities(t *testing.T) {
	def := &module.Definition{Name: "clock"}
	h := newHarness(t, def)

	first, err := h.ctrl.Register(h.ctx, "clock", "top_left", nil)
	require.NoError(t, err)
	second, err := h.ctrl.Register(h.ctx, "clock", "top_right", nil)
	require.NoError(t, err)

	assert.Equal(t, "module_0_clock", first.ID())
	assert.Equal(t, "module_1_clock", second.ID())
	assert.Equal(t, 0, first.Index())
	assert.Equal(t, 1, second.Index())
	assert.NotSame(t, first.Region(), second.Region())
}
