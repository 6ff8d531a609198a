package clock

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/quantum28/MagicMirror/internal/config"
	"github.com/quantum28/MagicMirror/internal/module"
	"github.com/quantum28/MagicMirror/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRuntime struct {
	id  string
	cfg config.Resolved

	mu      sync.Mutex
	notifs  []string
	updates int
}

func newFakeRuntime(t *testing.T, overrides map[string]any) *fakeRuntime {
	t.Helper()
	ctx, _ := testutil.NewContext()
	reg := module.NewRegistry()
	(&Module{}).Register(reg)
	def, ok := reg.Lookup("clock")
	require.True(t, ok)
	return &fakeRuntime{
		id:  "module_0_clock",
		cfg: config.Resolve(ctx, "clock", def.Defaults, overrides),
	}
}

func (rt *fakeRuntime) ID() string              { return rt.id }
func (rt *fakeRuntime) ModuleName() string      { return "clock" }
func (rt *fakeRuntime) Config() config.Resolved { return rt.cfg }
func (rt *fakeRuntime) Translate(key string) string {
	return key
}
func (rt *fakeRuntime) Logger() *slog.Logger { return slog.Default() }

func (rt *fakeRuntime) SendNotification(name string, payload any) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.notifs = append(rt.notifs, name)
}

func (rt *fakeRuntime) SendToBackend(string, any) {}

func (rt *fakeRuntime) RequestUpdate(module.UpdateOptions) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.updates++
}

func (rt *fakeRuntime) counts() (notifs []string, updates int) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return append([]string(nil), rt.notifs...), rt.updates
}

func TestTickerBroadcastsAndRefreshes(t *testing.T) {
	m := &Module{}
	rt := newFakeRuntime(t, map[string]any{"updateInterval": "10ms"})

	ctx := context.Background()
	m.contentAttached(ctx, rt)
	t.Cleanup(func() { m.stop(ctx, rt) })

	require.Eventually(t, func() bool {
		notifs, updates := rt.counts()
		return len(notifs) >= 2 && updates >= 2
	}, 5*time.Second, 5*time.Millisecond)

	notifs, _ := rt.counts()
	assert.Equal(t, NotifyClockSecond, notifs[0])
}

func TestStopEndsTicker(t *testing.T) {
	m := &Module{}
	rt := newFakeRuntime(t, map[string]any{"updateInterval": "10ms"})
	ctx := context.Background()

	m.contentAttached(ctx, rt)
	require.Eventually(t, func() bool {
		notifs, _ := rt.counts()
		return len(notifs) >= 1
	}, 5*time.Second, 5*time.Millisecond)

	m.stop(ctx, rt)
	// Stopping again is harmless.
	m.stop(ctx, rt)

	notifs, _ := rt.counts()
	time.Sleep(50 * time.Millisecond)
	after, _ := rt.counts()
	assert.LessOrEqual(t, len(after), len(notifs)+1)
}

func TestProduceContentUsesTimeFormat(t *testing.T) {
	m := &Module{}
	rt := newFakeRuntime(t, map[string]any{"timeFormat": "15:04"})

	node, err := m.produceContent(context.Background(), rt)
	require.NoError(t, err)
	assert.Equal(t, "div", node.Tag)
	assert.Equal(t, "clock", node.Class)
	require.Len(t, node.Children, 1)
	assert.Len(t, node.Children[0].Text, len("15:04"))
}
