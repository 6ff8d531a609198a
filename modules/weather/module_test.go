package weather

import (
	"context"
	"log/slog"
	"sync"
	"testing"

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
	sent    []string
	payload any
	updates int
}

func newFakeRuntime(t *testing.T, overrides map[string]any) *fakeRuntime {
	t.Helper()
	ctx, _ := testutil.NewContext()
	reg := module.NewRegistry()
	(&Module{}).Register(reg)
	def, ok := reg.Lookup("weather")
	require.True(t, ok)
	return &fakeRuntime{
		id:  "module_1_weather",
		cfg: config.Resolve(ctx, "weather", def.Defaults, overrides),
	}
}

func (rt *fakeRuntime) ID() string                  { return rt.id }
func (rt *fakeRuntime) ModuleName() string          { return "weather" }
func (rt *fakeRuntime) Config() config.Resolved     { return rt.cfg }
func (rt *fakeRuntime) Translate(key string) string { return key }
func (rt *fakeRuntime) Logger() *slog.Logger        { return slog.Default() }
func (rt *fakeRuntime) SendNotification(string, any) {}

func (rt *fakeRuntime) SendToBackend(name string, payload any) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.sent = append(rt.sent, name)
	rt.payload = payload
}

func (rt *fakeRuntime) RequestUpdate(module.UpdateOptions) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.updates++
}

func TestContentAttachedRequestsFetchWithInstanceOptions(t *testing.T) {
	m := &Module{}
	rt := newFakeRuntime(t, map[string]any{
		"apiURL":   "https://example.com/weather",
		"location": "Berlin",
		"timeout":  "3s",
	})

	m.contentAttached(context.Background(), rt)

	require.Equal(t, []string{EventFetch}, rt.sent)
	payload := rt.payload.(map[string]any)
	assert.Equal(t, "https://example.com/weather", payload["url"])
	assert.Equal(t, "Berlin", payload["location"])
	assert.Equal(t, "metric", payload["units"])
	assert.Equal(t, "3s", payload["timeout"])
}

func TestDataReadyRefreshesRegion(t *testing.T) {
	m := &Module{}
	rt := newFakeRuntime(t, nil)

	m.backendNotification(context.Background(), rt, EventDataReady, map[string]any{
		"temp":        21.5,
		"description": "clear sky",
	})
	assert.Equal(t, 1, rt.updates)

	node, err := m.produceContent(context.Background(), rt)
	require.NoError(t, err)
	require.Len(t, node.Children, 2)
	assert.Equal(t, "21.5°", node.Children[0].Text)
	assert.Equal(t, "clear sky", node.Children[1].Text)
}

func TestProduceContentBeforeDataShowsLoading(t *testing.T) {
	m := &Module{}
	rt := newFakeRuntime(t, nil)

	node, err := m.produceContent(context.Background(), rt)
	require.NoError(t, err)
	require.Len(t, node.Children, 1)
	assert.Equal(t, "LOADING", node.Children[0].Text)
}
