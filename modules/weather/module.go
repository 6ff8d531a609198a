// Package weather is the built-in weather module. The client half never
// fetches anything itself: it asks its server-side backend over the module's
// channel, and re-renders when the backend pushes fresh data.
package weather

import (
	"context"
	"fmt"
	"sync"

	"github.com/quantum28/MagicMirror/internal/bridge"
	"github.com/quantum28/MagicMirror/internal/dom"
	"github.com/quantum28/MagicMirror/internal/module"
)

// Channel events exchanged with the backend.
const (
	EventFetch     = "FETCH_WEATHER"
	EventDataReady = "DATA_READY"
)

// Module implements app.Module and app.BackendProvider for the weather
// display.
type Module struct {
	mu      sync.Mutex
	current map[string]map[string]any // latest data per instance id

	backend *backend
}

// Register installs the weather definition into the catalog.
func (m *Module) Register(reg *module.Registry) {
	reg.Register(&module.Definition{
		Name: "weather",
		Defaults: map[string]any{
			"location": "",
			"units":    "metric",
			"apiURL":   "",
			"timeout":  "10s",
		},
		Hooks: module.Hooks{
			ContentAttached:     m.contentAttached,
			BackendNotification: m.backendNotification,
			ProduceContent:      m.produceContent,
		},
	})
}

// Backend implements app.BackendProvider.
func (m *Module) Backend() *bridge.Backend {
	if m.backend == nil {
		m.backend = newBackend()
	}
	return &bridge.Backend{
		Name: "weather",
		Hooks: bridge.BackendHooks{
			Notification: m.backend.notification,
		},
	}
}

// contentAttached requests the first fetch from the backend.
func (m *Module) contentAttached(ctx context.Context, rt module.Runtime) {
	rt.SendToBackend(EventFetch, map[string]any{
		"url":      rt.Config().String("apiURL", ""),
		"location": rt.Config().String("location", ""),
		"units":    rt.Config().String("units", "metric"),
		"timeout":  rt.Config().String("timeout", "10s"),
	})
}

// backendNotification stores the pushed data and refreshes the region.
func (m *Module) backendNotification(ctx context.Context, rt module.Runtime, event string, payload any) {
	if event != EventDataReady {
		return
	}
	data, ok := payload.(map[string]any)
	if !ok {
		rt.Logger().Warn("Ignoring malformed weather payload.", "type", fmt.Sprintf("%T", payload))
		return
	}
	m.mu.Lock()
	if m.current == nil {
		m.current = make(map[string]map[string]any)
	}
	m.current[rt.ID()] = data
	m.mu.Unlock()
	rt.RequestUpdate(module.UpdateOptions{})
}

func (m *Module) produceContent(ctx context.Context, rt module.Runtime) (*dom.Node, error) {
	m.mu.Lock()
	data := m.current[rt.ID()]
	m.mu.Unlock()

	node := dom.NewNode("div")
	node.Class = "weather"
	if data == nil {
		node.Append(dom.NewText(rt.Translate("LOADING")))
		return node, nil
	}
	if temp, ok := data["temp"]; ok {
		node.Append(dom.NewText(fmt.Sprintf("%v°", temp)))
	}
	if desc, ok := data["description"].(string); ok {
		node.Append(dom.NewText(desc))
	}
	return node, nil
}
