// Package clock is the built-in time display module. Once its content is
// attached it ticks once per second, refreshing its region and broadcasting
// the current second to any module that wants to stay in lockstep with the
// displayed time.
package clock

import (
	"context"
	"sync"
	"time"

	"github.com/quantum28/MagicMirror/internal/dom"
	"github.com/quantum28/MagicMirror/internal/module"
)

// NotifyClockSecond is broadcast on every tick with {"second": n}.
const NotifyClockSecond = "CLOCK_SECOND"

// Module implements app.Module for the clock.
type Module struct {
	mu    sync.Mutex
	stops map[string]chan struct{}
}

// Register installs the clock definition into the catalog.
func (m *Module) Register(reg *module.Registry) {
	reg.Register(&module.Definition{
		Name: "clock",
		Defaults: map[string]any{
			"timeFormat":         "15:04:05",
			"updateInterval":     "1s",
			"transition":         "",
			"transitionDuration": "0s",
		},
		Hooks: module.Hooks{
			ContentAttached: m.contentAttached,
			ProduceContent:  m.produceContent,
			Stop:            m.stop,
		},
	})
}

// contentAttached starts the per-instance ticker. The first refresh already
// happened when the content node was attached.
func (m *Module) contentAttached(ctx context.Context, rt module.Runtime) {
	interval := rt.Config().Duration("updateInterval", time.Second)
	opts := module.UpdateOptions{
		Duration:   rt.Config().Duration("transitionDuration", 0),
		Transition: rt.Config().String("transition", ""),
	}

	stop := make(chan struct{})
	m.mu.Lock()
	if m.stops == nil {
		m.stops = make(map[string]chan struct{})
	}
	m.stops[rt.ID()] = stop
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case now := <-ticker.C:
				rt.SendNotification(NotifyClockSecond, map[string]any{"second": now.Second()})
				rt.RequestUpdate(opts)
			}
		}
	}()
}

func (m *Module) produceContent(ctx context.Context, rt module.Runtime) (*dom.Node, error) {
	format := rt.Config().String("timeFormat", "15:04:05")
	node := dom.NewNode("div")
	node.Class = "clock"
	node.Append(dom.NewText(time.Now().Format(format)))
	return node, nil
}

func (m *Module) stop(ctx context.Context, rt module.Runtime) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if stop, ok := m.stops[rt.ID()]; ok {
		close(stop)
		delete(m.stops, rt.ID())
	}
}
