// Package scheduler collapses repeated region-refresh requests into a bounded
// number of visible transitions.
//
// The coalescing rule is latest-wins: a new request for an instance cancels
// any transition still in flight for that instance, skipping its exit effect,
// and the new transition starts immediately. No request is ever queued behind
// another for the same instance, so a module refreshing faster than its
// transition duration cannot build a backlog. Instances are fully independent
// of each other; there is no global lock held across a transition.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/quantum28/MagicMirror/internal/ctxlog"
	"github.com/quantum28/MagicMirror/internal/dom"
	"github.com/quantum28/MagicMirror/internal/module"
)

// Producer builds the latest content for an instance. It is called at attach
// time, not request time, so a superseding request always renders the newest
// state.
type Producer func(ctx context.Context) (*dom.Node, error)

// Request describes one update for one instance's region.
type Request struct {
	InstanceID string
	Region     *dom.Region
	Produce    Producer
	Options    module.UpdateOptions
	// OnAttached fires after the new content node has been attached.
	OnAttached func(node *dom.Node)
	// OnError fires when the producer fails; the region keeps its previous
	// content in that case.
	OnError func(err error)
}

type entry struct {
	generation uint64
	timer      *time.Timer
}

// Scheduler coalesces and times region updates. The zero value is not usable;
// call New.
type Scheduler struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New creates an empty scheduler.
func New() *Scheduler {
	return &Scheduler{entries: make(map[string]*entry)}
}

// RequestUpdate schedules a transition for the request's instance, cancelling
// any in-flight transition for the same instance first. With a zero duration
// the content is produced and attached before RequestUpdate returns.
func (s *Scheduler) RequestUpdate(ctx context.Context, req Request) {
	s.mu.Lock()
	e := s.entries[req.InstanceID]
	if e == nil {
		e = &entry{}
		s.entries[req.InstanceID] = e
	}
	e.generation++
	gen := e.generation
	if e.timer != nil {
		// Fast-forward the superseded transition: its exit effect is skipped
		// and its content is never attached.
		e.timer.Stop()
		e.timer = nil
	}

	if req.Options.Duration <= 0 {
		s.mu.Unlock()
		s.apply(ctx, req, gen)
		return
	}

	// The exit effect occupies the first half of the duration; the new
	// content attaches at the midpoint and the enter effect fills the rest.
	e.timer = time.AfterFunc(req.Options.Duration/2, func() {
		s.mu.Lock()
		if e.generation != gen {
			s.mu.Unlock()
			return
		}
		e.timer = nil
		s.mu.Unlock()
		s.apply(ctx, req, gen)
	})
	s.mu.Unlock()

	ctxlog.FromContext(ctx).Debug("Transition scheduled.",
		"instance", req.InstanceID,
		"duration", req.Options.Duration,
		"transition", req.Options.Transition)
}

// Cancel drops any pending transition for the instance and forgets it.
// Used on terminate; idempotent.
func (s *Scheduler) Cancel(instanceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entries[instanceID]
	if e == nil {
		return
	}
	e.generation++
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	delete(s.entries, instanceID)
}

// apply produces the latest content and attaches it, unless a newer request
// superseded this one while the producer ran.
func (s *Scheduler) apply(ctx context.Context, req Request, gen uint64) {
	logger := ctxlog.FromContext(ctx)

	node, err := req.Produce(ctx)
	if err != nil {
		logger.Error("Content producer failed; region keeps previous content.",
			"instance", req.InstanceID, "error", err)
		if req.OnError != nil {
			req.OnError(err)
		}
		return
	}

	// Attach while still holding the lock: a superseding request that arrives
	// after the generation check must not slip its content in first and end up
	// overwritten by this, now stale, node.
	s.mu.Lock()
	e := s.entries[req.InstanceID]
	if e == nil || e.generation != gen {
		s.mu.Unlock()
		return
	}
	req.Region.Attach(node)
	s.mu.Unlock()

	logger.Debug("Region content attached.", "instance", req.InstanceID, "region", req.Region.Name())
	if req.OnAttached != nil {
		req.OnAttached(node)
	}
}
