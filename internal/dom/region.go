package dom

import "sync"

// Region is a named slot of the shared display. Each region is exclusively
// owned by one module instance; the update scheduler is the only writer.
// Timer callbacks swap content from their own goroutines, hence the lock.
type Region struct {
	mu      sync.Mutex
	name    string
	content *Node
	hidden  bool
}

// NewRegion returns an empty region with the given position name.
func NewRegion(name string) *Region {
	return &Region{name: name}
}

// Name returns the region's position name (e.g. "top_left").
func (r *Region) Name() string {
	return r.name
}

// Attach replaces the region's content and returns the previous content node.
func (r *Region) Attach(n *Node) *Node {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.content
	r.content = n
	return prev
}

// Content returns the currently attached node, which may be nil.
func (r *Region) Content() *Node {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.content
}

// SetHidden toggles visibility. The content node is retained either way so a
// suspended instance can resume without reinitialization.
func (r *Region) SetHidden(hidden bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hidden = hidden
}

// Hidden reports whether the region is currently suppressed from display.
func (r *Region) Hidden() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hidden
}
