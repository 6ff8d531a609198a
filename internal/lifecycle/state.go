// Package lifecycle drives each placed module instance through its state
// machine and isolates per-instance failures, so one misbehaving module never
// stops its siblings.
package lifecycle

import "fmt"

// State is an instance's lifecycle position. States advance strictly forward
// except for the Running/Suspended visibility cycle; Failed and Terminated
// are terminal.
type State int

const (
	StateRegistered State = iota
	StateResourcesLoading
	StateResourcesLoaded
	StateStarted
	StateContentAttached
	StateRunning
	StateSuspended
	StateTerminated
	StateFailed
)

var stateNames = map[State]string{
	StateRegistered:       "registered",
	StateResourcesLoading: "resources_loading",
	StateResourcesLoaded:  "resources_loaded",
	StateStarted:          "started",
	StateContentAttached:  "content_attached",
	StateRunning:          "running",
	StateSuspended:        "suspended",
	StateTerminated:       "terminated",
	StateFailed:           "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// HookFailure wraps an error or panic raised by a module hook. The failure is
// contained at the instance boundary: the instance moves to Failed and the
// rest of the process continues.
type HookFailure struct {
	Instance string
	Stage    string
	Err      error
}

func (e *HookFailure) Error() string {
	return fmt.Sprintf("instance %s: %s hook failed: %v", e.Instance, e.Stage, e.Err)
}

func (e *HookFailure) Unwrap() error {
	return e.Err
}
