// Package module holds the process-wide catalog of module types. A Definition
// is registered once per type at startup and never mutated afterwards; every
// placed instance of that type is created from it.
package module

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/quantum28/MagicMirror/internal/config"
	"github.com/quantum28/MagicMirror/internal/dom"
)

// UpdateOptions controls how a requested region update is presented.
type UpdateOptions struct {
	// Duration of the exit/enter transition. Zero means an immediate replace.
	Duration time.Duration
	// Transition names the effect kind, e.g. "fade". Empty means none.
	Transition string
}

// Runtime is the handle a running instance uses to reach the core. It is
// created by the lifecycle controller and passed to every hook invocation.
type Runtime interface {
	// ID returns the instance identity, unique for the process lifetime.
	ID() string
	// ModuleName returns the definition name the instance was created from.
	ModuleName() string
	// Config returns the instance's resolved, immutable configuration.
	Config() config.Resolved
	// Translate resolves a key against the module's loaded translations,
	// falling back to the key itself when no translation exists.
	Translate(key string) string
	// Logger returns a logger pre-tagged with the instance identity.
	Logger() *slog.Logger
	// SendNotification broadcasts to all sibling instances (never back to
	// this one).
	SendNotification(name string, payload any)
	// SendToBackend writes a tagged message on this module's logical channel.
	// Delivery failures are reported through the failure log, never returned.
	SendToBackend(name string, payload any)
	// RequestUpdate asks the scheduler to re-render this instance's region.
	RequestUpdate(opts UpdateOptions)
}

// Hooks is the capability set a module type may implement. Every member is
// optional; a nil hook is a no-op, never an error.
type Hooks struct {
	// Init runs once when the instance is registered, before resources load.
	Init func(ctx context.Context, rt Runtime) error
	// Start runs after resources are loaded, before content is produced.
	Start func(ctx context.Context, rt Runtime) error
	// ContentAttached runs exactly once, right after the instance's content
	// node is first attached. The canonical place for a first refresh.
	ContentAttached func(ctx context.Context, rt Runtime)
	// Notification receives in-process broadcasts from sibling instances.
	Notification func(ctx context.Context, rt Runtime, name string, payload any, sender string)
	// BackendNotification receives messages from this module's server backend.
	BackendNotification func(ctx context.Context, rt Runtime, name string, payload any)
	// ProduceContent builds the instance's current content node.
	ProduceContent func(ctx context.Context, rt Runtime) (*dom.Node, error)
	// Suspended and Resumed observe visibility toggles.
	Suspended func(ctx context.Context, rt Runtime)
	Resumed   func(ctx context.Context, rt Runtime)
	// Stop runs during termination, before resources are released.
	Stop func(ctx context.Context, rt Runtime)
}

// Definition describes one module type: identity, option defaults, declared
// resources, and the hooks it implements.
type Definition struct {
	Name         string
	Defaults     map[string]any
	Scripts      []string
	Styles       []string
	Translations map[string]string // locale -> file path or URL
	Hooks        Hooks
}

// Validate ensures the definition is well-formed.
func (d *Definition) Validate() error {
	if d == nil {
		return fmt.Errorf("module: definition is nil")
	}
	if d.Name == "" {
		return fmt.Errorf("module: definition name is required")
	}
	return nil
}
