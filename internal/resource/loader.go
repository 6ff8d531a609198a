// Package resource resolves a module definition's declared scripts, styles,
// and translation files. The lifecycle controller will not advance an
// instance past resource loading until every declared resource is accounted
// for; a missing resource is an error, never a silent skip.
package resource

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/quantum28/MagicMirror/internal/ctxlog"
	"github.com/quantum28/MagicMirror/internal/module"
	"resty.dev/v3"
)

// LoadError reports a resource that could not be resolved for a module.
type LoadError struct {
	Module   string
	Resource string
	Err      error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("module %q: resource %q: %v", e.Module, e.Resource, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Bundle holds the loaded resources for one module type.
type Bundle struct {
	// Scripts and Styles map each declared resource to its resolved location
	// (absolute path or URL).
	Scripts map[string]string
	Styles  map[string]string
	// Translations maps locale -> key -> text.
	Translations map[string]map[string]string
}

// Translate resolves key in the given locale, falling back to "en" and then
// to the key itself.
func (b *Bundle) Translate(locale, key string) string {
	if b != nil {
		if text, ok := b.Translations[locale][key]; ok {
			return text
		}
		if text, ok := b.Translations["en"][key]; ok {
			return text
		}
	}
	return key
}

// Loader resolves resources relative to a base directory and fetches remote
// ones over HTTP with a bounded timeout.
type Loader struct {
	baseDir string
	client  *resty.Client
}

// DefaultFetchTimeout bounds remote resource fetches when the caller does not
// configure one.
const DefaultFetchTimeout = 10 * time.Second

// NewLoader creates a Loader rooted at baseDir. A non-positive timeout uses
// DefaultFetchTimeout.
func NewLoader(baseDir string, timeout time.Duration) *Loader {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &Loader{
		baseDir: baseDir,
		client:  resty.New().SetTimeout(timeout),
	}
}

// Close releases the loader's HTTP client.
func (l *Loader) Close() error {
	return l.client.Close()
}

// Load resolves every resource the definition declares. It returns the first
// failure as a *LoadError; the caller treats that as the instance stalling in
// resource loading.
func (l *Loader) Load(ctx context.Context, def *module.Definition) (*Bundle, error) {
	logger := ctxlog.FromContext(ctx).With("module", def.Name)

	bundle := &Bundle{
		Scripts:      make(map[string]string),
		Styles:       make(map[string]string),
		Translations: make(map[string]map[string]string),
	}

	for _, script := range def.Scripts {
		resolved, err := l.resolve(ctx, script)
		if err != nil {
			return nil, &LoadError{Module: def.Name, Resource: script, Err: err}
		}
		bundle.Scripts[script] = resolved
	}
	for _, style := range def.Styles {
		resolved, err := l.resolve(ctx, style)
		if err != nil {
			return nil, &LoadError{Module: def.Name, Resource: style, Err: err}
		}
		bundle.Styles[style] = resolved
	}
	for locale, path := range def.Translations {
		table, err := l.loadTranslation(ctx, path)
		if err != nil {
			return nil, &LoadError{Module: def.Name, Resource: path, Err: err}
		}
		bundle.Translations[locale] = table
	}

	logger.Debug("Resources loaded.",
		"scripts", len(bundle.Scripts),
		"styles", len(bundle.Styles),
		"locales", len(bundle.Translations))
	return bundle, nil
}

// resolve verifies a declared resource is reachable. Remote resources are
// fetched once up front so a dead URL surfaces at load time, not first use.
func (l *Loader) resolve(ctx context.Context, ref string) (string, error) {
	if isRemote(ref) {
		res, err := l.client.R().SetContext(ctx).Get(ref)
		if err != nil {
			return "", err
		}
		if res.IsError() {
			return "", fmt.Errorf("unexpected status %d", res.StatusCode())
		}
		return ref, nil
	}

	path := ref
	if !filepath.IsAbs(path) {
		path = filepath.Join(l.baseDir, path)
	}
	if _, err := os.Stat(path); err != nil {
		return "", err
	}
	return path, nil
}

func (l *Loader) loadTranslation(ctx context.Context, ref string) (map[string]string, error) {
	var data []byte
	if isRemote(ref) {
		res, err := l.client.R().SetContext(ctx).Get(ref)
		if err != nil {
			return nil, err
		}
		if res.IsError() {
			return nil, fmt.Errorf("unexpected status %d", res.StatusCode())
		}
		data = res.Bytes()
	} else {
		path := ref
		if !filepath.IsAbs(path) {
			path = filepath.Join(l.baseDir, path)
		}
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, err
		}
	}
	return parseTranslation(data)
}

func isRemote(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}
