package config

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/quantum28/MagicMirror/internal/ctxlog"
)

// Placement declares one module instance: which type, where on the display,
// and the user's option overrides for it.
type Placement struct {
	Module   string
	Position string
	Options  map[string]any
}

// File is the decoded startup configuration: global settings plus the ordered
// list of module placements. Placement order is significant — it fixes the
// instance registration order and therefore notification delivery order.
type File struct {
	Address    string
	Locale     string
	Placements []Placement
}

type fileHCL struct {
	Address *string     `hcl:"address,optional"`
	Locale  *string     `hcl:"locale,optional"`
	Modules []moduleHCL `hcl:"module,block"`
}

type moduleHCL struct {
	Name     string         `hcl:"name,label"`
	Position string         `hcl:"position"`
	Config   hcl.Expression `hcl:"config,optional"`
}

// Load parses and decodes an HCL configuration file.
func Load(ctx context.Context, path string) (*File, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Loading configuration file.", "path", path)

	parser := hclparse.NewParser()
	hclFile, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, diags)
	}

	var raw fileHCL
	if diags := gohcl.DecodeBody(hclFile.Body, nil, &raw); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode config file %s: %w", path, diags)
	}

	file := &File{Locale: "en"}
	if raw.Address != nil {
		file.Address = *raw.Address
	}
	if raw.Locale != nil {
		file.Locale = *raw.Locale
	}

	for _, m := range raw.Modules {
		options, err := decodeOptions(m.Config)
		if err != nil {
			return nil, fmt.Errorf("module %q: %w", m.Name, err)
		}
		file.Placements = append(file.Placements, Placement{
			Module:   m.Name,
			Position: m.Position,
			Options:  options,
		})
	}

	logger.Info("Configuration loaded.", "path", path, "placements", len(file.Placements))
	return file, nil
}

func decodeOptions(expr hcl.Expression) (map[string]any, error) {
	if expr == nil {
		return nil, nil
	}
	val, diags := expr.Value(nil)
	if diags.HasErrors() {
		return nil, fmt.Errorf("invalid config block: %w", diags)
	}
	if val.IsNull() {
		return nil, nil
	}
	native, err := ctyToNative(val)
	if err != nil {
		return nil, err
	}
	options, ok := native.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("config block must be an object, got %T", native)
	}
	return options, nil
}
