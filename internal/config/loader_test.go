package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/quantum28/MagicMirror/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.hcl")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadPlacements(t *testing.T) {
	ctx, _ := testutil.NewContext()
	path := writeConfig(t, `
locale  = "de"
address = "localhost:8080"

module "clock" {
  position = "top_left"
  config = {
    timeFormat = "15:04"
  }
}

module "weather" {
  position = "top_right"
}

module "clock" {
  position = "bottom_bar"
}
`)

	file, err := Load(ctx, path)
	require.NoError(t, err)

	assert.Equal(t, "de", file.Locale)
	assert.Equal(t, "localhost:8080", file.Address)
	require.Len(t, file.Placements, 3)

	// Placement order is preserved: it fixes notification delivery order.
	assert.Equal(t, "clock", file.Placements[0].Module)
	assert.Equal(t, "top_left", file.Placements[0].Position)
	assert.Equal(t, "15:04", file.Placements[0].Options["timeFormat"])

	assert.Equal(t, "weather", file.Placements[1].Module)
	assert.Nil(t, file.Placements[1].Options)

	assert.Equal(t, "clock", file.Placements[2].Module)
}

func TestLoadDefaultsLocale(t *testing.T) {
	ctx, _ := testutil.NewContext()
	path := writeConfig(t, `
module "clock" {
  position = "top_left"
}
`)
	file, err := Load(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, "en", file.Locale)
	assert.Empty(t, file.Address)
}

func TestLoadNestedOptionTypes(t *testing.T) {
	ctx, _ := testutil.NewContext()
	path := writeConfig(t, `
module "weather" {
  position = "top_right"
  config = {
    units = "metric"
    limit = 5
    alerts = true
    api = {
      base = "https://example.com"
    }
    days = ["mon", "tue"]
  }
}
`)
	file, err := Load(ctx, path)
	require.NoError(t, err)
	opts := file.Placements[0].Options
	assert.Equal(t, "metric", opts["units"])
	assert.Equal(t, float64(5), opts["limit"])
	assert.Equal(t, true, opts["alerts"])
	assert.Equal(t, map[string]any{"base": "https://example.com"}, opts["api"])
	assert.Equal(t, []any{"mon", "tue"}, opts["days"])
}

func TestLoadRejectsInvalidHCL(t *testing.T) {
	ctx, _ := testutil.NewContext()
	path := writeConfig(t, `module "clock" {`)
	_, err := Load(ctx, path)
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	ctx, _ := testutil.NewContext()
	_, err := Load(ctx, filepath.Join(t.TempDir(), "absent.hcl"))
	require.Error(t, err)
}
