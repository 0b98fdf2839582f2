package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/pretransform/internal/app"
	"github.com/vk/pretransform/internal/planner"
	"github.com/vk/pretransform/internal/varid"
)

func TestParse(t *testing.T) {
	t.Run("help", func(t *testing.T) {
		for _, args := range [][]string{nil, {"-h"}, {"spec", "-h"}} {
			out := &bytes.Buffer{}
			cfg, exit, err := Parse(args, out, nil)
			require.NoError(t, err)
			assert.True(t, exit)
			assert.Nil(t, cfg)
			assert.Contains(t, out.String(), "Usage:")
		}
	})

	t.Run("defaults", func(t *testing.T) {
		cfg, exit, err := Parse([]string{"spec", "chart.json"}, &bytes.Buffer{}, nil)
		require.NoError(t, err)
		require.False(t, exit)
		assert.Equal(t, &app.Config{
			Command:               app.CommandSpec,
			SpecPath:              "chart.json",
			LocalTZ:               "UTC",
			InlineFiles:           []app.InlineFile{},
			Variables:             []varid.Scoped{},
			PreserveInteractivity: true,
			Timeout:               planner.DefaultTimeout,
			LogFormat:             "text",
			LogLevel:              "info",
		}, cfg)
	})

	t.Run("all flags", func(t *testing.T) {
		cfg, _, err := Parse([]string{
			"values",
			"-local-tz", "Europe/Berlin",
			"-default-input-tz", "Asia/Tokyo",
			"-row-limit", "10",
			"-inline", "cars=cars.json",
			"-inline", "raw=raw.msgpack",
			"-var", "data.cars",
			"-var", "signal.width[1][0]",
			"-workers", "3",
			"-timeout", "2s",
			"-allow-fetch",
			"-log-format", "JSON",
			"-log-level", "debug",
			"chart.json",
		}, &bytes.Buffer{}, nil)
		require.NoError(t, err)
		assert.Equal(t, "Europe/Berlin", cfg.LocalTZ)
		require.NotNil(t, cfg.DefaultInputTZ)
		assert.Equal(t, "Asia/Tokyo", *cfg.DefaultInputTZ)
		assert.Nil(t, cfg.OutputTZ)
		require.NotNil(t, cfg.RowLimit)
		assert.Equal(t, 10, *cfg.RowLimit)
		assert.Equal(t, []app.InlineFile{{Name: "cars", Path: "cars.json"}, {Name: "raw", Path: "raw.msgpack"}}, cfg.InlineFiles)
		assert.Equal(t, []varid.Scoped{
			varid.NewScoped(varid.NewData("cars"), varid.Scope{}),
			varid.NewScoped(varid.NewSignal("width"), varid.Scope{1, 0}),
		}, cfg.Variables)
		assert.Equal(t, 3, cfg.WorkerCount)
		assert.Equal(t, 2*time.Second, cfg.Timeout)
		assert.True(t, cfg.AllowFetch)
		assert.Equal(t, "json", cfg.LogFormat)
		assert.Equal(t, "debug", cfg.LogLevel)
	})

	t.Run("environment defaults", func(t *testing.T) {
		env := map[string]string{
			"PRETRANSFORM_LOCAL_TZ":               "America/Chicago",
			"PRETRANSFORM_ROW_LIMIT":              "5",
			"PRETRANSFORM_PRESERVE_INTERACTIVITY": "false",
			"PRETRANSFORM_TIMEOUT":                "1m",
		}
		cfg, _, err := Parse([]string{"spec", "-row-limit", "7", "chart.json"}, &bytes.Buffer{}, env)
		require.NoError(t, err)
		assert.Equal(t, "America/Chicago", cfg.LocalTZ)
		assert.Equal(t, 7, *cfg.RowLimit, "flags override the environment")
		assert.False(t, cfg.PreserveInteractivity)
		assert.Equal(t, time.Minute, cfg.Timeout)
	})

	errorCases := []struct {
		name string
		args []string
		env  map[string]string
		want string
	}{
		{name: "unknown command", args: []string{"render", "c.json"}, want: `unknown command "render"`},
		{name: "unknown flag", args: []string{"spec", "-nope", "c.json"}, want: "flag provided but not defined: -nope"},
		{name: "no path", args: []string{"spec"}, want: "expected exactly one SPEC_PATH, got 0"},
		{name: "two paths", args: []string{"spec", "a.json", "b.json"}, want: "expected exactly one SPEC_PATH, got 2"},
		{name: "log format", args: []string{"spec", "-log-format", "xml", "c.json"}, want: "invalid log-format"},
		{name: "log level", args: []string{"spec", "-log-level", "loud", "c.json"}, want: "invalid log-level"},
		{name: "inline", args: []string{"spec", "-inline", "cars", "c.json"}, want: `invalid -inline "cars"`},
		{name: "var", args: []string{"values", "-var", "width", "c.json"}, want: "invalid -var"},
		{name: "var with spec", args: []string{"spec", "-var", "signal.width", "c.json"}, want: "values command"},
		{name: "env", args: []string{"spec", "c.json"}, env: map[string]string{"PRETRANSFORM_WORKERS": "many"}, want: `invalid PRETRANSFORM_WORKERS="many"`},
	}
	for _, tc := range errorCases {
		t.Run(tc.name, func(t *testing.T) {
			_, exit, err := Parse(tc.args, &bytes.Buffer{}, tc.env)
			require.Error(t, err)
			assert.False(t, exit)
			var exitErr *ExitError
			require.ErrorAs(t, err, &exitErr)
			assert.Equal(t, 2, exitErr.Code)
			assert.Contains(t, exitErr.Message, tc.want)
		})
	}
}

func TestEnvironment(t *testing.T) {
	dir := t.TempDir()
	dotenv := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(dotenv, []byte("PRETRANSFORM_LOG_LEVEL=debug\nPRETRANSFORM_WORKERS=2\nOTHER=1\n"), 0o600))
	t.Setenv("PRETRANSFORM_WORKERS", "4")

	env, err := Environment(dotenv)
	require.NoError(t, err)
	assert.Equal(t, "debug", env["PRETRANSFORM_LOG_LEVEL"])
	assert.Equal(t, "4", env["PRETRANSFORM_WORKERS"], "the process environment wins")
	assert.NotContains(t, env, "OTHER")

	env, err = Environment(filepath.Join(dir, "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, "4", env["PRETRANSFORM_WORKERS"])
}
