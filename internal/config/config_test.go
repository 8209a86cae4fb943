package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/rse/internal/filters"
	"grimm.is/rse/internal/logging"
)

func TestParse_Full(t *testing.T) {
	src := `
log_level = "debug"
log_json  = true

store {
  backend = "hcl"
  path    = "/tmp/profiles"
  wal     = false
}

defaults {
  supports_nested    = true
  single_string_only = true
}

profiles = ["default", "build"]
`
	cfg, err := Parse("rse.hcl", []byte(src))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.LogJSON)
	assert.Equal(t, BackendHCL, cfg.Store.Backend)
	assert.Equal(t, "/tmp/profiles", cfg.Store.Path)
	require.NotNil(t, cfg.Store.WAL)
	assert.False(t, *cfg.Store.WAL)
	assert.Equal(t, []string{"default", "build"}, cfg.Profiles)
	assert.Equal(t, filters.Policy{SupportsNested: true, SingleStringOnly: true}, cfg.Policy())

	lc := cfg.LoggingConfig()
	assert.Equal(t, logging.LevelDebug, lc.Level)
	assert.True(t, lc.JSON)
}

func TestParse_FillsDefaults(t *testing.T) {
	cfg, err := Parse("rse.hcl", []byte(`log_json = false`))
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, def.LogLevel, cfg.LogLevel)
	assert.Equal(t, def.Store.Backend, cfg.Store.Backend)
	assert.Equal(t, def.Store.Path, cfg.Store.Path)
	assert.True(t, *cfg.Store.WAL)
	assert.Equal(t, filters.Policy{}, cfg.Policy())
	assert.Nil(t, cfg.Profiles)
}

func TestParse_HCLBackendDefaultPath(t *testing.T) {
	cfg, err := Parse("rse.hcl", []byte(`store { backend = "hcl" }`))
	require.NoError(t, err)
	assert.Equal(t, "profiles", filepath.Base(cfg.Store.Path))
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		field string
	}{
		{"log level", `log_level = "loud"`, "log_level"},
		{"backend", `store { backend = "redis" }`, "store.backend"},
		{"empty profile", `profiles = [""]`, "profiles[0]"},
		{"delimiter", `profiles = ["a___b"]`, "profiles[0]"},
		{"duplicate", `profiles = ["a", "A"]`, "profiles[1]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("rse.hcl", []byte(tt.src))
			var errs ValidationErrors
			require.ErrorAs(t, err, &errs)
			require.Len(t, errs, 1)
			assert.Equal(t, tt.field, errs[0].Field)
		})
	}
}

func TestParse_SyntaxError(t *testing.T) {
	_, err := Parse("rse.hcl", []byte(`store {`))
	assert.ErrorContains(t, err, "failed to decode config")
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(filepath.Join(dir, "missing.hcl"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	path := filepath.Join(dir, "rse.hcl")
	require.NoError(t, os.WriteFile(path, []byte(`log_level = "warn"`), 0o644))
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
}
