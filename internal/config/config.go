// Package config provides the HCL application configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2/hclsimple"

	"grimm.is/rse/internal/brand"
	"grimm.is/rse/internal/filters"
	"grimm.is/rse/internal/logging"
)

// Store backends.
const (
	BackendSQLite = "sqlite"
	BackendHCL    = "hcl"
)

// Config is the top-level configuration file.
type Config struct {
	LogLevel string    `hcl:"log_level,optional"`
	LogJSON  bool      `hcl:"log_json,optional"`
	Store    *Store    `hcl:"store,block"`
	Defaults *Defaults `hcl:"defaults,block"`
	// Profiles are created on first start if missing.
	Profiles []string `hcl:"profiles,optional"`
}

// Store selects where profiles are persisted.
type Store struct {
	Backend string `hcl:"backend,optional"`
	// Path is the database file for sqlite, a directory for hcl.
	Path string `hcl:"path,optional"`
	WAL  *bool  `hcl:"wal,optional"`
}

// Defaults is the policy of newly created pool managers.
type Defaults struct {
	SupportsNested           bool `hcl:"supports_nested,optional"`
	SupportsDuplicateStrings bool `hcl:"supports_duplicate_strings,optional"`
	StringsCaseSensitive     bool `hcl:"strings_case_sensitive,optional"`
	SingleStringOnly         bool `hcl:"single_string_only,optional"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	wal := true
	return &Config{
		LogLevel: "info",
		Store: &Store{
			Backend: BackendSQLite,
			Path:    filepath.Join(brand.GetStateDir(), brand.DatabaseName),
			WAL:     &wal,
		},
		Defaults: &Defaults{},
		Profiles: []string{"default"},
	}
}

// Load reads and validates the file at path. A missing file yields Default().
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(path, data)
}

// Parse decodes data, fills unset fields from Default() and validates.
func Parse(filename string, data []byte) (*Config, error) {
	var cfg Config
	if err := hclsimple.Decode(filename, data, nil, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.applyDefaults()
	if errs := cfg.Validate(); errs.HasErrors() {
		return nil, errs
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	def := Default()
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.Store == nil {
		c.Store = def.Store
	}
	if c.Store.Backend == "" {
		c.Store.Backend = def.Store.Backend
	}
	if c.Store.Path == "" {
		if c.Store.Backend == BackendHCL {
			c.Store.Path = filepath.Join(brand.GetStateDir(), "profiles")
		} else {
			c.Store.Path = def.Store.Path
		}
	}
	if c.Store.WAL == nil {
		c.Store.WAL = def.Store.WAL
	}
	if c.Defaults == nil {
		c.Defaults = def.Defaults
	}
}

// ValidationError is one invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validate checks field values.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors

	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, ValidationError{Field: "log_level", Message: err.Error()})
	}
	if c.Store != nil {
		switch c.Store.Backend {
		case BackendSQLite, BackendHCL:
		default:
			errs = append(errs, ValidationError{
				Field:   "store.backend",
				Message: fmt.Sprintf("unknown backend %q (want %q or %q)", c.Store.Backend, BackendSQLite, BackendHCL),
			})
		}
	}

	seen := make(map[string]bool)
	for i, name := range c.Profiles {
		field := fmt.Sprintf("profiles[%d]", i)
		switch {
		case name == "":
			errs = append(errs, ValidationError{Field: field, Message: "empty profile name"})
		case strings.Contains(name, filters.Delimiter):
			errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf("%q contains %q", name, filters.Delimiter)})
		case seen[strings.ToLower(name)]:
			errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf("duplicate profile %q", name)})
		}
		seen[strings.ToLower(name)] = true
	}
	return errs
}

// Policy converts Defaults to a manager policy.
func (c *Config) Policy() filters.Policy {
	if c.Defaults == nil {
		return filters.Policy{}
	}
	return filters.Policy{
		SupportsNested:           c.Defaults.SupportsNested,
		SupportsDuplicateStrings: c.Defaults.SupportsDuplicateStrings,
		StringsCaseSensitive:     c.Defaults.StringsCaseSensitive,
		SingleStringOnly:         c.Defaults.SingleStringOnly,
	}
}

// LoggingConfig converts the log settings.
func (c *Config) LoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	if level, err := logging.ParseLevel(c.LogLevel); err == nil {
		cfg.Level = level
	}
	cfg.JSON = c.LogJSON
	return cfg
}
