// Package brand provides centralized naming constants for the tool.
package brand

import (
	"os"
	"path/filepath"
)

const (
	Name            = "RSE Filters"
	LowerName       = "rse"
	ConfigEnvPrefix = "RSE"
	ConfigFileName  = "rse.hcl"
	DatabaseName    = "filters.db"

	DefaultConfigDir = "/etc/rse"
	DefaultStateDir  = "/var/lib/rse"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// GetStateDir returns the state directory.
// Priority: RSE_STATE_DIR > RSE_PREFIX/state > DefaultStateDir
func GetStateDir() string {
	if dir := os.Getenv(ConfigEnvPrefix + "_STATE_DIR"); dir != "" {
		return dir
	}
	if prefix := os.Getenv(ConfigEnvPrefix + "_PREFIX"); prefix != "" {
		return filepath.Join(prefix, "state")
	}
	return DefaultStateDir
}

// GetConfigPath returns the default configuration file path.
// Priority: RSE_CONFIG_DIR > RSE_PREFIX/config > DefaultConfigDir
func GetConfigPath() string {
	dir := DefaultConfigDir
	if d := os.Getenv(ConfigEnvPrefix + "_CONFIG_DIR"); d != "" {
		dir = d
	} else if prefix := os.Getenv(ConfigEnvPrefix + "_PREFIX"); prefix != "" {
		dir = filepath.Join(prefix, "config")
	}
	return filepath.Join(dir, ConfigFileName)
}
