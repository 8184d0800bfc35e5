package config

import (
	"path/filepath"

	"github.com/adrg/xdg"
)

// DefaultConfigPath is the user config file location under XDG_CONFIG_HOME.
func DefaultConfigPath() string {
	return filepath.Join(xdg.ConfigHome, "scribe", "config.json")
}

// DefaultUsageDatabasePath is the usage ledger location under XDG_STATE_HOME.
func DefaultUsageDatabasePath() string {
	return filepath.Join(xdg.StateHome, "scribe", "usage.db")
}

// DefaultVaultPath is the note vault location under XDG_DATA_HOME.
func DefaultVaultPath() string {
	return filepath.Join(xdg.DataHome, "scribe", "vault")
}
