package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "SCRIBE_"

// Loader loads the configuration from a file, applies environment overrides,
// and validates the result.
type Loader struct {
	validator *Validator
}

// NewLoader creates a configuration loader.
func NewLoader() *Loader {
	return &Loader{validator: NewValidator()}
}

// Load reads the config file at path (a missing file is not an error; empty
// path means the default location), overlays it on the defaults, applies
// SCRIBE_ environment overrides, and validates.
func (l *Loader) Load(path string) (*Config, error) {
	config := DefaultConfig()

	if path == "" {
		path = DefaultConfigPath()
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Defaults apply.
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	l.applyEnvironmentOverrides(config)

	if err := l.validator.Validate(config); err != nil {
		return nil, err
	}
	return config, nil
}

// applyEnvironmentOverrides overlays SCRIBE_ variables on the config. Only
// operationally sensitive settings are overridable from the environment.
func (l *Loader) applyEnvironmentOverrides(config *Config) {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	setString("LISTEN_ADDR", &config.Server.ListenAddr)
	setString("TOKEN", &config.Server.Token)
	setString("API_KEY", &config.API.APIKey)
	setString("BASE_URL", &config.API.BaseURL)
	setString("MODEL", &config.API.Model)
	setString("VAULT_PATH", &config.Vault.Path)
	setString("USAGE_DB", &config.Usage.DatabasePath)
	setString("LOG_LEVEL", &config.Log.Level)
	setString("LOG_FORMAT", &config.Log.Format)
	setInt("MAX_TOOL_ROUNDS", &config.Engine.MaxToolRounds)
	setInt("MAX_CONVERSATIONS", &config.Store.MaxConversations)
}
