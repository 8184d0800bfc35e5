// Package config loads and validates scribe's configuration from JSON files
// and environment variables.
package config

import "fmt"

// Config is the full scribe configuration.
type Config struct {
	Server    ServerConfig    `json:"server"`
	API       APIConfig       `json:"api"`
	Engine    EngineConfig    `json:"engine"`
	Store     StoreConfig     `json:"store"`
	Reconnect ReconnectConfig `json:"reconnect"`
	Usage     UsageConfig     `json:"usage"`
	Vault     VaultConfig     `json:"vault"`
	Log       LogConfig       `json:"log"`
}

// ServerConfig configures the websocket listener.
type ServerConfig struct {
	// ListenAddr is the host:port the server binds.
	ListenAddr string `json:"listen_addr" validate:"required"`
	// Token, when set, is the shared secret clients must present.
	Token string `json:"token"`
	// MaxProtocolErrors closes a connection after this many consecutive
	// invalid frames.
	MaxProtocolErrors int `json:"max_protocol_errors" validate:"min=0"`
	// SendBuffer is the per-connection outbound queue length.
	SendBuffer int `json:"send_buffer" validate:"min=0"`
}

// APIConfig configures the model provider.
type APIConfig struct {
	Provider string `json:"provider" validate:"provider"`
	BaseURL  string `json:"base_url" validate:"omitempty,url"`
	APIKey   string `json:"api_key"`
	Model    string `json:"model" validate:"required"`
}

// EngineConfig configures the response engine.
type EngineConfig struct {
	SystemPrompt string `json:"system_prompt"`
	// MaxToolRounds bounds tool-use loops within a single turn.
	MaxToolRounds int `json:"max_tool_rounds" validate:"min=0,max=64"`
}

// StoreConfig bounds the in-memory conversation store.
type StoreConfig struct {
	MaxConversations int `json:"max_conversations" validate:"min=0"`
	MaxHistory       int `json:"max_history" validate:"min=0"`
}

// ReconnectConfig configures client reconnect behavior.
type ReconnectConfig struct {
	BaseIntervalMS int `json:"base_interval_ms" validate:"min=0"`
	MaxAttempts    int `json:"max_attempts" validate:"min=0,max=100"`
}

// UsageConfig configures the token usage ledger.
type UsageConfig struct {
	// DatabasePath is the sqlite file; empty disables usage recording.
	DatabasePath string `json:"database_path"`
}

// VaultConfig locates the note vault.
type VaultConfig struct {
	// Path is the vault root directory; empty disables the note tools.
	Path string `json:"path"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Level  string `json:"level" validate:"log_level"`
	Format string `json:"format" validate:"log_format"`
}

// ValidationError describes a single invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config field %s: %s", e.Field, e.Message)
}
