package config

const defaultSystemPrompt = `You are Scribe, a note-taking assistant. You help the user capture,
organize, and retrieve notes in their vault. Use the note tools to read and
modify notes rather than guessing at their contents, and keep your answers
short unless asked for detail.`

// DefaultConfig returns the configuration used when no file overrides it.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:        "127.0.0.1:8377",
			MaxProtocolErrors: 5,
			SendBuffer:        256,
		},
		API: APIConfig{
			Provider: "openrouter",
			Model:    "anthropic/claude-sonnet-4",
		},
		Engine: EngineConfig{
			SystemPrompt:  defaultSystemPrompt,
			MaxToolRounds: 8,
		},
		Store: StoreConfig{
			MaxConversations: 128,
			MaxHistory:       200,
		},
		Reconnect: ReconnectConfig{
			BaseIntervalMS: 1000,
			MaxAttempts:    5,
		},
		Usage: UsageConfig{
			DatabasePath: DefaultUsageDatabasePath(),
		},
		Vault: VaultConfig{
			Path: DefaultVaultPath(),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}
