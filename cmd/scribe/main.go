package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/scribehq/scribe/src/config"
)

// CLI is the top-level command structure.
type CLI struct {
	Config   string `short:"c" help:"Path to config file" type:"path"`
	APIKey   string `env:"OPENROUTER_API_KEY" help:"OpenRouter API key"`
	LogLevel string `help:"Log level (debug, info, warn, error)"`

	Serve ServeCmd `cmd:"" help:"Run the scribe server"`
	Chat  ChatCmd  `cmd:"" help:"Connect to a scribe server and chat"`
	Usage UsageCmd `cmd:"" help:"Show recorded token usage"`
}

// loadConfig loads the configuration and applies command-line overrides.
func (cli *CLI) loadConfig() (*config.Config, error) {
	cfg, err := config.NewLoader().Load(cli.Config)
	if err != nil {
		return nil, err
	}
	if cli.APIKey != "" {
		cfg.API.APIKey = cli.APIKey
	}
	if cli.LogLevel != "" {
		cfg.Log.Level = cli.LogLevel
	}
	return cfg, nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("scribe"),
		kong.Description("Real-time note-taking assistant server and client"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	)

	if err := ctx.Run(&cli); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
