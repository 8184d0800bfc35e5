package main

import (
	"context"
	"fmt"

	"github.com/scribehq/scribe/src/usage"
)

// UsageCmd prints token usage recorded by the server.
type UsageCmd struct {
	Conversation string `help:"Limit the report to one conversation id"`
}

func (u *UsageCmd) Run(cli *CLI) error {
	cfg, err := cli.loadConfig()
	if err != nil {
		return err
	}
	if cfg.Usage.DatabasePath == "" {
		return fmt.Errorf("usage recording is disabled (usage.database_path is empty)")
	}

	ledger, err := usage.Open(cfg.Usage.DatabasePath)
	if err != nil {
		return err
	}
	defer ledger.Close()

	ctx := context.Background()
	var totals usage.Totals
	if u.Conversation != "" {
		totals, err = ledger.ConversationTotals(ctx, u.Conversation)
	} else {
		totals, err = ledger.Totals(ctx)
	}
	if err != nil {
		return err
	}

	fmt.Printf("turns:         %d\n", totals.Turns)
	fmt.Printf("input tokens:  %d\n", totals.InputTokens)
	fmt.Printf("output tokens: %d\n", totals.OutputTokens)
	return nil
}
