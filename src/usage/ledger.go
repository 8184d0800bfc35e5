// Package usage keeps an append-only ledger of per-turn token usage in
// sqlite. It is metering, not conversation persistence: conversations are
// never reconstructed from it.
package usage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/sqlscan"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/scribehq/scribe/src/wire"
)

const schema = `
CREATE TABLE IF NOT EXISTS turn_usage (
	id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	input_tokens INTEGER NOT NULL,
	output_tokens INTEGER NOT NULL,
	recorded_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_turn_usage_conversation ON turn_usage(conversation_id);
`

// Ledger records one row per completed turn.
type Ledger struct {
	db *sql.DB
}

// Open opens (creating if needed) the ledger database at path.
func Open(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open usage ledger: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create usage schema: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Close closes the underlying database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Record appends the usage of one turn. It satisfies the engine's
// UsageRecorder interface.
func (l *Ledger) Record(ctx context.Context, conversationID string, u wire.Usage) error {
	query := `INSERT INTO turn_usage (id, conversation_id, input_tokens, output_tokens, recorded_at) VALUES (?, ?, ?, ?, ?)`
	_, err := l.db.ExecContext(ctx, query, uuid.New().String(), conversationID, u.InputTokens, u.OutputTokens, time.Now())
	if err != nil {
		return fmt.Errorf("record turn usage: %w", err)
	}
	return nil
}

// Totals is an aggregate over recorded turns.
type Totals struct {
	Turns        int `db:"turns"`
	InputTokens  int `db:"input_tokens"`
	OutputTokens int `db:"output_tokens"`
}

// Totals aggregates across all conversations.
func (l *Ledger) Totals(ctx context.Context) (Totals, error) {
	var t Totals
	query := `SELECT COUNT(*) AS turns, COALESCE(SUM(input_tokens), 0) AS input_tokens, COALESCE(SUM(output_tokens), 0) AS output_tokens FROM turn_usage`
	if err := sqlscan.Get(ctx, l.db, &t, query); err != nil {
		return Totals{}, fmt.Errorf("query usage totals: %w", err)
	}
	return t, nil
}

// ConversationTotals aggregates one conversation's recorded turns.
func (l *Ledger) ConversationTotals(ctx context.Context, conversationID string) (Totals, error) {
	var t Totals
	query := `SELECT COUNT(*) AS turns, COALESCE(SUM(input_tokens), 0) AS input_tokens, COALESCE(SUM(output_tokens), 0) AS output_tokens FROM turn_usage WHERE conversation_id = ?`
	if err := sqlscan.Get(ctx, l.db, &t, query, conversationID); err != nil {
		return Totals{}, fmt.Errorf("query conversation usage: %w", err)
	}
	return t, nil
}
