// Package persistence writes the quote audit log to Postgres. Writes are
// batched and fully asynchronous; the quoting path never waits on the
// database.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// QuoteRow represents a row in quote_log.quotes. Amounts are stored as
// NUMERIC(20,0) strings because u64 token quantities overflow BIGINT.
type QuoteRow struct {
	QuoteID            string
	VaultKey           string
	Direction          string
	InputMint          string
	OutputMint         string
	Amount             uint64
	ExpectedOutput     uint64
	NotEnoughLiquidity bool
	SnapshotTs         uint64
	QuotedAt           time.Time
}

// QuoteLogWriter writes quote rows using multi-row INSERT.
type QuoteLogWriter struct {
	db *sql.DB
}

func NewQuoteLogWriter(db *sql.DB) *QuoteLogWriter {
	return &QuoteLogWriter{db: db}
}

// WriteQuoteBatch writes a batch of quotes to quote_log.quotes.
func (w *QuoteLogWriter) WriteQuoteBatch(ctx context.Context, quotes []QuoteRow) error {
	if len(quotes) == 0 {
		return nil
	}

	query := `INSERT INTO quote_log.quotes
		(quote_id, vault_key, direction, input_mint, output_mint, amount, expected_output, not_enough_liquidity, snapshot_ts, quoted_at)
		VALUES `

	values := make([]string, 0, len(quotes))
	args := make([]interface{}, 0, len(quotes)*10)

	for i, q := range quotes {
		base := i * 10
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10,
		))
		args = append(args,
			q.QuoteID, q.VaultKey, q.Direction, q.InputMint, q.OutputMint,
			strconv.FormatUint(q.Amount, 10),
			strconv.FormatUint(q.ExpectedOutput, 10),
			q.NotEnoughLiquidity,
			strconv.FormatUint(q.SnapshotTs, 10),
			q.QuotedAt,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (quote_id) DO NOTHING"

	_, err := w.db.ExecContext(ctx, query, args...)
	return err
}
