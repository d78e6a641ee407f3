// Package query provides read-only access to the quote audit log.
package query

import (
	"context"
	"database/sql"
	"strconv"
	"time"
)

// QuoteRecord is one row of the quote audit log as served by the API.
type QuoteRecord struct {
	QuoteID            string    `json:"quote_id"`
	VaultKey           string    `json:"vault_key"`
	Direction          string    `json:"direction"`
	InputMint          string    `json:"input_mint"`
	OutputMint         string    `json:"output_mint"`
	Amount             uint64    `json:"amount"`
	ExpectedOutput     uint64    `json:"expected_output"`
	NotEnoughLiquidity bool      `json:"not_enough_liquidity"`
	SnapshotTs         uint64    `json:"snapshot_ts"`
	QuotedAt           time.Time `json:"quoted_at"`
}

// Service reads from quote_log.quotes.
type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

const maxRecentLimit = 1000

// RecentQuotes returns the newest quotes, optionally filtered to one vault.
// limit is clamped to [1, 1000].
func (s *Service) RecentQuotes(ctx context.Context, vaultKey string, limit int) ([]QuoteRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}

	query := `
		SELECT quote_id, vault_key, direction, input_mint, output_mint,
		       amount, expected_output, not_enough_liquidity, snapshot_ts, quoted_at
		FROM quote_log.quotes`
	args := []interface{}{}
	if vaultKey != "" {
		query += ` WHERE vault_key = $1`
		args = append(args, vaultKey)
	}
	query += ` ORDER BY quoted_at DESC LIMIT ` + strconv.Itoa(limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []QuoteRecord
	for rows.Next() {
		var r QuoteRecord
		var amount, expectedOutput, snapshotTs string
		if err := rows.Scan(
			&r.QuoteID, &r.VaultKey, &r.Direction, &r.InputMint, &r.OutputMint,
			&amount, &expectedOutput, &r.NotEnoughLiquidity, &snapshotTs, &r.QuotedAt,
		); err != nil {
			return nil, err
		}
		// NUMERIC(20,0) scans as text; the values were written from u64.
		if r.Amount, err = strconv.ParseUint(amount, 10, 64); err != nil {
			return nil, err
		}
		if r.ExpectedOutput, err = strconv.ParseUint(expectedOutput, 10, 64); err != nil {
			return nil, err
		}
		if r.SnapshotTs, err = strconv.ParseUint(snapshotTs, 10, 64); err != nil {
			return nil, err
		}
		records = append(records, r)
	}

	return records, rows.Err()
}
