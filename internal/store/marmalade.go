package store

import (
	"context"
	"database/sql"

	"github.com/shopspring/decimal"

	"github.com/chainweb-tools/cwindex/internal/model"
)

// UpsertMarmaladeSupply applies a supply delta to a token row, creating it
// with the given metadata if absent. Mirrors UpsertBalance's fold shape.
func (s *Store) UpsertMarmaladeSupply(ctx context.Context, tokenID string, chainID int, creator string, precision int, uri string, policies []byte, delta decimal.Decimal, height int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO marmalade_tokens (token_id, chain_id, creator, precision, uri, policies, supply, height)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (token_id, chain_id)
		DO UPDATE SET supply = marmalade_tokens.supply + EXCLUDED.supply, height = EXCLUDED.height
	`, tokenID, chainID, creator, precision, uri, policies, delta, height)
	if err != nil {
		return &StoreError{Op: "upsert marmalade supply", Err: err}
	}
	return nil
}

// MarmaladeToken looks up one token's derived row.
func (s *Store) MarmaladeToken(ctx context.Context, tokenID string, chainID int) (*model.MarmaladeToken, error) {
	var t model.MarmaladeToken
	var policies []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT token_id, chain_id, creator, precision, uri, policies, supply, height
		FROM marmalade_tokens WHERE token_id = $1 AND chain_id = $2
	`, tokenID, chainID).Scan(&t.TokenID, &t.ChainID, &t.Creator, &t.Precision, &t.URI, &policies, &t.Supply, &t.Height)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &StoreError{Op: "marmalade token", Err: err}
	}
	t.Policies = policies
	return &t, nil
}
