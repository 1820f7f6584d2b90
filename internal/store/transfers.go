package store

import (
	"context"

	"github.com/chainweb-tools/cwindex/internal/model"
)

// InsertTransfersIfAbsent batch-inserts transfer rows, skipping duplicates
// at the compound primary key.
func (s *Store) InsertTransfersIfAbsent(ctx context.Context, transfers []model.Transfer) error {
	return chunk(transfers, insertChunkSize, func(batch []model.Transfer) error {
		return s.insertTransfersChunk(ctx, batch)
	})
}

func (s *Store) insertTransfersChunk(ctx context.Context, transfers []model.Transfer) error {
	if len(transfers) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &StoreError{Op: "insert transfers: begin", Err: err}
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO transfers (
			block_hash, chain_id, idx, module_hash, request_key, amount,
			from_account, to_account, height, module_name, pact_id, creation_time
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (block_hash, chain_id, idx, module_hash, request_key) DO NOTHING
	`)
	if err != nil {
		return &StoreError{Op: "insert transfers: prepare", Err: err}
	}
	defer stmt.Close()

	for _, t := range transfers {
		if _, err := stmt.ExecContext(ctx,
			t.BlockHash, t.ChainID, t.Idx, t.ModuleHash, t.RequestKey, t.Amount,
			t.FromAccount, t.ToAccount, t.Height, t.ModuleName, t.PactID, t.CreationTime,
		); err != nil {
			return &StoreError{Op: "insert transfers: exec", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &StoreError{Op: "insert transfers: commit", Err: err}
	}
	return nil
}

// TransferFilter narrows TransferRange's search.
type TransferFilter struct {
	Account   string // matches either From or To
	ChainID   *int
	Module    string
	MinHeight *int64
	Limit     int
	Offset    int
}

// TransferRange searches transfers by account/chain/module/min-height,
// for the read API.
func (s *Store) TransferRange(ctx context.Context, f TransferFilter) ([]model.Transfer, error) {
	query := `
		SELECT block_hash, chain_id, idx, module_hash, request_key, amount,
			from_account, to_account, height, module_name, pact_id, creation_time
		FROM transfers WHERE 1=1
	`
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return placeholder(len(args))
	}

	if f.Account != "" {
		query += " AND (from_account = " + arg(f.Account) + " OR to_account = " + arg(f.Account) + ")"
	}
	if f.ChainID != nil {
		query += " AND chain_id = " + arg(*f.ChainID)
	}
	if f.Module != "" {
		query += " AND module_name = " + arg(f.Module)
	}
	if f.MinHeight != nil {
		query += " AND height >= " + arg(*f.MinHeight)
	}
	query += " ORDER BY height DESC, idx DESC"
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}
	if f.Offset > 0 {
		query += " OFFSET " + arg(f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &StoreError{Op: "transfer range", Err: err}
	}
	defer rows.Close()

	var out []model.Transfer
	for rows.Next() {
		var t model.Transfer
		if err := rows.Scan(
			&t.BlockHash, &t.ChainID, &t.Idx, &t.ModuleHash, &t.RequestKey, &t.Amount,
			&t.FromAccount, &t.ToAccount, &t.Height, &t.ModuleName, &t.PactID, &t.CreationTime,
		); err != nil {
			return nil, &StoreError{Op: "transfer range: scan", Err: err}
		}
		out = append(out, t)
	}
	return out, nil
}

// TransfersByPactID finds all transfer rows produced by steps of the same
// multi-step transaction.
func (s *Store) TransfersByPactID(ctx context.Context, pactID string) ([]model.Transfer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT block_hash, chain_id, idx, module_hash, request_key, amount,
			from_account, to_account, height, module_name, pact_id, creation_time
		FROM transfers WHERE pact_id = $1 ORDER BY height ASC, idx ASC
	`, pactID)
	if err != nil {
		return nil, &StoreError{Op: "transfers by pact id", Err: err}
	}
	defer rows.Close()

	var out []model.Transfer
	for rows.Next() {
		var t model.Transfer
		if err := rows.Scan(
			&t.BlockHash, &t.ChainID, &t.Idx, &t.ModuleHash, &t.RequestKey, &t.Amount,
			&t.FromAccount, &t.ToAccount, &t.Height, &t.ModuleName, &t.PactID, &t.CreationTime,
		); err != nil {
			return nil, &StoreError{Op: "transfers by pact id: scan", Err: err}
		}
		out = append(out, t)
	}
	return out, nil
}
