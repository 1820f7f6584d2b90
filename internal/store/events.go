package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/chainweb-tools/cwindex/internal/model"
)

// InsertEventsIfAbsent batch-inserts events, skipping any that already
// exist at (block_hash, idx, request_key).
func (s *Store) InsertEventsIfAbsent(ctx context.Context, events []model.Event) error {
	return chunk(events, insertChunkSize, func(batch []model.Event) error {
		return s.insertEventsChunk(ctx, batch)
	})
}

func (s *Store) insertEventsChunk(ctx context.Context, events []model.Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &StoreError{Op: "insert events: begin", Err: err}
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events (
			block_hash, idx, request_key, chain_id, height, module, module_hash,
			name, qual_name, params, param_text, pact_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (block_hash, idx, request_key) DO NOTHING
	`)
	if err != nil {
		return &StoreError{Op: "insert events: prepare", Err: err}
	}
	defer stmt.Close()

	for _, e := range events {
		if _, err := stmt.ExecContext(ctx,
			e.BlockHash, e.Idx, e.RequestKey, e.ChainID, e.Height, e.Module, e.ModuleHash,
			e.Name, e.QualName, []byte(e.Params), e.ParamText, e.PactID,
		); err != nil {
			return &StoreError{Op: "insert events: exec", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &StoreError{Op: "insert events: commit", Err: err}
	}
	return nil
}

// EventsByHeightRange loads events for a chain with height in [min, max],
// ordered (height asc, idx asc) per the derivation ordering guarantee.
func (s *Store) EventsByHeightRange(ctx context.Context, chainID int, minHeight, maxHeight int64) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT block_hash, idx, request_key, chain_id, height, module, module_hash,
			name, qual_name, params, param_text, pact_id
		FROM events
		WHERE chain_id = $1 AND height >= $2 AND height <= $3
		ORDER BY height ASC, idx ASC
	`, chainID, minHeight, maxHeight)
	if err != nil {
		return nil, &StoreError{Op: "events by height range", Err: err}
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var e model.Event
		var params []byte
		if err := rows.Scan(
			&e.BlockHash, &e.Idx, &e.RequestKey, &e.ChainID, &e.Height, &e.Module, &e.ModuleHash,
			&e.Name, &e.QualName, &params, &e.ParamText, &e.PactID,
		); err != nil {
			return nil, &StoreError{Op: "events by height range: scan", Err: err}
		}
		e.Params = params
		if e.QualName != e.Module+"."+e.Name {
			return nil, &DataError{Op: "events by height range", Err: fmt.Errorf("qual_name %q does not match module.name %q for block_hash=%s idx=%d", e.QualName, e.Module+"."+e.Name, e.BlockHash, e.Idx)}
		}
		events = append(events, e)
	}
	return events, nil
}

// MaxEventHeight returns the highest event height persisted for a chain, or
// 0 if no events exist for it.
func (s *Store) MaxEventHeight(ctx context.Context, chainID int) (int64, error) {
	var max sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(height) FROM events WHERE chain_id = $1`, chainID).Scan(&max)
	if err != nil {
		return 0, &StoreError{Op: "max event height", Err: err}
	}
	if !max.Valid {
		return 0, nil
	}
	return max.Int64, nil
}
