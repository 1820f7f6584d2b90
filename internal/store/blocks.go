package store

import (
	"context"
	"database/sql"

	"github.com/lib/pq"

	"github.com/chainweb-tools/cwindex/internal/model"
)

// InsertBlocksIfAbsent batch-inserts blocks, silently skipping any that
// already exist at (chain_id, hash) (I3). Chunked to respect bind-parameter
// limits.
func (s *Store) InsertBlocksIfAbsent(ctx context.Context, blocks []model.Block) error {
	return chunk(blocks, insertChunkSize, func(batch []model.Block) error {
		return s.insertBlocksChunk(ctx, batch)
	})
}

func (s *Store) insertBlocksChunk(ctx context.Context, blocks []model.Block) error {
	if len(blocks) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &StoreError{Op: "insert blocks: begin", Err: err}
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO blocks (
			chain_id, hash, height, parent_hash, payload_hash, creation_time,
			epoch_start, weight, nonce, feature_flags, miner_account,
			miner_predicate, target, pow_hash
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (chain_id, hash) DO NOTHING
	`)
	if err != nil {
		return &StoreError{Op: "insert blocks: prepare", Err: err}
	}
	defer stmt.Close()

	for _, b := range blocks {
		if _, err := stmt.ExecContext(ctx,
			b.ChainID, b.Hash, b.Height, b.ParentHash, b.PayloadHash, b.CreationTime,
			b.EpochStart, b.Weight, b.Nonce, b.FeatureFlags, b.MinerAccount,
			b.MinerPredicate, b.Target, b.PowHash,
		); err != nil {
			return &StoreError{Op: "insert blocks: exec", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &StoreError{Op: "insert blocks: commit", Err: err}
	}
	return nil
}

// DeleteBlocksByHash deletes blocks by hash before a force-update
// reinsertion (C4 force_update semantics).
func (s *Store) DeleteBlocksByHash(ctx context.Context, chainID int, hashes []string) error {
	for _, h := range hashes {
		if err := s.deleteBlockCascade(ctx, chainID, h); err != nil {
			return err
		}
	}
	return nil
}

// ReplaceOrphan deletes the existing block at (chain_id, height) — along
// with its events and transactions, in that order to respect I1 — then
// inserts newBlock. Used by C7 on a duplicate-height arrival.
func (s *Store) ReplaceOrphan(ctx context.Context, newBlock model.Block) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &StoreError{Op: "replace orphan: begin", Err: err}
	}
	defer tx.Rollback()

	var oldHash string
	err = tx.QueryRowContext(ctx,
		`SELECT hash FROM blocks WHERE chain_id = $1 AND height = $2`,
		newBlock.ChainID, newBlock.Height,
	).Scan(&oldHash)
	switch {
	case err == sql.ErrNoRows:
		// nothing to orphan; fall through to plain insert.
	case err != nil:
		return &StoreError{Op: "replace orphan: lookup", Err: err}
	default:
		if oldHash != newBlock.Hash {
			if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE block_hash = $1`, oldHash); err != nil {
				return &StoreError{Op: "replace orphan: delete events", Err: err}
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM transactions WHERE block_hash = $1`, oldHash); err != nil {
				return &StoreError{Op: "replace orphan: delete transactions", Err: err}
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM blocks WHERE chain_id = $1 AND hash = $2`, newBlock.ChainID, oldHash); err != nil {
				return &StoreError{Op: "replace orphan: delete block", Err: err}
			}
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO blocks (
			chain_id, hash, height, parent_hash, payload_hash, creation_time,
			epoch_start, weight, nonce, feature_flags, miner_account,
			miner_predicate, target, pow_hash
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (chain_id, hash) DO NOTHING
	`,
		newBlock.ChainID, newBlock.Hash, newBlock.Height, newBlock.ParentHash, newBlock.PayloadHash,
		newBlock.CreationTime, newBlock.EpochStart, newBlock.Weight, newBlock.Nonce, newBlock.FeatureFlags,
		newBlock.MinerAccount, newBlock.MinerPredicate, newBlock.Target, newBlock.PowHash,
	)
	if err != nil {
		return &StoreError{Op: "replace orphan: insert", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &StoreError{Op: "replace orphan: commit", Err: err}
	}
	return nil
}

func (s *Store) deleteBlockCascade(ctx context.Context, chainID int, hash string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &StoreError{Op: "delete block: begin", Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE block_hash = $1`, hash); err != nil {
		return &StoreError{Op: "delete block: events", Err: err}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM transactions WHERE block_hash = $1`, hash); err != nil {
		return &StoreError{Op: "delete block: transactions", Err: err}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM blocks WHERE chain_id = $1 AND hash = $2`, chainID, hash); err != nil {
		return &StoreError{Op: "delete block: block", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &StoreError{Op: "delete block: commit", Err: err}
	}
	return nil
}

// MinMaxBlock returns the lowest- and highest-height persisted blocks for a
// chain. Returns (nil, nil, nil) when the chain has no persisted blocks.
func (s *Store) MinMaxBlock(ctx context.Context, chainID int) (min, max *model.Block, err error) {
	min, err = s.blockAtExtreme(ctx, chainID, "MIN")
	if err != nil || min == nil {
		return nil, nil, err
	}
	max, err = s.blockAtExtreme(ctx, chainID, "MAX")
	if err != nil {
		return nil, nil, err
	}
	return min, max, nil
}

func (s *Store) blockAtExtreme(ctx context.Context, chainID int, fn string) (*model.Block, error) {
	query := `
		SELECT chain_id, hash, height, parent_hash, payload_hash, creation_time,
			epoch_start, weight, nonce, feature_flags, miner_account,
			miner_predicate, target, pow_hash
		FROM blocks WHERE chain_id = $1 AND height = (
			SELECT ` + fn + `(height) FROM blocks WHERE chain_id = $1
		) LIMIT 1`
	return s.scanBlock(s.db.QueryRowContext(ctx, query, chainID))
}

func (s *Store) scanBlock(row *sql.Row) (*model.Block, error) {
	var b model.Block
	err := row.Scan(
		&b.ChainID, &b.Hash, &b.Height, &b.ParentHash, &b.PayloadHash, &b.CreationTime,
		&b.EpochStart, &b.Weight, &b.Nonce, &b.FeatureFlags, &b.MinerAccount,
		&b.MinerPredicate, &b.Target, &b.PowHash,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &StoreError{Op: "scan block", Err: err}
	}
	return &b, nil
}

// CountBlocks returns the number of persisted blocks on a chain.
func (s *Store) CountBlocks(ctx context.Context, chainID int) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM blocks WHERE chain_id = $1`, chainID).Scan(&n)
	if err != nil {
		return 0, &StoreError{Op: "count blocks", Err: err}
	}
	return n, nil
}

// BlockHeightsDescending returns up to limit persisted (height, hash) pairs
// on a chain, in descending order by height, strictly below beforeHeight (or
// all, if beforeHeight is nil). Used by the gap engine's windowed scan.
func (s *Store) BlockHeightsDescending(ctx context.Context, chainID int, beforeHeight *int64, limit int) ([]model.BlockHash, error) {
	var rows *sql.Rows
	var err error
	if beforeHeight != nil {
		rows, err = s.db.QueryContext(ctx,
			`SELECT height, hash FROM blocks WHERE chain_id = $1 AND height < $2 ORDER BY height DESC LIMIT $3`,
			chainID, *beforeHeight, limit)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT height, hash FROM blocks WHERE chain_id = $1 ORDER BY height DESC LIMIT $2`,
			chainID, limit)
	}
	if err != nil {
		return nil, &StoreError{Op: "block heights", Err: err}
	}
	defer rows.Close()

	var out []model.BlockHash
	for rows.Next() {
		var bh model.BlockHash
		if err := rows.Scan(&bh.Height, &bh.Hash); err != nil {
			return nil, &StoreError{Op: "block heights: scan", Err: err}
		}
		out = append(out, bh)
	}
	return out, nil
}

// BlocksByHash batch-loads blocks by hash, keyed by hash.
func (s *Store) BlocksByHash(ctx context.Context, chainID int, hashes []string) (map[string]model.Block, error) {
	out := make(map[string]model.Block, len(hashes))
	if len(hashes) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT chain_id, hash, height, parent_hash, payload_hash, creation_time,
			epoch_start, weight, nonce, feature_flags, miner_account,
			miner_predicate, target, pow_hash
		FROM blocks WHERE chain_id = $1 AND hash = ANY($2)
	`, chainID, pq.Array(hashes))
	if err != nil {
		return nil, &StoreError{Op: "blocks by hash", Err: err}
	}
	defer rows.Close()

	for rows.Next() {
		var b model.Block
		if err := rows.Scan(
			&b.ChainID, &b.Hash, &b.Height, &b.ParentHash, &b.PayloadHash, &b.CreationTime,
			&b.EpochStart, &b.Weight, &b.Nonce, &b.FeatureFlags, &b.MinerAccount,
			&b.MinerPredicate, &b.Target, &b.PowHash,
		); err != nil {
			return nil, &StoreError{Op: "blocks by hash: scan", Err: err}
		}
		out[b.Hash] = b
	}
	return out, nil
}
