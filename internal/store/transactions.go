package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/chainweb-tools/cwindex/internal/model"
)

// ErrTransactionNotFound is returned by TransactionByRequestKey when no row
// matches.
var ErrTransactionNotFound = errors.New("store: transaction not found")

// InsertTransactionsIfAbsent batch-inserts transactions, skipping any that
// already exist at (block_hash, request_key).
func (s *Store) InsertTransactionsIfAbsent(ctx context.Context, txs []model.Transaction) error {
	return chunk(txs, insertChunkSize, func(batch []model.Transaction) error {
		return s.insertTransactionsChunk(ctx, batch)
	})
}

func (s *Store) insertTransactionsChunk(ctx context.Context, txs []model.Transaction) error {
	if len(txs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &StoreError{Op: "insert transactions: begin", Err: err}
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO transactions (
			block_hash, request_key, chain_id, height, creation_time, code, data,
			continuation, gas, gas_limit, gas_price, good_result, bad_result, logs,
			metadata, nonce, num_events, pact_id, proof, rollback, sender, step,
			ttl, tx_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24)
		ON CONFLICT (block_hash, request_key) DO NOTHING
	`)
	if err != nil {
		return &StoreError{Op: "insert transactions: prepare", Err: err}
	}
	defer stmt.Close()

	for _, t := range txs {
		if _, err := stmt.ExecContext(ctx,
			t.BlockHash, t.RequestKey, t.ChainID, t.Height, t.CreationTime, t.Code, t.Data,
			t.Continuation, t.Gas, t.GasLimit, t.GasPrice, t.GoodResult, t.BadResult, t.Logs,
			t.Metadata, t.Nonce, t.NumEvents, t.PactID, t.Proof, t.Rollback, t.Sender, t.Step,
			t.TTL, t.TxID,
		); err != nil {
			return &StoreError{Op: "insert transactions: exec", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &StoreError{Op: "insert transactions: commit", Err: err}
	}
	return nil
}

// TransactionByRequestKey looks up a transaction across all chains by its
// request key (the read API's GET /tx/{requestKey}).
func (s *Store) TransactionByRequestKey(ctx context.Context, requestKey string) (*model.Transaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT block_hash, request_key, chain_id, height, creation_time, code, data,
			continuation, gas, gas_limit, gas_price, good_result, bad_result, logs,
			metadata, nonce, num_events, pact_id, proof, rollback, sender, step,
			ttl, tx_id
		FROM transactions WHERE request_key = $1
	`, requestKey)

	var t model.Transaction
	err := row.Scan(
		&t.BlockHash, &t.RequestKey, &t.ChainID, &t.Height, &t.CreationTime, &t.Code, &t.Data,
		&t.Continuation, &t.Gas, &t.GasLimit, &t.GasPrice, &t.GoodResult, &t.BadResult, &t.Logs,
		&t.Metadata, &t.Nonce, &t.NumEvents, &t.PactID, &t.Proof, &t.Rollback, &t.Sender, &t.Step,
		&t.TTL, &t.TxID,
	)
	if err == sql.ErrNoRows {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, &StoreError{Op: "transaction by request key", Err: err}
	}
	return &t, nil
}
