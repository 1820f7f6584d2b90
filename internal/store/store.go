// Package store is the durable persistence layer: blocks, transactions,
// events, and the transfer/balance/marmalade derived tables, backed by
// Postgres via database/sql.
package store

import (
	"database/sql"
	"strconv"
	"time"

	_ "github.com/lib/pq"
)

// placeholder renders the nth (1-based) Postgres bind parameter.
func placeholder(n int) string { return "$" + strconv.Itoa(n) }

// Config configures a Store's connection pool.
type Config struct {
	DatabaseURL     string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// insertChunkSize bounds how many rows one insert transaction carries. Each
// row is a separate execution of a prepared single-row INSERT, so the chunk
// size bounds transaction size rather than bind parameters per statement.
const insertChunkSize = 1000

// Store wraps a connection pool and exposes batch insert-if-absent, range
// queries, and the derived-table operations used by every component.
type Store struct {
	db *sql.DB
}

// New opens the pool, verifies connectivity, and bootstraps the schema.
func New(cfg Config) (*Store, error) {
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, &StoreError{Op: "open", Err: err}
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 10
	}
	maxIdle := cfg.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = maxOpen
	}
	lifetime := cfg.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = 30 * time.Minute
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(lifetime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, &StoreError{Op: "ping", Err: err}
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// DB exposes the underlying pool for components (e.g. tests) that need
// direct access.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

const schema = `
CREATE TABLE IF NOT EXISTS blocks (
	chain_id INTEGER NOT NULL,
	hash TEXT NOT NULL,
	height BIGINT NOT NULL,
	parent_hash TEXT NOT NULL,
	payload_hash TEXT NOT NULL,
	creation_time BIGINT NOT NULL,
	epoch_start BIGINT NOT NULL,
	weight NUMERIC NOT NULL,
	nonce NUMERIC NOT NULL,
	feature_flags NUMERIC NOT NULL,
	miner_account TEXT NOT NULL,
	miner_predicate TEXT NOT NULL,
	target NUMERIC NOT NULL,
	pow_hash TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (chain_id, hash)
);
CREATE INDEX IF NOT EXISTS idx_blocks_chain_height ON blocks (chain_id, height);

CREATE TABLE IF NOT EXISTS transactions (
	block_hash TEXT NOT NULL,
	request_key TEXT NOT NULL,
	chain_id INTEGER NOT NULL,
	height BIGINT NOT NULL,
	creation_time BIGINT NOT NULL,
	code TEXT,
	data TEXT,
	continuation TEXT,
	gas BIGINT NOT NULL,
	gas_limit BIGINT NOT NULL,
	gas_price NUMERIC NOT NULL,
	good_result TEXT,
	bad_result TEXT,
	logs TEXT,
	metadata TEXT,
	nonce TEXT NOT NULL,
	num_events INTEGER,
	pact_id TEXT,
	proof TEXT,
	rollback BOOLEAN,
	sender TEXT NOT NULL,
	step INTEGER,
	ttl BIGINT NOT NULL,
	tx_id BIGINT,
	PRIMARY KEY (block_hash, request_key)
);
CREATE INDEX IF NOT EXISTS idx_transactions_chain_height ON transactions (chain_id, height);
CREATE INDEX IF NOT EXISTS idx_transactions_pact_id ON transactions (pact_id);

CREATE TABLE IF NOT EXISTS events (
	block_hash TEXT NOT NULL,
	idx INTEGER NOT NULL,
	request_key TEXT NOT NULL,
	chain_id INTEGER NOT NULL,
	height BIGINT NOT NULL,
	module TEXT NOT NULL,
	module_hash TEXT NOT NULL,
	name TEXT NOT NULL,
	qual_name TEXT NOT NULL,
	params JSONB NOT NULL,
	param_text TEXT NOT NULL,
	pact_id TEXT,
	PRIMARY KEY (block_hash, idx, request_key)
);
CREATE INDEX IF NOT EXISTS idx_events_chain_height ON events (chain_id, height);
CREATE INDEX IF NOT EXISTS idx_events_name ON events (name);

CREATE TABLE IF NOT EXISTS transfers (
	block_hash TEXT NOT NULL,
	chain_id INTEGER NOT NULL,
	idx INTEGER NOT NULL,
	module_hash TEXT NOT NULL,
	request_key TEXT NOT NULL,
	amount NUMERIC NOT NULL,
	from_account TEXT NOT NULL,
	to_account TEXT NOT NULL,
	height BIGINT NOT NULL,
	module_name TEXT NOT NULL,
	pact_id TEXT,
	creation_time BIGINT NOT NULL,
	PRIMARY KEY (block_hash, chain_id, idx, module_hash, request_key)
);
CREATE INDEX IF NOT EXISTS idx_transfers_from ON transfers (from_account, chain_id, module_name);
CREATE INDEX IF NOT EXISTS idx_transfers_to ON transfers (to_account, chain_id, module_name);
CREATE INDEX IF NOT EXISTS idx_transfers_pact_id ON transfers (pact_id);

CREATE TABLE IF NOT EXISTS balances (
	account TEXT NOT NULL,
	chain_id INTEGER NOT NULL,
	qualified_module_name TEXT NOT NULL,
	amount NUMERIC NOT NULL,
	module TEXT NOT NULL,
	height BIGINT NOT NULL,
	PRIMARY KEY (account, chain_id, qualified_module_name)
);

CREATE TABLE IF NOT EXISTS marmalade_tokens (
	token_id TEXT NOT NULL,
	chain_id INTEGER NOT NULL,
	creator TEXT NOT NULL,
	precision INTEGER NOT NULL,
	uri TEXT NOT NULL,
	policies JSONB,
	supply NUMERIC NOT NULL,
	height BIGINT NOT NULL,
	PRIMARY KEY (token_id, chain_id)
);
`

func (s *Store) initSchema() error {
	if _, err := s.db.Exec(schema); err != nil {
		return &StoreError{Op: "init schema", Err: err}
	}
	return nil
}

// chunk splits items into slices of at most size, calling fn per slice.
func chunk[T any](items []T, size int, fn func([]T) error) error {
	if size <= 0 {
		size = insertChunkSize
	}
	for len(items) > 0 {
		n := size
		if n > len(items) {
			n = len(items)
		}
		if err := fn(items[:n]); err != nil {
			return err
		}
		items = items[n:]
	}
	return nil
}
