package store

import (
	"context"
	"database/sql"

	"github.com/shopspring/decimal"

	"github.com/chainweb-tools/cwindex/internal/model"
)

// UpsertBalance applies change to the (account, chain, module) balance: if
// a row exists, amount += change and height is set to the event height;
// otherwise a new row is inserted with amount = change. Balances may go
// transiently negative during partial replay (spec's open question:
// negative values mean "not yet converged", not authoritative).
func (s *Store) UpsertBalance(ctx context.Context, account string, chainID int, module string, change decimal.Decimal, height int64) error {
	qualified := module // the call site passes the event's module name, used as both module and qualified key (see DESIGN.md)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO balances (account, chain_id, qualified_module_name, amount, module, height)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (account, chain_id, qualified_module_name)
		DO UPDATE SET amount = balances.amount + EXCLUDED.amount, height = EXCLUDED.height
	`, account, chainID, qualified, change, module, height)
	if err != nil {
		return &StoreError{Op: "upsert balance", Err: err}
	}
	return nil
}

// Balance looks up a single (account, chain, module) balance.
func (s *Store) Balance(ctx context.Context, account string, chainID int, module string) (*model.Balance, error) {
	var b model.Balance
	err := s.db.QueryRowContext(ctx, `
		SELECT account, chain_id, qualified_module_name, amount, module, height
		FROM balances WHERE account = $1 AND chain_id = $2 AND qualified_module_name = $3
	`, account, chainID, module).Scan(&b.Account, &b.ChainID, &b.QualifiedModule, &b.Amount, &b.Module, &b.Height)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &StoreError{Op: "balance", Err: err}
	}
	return &b, nil
}

// BalancesByAccount lists every module balance for an account, optionally
// narrowed to one chain.
func (s *Store) BalancesByAccount(ctx context.Context, account string, chainID *int) ([]model.Balance, error) {
	query := `
		SELECT account, chain_id, qualified_module_name, amount, module, height
		FROM balances WHERE account = $1
	`
	args := []interface{}{account}
	if chainID != nil {
		query += " AND chain_id = $2"
		args = append(args, *chainID)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &StoreError{Op: "balances by account", Err: err}
	}
	defer rows.Close()

	var out []model.Balance
	for rows.Next() {
		var b model.Balance
		if err := rows.Scan(&b.Account, &b.ChainID, &b.QualifiedModule, &b.Amount, &b.Module, &b.Height); err != nil {
			return nil, &StoreError{Op: "balances by account: scan", Err: err}
		}
		out = append(out, b)
	}
	return out, nil
}
