// Package marmalade implements C10, the NFT ledger event mapper: it folds
// marmalade-v2.ledger events into per-token supply rows using the same
// windowed-scan shape as internal/backfill.
package marmalade

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/chainweb-tools/cwindex/internal/model"
)

const ledgerModule = "marmalade-v2.ledger"

// Store is the slice of the store C10 needs.
type Store interface {
	MaxEventHeight(ctx context.Context, chainID int) (int64, error)
	EventsByHeightRange(ctx context.Context, chainID int, minHeight, maxHeight int64) ([]model.Event, error)
	UpsertMarmaladeSupply(ctx context.Context, tokenID string, chainID int, creator string, precision int, uri string, policies []byte, delta decimal.Decimal, height int64) error
}

// BackfillChainTokens walks events for chain in ascending height windows of
// batchSize, folding marmalade-v2.ledger events into MarmaladeToken rows:
// TOKEN creates the row, MINT increases supply, BURN decreases it, TRANSFER
// and RECONCILE are supply-neutral and ignored. startingHeight, if non-nil,
// resumes a prior partial run instead of starting from 0.
func BackfillChainTokens(ctx context.Context, s Store, chainID int, batchSize int64, startingHeight *int64) error {
	if batchSize <= 0 {
		batchSize = 1000
	}

	minH := int64(0)
	if startingHeight != nil {
		minH = *startingHeight
	}
	maxH, err := s.MaxEventHeight(ctx, chainID)
	if err != nil {
		return err
	}

	for minH <= maxH {
		upper := minH + batchSize

		events, err := s.EventsByHeightRange(ctx, chainID, minH, upper)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			minH += batchSize + 1
			continue
		}

		for _, e := range events {
			if e.Module != ledgerModule {
				continue
			}
			if err := applyLedgerEvent(ctx, s, e); err != nil {
				return err
			}
		}

		minH += batchSize + 1
	}
	return nil
}

func applyLedgerEvent(ctx context.Context, s Store, e model.Event) error {
	switch e.Name {
	case "TOKEN":
		tokenID, precision, policies, uri, creator := parseTokenParams(e.Params)
		return s.UpsertMarmaladeSupply(ctx, tokenID, e.ChainID, creator, precision, uri, policies, decimal.Zero, e.Height)
	case "MINT":
		tokenID, amount := parseSupplyParams(e.Params)
		if tokenID == "" {
			return nil
		}
		return s.UpsertMarmaladeSupply(ctx, tokenID, e.ChainID, "", 0, "", nil, amount, e.Height)
	case "BURN":
		tokenID, amount := parseSupplyParams(e.Params)
		if tokenID == "" {
			return nil
		}
		return s.UpsertMarmaladeSupply(ctx, tokenID, e.ChainID, "", 0, "", nil, amount.Neg(), e.Height)
	case "TRANSFER", "RECONCILE":
		// supply-neutral; ownership bookkeeping is out of scope for the
		// token-supply row this component maintains.
		return nil
	default:
		return nil
	}
}

// parseTokenParams reads the TOKEN event's [token-id, precision, policies,
// uri, (creator-guard)] params array. creator is read from a trailing guard
// param when present, else left empty.
func parseTokenParams(raw json.RawMessage) (tokenID string, precision int, policies []byte, uri string, creator string) {
	var params []json.RawMessage
	if err := json.Unmarshal(raw, &params); err != nil || len(params) < 4 {
		return "", 0, nil, "", ""
	}
	tokenID = stringParam(params[0])
	precision = int(parsePactInteger(params[1]))
	policies = []byte(params[2])
	uri = stringParam(params[3])
	if len(params) > 4 {
		creator = guardAccount(params[4])
	}
	return tokenID, precision, policies, uri, creator
}

// parseSupplyParams reads a MINT/BURN event's [token-id, account, amount]
// params array.
func parseSupplyParams(raw json.RawMessage) (tokenID string, amount decimal.Decimal) {
	var params []json.RawMessage
	if err := json.Unmarshal(raw, &params); err != nil || len(params) < 3 {
		return "", decimal.Zero
	}
	return stringParam(params[0]), parseDecimalParam(params[2])
}

func stringParam(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// guardAccount best-efforts an account name out of a Pact guard object; most
// marmalade guards carry an "account" key, falling back to empty otherwise.
func guardAccount(raw json.RawMessage) string {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ""
	}
	if acct, ok := obj["account"]; ok {
		return stringParam(acct)
	}
	return ""
}

// parsePactInteger implements the same bare-number/{"int":N} shape used for
// amounts, restricted to integers (mirrors the original's parse_pact_integer).
func parsePactInteger(raw json.RawMessage) int64 {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return 0
	}
	if c := trimmed[0]; c == '-' || (c >= '0' && c <= '9') {
		var n int64
		if err := json.Unmarshal(trimmed, &n); err == nil {
			return n
		}
		return 0
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err == nil {
		if n, ok := obj["int"]; ok {
			var i int64
			if err := json.Unmarshal(n, &i); err == nil {
				return i
			}
		}
	}
	return 0
}

func parseDecimalParam(raw json.RawMessage) decimal.Decimal {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return decimal.Zero
	}
	if c := trimmed[0]; c == '-' || (c >= '0' && c <= '9') {
		d, err := decimal.NewFromString(string(trimmed))
		if err != nil {
			return decimal.Zero
		}
		return d
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err == nil {
		if dec, ok := obj["decimal"]; ok {
			var s string
			if err := json.Unmarshal(dec, &s); err == nil {
				if d, err := decimal.NewFromString(s); err == nil {
					return d
				}
			}
		}
		if n, ok := obj["int"]; ok {
			var i int64
			if err := json.Unmarshal(n, &i); err == nil {
				return decimal.NewFromInt(i)
			}
		}
	}
	return decimal.Zero
}
