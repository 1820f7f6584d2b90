// Package backfill implements the transfer and balance derivation
// backfillers (C8, C9): offline jobs that walk persisted events in
// height-ordered batches and fold them into derived rows.
package backfill

import (
	"bytes"
	"encoding/json"

	"github.com/shopspring/decimal"
)

// ParseTransferParams extracts (from, to, amount) from a TRANSFER event's
// params array [from, to, amount]. Either account may be empty (mint/burn).
// A malformed or short params array yields ("", "", 0).
func ParseTransferParams(raw json.RawMessage) (from, to string, amount decimal.Decimal) {
	var params []json.RawMessage
	if err := json.Unmarshal(raw, &params); err != nil || len(params) < 3 {
		return "", "", decimal.Zero
	}
	return stringOrEmpty(params[0]), stringOrEmpty(params[1]), parseAmount(params[2])
}

func stringOrEmpty(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// parseAmount implements the amount-parsing rule shared by transfers and
// balances (spec §4.8): a bare JSON number, an object {"decimal": "..."},
// an object {"int": N}, or anything else (→ 0).
func parseAmount(raw json.RawMessage) decimal.Decimal {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return decimal.Zero
	}

	if isJSONNumber(trimmed) {
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
			if err := json.Unmarshal(dec, &s); err != nil {
				return decimal.Zero
			}
			d, err := decimal.NewFromString(s)
			if err != nil {
				return decimal.Zero
			}
			return d
		}
		if n, ok := obj["int"]; ok {
			var i int64
			if err := json.Unmarshal(n, &i); err != nil {
				return decimal.Zero
			}
			return decimal.NewFromInt(i)
		}
	}

	return decimal.Zero
}

func isJSONNumber(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	c := b[0]
	return c == '-' || (c >= '0' && c <= '9')
}
