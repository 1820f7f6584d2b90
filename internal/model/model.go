// Package model defines the canonical and derived row types persisted by
// the indexer, along with the wire shapes decoded from the node's HTTP API.
package model

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Block is the canonical per-chain-per-height row. Created on first commit,
// replaced wholesale on orphan resolution, never mutated in place.
type Block struct {
	ChainID        int
	Hash           string
	Height         int64
	ParentHash     string
	PayloadHash    string
	CreationTime   int64 // microseconds since epoch
	EpochStart     int64 // microseconds since epoch
	Weight         decimal.Decimal
	Nonce          decimal.Decimal
	FeatureFlags   decimal.Decimal
	MinerAccount   string
	MinerPredicate string
	Target         decimal.Decimal
	// PowHash is always the empty string; retained for bug-compat with the
	// system this was ported from, which never populated it.
	PowHash string
}

// Transaction is keyed by (block_hash, request_key). Exactly one of
// GoodResult/BadResult is populated, depending on Status.
type Transaction struct {
	BlockHash    string
	RequestKey   string
	ChainID      int
	Height       int64
	CreationTime int64

	Code         *string
	Data         *string
	Continuation *string

	Gas      int64
	GasLimit int64
	GasPrice decimal.Decimal

	GoodResult *string
	BadResult  *string
	Logs       *string
	Metadata   *string

	Nonce     string
	NumEvents *int

	PactID   *string
	Proof    *string
	Rollback *bool
	Sender   string
	Step     *int
	TTL      int64
	TxID     *int64
}

// Event is keyed by (block_hash, idx, request_key) and is insertion-ordered
// within a transaction by Idx starting at 0.
type Event struct {
	BlockHash  string
	Idx        int
	RequestKey string

	ChainID    int
	Height     int64
	Module     string
	ModuleHash string
	Name       string
	QualName   string
	Params     json.RawMessage
	ParamText  string
	PactID     *string
}

// Transfer is a derived row built from TRANSFER events.
type Transfer struct {
	BlockHash    string
	ChainID      int
	Idx          int
	ModuleHash   string
	RequestKey   string

	Amount       decimal.Decimal
	FromAccount  string
	ToAccount    string
	Height       int64
	ModuleName   string
	PactID       *string
	CreationTime int64
}

// Balance is a derived fold of transfers keyed by (account, chain, module).
type Balance struct {
	Account         string
	ChainID         int
	QualifiedModule string

	Amount decimal.Decimal
	Module string
	Height int64
}

// MarmaladeToken is a derived fold of marmalade-v2 ledger events keyed by
// (token_id, chain).
type MarmaladeToken struct {
	TokenID string
	ChainID int

	Creator   string
	Precision int
	URI       string
	Policies  json.RawMessage
	Supply    decimal.Decimal
	Height    int64
}

// PayloadKind tags which variant of Payload is populated.
type PayloadKind string

const (
	PayloadExec PayloadKind = "exec"
	PayloadCont PayloadKind = "cont"
)

// Payload is a tagged variant: exactly one of Exec/Cont is populated,
// selected by Kind. Never represent this as two independently-optional
// fields without the tag.
type Payload struct {
	Kind PayloadKind
	Exec *ExecPayload
	Cont *ContPayload
}

type ExecPayload struct {
	Code string          `json:"code"`
	Data json.RawMessage `json:"data"`
}

type ContPayload struct {
	Data     json.RawMessage `json:"data"`
	PactID   string          `json:"pactId"`
	Proof    *string         `json:"proof"`
	Rollback bool            `json:"rollback"`
	Step     int             `json:"step"`
}

// UnmarshalJSON decodes the chainweb command-payload wire shape:
// {"exec": {...}} or {"cont": {...}}.
func (p *Payload) UnmarshalJSON(b []byte) error {
	var wrapper struct {
		Exec *ExecPayload `json:"exec"`
		Cont *ContPayload `json:"cont"`
	}
	if err := json.Unmarshal(b, &wrapper); err != nil {
		return fmt.Errorf("payload: %w", err)
	}
	switch {
	case wrapper.Exec != nil:
		p.Kind = PayloadExec
		p.Exec = wrapper.Exec
	case wrapper.Cont != nil:
		p.Kind = PayloadCont
		p.Cont = wrapper.Cont
	default:
		return fmt.Errorf("payload: neither exec nor cont present")
	}
	return nil
}

// MarshalJSON round-trips the tagged variant back into the wire shape.
func (p Payload) MarshalJSON() ([]byte, error) {
	switch p.Kind {
	case PayloadExec:
		return json.Marshal(struct {
			Exec *ExecPayload `json:"exec"`
		}{p.Exec})
	case PayloadCont:
		return json.Marshal(struct {
			Cont *ContPayload `json:"cont"`
		}{p.Cont})
	default:
		return nil, fmt.Errorf("payload: unset kind")
	}
}
