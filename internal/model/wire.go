package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// FlexInt decodes a JSON integer that the node may encode either as a bare
// number or as a quoted string (gas_limit, ttl).
type FlexInt int64

func (f *FlexInt) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("flexint: %w", err)
	}
	*f = FlexInt(n)
	return nil
}

func (f FlexInt) Int64() int64 { return int64(f) }

// Cut is the node's snapshot of the per-chain latest hashes.
type Cut struct {
	Height   int64                `json:"height"`
	Weight   decimal.Decimal      `json:"weight"`
	Hashes   map[string]BlockHash `json:"hashes"`
	Instance string               `json:"instance"`
	ID       string               `json:"id"`
}

// BlockHash is the cut's per-chain pointer: a height and hash pair.
type BlockHash struct {
	Height int64  `json:"height"`
	Hash   string `json:"hash"`
}

// Bounds delimits a header-branch traversal: start at Upper, walk back
// toward (but not necessarily reaching) Lower.
type Bounds struct {
	Lower []BlockHash `json:"lower"`
	Upper []BlockHash `json:"upper"`
}

// BlockHeader is the node's camelCase block-header wire shape.
type BlockHeader struct {
	CreationTime    int64           `json:"creationTime"`
	ChainID         int             `json:"chainId"`
	Hash            string          `json:"hash"`
	Parent          string          `json:"parent"`
	PayloadHash     string          `json:"payloadHash"`
	FeatureFlags    decimal.Decimal `json:"featureFlags"`
	EpochStart      int64           `json:"epochStart"`
	ChainwebVersion string          `json:"chainwebVersion"`
	Height          int64           `json:"height"`
	// Weight is decoded as a raw string, not decimal.Decimal: a malformed
	// weight must default to zero for that one block (spec.md §4.3) rather
	// than failing decimal.Decimal's UnmarshalJSON and aborting the whole
	// header page's json.Unmarshal.
	Weight string          `json:"weight"`
	Target decimal.Decimal `json:"target"`
	Nonce  decimal.Decimal `json:"nonce"`
}

// BlockHeaderResponse is the paged header-branch response.
type BlockHeaderResponse struct {
	Items []BlockHeader `json:"items"`
	Limit int           `json:"limit"`
	Next  *string       `json:"next"`
}

// BlockPayload is the node's per-payload-hash block body.
type BlockPayload struct {
	MinerData        string   `json:"minerData"`
	OutputsHash      string   `json:"outputsHash"`
	PayloadHash      string   `json:"payloadHash"`
	Transactions     []string `json:"transactions"`
	TransactionsHash string   `json:"transactionsHash"`
}

// MinerData is the decoded, JSON-valued content of BlockPayload.MinerData.
type MinerData struct {
	Account   string          `json:"account"`
	Predicate string          `json:"predicate"`
	PublicKeys json.RawMessage `json:"public-keys"`
}

// SignedTransaction is a transaction envelope as submitted to the node.
type SignedTransaction struct {
	Cmd  string `json:"cmd"`
	Hash string `json:"hash"`
	Sigs []Sig  `json:"sigs"`
}

type Sig struct {
	Sig string `json:"sig"`
}

// Command is the parsed body of SignedTransaction.Cmd.
type Command struct {
	NetworkID string   `json:"networkId"`
	Nonce     string    `json:"nonce"`
	Payload   Payload   `json:"payload"`
	Signers   []Signer  `json:"signers"`
	Meta      Meta      `json:"meta"`
}

type Signer struct {
	PublicKey string `json:"pubKey"`
}

// Meta carries the command's execution envelope. GasLimit/TTL accept either
// a bare or quoted integer; GasPrice accepts either a bare or quoted decimal
// (shopspring/decimal's own UnmarshalJSON already handles both forms).
type Meta struct {
	ChainID      string          `json:"chainId"`
	CreationTime int64           `json:"creationTime"`
	GasLimit     FlexInt         `json:"gasLimit"`
	GasPrice     decimal.Decimal `json:"gasPrice"`
	Sender       string          `json:"sender"`
	TTL          FlexInt         `json:"ttl"`
}

// --- tx-result wire shapes ---

type Module struct {
	Name      string  `json:"name"`
	Namespace *string `json:"namespace"`
}

// PactEvent is a single event emitted during transaction execution, as
// reported by the node (distinct from model.Event, which is the persisted
// row built from it).
type PactEvent struct {
	Module     Module          `json:"module"`
	ModuleHash string          `json:"moduleHash"`
	Name       string          `json:"name"`
	Params     json.RawMessage `json:"params"`
}

type ResultMetadata struct {
	BlockHash   string `json:"blockHash"`
	BlockHeight int64  `json:"blockHeight"`
	BlockTime   int64  `json:"blockTime"`
	PrevBlockHash string `json:"prevBlockHash"`
}

type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// PactResult is the node's verdict for a single transaction: data on
// success, error on failure.
type PactResult struct {
	Error  json.RawMessage `json:"error,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
	Status Status          `json:"status"`
}

// TxResult is the node's full record of one transaction's execution.
type TxResult struct {
	Continuation json.RawMessage `json:"continuation"`
	Events       []PactEvent     `json:"events"`
	Gas          int64           `json:"gas"`
	Logs         *string         `json:"logs"`
	MetaData     *ResultMetadata `json:"metaData"`
	ReqKey       string          `json:"reqKey"`
	Result       PactResult      `json:"result"`
	TxID         *int64          `json:"txId"`
}

// ContinuationFields mirrors the subset of TxResult.Continuation this
// package reads; the node's continuation payload carries additional fields
// that are not needed downstream.
type ContinuationFields struct {
	PactID          string `json:"pactId"`
	StepHasRollback bool   `json:"stepHasRollback"`
	Step            int    `json:"step"`
}

// ParseContinuation extracts pact_id/rollback/step from a non-empty
// TxResult.Continuation, returning ok=false when Continuation is absent.
func ParseContinuation(raw json.RawMessage) (cont ContinuationFields, ok bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return ContinuationFields{}, false
	}
	if err := json.Unmarshal(raw, &cont); err != nil {
		return ContinuationFields{}, false
	}
	return cont, true
}
