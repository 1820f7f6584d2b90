package chainweb

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/chainweb-tools/cwindex/internal/model"
)

// DecodeBlock builds a canonical Block from a header and its matching
// payload. Weight defaults to zero on parse failure; nonce must parse.
// Target is always stored as the literal 1 and PowHash always empty,
// preserving the upstream system's behavior (see DESIGN.md).
func DecodeBlock(header model.BlockHeader, payload model.BlockPayload) (model.Block, error) {
	miner, err := decodeMinerData(payload.MinerData)
	if err != nil {
		return model.Block{}, &DecodeError{Op: "minerData", Err: err}
	}

	return model.Block{
		ChainID:        header.ChainID,
		Hash:           header.Hash,
		Height:         header.Height,
		ParentHash:     header.Parent,
		PayloadHash:    header.PayloadHash,
		CreationTime:   header.CreationTime,
		EpochStart:     header.EpochStart,
		Weight:         parseWeight(header.Weight),
		Nonce:          header.Nonce,
		FeatureFlags:   header.FeatureFlags,
		MinerAccount:   miner.Account,
		MinerPredicate: miner.Predicate,
		Target:         decimal.NewFromInt(1),
		PowHash:        "",
	}, nil
}

// parseWeight defaults to zero on parse failure, unlike nonce which must
// parse; a malformed weight is tolerated per-block rather than aborting the
// whole header page.
func parseWeight(raw string) decimal.Decimal {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func decodeMinerData(encoded string) (model.MinerData, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return model.MinerData{}, fmt.Errorf("minerData base64: %w", err)
	}
	var miner model.MinerData
	if err := json.Unmarshal(raw, &miner); err != nil {
		return model.MinerData{}, fmt.Errorf("minerData json: %w", err)
	}
	return miner, nil
}

// DecodeTransactions base64url-decodes and parses every transaction entry
// in a payload, keyed by hash. When a payload contains duplicate hashes,
// later occurrences overwrite earlier ones.
func DecodeTransactions(payload model.BlockPayload) (map[string]model.SignedTransaction, error) {
	out := make(map[string]model.SignedTransaction, len(payload.Transactions))
	for _, encoded := range payload.Transactions {
		raw, err := base64.RawURLEncoding.DecodeString(encoded)
		if err != nil {
			return nil, &DecodeError{Op: "transaction base64", Err: err}
		}
		var tx model.SignedTransaction
		if err := json.Unmarshal(raw, &tx); err != nil {
			return nil, &DecodeError{Op: "transaction json", Err: err}
		}
		out[tx.Hash] = tx
	}
	return out, nil
}

// ParseCommand parses SignedTransaction.Cmd into a Command.
func ParseCommand(signed model.SignedTransaction) (model.Command, error) {
	var cmd model.Command
	if err := json.Unmarshal([]byte(signed.Cmd), &cmd); err != nil {
		return model.Command{}, &DecodeError{Op: "command json", Err: err}
	}
	return cmd, nil
}

// BuildTransaction merges a signed transaction's command with its execution
// result into a canonical Transaction row. blockHash/height come from the
// block this transaction was fetched alongside, not from the result, since
// a transaction result alone does not identify its containing block
// unambiguously until matched by the caller.
func BuildTransaction(signed model.SignedTransaction, cmd model.Command, result model.TxResult, chainID int, blockHash string, height int64) model.Transaction {
	tx := model.Transaction{
		BlockHash:    blockHash,
		RequestKey:   signed.Hash,
		ChainID:      chainID,
		Height:       height,
		CreationTime: cmd.Meta.CreationTime,
		Nonce:        cmd.Nonce,
		Gas:          result.Gas,
		GasLimit:     cmd.Meta.GasLimit.Int64(),
		GasPrice:     cmd.Meta.GasPrice,
		Sender:       cmd.Meta.Sender,
		TTL:          cmd.Meta.TTL.Int64(),
		TxID:         result.TxID,
		Logs:         nonEmpty(result.Logs),
		Metadata:     marshalMetadata(result.MetaData),
	}

	switch cmd.Payload.Kind {
	case model.PayloadExec:
		code := cmd.Payload.Exec.Code
		tx.Code = &code
		data := string(cmd.Payload.Exec.Data)
		tx.Data = &data
	case model.PayloadCont:
		data := string(cmd.Payload.Cont.Data)
		tx.Data = &data
		tx.Proof = cmd.Payload.Cont.Proof
		rollback := cmd.Payload.Cont.Rollback
		tx.Rollback = &rollback
		step := cmd.Payload.Cont.Step
		tx.Step = &step
		pactID := cmd.Payload.Cont.PactID
		tx.PactID = &pactID
	}

	if cont, ok := model.ParseContinuation(result.Continuation); ok {
		pactID := cont.PactID
		tx.PactID = &pactID
		rollback := cont.StepHasRollback
		tx.Rollback = &rollback
		step := cont.Step
		tx.Step = &step
		data := string(result.Continuation)
		tx.Continuation = &data
	}

	switch result.Result.Status {
	case model.StatusSuccess:
		data := string(result.Result.Data)
		tx.GoodResult = &data
	case model.StatusFailure:
		data := string(result.Result.Error)
		tx.BadResult = &data
	}

	if len(result.Events) > 0 {
		n := len(result.Events)
		tx.NumEvents = &n
	}

	return tx
}

// BuildEvents assigns Idx equal to each event's index in the result's Events
// slice and sets QualName = module + "." + name.
func BuildEvents(blockHash, requestKey string, chainID int, height int64, result model.TxResult) []model.Event {
	events := make([]model.Event, 0, len(result.Events))
	for idx, ev := range result.Events {
		var pactID *string
		if cont, ok := model.ParseContinuation(result.Continuation); ok {
			id := cont.PactID
			pactID = &id
		}
		events = append(events, model.Event{
			BlockHash:  blockHash,
			Idx:        idx,
			RequestKey: requestKey,
			ChainID:    chainID,
			Height:     height,
			Module:     ev.Module.Name,
			ModuleHash: ev.ModuleHash,
			Name:       ev.Name,
			QualName:   ev.Module.Name + "." + ev.Name,
			Params:     ev.Params,
			ParamText:  string(ev.Params),
			PactID:     pactID,
		})
	}
	return events
}

func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}

func marshalMetadata(m *model.ResultMetadata) *string {
	if m == nil {
		return nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	s := string(b)
	return &s
}
