package traversal

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/chainweb-tools/cwindex/internal/model"
)

type fakeNodeClient struct {
	headerResponses []*model.BlockHeaderResponse
	headerCalls     int
	payloads        map[string]model.BlockPayload
	results         map[string]model.TxResult
}

func (f *fakeNodeClient) GetHeaderBranch(ctx context.Context, chain int, bounds model.Bounds, cursor *string, pageSize int) (*model.BlockHeaderResponse, error) {
	resp := f.headerResponses[f.headerCalls]
	f.headerCalls++
	return resp, nil
}

func (f *fakeNodeClient) GetPayloadBatch(ctx context.Context, chain int, payloadHashes []string) ([]model.BlockPayload, error) {
	var out []model.BlockPayload
	for _, h := range payloadHashes {
		if p, ok := f.payloads[h]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeNodeClient) PollTxResults(ctx context.Context, chain int, requestKeys []string) (map[string]model.TxResult, error) {
	out := make(map[string]model.TxResult)
	for _, k := range requestKeys {
		if r, ok := f.results[k]; ok {
			out[k] = r
		}
	}
	return out, nil
}

type fakeStore struct {
	insertedBlocks []model.Block
	insertedTxs    []model.Transaction
	insertedEvents []model.Event
	deletedHashes  []string
}

func (f *fakeStore) InsertBlocksIfAbsent(ctx context.Context, blocks []model.Block) error {
	f.insertedBlocks = append(f.insertedBlocks, blocks...)
	return nil
}

func (f *fakeStore) DeleteBlocksByHash(ctx context.Context, chainID int, hashes []string) error {
	f.deletedHashes = append(f.deletedHashes, hashes...)
	return nil
}

func (f *fakeStore) InsertTransactionsIfAbsent(ctx context.Context, txs []model.Transaction) error {
	f.insertedTxs = append(f.insertedTxs, txs...)
	return nil
}

func (f *fakeStore) InsertEventsIfAbsent(ctx context.Context, events []model.Event) error {
	f.insertedEvents = append(f.insertedEvents, events...)
	return nil
}

func b64(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

func buildHeader(hash, payloadHash string, height int64) model.BlockHeader {
	return model.BlockHeader{
		Hash:        hash,
		Parent:      "parent-" + hash,
		PayloadHash: payloadHash,
		Height:      height,
	}
}

func buildPayload(payloadHash, txHash, requestKey string) model.BlockPayload {
	cmd := model.Command{
		Nonce: "n",
		Payload: model.Payload{
			Kind: model.PayloadExec,
			Exec: &model.ExecPayload{Code: "(+ 1 1)"},
		},
	}
	cmdJSON, _ := json.Marshal(cmd)
	signed := model.SignedTransaction{Cmd: string(cmdJSON), Hash: requestKey}
	return model.BlockPayload{
		MinerData:   b64(model.MinerData{Account: "miner", Predicate: "keys-all"}),
		PayloadHash: payloadHash,
		Transactions: []string{
			b64(signed),
		},
	}
}

func TestTraverseTerminatesOnEmptyHeaders(t *testing.T) {
	client := &fakeNodeClient{headerResponses: []*model.BlockHeaderResponse{{Items: nil}}}
	store := &fakeStore{}

	err := Traverse(context.Background(), client, store, 0, model.Bounds{}, false, Options{})
	if err != nil {
		t.Fatalf("Traverse: %v", err)
	}
	if client.headerCalls != 1 {
		t.Errorf("headerCalls = %d, want 1", client.headerCalls)
	}
	if len(store.insertedBlocks) != 0 {
		t.Errorf("expected no blocks inserted, got %d", len(store.insertedBlocks))
	}
}

func TestTraverseBuildsBlocksTxsAndEvents(t *testing.T) {
	payload := buildPayload("payload-1", "txhash-1", "rk-1")
	header := buildHeader("h1", "payload-1", 10)

	client := &fakeNodeClient{
		headerResponses: []*model.BlockHeaderResponse{
			{Items: []model.BlockHeader{header}},
			{Items: nil},
		},
		payloads: map[string]model.BlockPayload{"payload-1": payload},
		results: map[string]model.TxResult{
			"rk-1": {
				Gas:    10,
				Result: model.PactResult{Status: model.StatusSuccess, Data: json.RawMessage(`"ok"`)},
				Events: []model.PactEvent{
					{Module: model.Module{Name: "coin"}, Name: "TRANSFER", Params: json.RawMessage(`["a","b",1]`)},
				},
			},
		},
	}
	store := &fakeStore{}

	err := Traverse(context.Background(), client, store, 0, model.Bounds{Upper: []model.BlockHash{{Hash: "start"}}}, false, Options{})
	if err != nil {
		t.Fatalf("Traverse: %v", err)
	}

	if len(store.insertedBlocks) != 1 {
		t.Fatalf("insertedBlocks = %d, want 1", len(store.insertedBlocks))
	}
	if store.insertedBlocks[0].Hash != "h1" {
		t.Errorf("block hash = %s", store.insertedBlocks[0].Hash)
	}
	if len(store.insertedTxs) != 1 {
		t.Fatalf("insertedTxs = %d, want 1", len(store.insertedTxs))
	}
	if len(store.insertedEvents) != 1 {
		t.Fatalf("insertedEvents = %d, want 1", len(store.insertedEvents))
	}
	if client.headerCalls != 2 {
		t.Errorf("headerCalls = %d, want 2 (second call returns empty to terminate)", client.headerCalls)
	}
}

func TestTraverseTerminatesWhenUpperUnchanged(t *testing.T) {
	payload := buildPayload("payload-1", "txhash-1", "rk-1")
	header := buildHeader("same-hash", "payload-1", 5)

	client := &fakeNodeClient{
		headerResponses: []*model.BlockHeaderResponse{
			{Items: []model.BlockHeader{header}},
		},
		payloads: map[string]model.BlockPayload{"payload-1": payload},
		results:  map[string]model.TxResult{},
	}
	store := &fakeStore{}

	bounds := model.Bounds{Upper: []model.BlockHash{{Hash: "same-hash"}}}
	if err := Traverse(context.Background(), client, store, 0, bounds, false, Options{}); err != nil {
		t.Fatalf("Traverse: %v", err)
	}
	if client.headerCalls != 1 {
		t.Errorf("headerCalls = %d, want 1 (upper unchanged should stop the loop)", client.headerCalls)
	}
}

func TestTraverseForceUpdateDeletesBeforeInsert(t *testing.T) {
	payload := buildPayload("payload-1", "txhash-1", "rk-1")
	header := buildHeader("h1", "payload-1", 10)

	client := &fakeNodeClient{
		headerResponses: []*model.BlockHeaderResponse{
			{Items: []model.BlockHeader{header}},
			{Items: nil},
		},
		payloads: map[string]model.BlockPayload{"payload-1": payload},
		results:  map[string]model.TxResult{},
	}
	store := &fakeStore{}

	if err := Traverse(context.Background(), client, store, 0, model.Bounds{}, true, Options{}); err != nil {
		t.Fatalf("Traverse: %v", err)
	}
	if len(store.deletedHashes) != 1 || store.deletedHashes[0] != "h1" {
		t.Errorf("deletedHashes = %v, want [h1]", store.deletedHashes)
	}
}

func TestTraverseDropsTransactionsMissingResults(t *testing.T) {
	payload := buildPayload("payload-1", "txhash-1", "rk-1")
	header := buildHeader("h1", "payload-1", 10)

	client := &fakeNodeClient{
		headerResponses: []*model.BlockHeaderResponse{
			{Items: []model.BlockHeader{header}},
			{Items: nil},
		},
		payloads: map[string]model.BlockPayload{"payload-1": payload},
		results:  map[string]model.TxResult{}, // no result for rk-1
	}
	store := &fakeStore{}

	if err := Traverse(context.Background(), client, store, 0, model.Bounds{}, false, Options{}); err != nil {
		t.Fatalf("Traverse: %v", err)
	}
	if len(store.insertedTxs) != 0 {
		t.Errorf("expected no transactions inserted when result is missing, got %d", len(store.insertedTxs))
	}
	if len(store.insertedBlocks) != 1 {
		t.Errorf("block should still be inserted even when its tx result is missing")
	}
}
