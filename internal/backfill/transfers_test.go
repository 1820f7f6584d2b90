package backfill

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/chainweb-tools/cwindex/internal/model"
)

type fakeTransferStore struct {
	events    []model.Event
	blocks    map[string]model.Block
	inserted  []model.Transfer
	insertErr error
}

func (f *fakeTransferStore) MaxEventHeight(ctx context.Context, chainID int) (int64, error) {
	var max int64
	for _, e := range f.events {
		if e.ChainID == chainID && e.Height > max {
			max = e.Height
		}
	}
	return max, nil
}

func (f *fakeTransferStore) EventsByHeightRange(ctx context.Context, chainID int, minHeight, maxHeight int64) ([]model.Event, error) {
	var out []model.Event
	for _, e := range f.events {
		if e.ChainID == chainID && e.Height >= minHeight && e.Height <= maxHeight {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeTransferStore) BlocksByHash(ctx context.Context, chainID int, hashes []string) (map[string]model.Block, error) {
	out := make(map[string]model.Block, len(hashes))
	for _, h := range hashes {
		if b, ok := f.blocks[h]; ok {
			out[h] = b
		}
	}
	return out, nil
}

func (f *fakeTransferStore) InsertTransfersIfAbsent(ctx context.Context, transfers []model.Transfer) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = append(f.inserted, transfers...)
	return nil
}

func TestBackfillChainTransfersBuildsRowsFromEvents(t *testing.T) {
	store := &fakeTransferStore{
		events: []model.Event{
			transferEvent("block-a", 10, 0, "alice", "bob", "10.0"),
			transferEvent("block-a", 10, 1, "bob", "alice", "{\"decimal\":\"22.230409400000000000000000\"}"),
		},
		blocks: map[string]model.Block{
			"block-a": {Hash: "block-a", ChainID: 0, Height: 10, CreationTime: 12345},
		},
	}

	if err := BackfillChainTransfers(context.Background(), store, 0, 5, nil); err != nil {
		t.Fatalf("BackfillChainTransfers: %v", err)
	}

	if len(store.inserted) != 2 {
		t.Fatalf("inserted = %d transfers, want 2", len(store.inserted))
	}
	for _, tr := range store.inserted {
		if tr.CreationTime != 12345 {
			t.Errorf("transfer %+v did not inherit block creation time", tr)
		}
	}

	second := store.inserted[1]
	want := decimal.RequireFromString("22.230409400000000000000000")
	if !second.Amount.Equal(want) {
		t.Errorf("amount = %s, want %s", second.Amount, want)
	}
}

func TestBackfillChainTransfersSkipsNonTransferEvents(t *testing.T) {
	e := transferEvent("block-a", 0, 0, "alice", "bob", "1")
	e.Name = "OTHER"
	store := &fakeTransferStore{
		events: []model.Event{e},
		blocks: map[string]model.Block{"block-a": {Hash: "block-a"}},
	}
	if err := BackfillChainTransfers(context.Background(), store, 0, 1, nil); err != nil {
		t.Fatalf("BackfillChainTransfers: %v", err)
	}
	if len(store.inserted) != 0 {
		t.Errorf("expected no transfers inserted, got %d", len(store.inserted))
	}
}

func TestBackfillChainTransfersNoEvents(t *testing.T) {
	store := &fakeTransferStore{}
	if err := BackfillChainTransfers(context.Background(), store, 0, 1, nil); err != nil {
		t.Fatalf("BackfillChainTransfers: %v", err)
	}
}

func TestBackfillChainTransfersHonorsStartingMaxHeight(t *testing.T) {
	store := &fakeTransferStore{
		events: []model.Event{
			transferEvent("block-a", 100, 0, "alice", "bob", "1"),
		},
		blocks: map[string]model.Block{"block-a": {Hash: "block-a", Height: 100}},
	}
	start := int64(50)
	if err := BackfillChainTransfers(context.Background(), store, 0, 10, &start); err != nil {
		t.Fatalf("BackfillChainTransfers: %v", err)
	}
	if len(store.inserted) != 0 {
		t.Errorf("event above the overridden starting max height should not be visited, got %d inserted", len(store.inserted))
	}
}

func TestUniqueBlockHashesDedupes(t *testing.T) {
	events := []model.Event{
		transferEvent("block-a", 0, 0, "x", "y", "1"),
		transferEvent("block-a", 0, 1, "x", "y", "1"),
		transferEvent("block-b", 1, 0, "x", "y", "1"),
	}
	hashes := uniqueBlockHashes(events)
	if len(hashes) != 2 {
		t.Fatalf("uniqueBlockHashes = %v, want 2 entries", hashes)
	}
}
