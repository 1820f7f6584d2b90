package backfill

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/chainweb-tools/cwindex/internal/model"
)

type balanceKey struct {
	account string
	chainID int
	module  string
}

type fakeBalanceStore struct {
	events   []model.Event
	balances map[balanceKey]decimal.Decimal
}

func newFakeBalanceStore(events []model.Event) *fakeBalanceStore {
	return &fakeBalanceStore{events: events, balances: make(map[balanceKey]decimal.Decimal)}
}

func (f *fakeBalanceStore) MaxEventHeight(ctx context.Context, chainID int) (int64, error) {
	var max int64
	for _, e := range f.events {
		if e.ChainID == chainID && e.Height > max {
			max = e.Height
		}
	}
	return max, nil
}

func (f *fakeBalanceStore) EventsByHeightRange(ctx context.Context, chainID int, minHeight, maxHeight int64) ([]model.Event, error) {
	var out []model.Event
	for _, e := range f.events {
		if e.ChainID == chainID && e.Height >= minHeight && e.Height <= maxHeight {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeBalanceStore) UpsertBalance(ctx context.Context, account string, chainID int, module string, change decimal.Decimal, height int64) error {
	k := balanceKey{account, chainID, module}
	f.balances[k] = f.balances[k].Add(change)
	return nil
}

func transferEvent(blockHash string, height int64, idx int, from, to, amount string) model.Event {
	params, _ := json.Marshal([]interface{}{from, to, json.RawMessage(amount)})
	return model.Event{
		BlockHash:  blockHash,
		Idx:        idx,
		RequestKey: "rk-" + blockHash,
		ChainID:    0,
		Height:     height,
		Module:     "coin",
		ModuleHash: "modhash",
		Name:       "TRANSFER",
		QualName:   "coin.TRANSFER",
		Params:     params,
	}
}

// TestCalculateChainBalancesFoldsFourTransfers reproduces spec.md §8's
// balance-fold scenario literally: a block at height 0 mints 100.1 to alice
// then moves 10.0 from alice to bob, and a block at height 2 moves 10.1 and
// 5.5 more from alice to bob — alice is debited three times across two
// blocks, exercising the .Neg() debit path on the same account it credits.
// Expect balance(bob,0,"coin")==25.6 and balance(alice,0,"coin")==74.5.
func TestCalculateChainBalancesFoldsFourTransfers(t *testing.T) {
	events := []model.Event{
		transferEvent("block-a", 0, 0, "", "alice", "100.1"),
		transferEvent("block-a", 0, 1, "alice", "bob", "10.0"),
		transferEvent("block-b", 2, 0, "alice", "bob", "10.1"),
		transferEvent("block-b", 2, 1, "alice", "bob", "5.5"),
	}
	store := newFakeBalanceStore(events)

	if err := CalculateChainBalances(context.Background(), store, 0, 1, nil); err != nil {
		t.Fatalf("CalculateChainBalances: %v", err)
	}

	bob := store.balances[balanceKey{"bob", 0, "coin"}]
	alice := store.balances[balanceKey{"alice", 0, "coin"}]

	wantBob := decimal.RequireFromString("25.6")
	wantAlice := decimal.RequireFromString("74.5")

	if !bob.Equal(wantBob) {
		t.Errorf("bob balance = %s, want %s", bob, wantBob)
	}
	if !alice.Equal(wantAlice) {
		t.Errorf("alice balance = %s, want %s", alice, wantAlice)
	}
}

func TestCalculateChainBalancesNoEvents(t *testing.T) {
	store := newFakeBalanceStore(nil)
	if err := CalculateChainBalances(context.Background(), store, 0, 1, nil); err != nil {
		t.Fatalf("CalculateChainBalances: %v", err)
	}
	if len(store.balances) != 0 {
		t.Errorf("expected no balances, got %v", store.balances)
	}
}

func TestCalculateChainBalancesIgnoresNonTransferEvents(t *testing.T) {
	e := transferEvent("block-a", 0, 0, "alice", "bob", "5")
	e.Name = "OTHER"
	store := newFakeBalanceStore([]model.Event{e})
	if err := CalculateChainBalances(context.Background(), store, 0, 1, nil); err != nil {
		t.Fatalf("CalculateChainBalances: %v", err)
	}
	if len(store.balances) != 0 {
		t.Errorf("expected no balances from non-TRANSFER event, got %v", store.balances)
	}
}

func TestCalculateChainBalancesResumesFromStartingHeight(t *testing.T) {
	events := []model.Event{
		transferEvent("block-a", 0, 0, "alice", "bob", "10"),
		transferEvent("block-b", 5, 0, "alice", "bob", "1"),
	}
	store := newFakeBalanceStore(events)
	start := int64(5)
	if err := CalculateChainBalances(context.Background(), store, 0, 1, &start); err != nil {
		t.Fatalf("CalculateChainBalances: %v", err)
	}
	bob := store.balances[balanceKey{"bob", 0, "coin"}]
	if !bob.Equal(decimal.RequireFromString("1")) {
		t.Errorf("bob balance = %s, want 1 (height-0 event should be skipped)", bob)
	}
}
