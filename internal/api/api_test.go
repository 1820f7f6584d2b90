package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/chainweb-tools/cwindex/internal/model"
	"github.com/chainweb-tools/cwindex/internal/store"
)

type fakeStore struct {
	txs       map[string]*model.Transaction
	transfers []model.Transfer
	balances  []model.Balance
	maxByCh   map[int]int64
}

func (f *fakeStore) TransactionByRequestKey(ctx context.Context, requestKey string) (*model.Transaction, error) {
	tx, ok := f.txs[requestKey]
	if !ok {
		return nil, store.ErrTransactionNotFound
	}
	return tx, nil
}

func (f *fakeStore) TransferRange(ctx context.Context, filter store.TransferFilter) ([]model.Transfer, error) {
	var out []model.Transfer
	for _, t := range f.transfers {
		if filter.Account != "" && t.FromAccount != filter.Account && t.ToAccount != filter.Account {
			continue
		}
		if filter.ChainID != nil && t.ChainID != *filter.ChainID {
			continue
		}
		if filter.Module != "" && t.ModuleName != filter.Module {
			continue
		}
		if filter.MinHeight != nil && t.Height < *filter.MinHeight {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeStore) BalancesByAccount(ctx context.Context, account string, chainID *int) ([]model.Balance, error) {
	var out []model.Balance
	for _, b := range f.balances {
		if b.Account != account {
			continue
		}
		if chainID != nil && b.ChainID != *chainID {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

func (f *fakeStore) MinMaxBlock(ctx context.Context, chainID int) (min, max *model.Block, err error) {
	h, ok := f.maxByCh[chainID]
	if !ok {
		return nil, nil, nil
	}
	return &model.Block{ChainID: chainID, Height: 0}, &model.Block{ChainID: chainID, Height: h}, nil
}

type fakeNodeClient struct {
	cut *model.Cut
}

func (f *fakeNodeClient) GetCut(ctx context.Context) (*model.Cut, error) {
	return f.cut, nil
}

func TestHandleTransactionFound(t *testing.T) {
	s := &fakeStore{txs: map[string]*model.Transaction{"rk-1": {RequestKey: "rk-1", ChainID: 0}}}
	srv := New(s, &fakeNodeClient{})

	req := httptest.NewRequest(http.MethodGet, "/tx/rk-1", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got model.Transaction
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.RequestKey != "rk-1" {
		t.Errorf("request key = %q, want rk-1", got.RequestKey)
	}
}

func TestHandleTransactionNotFound(t *testing.T) {
	s := &fakeStore{txs: map[string]*model.Transaction{}}
	srv := New(s, &fakeNodeClient{})

	req := httptest.NewRequest(http.MethodGet, "/tx/missing", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandleTransfersFiltersByAccountAndChain(t *testing.T) {
	s := &fakeStore{transfers: []model.Transfer{
		{FromAccount: "alice", ToAccount: "bob", ChainID: 0, Height: 10, Amount: decimal.NewFromInt(5)},
		{FromAccount: "carol", ToAccount: "dave", ChainID: 1, Height: 11, Amount: decimal.NewFromInt(7)},
	}}
	srv := New(s, &fakeNodeClient{})

	req := httptest.NewRequest(http.MethodGet, "/transfers?account=alice&chain=0", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got []model.Transfer
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got) != 1 || got[0].FromAccount != "alice" {
		t.Errorf("transfers = %+v, want just alice's", got)
	}
}

func TestHandleTransfersRejectsBadChainParam(t *testing.T) {
	srv := New(&fakeStore{}, &fakeNodeClient{})

	req := httptest.NewRequest(http.MethodGet, "/transfers?chain=notanumber", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleBalancesFiltersByModule(t *testing.T) {
	s := &fakeStore{balances: []model.Balance{
		{Account: "alice", ChainID: 0, Module: "coin", Amount: decimal.NewFromInt(100)},
		{Account: "alice", ChainID: 0, Module: "other-token", Amount: decimal.NewFromInt(5)},
	}}
	srv := New(s, &fakeNodeClient{})

	req := httptest.NewRequest(http.MethodGet, "/balances/alice?module=coin", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got []model.Balance
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got) != 1 || got[0].Module != "coin" {
		t.Errorf("balances = %+v, want just coin", got)
	}
}

func TestHandleHealthInSync(t *testing.T) {
	s := &fakeStore{maxByCh: map[int]int64{0: 100, 1: 200}}
	client := &fakeNodeClient{cut: &model.Cut{Hashes: map[string]model.BlockHash{
		"0": {Height: 100, Hash: "h0"},
		"1": {Height: 200, Hash: "h1"},
	}}}
	srv := New(s, client)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleHealthReportsOutOfSyncChain(t *testing.T) {
	s := &fakeStore{maxByCh: map[int]int64{0: 90}}
	client := &fakeNodeClient{cut: &model.Cut{Hashes: map[string]model.BlockHash{
		"0": {Height: 100, Hash: "h0"},
	}}}
	srv := New(s, client)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
