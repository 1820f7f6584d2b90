package chainweb

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/chainweb-tools/cwindex/internal/model"
)

func TestGetCut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/cut" {
			t.Errorf("path = %s, want /cut", r.URL.Path)
		}
		json.NewEncoder(w).Encode(model.Cut{
			Height: 100,
			Hashes: map[string]model.BlockHash{"0": {Height: 10, Hash: "abc"}},
		})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	cut, err := c.GetCut(context.Background())
	if err != nil {
		t.Fatalf("GetCut() error = %v", err)
	}
	if cut.Height != 100 {
		t.Errorf("Height = %d, want 100", cut.Height)
	}
	if cut.Hashes["0"].Hash != "abc" {
		t.Errorf("Hashes[0].Hash = %s, want abc", cut.Hashes["0"].Hash)
	}
}

func TestGetCutNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	_, err := c.GetCut(context.Background())
	if err == nil {
		t.Fatal("GetCut() expected error")
	}
	var netErr *NetworkError
	if !isNetworkError(err, &netErr) {
		t.Fatalf("GetCut() error = %v, want *NetworkError", err)
	}
}

func TestGetHeaderBranchSendsAcceptHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("accept"); got != headerBranchAccept {
			t.Errorf("accept header = %q, want %q", got, headerBranchAccept)
		}
		if r.URL.RawQuery != "limit=50" {
			t.Errorf("query = %q, want limit=50", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode(model.BlockHeaderResponse{Items: []model.BlockHeader{{Height: 5}}})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	resp, err := c.GetHeaderBranch(context.Background(), 0, model.Bounds{}, nil, 50)
	if err != nil {
		t.Fatalf("GetHeaderBranch() error = %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].Height != 5 {
		t.Errorf("Items = %+v", resp.Items)
	}
}

func TestGetPayloadBatchToleratesFewerResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var hashes []string
		json.NewDecoder(r.Body).Decode(&hashes)
		if len(hashes) != 2 {
			t.Errorf("requested %d hashes, want 2", len(hashes))
		}
		json.NewEncoder(w).Encode([]model.BlockPayload{{PayloadHash: hashes[0]}})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	payloads, err := c.GetPayloadBatch(context.Background(), 0, []string{"h1", "h2"})
	if err != nil {
		t.Fatalf("GetPayloadBatch() error = %v", err)
	}
	if len(payloads) != 1 {
		t.Fatalf("len(payloads) = %d, want 1", len(payloads))
	}
}

func TestPollTxResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			RequestKeys []string `json:"requestKeys"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		results := map[string]model.TxResult{}
		for _, k := range body.RequestKeys {
			results[k] = model.TxResult{ReqKey: k, Result: model.PactResult{Status: model.StatusSuccess}}
		}
		json.NewEncoder(w).Encode(results)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	results, err := c.PollTxResults(context.Background(), 0, []string{"rk1", "rk2"})
	if err != nil {
		t.Fatalf("PollTxResults() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
}

func TestChunkRequestKeys(t *testing.T) {
	keys := []string{"a", "b", "c", "d", "e"}
	chunks := ChunkRequestKeys(keys, 2)
	if len(chunks) != 3 {
		t.Fatalf("len(chunks) = %d, want 3", len(chunks))
	}
	if len(chunks[0]) != 2 || len(chunks[2]) != 1 {
		t.Errorf("chunk sizes = %v", chunks)
	}
}

func isNetworkError(err error, target **NetworkError) bool {
	ne, ok := err.(*NetworkError)
	if !ok {
		return false
	}
	*target = ne
	return true
}
