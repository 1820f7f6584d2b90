// Package api implements C11: the read-only HTTP surface over the store —
// lookup by request key, transfer search, balance queries, and a
// synchronization health check against the node's current cut.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/chainweb-tools/cwindex/internal/model"
	"github.com/chainweb-tools/cwindex/internal/store"
	"github.com/chainweb-tools/cwindex/pkg/logging"
)

// Store is the slice of the store the read API needs.
type Store interface {
	TransactionByRequestKey(ctx context.Context, requestKey string) (*model.Transaction, error)
	TransferRange(ctx context.Context, f store.TransferFilter) ([]model.Transfer, error)
	BalancesByAccount(ctx context.Context, account string, chainID *int) ([]model.Balance, error)
	MinMaxBlock(ctx context.Context, chainID int) (min, max *model.Block, err error)
}

// NodeClient is the slice of the chainweb client the health check needs.
type NodeClient interface {
	GetCut(ctx context.Context) (*model.Cut, error)
}

// Server wires the read API's routes onto a chi router.
type Server struct {
	store  Store
	client NodeClient
	router chi.Router
	log    *logging.Logger
}

// New builds a Server with every route registered.
func New(s Store, client NodeClient) *Server {
	srv := &Server{store: s, client: client, log: logging.Default().Component("api")}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/tx/{requestKey}", srv.handleTransaction)
	r.Get("/transfers", srv.handleTransfers)
	r.Get("/balances/{account}", srv.handleBalances)
	r.Get("/health", srv.handleHealth)
	srv.router = r
	return srv
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleTransaction(w http.ResponseWriter, r *http.Request) {
	requestKey := chi.URLParam(r, "requestKey")
	tx, err := s.store.TransactionByRequestKey(r.Context(), requestKey)
	if errors.Is(err, store.ErrTransactionNotFound) {
		writeError(w, http.StatusNotFound, "transaction not found")
		return
	}
	if err != nil {
		s.log.Error("transaction by request key", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (s *Server) handleTransfers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.TransferFilter{
		Account: q.Get("account"),
		Module:  q.Get("module"),
	}

	if raw := q.Get("chain"); raw != "" {
		chain, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "chain must be an integer")
			return
		}
		filter.ChainID = &chain
	}
	if raw := q.Get("minHeight"); raw != "" {
		h, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "minHeight must be an integer")
			return
		}
		filter.MinHeight = &h
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		filter.Limit = n
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "offset must be an integer")
			return
		}
		filter.Offset = n
	}

	transfers, err := s.store.TransferRange(r.Context(), filter)
	if err != nil {
		s.log.Error("transfer range", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, transfers)
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	var chainID *int
	if raw := r.URL.Query().Get("chain"); raw != "" {
		c, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "chain must be an integer")
			return
		}
		chainID = &c
	}

	balances, err := s.store.BalancesByAccount(r.Context(), account, chainID)
	if err != nil {
		s.log.Error("balances by account", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if module := r.URL.Query().Get("module"); module != "" {
		filtered := balances[:0]
		for _, b := range balances {
			if b.Module == module {
				filtered = append(filtered, b)
			}
		}
		balances = filtered
	}
	writeJSON(w, http.StatusOK, balances)
}

type chainHealth struct {
	ChainID      int   `json:"chainId"`
	PersistedMax int64 `json:"persistedMax"`
	CutHeight    int64 `json:"cutHeight"`
	InSync       bool  `json:"inSync"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	cut, err := s.client.GetCut(r.Context())
	if err != nil {
		s.log.Error("get cut", "err", err)
		writeError(w, http.StatusInternalServerError, "could not reach node")
		return
	}

	var chains []chainHealth
	allInSync := true
	for chainStr, tip := range cut.Hashes {
		chain, err := strconv.Atoi(chainStr)
		if err != nil {
			continue
		}
		_, max, err := s.store.MinMaxBlock(r.Context(), chain)
		if err != nil {
			s.log.Error("min max block", "chain", chain, "err", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		var persistedMax int64
		if max != nil {
			persistedMax = max.Height
		}
		inSync := persistedMax == tip.Height
		allInSync = allInSync && inSync
		chains = append(chains, chainHealth{ChainID: chain, PersistedMax: persistedMax, CutHeight: tip.Height, InSync: inSync})
	}

	status := http.StatusOK
	if !allInSync {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]interface{}{"chains": chains})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
