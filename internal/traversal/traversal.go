// Package traversal implements C4: given a bound pair on one chain, pages
// headers backwards from the upper bound, fetches payloads and transaction
// results, builds canonical rows, and writes each page's blocks, then its
// transactions, then its events before requesting the next page. Each of
// those writes is a separate store call, so a page is not committed as one
// atomic transaction.
package traversal

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/chainweb-tools/cwindex/internal/chainweb"
	"github.com/chainweb-tools/cwindex/internal/model"
	"github.com/chainweb-tools/cwindex/pkg/logging"
)

// NodeClient is the slice of the chainweb client C4 needs.
type NodeClient interface {
	GetHeaderBranch(ctx context.Context, chain int, bounds model.Bounds, cursor *string, pageSize int) (*model.BlockHeaderResponse, error)
	GetPayloadBatch(ctx context.Context, chain int, payloadHashes []string) ([]model.BlockPayload, error)
	PollTxResults(ctx context.Context, chain int, requestKeys []string) (map[string]model.TxResult, error)
}

// Store is the slice of the store C4 needs.
type Store interface {
	InsertBlocksIfAbsent(ctx context.Context, blocks []model.Block) error
	DeleteBlocksByHash(ctx context.Context, chainID int, hashes []string) error
	InsertTransactionsIfAbsent(ctx context.Context, txs []model.Transaction) error
	InsertEventsIfAbsent(ctx context.Context, events []model.Event) error
}

// Options tunes the pieces of the algorithm spec.md leaves as design
// defaults.
type Options struct {
	PageSize        int
	PollChunkSize   int
	PollConcurrency int
}

func (o Options) withDefaults() Options {
	if o.PageSize <= 0 {
		o.PageSize = 50
	}
	if o.PollChunkSize <= 0 {
		o.PollChunkSize = 10
	}
	if o.PollConcurrency <= 0 {
		o.PollConcurrency = 40
	}
	return o
}

// Traverse pages chain from bounds.Upper back toward bounds.Lower, committing
// every page before advancing. forceUpdate deletes existing blocks by hash
// before reinserting, so header fields can be refreshed; otherwise insertion
// is skip-if-exists.
func Traverse(ctx context.Context, client NodeClient, store Store, chain int, bounds model.Bounds, forceUpdate bool, opts Options) error {
	opts = opts.withDefaults()
	log := logging.Default().Component("traversal").Chain(chain)

	nextBounds := bounds
	var previousUpperHash string
	if len(bounds.Upper) > 0 {
		previousUpperHash = bounds.Upper[0].Hash
	}

	for {
		resp, err := client.GetHeaderBranch(ctx, chain, nextBounds, nil, opts.PageSize)
		if err != nil {
			return err
		}
		if len(resp.Items) == 0 {
			return nil
		}

		payloadHashes := make([]string, 0, len(resp.Items))
		for _, h := range resp.Items {
			payloadHashes = append(payloadHashes, h.PayloadHash)
		}
		payloads, err := client.GetPayloadBatch(ctx, chain, payloadHashes)
		if err != nil {
			return err
		}
		payloadsByHash := make(map[string]model.BlockPayload, len(payloads))
		for _, p := range payloads {
			payloadsByHash[p.PayloadHash] = p
		}

		var blocks []model.Block
		var matchedHeaders []model.BlockHeader
		var matchedPayloads []model.BlockPayload
		for _, h := range resp.Items {
			payload, ok := payloadsByHash[h.PayloadHash]
			if !ok {
				// A payload-fetch returning fewer entries than requested is
				// tolerated; headers without a matching payload don't
				// contribute to this page.
				continue
			}
			block, err := chainweb.DecodeBlock(h, payload)
			if err != nil {
				log.Error("decode block", "hash", h.Hash, "err", err)
				continue
			}
			blocks = append(blocks, block)
			matchedHeaders = append(matchedHeaders, h)
			matchedPayloads = append(matchedPayloads, payload)
		}

		if forceUpdate && len(blocks) > 0 {
			hashes := make([]string, len(blocks))
			for i, b := range blocks {
				hashes[i] = b.Hash
			}
			if err := store.DeleteBlocksByHash(ctx, chain, hashes); err != nil {
				return err
			}
		}
		if len(blocks) > 0 {
			if err := store.InsertBlocksIfAbsent(ctx, blocks); err != nil {
				return err
			}
		}

		if err := buildAndCommitTransactionsAndEvents(ctx, client, store, chain, matchedHeaders, matchedPayloads, opts, log); err != nil {
			return err
		}

		last := resp.Items[len(resp.Items)-1]
		newUpper := []model.BlockHash{{Height: last.Height, Hash: last.Hash}}
		if last.Hash == previousUpperHash {
			return nil
		}
		previousUpperHash = last.Hash
		nextBounds = model.Bounds{Lower: bounds.Lower, Upper: newUpper}
	}
}

func buildAndCommitTransactionsAndEvents(ctx context.Context, client NodeClient, store Store, chain int, headers []model.BlockHeader, payloads []model.BlockPayload, opts Options, log *logging.Logger) error {
	type signedWithBlock struct {
		signed    model.SignedTransaction
		blockHash string
		height    int64
	}

	var signedTxs []signedWithBlock
	for i, payload := range payloads {
		decoded, err := chainweb.DecodeTransactions(payload)
		if err != nil {
			log.Error("decode transactions", "payloadHash", payload.PayloadHash, "err", err)
			continue
		}
		for _, signed := range decoded {
			signedTxs = append(signedTxs, signedWithBlock{signed: signed, blockHash: headers[i].Hash, height: headers[i].Height})
		}
	}
	if len(signedTxs) == 0 {
		return nil
	}

	requestKeys := make([]string, len(signedTxs))
	for i, s := range signedTxs {
		requestKeys[i] = s.signed.Hash
	}
	results, err := pollAll(ctx, client, chain, requestKeys, opts, log)
	if err != nil {
		return err
	}

	var txs []model.Transaction
	var events []model.Event
	for _, s := range signedTxs {
		result, ok := results[s.signed.Hash]
		if !ok {
			// A missing tx-result drops only that transaction; its events
			// are not written.
			continue
		}
		cmd, err := chainweb.ParseCommand(s.signed)
		if err != nil {
			log.Error("parse command", "requestKey", s.signed.Hash, "err", err)
			continue
		}
		txs = append(txs, chainweb.BuildTransaction(s.signed, cmd, result, chain, s.blockHash, s.height))
		events = append(events, chainweb.BuildEvents(s.blockHash, s.signed.Hash, chain, s.height, result)...)
	}

	if len(txs) > 0 {
		if err := store.InsertTransactionsIfAbsent(ctx, txs); err != nil {
			return err
		}
	}
	if len(events) > 0 {
		if err := store.InsertEventsIfAbsent(ctx, events); err != nil {
			return err
		}
	}
	return nil
}

// pollAll slices requestKeys into fixed-size chunks and polls them
// concurrently up to opts.PollConcurrency in flight; a chunk that errors is
// logged and dropped, per spec.md's "failures are logged and that chunk's
// results are dropped" contract.
func pollAll(ctx context.Context, client NodeClient, chain int, requestKeys []string, opts Options, log *logging.Logger) (map[string]model.TxResult, error) {
	chunks := chainweb.ChunkRequestKeys(requestKeys, opts.PollChunkSize)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.PollConcurrency)

	var mu sync.Mutex
	merged := make(map[string]model.TxResult, len(requestKeys))

	for _, chunk := range chunks {
		chunk := chunk
		g.Go(func() error {
			results, err := client.PollTxResults(gctx, chain, chunk)
			if err != nil {
				log.Error("poll tx results", "chunkSize", len(chunk), "err", err)
				return nil
			}
			mu.Lock()
			for k, v := range results {
				merged[k] = v
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return merged, nil
}
