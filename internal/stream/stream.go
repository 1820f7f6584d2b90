// Package stream implements C7: consumes the node's live header stream and
// processes each header as a single block, performing orphan replacement on
// duplicate-height arrivals.
package stream

import (
	"context"

	"github.com/chainweb-tools/cwindex/internal/chainweb"
	"github.com/chainweb-tools/cwindex/internal/model"
	"github.com/chainweb-tools/cwindex/pkg/logging"
)

// NodeClient is the slice of the chainweb client C7 needs.
type NodeClient interface {
	StreamHeaderUpdates(ctx context.Context) <-chan chainweb.HeaderEvent
	GetPayloadBatch(ctx context.Context, chain int, payloadHashes []string) ([]model.BlockPayload, error)
	PollTxResults(ctx context.Context, chain int, requestKeys []string) (map[string]model.TxResult, error)
}

// Store is the slice of the store C7 needs.
type Store interface {
	ReplaceOrphan(ctx context.Context, newBlock model.Block) error
	InsertTransactionsIfAbsent(ctx context.Context, txs []model.Transaction) error
	InsertEventsIfAbsent(ctx context.Context, events []model.Event) error
}

// Options tunes the tx-result polling chunk size (design default 10); the
// stream is single-flow, so chunks are polled sequentially, not fanned out.
type Options struct {
	PollChunkSize int
}

func (o Options) withDefaults() Options {
	if o.PollChunkSize <= 0 {
		o.PollChunkSize = 10
	}
	return o
}

// Consume reads headers from the live stream one at a time until ctx is
// cancelled or the stream closes. Per-event errors are logged and the
// stream keeps consuming; reconnection on disconnect is handled by the
// node client.
func Consume(ctx context.Context, client NodeClient, store Store, opts Options) error {
	opts = opts.withDefaults()
	log := logging.Default().Component("stream")

	events := client.StreamHeaderUpdates(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Header == nil {
				continue
			}
			chainLog := log.Chain(ev.Header.ChainID)
			if err := processHeader(ctx, client, store, *ev.Header, opts, chainLog); err != nil {
				chainLog.Error("process header", "hash", ev.Header.Hash, "err", err)
			}
		}
	}
}

func processHeader(ctx context.Context, client NodeClient, store Store, header model.BlockHeader, opts Options, log *logging.Logger) error {
	payloads, err := client.GetPayloadBatch(ctx, header.ChainID, []string{header.PayloadHash})
	if err != nil {
		return err
	}
	if len(payloads) == 0 {
		log.Warn("no payload for streamed header", "hash", header.Hash)
		return nil
	}
	payload := payloads[0]

	block, err := chainweb.DecodeBlock(header, payload)
	if err != nil {
		return err
	}
	if err := store.ReplaceOrphan(ctx, block); err != nil {
		return err
	}

	signed, err := chainweb.DecodeTransactions(payload)
	if err != nil {
		return err
	}
	if len(signed) == 0 {
		return nil
	}

	requestKeys := make([]string, 0, len(signed))
	for hash := range signed {
		requestKeys = append(requestKeys, hash)
	}

	results := make(map[string]model.TxResult, len(requestKeys))
	for _, chunk := range chainweb.ChunkRequestKeys(requestKeys, opts.PollChunkSize) {
		r, err := client.PollTxResults(ctx, header.ChainID, chunk)
		if err != nil {
			log.Error("poll tx results", "err", err)
			continue
		}
		for k, v := range r {
			results[k] = v
		}
	}

	var txs []model.Transaction
	var events []model.Event
	for hash, s := range signed {
		result, ok := results[hash]
		if !ok {
			continue
		}
		cmd, err := chainweb.ParseCommand(s)
		if err != nil {
			log.Error("parse command", "requestKey", s.Hash, "err", err)
			continue
		}
		txs = append(txs, chainweb.BuildTransaction(s, cmd, result, header.ChainID, block.Hash, block.Height))
		events = append(events, chainweb.BuildEvents(block.Hash, s.Hash, header.ChainID, block.Height, result)...)
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
