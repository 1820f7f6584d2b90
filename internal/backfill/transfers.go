package backfill

import (
	"context"

	"github.com/chainweb-tools/cwindex/internal/model"
)

// TransferStore is the slice of the store C8 needs.
type TransferStore interface {
	MaxEventHeight(ctx context.Context, chainID int) (int64, error)
	EventsByHeightRange(ctx context.Context, chainID int, minHeight, maxHeight int64) ([]model.Event, error)
	BlocksByHash(ctx context.Context, chainID int, hashes []string) (map[string]model.Block, error)
	InsertTransfersIfAbsent(ctx context.Context, transfers []model.Transfer) error
}

// BackfillChainTransfers walks events for chain in descending height
// windows of batchSize, building a Transfer row for every TRANSFER event
// and inserting them idempotently. startingMaxHeight, if non-nil, overrides
// the store's persisted max event height as the starting point.
func BackfillChainTransfers(ctx context.Context, s TransferStore, chainID int, batchSize int64, startingMaxHeight *int64) error {
	if batchSize <= 0 {
		batchSize = 1
	}

	maxH := int64(0)
	if startingMaxHeight != nil {
		maxH = *startingMaxHeight
	} else {
		h, err := s.MaxEventHeight(ctx, chainID)
		if err != nil {
			return err
		}
		maxH = h
	}
	minH := int64(0)

	for maxH > minH {
		lower := maxH - batchSize
		if lower < 0 {
			lower = 0
		}

		events, err := s.EventsByHeightRange(ctx, chainID, lower, maxH)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			maxH -= batchSize
			continue
		}

		blockHashes := uniqueBlockHashes(events)
		blocks, err := s.BlocksByHash(ctx, chainID, blockHashes)
		if err != nil {
			return err
		}

		var transfers []model.Transfer
		for _, e := range events {
			if e.Name != "TRANSFER" {
				continue
			}
			block := blocks[e.BlockHash]
			transfers = append(transfers, buildTransfer(e, block))
		}

		if len(transfers) > 0 {
			if err := s.InsertTransfersIfAbsent(ctx, transfers); err != nil {
				return err
			}
		}

		maxH -= batchSize
	}
	return nil
}

func buildTransfer(e model.Event, block model.Block) model.Transfer {
	from, to, amount := ParseTransferParams(e.Params)
	return model.Transfer{
		BlockHash:    e.BlockHash,
		ChainID:      e.ChainID,
		Idx:          e.Idx,
		ModuleHash:   e.ModuleHash,
		RequestKey:   e.RequestKey,
		Amount:       amount,
		FromAccount:  from,
		ToAccount:    to,
		Height:       e.Height,
		ModuleName:   e.Module,
		PactID:       e.PactID,
		CreationTime: block.CreationTime,
	}
}

func uniqueBlockHashes(events []model.Event) []string {
	seen := make(map[string]struct{}, len(events))
	var hashes []string
	for _, e := range events {
		if _, ok := seen[e.BlockHash]; ok {
			continue
		}
		seen[e.BlockHash] = struct{}{}
		hashes = append(hashes, e.BlockHash)
	}
	return hashes
}
