package backfill

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/chainweb-tools/cwindex/internal/model"
)

// BalanceStore is the slice of the store C9 needs. The balance row's
// module/qualified-module key is the event's (unqualified) Module — this
// implementation's modules never carry a namespace prefix in the events it
// has seen, so Module and the qualifying key coincide (see DESIGN.md).
type BalanceStore interface {
	MaxEventHeight(ctx context.Context, chainID int) (int64, error)
	EventsByHeightRange(ctx context.Context, chainID int, minHeight, maxHeight int64) ([]model.Event, error)
	UpsertBalance(ctx context.Context, account string, chainID int, module string, change decimal.Decimal, height int64) error
}

// CalculateChainBalances walks events for chain in ascending height windows
// of batchSize, folding every TRANSFER event into the (account, chain,
// module) balance table: sender -= amount, receiver += amount.
// startingHeight, if non-nil, resumes a prior partial run instead of
// starting from 0.
func CalculateChainBalances(ctx context.Context, s BalanceStore, chainID int, batchSize int64, startingHeight *int64) error {
	if batchSize <= 0 {
		batchSize = 1
	}

	minH := int64(0)
	if startingHeight != nil {
		minH = *startingHeight
	}
	maxH, err := s.MaxEventHeight(ctx, chainID)
	if err != nil {
		return err
	}

	for minH <= maxH {
		upper := minH + batchSize

		events, err := s.EventsByHeightRange(ctx, chainID, minH, upper)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			minH += batchSize
			continue
		}

		for _, e := range events {
			if e.Name != "TRANSFER" {
				continue
			}
			from, to, amount := ParseTransferParams(e.Params)
			if from != "" {
				if err := s.UpsertBalance(ctx, from, chainID, e.Module, amount.Neg(), e.Height); err != nil {
					return err
				}
			}
			if to != "" {
				if err := s.UpsertBalance(ctx, to, chainID, e.Module, amount, e.Height); err != nil {
					return err
				}
			}
		}

		minH += batchSize + 1
	}
	return nil
}
