// Package gaps implements C6: finds interior ranges of missing heights per
// chain and emits one traversal job per gap.
package gaps

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/chainweb-tools/cwindex/internal/model"
	"github.com/chainweb-tools/cwindex/internal/traversal"
	"github.com/chainweb-tools/cwindex/pkg/logging"
)

// windowSize is the design default for the height-descending scan window.
const windowSize = 100

// Store is the slice of the store the gap engine needs, plus everything C4
// needs to run the fill jobs it emits.
type Store interface {
	traversal.Store
	BlockHeightsDescending(ctx context.Context, chainID int, beforeHeight *int64, limit int) ([]model.BlockHash, error)
	MinMaxBlock(ctx context.Context, chainID int) (min, max *model.Block, err error)
}

// Gap is a strictly-interior range of missing heights bracketed by two
// persisted blocks on the same chain.
type Gap struct {
	ChainID int
	Lower   model.BlockHash
	Upper   model.BlockHash
}

// FindGaps scans a chain's persisted heights in descending windows of
// windowSize, detecting discontinuities inline. Chain genesis is whatever
// the store's actual minimum height is (0 for chains 0-9, a higher height
// for chains 10-19) — never assumed to be 0.
func FindGaps(ctx context.Context, s Store, chainID int) ([]Gap, error) {
	min, max, err := s.MinMaxBlock(ctx, chainID)
	if err != nil {
		return nil, err
	}
	if min == nil {
		return nil, nil
	}

	var gaps []Gap
	var before *int64
	prev := model.BlockHash{Height: max.Height, Hash: max.Hash}

	for {
		window, err := s.BlockHeightsDescending(ctx, chainID, before, windowSize)
		if err != nil {
			return nil, err
		}
		if len(window) == 0 {
			break
		}

		for _, bh := range window {
			if prev.Height-bh.Height > 1 {
				gaps = append(gaps, Gap{ChainID: chainID, Lower: bh, Upper: prev})
			}
			prev = bh
		}

		last := window[len(window)-1].Height
		before = &last
		if last <= min.Height {
			break
		}
	}
	return gaps, nil
}

// FindGapsInRange returns the gaps from FindGaps whose bracketing blocks both
// lie within [lowerHeight, upperHeight], inclusive.
func FindGapsInRange(ctx context.Context, s Store, chainID int, lowerHeight, upperHeight int64) ([]Gap, error) {
	all, err := FindGaps(ctx, s, chainID)
	if err != nil {
		return nil, err
	}
	var out []Gap
	for _, g := range all {
		if g.Lower.Height >= lowerHeight && g.Upper.Height <= upperHeight {
			out = append(out, g)
		}
	}
	return out, nil
}

// RunOnce finds and fills every gap across the given chains with bounded
// concurrency (design default 4).
func RunOnce(ctx context.Context, client traversal.NodeClient, s Store, chainIDs []int, concurrency int) error {
	if concurrency <= 0 {
		concurrency = 4
	}
	log := logging.Default().Component("gaps")

	var allGaps []Gap
	for _, chain := range chainIDs {
		gs, err := FindGaps(ctx, s, chain)
		if err != nil {
			log.Chain(chain).Error("find gaps", "err", err)
			continue
		}
		allGaps = append(allGaps, gs...)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, gap := range allGaps {
		gap := gap
		g.Go(func() error {
			bounds := model.Bounds{Lower: []model.BlockHash{gap.Lower}, Upper: []model.BlockHash{gap.Upper}}
			if err := traversal.Traverse(gctx, client, s, gap.ChainID, bounds, false, traversal.Options{}); err != nil {
				log.Chain(gap.ChainID).Error("fill gap", "lower", gap.Lower.Height, "upper", gap.Upper.Height, "err", err)
			}
			return nil
		})
	}
	return g.Wait()
}
