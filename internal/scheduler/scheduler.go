// Package scheduler implements C5: reads the node's current cut and emits
// bounded traversal jobs per chain to close the gap between what's
// persisted and what the node advertises.
package scheduler

import (
	"context"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/chainweb-tools/cwindex/internal/model"
	"github.com/chainweb-tools/cwindex/internal/traversal"
	"github.com/chainweb-tools/cwindex/pkg/logging"
)

// NodeClient is the slice of the chainweb client C5 needs, plus everything
// C4 needs to run the jobs it emits.
type NodeClient interface {
	traversal.NodeClient
	GetCut(ctx context.Context) (*model.Cut, error)
}

// Store is the slice of the store C5 needs, plus everything C4 needs to run
// the jobs it emits.
type Store interface {
	traversal.Store
	MinMaxBlock(ctx context.Context, chainID int) (min, max *model.Block, err error)
}

// RunOptions narrows and tunes one scheduler sweep.
type RunOptions struct {
	Concurrency   int
	ChainFilter   map[int]bool
	TraversalOpts traversal.Options
}

func (o RunOptions) withDefaults() RunOptions {
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	return o
}

// job is one emitted traversal call.
type job struct {
	chain       int
	bounds      model.Bounds
	forceUpdate bool
}

// RunOnce reads the cut and, for every chain (optionally narrowed by
// opts.ChainFilter), emits 0-2 traversal jobs: a forward-fill above the
// persisted max and, when the persisted minimum hasn't reached genesis, a
// backfill toward it. Jobs run with bounded concurrency.
func RunOnce(ctx context.Context, client NodeClient, s Store, opts RunOptions) error {
	opts = opts.withDefaults()
	log := logging.Default().Component("scheduler")

	cut, err := client.GetCut(ctx)
	if err != nil {
		return err
	}

	var jobs []job
	for chainStr, tip := range cut.Hashes {
		chain, err := strconv.Atoi(chainStr)
		if err != nil {
			log.Error("cut hash key not a chain id", "key", chainStr, "err", err)
			continue
		}
		if opts.ChainFilter != nil && !opts.ChainFilter[chain] {
			continue
		}

		min, max, err := s.MinMaxBlock(ctx, chain)
		if err != nil {
			return err
		}

		tipHash := []model.BlockHash{{Height: tip.Height, Hash: tip.Hash}}
		if max == nil {
			jobs = append(jobs, job{chain: chain, bounds: model.Bounds{Lower: nil, Upper: tipHash}})
			continue
		}

		jobs = append(jobs, job{
			chain:  chain,
			bounds: model.Bounds{Lower: []model.BlockHash{{Height: max.Height, Hash: max.Hash}}, Upper: tipHash},
		})
		if min.Height > 0 {
			jobs = append(jobs, job{
				chain:  chain,
				bounds: model.Bounds{Lower: nil, Upper: []model.BlockHash{{Height: min.Height, Hash: min.Hash}}},
			})
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)

	for _, j := range jobs {
		j := j
		g.Go(func() error {
			if err := traversal.Traverse(gctx, client, s, j.chain, j.bounds, j.forceUpdate, opts.TraversalOpts); err != nil {
				log.Chain(j.chain).Error("traversal job failed", "err", err)
			}
			return nil
		})
	}
	return g.Wait()
}
