// Command cwindexd runs the chainweb indexer: the live stream consumer by
// default, or one of the backfill/derivation subcommands.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/chainweb-tools/cwindex/internal/backfill"
	"github.com/chainweb-tools/cwindex/internal/chainweb"
	"github.com/chainweb-tools/cwindex/internal/config"
	"github.com/chainweb-tools/cwindex/internal/gaps"
	"github.com/chainweb-tools/cwindex/internal/marmalade"
	"github.com/chainweb-tools/cwindex/internal/scheduler"
	"github.com/chainweb-tools/cwindex/internal/store"
	"github.com/chainweb-tools/cwindex/internal/stream"
	"github.com/chainweb-tools/cwindex/internal/traversal"
	"github.com/chainweb-tools/cwindex/pkg/logging"
)

// numChains is the network's chain count; chains 0-9 genesis at height 0,
// chains 10-19 at a later common-blocksite height (spec design note).
const numChains = 20

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	subcommand := "stream"
	if len(os.Args) > 1 && !strings.HasPrefix(os.Args[1], "-") {
		subcommand = os.Args[1]
		os.Args = append(os.Args[:1], os.Args[2:]...)
	}

	fs := flag.NewFlagSet(subcommand, flag.ContinueOnError)
	chainID := fs.Int("chain-id", -1, "Restrict to a single chain id (default: all chains)")
	minHeight := fs.Int64("min-height", -1, "Starting height for transfers (walks down from it), balances and marmalade (walk up from it); default: transfers start at the highest persisted event height, balances and marmalade at 0")
	concurrency := fs.Int("concurrency", cfg.Concurrency, "Bounded worker concurrency")
	batchSize := fs.Int64("batch-size", 5000, "Height window size for derivation backfills")
	logLevel := fs.String("log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(1)
	}

	log := logging.New(&logging.Config{Level: *logLevel})
	logging.SetDefault(log)

	s, err := store.New(store.Config{DatabaseURL: cfg.DatabaseURL})
	if err != nil {
		log.Fatal("open store", "err", err)
	}
	client := chainweb.New(chainweb.Config{BaseURL: cfg.NodeURL})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	chains := chainList(*chainID)
	var startHeight *int64
	if *minHeight >= 0 {
		startHeight = minHeight
	}

	log.Info("starting", "subcommand", subcommand, "chains", chains)

	switch subcommand {
	case "stream":
		err = stream.Consume(ctx, client, s, stream.Options{})
	case "backfill":
		err = scheduler.RunOnce(ctx, client, s, scheduler.RunOptions{
			Concurrency:   *concurrency,
			ChainFilter:   chainFilterFor(*chainID),
			TraversalOpts: traversal.Options{PageSize: cfg.PageSize, PollChunkSize: cfg.PollChunkSize, PollConcurrency: cfg.PollConcurrency},
		})
	case "gaps":
		err = gaps.RunOnce(ctx, client, s, chains, *concurrency)
	case "transfers":
		err = runPerChain(chains, func(c int) error {
			return backfill.BackfillChainTransfers(ctx, s, c, *batchSize, startHeight)
		})
	case "balances":
		err = runPerChain(chains, func(c int) error {
			return backfill.CalculateChainBalances(ctx, s, c, *batchSize, startHeight)
		})
	case "marmalade":
		err = runPerChain(chains, func(c int) error {
			return marmalade.BackfillChainTokens(ctx, s, c, *batchSize, startHeight)
		})
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q (want stream, backfill, gaps, transfers, balances, marmalade)\n", subcommand)
		os.Exit(1)
	}

	if err != nil {
		log.Error("run failed", "subcommand", subcommand, "err", err)
		os.Exit(2)
	}
	log.Info("done", "subcommand", subcommand)
}

func chainList(only int) []int {
	if only >= 0 {
		return []int{only}
	}
	chains := make([]int, numChains)
	for i := range chains {
		chains[i] = i
	}
	return chains
}

func chainFilterFor(only int) map[int]bool {
	if only < 0 {
		return nil
	}
	return map[int]bool{only: true}
}

func runPerChain(chains []int, fn func(int) error) error {
	log := logging.Default().Component("cwindexd")
	var firstErr error
	for _, c := range chains {
		if err := fn(c); err != nil {
			log.Chain(c).Error("chain backfill failed", "err", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
