// Command cwapi serves the read-only HTTP API (C11) over the indexer's
// store: transaction lookup, transfer search, balance queries, and a
// cut-synchronization health check.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/chainweb-tools/cwindex/internal/api"
	"github.com/chainweb-tools/cwindex/internal/chainweb"
	"github.com/chainweb-tools/cwindex/internal/config"
	"github.com/chainweb-tools/cwindex/internal/store"
	"github.com/chainweb-tools/cwindex/pkg/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logLevel := flag.String("log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	port := flag.Int("port", cfg.APIPort, "HTTP listen port")
	flag.Parse()

	log := logging.New(&logging.Config{Level: *logLevel})
	logging.SetDefault(log)

	s, err := store.New(store.Config{DatabaseURL: cfg.DatabaseURL})
	if err != nil {
		log.Fatal("open store", "err", err)
	}
	client := chainweb.New(chainweb.Config{BaseURL: cfg.NodeURL})

	srv := api.New(s, client)
	httpServer := &http.Server{
		Addr:         ":" + strconv.Itoa(*port),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown", "err", err)
		}
	}()

	log.Info("listening", "port", *port)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("serve", "err", err)
	}
	log.Info("goodbye")
}
