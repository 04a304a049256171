// ABOUTME: Entrypoint for the formsyncd sync server.
// ABOUTME: Loads FORMSYNC_* config, opens the update log, and serves the sync endpoint.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/2389-research/formsync/syncserver"
)

var version = "dev"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		fmt.Printf("formsyncd %s\n", version)
		os.Exit(0)
	}
	os.Exit(run())
}

func run() int {
	cfg, err := syncserver.ConfigFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	if err := os.MkdirAll(cfg.Home, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "error: create data dir: %v\n", err)
		return 1
	}

	updateLog, err := syncserver.OpenUpdateLog(filepath.Join(cfg.Home, "updates.db"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() { _ = updateLog.Close() }()

	hub := syncserver.NewHub(updateLog)
	server := syncserver.NewServer(cfg, hub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nInterrupted, shutting down...")
		cancel()
	}()

	httpServer := &http.Server{
		Addr:    cfg.Bind,
		Handler: server.Handler(),
	}

	go func() {
		<-ctx.Done()
		_ = httpServer.Close()
	}()

	fmt.Fprintf(os.Stderr, "listening on %s\n", cfg.Bind)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}
