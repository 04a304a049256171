// ABOUTME: Entrypoint for the formsync watcher CLI.
// ABOUTME: Joins a form session from a YAML config and prints the document as it changes.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/yaml.v3"

	"github.com/2389-research/formsync/collab"
	"github.com/2389-research/formsync/transport"
)

var version = "dev"

// fileConfig is the YAML config shape for the watcher.
type fileConfig struct {
	ServerURL string `yaml:"server_url"`
	FormID    string `yaml:"form_id"`
	AuthToken string `yaml:"auth_token"`
	DebugBind string `yaml:"debug_bind"`
}

func main() {
	var configPath string
	var showVersion bool

	fs := flag.NewFlagSet("formsync", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "formsync.yaml", "Path to YAML config file")
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}

	if showVersion {
		fmt.Printf("formsync %s\n", version)
		os.Exit(0)
	}

	os.Exit(run(configPath))
}

func run(configPath string) int {
	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nInterrupted, shutting down...")
		cancel()
	}()

	store := collab.New(cfg.ServerURL, collab.Options{
		AuthToken:         cfg.AuthToken,
		Debug:             cfg.DebugBind != "",
		TransportSettings: transport.DefaultSettings(),
	})
	defer store.Disconnect()

	snapshots, unsubscribe := store.Subscribe()
	defer unsubscribe()

	if err := store.Initialize(ctx, cfg.FormID); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	if cfg.DebugBind != "" {
		go serveDebug(ctx, cfg.DebugBind, store.DebugHandler())
	}

	fmt.Fprintf(os.Stderr, "watching form %s on %s\n", cfg.FormID, cfg.ServerURL)
	for {
		select {
		case snap, ok := <-snapshots:
			if !ok {
				return 0
			}
			printSnapshot(snap)
		case <-ctx.Done():
			return 0
		}
	}
}

func loadConfig(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.ServerURL == "" {
		return nil, fmt.Errorf("config %s: server_url is required", path)
	}
	if cfg.FormID == "" {
		return nil, fmt.Errorf("config %s: form_id is required", path)
	}
	return &cfg, nil
}

func serveDebug(ctx context.Context, bind string, handler http.Handler) {
	srv := &http.Server{Addr: bind, Handler: handler}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	fmt.Fprintf(os.Stderr, "debug endpoint on %s\n", bind)
	_ = srv.ListenAndServe()
}

// printSnapshot writes a one-line-per-page summary of the current document.
func printSnapshot(snap collab.Snapshot) {
	status := "connected"
	switch {
	case snap.Loading:
		status = "loading"
	case !snap.Connected:
		status = "offline"
	}
	fmt.Printf("[%s] pages=%d shuffle=%v theme=%s\n",
		status, len(snap.Pages), snap.ShuffleEnabled, snap.Layout[collab.LayoutTheme])
	for _, page := range snap.Pages {
		marker := " "
		if page.ID == snap.SelectedPageID {
			marker = "*"
		}
		fmt.Printf("  %s %q fields=%d\n", marker, page.Title, len(page.Fields))
	}
}
