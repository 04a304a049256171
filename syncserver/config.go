// ABOUTME: Server configuration loaded from FORMSYNC_* environment variables.
// ABOUTME: Enforces security constraint: remote access requires auth token.
package syncserver

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
)

// Configuration validation errors.
var (
	ErrRemoteWithoutToken = errors.New(
		"FORMSYNC_ALLOW_REMOTE is true but FORMSYNC_AUTH_TOKEN is not set; refusing to start without authentication",
	)
	ErrNonLoopbackBind = errors.New(
		"FORMSYNC_BIND is a non-loopback address but FORMSYNC_ALLOW_REMOTE is not true; set FORMSYNC_ALLOW_REMOTE=true and FORMSYNC_AUTH_TOKEN to allow remote access",
	)
)

// Config holds sync server configuration loaded from environment variables.
type Config struct {
	Home        string // Data directory (FORMSYNC_HOME, default: ~/.formsyncd)
	Bind        string // Socket address (FORMSYNC_BIND, default: 127.0.0.1:7780)
	AllowRemote bool   // Allow non-loopback connections (FORMSYNC_ALLOW_REMOTE, default: false)
	AuthToken   string // Bearer token for connection auth (FORMSYNC_AUTH_TOKEN, optional)
}

// ConfigFromEnv loads configuration from FORMSYNC_* environment variables with
// sensible defaults.
func ConfigFromEnv() (*Config, error) {
	home := os.Getenv("FORMSYNC_HOME")
	if home == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			homeDir = "/tmp"
		}
		home = filepath.Join(homeDir, ".formsyncd")
	}

	bind := os.Getenv("FORMSYNC_BIND")
	if bind == "" {
		bind = "127.0.0.1:7780"
	}

	allowRemote := false
	if v := os.Getenv("FORMSYNC_ALLOW_REMOTE"); v == "true" || v == "1" || v == "yes" {
		allowRemote = true
	}

	authToken := os.Getenv("FORMSYNC_AUTH_TOKEN")

	// Security: remote access requires auth token
	if allowRemote && authToken == "" {
		return nil, ErrRemoteWithoutToken
	}

	// Security: refuse non-loopback binds unless explicitly opting into remote
	// access. Only 127.0.0.0/8, ::1, and "localhost" are considered safe.
	if !allowRemote {
		if host, _, err := net.SplitHostPort(bind); err == nil && host != "" {
			ip := net.ParseIP(host)
			switch {
			case ip != nil && ip.IsLoopback():
			case host == "localhost":
			default:
				return nil, fmt.Errorf("%w: FORMSYNC_BIND=%s", ErrNonLoopbackBind, bind)
			}
		}
	}

	return &Config{
		Home:        home,
		Bind:        bind,
		AllowRemote: allowRemote,
		AuthToken:   authToken,
	}, nil
}
