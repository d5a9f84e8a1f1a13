package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariavoice/aria/internal/config"
	"github.com/ariavoice/aria/shared/db"
	"github.com/ariavoice/aria/shared/llm"
)

// Version information (set via ldflags)
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

// Shared across subcommands, populated by the root PersistentPreRunE.
var (
	cfg         *config.Config
	llmClient   *llm.Client
	embedClient *llm.Client
)

// initDB opens a small connection pool for one-shot CLI commands.
func initDB(ctx context.Context) (*pgxpool.Pool, error) {
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("PostgreSQL connection required. Set DB_URL")
	}

	pool, err := db.Connect(ctx, db.Config{
		URL:      cfg.Database.URL,
		MinConns: 2,
		MaxConns: 5,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return pool, nil
}

// maskSecret masks a secret string for display
func maskSecret(s string) string {
	if s == "" {
		return "(not set)"
	}
	if len(s) <= 8 {
		return "(set)"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

// boolStatus returns a status string for a boolean
func boolStatus(b bool) string {
	if b {
		return "configured"
	}
	return "not configured"
}
