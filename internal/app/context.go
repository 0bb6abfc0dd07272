package app

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"growboard/internal/config"
	"growboard/internal/db"
	"growboard/internal/engine"
	"growboard/internal/migrate"
	"growboard/internal/repo"
)

// Open wires the database, migrations, config, and engine for a workspace.
// A missing config file falls back to defaults, and the config's seed admin
// list is synced into the admins table so the capability check has one
// source of truth at runtime.
func Open(ctx context.Context, workspace string) (*engine.Engine, *sql.DB, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("run migrations: %w", err)
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	eng := engine.New(conn, cfg)
	if err := seedAdmins(ctx, eng.Repo, cfg); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("seed admins: %w", err)
	}
	return eng, conn, nil
}

// InitWorkspace writes the default config file if absent.
func InitWorkspace(workspace string) (string, error) {
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return "", err
	}
	path := config.Path(workspace)
	if _, err := os.Stat(path); err == nil {
		return path, fmt.Errorf("config %s already exists", path)
	}
	if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func seedAdmins(ctx context.Context, r repo.Repo, cfg *config.Config) error {
	now := time.Now().UTC().Format(time.RFC3339)
	for _, actorID := range cfg.Admins {
		if err := r.GrantAdmin(ctx, nil, actorID, "config", now); err != nil {
			return err
		}
	}
	return nil
}
