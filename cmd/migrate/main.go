package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/smilemakc/aidecore/internal/config"
	"github.com/smilemakc/aidecore/internal/infrastructure/storage"
	"github.com/smilemakc/aidecore/migrations"
)

var (
	command     string
	databaseURL string
)

func init() {
	flag.StringVar(&command, "command", "up", "Migration command: init, up, down, status, reset")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL database URL (overrides AIDE_DATABASE_URL env var)")
}

func main() {
	flag.Parse()

	// Load .env file if exists
	_ = godotenv.Load()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	dbURL := databaseURL
	if dbURL == "" {
		dbURL = os.Getenv("AIDE_DATABASE_URL")
	}
	if dbURL == "" {
		slog.Error("AIDE_DATABASE_URL is required")
		os.Exit(1)
	}

	db := storage.NewDB(config.DatabaseConfig{
		URL:            dbURL,
		MaxConnections: 5, // Lower for migrations
		MinConnections: 2,
	})
	defer db.Close()

	migrator, err := storage.NewMigrator(db, migrations.FS)
	if err != nil {
		slog.Error("failed to create migrator", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	switch command {
	case "init":
		err = migrator.Init(ctx)
	case "up":
		if err = migrator.Init(ctx); err == nil {
			err = migrator.Up(ctx)
		}
	case "down":
		err = migrator.Down(ctx)
	case "status":
		err = migrator.Status(ctx)
	case "reset":
		err = migrator.Reset(ctx)
	default:
		slog.Error("unknown command", "command", command)
		os.Exit(1)
	}

	if err != nil {
		slog.Error("migration failed", "command", command, "error", err)
		os.Exit(1)
	}
}
