package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/brojonat/solflow/service/clickhouse"
	"github.com/brojonat/solflow/service/db"
	"github.com/joho/godotenv"
)

// main applies the Postgres migrations and, when CLICKHOUSE_DSN is set,
// the ClickHouse warehouse schema. Both steps are idempotent.
func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	logger.Info("starting migrations")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	pool, err := db.NewPool(ctx, databaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	applied, err := db.Migrate(ctx, pool)
	if err != nil {
		logger.Error("postgres migration failed", "error", err)
		os.Exit(1)
	}
	logger.Info("postgres migrations complete", "applied", applied)

	dsn := os.Getenv("CLICKHOUSE_DSN")
	if dsn == "" {
		logger.Info("CLICKHOUSE_DSN not set, skipping warehouse schema")
		return
	}

	conn, err := clickhouse.NewConn(ctx, dsn)
	if err != nil {
		logger.Error("failed to connect to clickhouse", "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	if err := clickhouse.EnsureSchema(ctx, conn); err != nil {
		logger.Error("clickhouse schema failed", "error", err)
		os.Exit(1)
	}
	logger.Info("clickhouse schema ready")
}
