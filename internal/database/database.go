package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/therealutkarshpriyadarshi/verticut/internal/config"
)

// DB wraps the database connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// New creates a new database connection
func New(cfg config.DatabaseConfig) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	// Set connection pool settings
	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Ping the database to verify connection
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}

// activeExportIndex is the partial unique index enforcing a single active export
const activeExportIndex = "export_jobs_one_active"

const schema = `
CREATE TABLE IF NOT EXISTS export_jobs (
	id                   UUID PRIMARY KEY,
	status               TEXT NOT NULL,
	progress_pct         DOUBLE PRECISION NOT NULL DEFAULT 0,
	used_caption_burn_in BOOLEAN NOT NULL DEFAULT FALSE,
	error_msg            TEXT NOT NULL DEFAULT '',
	worker_id            TEXT NOT NULL DEFAULT '',
	output_key           TEXT NOT NULL DEFAULT '',
	output_filename      TEXT NOT NULL DEFAULT '',
	notes                JSONB NOT NULL DEFAULT '[]',
	request              JSONB NOT NULL,
	started_at           TIMESTAMPTZ,
	completed_at         TIMESTAMPTZ,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_export_jobs_status ON export_jobs (status);
CREATE INDEX IF NOT EXISTS idx_export_jobs_created_at ON export_jobs (created_at DESC);

-- at most one export may be queued or running
CREATE UNIQUE INDEX IF NOT EXISTS ` + activeExportIndex + ` ON export_jobs ((true))
	WHERE status IN ('queued', 'running');

CREATE TABLE IF NOT EXISTS webhook_deliveries (
	id            UUID PRIMARY KEY,
	event         TEXT NOT NULL,
	payload       JSONB NOT NULL,
	status        TEXT NOT NULL,
	status_code   INTEGER NOT NULL DEFAULT 0,
	response_body TEXT NOT NULL DEFAULT '',
	attempts      INTEGER NOT NULL DEFAULT 0,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	completed_at  TIMESTAMPTZ
);
`

// EnsureSchema creates the tables the service needs when they are missing
func (db *DB) EnsureSchema(ctx context.Context) error {
	if _, err := db.Pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// Health checks if the database is healthy
func (db *DB) Health(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}
