package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/flamehq/flame-node-sdk/common/config"
	"github.com/flamehq/flame-node-sdk/common/logger"
)

// DB wraps pgxpool for the optional audit sink (§4.7): streamed progress
// log records are mirrored here for post-mortem debugging. Strictly
// additive — the SDK never reads this back, so its absence changes nothing
// about correctness.
type DB struct {
	*pgxpool.Pool
	log *logger.Logger
}

// New creates a new database connection pool. Only called when
// Config.Database.Host is non-empty.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	// Configure connection pool
	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = cfg.Database.MaxLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.MaxIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	// Test connection
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log.Info("database connected", "host", cfg.Database.Host, "db", cfg.Database.Database)

	return &DB{
		Pool: pool,
		log:  log,
	}, nil
}

// Close closes the database connection pool
func (db *DB) Close() {
	db.log.Info("closing database connection pool")
	db.Pool.Close()
}

// Health checks database health
func (db *DB) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return db.Pool.Ping(ctx)
}

// InsertLogRecord mirrors a streamed progress record into the audit table.
// Failures here are logged and swallowed: the observability stream to the
// hub is authoritative, this table is a convenience.
func (db *DB) InsertLogRecord(ctx context.Context, nodeID string, rec logger.Record) {
	_, err := db.Pool.Exec(ctx,
		`INSERT INTO node_log_records (node_id, message, log_type, run_status, progress_percent, logged_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		nodeID, rec.Message, string(rec.LogType), string(rec.RunStatus), rec.ProgressPercent, rec.Timestamp,
	)
	if err != nil {
		db.log.Warn("audit sink insert failed", "error", err)
	}
}
