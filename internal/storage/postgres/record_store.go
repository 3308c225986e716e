// Package postgres mirrors harvested records into a Postgres table.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/feedharvest/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// DefaultTable is used when no table name is configured.
const DefaultTable = "harvested_records"

// RecordStoreConfig controls the Postgres connection pool.
type RecordStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// RecordStore is a checkpoint sink that inserts every record its run has
// not stored before. Rows are keyed by (run_id, identity_key) and never
// updated.
type RecordStore struct {
	pool   pool
	table  string
	logger *zap.Logger
}

// NewRecordStore connects a pool using cfg.
func NewRecordStore(ctx context.Context, cfg RecordStoreConfig, logger *zap.Logger) (*RecordStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewRecordStoreWithPool(p, cfg.Table, logger)
	if err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewRecordStoreWithPool constructs a store from an existing pool.
func NewRecordStoreWithPool(p pool, table string, logger *zap.Logger) (*RecordStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecordStore{pool: p, table: table, logger: logger}, nil
}

// Name labels the sink in logs and metrics.
func (s *RecordStore) Name() string {
	return "postgres"
}

// EnsureSchema creates the records table when it does not exist.
func (s *RecordStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	identity_key text NOT NULL,
	run_id text NOT NULL,
	text text NOT NULL,
	permalink text,
	source_timestamp text,
	collected_at timestamptz NOT NULL,
	is_expanded boolean NOT NULL,
	text_length integer NOT NULL,
	checkpoint text NOT NULL,
	PRIMARY KEY (run_id, identity_key)
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Save inserts the checkpoint's records in one transaction. Keys the same
// run already stored keep their first row.
func (s *RecordStore) Save(ctx context.Context, cp crawler.Checkpoint) (string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin: %w", err)
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	identity_key,
	run_id,
	text,
	permalink,
	source_timestamp,
	collected_at,
	is_expanded,
	text_length,
	checkpoint
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9
)
ON CONFLICT (run_id, identity_key) DO NOTHING`, s.table)

	var inserted int64
	for _, rec := range cp.Records {
		tag, err := tx.Exec(ctx, query,
			rec.IdentityKey,
			cp.RunID,
			rec.Text,
			rec.Permalink,
			rec.Timestamp,
			rec.CollectedAt,
			rec.IsExpanded,
			rec.TextLength,
			cp.Name,
		)
		if err != nil {
			_ = tx.Rollback(ctx)
			return "", fmt.Errorf("insert record %s: %w", rec.IdentityKey, err)
		}
		inserted += tag.RowsAffected()
	}
	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	s.logger.Debug("records mirrored",
		zap.String("checkpoint", cp.Name),
		zap.Int("records", len(cp.Records)),
		zap.Int64("inserted", inserted),
	)
	return fmt.Sprintf("postgres:///%s?checkpoint=%s", s.table, cp.Name), nil
}

// Close releases the underlying pool resources.
func (s *RecordStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}
