// Package postgres mirrors persisted token metadata into a Postgres table so
// collections can be queried without walking the per-contract record logs.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/mixtape-indexer/internal/chain"
	"github.com/JakeFAU/mixtape-indexer/internal/nft"
)

type execCloser interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
	Close()
}

var validTableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Hasher fingerprints the mirrored document.
type Hasher interface {
	HashJSON(v any) (string, error)
}

// MetadataStoreConfig configures the connection pool and target table.
type MetadataStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// MetadataStore upserts token metadata rows.
type MetadataStore struct {
	pool   execCloser
	table  string
	hasher Hasher
	now    func() time.Time
}

// NewMetadataStore connects to Postgres and returns a store writing to cfg.Table.
func NewMetadataStore(ctx context.Context, cfg MetadataStoreConfig, hasher Hasher) (*MetadataStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	if err := checkTable(cfg.Table); err != nil {
		return nil, err
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

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewMetadataStoreWithPool(pool, cfg.Table, hasher)
}

// NewMetadataStoreWithPool wraps an existing pool or mock.
func NewMetadataStoreWithPool(pool execCloser, table string, hasher Hasher) (*MetadataStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if hasher == nil {
		return nil, fmt.Errorf("hasher is required")
	}
	if err := checkTable(table); err != nil {
		return nil, err
	}
	return &MetadataStore{
		pool:   pool,
		table:  table,
		hasher: hasher,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

func checkTable(table string) error {
	if strings.TrimSpace(table) == "" {
		return fmt.Errorf("table name is required")
	}
	if !validTableName.MatchString(table) {
		return fmt.Errorf("invalid table name %q", table)
	}
	return nil
}

// EnsureSchema creates the mirror table when it is missing.
func (s *MetadataStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		chain        TEXT        NOT NULL,
		contract     TEXT        NOT NULL,
		token_index  BIGINT      NOT NULL,
		document     JSONB       NOT NULL,
		content_hash TEXT        NOT NULL,
		written_at   TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (chain, contract, token_index)
	)`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// Mirror upserts rec. Rows whose content hash is unchanged keep their
// original written_at.
func (s *MetadataStore) Mirror(ctx context.Context, ch chain.Chain, contract string, rec nft.Record) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode token %d: %w", rec.Index, err)
	}
	sum, err := s.hasher.HashJSON(rec)
	if err != nil {
		return fmt.Errorf("hash token %d: %w", rec.Index, err)
	}

	query := fmt.Sprintf(`INSERT INTO %s (chain, contract, token_index, document, content_hash, written_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (chain, contract, token_index) DO UPDATE
SET document = EXCLUDED.document, content_hash = EXCLUDED.content_hash, written_at = EXCLUDED.written_at
WHERE %s.content_hash <> EXCLUDED.content_hash`, s.table, s.table)

	if _, err := s.pool.Exec(ctx, query,
		ch.Name,
		strings.ToLower(contract),
		rec.Index,
		doc,
		sum,
		s.now(),
	); err != nil {
		return fmt.Errorf("mirror %s/%s token %d: %w", ch.Name, contract, rec.Index, err)
	}
	return nil
}

// Ping checks that the database is reachable.
func (s *MetadataStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the underlying pool.
func (s *MetadataStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}
