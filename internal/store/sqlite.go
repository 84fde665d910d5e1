package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	// Registers the pure-Go "sqlite" driver.
	_ "modernc.org/sqlite"

	"github.com/JakeFAU/mixtape-indexer/internal/chain"
	"github.com/JakeFAU/mixtape-indexer/internal/nft"
)

var validTableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// RecordStore opens per-contract SQLite record logs under a Layout.
type RecordStore struct {
	layout     Layout
	collection string
	clock      Clock
}

// NewRecordStore builds a RecordStore writing to the given collection table.
func NewRecordStore(layout Layout, collection string, clock Clock) (*RecordStore, error) {
	if collection == "" {
		collection = RecordCollection
	}
	if !validTableName.MatchString(collection) {
		return nil, fmt.Errorf("invalid collection name %q", collection)
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	return &RecordStore{layout: layout, collection: collection, clock: clock}, nil
}

// Exists reports whether the contract's folder is present.
func (s *RecordStore) Exists(ch chain.Chain, contract string) (bool, error) {
	return dirExists(s.layout.ContractDir(ch, contract))
}

// Open creates the contract folder if needed and opens its record log.
func (s *RecordStore) Open(ctx context.Context, ch chain.Chain, contract string) (nft.RecordLog, error) {
	return s.OpenDir(ctx, s.layout.ContractDir(ch, contract))
}

// OpenDir opens a record log stored in dir.
func (s *RecordStore) OpenDir(ctx context.Context, dir string) (*SQLiteLog, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}
	path := RecordDB(dir)
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		seq         INTEGER PRIMARY KEY AUTOINCREMENT,
		token_index INTEGER NOT NULL,
		document    TEXT    NOT NULL,
		written_at  TEXT    NOT NULL
	)`, s.collection)
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create %s in %s: %w", s.collection, path, err)
	}
	return &SQLiteLog{db: db, table: s.collection, path: path, clock: s.clock}, nil
}

// SQLiteLog is an append-only record collection in one SQLite file. Rows are
// never updated or deleted and carry no uniqueness constraint.
type SQLiteLog struct {
	db    *sql.DB
	table string
	path  string
	clock Clock
}

// Append inserts rec at the end of the log.
func (l *SQLiteLog) Append(ctx context.Context, rec nft.Record) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record %d: %w", rec.Index, err)
	}
	query := fmt.Sprintf("INSERT INTO %s (token_index, document, written_at) VALUES (?, ?, ?)", l.table)
	if _, err := l.db.ExecContext(ctx, query, rec.Index, string(doc), l.clock.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("append record %d to %s: %w", rec.Index, l.path, err)
	}
	return nil
}

// Records returns every row in insertion order.
func (l *SQLiteLog) Records(ctx context.Context) ([]nft.StoredRecord, error) {
	query := fmt.Sprintf("SELECT seq, document, written_at FROM %s ORDER BY seq", l.table)
	rows, err := l.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", l.path, err)
	}
	defer rows.Close()

	var out []nft.StoredRecord
	for rows.Next() {
		var (
			seq       int64
			doc       string
			writtenAt string
		)
		if err := rows.Scan(&seq, &doc, &writtenAt); err != nil {
			return nil, fmt.Errorf("scan %s: %w", l.path, err)
		}
		var rec nft.Record
		if err := json.Unmarshal([]byte(doc), &rec); err != nil {
			return nil, fmt.Errorf("row %d of %s: %w", seq, l.path, err)
		}
		ts, err := time.Parse(time.RFC3339Nano, writtenAt)
		if err != nil {
			return nil, fmt.Errorf("row %d of %s: %w", seq, l.path, err)
		}
		out = append(out, nft.StoredRecord{Seq: seq, Record: rec, WrittenAt: ts})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", l.path, err)
	}
	return out, nil
}

// Close releases the database handle.
func (l *SQLiteLog) Close() error {
	if err := l.db.Close(); err != nil {
		return fmt.Errorf("close %s: %w", l.path, err)
	}
	return nil
}

func dirExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	return info.IsDir(), nil
}
