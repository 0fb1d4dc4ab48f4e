// Package sqliteledger is a single-node, durable ledger.Client backed by
// SQLite.
//
// It plays the role of a local devnet: every submission becomes a new
// height, heights and blobs are append-only, and Head is the highest height
// ever assigned. It lets the CLI and tests exercise the store against a
// persistent log without a network.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: blobs must reference an existing height
package sqliteledger

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/blobdb/internal/ledger"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added (namespace, height) index on blobs
const currentSchemaVersion = 1

// DefaultMaxBlobSize mirrors the per-blob limit of public DA networks.
const DefaultMaxBlobSize = 2 << 20

// Ledger is a SQLite-backed ledger.
type Ledger struct {
	db          *sql.DB
	genesis     ledger.Height
	maxBlobSize int
}

var _ ledger.Client = (*Ledger)(nil)

// Option configures a Ledger.
type Option func(*Ledger)

// WithGenesis sets the head reported by an empty ledger.
// Heights assigned by Submit start one above it.
func WithGenesis(h ledger.Height) Option {
	return func(l *Ledger) {
		l.genesis = h
	}
}

// WithMaxBlobSize sets the largest blob Submit accepts.
func WithMaxBlobSize(n int) Option {
	return func(l *Ledger) {
		l.maxBlobSize = n
	}
}

// Open creates or opens a ledger database at the given path.
// Applies required pragmas and migrations automatically.
//
// This function is idempotent - safe to call multiple times.
func Open(path string, opts ...Option) (*Ledger, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	l := &Ledger{db: db, genesis: 1, maxBlobSize: DefaultMaxBlobSize}
	for _, opt := range opts {
		opt(l)
	}
	if l.genesis == 0 {
		l.genesis = 1
	}
	return l, nil
}

// Close closes the database connection.
func (l *Ledger) Close() error {
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Submit stores blobs as one batch at a new height, in a single transaction.
func (l *Ledger) Submit(ctx context.Context, ns ledger.Namespace, blobs [][]byte) (ledger.Height, error) {
	if len(blobs) == 0 {
		return 0, ledger.NewRejectedError(errors.New("empty batch"))
	}
	for i, b := range blobs {
		if len(b) > l.maxBlobSize {
			return 0, ledger.NewRejectedError(fmt.Errorf("blob %d is %d bytes, limit %d", i, len(b), l.maxBlobSize))
		}
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, ledger.NewTransportError("submit", fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback() // No-op if committed

	var last sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(height) FROM heights`).Scan(&last); err != nil {
		return 0, ledger.NewTransportError("submit", fmt.Errorf("select head: %w", err))
	}
	next := l.genesis + 1
	if last.Valid && ledger.Height(last.Int64) >= next {
		next = ledger.Height(last.Int64) + 1
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO heights (height, included_at) VALUES (?, ?)
	`, int64(next), time.Now().UnixMilli()); err != nil {
		return 0, ledger.NewTransportError("submit", fmt.Errorf("insert height: %w", err))
	}

	nsKey := ns.Hex()
	for i, b := range blobs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO blobs (height, idx, namespace, data) VALUES (?, ?, ?, ?)
		`, int64(next), i, nsKey, b); err != nil {
			return 0, ledger.NewTransportError("submit", fmt.Errorf("insert blob %d: %w", i, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, ledger.NewTransportError("submit", fmt.Errorf("commit: %w", err))
	}
	return next, nil
}

// GetAll returns the blobs stored for ns at h in submission order.
func (l *Ledger) GetAll(ctx context.Context, h ledger.Height, ns ledger.Namespace) ([][]byte, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT data FROM blobs
		WHERE height = ? AND namespace = ?
		ORDER BY idx ASC
	`, int64(h), ns.Hex())
	if err != nil {
		return nil, ledger.NewFetchError(h, fmt.Errorf("query blobs: %w", err))
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, ledger.NewFetchError(h, fmt.Errorf("scan blob: %w", err))
		}
		out = append(out, data)
	}
	if err := rows.Err(); err != nil {
		return nil, ledger.NewFetchError(h, fmt.Errorf("iterate blobs: %w", err))
	}
	return out, nil
}

// Head returns the highest assigned height, or the genesis height when the
// ledger is empty.
func (l *Ledger) Head(ctx context.Context) (ledger.Height, error) {
	var last sql.NullInt64
	if err := l.db.QueryRowContext(ctx, `SELECT MAX(height) FROM heights`).Scan(&last); err != nil {
		return 0, ledger.NewTransportError("head", err)
	}
	if !last.Valid || ledger.Height(last.Int64) < l.genesis {
		return l.genesis, nil
	}
	return ledger.Height(last.Int64), nil
}

// Advance appends n empty heights, as if other namespaces had traffic.
func (l *Ledger) Advance(ctx context.Context, n uint64) (ledger.Height, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("advance: begin tx: %w", err)
	}
	defer tx.Rollback()

	var last sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(height) FROM heights`).Scan(&last); err != nil {
		return 0, fmt.Errorf("advance: select head: %w", err)
	}
	h := l.genesis
	if last.Valid && ledger.Height(last.Int64) > h {
		h = ledger.Height(last.Int64)
	}
	now := time.Now().UnixMilli()
	for i := uint64(0); i < n; i++ {
		h++
		if _, err := tx.ExecContext(ctx, `INSERT INTO heights (height, included_at) VALUES (?, ?)`, int64(h), now); err != nil {
			return 0, fmt.Errorf("advance: insert height: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("advance: commit: %w", err)
	}
	return h, nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 adds the lookup index used by GetAll.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_blobs_namespace_height
		ON blobs(namespace, height)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (l *Ledger) verifyPragma(name, expected string) error {
	var value string
	if err := l.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
