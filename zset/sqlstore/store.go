// Package sqlstore implements the sorted-set contract on SQLite.
//
// Two tables hold the data: legacy_object records that a key exists and its
// type; legacy_zset holds (key, value, score) rows. Reads go through the
// legacy_object_live view, so expired keys and orphaned member rows are
// never visible. Multi-key operations pass their arguments as one JSON array
// expanded with json_each, which keeps every operation a single round trip
// and returns results in input order.
//
// Every statement the store runs is one of a closed set of shapes (see
// statements.go), all prepared at Open.
package sqlstore

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"math"

	"github.com/unkn0wn-root/forumdb/connection"
	"github.com/unkn0wn-root/forumdb/hooks"
	"github.com/unkn0wn-root/forumdb/log"
	"github.com/unkn0wn-root/forumdb/zset"
)

//go:embed schema.sql
var schemaSQL string

func init() {
	zset.Register(zset.BackendSQLite, func(ctx context.Context, cfg zset.Config) (zset.Store, error) {
		return Open(ctx, cfg)
	})
}

// Store is the SQLite backend. It is safe for concurrent use.
type Store struct {
	db     *sql.DB
	ownsDB bool
	st     *statements
	log    log.Logger
	hooks  hooks.Hooks
}

var _ zset.Store = (*Store)(nil)

// Options configure New.
type Options struct {
	Logger log.Logger
	Hooks  hooks.Hooks
	// CloseDB closes the pool on Close. Open sets it.
	CloseDB bool
}

// Open opens (creating if needed) the database at cfg.Path, applies the
// schema and prepares every statement.
func Open(ctx context.Context, cfg zset.Config) (*Store, error) {
	db, err := connection.OpenSQL(ctx, connection.SQLDescriptor{
		Path:         cfg.Path,
		BusyTimeout:  cfg.BusyTimeout,
		MaxOpenConns: cfg.MaxOpenConns,
	}, cfg.Logger)
	if err != nil {
		return nil, err
	}
	s, err := New(ctx, db, Options{Logger: cfg.Logger, Hooks: cfg.Hooks, CloseDB: true})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New runs on an existing pool. The pool should carry the settings of
// connection.SQLDescriptor.DSN (foreign keys and WAL in particular).
func New(ctx context.Context, db *sql.DB, opts Options) (*Store, error) {
	if err := Migrate(ctx, db); err != nil {
		return nil, err
	}
	st, err := prepare(ctx, db)
	if err != nil {
		return nil, err
	}
	return &Store{
		db:     db,
		ownsDB: opts.CloseDB,
		st:     st,
		log:    log.OrNop(opts.Logger),
		hooks:  hooks.OrNop(opts.Hooks),
	}, nil
}

// Migrate applies the schema. It is idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("sqlstore: apply schema: %w", err)
	}
	return nil
}

// DB exposes the pool for callers that share it.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error {
	err := s.st.close()
	if s.ownsDB {
		if cerr := s.db.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (s *Store) stmt(sh shape) *sql.Stmt { return s.st.get(sh) }

// inTx runs fn in one write transaction.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlstore: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlstore: commit: %w", err)
	}
	return nil
}

func (s *Store) txStmt(ctx context.Context, tx *sql.Tx, sh shape) *sql.Stmt {
	return tx.StmtContext(ctx, s.stmt(sh))
}

// jsonArg encodes v as the JSON text json_each expands.
func jsonArg(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		// only strings, numbers and slices of them are passed
		panic(fmt.Sprintf("sqlstore: encode argument: %v", err))
	}
	return string(b)
}

// pairs encodes (key, value) tuples as [[key, value], ...].
func pairsArg(ps []zset.Pair) string {
	arr := make([][2]string, len(ps))
	for i, p := range ps {
		arr[i] = [2]string{p.Key, p.Value}
	}
	return jsonArg(arr)
}

// bound binds an infinite score bound as NULL so one statement serves both
// bounded and unbounded queries.
func bound(f float64) any {
	if math.IsInf(f, 0) {
		return nil
	}
	return f
}

// limitArg maps a negative count to SQLite's unbounded LIMIT.
func limitArg(n int64) int64 {
	if n < 0 {
		return -1
	}
	return n
}

func nonEmpty(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k != "" {
			out = append(out, k)
		}
	}
	return out
}

func uniq(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, dup := seen[k]; dup || k == "" {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

func scanMembers(rows *sql.Rows) ([]zset.Member, error) {
	defer rows.Close()
	var out []zset.Member
	for rows.Next() {
		var m zset.Member
		if err := rows.Scan(&m.Value, &m.Score); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) queryMembers(ctx context.Context, sh shape, args ...any) ([]zset.Member, error) {
	rows, err := s.stmt(sh).QueryContext(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: %s: %w", sh, err)
	}
	ms, err := scanMembers(rows)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: %s: %w", sh, err)
	}
	return ms, nil
}

func (s *Store) queryInt(ctx context.Context, sh shape, args ...any) (int64, error) {
	var n int64
	if err := s.stmt(sh).QueryRowContext(ctx, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlstore: %s: %w", sh, err)
	}
	return n, nil
}

func reverse[T any](xs []T) {
	for i, j := 0, len(xs)-1; i < j; i, j = i+1, j-1 {
		xs[i], xs[j] = xs[j], xs[i]
	}
}
