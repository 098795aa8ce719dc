package connection

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/unkn0wn-root/forumdb/log"
)

// minOpenConns leaves one connection free while a cursor holds another.
const minOpenConns = 2

// SQLDescriptor holds the parameters of the relational pool.
type SQLDescriptor struct {
	// Path is the database file. Avoid ":memory:": each pooled connection
	// would see its own empty database.
	Path string

	BusyTimeout  time.Duration // 0 => 5s
	MaxIdleConns int           // 0 => 2
	// MaxOpenConns 0 => 8. Values below 2 are raised to 2: a streaming
	// cursor pins one connection and its handler needs another.
	MaxOpenConns int
}

// DSN renders the go-sqlite3 data source name. Every pooled connection gets
// the same settings:
//
//   - WAL journal so a streaming reader never blocks writers
//   - busy timeout for writer contention
//   - foreign keys on (member rows cascade with their object row)
//   - BEGIN IMMEDIATE for write transactions
func (d SQLDescriptor) DSN() string {
	busy := d.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	q := url.Values{}
	q.Set("_journal_mode", "WAL")
	q.Set("_synchronous", "NORMAL")
	q.Set("_busy_timeout", strconv.FormatInt(busy.Milliseconds(), 10))
	q.Set("_foreign_keys", "1")
	q.Set("_txlock", "immediate")
	return "file:" + d.Path + "?" + q.Encode()
}

// OpenSQL opens the pool and pings it. On failure the pool is closed, the
// error is logged, and a wrapped error is returned.
func OpenSQL(ctx context.Context, d SQLDescriptor, l log.Logger) (*sql.DB, error) {
	l = log.OrNop(l)
	if d.Path == "" {
		return nil, fmt.Errorf("connection: sqlite path is empty")
	}
	db, err := sql.Open("sqlite3", d.DSN())
	if err != nil {
		l.Error("sqlite open failed", log.Fields{"path": d.Path, "err": err})
		return nil, fmt.Errorf("connection: sqlite open: %w", err)
	}
	maxOpen := d.MaxOpenConns
	switch {
	case maxOpen <= 0:
		maxOpen = 8
	case maxOpen < minOpenConns:
		maxOpen = minOpenConns
	}
	maxIdle := d.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 2
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		l.Error("sqlite open failed", log.Fields{"path": d.Path, "err": err})
		return nil, fmt.Errorf("connection: sqlite ping: %w", err)
	}
	l.Debug("sqlite pool ready", log.Fields{"path": d.Path, "max_open": maxOpen})
	return db, nil
}
