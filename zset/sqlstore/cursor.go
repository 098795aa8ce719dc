package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/unkn0wn-root/forumdb/hooks"
	"github.com/unkn0wn-root/forumdb/zset"
)

const defaultBatch = 100

// Cursor streams one set over a connection pinned for its whole life.
// It is not safe for concurrent use.
type Cursor struct {
	key     string
	batch   int
	conn    *sql.Conn
	rows    *sql.Rows
	hooks   hooks.Hooks
	opened  time.Time
	batches int
	done    bool
	err     error

	once     sync.Once
	closeErr error
}

var _ zset.Cursor = (*Cursor)(nil)

// Iterate opens a cursor over key in ascending (score, value) order. The
// caller must Close it; Process does so itself.
func (s *Store) Iterate(ctx context.Context, key string, opts zset.ProcessOptions) (zset.Cursor, error) {
	return s.iterate(ctx, key, opts)
}

func (s *Store) iterate(ctx context.Context, key string, opts zset.ProcessOptions) (*Cursor, error) {
	c := &Cursor{key: key, batch: opts.Batch, hooks: s.hooks, opened: time.Now()}
	if c.batch <= 0 {
		c.batch = defaultBatch
	}
	if key == "" {
		c.done = true
		return c, nil
	}
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: iterate %q: acquire: %w", key, err)
	}
	rows, err := conn.QueryContext(ctx, shape{op: opIterate}.sql(), key)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("sqlstore: iterate %q: %w", key, err)
	}
	c.conn, c.rows = conn, rows
	return c, nil
}

// Next returns up to the batch size of members, then io.EOF.
func (c *Cursor) Next(ctx context.Context) ([]zset.Member, error) {
	if c.done {
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		c.fail(err)
		return nil, err
	}
	out := make([]zset.Member, 0, c.batch)
	for len(out) < c.batch && c.rows.Next() {
		var m zset.Member
		if err := c.rows.Scan(&m.Value, &m.Score); err != nil {
			c.fail(err)
			return nil, fmt.Errorf("sqlstore: iterate %q: %w", c.key, err)
		}
		out = append(out, m)
	}
	if len(out) < c.batch {
		c.done = true
		if err := c.rows.Err(); err != nil {
			c.fail(err)
			return nil, fmt.Errorf("sqlstore: iterate %q: %w", c.key, err)
		}
	}
	if len(out) == 0 {
		return nil, io.EOF
	}
	c.batches++
	return out, nil
}

// fail records the error that ended the iteration, keeping the first.
func (c *Cursor) fail(err error) {
	if c.err == nil {
		c.err = err
	}
}

// Close gives the connection back to the pool.
func (c *Cursor) Close() error {
	c.once.Do(func() {
		c.done = true
		if c.rows != nil {
			c.closeErr = c.rows.Close()
		}
		if c.conn != nil {
			if err := c.conn.Close(); c.closeErr == nil {
				c.closeErr = err
			}
		}
		c.hooks.CursorReleased(c.key, c.batches, time.Since(c.opened), c.err)
	})
	return c.closeErr
}

// Process hands key's members to fn batch by batch. The connection is
// released when iteration ends for any reason: exhaustion, an error from
// fn, a cancelled context, or a panic in fn, which is re-raised.
//
// The cursor pins one pooled connection for the whole run. fn may call the
// store; the pool never drops below two connections so those calls have one.
func (s *Store) Process(ctx context.Context, key string, fn zset.BatchFunc, opts zset.ProcessOptions) error {
	if key == "" {
		return nil
	}
	c, err := s.iterate(ctx, key, opts)
	if err != nil {
		return err
	}
	handle := func(ctx context.Context, batch []zset.Member) error {
		defer func() {
			if r := recover(); r != nil {
				c.fail(fmt.Errorf("sqlstore: batch handler panic: %v", r))
				panic(r)
			}
		}()
		if err := fn(ctx, batch); err != nil {
			c.fail(err)
			return err
		}
		return nil
	}
	return zset.Drain(ctx, c, handle, opts.Interval)
}
