package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Exists reports whether key is live: present, unexpired and non-empty.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	t, err := s.Type(ctx, key)
	return t != "", err
}

// Type returns the type of a live key, or "" when it does not exist.
func (s *Store) Type(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", nil
	}
	var t string
	err := s.stmt(shape{op: opKeyType}).QueryRowContext(ctx, key).Scan(&t)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("sqlstore: type of %q: %w", key, err)
	}
	return t, nil
}

// Delete removes keys and all their members.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	keys = uniq(keys)
	if len(keys) == 0 {
		return nil
	}
	arg := jsonArg(keys)
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.txStmt(ctx, tx, shape{op: opDeleteMembers}).ExecContext(ctx, arg); err != nil {
			return fmt.Errorf("sqlstore: delete members: %w", err)
		}
		if _, err := s.txStmt(ctx, tx, shape{op: opDeleteObjects}).ExecContext(ctx, arg); err != nil {
			return fmt.Errorf("sqlstore: delete objects: %w", err)
		}
		return nil
	})
}

// Expire makes a live key expire after ttl, at millisecond resolution.
// A non-positive ttl deletes the key.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if key == "" {
		return nil
	}
	if ttl <= 0 {
		return s.Delete(ctx, key)
	}
	if _, err := s.stmt(shape{op: opKeyExpire}).ExecContext(ctx, key, ttl.Milliseconds()); err != nil {
		return fmt.Errorf("sqlstore: expire %q: %w", key, err)
	}
	return nil
}

// TTL returns the time left before key expires. ok is false when the key
// is missing or has no expiry.
func (s *Store) TTL(ctx context.Context, key string) (time.Duration, bool, error) {
	if key == "" {
		return 0, false, nil
	}
	var ms sql.NullInt64
	err := s.stmt(shape{op: opKeyTTL}).QueryRowContext(ctx, key).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !ms.Valid) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("sqlstore: ttl of %q: %w", key, err)
	}
	return time.Duration(ms.Int64) * time.Millisecond, true, nil
}
