package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/unkn0wn-root/forumdb/zset"
)

// dropEmpty deletes the object rows of keys whose last member is gone, so
// Exists and Type report them absent.
func (s *Store) dropEmpty(ctx context.Context, tx *sql.Tx, keys []string) error {
	if _, err := s.txStmt(ctx, tx, shape{op: opDropEmpty}).ExecContext(ctx, jsonArg(keys)); err != nil {
		return fmt.Errorf("sqlstore: drop empty: %w", err)
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, key string, members ...string) error {
	if key == "" || len(members) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.txStmt(ctx, tx, shape{op: opRemoveMembers}).ExecContext(ctx, key, jsonArg(members)); err != nil {
			return fmt.Errorf("sqlstore: remove from %q: %w", key, err)
		}
		return s.dropEmpty(ctx, tx, []string{key})
	})
}

func (s *Store) RemoveFromSets(ctx context.Context, keys []string, member string) error {
	keys = uniq(keys)
	if len(keys) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.txStmt(ctx, tx, shape{op: opRemoveFromSets}).ExecContext(ctx, jsonArg(keys), member); err != nil {
			return fmt.Errorf("sqlstore: remove from sets: %w", err)
		}
		return s.dropEmpty(ctx, tx, keys)
	})
}

func (s *Store) RemoveBulk(ctx context.Context, pairs []zset.Pair) error {
	var valid []zset.Pair
	var keys []string
	for _, p := range pairs {
		if p.Key != "" {
			valid = append(valid, p)
			keys = append(keys, p.Key)
		}
	}
	if len(valid) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.txStmt(ctx, tx, shape{op: opRemovePairs}).ExecContext(ctx, pairsArg(valid)); err != nil {
			return fmt.Errorf("sqlstore: remove bulk: %w", err)
		}
		return s.dropEmpty(ctx, tx, uniq(keys))
	})
}

func (s *Store) RemoveRangeByScore(ctx context.Context, keys []string, min, max float64) error {
	keys = uniq(keys)
	if len(keys) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.txStmt(ctx, tx, shape{op: opRemoveByScore}).ExecContext(ctx, jsonArg(keys), bound(min), bound(max)); err != nil {
			return fmt.Errorf("sqlstore: remove by score: %w", err)
		}
		return s.dropEmpty(ctx, tx, keys)
	})
}

func (s *Store) RemoveRangeByLex(ctx context.Context, key, min, max string) error {
	if key == "" {
		return nil
	}
	q := parseLex(min, max)
	sh := q.shape(opLexRemove, zset.Asc)
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.txStmt(ctx, tx, sh).ExecContext(ctx, q.args(key)...); err != nil {
			return fmt.Errorf("sqlstore: %s: %w", sh, err)
		}
		return s.dropEmpty(ctx, tx, []string{key})
	})
}
