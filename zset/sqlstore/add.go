package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/unkn0wn-root/forumdb/zset"
)

// ensureZSet makes key a live zset object inside tx: an expired object is
// purged first, a missing one created, one of another type rejected.
func (s *Store) ensureZSet(ctx context.Context, tx *sql.Tx, key string) error {
	if _, err := s.txStmt(ctx, tx, shape{op: opPurgeExpired}).ExecContext(ctx, key); err != nil {
		return fmt.Errorf("sqlstore: purge expired %q: %w", key, err)
	}
	if _, err := s.txStmt(ctx, tx, shape{op: opEnsureObject}).ExecContext(ctx, key); err != nil {
		return fmt.Errorf("sqlstore: ensure %q: %w", key, err)
	}
	var typ string
	if err := s.txStmt(ctx, tx, shape{op: opObjectType}).QueryRowContext(ctx, key).Scan(&typ); err != nil {
		return fmt.Errorf("sqlstore: type of %q: %w", key, err)
	}
	if typ != "zset" {
		return &WrongTypeError{Key: key, Type: typ}
	}
	return nil
}

func checkScore(f float64) error {
	if math.IsNaN(f) {
		return fmt.Errorf("%w: NaN", ErrInvalidScore)
	}
	return nil
}

// checkText rejects a key or member the read path could not match.
func checkText(key, member string) error {
	if !utf8.ValidString(key) {
		return fmt.Errorf("%w: key %q", ErrInvalidMember, key)
	}
	if !utf8.ValidString(member) {
		return fmt.Errorf("%w: member %q of %q", ErrInvalidMember, member, key)
	}
	return nil
}

func (s *Store) Add(ctx context.Context, key string, score float64, member string) error {
	if key == "" {
		return nil
	}
	return s.AddMany(ctx, key, []zset.Member{{Value: member, Score: score}})
}

// AddMany upserts every member of one set in a single transaction.
func (s *Store) AddMany(ctx context.Context, key string, members []zset.Member) error {
	if key == "" || len(members) == 0 {
		return nil
	}
	for _, m := range members {
		if err := checkScore(m.Score); err != nil {
			return err
		}
		if err := checkText(key, m.Value); err != nil {
			return err
		}
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.ensureZSet(ctx, tx, key); err != nil {
			return err
		}
		up := s.txStmt(ctx, tx, shape{op: opUpsert})
		for _, m := range members {
			if _, err := up.ExecContext(ctx, key, m.Value, m.Score); err != nil {
				return fmt.Errorf("sqlstore: add %q: %w", key, err)
			}
		}
		return nil
	})
}

// AddToSets adds one member with one score to several sets.
func (s *Store) AddToSets(ctx context.Context, keys []string, score float64, member string) error {
	keys = uniq(keys)
	if len(keys) == 0 {
		return nil
	}
	if err := checkScore(score); err != nil {
		return err
	}
	items := make([]zset.Item, len(keys))
	for i, k := range keys {
		items[i] = zset.Item{Key: k, Value: member, Score: score}
	}
	return s.AddBulk(ctx, items)
}

// AddBulk upserts (key, value, score) items across any number of sets.
func (s *Store) AddBulk(ctx context.Context, items []zset.Item) error {
	var valid []zset.Item
	for _, it := range items {
		if it.Key == "" {
			continue
		}
		if err := checkScore(it.Score); err != nil {
			return err
		}
		if err := checkText(it.Key, it.Value); err != nil {
			return err
		}
		valid = append(valid, it)
	}
	if len(valid) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		ensured := map[string]bool{}
		up := s.txStmt(ctx, tx, shape{op: opUpsert})
		for _, it := range valid {
			if !ensured[it.Key] {
				if err := s.ensureZSet(ctx, tx, it.Key); err != nil {
					return err
				}
				ensured[it.Key] = true
			}
			if _, err := up.ExecContext(ctx, it.Key, it.Value, it.Score); err != nil {
				return fmt.Errorf("sqlstore: add %q: %w", it.Key, err)
			}
		}
		return nil
	})
}

// IncrBy adds increment to member's score, creating it at increment, and
// returns the new score. The read-modify-write is one statement.
func (s *Store) IncrBy(ctx context.Context, key string, increment float64, member string) (float64, error) {
	if key == "" {
		return 0, nil
	}
	out, err := s.IncrByBulk(ctx, []zset.Item{{Key: key, Value: member, Score: increment}})
	if err != nil {
		return 0, err
	}
	return out[0], nil
}

// IncrByBulk applies each item's Score as an increment and returns the new
// scores in input order.
func (s *Store) IncrByBulk(ctx context.Context, items []zset.Item) ([]float64, error) {
	if len(items) == 0 {
		return nil, nil
	}
	for _, it := range items {
		if err := checkScore(it.Score); err != nil {
			return nil, err
		}
		if err := checkText(it.Key, it.Value); err != nil {
			return nil, err
		}
	}
	out := make([]float64, len(items))
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		ensured := map[string]bool{}
		incr := s.txStmt(ctx, tx, shape{op: opIncr})
		for i, it := range items {
			if it.Key == "" {
				continue
			}
			if !ensured[it.Key] {
				if err := s.ensureZSet(ctx, tx, it.Key); err != nil {
					return err
				}
				ensured[it.Key] = true
			}
			if err := incr.QueryRowContext(ctx, it.Key, it.Value, it.Score).Scan(&out[i]); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return fmt.Errorf("sqlstore: incr %q: no row returned", it.Key)
				}
				return fmt.Errorf("sqlstore: incr %q: %w", it.Key, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
