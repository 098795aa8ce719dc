package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/unkn0wn-root/forumdb/zset"
)

func (s *Store) Rank(ctx context.Context, key, member string, order zset.Order) (int64, bool, error) {
	if key == "" {
		return 0, false, nil
	}
	out, err := s.SetsRanks(ctx, []zset.Pair{{Key: key, Value: member}}, order)
	if err != nil || out[0] == nil {
		return 0, false, err
	}
	return *out[0], true, nil
}

func (s *Store) Ranks(ctx context.Context, key string, members []string, order zset.Order) ([]*int64, error) {
	if key == "" || len(members) == 0 {
		return nil, nil
	}
	return s.SetsRanks(ctx, pairsOf(key, members), order)
}

// SetsRanks ranks each (key, member) pair in one query. Absent members
// yield nil.
func (s *Store) SetsRanks(ctx context.Context, pairs []zset.Pair, order zset.Order) ([]*int64, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	sh := shape{op: opRanks, dir: order}
	rows, err := s.stmt(sh).QueryContext(ctx, pairsArg(pairs))
	if err != nil {
		return nil, fmt.Errorf("sqlstore: %s: %w", sh, err)
	}
	defer rows.Close()
	out := make([]*int64, 0, len(pairs))
	for rows.Next() {
		var r sql.NullInt64
		if err := rows.Scan(&r); err != nil {
			return nil, fmt.Errorf("sqlstore: %s: %w", sh, err)
		}
		if r.Valid {
			v := r.Int64
			out = append(out, &v)
		} else {
			out = append(out, nil)
		}
	}
	return out, rows.Err()
}

func (s *Store) Score(ctx context.Context, key, member string) (float64, bool, error) {
	if key == "" {
		return 0, false, nil
	}
	out, err := s.scores(ctx, []zset.Pair{{Key: key, Value: member}})
	if err != nil || out[0] == nil {
		return 0, false, err
	}
	return *out[0], true, nil
}

func (s *Store) Scores(ctx context.Context, key string, members []string) ([]*float64, error) {
	if key == "" || len(members) == 0 {
		return nil, nil
	}
	return s.scores(ctx, pairsOf(key, members))
}

// SetsScore returns member's score in each of keys.
func (s *Store) SetsScore(ctx context.Context, keys []string, member string) ([]*float64, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	pairs := make([]zset.Pair, len(keys))
	for i, k := range keys {
		pairs[i] = zset.Pair{Key: k, Value: member}
	}
	return s.scores(ctx, pairs)
}

func (s *Store) scores(ctx context.Context, pairs []zset.Pair) ([]*float64, error) {
	sh := shape{op: opScores}
	rows, err := s.stmt(sh).QueryContext(ctx, pairsArg(pairs))
	if err != nil {
		return nil, fmt.Errorf("sqlstore: %s: %w", sh, err)
	}
	defer rows.Close()
	out := make([]*float64, 0, len(pairs))
	for rows.Next() {
		var f sql.NullFloat64
		if err := rows.Scan(&f); err != nil {
			return nil, fmt.Errorf("sqlstore: %s: %w", sh, err)
		}
		if f.Valid {
			v := f.Float64
			out = append(out, &v)
		} else {
			out = append(out, nil)
		}
	}
	return out, rows.Err()
}

func (s *Store) IsMember(ctx context.Context, key, member string) (bool, error) {
	_, ok, err := s.Score(ctx, key, member)
	return ok, err
}

func (s *Store) IsMembers(ctx context.Context, key string, members []string) ([]bool, error) {
	sc, err := s.Scores(ctx, key, members)
	return present(sc), err
}

func (s *Store) IsMemberOfSets(ctx context.Context, keys []string, member string) ([]bool, error) {
	sc, err := s.SetsScore(ctx, keys, member)
	return present(sc), err
}

func present(sc []*float64) []bool {
	if sc == nil {
		return nil
	}
	out := make([]bool, len(sc))
	for i, f := range sc {
		out[i] = f != nil
	}
	return out
}

func (s *Store) Card(ctx context.Context, key string) (int64, error) {
	if key == "" {
		return 0, nil
	}
	out, err := s.Cards(ctx, []string{key})
	if err != nil {
		return 0, err
	}
	return out[0], nil
}

func (s *Store) Cards(ctx context.Context, keys []string) ([]int64, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	sh := shape{op: opCards}
	rows, err := s.stmt(sh).QueryContext(ctx, jsonArg(keys))
	if err != nil {
		return nil, fmt.Errorf("sqlstore: %s: %w", sh, err)
	}
	defer rows.Close()
	out := make([]int64, 0, len(keys))
	for rows.Next() {
		var n int64
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("sqlstore: %s: %w", sh, err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// Count returns how many members of key score within [min, max].
func (s *Store) Count(ctx context.Context, key string, min, max float64) (int64, error) {
	if key == "" {
		return 0, nil
	}
	return s.CardSum(ctx, []string{key}, min, max)
}

// CardSum is Count summed over keys.
func (s *Store) CardSum(ctx context.Context, keys []string, min, max float64) (int64, error) {
	keys = nonEmpty(keys)
	if len(keys) == 0 {
		return 0, nil
	}
	return s.queryInt(ctx, shape{op: opScoreCount}, jsonArg(keys), bound(min), bound(max))
}

func pairsOf(key string, members []string) []zset.Pair {
	out := make([]zset.Pair, len(members))
	for i, m := range members {
		out[i] = zset.Pair{Key: key, Value: m}
	}
	return out
}
