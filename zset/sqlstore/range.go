package sqlstore

import (
	"context"

	"github.com/unkn0wn-root/forumdb/zset"
)

// rankPlan is how a (start, stop) rank window runs without negative
// LIMIT/OFFSET support.
type rankPlan struct {
	empty   bool
	window  bool       // resolve both ends against the cardinality in SQL
	order   zset.Order // order the query runs in
	reverse bool       // reverse the fetched rows
	offset  int64
	limit   int64 // -1 => unbounded
	start   int64 // window bounds, as given
	stop    int64
}

func flip(o zset.Order) zset.Order {
	if o == zset.Desc {
		return zset.Asc
	}
	return zset.Desc
}

// planRank translates slice-style indexes (-1 is the last element).
//
//	start >= 0, stop >= 0     offset start, limit stop-start+1
//	start >= 0, stop == -1    offset start, unbounded
//	start == 0, stop < -1     query reversed from |stop+1|, reverse the rows
//	start < 0,  stop < 0      both counted from the end: query reversed, reverse the rows
//	anything else             window query resolving both ends in SQL
func planRank(start, stop int64, order zset.Order) rankPlan {
	switch {
	case start >= 0 && stop >= 0:
		if stop < start {
			return rankPlan{empty: true}
		}
		return rankPlan{order: order, offset: start, limit: stop - start + 1}
	case start >= 0 && stop == -1:
		return rankPlan{order: order, offset: start, limit: -1}
	case start == 0 && stop < -1:
		return rankPlan{order: flip(order), reverse: true, offset: -(stop + 1), limit: -1}
	case start < 0 && stop < 0:
		if start > stop {
			return rankPlan{empty: true}
		}
		return rankPlan{order: flip(order), reverse: true, offset: -stop - 1, limit: stop - start + 1}
	default:
		return rankPlan{order: order, window: true, start: start, stop: stop}
	}
}

func (s *Store) RangeByRank(ctx context.Context, key string, start, stop int64, order zset.Order) ([]zset.Member, error) {
	if key == "" {
		return nil, nil
	}
	return s.rangeByRank(ctx, []string{key}, start, stop, order)
}

// RangeByRankMulti ranges over the members of all keys merged into one
// ordering.
func (s *Store) RangeByRankMulti(ctx context.Context, keys []string, start, stop int64, order zset.Order) ([]zset.Member, error) {
	keys = nonEmpty(keys)
	if len(keys) == 0 {
		return nil, nil
	}
	return s.rangeByRank(ctx, keys, start, stop, order)
}

func (s *Store) rangeByRank(ctx context.Context, keys []string, start, stop int64, order zset.Order) ([]zset.Member, error) {
	p := planRank(start, stop, order)
	switch {
	case p.empty:
		return nil, nil
	case p.window:
		return s.queryMembers(ctx, shape{op: opRankWindow, dir: p.order}, jsonArg(keys), p.start, p.stop)
	}
	ms, err := s.queryMembers(ctx, shape{op: opRankRange, dir: p.order}, jsonArg(keys), p.limit, p.offset)
	if err != nil {
		return nil, err
	}
	if p.reverse {
		reverse(ms)
	}
	return ms, nil
}

// RangeByScore returns up to count members (count < 0: all) with
// min <= score <= max, skipping the first start. Infinite bounds are open.
func (s *Store) RangeByScore(ctx context.Context, key string, start, count int64, min, max float64, order zset.Order) ([]zset.Member, error) {
	if key == "" {
		return nil, nil
	}
	return s.rangeByScore(ctx, []string{key}, start, count, min, max, order)
}

func (s *Store) RangeByScoreMulti(ctx context.Context, keys []string, start, count int64, min, max float64, order zset.Order) ([]zset.Member, error) {
	keys = nonEmpty(keys)
	if len(keys) == 0 {
		return nil, nil
	}
	return s.rangeByScore(ctx, keys, start, count, min, max, order)
}

func (s *Store) rangeByScore(ctx context.Context, keys []string, start, count int64, min, max float64, order zset.Order) ([]zset.Member, error) {
	if start < 0 {
		start = 0
	}
	return s.queryMembers(ctx, shape{op: opScoreRange, dir: order},
		jsonArg(keys), bound(min), bound(max), limitArg(count), start)
}

// Members returns every value of key in ascending order.
func (s *Store) Members(ctx context.Context, key string) ([]string, error) {
	if key == "" {
		return nil, nil
	}
	out, err := s.SetsMembers(ctx, []string{key})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// SetsMembers returns the values of every key, in key order, in one round
// trip. Missing keys yield empty slices.
func (s *Store) SetsMembers(ctx context.Context, keys []string) ([][]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	out := make([][]string, len(keys))
	for i := range out {
		out[i] = []string{}
	}
	rows, err := s.stmt(shape{op: opSetsMembers}).QueryContext(ctx, jsonArg(keys))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			i int
			v string
		)
		if err := rows.Scan(&i, &v); err != nil {
			return nil, err
		}
		out[i] = append(out[i], v)
	}
	return out, rows.Err()
}
