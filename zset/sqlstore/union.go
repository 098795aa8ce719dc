package sqlstore

import (
	"context"
	"fmt"
	"math"

	"github.com/unkn0wn-root/forumdb/zset"
)

// weighted keeps the non-empty keys of op with their weights, as the
// [[key, weight], ...] array the union and intersect shapes expand. JSON
// has no encoding for NaN or infinity, so such weights are rejected.
func weighted(op zset.SetOp, dedupe bool) ([]string, string, error) {
	seen := map[string]bool{}
	var keys []string
	var arr [][2]any
	for i, k := range op.Keys {
		if k == "" || (dedupe && seen[k]) {
			continue
		}
		w := op.Weight(i)
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, "", fmt.Errorf("%w: %v for %q", ErrInvalidWeight, w, k)
		}
		seen[k] = true
		keys = append(keys, k)
		arr = append(arr, [2]any{k, w})
	}
	if len(keys) == 0 {
		return nil, "", nil
	}
	return keys, jsonArg(arr), nil
}

// pushdown reports whether the rank window maps directly onto LIMIT/OFFSET.
func pushdown(start, stop int64) (limit, offset int64, ok bool) {
	switch {
	case start >= 0 && stop == -1:
		return -1, start, true
	case start >= 0 && stop >= start:
		return stop - start + 1, start, true
	}
	return 0, 0, false
}

// window slices ms by slice-style indexes, clamping out-of-range ends.
func window(ms []zset.Member, start, stop int64) []zset.Member {
	n := int64(len(ms))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop {
		return nil
	}
	return ms[start : stop+1]
}

// Union combines the sets of op.Keys. Each member's score is the
// aggregate of its weighted scores; a key listed twice counts twice.
func (s *Store) Union(ctx context.Context, op zset.SetOp) ([]zset.Member, error) {
	keys, arg, err := weighted(op, false)
	if err != nil || len(keys) == 0 {
		return nil, err
	}
	sh := shape{op: opUnion, dir: op.Order, agg: op.Aggregate}
	if limit, offset, ok := pushdown(op.Start, op.Stop); ok {
		return s.queryMembers(ctx, sh, arg, limit, offset)
	}
	ms, err := s.queryMembers(ctx, sh, arg, -1, 0)
	if err != nil {
		return nil, err
	}
	return window(ms, op.Start, op.Stop), nil
}

// Intersect keeps the members present in every distinct key of op.Keys.
func (s *Store) Intersect(ctx context.Context, op zset.SetOp) ([]zset.Member, error) {
	keys, arg, err := weighted(op, true)
	if err != nil || len(keys) == 0 {
		return nil, err
	}
	sh := shape{op: opIntersect, dir: op.Order, agg: op.Aggregate}
	n := len(keys)
	if limit, offset, ok := pushdown(op.Start, op.Stop); ok {
		return s.queryMembers(ctx, sh, arg, n, limit, offset)
	}
	ms, err := s.queryMembers(ctx, sh, arg, n, -1, 0)
	if err != nil {
		return nil, err
	}
	return window(ms, op.Start, op.Stop), nil
}

// UnionCard counts the distinct members across keys.
func (s *Store) UnionCard(ctx context.Context, keys []string) (int64, error) {
	keys = nonEmpty(keys)
	if len(keys) == 0 {
		return 0, nil
	}
	return s.queryInt(ctx, shape{op: opUnionCard}, jsonArg(keys))
}

// IntersectCard counts the members present in every key.
func (s *Store) IntersectCard(ctx context.Context, keys []string) (int64, error) {
	keys = uniq(keys)
	if len(keys) == 0 {
		return 0, nil
	}
	return s.queryInt(ctx, shape{op: opIntersectCard}, jsonArg(keys), len(keys))
}
