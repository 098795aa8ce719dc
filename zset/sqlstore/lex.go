package sqlstore

import (
	"context"
	"strings"

	"github.com/unkn0wn-root/forumdb/zset"
)

// lexQuery is a parsed lex range. "-" as min and "+" as max are unbounded,
// "(x" is exclusive, "[x" inclusive, and a bare x is inclusive. Nothing is
// validated: "+" as min is the literal string "+", and an inverted range
// simply matches nothing.
type lexQuery struct {
	lo, hi   edge
	min, max string
}

func parseLex(min, max string) lexQuery {
	var q lexQuery
	if min != "-" {
		switch {
		case strings.HasPrefix(min, "("):
			q.lo, q.min = edgeGT, min[1:]
		case strings.HasPrefix(min, "["):
			q.lo, q.min = edgeGE, min[1:]
		default:
			q.lo, q.min = edgeGE, min
		}
	}
	if max != "+" {
		switch {
		case strings.HasPrefix(max, "("):
			q.hi, q.max = edgeLT, max[1:]
		case strings.HasPrefix(max, "["):
			q.hi, q.max = edgeLE, max[1:]
		default:
			q.hi, q.max = edgeLE, max
		}
	}
	return q
}

func (q lexQuery) shape(o op, d zset.Order) shape {
	s := shape{op: o, lo: q.lo, hi: q.hi}
	if o.directional() {
		s.dir = d
	}
	return s
}

// args binds key, then each present edge, then extra, matching lexWhere.
func (q lexQuery) args(key string, extra ...any) []any {
	out := []any{key}
	if q.lo != edgeNone {
		out = append(out, q.min)
	}
	if q.hi != edgeNone {
		out = append(out, q.max)
	}
	return append(out, extra...)
}

// RangeByLex returns members between min and max by byte order of value.
// count < 0 is unbounded.
func (s *Store) RangeByLex(ctx context.Context, key, min, max string, start, count int64, order zset.Order) ([]zset.Member, error) {
	if key == "" {
		return nil, nil
	}
	q := parseLex(min, max)
	return s.queryMembers(ctx, q.shape(opLexRange, order), q.args(key, limitArg(count), start)...)
}

func (s *Store) LexCount(ctx context.Context, key, min, max string) (int64, error) {
	if key == "" {
		return 0, nil
	}
	q := parseLex(min, max)
	return s.queryInt(ctx, q.shape(opLexCount, zset.Asc), q.args(key)...)
}
