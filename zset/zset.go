// Package zset defines the sorted-set contract every storage backend
// implements identically.
//
// A sorted set maps unique string members to float64 scores and is ordered
// by score ascending, then by member in byte order. Every range and rank
// operation honors that tie-break.
//
// Missing keys are never errors: an empty key, or an empty key slice,
// short-circuits to the zero result (nil slice, 0, false) and a nil error.
package zset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
)

// Member is one (value, score) pair.
type Member struct {
	Value string  `json:"value"`
	Score float64 `json:"score"`
}

// Item addresses a member of a specific set, as used by bulk operations.
type Item struct {
	Key   string  `json:"key"`
	Value string  `json:"value"`
	Score float64 `json:"score"`
}

// Pair addresses a member of a specific set without a score.
type Pair struct {
	Key   string
	Value string
}

type Order int

const (
	Asc Order = iota
	Desc
)

func (o Order) String() string {
	if o == Desc {
		return "desc"
	}
	return "asc"
}

type Aggregate int

const (
	Sum Aggregate = iota
	Min
	Max
)

func (a Aggregate) String() string {
	switch a {
	case Min:
		return "min"
	case Max:
		return "max"
	default:
		return "sum"
	}
}

// ParseAggregate accepts SUM, MIN or MAX in any case; "" is SUM.
func ParseAggregate(s string) (Aggregate, error) {
	switch strings.ToUpper(s) {
	case "", "SUM":
		return Sum, nil
	case "MIN":
		return Min, nil
	case "MAX":
		return Max, nil
	default:
		return 0, fmt.Errorf("zset: unknown aggregate %q", s)
	}
}

// SetOp describes a weighted union or intersection. Weights default to 1
// per key; Start/Stop select a rank window of the combined result with the
// same negative indexing as RangeByRank.
type SetOp struct {
	Keys      []string
	Weights   []float64
	Aggregate Aggregate
	Start     int64
	Stop      int64
	Order     Order
}

// Weight returns the weight of the i-th key.
func (op SetOp) Weight(i int) float64 {
	if i < len(op.Weights) {
		return op.Weights[i]
	}
	return 1
}

// ProcessOptions tune streaming iteration.
type ProcessOptions struct {
	Batch    int           // members per batch; 0 => 100
	Interval time.Duration // pause between batches
}

// BatchFunc consumes one batch. A returned error stops the iteration and is
// returned unchanged by Process.
type BatchFunc func(ctx context.Context, batch []Member) error

// Cursor streams a set in ascending order. Next returns io.EOF after the
// last batch. Close releases the underlying connection and is safe to call
// more than once.
type Cursor interface {
	Next(ctx context.Context) ([]Member, error)
	Close() error
}

// Writer mutates sets.
type Writer interface {
	Add(ctx context.Context, key string, score float64, member string) error
	AddMany(ctx context.Context, key string, members []Member) error
	AddToSets(ctx context.Context, keys []string, score float64, member string) error
	AddBulk(ctx context.Context, items []Item) error

	Remove(ctx context.Context, key string, members ...string) error
	RemoveFromSets(ctx context.Context, keys []string, member string) error
	RemoveBulk(ctx context.Context, pairs []Pair) error
	RemoveRangeByScore(ctx context.Context, keys []string, min, max float64) error
	RemoveRangeByLex(ctx context.Context, key, min, max string) error

	IncrBy(ctx context.Context, key string, increment float64, member string) (float64, error)
	IncrByBulk(ctx context.Context, items []Item) ([]float64, error)
}

// Reader queries sets.
type Reader interface {
	RangeByRank(ctx context.Context, key string, start, stop int64, order Order) ([]Member, error)
	RangeByRankMulti(ctx context.Context, keys []string, start, stop int64, order Order) ([]Member, error)
	RangeByScore(ctx context.Context, key string, start, count int64, min, max float64, order Order) ([]Member, error)
	RangeByScoreMulti(ctx context.Context, keys []string, start, count int64, min, max float64, order Order) ([]Member, error)
	RangeByLex(ctx context.Context, key, min, max string, start, count int64, order Order) ([]Member, error)

	Rank(ctx context.Context, key, member string, order Order) (int64, bool, error)
	Ranks(ctx context.Context, key string, members []string, order Order) ([]*int64, error)
	SetsRanks(ctx context.Context, pairs []Pair, order Order) ([]*int64, error)

	Score(ctx context.Context, key, member string) (float64, bool, error)
	Scores(ctx context.Context, key string, members []string) ([]*float64, error)
	SetsScore(ctx context.Context, keys []string, member string) ([]*float64, error)

	IsMember(ctx context.Context, key, member string) (bool, error)
	IsMembers(ctx context.Context, key string, members []string) ([]bool, error)
	IsMemberOfSets(ctx context.Context, keys []string, member string) ([]bool, error)
	Members(ctx context.Context, key string) ([]string, error)
	SetsMembers(ctx context.Context, keys []string) ([][]string, error)

	Card(ctx context.Context, key string) (int64, error)
	Cards(ctx context.Context, keys []string) ([]int64, error)
	CardSum(ctx context.Context, keys []string, min, max float64) (int64, error)
	Count(ctx context.Context, key string, min, max float64) (int64, error)
	LexCount(ctx context.Context, key, min, max string) (int64, error)

	Union(ctx context.Context, op SetOp) ([]Member, error)
	UnionCard(ctx context.Context, keys []string) (int64, error)
	Intersect(ctx context.Context, op SetOp) ([]Member, error)
	IntersectCard(ctx context.Context, keys []string) (int64, error)

	Scan(ctx context.Context, key, match string, limit int) ([]Member, error)

	Iterate(ctx context.Context, key string, opts ProcessOptions) (Cursor, error)
	Process(ctx context.Context, key string, fn BatchFunc, opts ProcessOptions) error
}

// Keys manages whole keys regardless of their type.
type Keys interface {
	Exists(ctx context.Context, key string) (bool, error)
	Type(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, keys ...string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
	TTL(ctx context.Context, key string) (time.Duration, bool, error)
}

// Store is the full contract.
type Store interface {
	Writer
	Reader
	Keys
	Close() error
}

// ParseBound converts the textual score bounds "-inf", "+inf", "inf" and
// numbers into float64.
func ParseBound(s string) (float64, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "-inf":
		return math.Inf(-1), nil
	case "+inf", "inf":
		return math.Inf(1), nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("zset: bad score bound %q: %w", s, err)
	}
	return f, nil
}

// Values projects members onto their values.
func Values(ms []Member) []string {
	if ms == nil {
		return nil
	}
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.Value
	}
	return out
}

// Drain runs a cursor to completion: fetch a batch, hand it to fn, wait
// interval, repeat. The cursor is closed on every exit path, panics included.
// Backends build Process from Iterate and Drain.
func Drain(ctx context.Context, cur Cursor, fn BatchFunc, interval time.Duration) (err error) {
	defer func() {
		if cerr := cur.Close(); err == nil {
			err = cerr
		}
	}()
	for {
		batch, err := cur.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(ctx, batch); err != nil {
			return err
		}
		if interval > 0 {
			if err := sleep(ctx, interval); err != nil {
				return err
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
