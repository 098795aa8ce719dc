package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/unkn0wn-root/forumdb/zset"
)

// op is one statement family.
type op uint8

const (
	opRankRange op = iota
	opRankWindow
	opScoreRange
	opScoreCount
	opLexRange
	opLexCount
	opLexRemove
	opUnion
	opIntersect
	opUnionCard
	opIntersectCard
	opRanks
	opScores
	opCards
	opSetsMembers
	opIterate
	opScan
	opPurgeExpired
	opEnsureObject
	opObjectType
	opUpsert
	opIncr
	opRemoveMembers
	opRemoveFromSets
	opRemovePairs
	opRemoveByScore
	opDropEmpty
	opDeleteMembers
	opDeleteObjects
	opKeyType
	opKeyExpire
	opKeyTTL
	numOps
)

var opNames = [numOps]string{
	opRankRange:      "rank-range",
	opRankWindow:     "rank-window",
	opScoreRange:     "score-range",
	opScoreCount:     "score-count",
	opLexRange:       "lex-range",
	opLexCount:       "lex-count",
	opLexRemove:      "lex-remove",
	opUnion:          "union",
	opIntersect:      "intersect",
	opUnionCard:      "union-card",
	opIntersectCard:  "intersect-card",
	opRanks:          "ranks",
	opScores:         "scores",
	opCards:          "cards",
	opSetsMembers:    "sets-members",
	opIterate:        "iterate",
	opScan:           "scan",
	opPurgeExpired:   "purge-expired",
	opEnsureObject:   "ensure-object",
	opObjectType:     "object-type",
	opUpsert:         "upsert",
	opIncr:           "incr",
	opRemoveMembers:  "remove-members",
	opRemoveFromSets: "remove-from-sets",
	opRemovePairs:    "remove-pairs",
	opRemoveByScore:  "remove-by-score",
	opDropEmpty:      "drop-empty",
	opDeleteMembers:  "delete-members",
	opDeleteObjects:  "delete-objects",
	opKeyType:        "key-type",
	opKeyExpire:      "key-expire",
	opKeyTTL:         "key-ttl",
}

func (o op) directional() bool {
	switch o {
	case opRankRange, opRankWindow, opScoreRange, opLexRange, opUnion, opIntersect, opRanks:
		return true
	}
	return false
}

func (o op) lex() bool { return o == opLexRange || o == opLexCount || o == opLexRemove }

func (o op) aggregating() bool { return o == opUnion || o == opIntersect }

// edge is the comparator one end of a lex range compiles to.
type edge uint8

const (
	edgeNone edge = iota
	edgeGT
	edgeGE
	edgeLT
	edgeLE
)

var edgeNames = [...]string{edgeNone: "any", edgeGT: "gt", edgeGE: "ge", edgeLT: "lt", edgeLE: "le"}
var edgeOps = [...]string{edgeGT: ">", edgeGE: ">=", edgeLT: "<", edgeLE: "<="}

// shape identifies one prepared statement: operation x direction x lex
// edges x aggregate. The set of shapes is closed and enumerated by
// allShapes; every query the store runs is one of them.
type shape struct {
	op  op
	dir zset.Order
	lo  edge // edgeNone, edgeGT or edgeGE
	hi  edge // edgeNone, edgeLT or edgeLE
	agg zset.Aggregate
}

// String is the stable identifier, e.g. "lex-range:desc:gt:le".
func (s shape) String() string {
	var b strings.Builder
	b.WriteString(opNames[s.op])
	if s.op.directional() {
		b.WriteString(":" + s.dir.String())
	}
	if s.op.lex() {
		b.WriteString(":" + edgeNames[s.lo] + ":" + edgeNames[s.hi])
	}
	if s.op.aggregating() {
		b.WriteString(":" + s.agg.String())
	}
	return b.String()
}

func allShapes() []shape {
	dirs := []zset.Order{zset.Asc, zset.Desc}
	los := []edge{edgeNone, edgeGT, edgeGE}
	his := []edge{edgeNone, edgeLT, edgeLE}
	aggs := []zset.Aggregate{zset.Sum, zset.Min, zset.Max}

	var out []shape
	for o := op(0); o < numOps; o++ {
		switch {
		case o.lex():
			for _, lo := range los {
				for _, hi := range his {
					if o == opLexRange {
						for _, d := range dirs {
							out = append(out, shape{op: o, dir: d, lo: lo, hi: hi})
						}
					} else {
						out = append(out, shape{op: o, lo: lo, hi: hi})
					}
				}
			}
		case o.aggregating():
			for _, a := range aggs {
				for _, d := range dirs {
					out = append(out, shape{op: o, dir: d, agg: a})
				}
			}
		case o.directional():
			for _, d := range dirs {
				out = append(out, shape{op: o, dir: d})
			}
		default:
			out = append(out, shape{op: o})
		}
	}
	return out
}

const (
	live   = `legacy_object_live o JOIN legacy_zset z ON o._key = z._key AND o.type = z.type`
	keysIn = `o._key IN (SELECT value FROM json_each(?1))`
	nowMS  = `CAST((julianday('now') - 2440587.5) * 86400000 AS INTEGER)`
)

func orderBy(d zset.Order) string {
	if d == zset.Desc {
		return `z.score DESC, z.value DESC`
	}
	return `z.score ASC, z.value ASC`
}

func valueOrder(d zset.Order) string {
	if d == zset.Desc {
		return `z.value DESC`
	}
	return `z.value ASC`
}

// lexWhere renders the optional comparators with positional placeholders;
// lexArgs binds in the same order.
func lexWhere(col string, s shape) string {
	var b strings.Builder
	if s.lo != edgeNone {
		fmt.Fprintf(&b, ` AND %s %s ? COLLATE BINARY`, col, edgeOps[s.lo])
	}
	if s.hi != edgeNone {
		fmt.Fprintf(&b, ` AND %s %s ? COLLATE BINARY`, col, edgeOps[s.hi])
	}
	return b.String()
}

func aggFunc(a zset.Aggregate) string {
	switch a {
	case zset.Min:
		return "MIN"
	case zset.Max:
		return "MAX"
	default:
		return "SUM"
	}
}

func (s shape) sql() string {
	switch s.op {
	case opRankRange:
		return `SELECT z.value, z.score FROM ` + live + ` WHERE ` + keysIn +
			` ORDER BY ` + orderBy(s.dir) + ` LIMIT ?2 OFFSET ?3`
	case opRankWindow:
		return `SELECT value, score FROM (
	SELECT z.value AS value, z.score AS score,
	       ROW_NUMBER() OVER (ORDER BY ` + orderBy(s.dir) + `) - 1 AS rn,
	       COUNT(*) OVER () AS n
	  FROM ` + live + ` WHERE ` + keysIn + `
) WHERE rn >= CASE WHEN ?2 < 0 THEN n + ?2 ELSE ?2 END
    AND rn <= CASE WHEN ?3 < 0 THEN n + ?3 ELSE ?3 END
  ORDER BY rn`
	case opScoreRange:
		return `SELECT z.value, z.score FROM ` + live + ` WHERE ` + keysIn +
			` AND (?2 IS NULL OR z.score >= ?2) AND (?3 IS NULL OR z.score <= ?3)` +
			` ORDER BY ` + orderBy(s.dir) + ` LIMIT ?4 OFFSET ?5`
	case opScoreCount:
		return `SELECT COUNT(*) FROM ` + live + ` WHERE ` + keysIn +
			` AND (?2 IS NULL OR z.score >= ?2) AND (?3 IS NULL OR z.score <= ?3)`
	case opLexRange:
		return `SELECT z.value, z.score FROM ` + live + ` WHERE o._key = ?` + lexWhere("z.value", s) +
			` ORDER BY ` + valueOrder(s.dir) + ` LIMIT ? OFFSET ?`
	case opLexCount:
		return `SELECT COUNT(*) FROM ` + live + ` WHERE o._key = ?` + lexWhere("z.value", s)
	case opLexRemove:
		return `DELETE FROM legacy_zset WHERE _key = ?` + lexWhere("value", s)
	case opUnion, opIntersect:
		q := `SELECT z.value AS value, ` + aggFunc(s.agg) + `(z.score * k.weight) AS score
  FROM (SELECT json_extract(value, '$[0]') AS _key, json_extract(value, '$[1]') AS weight FROM json_each(?1)) k
  JOIN legacy_object_live o ON o._key = k._key
  JOIN legacy_zset z ON o._key = z._key AND o.type = z.type
 GROUP BY z.value`
		dir := `score ASC, value ASC`
		if s.dir == zset.Desc {
			dir = `score DESC, value DESC`
		}
		if s.op == opIntersect {
			return q + ` HAVING COUNT(*) = ?2 ORDER BY ` + dir + ` LIMIT ?3 OFFSET ?4`
		}
		return q + ` ORDER BY ` + dir + ` LIMIT ?2 OFFSET ?3`
	case opUnionCard:
		return `SELECT COUNT(DISTINCT z.value) FROM ` + live + ` WHERE ` + keysIn
	case opIntersectCard:
		return `SELECT COUNT(*) FROM (SELECT z.value FROM ` + live + ` WHERE ` + keysIn +
			` GROUP BY z.value HAVING COUNT(*) = ?2)`
	case opRanks:
		return `SELECT r.rnk FROM json_each(?1) j
  LEFT JOIN (
	SELECT z._key AS _key, z.value AS value,
	       RANK() OVER (PARTITION BY z._key ORDER BY ` + orderBy(s.dir) + `) - 1 AS rnk
	  FROM ` + live + `
	 WHERE o._key IN (SELECT json_extract(value, '$[0]') FROM json_each(?1))
  ) r ON r._key = json_extract(j.value, '$[0]') AND r.value = json_extract(j.value, '$[1]')
 ORDER BY j.key`
	case opScores:
		return `SELECT (SELECT z.score FROM ` + live + `
	 WHERE o._key = json_extract(j.value, '$[0]') AND z.value = json_extract(j.value, '$[1]'))
  FROM json_each(?1) j ORDER BY j.key`
	case opCards:
		return `SELECT (SELECT COUNT(*) FROM ` + live + ` WHERE o._key = j.value)
  FROM json_each(?1) j ORDER BY j.key`
	case opSetsMembers:
		return `SELECT j.key, z.value FROM json_each(?1) j
  JOIN legacy_object_live o ON o._key = j.value
  JOIN legacy_zset z ON o._key = z._key AND o.type = z.type
 ORDER BY j.key, z.score ASC, z.value ASC`
	case opIterate:
		return `SELECT z.value, z.score FROM ` + live + ` WHERE o._key = ?1 ORDER BY ` + orderBy(zset.Asc)
	case opScan:
		return `SELECT z.value, z.score FROM ` + live + ` WHERE o._key = ?1 AND z.value GLOB ?2` +
			` ORDER BY ` + orderBy(zset.Asc) + ` LIMIT ?3`
	case opPurgeExpired:
		return `DELETE FROM legacy_object WHERE _key = ?1 AND expireAt IS NOT NULL AND expireAt <= ` + nowMS
	case opEnsureObject:
		return `INSERT INTO legacy_object (_key, type) VALUES (?1, 'zset') ON CONFLICT (_key) DO NOTHING`
	case opObjectType:
		return `SELECT type FROM legacy_object WHERE _key = ?1`
	case opUpsert:
		return `INSERT INTO legacy_zset (_key, value, score) VALUES (?1, ?2, ?3)
  ON CONFLICT (_key, value) DO UPDATE SET score = excluded.score`
	case opIncr:
		return `INSERT INTO legacy_zset (_key, value, score) VALUES (?1, ?2, ?3)
  ON CONFLICT (_key, value) DO UPDATE SET score = legacy_zset.score + excluded.score
  RETURNING score`
	case opRemoveMembers:
		return `DELETE FROM legacy_zset WHERE _key = ?1 AND value IN (SELECT value FROM json_each(?2))`
	case opRemoveFromSets:
		return `DELETE FROM legacy_zset WHERE _key IN (SELECT value FROM json_each(?1)) AND value = ?2`
	case opRemovePairs:
		return `DELETE FROM legacy_zset WHERE (_key, value) IN
  (SELECT json_extract(value, '$[0]'), json_extract(value, '$[1]') FROM json_each(?1))`
	case opRemoveByScore:
		return `DELETE FROM legacy_zset WHERE _key IN (SELECT value FROM json_each(?1))
  AND (?2 IS NULL OR score >= ?2) AND (?3 IS NULL OR score <= ?3)`
	case opDropEmpty:
		return `DELETE FROM legacy_object WHERE _key IN (SELECT value FROM json_each(?1)) AND type = 'zset'
  AND NOT EXISTS (SELECT 1 FROM legacy_zset z WHERE z._key = legacy_object._key)`
	case opDeleteMembers:
		return `DELETE FROM legacy_zset WHERE _key IN (SELECT value FROM json_each(?1))`
	case opDeleteObjects:
		return `DELETE FROM legacy_object WHERE _key IN (SELECT value FROM json_each(?1))`
	case opKeyType:
		return `SELECT type FROM legacy_object_live WHERE _key = ?1`
	case opKeyExpire:
		return `UPDATE legacy_object SET expireAt = ` + nowMS + ` + ?2
 WHERE _key = ?1 AND (expireAt IS NULL OR expireAt > ` + nowMS + `)`
	case opKeyTTL:
		return `SELECT expireAt - ` + nowMS + ` FROM legacy_object_live WHERE _key = ?1`
	}
	panic("sqlstore: no sql for shape " + s.String())
}

// statements holds every shape prepared against the pool.
type statements struct {
	byShape map[shape]*sql.Stmt
}

func prepare(ctx context.Context, db *sql.DB) (*statements, error) {
	shapes := allShapes()
	st := &statements{byShape: make(map[shape]*sql.Stmt, len(shapes))}
	for _, s := range shapes {
		stmt, err := db.PrepareContext(ctx, s.sql())
		if err != nil {
			st.close()
			return nil, fmt.Errorf("sqlstore: prepare %s: %w", s, err)
		}
		st.byShape[s] = stmt
	}
	return st, nil
}

func (st *statements) get(s shape) *sql.Stmt {
	stmt, ok := st.byShape[s]
	if !ok {
		panic("sqlstore: shape not prepared: " + s.String())
	}
	return stmt
}

func (st *statements) close() error {
	var first error
	for _, stmt := range st.byShape {
		if err := stmt.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
