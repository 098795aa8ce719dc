package sqlstore

import (
	"context"
	"strings"

	"github.com/unkn0wn-root/forumdb/zset"
)

var globEscaper = strings.NewReplacer("*", "[*]", "?", "[?]", "[", "[[]")

// globPattern compiles a match pattern where only a leading and a trailing
// "*" are wildcards. Everything between them is literal.
func globPattern(match string) string {
	var pre, suf string
	if strings.HasPrefix(match, "*") {
		pre, match = "*", match[1:]
	}
	if strings.HasSuffix(match, "*") {
		suf, match = "*", match[:len(match)-1]
	}
	return pre + globEscaper.Replace(match) + suf
}

// Scan returns the members of key whose value matches match, in ascending
// order. limit <= 0 returns every match.
func (s *Store) Scan(ctx context.Context, key, match string, limit int) ([]zset.Member, error) {
	if key == "" {
		return nil, nil
	}
	n := int64(limit)
	if limit <= 0 {
		n = -1
	}
	return s.queryMembers(ctx, shape{op: opScan}, key, globPattern(match), n)
}
