//go:build go1.21

package slog

import (
	"context"
	stdslog "log/slog"
	"sort"

	"github.com/unkn0wn-root/forumdb/log"
)

var _ log.Logger = Logger{}

// Logger adapts a *slog.Logger. A nil L logs through slog.Default().
// Fields are emitted in key order; error values are rendered with Error().
type Logger struct{ L *stdslog.Logger }

func (s Logger) Debug(msg string, f log.Fields) { s.log(stdslog.LevelDebug, msg, f) }
func (s Logger) Info(msg string, f log.Fields)  { s.log(stdslog.LevelInfo, msg, f) }
func (s Logger) Warn(msg string, f log.Fields)  { s.log(stdslog.LevelWarn, msg, f) }
func (s Logger) Error(msg string, f log.Fields) { s.log(stdslog.LevelError, msg, f) }

func (s Logger) log(lvl stdslog.Level, msg string, f log.Fields) {
	l := s.L
	if l == nil {
		l = stdslog.Default()
	}
	ctx := context.Background()
	if !l.Enabled(ctx, lvl) {
		return
	}
	l.LogAttrs(ctx, lvl, msg, attrs(f)...)
}

func attrs(f log.Fields) []stdslog.Attr {
	if len(f) == 0 {
		return nil
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]stdslog.Attr, 0, len(f))
	for _, k := range keys {
		if err, ok := f[k].(error); ok {
			out = append(out, stdslog.String(k, err.Error()))
			continue
		}
		out = append(out, stdslog.Any(k, f[k]))
	}
	return out
}
