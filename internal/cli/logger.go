package cli

import (
	"fmt"
	"io"
	stdslog "log/slog"
	"strings"

	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/unkn0wn-root/forumdb/config"
	asynchook "github.com/unkn0wn-root/forumdb/hooks/async"
	sloghooks "github.com/unkn0wn-root/forumdb/hooks/slog"
	"github.com/unkn0wn-root/forumdb/log"
	logruslog "github.com/unkn0wn-root/forumdb/log/logrus"
	slogadapter "github.com/unkn0wn-root/forumdb/log/slog"
	zaplog "github.com/unkn0wn-root/forumdb/log/zap"
)

// NewLogger builds the configured logging stack writing to w. The returned
// func flushes buffered output.
func NewLogger(c config.Log, w io.Writer) (log.Logger, func(), error) {
	level := strings.ToLower(c.Level)
	switch c.Format {
	case "", "zap":
		var lvl zapcore.Level
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, nil, fmt.Errorf("log level %q: %w", c.Level, err)
		}
		enc := zap.NewProductionEncoderConfig()
		enc.EncodeTime = zapcore.ISO8601TimeEncoder
		core := zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.AddSync(w), lvl)
		zl := zap.New(core)
		return zaplog.ZapLogger{L: zl}, func() { _ = zl.Sync() }, nil
	case "logrus":
		lvl, err := logrus.ParseLevel(level)
		if err != nil {
			return nil, nil, fmt.Errorf("log level %q: %w", c.Level, err)
		}
		lg := logrus.New()
		lg.SetOutput(w)
		lg.SetLevel(lvl)
		lg.SetFormatter(&logrus.JSONFormatter{})
		return logruslog.LogrusLogger{E: logrus.NewEntry(lg)}, func() {}, nil
	case "slog":
		var lvl stdslog.Level
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, nil, fmt.Errorf("log level %q: %w", c.Level, err)
		}
		h := stdslog.NewJSONHandler(w, &stdslog.HandlerOptions{Level: lvl})
		return slogadapter.Logger{L: stdslog.New(h)}, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown log format %q", c.Format)
	}
}

// NewHooks reports bus and cursor events as sampled JSON lines on w. Events
// are queued so the hot paths never wait on the writer; Close drains them.
func NewHooks(c config.Log, w io.Writer) *asynchook.Hooks {
	var lvl stdslog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(c.Level))); err != nil {
		lvl = stdslog.LevelInfo
	}
	h := stdslog.NewJSONHandler(w, &stdslog.HandlerOptions{Level: lvl})
	raw := sloghooks.New(stdslog.New(h), sloghooks.Options{
		MalformedEvery:     10,
		PublishFailedEvery: 10,
	})
	return asynchook.New(raw, 1, 1024)
}
