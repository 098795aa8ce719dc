package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/forumdb/config"
	"github.com/unkn0wn-root/forumdb/zset"
)

// run executes the root command against a scratch database and returns
// stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func scratchDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "forum.db")
	t.Setenv("FORUMDB_DATABASE_PATH", path)
	t.Setenv("FORUMDB_CLUSTER", "false")
	return path
}

func TestRootCommandHasSubcommands(t *testing.T) {
	cmd := NewRootCommand()
	names := make(map[string]bool)
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"migrate", "zset", "cache", "supervise"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}

	for _, flag := range []string{"config", "verbose", "format"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(flag), "missing flag %s", flag)
	}
}

func TestInvalidFormat(t *testing.T) {
	scratchDB(t)
	_, err := run(t, "--format", "yaml", "migrate")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid format")
}

func TestMissingConfigFile(t *testing.T) {
	scratchDB(t)
	_, err := run(t, "-c", filepath.Join(t.TempDir(), "nope.yaml"), "migrate")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestMigrate(t *testing.T) {
	path := scratchDB(t)

	out, err := run(t, "migrate")
	require.NoError(t, err)
	assert.Equal(t, "schema applied to "+path+"\n", out)

	// a second run is a no-op
	_, err = run(t, "migrate")
	require.NoError(t, err)
}

func TestZSetCommands(t *testing.T) {
	scratchDB(t)

	for _, m := range [][2]string{{"1", "a"}, {"3", "c"}, {"2", "b"}} {
		_, err := run(t, "zset", "add", "tids", m[0], m[1])
		require.NoError(t, err)
	}

	out, err := run(t, "zset", "range", "tids")
	require.NoError(t, err)
	assert.Equal(t, "a\nb\nc\n", out)

	out, err = run(t, "zset", "range", "tids", "0", "1", "--desc", "--withscores")
	require.NoError(t, err)
	assert.Equal(t, "c 3\nb 2\n", out)

	out, err = run(t, "zset", "range", "tids", "--", "-2", "-1")
	require.NoError(t, err)
	assert.Equal(t, "b\nc\n", out)

	out, err = run(t, "zset", "card", "tids")
	require.NoError(t, err)
	assert.Equal(t, "3\n", out)

	out, err = run(t, "zset", "card", "tids", "missing")
	require.NoError(t, err)
	assert.Equal(t, "3\n0\n", out)

	out, err = run(t, "zset", "score", "tids", "b")
	require.NoError(t, err)
	assert.Equal(t, "2\n", out)

	_, err = run(t, "zset", "score", "tids", "z")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestZSetRangeJSON(t *testing.T) {
	scratchDB(t)
	_, err := run(t, "zset", "add", "k", "1.5", "x")
	require.NoError(t, err)

	out, err := run(t, "--format", "json", "zset", "range", "k", "--withscores")
	require.NoError(t, err)

	var resp struct {
		Status string        `json:"status"`
		Data   []zset.Member `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, []zset.Member{{Value: "x", Score: 1.5}}, resp.Data)
}

func TestZSetBadArgs(t *testing.T) {
	scratchDB(t)

	_, err := run(t, "zset", "add", "k", "high", "x")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = run(t, "zset", "range", "k", "zero")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestCacheStandalone(t *testing.T) {
	scratchDB(t)

	out, err := run(t, "cache", "del", "post", "pid:1", "pid:2")
	require.NoError(t, err)
	assert.Equal(t, "published on post (standalone)\n", out)

	out, err = run(t, "cache", "reset", "user", "--kind", "ttlCache")
	require.NoError(t, err)
	assert.Equal(t, "published on user (standalone)\n", out)

	_, err = run(t, "cache", "reset", "user", "--kind", "fifo")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestCacheClusterWithoutTransport(t *testing.T) {
	scratchDB(t)
	t.Setenv("FORUMDB_CLUSTER", "true")
	_, err := run(t, "cache", "reset", "user")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestSupervise(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	scratchDB(t)

	out, err := run(t, "supervise", "-n", "3", "--", "sh", "-c", `test "$FORUMDB_IPC_FDS" = "3,4"`)
	require.NoError(t, err)
	assert.Equal(t, "3 workers exited\n", out)

	_, err = run(t, "supervise", "-n", "2", "--", "sh", "-c", "exit 3")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	_, err = run(t, "supervise", "-n", "0", "--", "sh")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestFormatMembers(t *testing.T) {
	ms := []zset.Member{{Value: "a", Score: 1}, {Value: "b", Score: 0.25}}

	assert.Equal(t, []string{"a", "b"}, formatMembers(ms, false, "text"))
	assert.Equal(t, []string{"a 1", "b 0.25"}, formatMembers(ms, true, "text"))
	assert.Equal(t, ms, formatMembers(ms, true, "json"))
	assert.Equal(t, []zset.Member{}, formatMembers(nil, true, "json"))
}

func TestOutputFormatter(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "text", Writer: buf}
	require.NoError(t, f.Success([]string{"x", "y"}))
	require.NoError(t, f.Error(errors.New("boom")))
	assert.Equal(t, "x\ny\nError: boom\n", buf.String())

	buf.Reset()
	f.Format = "json"
	require.NoError(t, f.Error(errors.New("boom")))
	assert.JSONEq(t, `{"status":"error","error":"boom"}`, buf.String())
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
	wrapped := WrapExitError(ExitCommandError, "bad", errors.New("inner"))
	assert.Equal(t, ExitCommandError, GetExitCode(wrapped))
	assert.Equal(t, "bad: inner", wrapped.Error())
	assert.Equal(t, "inner", errors.Unwrap(wrapped).Error())
}

func TestNewLogger(t *testing.T) {
	for _, format := range []string{"zap", "logrus", "slog"} {
		t.Run(format, func(t *testing.T) {
			buf := &bytes.Buffer{}
			l, flush, err := NewLogger(config.Log{Format: format, Level: "info"}, buf)
			require.NoError(t, err)
			l.Debug("hidden", nil)
			l.Info("shown", map[string]any{"k": "v"})
			flush()

			out := buf.String()
			assert.Contains(t, out, "shown")
			assert.Contains(t, out, `"k":"v"`)
			assert.NotContains(t, out, "hidden")
		})
	}

	_, _, err := NewLogger(config.Log{Format: "zap", Level: "loud"}, &bytes.Buffer{})
	assert.Error(t, err)
	_, _, err = NewLogger(config.Log{Format: "glog", Level: "info"}, &bytes.Buffer{})
	assert.Error(t, err)
}
