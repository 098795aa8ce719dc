package connection

import (
	"context"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestDescriptorMode(t *testing.T) {
	cases := []struct {
		name string
		d    Descriptor
		want Mode
	}{
		{"default tcp", Descriptor{}, ModeTCP},
		{"host port", Descriptor{Host: "redis", Port: 6380}, ModeTCP},
		{"socket in host", Descriptor{Host: "/var/run/redis.sock"}, ModeUnix},
		{"explicit socket", Descriptor{Host: "ignored", Socket: "/tmp/r.sock"}, ModeUnix},
		{"sentinel", Descriptor{SentinelMaster: "mymaster", Sentinels: []string{"s1:26379"}}, ModeSentinel},
		{"sentinel needs addrs", Descriptor{SentinelMaster: "mymaster"}, ModeTCP},
		{"cluster wins", Descriptor{Cluster: []string{"a:7000"}, SentinelMaster: "m", Sentinels: []string{"s"}}, ModeCluster},
	}
	for _, tc := range cases {
		if got := tc.d.Mode(); got != tc.want {
			t.Fatalf("%s: mode=%v want %v", tc.name, got, tc.want)
		}
	}
}

func TestDescriptorAddrDefaults(t *testing.T) {
	if got := (Descriptor{}).Addr(); got != "127.0.0.1:6379" {
		t.Fatalf("addr=%q", got)
	}
	if got := (Descriptor{Host: "::1", Port: 7000}).Addr(); got != "[::1]:7000" {
		t.Fatalf("addr=%q", got)
	}
}

func TestConnectRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	port, _ := strconv.Atoi(mr.Port())
	c, err := ConnectRedis(context.Background(), Descriptor{Host: mr.Host(), Port: port, Database: 2}, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()
	if err := c.Set(context.Background(), "k", "v", 0).Err(); err != nil {
		t.Fatalf("set: %v", err)
	}
	mr.Select(2)
	if got, _ := mr.Get("k"); got != "v" {
		t.Fatalf("value not in database 2: %q", got)
	}
}

func TestConnectRedisFailureIsWrapped(t *testing.T) {
	mr := miniredis.RunT(t)
	port, _ := strconv.Atoi(mr.Port())
	host := mr.Host()
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := ConnectRedis(ctx, Descriptor{Host: host, Port: port, DialTimeout: 200 * time.Millisecond}, nil)
	if err == nil {
		t.Fatal("want error")
	}
	if !strings.HasPrefix(err.Error(), "connection: redis tcp:") {
		t.Fatalf("err=%v", err)
	}
}

func TestSQLDescriptorDSN(t *testing.T) {
	dsn := SQLDescriptor{Path: "/tmp/x.db", BusyTimeout: 2 * time.Second}.DSN()
	for _, want := range []string{"file:/tmp/x.db?", "_journal_mode=WAL", "_busy_timeout=2000", "_foreign_keys=1", "_txlock=immediate"} {
		if !strings.Contains(dsn, want) {
			t.Fatalf("dsn %q missing %q", dsn, want)
		}
	}
}

func TestOpenSQL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forum.db")
	db, err := OpenSQL(context.Background(), SQLDescriptor{Path: path}, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("pragma: %v", err)
	}
	if mode != "wal" {
		t.Fatalf("journal_mode=%q", mode)
	}
	var fk int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil || fk != 1 {
		t.Fatalf("foreign_keys=%d err=%v", fk, err)
	}
}

func TestOpenSQLPoolSize(t *testing.T) {
	cases := map[int]int{0: 8, 1: 2, 2: 2, 5: 5}
	for in, want := range cases {
		path := filepath.Join(t.TempDir(), "forum.db")
		db, err := OpenSQL(context.Background(), SQLDescriptor{Path: path, MaxOpenConns: in}, nil)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		if got := db.Stats().MaxOpenConnections; got != want {
			t.Errorf("MaxOpenConns %d: pool size %d, want %d", in, got, want)
		}
		_ = db.Close()
	}
}

func TestOpenSQLEmptyPath(t *testing.T) {
	if _, err := OpenSQL(context.Background(), SQLDescriptor{}, nil); err == nil {
		t.Fatal("want error for empty path")
	}
}
