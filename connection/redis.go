// Package connection establishes the transports the rest of forumdb runs on:
// a Redis client for the multi-host bus and a SQLite pool for the sorted-set
// store. Both connect eagerly and fail fast; reconnection is left to the
// drivers.
package connection

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/forumdb/log"
)

// Mode is the Redis deployment a Descriptor points at.
type Mode int

const (
	ModeTCP Mode = iota
	ModeUnix
	ModeCluster
	ModeSentinel
)

func (m Mode) String() string {
	switch m {
	case ModeTCP:
		return "tcp"
	case ModeUnix:
		return "unix"
	case ModeCluster:
		return "cluster"
	case ModeSentinel:
		return "sentinel"
	default:
		return "mode(" + strconv.Itoa(int(m)) + ")"
	}
}

// Descriptor holds the Redis transport parameters. It is built once at
// startup and passed by value.
type Descriptor struct {
	// Host is a hostname, or a socket path when it contains a '/'.
	Host string
	Port int
	// Socket is an explicit unix socket path; it wins over Host.
	Socket string

	// Cluster lists seed addresses of a Redis Cluster.
	Cluster []string

	// SentinelMaster and Sentinels select a sentinel-managed deployment.
	SentinelMaster string
	Sentinels      []string

	Username string
	Password string
	Database int

	DialTimeout time.Duration // 0 => 5s
}

// Mode derives the deployment from the populated fields. Cluster wins over
// sentinel, sentinel over a socket, a socket over TCP.
func (d Descriptor) Mode() Mode {
	switch {
	case len(d.Cluster) > 0:
		return ModeCluster
	case d.SentinelMaster != "" && len(d.Sentinels) > 0:
		return ModeSentinel
	case d.socketPath() != "":
		return ModeUnix
	default:
		return ModeTCP
	}
}

func (d Descriptor) socketPath() string {
	if d.Socket != "" {
		return d.Socket
	}
	if strings.Contains(d.Host, "/") {
		return d.Host
	}
	return ""
}

// Addr is the TCP address, defaulting to 127.0.0.1:6379.
func (d Descriptor) Addr() string {
	host := d.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := d.Port
	if port == 0 {
		port = 6379
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Client builds the go-redis client for the descriptor without connecting.
func (d Descriptor) Client() goredis.UniversalClient {
	dial := d.DialTimeout
	if dial <= 0 {
		dial = 5 * time.Second
	}
	switch d.Mode() {
	case ModeCluster:
		return goredis.NewClusterClient(&goredis.ClusterOptions{
			Addrs:       d.Cluster,
			Username:    d.Username,
			Password:    d.Password,
			DialTimeout: dial,
		})
	case ModeSentinel:
		return goredis.NewFailoverClient(&goredis.FailoverOptions{
			MasterName:    d.SentinelMaster,
			SentinelAddrs: d.Sentinels,
			Username:      d.Username,
			Password:      d.Password,
			DB:            d.Database,
			DialTimeout:   dial,
		})
	case ModeUnix:
		return goredis.NewClient(&goredis.Options{
			Network:     "unix",
			Addr:        d.socketPath(),
			Username:    d.Username,
			Password:    d.Password,
			DB:          d.Database,
			DialTimeout: dial,
		})
	default:
		return goredis.NewClient(&goredis.Options{
			Addr:        d.Addr(),
			Username:    d.Username,
			Password:    d.Password,
			DB:          d.Database,
			DialTimeout: dial,
		})
	}
}

// ConnectRedis builds the client and pings it. On failure the client is
// closed, the error is logged, and a wrapped error is returned.
func ConnectRedis(ctx context.Context, d Descriptor, l log.Logger) (goredis.UniversalClient, error) {
	l = log.OrNop(l)
	c := d.Client()
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		l.Error("redis connection failed", log.Fields{"mode": d.Mode().String(), "err": err})
		return nil, fmt.Errorf("connection: redis %s: %w", d.Mode(), err)
	}
	l.Info("redis connected", log.Fields{"mode": d.Mode().String(), "db": d.Database})
	return c, nil
}
