// Package config loads a deployment description from YAML with FORUMDB_*
// environment overrides.
//
// Example:
//
//	cluster: true
//	singleHostCluster: false
//	database:
//	  backend: sqlite
//	  path: /var/lib/forumdb/forum.db
//	redis:
//	  host: 10.0.0.5
//	  port: 6379
//	  database: 0
//	pubsub:
//	  codec: msgpack
//	log:
//	  format: zap
//	  level: info
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/unkn0wn-root/forumdb/connection"
	"github.com/unkn0wn-root/forumdb/pubsub"
	"github.com/unkn0wn-root/forumdb/zset"
)

const (
	DefaultBackend   = "sqlite"
	DefaultPath      = "forumdb.db"
	DefaultCodec     = "json"
	DefaultLogFormat = "zap"
	DefaultLogLevel  = "info"
)

type Config struct {
	Cluster           bool `yaml:"cluster"`
	SingleHostCluster bool `yaml:"singleHostCluster"`
	// Deprecated: use Cluster.
	IsCluster *bool `yaml:"isCluster,omitempty"`

	Database Database `yaml:"database"`
	// Redis is optional. Its presence makes a multi-host cluster possible.
	Redis  *Redis `yaml:"redis,omitempty"`
	PubSub PubSub `yaml:"pubsub"`
	Log    Log    `yaml:"log"`
}

type Database struct {
	Backend      string        `yaml:"backend"`
	Path         string        `yaml:"path"`
	MaxOpenConns int           `yaml:"maxOpenConns"`
	BusyTimeout  time.Duration `yaml:"busyTimeout"`
}

type Redis struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	Socket         string        `yaml:"socket,omitempty"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	Database       int           `yaml:"database"`
	Cluster        []string      `yaml:"cluster,omitempty"`
	SentinelMaster string        `yaml:"sentinelMaster,omitempty"`
	Sentinels      []string      `yaml:"sentinels,omitempty"`
	DialTimeout    time.Duration `yaml:"dialTimeout"`
	// Deprecated: use Database.
	DB *int `yaml:"db,omitempty"`
}

type PubSub struct {
	Codec          string        `yaml:"codec"`
	PublishTimeout time.Duration `yaml:"publishTimeout"`
	// MaxPayload rejects inbound messages larger than this many bytes.
	// 0 accepts any size.
	MaxPayload int `yaml:"maxPayload"`
}

type Log struct {
	Format string `yaml:"format"` // zap | logrus | slog
	Level  string `yaml:"level"`
}

// Load reads path (skipped when empty), applies the environment and
// normalizes. Warnings describe deprecated keys that were rewritten.
func Load(path string) (Config, []string, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, nil, fmt.Errorf("config: %w", err)
		}
		if c, err = Parse(b); err != nil {
			return Config{}, nil, err
		}
	}
	c, err := ApplyEnv(c, os.LookupEnv)
	if err != nil {
		return Config{}, nil, err
	}
	c, warns := Normalize(c)
	return c, warns, nil
}

// Parse decodes YAML. Unknown keys are errors.
func Parse(b []byte) (Config, error) {
	var c Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("config: parse: %w", err)
	}
	return c, nil
}

// ApplyEnv overlays FORUMDB_* variables found by lookup. Any FORUMDB_REDIS_*
// variable creates the redis block.
func ApplyEnv(c Config, lookup func(string) (string, bool)) (Config, error) {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok {
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := lookup(name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = b
		}
	}
	integer := func(name string, dst *int) {
		if v, ok := lookup(name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = n
		}
	}

	boolean("FORUMDB_CLUSTER", &c.Cluster)
	boolean("FORUMDB_SINGLE_HOST_CLUSTER", &c.SingleHostCluster)
	str("FORUMDB_DATABASE_BACKEND", &c.Database.Backend)
	str("FORUMDB_DATABASE_PATH", &c.Database.Path)
	str("FORUMDB_PUBSUB_CODEC", &c.PubSub.Codec)
	str("FORUMDB_LOG_FORMAT", &c.Log.Format)
	str("FORUMDB_LOG_LEVEL", &c.Log.Level)

	for _, name := range []string{"FORUMDB_REDIS_HOST", "FORUMDB_REDIS_PORT", "FORUMDB_REDIS_PASSWORD", "FORUMDB_REDIS_DATABASE"} {
		if _, ok := lookup(name); ok {
			r := Redis{}
			if c.Redis != nil {
				r = *c.Redis
			}
			str("FORUMDB_REDIS_HOST", &r.Host)
			integer("FORUMDB_REDIS_PORT", &r.Port)
			str("FORUMDB_REDIS_PASSWORD", &r.Password)
			integer("FORUMDB_REDIS_DATABASE", &r.Database)
			c.Redis = &r
			break
		}
	}
	if len(errs) > 0 {
		return Config{}, fmt.Errorf("config: env: %w", errors.Join(errs...))
	}
	return c, nil
}

// Normalize rewrites deprecated keys and fills defaults. It does not modify
// c; deprecated keys lose to their replacements when both are set.
func Normalize(c Config) (Config, []string) {
	var warns []string
	if c.IsCluster != nil {
		warns = append(warns, "isCluster is deprecated, use cluster")
		if !c.Cluster {
			c.Cluster = *c.IsCluster
		}
		c.IsCluster = nil
	}
	if c.Redis != nil {
		r := *c.Redis
		if r.DB != nil {
			warns = append(warns, "redis.db is deprecated, use redis.database")
			if r.Database == 0 {
				r.Database = *r.DB
			}
			r.DB = nil
		}
		c.Redis = &r
	}

	c.Database.Backend = strings.ToLower(coalesce(c.Database.Backend, DefaultBackend))
	c.Database.Path = coalesce(c.Database.Path, DefaultPath)
	c.PubSub.Codec = strings.ToLower(coalesce(c.PubSub.Codec, DefaultCodec))
	c.Log.Format = strings.ToLower(coalesce(c.Log.Format, DefaultLogFormat))
	c.Log.Level = strings.ToLower(coalesce(c.Log.Level, DefaultLogLevel))
	return c, warns
}

// Topology applies pubsub.SelectTopology to the configuration inputs.
func (c Config) Topology() (pubsub.Topology, error) {
	return pubsub.SelectTopology(c.Cluster, c.SingleHostCluster, c.Redis != nil)
}

// Backend resolves database.backend.
func (c Config) Backend() (zset.Backend, error) {
	return zset.ParseBackend(c.Database.Backend)
}

// Store is the backend configuration of the database block.
func (c Config) Store() zset.Config {
	return zset.Config{
		Path:         c.Database.Path,
		MaxOpenConns: c.Database.MaxOpenConns,
		BusyTimeout:  c.Database.BusyTimeout,
	}
}

// Descriptor converts the redis block. ok is false when there is none.
func (c Config) Descriptor() (d connection.Descriptor, ok bool) {
	if c.Redis == nil {
		return connection.Descriptor{}, false
	}
	r := c.Redis
	return connection.Descriptor{
		Host:           r.Host,
		Port:           r.Port,
		Socket:         r.Socket,
		Username:       r.Username,
		Password:       r.Password,
		Database:       r.Database,
		Cluster:        r.Cluster,
		SentinelMaster: r.SentinelMaster,
		Sentinels:      r.Sentinels,
		DialTimeout:    r.DialTimeout,
	}, true
}

func coalesce(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
