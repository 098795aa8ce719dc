package zset

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/unkn0wn-root/forumdb/hooks"
	"github.com/unkn0wn-root/forumdb/log"
)

var ErrUnknownBackend = errors.New("zset: backend not registered")

// Backend enumerates the storage engines the contract is defined for. Only
// backends linked into the binary (by importing their package) can be opened.
type Backend int

const (
	BackendSQLite Backend = iota + 1
	BackendPostgres
	BackendRedis
	BackendMongo
)

var backendNames = map[Backend]string{
	BackendSQLite:   "sqlite",
	BackendPostgres: "postgres",
	BackendRedis:    "redis",
	BackendMongo:    "mongo",
}

func (b Backend) String() string {
	if n, ok := backendNames[b]; ok {
		return n
	}
	return fmt.Sprintf("backend(%d)", int(b))
}

// ParseBackend maps a configuration name onto a Backend.
func ParseBackend(name string) (Backend, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for b, s := range backendNames {
		if s == n {
			return b, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
}

// Config is what every backend factory receives.
type Config struct {
	// Path locates the database (a file for sqlite).
	Path         string
	MaxOpenConns int
	BusyTimeout  time.Duration

	Logger log.Logger
	Hooks  hooks.Hooks
}

// Factory opens a backend.
type Factory func(ctx context.Context, cfg Config) (Store, error)

var (
	regMu    sync.RWMutex
	registry = map[Backend]Factory{}
)

// Register installs the factory for b. Backends call it from init.
// Registering the same backend twice panics.
func Register(b Backend, f Factory) {
	regMu.Lock()
	defer regMu.Unlock()
	if f == nil {
		panic("zset: Register factory is nil")
	}
	if _, dup := registry[b]; dup {
		panic("zset: Register called twice for " + b.String())
	}
	registry[b] = f
}

// Registered lists the backends linked into this binary.
func Registered() []Backend {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]Backend, 0, len(registry))
	for b := range registry {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Open resolves b and opens it.
func Open(ctx context.Context, b Backend, cfg Config) (Store, error) {
	regMu.RLock()
	f, ok := registry[b]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, b)
	}
	return f(ctx, cfg)
}
