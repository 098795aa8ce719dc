package pubsub

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/forumdb/codec"
	"github.com/unkn0wn-root/forumdb/hooks"
	"github.com/unkn0wn-root/forumdb/log"
)

// Topology is one of the mutually exclusive deployment modes of the bus.
type Topology int

const (
	Standalone Topology = iota
	SingleHostCluster
	MultiHostCluster
)

func (t Topology) String() string {
	switch t {
	case Standalone:
		return "standalone"
	case SingleHostCluster:
		return "single-host-cluster"
	case MultiHostCluster:
		return "multi-host-cluster"
	default:
		return fmt.Sprintf("topology(%d)", int(t))
	}
}

// SelectTopology is the precedence rule for the three configuration inputs:
//
//	cluster  singleHost  remote   topology
//	false    any         any      Standalone
//	true     true        any      SingleHostCluster
//	true     false       true     MultiHostCluster
//	true     false       false    ErrNoTransport
func SelectTopology(cluster, singleHost, remote bool) (Topology, error) {
	switch {
	case !cluster:
		return Standalone, nil
	case singleHost:
		return SingleHostCluster, nil
	case remote:
		return MultiHostCluster, nil
	default:
		return 0, ErrNoTransport
	}
}

// Options select and configure a bus.
type Options struct {
	Cluster           bool
	SingleHostCluster bool

	// Channel is the pipe to the supervising parent (SingleHostCluster). Nil
	// means the process runs unsupervised and publishes emit locally.
	Channel io.ReadWriteCloser

	// Redis is the remote transport (MultiHostCluster). Its presence is the
	// "remote" input to SelectTopology.
	Redis          redis.UniversalClient
	Database       int
	PublishTimeout time.Duration
	CloseClient    bool

	Codec  codec.Codec
	Logger log.Logger
	Hooks  hooks.Hooks
}

// New builds the bus the options select. For MultiHostCluster the client is
// pinged first; a failure is returned and nothing is subscribed.
func New(ctx context.Context, opts Options) (Bus, Topology, error) {
	topo, err := SelectTopology(opts.Cluster, opts.SingleHostCluster, opts.Redis != nil)
	if err != nil {
		return nil, 0, err
	}
	l := log.OrNop(opts.Logger)

	switch topo {
	case SingleHostCluster:
		if opts.Channel == nil {
			l.Warn("single-host cluster without a parent channel, publishing locally", nil)
		}
		return NewIPC(opts.Channel, IPCOptions{Codec: opts.Codec, Logger: l, Hooks: opts.Hooks}), topo, nil
	case MultiHostCluster:
		if err := opts.Redis.Ping(ctx).Err(); err != nil {
			l.Error("pubsub redis unreachable", log.Fields{"err": err})
			return nil, 0, fmt.Errorf("pubsub: redis ping: %w", err)
		}
		return NewRedis(opts.Redis, RedisOptions{
			Codec:          opts.Codec,
			Logger:         l,
			Hooks:          opts.Hooks,
			Database:       opts.Database,
			PublishTimeout: opts.PublishTimeout,
			CloseClient:    opts.CloseClient,
		}), topo, nil
	default:
		return NewLocal(opts.Codec, l, opts.Hooks), topo, nil
	}
}

var (
	defMu  sync.Mutex
	defBus Bus
)

// Init builds the process bus and installs it as the default. A second call
// without Reset returns the installed bus unchanged.
func Init(ctx context.Context, opts Options) (Bus, error) {
	defMu.Lock()
	defer defMu.Unlock()
	if defBus != nil {
		return defBus, nil
	}
	b, topo, err := New(ctx, opts)
	if err != nil {
		return nil, err
	}
	log.OrNop(opts.Logger).Info("pubsub ready", log.Fields{"topology": topo.String()})
	defBus = b
	return b, nil
}

// Default returns the installed bus. Before Init it installs a standalone
// bus, so code that never configured clustering still works.
func Default() Bus {
	defMu.Lock()
	defer defMu.Unlock()
	if defBus == nil {
		defBus = NewLocal(nil, nil, nil)
	}
	return defBus
}

// Reset closes and forgets the installed bus so the next Init or Default
// selects again. Tests only.
func Reset() error {
	defMu.Lock()
	b := defBus
	defBus = nil
	defMu.Unlock()
	if b == nil {
		return nil
	}
	return b.Close()
}
