package forumdb

import (
	"context"
	"fmt"
	"io"

	"github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/forumdb/cache"
	"github.com/unkn0wn-root/forumdb/codec"
	"github.com/unkn0wn-root/forumdb/config"
	"github.com/unkn0wn-root/forumdb/connection"
	"github.com/unkn0wn-root/forumdb/hooks"
	"github.com/unkn0wn-root/forumdb/log"
	"github.com/unkn0wn-root/forumdb/pubsub"
	"github.com/unkn0wn-root/forumdb/zset"
	_ "github.com/unkn0wn-root/forumdb/zset/sqlstore" // registers zset.BackendSQLite
)

// Options carry the process-level collaborators Init cannot read from
// configuration.
type Options struct {
	Logger log.Logger // if nil, log.Nop is used
	Hooks  hooks.Hooks

	// Channel overrides the supervisor channel of a single-host cluster.
	// When nil it is taken from the environment (pubsub.ChannelFromEnv).
	Channel io.ReadWriteCloser
	// Redis overrides the client built from the redis block.
	Redis redis.UniversalClient
	// NoStore skips opening the database (bus-only processes).
	NoStore bool
}

// Deployment is everything a process shares: one bus and one store.
type Deployment struct {
	Topology pubsub.Topology
	Bus      pubsub.Bus
	Store    zset.Store // nil with Options.NoStore

	log   log.Logger
	hooks hooks.Hooks
}

// Init selects the bus topology, connects its transport and opens the
// store. Nothing is left open when it fails.
func Init(ctx context.Context, cfg config.Config, opts Options) (*Deployment, error) {
	l := coalesce[log.Logger](opts.Logger, log.Nop{})
	h := hooks.OrNop(opts.Hooks)

	topo, err := cfg.Topology()
	if err != nil {
		return nil, fmt.Errorf("forumdb: %w", err)
	}
	cd, err := codec.ByName(cfg.PubSub.Codec)
	if err != nil {
		return nil, fmt.Errorf("forumdb: %w", err)
	}
	if cfg.PubSub.MaxPayload > 0 {
		cd = codec.Limit{Inner: cd, MaxDecode: cfg.PubSub.MaxPayload}
	}

	po := pubsub.Options{
		Cluster:           cfg.Cluster,
		SingleHostCluster: cfg.SingleHostCluster,
		PublishTimeout:    cfg.PubSub.PublishTimeout,
		Codec:             cd,
		Logger:            l,
		Hooks:             h,
	}
	switch topo {
	case pubsub.SingleHostCluster:
		po.Channel = opts.Channel
		if po.Channel == nil {
			rw, ok, err := pubsub.ChannelFromEnv()
			if err != nil {
				return nil, fmt.Errorf("forumdb: %w", err)
			}
			if ok {
				po.Channel = rw
			}
		}
	case pubsub.MultiHostCluster:
		d, _ := cfg.Descriptor()
		po.Database = d.Database
		po.Redis = opts.Redis
		if po.Redis == nil {
			client, err := connection.ConnectRedis(ctx, d, l)
			if err != nil {
				return nil, fmt.Errorf("forumdb: %w", err)
			}
			po.Redis = client
			po.CloseClient = true
		}
	}

	bus, topo, err := pubsub.New(ctx, po)
	if err != nil {
		if po.CloseClient {
			_ = po.Redis.Close()
		}
		return nil, fmt.Errorf("forumdb: %w", err)
	}
	dep := &Deployment{Topology: topo, Bus: bus, log: l, hooks: h}

	if !opts.NoStore {
		backend, err := cfg.Backend()
		if err != nil {
			_ = bus.Close()
			return nil, fmt.Errorf("forumdb: %w", err)
		}
		sc := cfg.Store()
		sc.Logger, sc.Hooks = l, h
		st, err := zset.Open(ctx, backend, sc)
		if err != nil {
			_ = bus.Close()
			return nil, fmt.Errorf("forumdb: open %s store: %w", backend, err)
		}
		dep.Store = st
	}

	l.Info("forumdb ready", log.Fields{
		"topology": topo.String(),
		"codec":    cd.Name(),
		"backend":  cfg.Database.Backend,
		"store":    !opts.NoStore,
	})
	return dep, nil
}

// Close closes the store, then the bus.
func (d *Deployment) Close() error {
	var ce CloseError
	if d.Store != nil {
		ce.StoreErr = d.Store.Close()
	}
	if d.Bus != nil {
		ce.BusErr = d.Bus.Close()
	}
	if ce.BusErr != nil || ce.StoreErr != nil {
		return &ce
	}
	return nil
}

// NewLRU builds an LRU cache bound to the deployment's bus. Logger and Hooks
// default to the deployment's.
func NewLRU[V any](d *Deployment, opts cache.LRUOptions[V]) *cache.LRU[V] {
	opts.Bus = d.Bus
	opts.Logger = coalesce[log.Logger](opts.Logger, d.log)
	opts.Hooks = coalesce[hooks.Hooks](opts.Hooks, d.hooks)
	return cache.NewLRU(opts)
}

// NewTTL builds a TTL cache bound to the deployment's bus.
func NewTTL[V any](d *Deployment, opts cache.TTLOptions) *cache.TTL[V] {
	opts.Bus = d.Bus
	opts.Logger = coalesce[log.Logger](opts.Logger, d.log)
	opts.Hooks = coalesce[hooks.Hooks](opts.Hooks, d.hooks)
	return cache.NewTTL[V](opts)
}
