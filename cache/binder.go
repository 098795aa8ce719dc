package cache

import (
	"github.com/unkn0wn-root/forumdb/log"
	"github.com/unkn0wn-root/forumdb/pubsub"
)

// binder ties one facade to its two invalidation channels.
type binder struct {
	bus  pubsub.Bus
	name string
	kind string
	log  log.Logger
}

// DelChannel and ResetChannel name the invalidation channels of a cache.
func DelChannel(name, kind string) string   { return name + ":" + kind + ":del" }
func ResetChannel(name, kind string) string { return name + ":" + kind + ":reset" }

// subscribe installs the remote side. Deliveries from this process arrive too
// and are harmless: evicting twice is a no-op.
func (b *binder) subscribe(evict func(keys []string), reset func()) {
	b.bus.On(DelChannel(b.name, b.kind), func(m pubsub.Message) {
		var keys []string
		if err := m.Decode(&keys); err != nil {
			b.log.Warn("ignoring invalidation with undecodable keys", log.Fields{"err": err})
			return
		}
		evict(keys)
	})
	b.bus.On(ResetChannel(b.name, b.kind), func(pubsub.Message) { reset() })
}

// The bus reports failures to its hooks; the facade only notes them.
func (b *binder) publishDel(keys []string) {
	if err := b.bus.Publish(DelChannel(b.name, b.kind), keys); err != nil {
		b.log.Warn("cache del not broadcast", log.Fields{"keys": len(keys), "err": err})
	}
}

func (b *binder) publishReset() {
	if err := b.bus.Publish(ResetChannel(b.name, b.kind), nil); err != nil {
		b.log.Warn("cache reset not broadcast", log.Fields{"err": err})
	}
}
