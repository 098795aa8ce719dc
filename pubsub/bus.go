// Package pubsub is the cross-process notification bus used for cache
// coherency and application broadcasts.
//
// Three interchangeable topologies implement Bus:
//
//	Standalone         Local: synchronous in-process emitter
//	SingleHostCluster  IPC:   frames to/from a supervising parent (see Hub)
//	MultiHostCluster   Redis: one channel per logical database index
//
// Delivery is best-effort and at-least-once, with no ordering across
// channels. Subscribers must be idempotent.
package pubsub

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/forumdb/codec"
	"github.com/unkn0wn-root/forumdb/hooks"
	"github.com/unkn0wn-root/forumdb/log"
)

// Application channels that share the bus with cache invalidation.
const (
	BlacklistReload = "blacklist:reload"
)

// SettingsSetChannel is the channel announcing a settings object was saved.
func SettingsSetChannel(hash string) string { return "action:settings.set." + hash }

var (
	ErrClosed      = errors.New("pubsub: bus closed")
	ErrNoTransport = errors.New("pubsub: cluster mode requires a transport (single-host channel or redis)")
)

// PublishError reports a publish the transport did not accept.
type PublishError struct {
	Event string
	Err   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("pubsub: publish %q: %v", e.Event, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// Bus is the publish/subscribe surface shared by every topology.
type Bus interface {
	// Publish delivers data to every handler registered for event, on every
	// process of the deployment (this one included).
	Publish(event string, data any) error
	On(event string, h Handler)
	RemoveAllListeners(event string)
	Close() error
}

// Handler receives one message. Handlers run on the transport's delivery
// goroutine and must not block for long.
type Handler func(Message)

// Message is one delivered event. Data stays encoded until Decode is called
// so every topology hands handlers the same representation.
type Message struct {
	Event string
	data  []byte
	codec codec.Codec
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	if len(m.data) == 0 {
		return nil
	}
	return m.codec.Unmarshal(m.data, v)
}

// Raw returns the encoded payload.
func (m Message) Raw() []byte { return m.data }

// envelope is the on-the-wire form for transports that cross a process
// boundary. Data holds bytes produced by the same codec; the JSON codec
// embeds them verbatim.
type envelope struct {
	Event string          `json:"event" msgpack:"event" cbor:"event"`
	Data  json.RawMessage `json:"data,omitempty" msgpack:"data,omitempty" cbor:"data,omitempty"`
}

// base carries what every topology shares: handler registry, codec, logging.
type base struct {
	codec codec.Codec
	log   log.Logger
	hooks hooks.Hooks

	mu       sync.RWMutex
	handlers map[string][]Handler

	closed atomic.Bool
}

func (b *base) init(c codec.Codec, l log.Logger, h hooks.Hooks) {
	if c == nil {
		c = codec.JSON{}
	}
	b.codec = c
	b.log = log.OrNop(l)
	b.hooks = hooks.OrNop(h)
	b.handlers = make(map[string][]Handler)
}

func (b *base) On(event string, h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	b.handlers[event] = append(b.handlers[event], h)
	b.mu.Unlock()
}

func (b *base) RemoveAllListeners(event string) {
	b.mu.Lock()
	delete(b.handlers, event)
	b.mu.Unlock()
}

func (b *base) listenerCount(event string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[event])
}

// emit calls every handler for m.Event. Handlers are snapshotted so they may
// register or remove listeners themselves.
func (b *base) emit(m Message) {
	b.mu.RLock()
	hs := append([]Handler(nil), b.handlers[m.Event]...)
	b.mu.RUnlock()
	for _, h := range hs {
		b.call(h, m)
	}
}

func (b *base) call(h Handler, m Message) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("pubsub handler panicked", log.Fields{"event": m.Event, "panic": r})
		}
	}()
	h(m)
}

func (b *base) encodeData(event string, data any) ([]byte, error) {
	raw, err := b.codec.Marshal(data)
	if err != nil {
		return nil, &PublishError{Event: event, Err: err}
	}
	return raw, nil
}

func (b *base) encodeEnvelope(event string, data any) ([]byte, error) {
	raw, err := b.encodeData(event, data)
	if err != nil {
		return nil, err
	}
	out, err := b.codec.Marshal(envelope{Event: event, Data: raw})
	if err != nil {
		return nil, &PublishError{Event: event, Err: err}
	}
	return out, nil
}

// decodeEnvelope turns transport bytes back into a Message. Malformed input
// is reported and dropped; it never reaches handlers.
func (b *base) decodeEnvelope(channel string, payload []byte) (Message, bool) {
	var env envelope
	if err := b.codec.Unmarshal(payload, &env); err != nil {
		b.malformed(channel, err)
		return Message{}, false
	}
	if env.Event == "" {
		b.malformed(channel, errors.New("missing event"))
		return Message{}, false
	}
	return Message{Event: env.Event, data: env.Data, codec: b.codec}, true
}

func (b *base) malformed(channel string, err error) {
	b.log.Warn("dropping malformed pubsub payload", log.Fields{"channel": channel, "err": err})
	b.hooks.MalformedMessage(channel, err)
}

func (b *base) publishFailed(event string, err error) {
	b.log.Error("pubsub publish failed", log.Fields{"event": event, "err": err})
	b.hooks.PublishFailed(event, err)
}
