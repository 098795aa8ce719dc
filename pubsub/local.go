package pubsub

import (
	"github.com/unkn0wn-root/forumdb/codec"
	"github.com/unkn0wn-root/forumdb/hooks"
	"github.com/unkn0wn-root/forumdb/log"
)

// Local is the standalone topology: Publish is a synchronous emit to the
// handlers of this process. Payloads still pass through the codec so handlers
// see exactly what a remote transport would deliver.
type Local struct {
	base
}

var _ Bus = (*Local)(nil)

func NewLocal(c codec.Codec, l log.Logger, h hooks.Hooks) *Local {
	b := &Local{}
	b.init(c, l, h)
	return b
}

func (b *Local) Publish(event string, data any) error {
	if b.closed.Load() {
		return ErrClosed
	}
	raw, err := b.encodeData(event, data)
	if err != nil {
		b.publishFailed(event, err)
		return err
	}
	b.emit(Message{Event: event, data: raw, codec: b.codec})
	return nil
}

func (b *Local) Close() error {
	b.closed.Store(true)
	return nil
}
