package pubsub

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/forumdb/codec"
	"github.com/unkn0wn-root/forumdb/hooks"
	"github.com/unkn0wn-root/forumdb/internal/wire"
	"github.com/unkn0wn-root/forumdb/log"
)

// EnvIPCFDs names the environment variable through which a supervisor passes
// the child's end of the channel: "<read-fd>,<write-fd>".
const EnvIPCFDs = "FORUMDB_IPC_FDS"

// ipcChannel is the name reported for frames arriving from the parent.
const ipcChannel = "ipc:parent"

// IPC is the single-host cluster topology. Publish sends a tagged frame to the
// parent, which relays it to every child (this one included). Without a live
// channel Publish falls back to a local emit.
type IPC struct {
	base

	wmu  sync.Mutex
	rw   io.ReadWriteCloser
	live atomic.Bool

	maxPayload int
	done       chan struct{}
}

var _ Bus = (*IPC)(nil)

// IPCOptions configure NewIPC.
type IPCOptions struct {
	Codec      codec.Codec
	Logger     log.Logger
	Hooks      hooks.Hooks
	MaxPayload int // inbound frame limit; 0 => wire.DefaultMaxPayload
}

// NewIPC wraps the channel to the parent. A nil channel yields a bus that
// only emits locally.
func NewIPC(rw io.ReadWriteCloser, opts IPCOptions) *IPC {
	b := &IPC{rw: rw, maxPayload: opts.MaxPayload, done: make(chan struct{})}
	b.init(opts.Codec, opts.Logger, opts.Hooks)
	if rw == nil {
		close(b.done)
		return b
	}
	b.live.Store(true)
	go b.readLoop()
	return b
}

func (b *IPC) Publish(event string, data any) error {
	if b.closed.Load() {
		return ErrClosed
	}
	if !b.live.Load() {
		raw, err := b.encodeData(event, data)
		if err != nil {
			b.publishFailed(event, err)
			return err
		}
		b.emit(Message{Event: event, data: raw, codec: b.codec})
		return nil
	}

	payload, err := b.encodeEnvelope(event, data)
	if err != nil {
		b.publishFailed(event, err)
		return err
	}
	b.wmu.Lock()
	err = wire.WriteFrame(b.rw, wire.KindPubSub, payload)
	b.wmu.Unlock()
	if err != nil {
		err = &PublishError{Event: event, Err: err}
		b.publishFailed(event, err)
		return err
	}
	return nil
}

// Connected reports whether the channel to the parent is still open.
func (b *IPC) Connected() bool { return b.live.Load() }

func (b *IPC) readLoop() {
	defer close(b.done)
	fr := wire.NewReader(b.rw, b.maxPayload)
	for {
		kind, payload, err := fr.Next()
		if err != nil {
			b.live.Store(false)
			if !b.closed.Load() && !errors.Is(err, io.EOF) {
				b.log.Warn("ipc channel closed", log.Fields{"err": err})
			}
			return
		}
		if kind != wire.KindPubSub {
			continue
		}
		if m, ok := b.decodeEnvelope(ipcChannel, payload); ok {
			b.emit(m)
		}
	}
}

func (b *IPC) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	b.live.Store(false)
	var err error
	if b.rw != nil {
		err = b.rw.Close()
	}
	<-b.done
	return err
}

// ChannelFromEnv opens the channel a supervisor handed to this process.
// ok is false when the process was not started by a supervisor.
func ChannelFromEnv() (rw io.ReadWriteCloser, ok bool, err error) {
	v := os.Getenv(EnvIPCFDs)
	if v == "" {
		return nil, false, nil
	}
	parts := strings.Split(v, ",")
	if len(parts) != 2 {
		return nil, false, fmt.Errorf("pubsub: %s=%q: want <read-fd>,<write-fd>", EnvIPCFDs, v)
	}
	rfd, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return nil, false, fmt.Errorf("pubsub: %s read fd: %w", EnvIPCFDs, err)
	}
	wfd, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return nil, false, fmt.Errorf("pubsub: %s write fd: %w", EnvIPCFDs, err)
	}
	r := os.NewFile(uintptr(rfd), "ipc-read")
	w := os.NewFile(uintptr(wfd), "ipc-write")
	if r == nil || w == nil {
		return nil, false, fmt.Errorf("pubsub: %s=%q: invalid descriptor", EnvIPCFDs, v)
	}
	return PipeChannel(r, w), true, nil
}

// PipeChannel joins a read end and a write end into one channel.
func PipeChannel(r io.ReadCloser, w io.WriteCloser) io.ReadWriteCloser {
	return &pipeRW{r: r, w: w}
}

type pipeRW struct {
	r io.ReadCloser
	w io.WriteCloser
}

func (p *pipeRW) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p *pipeRW) Write(b []byte) (int, error) { return p.w.Write(b) }
func (p *pipeRW) Close() error {
	werr := p.w.Close()
	rerr := p.r.Close()
	return errors.Join(werr, rerr)
}
