// Package wire frames messages exchanged between a supervisor and its child
// processes over a byte stream (pipes or sockets).
package wire

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	version byte = 1

	// KindPubSub tags a frame carrying a pub/sub envelope. Receivers ignore
	// frames of other kinds.
	KindPubSub byte = 1
	// KindControl is reserved for supervisor/child control messages.
	KindControl byte = 2

	hdrLen = 4 + 1 + 1 + 4

	// DefaultMaxPayload bounds a single frame when the reader sets no limit.
	DefaultMaxPayload = 8 << 20
)

var (
	ErrCorrupt  = errors.New("forumdb: corrupt frame")
	ErrTooLarge = errors.New("forumdb: frame too large")
	magic4      = [...]byte{'F', 'D', 'B', 'M'}
)

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Frame: magic(4) | ver(1) | kind(1) | plen(u32 be) | payload(plen)
func EncodeFrame(kind byte, payload []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(hdrLen + len(payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kind)

	var u4 [4]byte
	binary.BigEndian.PutUint32(u4[:], uint32(len(payload)))
	buf.Write(u4[:])

	buf.Write(payload)
	return buf.Bytes()
}

// DecodeFrame decodes exactly one frame. Trailing bytes are rejected.
func DecodeFrame(b []byte) (kind byte, payload []byte, err error) {
	if len(b) < hdrLen || !hasMagic(b) || b[4] != version {
		return 0, nil, ErrCorrupt
	}
	kind = b[5]
	plen := int(binary.BigEndian.Uint32(b[6:hdrLen]))
	if plen < 0 || plen != len(b)-hdrLen {
		return 0, nil, ErrCorrupt
	}
	return kind, b[hdrLen:], nil
}

// Reader reads frames from a stream.
type Reader struct {
	r   *bufio.Reader
	max int
}

// NewReader returns a Reader. maxPayload <= 0 selects DefaultMaxPayload.
func NewReader(r io.Reader, maxPayload int) *Reader {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}
	return &Reader{r: bufio.NewReader(r), max: maxPayload}
}

// Next returns the next frame. It returns io.EOF on a clean end of stream and
// io.ErrUnexpectedEOF when the stream ends mid-frame.
func (fr *Reader) Next() (kind byte, payload []byte, err error) {
	var hdr [hdrLen]byte
	if _, err := io.ReadFull(fr.r, hdr[:]); err != nil {
		return 0, nil, err
	}
	if !hasMagic(hdr[:]) || hdr[4] != version {
		return 0, nil, ErrCorrupt
	}
	plen := int(binary.BigEndian.Uint32(hdr[6:]))
	if plen < 0 || plen > fr.max {
		return 0, nil, fmt.Errorf("%w: %d > %d", ErrTooLarge, plen, fr.max)
	}
	payload = make([]byte, plen)
	if _, err := io.ReadFull(fr.r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return 0, nil, err
	}
	return hdr[5], payload, nil
}

// WriteFrame writes one frame with a single Write call so frames from
// concurrent writers never interleave on pipes that guarantee atomic writes.
// Callers sharing a writer should still serialize access.
func WriteFrame(w io.Writer, kind byte, payload []byte) error {
	_, err := w.Write(EncodeFrame(kind, payload))
	return err
}
