// Package hooks defines lightweight callbacks for high-signal coherency and
// storage events. Sinks live in the subpackages: async (bounded queue) and
// slog (sampled structured logs).
package hooks

import "time"

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The bus and the stores call them on hot paths.
type Hooks interface {
	// An inbound bus payload could not be decoded and was dropped.
	MalformedMessage(channel string, err error)

	// A publish could not be handed to the transport.
	// Invalidations are best-effort, so callers never see this error.
	PublishFailed(event string, err error)

	// Messages queued while the transport was connecting were flushed.
	PendingFlushed(channel string, count int)

	// A streaming cursor gave its connection back to the pool.
	// err is the error that ended the iteration, nil on exhaustion.
	CursorReleased(key string, batches int, held time.Duration, err error)

	// A deprecated option was rewritten during normalization.
	DeprecatedOption(component, option, replacement string)
}

// Nop is the default no-op
type Nop struct{}

func (Nop) MalformedMessage(string, error)                   {}
func (Nop) PublishFailed(string, error)                      {}
func (Nop) PendingFlushed(string, int)                       {}
func (Nop) CursorReleased(string, int, time.Duration, error) {}
func (Nop) DeprecatedOption(string, string, string)          {}

// OrNop returns h, or Nop when h is nil.
func OrNop(h Hooks) Hooks {
	if h == nil {
		return Nop{}
	}
	return h
}
