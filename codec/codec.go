// Package codec provides the serializers used for pub/sub envelopes.
// A codec must round-trip plain data (strings, numbers, slices, maps and
// structs with exported fields); every process of a deployment must use the
// same one.
package codec

import "fmt"

// Codec encodes/decodes values to []byte for transport.
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(b []byte, v any) error
}

// ByName resolves a configured codec name. The empty name selects JSON.
func ByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSON{}, nil
	case "msgpack":
		return Msgpack{}, nil
	case "cbor":
		return NewCBOR(false)
	default:
		return nil, fmt.Errorf("codec: unknown codec %q", name)
	}
}
