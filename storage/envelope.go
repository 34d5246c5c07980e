package storage

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	envelopeVer  = 1
	codecMsgPack = "msgpack"
)

// Envelope is a stored record: a msgpack payload tagged with its format so
// older caches can be detected and discarded.
type Envelope struct {
	Ver     int    `msgpack:"ver"`
	Codec   string `msgpack:"codec"`
	Payload []byte `msgpack:"payload"`
}

// Encode serializes v into an Envelope.
func Encode(v any) (*Envelope, error) {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding record: %w", err)
	}
	return &Envelope{Ver: envelopeVer, Codec: codecMsgPack, Payload: payload}, nil
}

// Decode deserializes the payload of env into v, which must be a pointer.
func Decode(env *Envelope, v any) error {
	if env == nil {
		return fmt.Errorf("decoding record: %w", ErrNotFound)
	}
	if env.Ver != envelopeVer {
		return fmt.Errorf("unsupported envelope version: %d", env.Ver)
	}
	if env.Codec != codecMsgPack {
		return fmt.Errorf("unsupported envelope codec: %s", env.Codec)
	}
	if err := msgpack.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("decoding record: %w", err)
	}
	return nil
}

// Clone returns a deep copy.
func (e *Envelope) Clone() *Envelope {
	if e == nil {
		return nil
	}
	return &Envelope{
		Ver:     e.Ver,
		Codec:   e.Codec,
		Payload: append([]byte(nil), e.Payload...),
	}
}

// MarshalBinary encodes the envelope itself for byte-oriented backends.
func (e *Envelope) MarshalBinary() ([]byte, error) {
	type plain Envelope
	return msgpack.Marshal((*plain)(e))
}

// UnmarshalBinary reverses MarshalBinary.
func (e *Envelope) UnmarshalBinary(b []byte) error {
	type plain Envelope
	return msgpack.Unmarshal(b, (*plain)(e))
}
