// Package codec implements the wire envelope for inbound messages.
package codec

import (
	"github.com/vmihailenco/msgpack/v5"

	relayerrors "github.com/hivemesh/relay/internal/errors"
)

// Envelope is the msgpack-framed unit clients publish. Kind names the
// application-level message type; Body is the opaque payload the router
// persists and fans out untouched.
type Envelope struct {
	Kind string `msgpack:"kind"`
	Body []byte `msgpack:"body"`
}

// Decode parses a raw inbound frame. A frame that is not a valid msgpack
// envelope or carries no kind is a malformed message: the error is
// per-message and recoverable, never connection-fatal.
func Decode(raw []byte) (*Envelope, error) {
	if len(raw) == 0 {
		return nil, relayerrors.MalformedMessage("empty frame", nil)
	}

	var env Envelope
	if err := msgpack.Unmarshal(raw, &env); err != nil {
		return nil, relayerrors.MalformedMessage("invalid msgpack frame", err)
	}
	if env.Kind == "" {
		return nil, relayerrors.MalformedMessage("missing kind", nil)
	}

	return &env, nil
}

// Encode serializes an envelope for delivery
func Encode(env *Envelope) ([]byte, error) {
	data, err := msgpack.Marshal(env)
	if err != nil {
		return nil, relayerrors.InternalError("failed to encode envelope", err)
	}
	return data, nil
}
