// Package codec provides envelope serialization for the remote channel.
//
// Supported formats:
//   - JSON (default, matches the wire format most peers speak)
//   - MessagePack (binary, for peers that negotiate it)
package codec

import "errors"

// Codec errors
var (
	ErrEncodeFailure = errors.New("failed to encode envelope")
	ErrDecodeFailure = errors.New("failed to decode envelope")
)

// Codec serializes outbound envelopes and deserializes inbound frames.
// Implementations must be safe for concurrent use.
type Codec interface {
	// Encode serializes a value to bytes.
	// Returns ErrEncodeFailure if serialization fails.
	Encode(v any) ([]byte, error)

	// Decode deserializes bytes into v.
	// Returns ErrDecodeFailure if deserialization fails.
	Decode(data []byte, v any) error

	// ContentType returns the MIME type for this codec (e.g., "application/json").
	ContentType() string

	// Name returns a short identifier for this codec (e.g., "json", "msgpack").
	Name() string
}

// Default returns the default codec (JSON)
func Default() Codec {
	return JSON{}
}
