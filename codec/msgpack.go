package codec

import (
	"errors"

	"github.com/vmihailenco/msgpack/v5"
)

// MsgPack implements Codec using MessagePack serialization.
// MessagePack is a binary format that's more compact than JSON
// while maintaining schema-less flexibility. Both peers must agree
// on the codec; the default wire format stays JSON.
type MsgPack struct{}

// Encode serializes a value to MessagePack bytes
func (c MsgPack) Encode(v any) ([]byte, error) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, errors.Join(ErrEncodeFailure, err)
	}
	return data, nil
}

// Decode deserializes MessagePack bytes into v
func (c MsgPack) Decode(data []byte, v any) error {
	if err := msgpack.Unmarshal(data, v); err != nil {
		return errors.Join(ErrDecodeFailure, err)
	}
	return nil
}

// ContentType returns the MIME type for MessagePack
func (c MsgPack) ContentType() string {
	return "application/msgpack"
}

// Name returns the codec identifier
func (c MsgPack) Name() string {
	return "msgpack"
}

// Compile-time check
var _ Codec = MsgPack{}
