package remote

import (
	"errors"
	"fmt"

	"github.com/duplexbus/duplex/codec"
)

// argumentsField is the envelope key carrying emit arguments when the
// payload is not a structured value of its own.
const argumentsField = "arguments"

// Envelope errors
var (
	ErrMissingIdentifier = errors.New("inbound envelope has no identifier field")
)

// encodeEnvelope builds the outbound wire form of an emit. A sole
// structured argument (anything that encodes to a key-value object) has
// the identifier field injected into it directly; everything else is
// wrapped as {<field>: id, arguments: ...}.
func encodeEnvelope(c codec.Codec, field, id string, args []any) ([]byte, error) {
	if len(args) == 1 {
		if data, ok, err := injectIdentifier(c, field, id, args[0]); err != nil {
			return nil, err
		} else if ok {
			return data, nil
		}
	}

	env := map[string]any{field: id}
	switch len(args) {
	case 0:
	case 1:
		env[argumentsField] = args[0]
	default:
		env[argumentsField] = args
	}
	return c.Encode(env)
}

// injectIdentifier reports whether v is a structured value and, if so,
// returns its encoding with the identifier field set. The check is done by
// round-tripping through the codec: only values that decode back into a
// key-value object qualify.
func injectIdentifier(c codec.Codec, field, id string, v any) ([]byte, bool, error) {
	data, err := c.Encode(v)
	if err != nil {
		return nil, false, err
	}
	var m map[string]any
	if err := c.Decode(data, &m); err != nil || m == nil {
		return nil, false, nil
	}
	m[field] = id
	data, err = c.Encode(m)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// decodeEnvelope parses an inbound frame and extracts the raw routing
// identifier. The full envelope is returned so handlers receive the
// entire object, identifier field included.
func decodeEnvelope(c codec.Codec, field string, data []byte) (string, map[string]any, error) {
	var env map[string]any
	if err := c.Decode(data, &env); err != nil {
		return "", nil, err
	}
	id, ok := env[field].(string)
	if !ok || id == "" {
		return "", nil, fmt.Errorf("%w: %q", ErrMissingIdentifier, field)
	}
	return id, env, nil
}
