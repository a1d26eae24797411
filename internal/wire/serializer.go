package wire

import "encoding/json"

// Serializer is the pluggable body codec: Encode turns a value into bytes,
// Decode reconstructs it.
// The registry core only depends on this interface, never on a concrete
// encoding, so a protobuf or gob serializer can be swapped in without
// touching the frame header logic.
type Serializer interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
}

// JSONSerializer is the default Serializer, built on encoding/json; see
// DESIGN.md for why a generated-code serializer (protobuf) was not used
// instead.
type JSONSerializer struct{}

func (JSONSerializer) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONSerializer) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// envelope carries a typed payload alongside the sequence/version pair every
// Message body needs, letting Serializer stay generic over T.
type envelope[T any] struct {
	Sequence uint64 `json:"sequence"`
	Version  int64  `json:"version"`
	Data     T      `json:"data"`
}

func encodeTypedBody[T any](ser Serializer, sequence uint64, version int64, data T) ([]byte, error) {
	return ser.Encode(envelope[T]{Sequence: sequence, Version: version, Data: data})
}

func decodeTypedBody[T any](ser Serializer, body []byte) (sequence uint64, version int64, data T, err error) {
	var env envelope[T]
	if err = ser.Decode(body, &env); err != nil {
		return 0, 0, data, err
	}
	return env.Sequence, env.Version, env.Data, nil
}
