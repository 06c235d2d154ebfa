package codec

import (
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Values serializes map[string]any payloads through protobuf's Struct
// well-known type. structpb also defines the normalized value domain every
// backend agrees on: nil, bool, float64, string, []any, map[string]any.
// The zero value is ready to use.
type Values struct{}

var _ Codec[map[string]any] = Values{}

func (Values) Encode(m map[string]any) ([]byte, error) {
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(s)
}

func (Values) Decode(b []byte) (map[string]any, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(b, &s); err != nil {
		return nil, err
	}
	return s.AsMap(), nil
}

// Normalize maps m into the Values domain without serializing: integers and
// float32s widen to float64, []byte becomes a base64 string, nested maps and
// slices are rebuilt as map[string]any / []any. Values outside the domain
// (channels, funcs, arbitrary structs, time.Time, ...) are rejected with an
// error. Writers normalize payloads once so readers observe identical types
// no matter which backend served them.
func Normalize(m map[string]any) (map[string]any, error) {
	if m == nil {
		return nil, nil
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, err
	}
	return s.AsMap(), nil
}
