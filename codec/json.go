package codec

import "encoding/json"

// JSONCodec is the default document encoding: human-readable, and nested
// payload values decode to the same types the normalized value domain uses.
type JSONCodec[V any] struct{}

func (JSONCodec[V]) Encode(v V) ([]byte, error) { return json.Marshal(v) }
func (JSONCodec[V]) Decode(b []byte) (V, error) {
	var v V
	err := json.Unmarshal(b, &v)
	return v, err
}
