package codec

import "encoding/json"

// JSON uses encoding/json. Field names follow `json` struct tags, which
// makes persisted blobs readable when inspecting a local store by hand.
type JSON[V any] struct{}

var _ Codec[struct{}] = JSON[struct{}]{}

func (JSON[V]) Encode(v V) ([]byte, error) { return json.Marshal(v) }
func (JSON[V]) Decode(b []byte) (V, error) {
	var v V
	err := json.Unmarshal(b, &v)
	return v, err
}
