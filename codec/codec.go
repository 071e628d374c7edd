// Package codec converts typed records to bytes and back.
//
// The cache keeps every entry in encoded form, so a codec round trip is also
// how readers get their own copy of a record: two Gets of the same key never
// share memory, and mutating a returned value cannot leak into the cache.
package codec

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}

// Clone returns an independent copy of v by encoding and decoding it with c.
func Clone[V any](c Codec[V], v V) (V, error) {
	b, err := c.Encode(v)
	if err != nil {
		var zero V
		return zero, err
	}
	return c.Decode(b)
}
