package codec

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// CBOR must be built with NewCBOR. The canonical form sorts map keys so
// equal values always produce equal bytes, which list pages depend on when
// they are compared or deduplicated by content.
type CBOR[V any] struct {
	em cbor.EncMode
	dm cbor.DecMode
}

var _ Codec[struct{}] = CBOR[struct{}]{}

func NewCBOR[V any](canonical bool) (CBOR[V], error) {
	enc := cbor.PreferredUnsortedEncOptions()
	if canonical {
		enc = cbor.CoreDetEncOptions()
	}
	enc.Time = cbor.TimeRFC3339Nano

	dec := cbor.DecOptions{
		DupMapKey:        cbor.DupMapKeyEnforcedAPF,
		MaxArrayElements: 1 << 20,
	}

	var c CBOR[V]
	var err error
	if c.em, err = enc.EncMode(); err != nil {
		return CBOR[V]{}, fmt.Errorf("cbor enc mode: %w", err)
	}
	if c.dm, err = dec.DecMode(); err != nil {
		return CBOR[V]{}, fmt.Errorf("cbor dec mode: %w", err)
	}
	return c, nil
}

func MustCBOR[V any](canonical bool) CBOR[V] {
	c, err := NewCBOR[V](canonical)
	if err != nil {
		panic(err)
	}
	return c
}

func (c CBOR[V]) Encode(v V) ([]byte, error) { return c.em.Marshal(v) }

func (c CBOR[V]) Decode(b []byte) (V, error) {
	var v V
	if err := c.dm.Unmarshal(b, &v); err != nil {
		return v, fmt.Errorf("cbor decode %T: %w", v, err)
	}
	return v, nil
}
