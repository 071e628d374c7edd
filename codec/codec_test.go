package codec

import (
	"strings"
	"testing"
	"time"
)

type record struct {
	ID      string    `json:"id"`
	Tags    []string  `json:"tags"`
	Updated time.Time `json:"updated"`
}

// Clone must hand back a value that shares no memory with the input.
func TestCloneIsIndependent(t *testing.T) {
	in := record{ID: "p1", Tags: []string{"a", "b"}}
	for name, c := range map[string]Codec[record]{
		"json":    JSON[record]{},
		"msgpack": Msgpack[record]{},
		"cbor":    MustCBOR[record](true),
	} {
		out, err := Clone(c, in)
		if err != nil {
			t.Fatalf("%s: Clone: %v", name, err)
		}
		out.Tags[0] = "mutated"
		if in.Tags[0] != "a" {
			t.Fatalf("%s: clone aliases input slice", name)
		}
	}
}

func TestLimitRejectsOversized(t *testing.T) {
	c := Limit[string]{Inner: String{}, MaxDecode: 4}
	if _, err := c.Decode([]byte("12345")); err == nil || !strings.Contains(err.Error(), "too large") {
		t.Fatalf("expected size error, got %v", err)
	}
	if v, err := c.Decode([]byte("1234")); err != nil || v != "1234" {
		t.Fatalf("boundary decode: v=%q err=%v", v, err)
	}
}

func TestBytesDecodeCopies(t *testing.T) {
	src := []byte("abc")
	out, _ := Bytes{}.Decode(src)
	out[0] = 'z'
	if src[0] != 'a' {
		t.Fatalf("Bytes.Decode aliases input")
	}
}
