package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"strings"
	"testing"
	"time"
)

func TestPageRoundTrip(t *testing.T) {
	for _, tc := range []struct {
		epoch   uint64
		payload []byte
	}{
		{0, nil},
		{42, []byte("page")},
		{math.MaxUint64, []byte{0, 1, 2, 3}},
	} {
		epoch, p, err := DecodePage(EncodePage(tc.epoch, tc.payload))
		if err != nil {
			t.Fatalf("epoch %d: %v", tc.epoch, err)
		}
		if epoch != tc.epoch || !bytes.Equal(p, tc.payload) {
			t.Fatalf("got (%d, %x), want (%d, %x)", epoch, p, tc.epoch, tc.payload)
		}
	}
}

func TestPageRejectsDamage(t *testing.T) {
	good := EncodePage(1, []byte("abc"))
	// epoch occupies bytes 6..13, length 14..17
	damage := map[string]func([]byte) []byte{
		"magic":    func(b []byte) []byte { b[0] = 'X'; return b },
		"version":  func(b []byte) []byte { b[4]++; return b },
		"kind":     func(b []byte) []byte { b[5] = kindEntry; return b },
		"length":   func(b []byte) []byte { binary.BigEndian.PutUint32(b[14:18], 4); return b },
		"trailing": func(b []byte) []byte { return append(b, 0xDE) },
		"short":    func(b []byte) []byte { return b[:len(b)-1] },
		"header":   func(b []byte) []byte { return b[:9] },
	}
	for name, fn := range damage {
		b := fn(append([]byte(nil), good...))
		if _, _, err := DecodePage(b); !errors.Is(err, ErrCorrupt) {
			t.Errorf("%s: err = %v", name, err)
		}
	}
}

func TestFramesDoNotCrossDecode(t *testing.T) {
	if _, err := DecodeEntry(EncodePage(3, []byte("p"))); err == nil {
		t.Fatal("entry decoder accepted a page")
	}
	entry, err := EncodeEntry(Entry{SchemaVersion: 1, StoredAt: time.Unix(1, 0), DataType: "cart", Payload: []byte("p")})
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := DecodePage(entry); err == nil {
		t.Fatal("page decoder accepted an entry")
	}
}

func TestEntryRoundTrip(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 30, 0, 123456789, time.UTC)
	for _, in := range []Entry{
		{SchemaVersion: 1, StoredAt: at, DataType: "product", Payload: []byte(`{"id":"p1"}`)},
		{SchemaVersion: math.MaxUint16, StoredAt: at, DataType: "cart"},
		{StoredAt: time.Unix(0, 0), DataType: strings.Repeat("t", 300), Payload: []byte{0, 1}},
	} {
		b, err := EncodeEntry(in)
		if err != nil {
			t.Fatal(err)
		}
		got, err := DecodeEntry(b)
		if err != nil {
			t.Fatal(err)
		}
		if got.SchemaVersion != in.SchemaVersion || got.DataType != in.DataType || !got.StoredAt.Equal(in.StoredAt) || !bytes.Equal(got.Payload, in.Payload) {
			t.Fatalf("got %+v, want %+v", got, in)
		}
	}
}

func TestEncodeEntryLimits(t *testing.T) {
	if _, err := EncodeEntry(Entry{}); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("empty data type: %v", err)
	}
	if _, err := EncodeEntry(Entry{DataType: strings.Repeat("d", math.MaxUint16+1)}); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("oversized data type: %v", err)
	}
	if _, err := EncodeEntry(Entry{DataType: strings.Repeat("d", math.MaxUint16)}); err != nil {
		t.Fatalf("max data type: %v", err)
	}
}

func TestEntryRejectsDamage(t *testing.T) {
	good, err := EncodeEntry(Entry{SchemaVersion: 2, StoredAt: time.Unix(10, 0), DataType: "cart", Payload: []byte("xyz")})
	if err != nil {
		t.Fatal(err)
	}
	// type length at 16..17, payload length right after the 4 byte type
	const lenAt = 18 + len("cart")
	damage := map[string]func([]byte) []byte{
		"magic":       func(b []byte) []byte { b[1] = 'X'; return b },
		"version":     func(b []byte) []byte { b[4]++; return b },
		"type length": func(b []byte) []byte { binary.BigEndian.PutUint16(b[16:18], 200); return b },
		"empty type":  func(b []byte) []byte { binary.BigEndian.PutUint16(b[16:18], 0); return b },
		"length":      func(b []byte) []byte { binary.BigEndian.PutUint32(b[lenAt:lenAt+4], 4); return b },
		"trailing":    func(b []byte) []byte { return append(b, 0) },
		"header":      func(b []byte) []byte { return b[:10] },
	}
	for name, fn := range damage {
		if _, err := DecodeEntry(fn(append([]byte(nil), good...))); !errors.Is(err, ErrCorrupt) {
			t.Errorf("%s: err = %v", name, err)
		}
	}
}
