// Package wire frames the bytes the cache writes to storage it does not own:
// list pages in a provider and entries in the persisted mirror. Every frame
// starts with a four byte magic, a version and a kind, and must end exactly
// where its payload does.
package wire

import (
	"encoding/binary"
	"errors"
	"math"
	"time"
)

const (
	version   byte = 1
	kindPage  byte = 1
	kindEntry byte = 3
)

var (
	ErrCorrupt  = errors.New("storecache: corrupt entry")
	ErrTooLarge = errors.New("storecache: field too large for frame")

	magicPage  = [4]byte{'S', 'C', 'Q', 'C'}
	magicEntry = [4]byte{'S', 'C', 'P', 'E'}
)

func header(dst []byte, magic [4]byte, kind byte) []byte {
	dst = append(dst, magic[:]...)
	return append(dst, version, kind)
}

// reader consumes a frame front to back; any short read latches bad.
type reader struct {
	b   []byte
	bad bool
}

func (r *reader) take(n int) []byte {
	if r.bad || n < 0 || n > len(r.b) {
		r.bad = true
		return nil
	}
	out := r.b[:n]
	r.b = r.b[n:]
	return out
}

func (r *reader) u16() uint16 {
	if b := r.take(2); b != nil {
		return binary.BigEndian.Uint16(b)
	}
	return 0
}

func (r *reader) u32() uint32 {
	if b := r.take(4); b != nil {
		return binary.BigEndian.Uint32(b)
	}
	return 0
}

func (r *reader) u64() uint64 {
	if b := r.take(8); b != nil {
		return binary.BigEndian.Uint64(b)
	}
	return 0
}

func (r *reader) header(magic [4]byte, kind byte) {
	h := r.take(6)
	if h == nil || [4]byte(h[:4]) != magic || h[4] != version || h[5] != kind {
		r.bad = true
	}
}

// rest returns the remaining bytes when exactly n are left.
func (r *reader) rest(n int) []byte {
	if r.bad || n != len(r.b) {
		r.bad = true
		return nil
	}
	return r.b
}

// EncodePage frames a list page with the epoch it was computed under:
//
//	magic "SCQC" | ver | kind | epoch u64 | len u32 | payload
func EncodePage(epoch uint64, payload []byte) []byte {
	out := make([]byte, 0, 18+len(payload))
	out = header(out, magicPage, kindPage)
	out = binary.BigEndian.AppendUint64(out, epoch)
	out = binary.BigEndian.AppendUint32(out, uint32(len(payload)))
	return append(out, payload...)
}

// DecodePage returns a payload that aliases b.
func DecodePage(b []byte) (epoch uint64, payload []byte, err error) {
	r := reader{b: b}
	r.header(magicPage, kindPage)
	epoch = r.u64()
	n := r.u32()
	payload = r.rest(int(n))
	if r.bad {
		return 0, nil, ErrCorrupt
	}
	return epoch, payload, nil
}

// Entry is one persisted cache entry.
type Entry struct {
	SchemaVersion uint16
	StoredAt      time.Time
	DataType      string
	Payload       []byte
}

// EncodeEntry lays out:
//
//	magic "SCPE" | ver | kind | schema u16 | storedAt i64 unix nanos |
//	typeLen u16 | dataType | len u32 | payload
func EncodeEntry(e Entry) ([]byte, error) {
	if e.DataType == "" || len(e.DataType) > math.MaxUint16 || uint64(len(e.Payload)) > math.MaxUint32 {
		return nil, ErrTooLarge
	}
	out := make([]byte, 0, 26+len(e.DataType)+len(e.Payload))
	out = header(out, magicEntry, kindEntry)
	out = binary.BigEndian.AppendUint16(out, e.SchemaVersion)
	out = binary.BigEndian.AppendUint64(out, uint64(e.StoredAt.UnixNano()))
	out = binary.BigEndian.AppendUint16(out, uint16(len(e.DataType)))
	out = append(out, e.DataType...)
	out = binary.BigEndian.AppendUint32(out, uint32(len(e.Payload)))
	return append(out, e.Payload...), nil
}

// DecodeEntry reports every framing fault as ErrCorrupt. Payload aliases b.
func DecodeEntry(b []byte) (Entry, error) {
	r := reader{b: b}
	r.header(magicEntry, kindEntry)
	var e Entry
	e.SchemaVersion = r.u16()
	e.StoredAt = time.Unix(0, int64(r.u64()))
	dt := r.take(int(r.u16()))
	if len(dt) == 0 {
		r.bad = true
	}
	e.DataType = string(dt)
	n := r.u32()
	e.Payload = r.rest(int(n))
	if r.bad {
		return Entry{}, ErrCorrupt
	}
	return e, nil
}
