package storecache

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by operations on a Store after Close.
var ErrClosed = errors.New("storecache: store closed")

// EncodeError reports a value that the dataType's codec refused to encode.
// Nothing is stored when it is returned.
type EncodeError struct {
	DataType string
	Key      string
	Err      error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("storecache: encode %s:%s: %v", e.DataType, e.Key, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// DecodeError reports a freshly fetched value that could not be decoded back
// after encoding (a codec that does not round-trip its own output).
type DecodeError struct {
	DataType string
	Key      string
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("storecache: decode %s:%s: %v", e.DataType, e.Key, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
