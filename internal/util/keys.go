package util

import (
	"fmt"
	"slices"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// SetKey names a set of members independent of their order or repetition.
// The result is prefix + ":" + 16 hex chars.
func SetKey(prefix string, members []string) string {
	return HashKey(prefix, strings.Join(UniqSorted(members), "\x00"))
}

// HashKey is prefix + ":" + the zero padded hex xxhash64 of s.
func HashKey(prefix, s string) string {
	return fmt.Sprintf("%s:%016x", prefix, xxhash.Sum64String(s))
}

// UniqSorted leaves keys untouched; nil in, nil out.
func UniqSorted(keys []string) []string {
	if len(keys) == 0 {
		return nil
	}
	out := slices.Clone(keys)
	slices.Sort(out)
	return slices.Compact(out)
}
