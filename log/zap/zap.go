// Package zap adapts go.uber.org/zap to storecache.Logger.
package zap

import (
	"sort"

	"go.uber.org/zap"

	"github.com/yigitcankzl/storecache"
)

var _ storecache.Logger = Logger{}

type Logger struct{ L *zap.Logger }

// New names l "storecache" and skips the adapter frame so reported callers
// point into the store.
func New(l *zap.Logger) Logger {
	return Logger{L: l.Named("storecache").WithOptions(zap.AddCallerSkip(1))}
}

func (z Logger) Debug(msg string, f storecache.Fields) { z.L.Debug(msg, zf(f)...) }
func (z Logger) Info(msg string, f storecache.Fields)  { z.L.Info(msg, zf(f)...) }
func (z Logger) Warn(msg string, f storecache.Fields)  { z.L.Warn(msg, zf(f)...) }
func (z Logger) Error(msg string, f storecache.Fields) { z.L.Error(msg, zf(f)...) }

// zf converts fields in key order so output is stable.
func zf(f storecache.Fields) []zap.Field {
	if len(f) == 0 {
		return nil
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(f))
	for _, k := range keys {
		if err, ok := f[k].(error); ok {
			out = append(out, zap.NamedError(k, err))
			continue
		}
		out = append(out, zap.Any(k, f[k]))
	}
	return out
}
