package zap

import (
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/yigitcankzl/storecache"
)

func TestLoggerWritesFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := New(zap.New(core))

	l.Warn("persistence save failed", storecache.Fields{"key": "product:p1", "err": errors.New("disk full")})
	l.Debug("swept expired entries", nil)

	entries := logs.AllUntimed()
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	e := entries[0]
	if e.LoggerName != "storecache" || e.Level != zapcore.WarnLevel {
		t.Fatalf("entry = %+v", e.Entry)
	}
	ctx := e.ContextMap()
	if ctx["key"] != "product:p1" || ctx["err"] != "disk full" {
		t.Fatalf("fields = %v", ctx)
	}
}
