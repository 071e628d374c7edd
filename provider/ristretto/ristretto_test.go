package ristretto

import (
	"context"
	"testing"
	"time"
)

func TestPagesSetGetDel(t *testing.T) {
	ctx := context.Background()
	p, err := New(DefaultConfig(1 << 20))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = p.Close(ctx) })

	const key = "list:productList:e1:abc"
	if ok, _ := p.Set(ctx, key, []byte("page-1"), 0, time.Minute); !ok {
		t.Fatal("page not admitted")
	}
	p.Wait()
	if b, ok, err := p.Get(ctx, key); err != nil || !ok || string(b) != "page-1" {
		t.Fatalf("Get = %q %v %v", b, ok, err)
	}

	_ = p.Del(ctx, key)
	p.Wait()
	if _, ok, _ := p.Get(ctx, key); ok {
		t.Fatal("page survived Del")
	}
}

func TestDefaultConfigFloor(t *testing.T) {
	cfg := DefaultConfig(1024)
	if cfg.NumCounters != 1000 || cfg.MaxCost != 1024 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg := DefaultConfig(64 << 20); cfg.NumCounters != (64<<20)/pageSizeGuess*10 {
		t.Fatalf("counters = %d", cfg.NumCounters)
	}
}

func TestNewRejectsZeroConfig(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("zero config accepted")
	}
	if _, err := New(Config{MaxCost: 1}); err == nil {
		t.Fatal("missing counters accepted")
	}
}

func TestMetricsOnlyWhenEnabled(t *testing.T) {
	ctx := context.Background()
	off, _ := New(DefaultConfig(1 << 16))
	defer off.Close(ctx)
	if off.Metrics() != nil {
		t.Fatal("metrics present without Config.Metrics")
	}
	cfg := DefaultConfig(1 << 16)
	cfg.Metrics = true
	on, _ := New(cfg)
	defer on.Close(ctx)
	if on.Metrics() == nil {
		t.Fatal("metrics missing")
	}
}
