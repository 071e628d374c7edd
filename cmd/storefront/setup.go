package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/yigitcankzl/storecache"
	"github.com/yigitcankzl/storecache/catalog"
	logrusadapter "github.com/yigitcankzl/storecache/log/logrus"
	slogadapter "github.com/yigitcankzl/storecache/log/slog"
	zapadapter "github.com/yigitcankzl/storecache/log/zap"
	"github.com/yigitcankzl/storecache/persist"
	pebblebackend "github.com/yigitcankzl/storecache/persist/pebble"
	redisbackend "github.com/yigitcankzl/storecache/persist/redis"
	pr "github.com/yigitcankzl/storecache/provider"
	bcprov "github.com/yigitcankzl/storecache/provider/bigcache"
	rprov "github.com/yigitcankzl/storecache/provider/redis"
	rcprov "github.com/yigitcankzl/storecache/provider/ristretto"
)

// env holds what every command shares: loggers, the metrics registry and a
// lazily dialed redis client.
type env struct {
	zlog   *zap.Logger
	slog   *slog.Logger
	logger storecache.Logger
	reg    *prometheus.Registry

	rdb     *goredis.Client
	metrics *http.Server
}

func newEnv(cctx *cli.Context) (*env, error) {
	debug := cctx.Bool("debug")

	zcfg := zap.NewProductionConfig()
	zcfg.Encoding = "console"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if debug {
		zcfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	zlog, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}

	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	e := &env{
		zlog: zlog,
		slog: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})),
		reg:  prometheus.NewRegistry(),
	}
	e.reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	switch b := cctx.String("log-backend"); b {
	case "zap":
		e.logger = zapadapter.New(zlog)
	case "logrus":
		l := logrus.New()
		l.SetOutput(os.Stderr)
		if debug {
			l.SetLevel(logrus.DebugLevel)
		}
		e.logger = logrusadapter.New(l)
	case "slog":
		e.logger = slogadapter.New(e.slog)
	default:
		return nil, fmt.Errorf("unknown --log-backend %q", b)
	}
	return e, nil
}

func (e *env) redis(cctx *cli.Context) *goredis.Client {
	if e.rdb == nil {
		e.rdb = goredis.NewClient(&goredis.Options{Addr: cctx.String("redis-addr")})
	}
	return e.rdb
}

// openBridge returns nil when persistence is disabled.
func (e *env) openBridge(cctx *cli.Context, hooks storecache.Hooks) (*persist.Bridge, error) {
	var backend persist.Backend
	switch p := cctx.String("persist"); p {
	case "none", "":
		return nil, nil
	case "pebble":
		dir := cctx.String("pebble-dir")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
		b, err := pebblebackend.Open(pebblebackend.Options{Dir: dir})
		if err != nil {
			return nil, fmt.Errorf("opening pebble: %w", err)
		}
		backend = b
	case "redis":
		b, err := redisbackend.New(redisbackend.Config{Client: e.redis(cctx)})
		if err != nil {
			return nil, err
		}
		backend = b
	default:
		return nil, fmt.Errorf("unknown --persist %q", p)
	}
	return persist.New(backend, persist.Options{
		Namespace: cctx.String("namespace"),
		Logger:    e.logger,
		Hooks:     hooks,
	})
}

func (e *env) listProvider(ctx context.Context, cctx *cli.Context) (pr.Provider, error) {
	switch p := cctx.String("list-cache"); p {
	case "memory":
		return pr.NewBoundedMemory(nil, catalog.DefaultTypes()[catalog.DataProductList].MaxItems), nil
	case "ristretto":
		return rcprov.New(rcprov.DefaultConfig(cctx.Int64("list-cache-bytes")))
	case "bigcache":
		return bcprov.New(ctx, bcprov.Config{
			LifeWindow:         10 * time.Minute,
			HardMaxCacheSizeMB: int(cctx.Int64("list-cache-bytes") >> 20),
		})
	case "redis":
		return rprov.New(rprov.Config{Client: e.redis(cctx), Prefix: cctx.String("namespace") + ":"})
	default:
		return nil, fmt.Errorf("unknown --list-cache %q", p)
	}
}

func (e *env) serveMetrics(cctx *cli.Context) {
	addr := cctx.String("metrics-listen")
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.reg, promhttp.HandlerOpts{Registry: e.reg}))
	e.metrics = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := e.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.zlog.Error("metrics server failed", zap.Error(err))
		}
	}()
	e.zlog.Info("serving metrics", zap.String("addr", addr))
}

func (e *env) Close() {
	if e.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = e.metrics.Shutdown(ctx)
		cancel()
	}
	if e.rdb != nil {
		_ = e.rdb.Close()
	}
	_ = e.zlog.Sync()
}
