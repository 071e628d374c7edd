package main

import (
	"fmt"
	"os"

	_ "github.com/joho/godotenv/autoload"

	cli "github.com/urfave/cli/v2"
)

func main() {
	if err := run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	app := cli.App{
		Name:  "storefront",
		Usage: "product catalog storefront on top of storecache",
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "persist",
			Usage:   "where cache entries are mirrored across restarts: pebble, redis or none",
			Value:   "pebble",
			EnvVars: []string{"STOREFRONT_PERSIST"},
		},
		&cli.StringFlag{
			Name:    "pebble-dir",
			Usage:   "pebble directory for the persisted mirror",
			Value:   "./data/storecache",
			EnvVars: []string{"STOREFRONT_PEBBLE_DIR"},
		},
		&cli.StringFlag{
			Name:    "redis-addr",
			Usage:   "redis address, used by --persist=redis and --list-cache=redis",
			Value:   "localhost:6379",
			EnvVars: []string{"STOREFRONT_REDIS_ADDR", "REDIS_ADDR"},
		},
		&cli.StringFlag{
			Name:    "namespace",
			Usage:   "namespace for persisted blobs and redis keys",
			Value:   "storefront",
			EnvVars: []string{"STOREFRONT_NAMESPACE"},
		},
		&cli.StringFlag{
			Name:    "list-cache",
			Usage:   "byte cache for list pages: ristretto, bigcache, redis or memory",
			Value:   "ristretto",
			EnvVars: []string{"STOREFRONT_LIST_CACHE"},
		},
		&cli.Int64Flag{
			Name:    "list-cache-bytes",
			Usage:   "size bound of the in-process list cache",
			Value:   64 << 20,
			EnvVars: []string{"STOREFRONT_LIST_CACHE_BYTES"},
		},
		&cli.StringFlag{
			Name:    "log-backend",
			Usage:   "logger behind the cache: zap, logrus or slog",
			Value:   "zap",
			EnvVars: []string{"STOREFRONT_LOG_BACKEND"},
		},
		&cli.BoolFlag{
			Name:    "debug",
			Usage:   "log at debug level",
			EnvVars: []string{"STOREFRONT_DEBUG"},
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "serve Prometheus /metrics on this address; empty disables",
			EnvVars: []string{"STOREFRONT_METRICS_LISTEN"},
		},
	}

	app.Commands = []*cli.Command{
		demoCmd,
		inspectCmd,
	}

	return app.Run(args)
}
