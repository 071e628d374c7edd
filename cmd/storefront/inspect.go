package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	cli "github.com/urfave/cli/v2"

	"github.com/yigitcankzl/storecache/catalog"
)

var inspectCmd = &cli.Command{
	Name:  "inspect",
	Usage: "list the persisted cache mirror without changing it",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "bad-only",
			Usage: "only show blobs that would be discarded on the next start",
		},
	},
	Action: runInspect,
}

func runInspect(cctx *cli.Context) error {
	ctx := cctx.Context
	e, err := newEnv(cctx)
	if err != nil {
		return err
	}
	defer e.Close()

	bridge, err := e.openBridge(cctx, nil)
	if err != nil {
		return err
	}
	if bridge == nil {
		return errors.New("inspect needs --persist=pebble or --persist=redis")
	}
	defer bridge.Close()

	types := catalog.DefaultTypes()
	ttlFor := func(dt string) time.Duration {
		if cfg, ok := types[dt]; ok {
			return cfg.TTL
		}
		return 5 * time.Minute
	}
	now := time.Now()
	blobs, err := bridge.Inspect(ctx, ttlFor, now)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tTYPE\tAGE\tSIZE\tSTATUS")
	shown := 0
	for _, b := range blobs {
		if cctx.Bool("bad-only") && b.Status == "ok" {
			continue
		}
		age := "-"
		if !b.StoredAt.IsZero() {
			age = now.Sub(b.StoredAt).Round(time.Second).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", b.Key, b.DataType, age, b.Size, b.Status)
		shown++
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Printf("%d of %d blobs\n", shown, len(blobs))
	return nil
}
