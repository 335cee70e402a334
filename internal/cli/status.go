package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/urfave/cli/v3"

	"github.com/tobert/rdmwatch/internal/view"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// StatusCommand returns the CLI command definition for the 'status' subcommand.
func StatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Poll the device and print the dashboard",
		Description: `Runs one poll (two with --rate, one interval apart, so refresh rates
are known) and prints the rendered dashboard.`,
		Flags: append(commonFlags(),
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print the dashboard as JSON",
			},
			&cli.BoolFlag{
				Name:  "rate",
				Usage: "Poll twice so refresh rates can be derived",
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runStatus(ctx, cfg, cmd.Bool("rate"), cmd.Bool("json"), os.Stdout)
		},
	}
}

func runStatus(ctx context.Context, cfg *Config, rate, asJSON bool, out io.Writer) error {
	c, err := newComponents(cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	c.sched.Tick(ctx)
	if rate {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.sched.Interval()):
		}
		c.sched.Tick(ctx)
	}

	v := view.Render(c.store.Snapshot(), c.center.List(), c.source, time.Now())
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		err = enc.Encode(v)
	} else {
		err = view.WriteText(out, v)
	}
	if err != nil {
		return err
	}
	if !v.Connected {
		return fmt.Errorf("device %s is offline", cfg.DeviceURL)
	}
	return nil
}
