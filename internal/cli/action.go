package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/tobert/rdmwatch/internal/device"
	"github.com/tobert/rdmwatch/internal/notify"
)

// ActionCommand returns the CLI command definition for the 'action'
// subcommand group: one-shot device commands.
func ActionCommand() *cli.Command {
	return &cli.Command{
		Name:  "action",
		Usage: "Run a device command",
		Commands: []*cli.Command{
			{
				Name:  "blackout",
				Usage: "Set every channel of a port to zero",
				Flags: append(commonFlags(), portFlag()),
				Action: withDevice(func(ctx context.Context, c *components, cmd *cli.Command, out io.Writer) error {
					return c.actions.Blackout(ctx, cmd.Int("port"))
				}),
			},
			{
				Name:  "discover",
				Usage: "Run RDM discovery and list the responders",
				Flags: commonFlags(),
				Action: withDevice(func(ctx context.Context, c *components, cmd *cli.Command, out io.Writer) error {
					devices, err := c.actions.DiscoverRDM(ctx)
					if err != nil {
						return err
					}
					printRDMDevices(out, devices)
					return nil
				}),
			},
			{
				Name:  "merge-mode",
				Usage: "Set a port's merge mode (HTP or LTP)",
				Flags: append(commonFlags(), portFlag(), &cli.StringFlag{
					Name:     "mode",
					Usage:    "HTP or LTP",
					Required: true,
				}),
				Action: withDevice(func(ctx context.Context, c *components, cmd *cli.Command, out io.Writer) error {
					mode, ok := device.ParseMergeMode(cmd.String("mode"))
					if !ok {
						return fmt.Errorf("unknown merge mode %q: use HTP or LTP", cmd.String("mode"))
					}
					return c.actions.SetMergeMode(ctx, cmd.Int("port"), mode)
				}),
			},
			{
				Name:  "restart",
				Usage: "Reboot the device",
				Flags: append(commonFlags(), yesFlag()),
				Action: withDevice(func(ctx context.Context, c *components, cmd *cli.Command, out io.Writer) error {
					if !cmd.Bool("yes") {
						return fmt.Errorf("refusing to restart without --yes")
					}
					return c.actions.Restart(ctx)
				}),
			},
			{
				Name:  "factory-reset",
				Usage: "Erase all settings and restore defaults",
				Flags: append(commonFlags(), yesFlag()),
				Action: withDevice(func(ctx context.Context, c *components, cmd *cli.Command, out io.Writer) error {
					if !cmd.Bool("yes") {
						return fmt.Errorf("refusing to factory reset without --yes")
					}
					return c.actions.FactoryReset(ctx)
				}),
			},
		},
	}
}

func portFlag() cli.Flag {
	return &cli.IntFlag{
		Name:     "port",
		Aliases:  []string{"p"},
		Usage:    "Port number (1 or 2)",
		Required: true,
	}
}

func yesFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:    "yes",
		Aliases: []string{"y"},
		Usage:   "Confirm the command",
	}
}

type deviceAction func(ctx context.Context, c *components, cmd *cli.Command, out io.Writer) error

// withDevice loads config, builds the components, runs fn and prints the
// notifications it posted.
func withDevice(fn deviceAction) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		c, err := newComponents(cfg)
		if err != nil {
			return err
		}
		defer c.Close()

		err = fn(ctx, c, cmd, os.Stdout)
		printNotifications(os.Stdout, c)
		return err
	}
}

func printNotifications(out io.Writer, c *components) {
	for _, n := range c.center.List() {
		fmt.Fprintf(out, "%s %s\n", severityIcon(n.Severity), n.Message)
	}
}

func severityIcon(s notify.Severity) string {
	switch s {
	case notify.Success:
		return "✅"
	case notify.Warning:
		return "⚠️ "
	case notify.Error:
		return "❌"
	default:
		return "💡"
	}
}

func printRDMDevices(out io.Writer, devices []device.RDMDevice) {
	if len(devices) == 0 {
		return
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PORT\tUID\tLABEL\tADDRESS\tMANUFACTURER\tMODEL")
	for _, d := range devices {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\t%s\n", d.Port, d.UID, d.Label, d.DMXAddress, d.Manufacturer, d.Model)
	}
	tw.Flush()
}
