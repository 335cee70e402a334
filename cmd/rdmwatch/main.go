package main

import (
	"context"
	"fmt"
	"os"

	"github.com/tobert/rdmwatch/internal/cli"
	cliframework "github.com/urfave/cli/v3"
)

const version = "0.1.0-dev"

func main() {
	app := &cliframework.Command{
		Name:    "rdmwatch",
		Usage:   "Live monitor for ESP-NODE-2RDM Art-Net/sACN nodes",
		Version: version,
		Commands: []*cliframework.Command{
			cli.WatchCommand(),
			cli.StatusCommand(),
			cli.ActionCommand(),
			cli.ConfigCommand(),
			cli.DoctorCommand(version),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "❌ error: %v\n", err)
		os.Exit(1)
	}
}
