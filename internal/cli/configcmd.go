package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/tobert/rdmwatch/internal/device"
)

// ConfigCommand returns the CLI command definition for the 'config'
// subcommand group: read and patch the device configuration.
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Read or update the device configuration",
		Commands: []*cli.Command{
			{
				Name:  "get",
				Usage: "Print the device configuration",
				Flags: append(commonFlags(), &cli.BoolFlag{
					Name:  "yaml",
					Usage: "Print YAML instead of JSON",
				}),
				Action: withDevice(func(ctx context.Context, c *components, cmd *cli.Command, out io.Writer) error {
					cfg, err := c.actions.LoadConfig(ctx)
					if err != nil {
						return err
					}
					return writeDocument(out, cfg, cmd.Bool("yaml"))
				}),
			},
			{
				Name:  "set",
				Usage: "Send a partial configuration; the device merges it",
				Description: `Examples:
  rdmwatch config set --json '{"port1":{"universe_primary":3}}'
  rdmwatch config set --file patch.yaml`,
				Flags: append(commonFlags(),
					&cli.StringFlag{
						Name:  "json",
						Usage: "Patch as inline JSON",
					},
					&cli.StringFlag{
						Name:  "file",
						Usage: "Patch file (.json or .yaml)",
					},
				),
				Action: withDevice(func(ctx context.Context, c *components, cmd *cli.Command, out io.Writer) error {
					patch, err := readPatch(cmd.String("json"), cmd.String("file"))
					if err != nil {
						return err
					}
					ack, err := c.actions.UpdateConfig(ctx, patch)
					if err != nil {
						return err
					}
					if ack.Message != "" {
						fmt.Fprintln(out, ack.Message)
					}
					return nil
				}),
			},
			{
				Name:  "local",
				Usage: "Print the effective rdmwatch configuration (defaults, files and flags)",
				Flags: commonFlags(),
				Action: func(ctx context.Context, cmd *cli.Command) error {
					cfg, err := LoadEffectiveConfig(cmd.String("config"))
					if err != nil {
						return err
					}
					if cmd.IsSet("device") {
						cfg.DeviceURL = cmd.String("device")
					}
					return writeDocument(os.Stdout, cfg, false)
				},
			},
		},
	}
}

// readPatch parses a config patch from inline JSON or a file. Exactly one
// source must be given.
func readPatch(inline, path string) (device.ConfigPatch, error) {
	if (inline == "") == (path == "") {
		return nil, fmt.Errorf("give exactly one of --json or --file")
	}

	data := []byte(inline)
	isYAML := false
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read patch file: %w", err)
		}
		ext := strings.ToLower(filepath.Ext(path))
		isYAML = ext == ".yaml" || ext == ".yml"
	}

	var patch device.ConfigPatch
	if isYAML {
		if err := yaml.Unmarshal(data, &patch); err != nil {
			return nil, fmt.Errorf("failed to parse patch: %w", err)
		}
	} else if err := json.Unmarshal(data, &patch); err != nil {
		return nil, fmt.Errorf("failed to parse patch: %w", err)
	}
	if len(patch) == 0 {
		return nil, fmt.Errorf("patch is empty")
	}
	return patch, nil
}

// writeDocument prints v as indented JSON, or as YAML with the same keys.
func writeDocument(out io.Writer, v any, asYAML bool) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if !asYAML {
		_, err = fmt.Fprintln(out, string(data))
		return err
	}

	// Round-trip through a generic value so YAML keys match the JSON tags.
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return err
	}
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return err
	}
	return enc.Close()
}
