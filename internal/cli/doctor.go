package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/coder/websocket"
	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	"github.com/tobert/rdmwatch/internal/device"
	"github.com/tobert/rdmwatch/internal/live"
)

// DoctorCommand returns the CLI command definition for the 'doctor' subcommand.
// This command runs diagnostic checks against the configured device.
func DoctorCommand(version string) *cli.Command {
	return &cli.Command{
		Name:  "doctor",
		Usage: "Diagnose common setup and connectivity issues",
		Description: `Run checks to verify rdmwatch can monitor the device.

This command checks:
  - Config file discovery
  - Device URL
  - Every status endpoint the poller reads
  - The /ws push channel

Exit codes:
  0 - All critical checks passed
  1 - One or more issues found`,
		Flags: commonFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := LoadEffectiveConfig(cmd.String("config"))
			if err != nil {
				return err
			}
			if cmd.IsSet("device") {
				cfg.DeviceURL = cmd.String("device")
			}
			if cmd.IsSet("timeout") {
				cfg.RequestTimeout = cmd.String("timeout")
			}
			return runDoctor(ctx, version, cfg)
		},
	}
}

type checkResult struct {
	Name       string
	Status     string // "pass", "warn", "fail"
	Message    string
	Suggestion string
	IsCritical bool
}

type fsUtils interface {
	Stat(name string) (os.FileInfo, error)
	UserHomeDir() (string, error)
	Getwd() (string, error)
}

type realFsUtils struct{}

func (r *realFsUtils) Stat(name string) (os.FileInfo, error) { return os.Stat(name) }
func (r *realFsUtils) UserHomeDir() (string, error)          { return os.UserHomeDir() }
func (r *realFsUtils) Getwd() (string, error)                { return os.Getwd() }

// doctorEnv is everything the checks depend on.
type doctorEnv struct {
	cfg   *Config
	utils fsUtils
	dial  live.Dialer
	out   io.Writer
}

func runDoctor(ctx context.Context, version string, cfg *Config) error {
	return runDoctorWith(ctx, version, doctorEnv{
		cfg:   cfg,
		utils: &realFsUtils{},
		dial:  live.WebsocketDialer,
		out:   os.Stdout,
	})
}

func runDoctorWith(ctx context.Context, version string, env doctorEnv) error {
	fmt.Fprintf(env.out, "🔍 rdmwatch doctor v%s\n\n", version)

	results := []checkResult{checkConfigFile(env.utils)}

	client, urlResult := checkDeviceURL(env.cfg)
	results = append(results, urlResult)

	if client != nil {
		timeout := 10 * time.Second
		if durs, err := env.cfg.Durations(); err == nil && durs.RequestTimeout > 0 {
			timeout = durs.RequestTimeout
		}
		for _, check := range endpointChecks {
			cctx, cancel := context.WithTimeout(ctx, timeout)
			results = append(results, check(cctx, client))
			cancel()
		}
		cctx, cancel := context.WithTimeout(ctx, timeout)
		results = append(results, checkPushChannel(cctx, env.dial, client.Origin()))
		cancel()
	}

	for _, result := range results {
		printCheckResult(env.out, result)
	}

	fmt.Fprintln(env.out)
	summary := summarizeResults(results)
	printSummary(env.out, summary)

	if summary.FailCount > 0 {
		return fmt.Errorf("found %d issues that need attention", summary.FailCount)
	}

	return nil
}

func printCheckResult(out io.Writer, result checkResult) {
	var icon string
	switch result.Status {
	case "pass":
		icon = "✓"
	case "warn":
		icon = "⚠"
	case "fail":
		icon = "✗"
	}

	fmt.Fprintf(out, "%s %s\n", icon, result.Message)

	if result.Suggestion != "" {
		fmt.Fprintf(out, "  %s\n", result.Suggestion)
	}
}

type resultSummary struct {
	PassCount int
	WarnCount int
	FailCount int
}

func summarizeResults(results []checkResult) resultSummary {
	var summary resultSummary
	for _, r := range results {
		switch r.Status {
		case "pass":
			summary.PassCount++
		case "warn":
			summary.WarnCount++
		case "fail":
			summary.FailCount++
		}
	}
	return summary
}

func printSummary(out io.Writer, summary resultSummary) {
	if summary.FailCount > 0 {
		fmt.Fprintf(out, "❌ Found %d issue(s) that need attention\n", summary.FailCount)
		if summary.WarnCount > 0 {
			fmt.Fprintf(out, "⚠️  %d warning(s)\n", summary.WarnCount)
		}
	} else if summary.WarnCount > 0 {
		fmt.Fprintf(out, "✅ All critical checks passed!\n")
		fmt.Fprintf(out, "⚠️  %d optional warning(s)\n", summary.WarnCount)
		fmt.Fprintf(out, "💡 Run 'rdmwatch watch --verbose' to start monitoring\n")
	} else {
		fmt.Fprintf(out, "✅ All checks passed!\n")
		fmt.Fprintf(out, "💡 Run 'rdmwatch watch --verbose' to start monitoring\n")
	}
}

// Check 1: config file discovery. Running on flags alone is fine.
func checkConfigFile(utils fsUtils) checkResult {
	var candidates []string
	if cwd, err := utils.Getwd(); err == nil && cwd != "" {
		for _, name := range projectConfigNames {
			candidates = append(candidates, filepath.Join(cwd, name))
		}
	}
	if home, err := utils.UserHomeDir(); err == nil && home != "" {
		candidates = append(candidates, filepath.Join(home, ".config", "rdmwatch", "config.json"))
	}

	for _, path := range candidates {
		if _, err := utils.Stat(path); err == nil {
			return checkResult{
				Name:    "config_file",
				Status:  "pass",
				Message: fmt.Sprintf("Config file found: %s", path),
			}
		}
	}

	return checkResult{
		Name:       "config_file",
		Status:     "warn",
		Message:    "No config file found, using defaults and flags",
		Suggestion: `Create .rdmwatch.yaml with e.g. device_url: "http://192.168.4.1"`,
	}
}

// Check 2: device URL
func checkDeviceURL(cfg *Config) (*device.Client, checkResult) {
	if cfg.DeviceURL == "" {
		return nil, checkResult{
			Name:       "device_url",
			Status:     "fail",
			Message:    "No device URL configured",
			Suggestion: "Pass --device http://<node-ip> or set RDMWATCH_DEVICE",
			IsCritical: true,
		}
	}

	client, err := device.New(device.Config{BaseURL: cfg.DeviceURL})
	if err != nil {
		return nil, checkResult{
			Name:       "device_url",
			Status:     "fail",
			Message:    "Device URL is invalid",
			Suggestion: fmt.Sprintf("Error: %v", err),
			IsCritical: true,
		}
	}

	return client, checkResult{
		Name:    "device_url",
		Status:  "pass",
		Message: fmt.Sprintf("Device URL: %s", client.Origin()),
	}
}

type endpointCheck func(ctx context.Context, client *device.Client) checkResult

// endpointChecks probe every resource the poller reads, plus the config.
var endpointChecks = []endpointCheck{
	func(ctx context.Context, client *device.Client) checkResult {
		info, err := client.SystemInfo(ctx)
		if err != nil {
			return endpointFailure(device.ResourceSystemInfo, err, true)
		}
		return checkResult{
			Name:   "system_info",
			Status: "pass",
			Message: fmt.Sprintf("System info: firmware %s on %s, %s free, up %s",
				info.FirmwareVersion, info.Hardware, humanize.IBytes(info.FreeHeap),
				time.Duration(info.UptimeSec)*time.Second),
		}
	},
	func(ctx context.Context, client *device.Client) checkResult {
		stats, err := client.SystemStats(ctx)
		if err != nil {
			return endpointFailure(device.ResourceSystemStats, err, false)
		}
		var artnet, sacn uint64
		if stats.ArtNet != nil {
			artnet = stats.ArtNet.Packets
		}
		if stats.SACN != nil {
			sacn = stats.SACN.Packets
		}
		return checkResult{
			Name:   "system_stats",
			Status: "pass",
			Message: fmt.Sprintf("System stats: %s Art-Net and %s sACN packets",
				humanize.Comma(int64(artnet)), humanize.Comma(int64(sacn))),
		}
	},
	func(ctx context.Context, client *device.Client) checkResult {
		ns, err := client.NetworkStatus(ctx)
		if err != nil {
			return endpointFailure(device.ResourceNetworkStatus, err, false)
		}
		return checkResult{
			Name:    "network_status",
			Status:  "pass",
			Message: fmt.Sprintf("Network status: %s mode, address %s", ns.Mode, ns.Address()),
		}
	},
	func(ctx context.Context, client *device.Client) checkResult {
		ports, err := client.PortsStatus(ctx)
		if err != nil {
			return endpointFailure(device.ResourcePortsStatus, err, false)
		}
		active := 0
		for _, p := range ports {
			if p.Active {
				active++
			}
		}
		return checkResult{
			Name:    "ports_status",
			Status:  "pass",
			Message: fmt.Sprintf("Ports status: %d port(s), %d active", len(ports), active),
		}
	},
	func(ctx context.Context, client *device.Client) checkResult {
		cfg, err := client.Config(ctx)
		if err != nil {
			return endpointFailure(device.ResourceConfig, err, false)
		}
		name := "(unnamed)"
		if cfg.NodeInfo != nil && cfg.NodeInfo.ShortName != "" {
			name = cfg.NodeInfo.ShortName
		}
		return checkResult{
			Name:    "config",
			Status:  "pass",
			Message: fmt.Sprintf("Config readable: node %s", name),
		}
	},
}

func endpointFailure(resource string, err error, critical bool) checkResult {
	suggestion := fmt.Sprintf("Error: %v", err)
	if critical {
		suggestion += "\n  Check the device is powered and reachable from this host"
	}
	return checkResult{
		Name:       resource,
		Status:     "fail",
		Message:    fmt.Sprintf("Could not read %s", resource),
		Suggestion: suggestion,
		IsCritical: critical,
	}
}

// Check: push channel. Polling works without it, so failure only warns.
func checkPushChannel(ctx context.Context, dial live.Dialer, origin string) checkResult {
	endpoint, err := live.Endpoint(origin)
	if err != nil {
		return checkResult{
			Name:       "push_channel",
			Status:     "warn",
			Message:    "Could not derive the push channel URL",
			Suggestion: fmt.Sprintf("Error: %v", err),
		}
	}

	conn, err := dial(ctx, endpoint)
	if err != nil {
		return checkResult{
			Name:       "push_channel",
			Status:     "warn",
			Message:    fmt.Sprintf("Push channel %s unavailable", endpoint),
			Suggestion: fmt.Sprintf("Error: %v\n  Live updates will be missing; polling still works", err),
		}
	}
	_ = conn.Close(websocket.StatusNormalClosure, "doctor")

	return checkResult{
		Name:    "push_channel",
		Status:  "pass",
		Message: fmt.Sprintf("Push channel reachable: %s", endpoint),
	}
}
