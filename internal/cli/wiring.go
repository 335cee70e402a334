package cli

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/tobert/rdmwatch/internal/actions"
	"github.com/tobert/rdmwatch/internal/device"
	"github.com/tobert/rdmwatch/internal/feed"
	"github.com/tobert/rdmwatch/internal/live"
	"github.com/tobert/rdmwatch/internal/mqttpub"
	"github.com/tobert/rdmwatch/internal/notify"
	"github.com/tobert/rdmwatch/internal/otlpexport"
	"github.com/tobert/rdmwatch/internal/poller"
	"github.com/tobert/rdmwatch/internal/state"
)

// commonFlags are accepted by every command that talks to a device.
func commonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Config file (.json or .yaml); default is project then global config",
		},
		&cli.StringFlag{
			Name:    "device",
			Aliases: []string{"d"},
			Usage:   "Device base URL, e.g. http://192.168.4.1",
			Sources: cli.EnvVars("RDMWATCH_DEVICE"),
		},
		&cli.StringFlag{
			Name:  "timeout",
			Usage: "Per-request timeout (e.g. 10s)",
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "Enable verbose logging",
		},
	}
}

// loadConfig builds the effective config: defaults, then config files, then
// any flag set on the command line.
func loadConfig(cmd *cli.Command) (*Config, error) {
	cfg, err := LoadEffectiveConfig(cmd.String("config"))
	if err != nil {
		return nil, err
	}

	overlay := &Config{}
	if cmd.IsSet("device") {
		overlay.DeviceURL = cmd.String("device")
	}
	if cmd.IsSet("timeout") {
		overlay.RequestTimeout = cmd.String("timeout")
	}
	if cmd.IsSet("verbose") {
		overlay.Verbose = cmd.Bool("verbose")
	}
	for flag, field := range map[string]*string{
		"poll-interval":   &overlay.PollInterval,
		"reconnect-delay": &overlay.ReconnectDelay,
		"ui-host":         &overlay.UIHost,
		"mcp":             &overlay.MCPTransport,
		"otlp-endpoint":   &overlay.OTLPEndpoint,
		"otlp-file":       &overlay.OTLPFile,
		"mqtt-broker":     &overlay.MQTTBroker,
		"mqtt-topic":      &overlay.MQTTTopic,
		"feed-file":       &overlay.FeedFile,
	} {
		if hasFlag(cmd, flag) && cmd.IsSet(flag) {
			*field = cmd.String(flag)
		}
	}
	if hasFlag(cmd, "otel-config") && cmd.IsSet("otel-config") && overlay.OTLPEndpoint == "" {
		endpoint, err := ParseOtelConfig(cmd.String("otel-config"))
		if err != nil {
			return nil, err
		}
		overlay.OTLPEndpoint = endpoint
	}
	if hasFlag(cmd, "ui-port") && cmd.IsSet("ui-port") {
		overlay.UIPort = cmd.Int("ui-port")
	}
	if hasFlag(cmd, "mcp-port") && cmd.IsSet("mcp-port") {
		overlay.MCPHTTPPort = cmd.Int("mcp-port")
	}

	cfg = MergeConfigs(cfg, overlay)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func hasFlag(cmd *cli.Command, name string) bool {
	for _, f := range cmd.Flags {
		for _, n := range f.Names() {
			if n == name {
				return true
			}
		}
	}
	return false
}

// components is everything a running monitor is made of.
type components struct {
	cfg  *Config
	durs Durations

	client  *device.Client
	store   *state.Store
	center  *notify.Center
	sched   *poller.Scheduler
	actions *actions.Actions
	channel *live.Channel
	source  feed.Source

	closers []func()
}

// newComponents wires the device client, store, notifications, poller and
// actions. Sinks, the push channel and the feed are added by withSinks,
// withLive and withFeed.
func newComponents(cfg *Config) (*components, error) {
	durs, err := cfg.Durations()
	if err != nil {
		return nil, err
	}

	client, err := device.New(device.Config{BaseURL: cfg.DeviceURL, Timeout: durs.RequestTimeout})
	if err != nil {
		return nil, err
	}

	c := &components{
		cfg:    cfg,
		durs:   durs,
		client: client,
		store:  state.NewStore(state.Options{DeviceHost: client.Host()}),
		source: feed.NewSimulation(),
	}
	c.center = notify.NewCenter(notify.Options{
		Visible: durs.ToastDuration,
		Fade:    durs.ToastFade,
		Verbose: cfg.Verbose,
	})

	c.sched, err = poller.New(poller.Config{
		Device:   client,
		Store:    c.store,
		Notifier: c.center,
		Interval: durs.PollInterval,
		Verbose:  cfg.Verbose,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create poller: %w", err)
	}

	c.actions, err = actions.New(actions.Config{
		Device:   client,
		Notifier: c.center,
		Store:    c.store,
		OnRestarted: func() {
			ctx, cancel := context.WithTimeout(context.Background(), durs.RequestTimeout+time.Second)
			defer cancel()
			c.sched.Tick(ctx)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create actions: %w", err)
	}
	c.closers = append(c.closers, c.actions.Stop)

	return c, nil
}

// withSinks attaches the configured OTLP and MQTT sinks to the poller.
func (c *components) withSinks() error {
	start := time.Now()

	if c.cfg.OTLPEndpoint != "" {
		exp, err := otlpexport.NewExporter(otlpexport.Config{
			Endpoint: c.cfg.OTLPEndpoint,
			Timeout:  c.durs.RequestTimeout,
			Start:    start,
			Verbose:  c.cfg.Verbose,
		})
		if err != nil {
			return err
		}
		c.sched.AddSink(exp)
		c.closers = append(c.closers, func() { _ = exp.Close() })
		log.Printf("📈 Exporting metrics to OTLP collector at %s\n", c.cfg.OTLPEndpoint)
	}

	if c.cfg.OTLPFile != "" {
		fileSink, err := otlpexport.NewFileSink(c.cfg.OTLPFile, "", start)
		if err != nil {
			return err
		}
		c.sched.AddSink(fileSink)
		c.closers = append(c.closers, func() { _ = fileSink.Close() })
		log.Printf("📝 Writing OTLP metrics to %s\n", c.cfg.OTLPFile)
	}

	if c.cfg.MQTTBroker != "" {
		pub, err := mqttpub.New(mqttpub.Config{
			Broker:  c.cfg.MQTTBroker,
			Prefix:  c.cfg.MQTTTopic,
			Timeout: c.durs.RequestTimeout,
			Verbose: c.cfg.Verbose,
		})
		if err != nil {
			return err
		}
		if err := pub.Connect(); err != nil {
			return err
		}
		c.sched.AddSink(pub)
		c.closers = append(c.closers, pub.Close)
		log.Printf("📡 Publishing to MQTT broker %s under %s/\n", c.cfg.MQTTBroker, c.cfg.MQTTTopic)
	}

	return nil
}

// withLive creates the push channel. Events feed the poller's merge path and
// state changes are mirrored into the store.
func (c *components) withLive() error {
	ch, err := live.New(live.Options{
		Origin:         c.client.Origin(),
		ReconnectDelay: c.durs.ReconnectDelay,
		DialTimeout:    c.durs.RequestTimeout,
		Notifier:       c.center,
		OnStateChange: func(s live.ConnectionState) {
			c.store.Update(func(d *state.Dashboard) { d.Live = s })
		},
		Verbose: c.cfg.Verbose,
	})
	if err != nil {
		return fmt.Errorf("failed to create push channel: %w", err)
	}
	unsubscribe := ch.OnMessage(c.sched.HandleEvent)
	c.channel = ch
	c.closers = append(c.closers, func() {
		unsubscribe()
		ch.Disconnect()
	})
	return nil
}

// withFeed replaces the simulation with a tailed level file when one is
// configured.
func (c *components) withFeed() error {
	if c.cfg.FeedFile == "" {
		return nil
	}
	fs, err := feed.NewFileSource(feed.FileConfig{Path: c.cfg.FeedFile, Verbose: c.cfg.Verbose})
	if err != nil {
		return err
	}
	if err := fs.Start(); err != nil {
		return err
	}
	c.source = fs
	c.closers = append(c.closers, fs.Stop)
	log.Printf("🎚️  Channel levels from %s\n", c.cfg.FeedFile)
	return nil
}

// Close releases everything in reverse order of creation.
func (c *components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}
