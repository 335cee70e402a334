package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the runtime configuration for rdmwatch.
// It can be populated from CLI flags, config files, or both.
type Config struct {
	// Comment field for user documentation (ignored by the application)
	Comment string `json:"comment,omitempty" yaml:"comment,omitempty"`

	// Device
	DeviceURL      string `json:"device_url,omitempty" yaml:"device_url,omitempty"`           // e.g. "http://192.168.4.1"
	PollInterval   string `json:"poll_interval,omitempty" yaml:"poll_interval,omitempty"`     // e.g. "2s"
	ReconnectDelay string `json:"reconnect_delay,omitempty" yaml:"reconnect_delay,omitempty"` // push channel retry delay
	RequestTimeout string `json:"request_timeout,omitempty" yaml:"request_timeout,omitempty"`

	// Notifications
	ToastDuration string `json:"toast_duration,omitempty" yaml:"toast_duration,omitempty"` // visible time before fading
	ToastFade     string `json:"toast_fade,omitempty" yaml:"toast_fade,omitempty"`

	// Web UI
	UIHost string `json:"ui_host,omitempty" yaml:"ui_host,omitempty"`
	UIPort int    `json:"ui_port,omitempty" yaml:"ui_port,omitempty"` // -1 disables the web UI

	// MCP
	MCPTransport string `json:"mcp_transport,omitempty" yaml:"mcp_transport,omitempty"` // "none", "stdio" or "http"
	MCPHTTPPort  int    `json:"mcp_http_port,omitempty" yaml:"mcp_http_port,omitempty"`

	// Sinks
	OTLPEndpoint string `json:"otlp_endpoint,omitempty" yaml:"otlp_endpoint,omitempty"` // collector gRPC address
	OTLPFile     string `json:"otlp_file,omitempty" yaml:"otlp_file,omitempty"`         // JSONL metrics file
	MQTTBroker   string `json:"mqtt_broker,omitempty" yaml:"mqtt_broker,omitempty"`     // e.g. "tcp://localhost:1883"
	MQTTTopic    string `json:"mqtt_topic,omitempty" yaml:"mqtt_topic,omitempty"`       // topic prefix

	// Channel levels: JSONL file to tail instead of the built-in simulation
	FeedFile string `json:"feed_file,omitempty" yaml:"feed_file,omitempty"`

	// Logging configuration
	Verbose bool `json:"verbose,omitempty" yaml:"verbose,omitempty"`
}

// Durations are the parsed duration fields of a Config.
type Durations struct {
	PollInterval   time.Duration
	ReconnectDelay time.Duration
	RequestTimeout time.Duration
	ToastDuration  time.Duration
	ToastFade      time.Duration
}

// DefaultConfig returns a Config with the dashboard's stock timings:
// - poll every 2s
// - retry the push channel 5s after it drops
// - notifications visible for 5s, then a 300ms fade
// - web UI on localhost:4381, no MCP transport
func DefaultConfig() *Config {
	return &Config{
		PollInterval:   "2s",
		ReconnectDelay: "5s",
		RequestTimeout: "10s",
		ToastDuration:  "5s",
		ToastFade:      "300ms",
		UIHost:         "127.0.0.1",
		UIPort:         4381,
		MCPTransport:   "none",
		MCPHTTPPort:    4380,
		MQTTTopic:      "rdmwatch",
		Verbose:        false,
	}
}

// Durations parses the duration fields.
func (c *Config) Durations() (Durations, error) {
	var d Durations
	fields := []struct {
		name  string
		value string
		out   *time.Duration
	}{
		{"poll_interval", c.PollInterval, &d.PollInterval},
		{"reconnect_delay", c.ReconnectDelay, &d.ReconnectDelay},
		{"request_timeout", c.RequestTimeout, &d.RequestTimeout},
		{"toast_duration", c.ToastDuration, &d.ToastDuration},
		{"toast_fade", c.ToastFade, &d.ToastFade},
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		v, err := time.ParseDuration(f.value)
		if err != nil {
			return Durations{}, fmt.Errorf("invalid %s %q: %w", f.name, f.value, err)
		}
		if v <= 0 {
			return Durations{}, fmt.Errorf("invalid %s %q: must be positive", f.name, f.value)
		}
		*f.out = v
	}
	return d, nil
}

// Validate checks the fields needed to run against a device.
func (c *Config) Validate() error {
	if c.DeviceURL == "" {
		return fmt.Errorf("device_url is required (use --device or a config file)")
	}
	switch c.MCPTransport {
	case "", "none", "stdio", "http":
	default:
		return fmt.Errorf("invalid mcp_transport %q: must be none, stdio or http", c.MCPTransport)
	}
	if c.UIPort > 65535 || c.UIPort < -1 {
		return fmt.Errorf("invalid ui_port %d", c.UIPort)
	}
	if c.MCPTransport == "http" && (c.MCPHTTPPort < 1 || c.MCPHTTPPort > 65535) {
		return fmt.Errorf("invalid mcp_http_port %d", c.MCPHTTPPort)
	}
	_, err := c.Durations()
	return err
}

// LoadConfigFromFile loads configuration from a JSON or YAML file. The format
// is chosen by extension: .yaml and .yml are YAML, anything else JSON.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	return &config, nil
}

// projectConfigNames are tried in order in each directory.
var projectConfigNames = []string{".rdmwatch.json", ".rdmwatch.yaml", ".rdmwatch.yml"}

// FindProjectConfig searches for a .rdmwatch.{json,yaml,yml} config file.
// It starts in the current directory and walks up looking for the file,
// stopping when it finds a .git directory (project root) or reaches root.
func FindProjectConfig() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}
	return findProjectConfigFrom(dir)
}

func findProjectConfigFrom(dir string) (string, error) {
	for {
		for _, name := range projectConfigNames {
			configPath := filepath.Join(dir, name)
			if _, err := os.Stat(configPath); err == nil {
				return configPath, nil
			}
		}

		// Stop at the repo root even if no config was found
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			break
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", os.ErrNotExist
}

// GlobalConfigPath returns the path to the global config file.
// This is ~/.config/rdmwatch/config.json
func GlobalConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "rdmwatch", "config.json")
}

// MergeConfigs merges two configs with the overlay taking precedence.
// Fields in overlay override corresponding fields in base.
// Returns a new Config with the merged values.
func MergeConfigs(base, overlay *Config) *Config {
	if base == nil {
		base = &Config{}
	}
	if overlay == nil {
		return base
	}

	merged := *base

	if overlay.DeviceURL != "" {
		merged.DeviceURL = overlay.DeviceURL
	}
	if overlay.PollInterval != "" {
		merged.PollInterval = overlay.PollInterval
	}
	if overlay.ReconnectDelay != "" {
		merged.ReconnectDelay = overlay.ReconnectDelay
	}
	if overlay.RequestTimeout != "" {
		merged.RequestTimeout = overlay.RequestTimeout
	}
	if overlay.ToastDuration != "" {
		merged.ToastDuration = overlay.ToastDuration
	}
	if overlay.ToastFade != "" {
		merged.ToastFade = overlay.ToastFade
	}

	if overlay.UIHost != "" {
		merged.UIHost = overlay.UIHost
	}
	if overlay.UIPort != 0 {
		merged.UIPort = overlay.UIPort
	}

	if overlay.MCPTransport != "" {
		merged.MCPTransport = overlay.MCPTransport
	}
	if overlay.MCPHTTPPort > 0 {
		merged.MCPHTTPPort = overlay.MCPHTTPPort
	}

	if overlay.OTLPEndpoint != "" {
		merged.OTLPEndpoint = overlay.OTLPEndpoint
	}
	if overlay.OTLPFile != "" {
		merged.OTLPFile = overlay.OTLPFile
	}
	if overlay.MQTTBroker != "" {
		merged.MQTTBroker = overlay.MQTTBroker
	}
	if overlay.MQTTTopic != "" {
		merged.MQTTTopic = overlay.MQTTTopic
	}
	if overlay.FeedFile != "" {
		merged.FeedFile = overlay.FeedFile
	}

	if overlay.Verbose {
		merged.Verbose = overlay.Verbose
	}

	return &merged
}

// LoadEffectiveConfig loads the effective configuration by merging:
// 1. Built-in defaults
// 2. Global config file (if exists)
// 3. Project config file (if exists)
// 4. Explicit config file (if specified via configPath)
// Later sources override earlier ones.
func LoadEffectiveConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	// Global config is optional; errors are ignored
	if globalPath := GlobalConfigPath(); globalPath != "" {
		if globalCfg, err := LoadConfigFromFile(globalPath); err == nil {
			config = MergeConfigs(config, globalCfg)
		}
	}

	if configPath == "" {
		if projectPath, err := FindProjectConfig(); err == nil {
			projectCfg, err := LoadConfigFromFile(projectPath)
			if err != nil {
				return nil, fmt.Errorf("failed to load project config: %w", err)
			}
			config = MergeConfigs(config, projectCfg)
		}
	} else {
		explicitCfg, err := LoadConfigFromFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
		config = MergeConfigs(config, explicitCfg)
	}

	return config, nil
}
