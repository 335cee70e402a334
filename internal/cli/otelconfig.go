package cli

import (
	"fmt"
	"maps"
	"net"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// OtelCollectorConfig represents the relevant parts of an OpenTelemetry Collector config.
// We only parse the otlp receiver to find where the collector accepts gRPC.
type OtelCollectorConfig struct {
	Receivers map[string]OTLPReceiver `yaml:"receivers"`
}

// OTLPReceiver represents an otlp receiver configuration.
type OTLPReceiver struct {
	Protocols struct {
		GRPC *struct {
			Endpoint string `yaml:"endpoint"`
		} `yaml:"grpc"`
	} `yaml:"protocols"`
}

// defaultCollectorGRPC is the collector's default otlp gRPC listen address.
const defaultCollectorGRPC = "localhost:4317"

// ParseOtelConfig reads an OpenTelemetry Collector config file and returns the
// address to export metrics to: the gRPC endpoint of the "otlp" receiver (or
// the first "otlp/..." one). Wildcard listen hosts are replaced by localhost.
func ParseOtelConfig(configPath string) (string, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to read otel config: %w", err)
	}

	var config OtelCollectorConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return "", fmt.Errorf("failed to parse otel config: %w", err)
	}

	receiver, ok := config.Receivers["otlp"]
	if !ok {
		for _, name := range slices.Sorted(maps.Keys(config.Receivers)) {
			if strings.HasPrefix(name, "otlp/") {
				receiver, ok = config.Receivers[name], true
				break
			}
		}
	}
	if !ok || receiver.Protocols.GRPC == nil {
		return "", fmt.Errorf("no otlp gRPC receiver in %s", configPath)
	}

	endpoint := receiver.Protocols.GRPC.Endpoint
	if endpoint == "" {
		return defaultCollectorGRPC, nil
	}
	host, port, err := net.SplitHostPort(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid otlp gRPC endpoint %q: %w", endpoint, err)
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "localhost"
	}
	return net.JoinHostPort(host, port), nil
}
