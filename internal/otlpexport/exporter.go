package otlpexport

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	collectormetrics "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	metricspb "go.opentelemetry.io/proto/otlp/metrics/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/tobert/rdmwatch/internal/state"
)

// DefaultServiceName is the service.name resource attribute.
const DefaultServiceName = "rdmwatch"

// Config holds configuration for an Exporter.
type Config struct {
	Endpoint    string        // collector gRPC address, e.g. "localhost:4317"
	ServiceName string        // defaults to DefaultServiceName
	Timeout     time.Duration // per-export timeout, 0 means 5s
	Start       time.Time     // start of cumulative counters until they reset, defaults to now
	Verbose     bool
}

// Exporter pushes dashboard metrics to an OTLP collector after every poll.
// It implements poller.Sink.
type Exporter struct {
	conn    *grpc.ClientConn
	client  collectormetrics.MetricsServiceClient
	service string
	timeout time.Duration
	starts  *Starts
	verbose bool

	mu       sync.Mutex
	exported int
	failures int
}

// NewExporter creates an Exporter. The connection is established lazily by
// grpc on the first export.
func NewExporter(cfg Config) (*Exporter, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("otlp endpoint is required")
	}

	conn, err := grpc.NewClient(cfg.Endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create otlp client for %s: %w", cfg.Endpoint, err)
	}

	e := &Exporter{
		conn:    conn,
		client:  collectormetrics.NewMetricsServiceClient(conn),
		service: cfg.ServiceName,
		timeout: cfg.Timeout,
		starts:  NewStarts(cfg.Start),
		verbose: cfg.Verbose,
	}
	if e.service == "" {
		e.service = DefaultServiceName
	}
	if e.timeout <= 0 {
		e.timeout = 5 * time.Second
	}
	return e, nil
}

// Publish exports one dashboard snapshot. Snapshots taken before the first
// poll are skipped.
func (e *Exporter) Publish(ctx context.Context, d state.Dashboard) error {
	if !d.Polled {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	_, err := e.client.Export(ctx, &collectormetrics.ExportMetricsServiceRequest{
		ResourceMetrics: []*metricspb.ResourceMetrics{Build(d, e.service, e.starts)},
	})

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		e.failures++
		return fmt.Errorf("otlp export: %w", err)
	}
	e.exported++
	if e.verbose {
		log.Printf("📈 otlp: exported generation %d\n", d.Generation)
	}
	return nil
}

// Stats returns how many exports succeeded and failed.
func (e *Exporter) Stats() (exported, failures int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.exported, e.failures
}

// Close closes the gRPC connection.
func (e *Exporter) Close() error {
	return e.conn.Close()
}
