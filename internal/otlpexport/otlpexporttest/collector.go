// Package otlpexporttest provides an in-process OTLP metrics collector for
// tests.
package otlpexporttest

import (
	"context"
	"fmt"
	"net"
	"sync"

	collectormetrics "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	metricspb "go.opentelemetry.io/proto/otlp/metrics/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Collector is a gRPC MetricsService that records every export.
type Collector struct {
	collectormetrics.UnimplementedMetricsServiceServer

	listener   net.Listener
	grpcServer *grpc.Server
	stopOnce   sync.Once

	mu       sync.Mutex
	received []*metricspb.ResourceMetrics
	reject   bool
}

// New starts a collector on an ephemeral localhost port.
func New() (*Collector, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}

	c := &Collector{
		listener:   listener,
		grpcServer: grpc.NewServer(),
	}
	collectormetrics.RegisterMetricsServiceServer(c.grpcServer, c)

	go func() { _ = c.grpcServer.Serve(listener) }()
	return c, nil
}

// Endpoint returns the listening address, e.g. "127.0.0.1:54321".
func (c *Collector) Endpoint() string {
	return c.listener.Addr().String()
}

// Stop shuts the server down. Safe to call multiple times.
func (c *Collector) Stop() {
	c.stopOnce.Do(c.grpcServer.Stop)
}

// Reject makes subsequent exports fail with Unavailable.
func (c *Collector) Reject(reject bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reject = reject
}

// Received returns a copy of every ResourceMetrics exported so far.
func (c *Collector) Received() []*metricspb.ResourceMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*metricspb.ResourceMetrics, len(c.received))
	copy(out, c.received)
	return out
}

// Export implements the OTLP MetricsService.
func (c *Collector) Export(
	ctx context.Context,
	req *collectormetrics.ExportMetricsServiceRequest,
) (*collectormetrics.ExportMetricsServiceResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request cannot be nil")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reject {
		return nil, status.Error(codes.Unavailable, "collector rejecting exports")
	}
	c.received = append(c.received, req.ResourceMetrics...)
	return &collectormetrics.ExportMetricsServiceResponse{}, nil
}

// Find returns the first metric with the given name across everything
// received, or nil.
func Find(rms []*metricspb.ResourceMetrics, name string) *metricspb.Metric {
	for _, rm := range rms {
		for _, sm := range rm.ScopeMetrics {
			for _, m := range sm.Metrics {
				if m.Name == name {
					return m
				}
			}
		}
	}
	return nil
}
