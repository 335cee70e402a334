package otlpexport

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	metricspb "go.opentelemetry.io/proto/otlp/metrics/v1"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/tobert/rdmwatch/internal/state"
)

// FileSink appends one OTLP MetricsData JSON object per poll to a file, in
// the line format of the OpenTelemetry Collector file exporter.
type FileSink struct {
	service string
	starts  *Starts

	mu   sync.Mutex
	file *os.File
}

// NewFileSink opens path for appending, creating it if needed.
func NewFileSink(path, serviceName string, start time.Time) (*FileSink, error) {
	if path == "" {
		return nil, fmt.Errorf("otlp file path is required")
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open otlp file %s: %w", path, err)
	}
	if serviceName == "" {
		serviceName = DefaultServiceName
	}
	return &FileSink{service: serviceName, starts: NewStarts(start), file: f}, nil
}

// Publish implements poller.Sink.
func (s *FileSink) Publish(_ context.Context, d state.Dashboard) error {
	if !d.Polled {
		return nil
	}

	data := &metricspb.MetricsData{ResourceMetrics: []*metricspb.ResourceMetrics{Build(d, s.service, s.starts)}}
	line, err := protojson.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode metrics: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return fmt.Errorf("otlp file sink is closed")
	}
	if _, err := s.file.Write(line); err != nil {
		return fmt.Errorf("write otlp file: %w", err)
	}
	return nil
}

// Close closes the file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
