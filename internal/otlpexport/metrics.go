// Package otlpexport turns dashboard state into OTLP metrics and ships them
// to a collector over gRPC or to a JSONL file.
package otlpexport

import (
	"fmt"

	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	metricspb "go.opentelemetry.io/proto/otlp/metrics/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"

	"github.com/tobert/rdmwatch/internal/device"
	"github.com/tobert/rdmwatch/internal/live"
	"github.com/tobert/rdmwatch/internal/state"
)

// ScopeName identifies the instrumentation scope of every exported metric.
const ScopeName = "github.com/tobert/rdmwatch"

// Metric names.
const (
	MetricConnected     = "rdm.device.connected"
	MetricLiveConnected = "rdm.live.connected"
	MetricFreeHeap      = "rdm.device.free_heap"
	MetricUptime        = "rdm.device.uptime"
	MetricFramesSent    = "rdm.port.frames_sent"
	MetricRefreshRate   = "rdm.port.refresh_rate"
	MetricArtNetPackets = "rdm.artnet.packets"
	MetricArtNetRate    = "rdm.artnet.packet_rate"
	MetricSACNPackets   = "rdm.sacn.packets"
	MetricSACNRate      = "rdm.sacn.packet_rate"
)

// Build converts a dashboard snapshot into one ResourceMetrics. starts hands
// out the start time of each cumulative counter and is updated with the
// snapshot's values.
func Build(d state.Dashboard, serviceName string, starts *Starts) *metricspb.ResourceMetrics {
	b := &builder{d: d, starts: starts}

	b.gauge(MetricConnected, "1", "Whether the last system info poll succeeded", boolValue(d.Connected))
	b.gauge(MetricLiveConnected, "1", "Whether the push channel is open", boolValue(d.Live == live.Connected))

	if d.System != nil {
		b.gauge(MetricFreeHeap, "By", "Free heap reported by the device", int64(d.System.FreeHeap))
		b.gauge(MetricUptime, "s", "Device uptime", int64(d.System.UptimeSec))
	}

	var frames []*metricspb.NumberDataPoint
	var rates []*metricspb.NumberDataPoint
	for i := 0; i < device.PortCount; i++ {
		ps := d.Ports[i]
		if ps.Snapshot == nil {
			continue
		}
		attrs := []*commonpb.KeyValue{intAttr("port", int64(i+1)), intAttr("mode", int64(ps.Snapshot.Mode))}
		if ps.Snapshot.Universe != nil {
			attrs = append(attrs, intAttr("universe", int64(*ps.Snapshot.Universe)))
		}
		frames = append(frames, b.counterPoint(fmt.Sprintf("%s/port%d", MetricFramesSent, i+1), ps.Snapshot.FramesSent, attrs))
		if !ps.Sampled.IsZero() {
			rates = append(rates, b.doublePoint(ps.Rate.RatePerSecond, attrs))
		}
	}
	if len(frames) > 0 {
		b.sum(MetricFramesSent, "{frame}", "DMX frames sent per port", frames)
	}
	if len(rates) > 0 {
		b.doubleGauge(MetricRefreshRate, "Hz", "DMX refresh rate per port", rates)
	}

	if d.Stats != nil {
		if d.Stats.ArtNet != nil {
			b.sum(MetricArtNetPackets, "{packet}", "Art-Net packets received",
				[]*metricspb.NumberDataPoint{b.counterPoint(MetricArtNetPackets, d.Stats.ArtNet.Packets, nil)})
			b.doubleGauge(MetricArtNetRate, "{packet}/s", "Art-Net packet rate",
				[]*metricspb.NumberDataPoint{b.doublePoint(d.ArtNetRate.RatePerSecond, nil)})
		}
		if d.Stats.SACN != nil {
			b.sum(MetricSACNPackets, "{packet}", "sACN packets received",
				[]*metricspb.NumberDataPoint{b.counterPoint(MetricSACNPackets, d.Stats.SACN.Packets, nil)})
			b.doubleGauge(MetricSACNRate, "{packet}/s", "sACN packet rate",
				[]*metricspb.NumberDataPoint{b.doublePoint(d.SACNRate.RatePerSecond, nil)})
		}
	}

	resAttrs := []*commonpb.KeyValue{stringAttr("service.name", serviceName)}
	if d.DeviceHost != "" {
		resAttrs = append(resAttrs, stringAttr("host.name", d.DeviceHost))
	}
	if d.System != nil && d.System.FirmwareVersion != "" {
		resAttrs = append(resAttrs, stringAttr("device.firmware.version", d.System.FirmwareVersion))
	}

	return &metricspb.ResourceMetrics{
		Resource: &resourcepb.Resource{Attributes: resAttrs},
		ScopeMetrics: []*metricspb.ScopeMetrics{{
			Scope:   &commonpb.InstrumentationScope{Name: ScopeName},
			Metrics: b.metrics,
		}},
	}
}

type builder struct {
	d       state.Dashboard
	starts  *Starts
	metrics []*metricspb.Metric
}

func (b *builder) gauge(name, unit, desc string, v int64) {
	b.metrics = append(b.metrics, &metricspb.Metric{
		Name:        name,
		Unit:        unit,
		Description: desc,
		Data: &metricspb.Metric_Gauge{Gauge: &metricspb.Gauge{
			DataPoints: []*metricspb.NumberDataPoint{b.intPoint(v, nil)},
		}},
	})
}

func (b *builder) doubleGauge(name, unit, desc string, points []*metricspb.NumberDataPoint) {
	b.metrics = append(b.metrics, &metricspb.Metric{
		Name:        name,
		Unit:        unit,
		Description: desc,
		Data:        &metricspb.Metric_Gauge{Gauge: &metricspb.Gauge{DataPoints: points}},
	})
}

func (b *builder) sum(name, unit, desc string, points []*metricspb.NumberDataPoint) {
	b.metrics = append(b.metrics, &metricspb.Metric{
		Name:        name,
		Unit:        unit,
		Description: desc,
		Data: &metricspb.Metric_Sum{Sum: &metricspb.Sum{
			DataPoints:             points,
			AggregationTemporality: metricspb.AggregationTemporality_AGGREGATION_TEMPORALITY_CUMULATIVE,
			IsMonotonic:            true,
		}},
	})
}

func (b *builder) intPoint(v int64, attrs []*commonpb.KeyValue) *metricspb.NumberDataPoint {
	return &metricspb.NumberDataPoint{
		Attributes:   attrs,
		TimeUnixNano: uint64(b.d.LastPoll.UnixNano()),
		Value:        &metricspb.NumberDataPoint_AsInt{AsInt: v},
	}
}

// counterPoint is an intPoint of a cumulative series.
func (b *builder) counterPoint(series string, v uint64, attrs []*commonpb.KeyValue) *metricspb.NumberDataPoint {
	p := b.intPoint(int64(v), attrs)
	p.StartTimeUnixNano = uint64(b.starts.Observe(series, v, b.d.LastPoll).UnixNano())
	return p
}

func (b *builder) doublePoint(v float64, attrs []*commonpb.KeyValue) *metricspb.NumberDataPoint {
	return &metricspb.NumberDataPoint{
		Attributes:   attrs,
		TimeUnixNano: uint64(b.d.LastPoll.UnixNano()),
		Value:        &metricspb.NumberDataPoint_AsDouble{AsDouble: v},
	}
}

func boolValue(v bool) int64 {
	if v {
		return 1
	}
	return 0
}

func stringAttr(key, value string) *commonpb.KeyValue {
	return &commonpb.KeyValue{Key: key, Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: value}}}
}

func intAttr(key string, value int64) *commonpb.KeyValue {
	return &commonpb.KeyValue{Key: key, Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_IntValue{IntValue: value}}}
}
