// Package mqttpub mirrors the dashboard onto an MQTT broker: one retained
// topic per fact, republished only when its payload changes.
package mqttpub

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	jsoniter "github.com/json-iterator/go"
	"github.com/zeebo/xxh3"

	"github.com/tobert/rdmwatch/internal/device"
	"github.com/tobert/rdmwatch/internal/state"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultPrefix is the topic prefix when none is configured.
const DefaultPrefix = "rdmwatch"

// Config holds configuration for a Publisher.
type Config struct {
	Broker   string // e.g. "tcp://localhost:1883"
	Prefix   string // topic prefix, defaults to DefaultPrefix
	ClientID string // defaults to "rdmwatch-<unix time>"
	QoS      byte
	Timeout  time.Duration // connect and publish timeout, 0 means 10s
	Verbose  bool
}

// PortMessage is the payload of <prefix>/ports/<n>.
type PortMessage struct {
	Port       int     `json:"port"`
	Active     bool    `json:"active"`
	Mode       string  `json:"mode"`
	Universe   *int    `json:"universe"`
	FramesSent uint64  `json:"frames_sent"`
	RateHz     float64 `json:"rate_hz"`
}

// ProtocolsMessage is the payload of <prefix>/protocols.
type ProtocolsMessage struct {
	ArtNetPackets uint64  `json:"artnet_packets"`
	ArtNetRate    float64 `json:"artnet_rate"`
	SACNPackets   uint64  `json:"sacn_packets"`
	SACNRate      float64 `json:"sacn_rate"`
}

// Publisher implements poller.Sink.
type Publisher struct {
	client  mqtt.Client
	prefix  string
	qos     byte
	timeout time.Duration
	verbose bool

	mu   sync.Mutex
	sent map[string]uint64 // topic -> xxh3 of the last payload
}

// New creates a Publisher with a paho client. The monitor's own presence is
// published retained on <prefix>/monitor, with "offline" as the last will.
func New(cfg Config) (*Publisher, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt broker is required")
	}
	p := newPublisher(nil, cfg)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("rdmwatch-%d", time.Now().Unix())
	}
	opts.SetClientID(clientID)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(p.timeout)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(time.Minute)
	opts.SetWill(p.topic("monitor"), "offline", p.qos, true)
	opts.SetOnConnectHandler(p.onConnect)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("⚠️  mqtt: connection lost: %v\n", err)
	})

	p.client = mqtt.NewClient(opts)
	return p, nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client mqtt.Client, cfg Config) *Publisher {
	return newPublisher(client, cfg)
}

func newPublisher(client mqtt.Client, cfg Config) *Publisher {
	p := &Publisher{
		client:  client,
		prefix:  strings.TrimSuffix(cfg.Prefix, "/"),
		qos:     cfg.QoS,
		timeout: cfg.Timeout,
		verbose: cfg.Verbose,
		sent:    make(map[string]uint64),
	}
	if p.prefix == "" {
		p.prefix = DefaultPrefix
	}
	if p.timeout <= 0 {
		p.timeout = 10 * time.Second
	}
	return p
}

// Connect connects to the broker.
func (p *Publisher) Connect() error {
	token := p.client.Connect()
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("mqtt connect: timed out after %s", p.timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

// onConnect runs on every (re)connect. Retained state may have been lost
// with the broker, so everything is sent again on the next publish.
func (p *Publisher) onConnect(_ mqtt.Client) {
	p.mu.Lock()
	clear(p.sent)
	p.mu.Unlock()

	if err := p.send(p.topic("monitor"), []byte("online")); err != nil {
		log.Printf("⚠️  mqtt: %v\n", err)
		return
	}
	if p.verbose {
		log.Printf("📡 mqtt: connected, publishing under %s/\n", p.prefix)
	}
}

// Publish sends every topic whose payload changed since the last call.
func (p *Publisher) Publish(ctx context.Context, d state.Dashboard) error {
	if !d.Polled {
		return nil
	}

	msgs := Messages(d)
	topics := make([]string, 0, len(msgs))
	for suffix := range msgs {
		topics = append(topics, suffix)
	}
	sort.Strings(topics)

	var errs []string
	for _, suffix := range topics {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.publishChanged(p.topic(suffix), msgs[suffix]); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("mqtt publish: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (p *Publisher) publishChanged(topic string, payload []byte) error {
	sum := xxh3.Hash(payload)

	p.mu.Lock()
	last, seen := p.sent[topic]
	p.mu.Unlock()
	if seen && last == sum {
		return nil
	}

	if err := p.send(topic, payload); err != nil {
		return err
	}

	p.mu.Lock()
	p.sent[topic] = sum
	p.mu.Unlock()
	return nil
}

func (p *Publisher) send(topic string, payload []byte) error {
	token := p.client.Publish(topic, p.qos, true, payload)
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("%s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%s: %w", topic, err)
	}
	return nil
}

// Close marks the monitor offline and disconnects.
func (p *Publisher) Close() {
	if p.client.IsConnected() {
		_ = p.send(p.topic("monitor"), []byte("offline"))
	}
	p.client.Disconnect(250)
}

func (p *Publisher) topic(suffix string) string {
	return p.prefix + "/" + suffix
}

// Messages renders the dashboard as topic suffix -> payload. Every topic is
// always present: a port or the protocol counters with no current data map
// to an empty payload, which clears the broker's retained copy.
func Messages(d state.Dashboard) map[string][]byte {
	msgs := map[string][]byte{
		"status": []byte("offline"),
		"live":   []byte(d.Live.String()),
	}
	if d.Connected {
		msgs["status"] = []byte("online")
	}

	for i := 0; i < device.PortCount; i++ {
		topic := "ports/" + strconv.Itoa(i+1)
		ps := d.Ports[i]
		if ps.Snapshot == nil {
			msgs[topic] = []byte{}
			continue
		}
		payload, err := json.Marshal(PortMessage{
			Port:       i + 1,
			Active:     ps.Snapshot.Active,
			Mode:       device.ModeName(ps.Snapshot.Mode),
			Universe:   ps.Snapshot.Universe,
			FramesSent: ps.Snapshot.FramesSent,
			RateHz:     ps.Rate.Rounded(),
		})
		if err != nil {
			payload = []byte{}
		}
		msgs[topic] = payload
	}

	msgs["protocols"] = []byte{}
	if d.Stats != nil {
		pm := ProtocolsMessage{ArtNetRate: d.ArtNetRate.Rounded(), SACNRate: d.SACNRate.Rounded()}
		if d.Stats.ArtNet != nil {
			pm.ArtNetPackets = d.Stats.ArtNet.Packets
		}
		if d.Stats.SACN != nil {
			pm.SACNPackets = d.Stats.SACN.Packets
		}
		if payload, err := json.Marshal(pm); err == nil {
			msgs["protocols"] = payload
		}
	}
	return msgs
}
