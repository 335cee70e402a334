// Package device is an HTTP client for the node's JSON API. Decoding is
// deliberately lenient: absent fields keep their zero value so the caller can
// substitute placeholders instead of failing.
package device

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxBodySize caps how much of a response body is read.
const maxBodySize = 1 << 20

// StatusError is returned when the device answers with a non-2xx status.
type StatusError struct {
	Resource string
	Code     int
	Status   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.Resource, e.Code, e.Status)
}

// Config holds configuration for a Client.
type Config struct {
	BaseURL string        // e.g. "http://192.168.4.1"
	Timeout time.Duration // per-request transport timeout, 0 means 10s

	// HTTPClient overrides the default client. Timeout is ignored when set.
	HTTPClient *http.Client
}

// Client talks to one device.
type Client struct {
	base *url.URL
	http *http.Client
}

// New creates a Client for the device at cfg.BaseURL.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("device base URL is required")
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid device URL %q: %w", cfg.BaseURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("device URL %q must be http or https", cfg.BaseURL)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("device URL %q has no host", cfg.BaseURL)
	}
	base.Path = strings.TrimSuffix(base.Path, "/")

	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}

	return &Client{base: base, http: hc}, nil
}

// Origin returns the scheme://host the client talks to.
func (c *Client) Origin() string {
	return c.base.Scheme + "://" + c.base.Host
}

// Host returns the device host name without port.
func (c *Client) Host() string {
	return c.base.Hostname()
}

// SystemInfo fetches GET /api/system/info.
func (c *Client) SystemInfo(ctx context.Context) (*SystemInfo, error) {
	var info SystemInfo
	if err := c.get(ctx, "/api/system/info", ResourceSystemInfo, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// SystemStats fetches GET /api/system/stats.
func (c *Client) SystemStats(ctx context.Context) (*SystemStats, error) {
	var stats SystemStats
	if err := c.get(ctx, "/api/system/stats", ResourceSystemStats, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// NetworkStatus fetches GET /api/network/status. Older firmware does not
// implement it; callers should expect a StatusError.
func (c *Client) NetworkStatus(ctx context.Context) (*NetworkStatus, error) {
	var status NetworkStatus
	if err := c.get(ctx, "/api/network/status", ResourceNetworkStatus, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// PortsStatus fetches GET /api/ports/status. A body that is not an array, or
// that holds fewer than PortCount entries, yields nil and no error: there is
// simply nothing to update.
func (c *Client) PortsStatus(ctx context.Context) ([]PortSnapshot, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/ports/status", ResourcePortsStatus, nil)
	if err != nil {
		return nil, err
	}
	return DecodePorts(body)
}

// DecodePorts decodes a ports status payload with the same leniency as
// PortsStatus. Null entries in the array become zero snapshots numbered by
// position.
func DecodePorts(body []byte) ([]PortSnapshot, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, nil
	}

	var raw []jsoniter.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, fmt.Errorf("%s: decode: %w", ResourcePortsStatus, err)
	}
	if len(raw) < PortCount {
		return nil, nil
	}

	ports := make([]PortSnapshot, PortCount)
	for i := range ports {
		ports[i].Port = i + 1
		if len(raw[i]) == 0 || string(raw[i]) == "null" {
			continue
		}
		if err := json.Unmarshal(raw[i], &ports[i]); err != nil {
			return nil, fmt.Errorf("%s: decode port %d: %w", ResourcePortsStatus, i+1, err)
		}
		if ports[i].Port == 0 {
			ports[i].Port = i + 1
		}
	}
	return ports, nil
}

// Config fetches GET /api/config.
func (c *Client) Config(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := c.get(ctx, "/api/config", ResourceConfig, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// UpdateConfig posts a partial config; the device merges it.
func (c *Client) UpdateConfig(ctx context.Context, patch ConfigPatch) (*Ack, error) {
	payload, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("encode config patch: %w", err)
	}
	return c.post(ctx, "/api/config", ResourceConfig, payload)
}

// Blackout zeroes all channels on a port (1-based).
func (c *Client) Blackout(ctx context.Context, port int) (*Ack, error) {
	if port < 1 || port > PortCount {
		return nil, fmt.Errorf("invalid port %d: must be between 1 and %d", port, PortCount)
	}
	path := fmt.Sprintf("/api/ports/%d/blackout", port)
	return c.post(ctx, path, fmt.Sprintf("port %d blackout", port), nil)
}

// DiscoverRDM starts RDM discovery and returns the responders found.
func (c *Client) DiscoverRDM(ctx context.Context) ([]RDMDevice, error) {
	body, err := c.do(ctx, http.MethodPost, "/api/rdm/discover", "rdm discovery", nil)
	if err != nil {
		return nil, err
	}
	var devices []RDMDevice
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(body, &devices); err != nil {
		return nil, fmt.Errorf("rdm discovery: decode: %w", err)
	}
	return devices, nil
}

// Restart reboots the device.
func (c *Client) Restart(ctx context.Context) (*Ack, error) {
	return c.post(ctx, "/api/system/restart", "restart", nil)
}

// FactoryReset wipes the device configuration.
func (c *Client) FactoryReset(ctx context.Context) (*Ack, error) {
	return c.post(ctx, "/api/system/factory-reset", "factory reset", nil)
}

func (c *Client) get(ctx context.Context, path, resource string, out any) error {
	body, err := c.do(ctx, http.MethodGet, path, resource, nil)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: decode: %w", resource, err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path, resource string, payload []byte) (*Ack, error) {
	body, err := c.do(ctx, http.MethodPost, path, resource, payload)
	if err != nil {
		return nil, err
	}
	var ack Ack
	if len(bytes.TrimSpace(body)) > 0 {
		// Some handlers reply with plain text; an undecodable ack is not a failure.
		_ = json.Unmarshal(body, &ack)
	}
	return &ack, nil
}

func (c *Client) do(ctx context.Context, method, path, resource string, payload []byte) ([]byte, error) {
	u := *c.base
	u.Path = c.base.Path + path

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", resource, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", resource, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("%s: read body: %w", resource, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{
			Resource: resource,
			Code:     resp.StatusCode,
			Status:   http.StatusText(resp.StatusCode),
		}
	}

	return body, nil
}
