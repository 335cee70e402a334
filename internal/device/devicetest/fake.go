// Package devicetest provides an in-process fake of the node's HTTP API for
// tests in other packages.
package devicetest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
)

// Device is a fake node. Every route answers with the JSON body set for it,
// or with the status code set through Fail.
type Device struct {
	*httptest.Server

	mu       sync.Mutex
	bodies   map[string]string
	failures map[string]int
	hits     map[string]int
	posts    map[string][]string
}

// Route keys.
const (
	SystemInfo    = "GET /api/system/info"
	SystemStats   = "GET /api/system/stats"
	NetworkStatus = "GET /api/network/status"
	PortsStatus   = "GET /api/ports/status"
	ConfigGet     = "GET /api/config"
	ConfigPost    = "POST /api/config"
	Blackout1     = "POST /api/ports/1/blackout"
	Blackout2     = "POST /api/ports/2/blackout"
	RDMDiscover   = "POST /api/rdm/discover"
	Restart       = "POST /api/system/restart"
	FactoryReset  = "POST /api/system/factory-reset"
)

// New starts a fake device with healthy default responses.
func New() *Device {
	d := &Device{
		bodies: map[string]string{
			SystemInfo:    `{"firmware_version":"1.2.0","hardware":"ESP32-S3","idf_version":"v5.2","free_heap":183456,"uptime_sec":3725}`,
			SystemStats:   `{"artnet":{"packets":1000,"dmx_packets":900},"sacn":{"packets":50,"data_packets":40}}`,
			NetworkStatus: `{"mode":"sta","ip":"192.168.1.50","connected":true}`,
			PortsStatus:   `[{"port":1,"active":true,"mode":1,"universe":0,"frames_sent":100},{"port":2,"active":false,"mode":2,"frames_sent":0}]`,
			ConfigGet:     `{"node_info":{"short_name":"node","long_name":"ESP node"},"port1":{"mode":1,"universe_primary":0,"merge_mode":0},"port2":{"mode":2,"universe_primary":1,"merge_mode":1}}`,
			ConfigPost:    `{"status":"ok","message":"Configuration updated (restart required)"}`,
			Blackout1:     `{"status":"ok"}`,
			Blackout2:     `{"status":"ok"}`,
			RDMDiscover:   `[]`,
			Restart:       `{"status":"ok","message":"restarting"}`,
			FactoryReset:  `{"status":"ok"}`,
		},
		failures: make(map[string]int),
		hits:     make(map[string]int),
		posts:    make(map[string][]string),
	}

	mux := http.NewServeMux()
	for route := range d.bodies {
		mux.HandleFunc(route, d.handler(route))
	}
	d.Server = httptest.NewServer(mux)
	return d
}

func (d *Device) handler(route string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		d.hits[route]++
		if r.Method == http.MethodPost && r.Body != nil {
			var buf json.RawMessage
			if err := json.NewDecoder(r.Body).Decode(&buf); err == nil {
				d.posts[route] = append(d.posts[route], string(buf))
			}
		}
		code, failing := d.failures[route]
		body := d.bodies[route]
		d.mu.Unlock()

		if failing {
			http.Error(w, http.StatusText(code), code)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}
}

// Set replaces the body served for a route and clears any failure.
func (d *Device) Set(route, body string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bodies[route] = body
	delete(d.failures, route)
}

// Fail makes a route answer with the given status code.
func (d *Device) Fail(route string, code int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[route] = code
}

// Heal clears a failure set through Fail.
func (d *Device) Heal(route string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.failures, route)
}

// Hits returns how many times a route was requested.
func (d *Device) Hits(route string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hits[route]
}

// Posted returns the JSON bodies posted to a route.
func (d *Device) Posted(route string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.posts[route]...)
}
