package device

import "strings"

// Resource names used in errors and notifications.
const (
	ResourceSystemInfo    = "system info"
	ResourceSystemStats   = "system stats"
	ResourceNetworkStatus = "network status"
	ResourcePortsStatus   = "ports status"
	ResourceConfig        = "config"
)

// PortCount is the number of DMX ports on the device.
const PortCount = 2

// SystemInfo mirrors GET /api/system/info.
type SystemInfo struct {
	FirmwareVersion string `json:"firmware_version"`
	Hardware        string `json:"hardware"`
	IDFVersion      string `json:"idf_version"`
	FreeHeap        uint64 `json:"free_heap"`
	UptimeSec       uint64 `json:"uptime_sec"`
}

// ProtocolCounters holds the packet counters of one receiver.
type ProtocolCounters struct {
	Packets     uint64 `json:"packets"`
	DMXPackets  uint64 `json:"dmx_packets,omitempty"`
	DataPackets uint64 `json:"data_packets,omitempty"`
}

// SystemStats mirrors GET /api/system/stats. A missing receiver block stays nil.
type SystemStats struct {
	ArtNet *ProtocolCounters `json:"artnet"`
	SACN   *ProtocolCounters `json:"sacn"`
}

// NetworkStatus mirrors GET /api/network/status. Firmware builds differ on
// whether the address arrives as "ip" or "ip_address"; Address resolves both.
type NetworkStatus struct {
	Mode      string `json:"mode"`
	IP        string `json:"ip"`
	IPAddress string `json:"ip_address"`
	State     *int   `json:"state"`
	Connected bool   `json:"connected"`
}

// Address returns whichever address field the device filled in.
func (n NetworkStatus) Address() string {
	if n.IP != "" {
		return n.IP
	}
	return n.IPAddress
}

// PortSnapshot is a read-only mirror of one port as reported by
// GET /api/ports/status. It is replaced wholesale on every poll.
type PortSnapshot struct {
	Port           int    `json:"port"`
	Active         bool   `json:"active"`
	Mode           int    `json:"mode"`
	Universe       *int   `json:"universe"`
	FramesSent     uint64 `json:"frames_sent"`
	FramesReceived uint64 `json:"frames_received"`
}

// NodeInfo is the node naming block of the device config.
type NodeInfo struct {
	ShortName string `json:"short_name"`
	LongName  string `json:"long_name"`
}

// PortConfig is the per-port block of the device config.
type PortConfig struct {
	Mode            int `json:"mode"`
	UniversePrimary int `json:"universe_primary"`
	MergeMode       int `json:"merge_mode"`
	Priority        int `json:"priority,omitempty"`
}

// NetworkConfig is the network block of the device config.
type NetworkConfig struct {
	Mode     string `json:"mode,omitempty"`
	WifiSSID string `json:"wifi_ssid,omitempty"`
	UseDHCP  *bool  `json:"use_dhcp,omitempty"`
	StaticIP string `json:"static_ip,omitempty"`
	Gateway  string `json:"gateway,omitempty"`
	Netmask  string `json:"netmask,omitempty"`
}

// Config mirrors GET /api/config.
type Config struct {
	NodeInfo *NodeInfo      `json:"node_info,omitempty"`
	Port1    *PortConfig    `json:"port1,omitempty"`
	Port2    *PortConfig    `json:"port2,omitempty"`
	Network  *NetworkConfig `json:"network,omitempty"`
}

// ConfigPatch is a partial config update; the device merges it server side.
type ConfigPatch map[string]any

// Ack is the generic acknowledgement body returned by action endpoints.
type Ack struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// RDMDevice is one responder found by POST /api/rdm/discover.
type RDMDevice struct {
	Port         int    `json:"port"`
	UID          string `json:"uid"`
	Label        string `json:"label"`
	DMXAddress   int    `json:"dmx_address"`
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
}

var modeNames = map[int]string{
	0: "Disabled",
	1: "DMX Output",
	2: "DMX Input",
	3: "RDM Master",
	4: "RDM Responder",
}

// ModeName returns the display name of a port mode, or "Unknown".
func ModeName(mode int) string {
	if name, ok := modeNames[mode]; ok {
		return name
	}
	return "Unknown"
}

var mergeModeNames = map[int]string{
	0: "HTP",
	1: "LTP",
	2: "Last",
	3: "Backup",
	4: "Disabled",
}

// MergeModeName returns the display name of a merge mode, or "Unknown".
func MergeModeName(mode int) string {
	if name, ok := mergeModeNames[mode]; ok {
		return name
	}
	return "Unknown"
}

// ParseMergeMode maps a merge mode name, in any case, back to its number.
func ParseMergeMode(name string) (int, bool) {
	for mode, n := range mergeModeNames {
		if strings.EqualFold(n, name) {
			return mode, true
		}
	}
	return 0, false
}
