package mgmt

import (
	"fmt"
	"net"
	"time"

	"github.com/nexswitch/vswitch/pkg/arp"
	"github.com/nexswitch/vswitch/pkg/mactable"
	"github.com/nexswitch/vswitch/pkg/packetbuf"
	"github.com/nexswitch/vswitch/pkg/port"
	"github.com/nexswitch/vswitch/pkg/routing"
	"github.com/nexswitch/vswitch/pkg/stp"
	"github.com/nexswitch/vswitch/pkg/vlan"
)

// Config is the management surface's own listen/CORS/metrics configuration,
// separate from config.SwitchConfig's Mgmt section (which only carries
// Enabled/ListenAddr) -- generalized the way pkg/webui.Config carries the
// full HTTP server shape the teacher's own config file format never did.
type Config struct {
	ListenAddr string

	EnableCORS     bool
	AllowedOrigins []string

	EnableMetrics bool
	MetricsPath   string
}

func DefaultConfig() *Config {
	return &Config{
		ListenAddr:    ":8080",
		EnableCORS:    true,
		EnableMetrics: true,
		MetricsPath:   "/metrics",
	}
}

// APIResponse is the envelope every handler replies with, matching
// pkg/webui's APIResponse shape.
type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// EventType tags a pushed WebSocket event.
type EventType string

const (
	EventStats      EventType = "stats"
	EventLinkChange EventType = "link_change"
	EventMacMove    EventType = "mac_move"
	EventPong       EventType = "pong"
)

// Event is one message fanned out to every connected WebSocket client.
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// WebSocketMessage is the client<->server JSON wire shape on /ws,
// grounded on pkg/webui/types.go's message of the same name.
type WebSocketMessage struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// PortDTO is the read-only view of a port.Entry served over /api/ports.
type PortDTO struct {
	ID        packetbuf.PortID `json:"id"`
	Kind      string           `json:"kind"`
	Name      string           `json:"name"`
	AdminUp   bool             `json:"admin_up"`
	OperState string           `json:"oper_state"`
	SpeedMbps uint64           `json:"speed_mbps"`
	Mac       string           `json:"mac"`
	Pvid      packetbuf.VlanID `json:"pvid"`
	Mtu       int              `json:"mtu"`
	IPv4      string           `json:"ipv4,omitempty"`
}

func macString(mac packetbuf.MacAddr) string {
	return net.HardwareAddr(mac[:]).String()
}

func ipv4String(addr [4]byte) string {
	if addr == ([4]byte{}) {
		return ""
	}
	return net.IP(addr[:]).String()
}

func portToDTO(e port.Entry) PortDTO {
	return PortDTO{
		ID:        e.ID,
		Kind:      e.Kind.String(),
		Name:      e.Name,
		AdminUp:   e.AdminUp,
		OperState: e.OperState.String(),
		SpeedMbps: e.SpeedMbps,
		Mac:       macString(e.MacAddr),
		Pvid:      e.Pvid,
		Mtu:       e.Mtu,
		IPv4:      ipv4String(e.IPv4),
	}
}

// VlanDTO is the read-only view of a vlan.Entry served over /api/vlans.
type VlanDTO struct {
	VlanID          packetbuf.VlanID   `json:"vlan_id"`
	Name            string             `json:"name"`
	Active          bool               `json:"active"`
	MemberPorts     []packetbuf.PortID `json:"member_ports"`
	UntaggedPorts   []packetbuf.PortID `json:"untagged_ports"`
	LearningEnabled bool               `json:"learning_enabled"`
	StpEnabled      bool               `json:"stp_enabled"`
}

func vlanToDTO(v vlan.Entry) VlanDTO {
	return VlanDTO{
		VlanID:          v.VlanID,
		Name:            v.Name,
		Active:          v.Active,
		MemberPorts:     v.MemberPorts.Slice(),
		UntaggedPorts:   v.UntaggedPorts.Slice(),
		LearningEnabled: v.LearningEnabled,
		StpEnabled:      v.StpEnabled,
	}
}

// MacEntryDTO is the read-only view of a mactable.Entry served over
// /api/mac-table.
type MacEntryDTO struct {
	Mac        string           `json:"mac"`
	Vlan       packetbuf.VlanID `json:"vlan"`
	Port       packetbuf.PortID `json:"port"`
	Kind       string           `json:"kind"`
	LastUsedTs time.Time        `json:"last_used_ts"`
	HitCount   uint64           `json:"hit_count"`
}

func macEntryKind(k mactable.Kind) string {
	switch k {
	case mactable.Static:
		return "static"
	case mactable.Management:
		return "management"
	default:
		return "dynamic"
	}
}

func macEntryToDTO(e mactable.Entry) MacEntryDTO {
	return MacEntryDTO{
		Mac:        macString(e.Mac),
		Vlan:       e.Vlan,
		Port:       e.Port,
		Kind:       macEntryKind(e.Kind),
		LastUsedTs: e.LastUsedTs,
		HitCount:   e.HitCount,
	}
}

// ArpEntryDTO is the read-only view of an arp.Entry served over /api/arp.
type ArpEntryDTO struct {
	IP         string           `json:"ip"`
	Mac        string           `json:"mac"`
	State      string           `json:"state"`
	Port       packetbuf.PortID `json:"port"`
	UpdatedTs  time.Time        `json:"updated_ts"`
	RetryCount int              `json:"retry_count"`
}

func arpEntryToDTO(e arp.Entry) ArpEntryDTO {
	return ArpEntryDTO{
		IP:         ipv4String(e.IP),
		Mac:        macString(e.Mac),
		State:      e.State.String(),
		Port:       e.PortIndex,
		UpdatedTs:  e.UpdatedTs,
		RetryCount: e.RetryCount,
	}
}

// StpPortDTO is the read-only view of an stp.Port served over /api/stp.
type StpPortDTO struct {
	PortID       packetbuf.PortID `json:"port_id"`
	State        string           `json:"state"`
	Priority     uint8            `json:"priority"`
	PathCost     uint32           `json:"path_cost"`
	RootPathCost uint32           `json:"root_path_cost"`
	BpduReceived bool             `json:"bpdu_received"`
}

func stpPortToDTO(p stp.Port) StpPortDTO {
	return StpPortDTO{
		PortID:       p.PortID,
		State:        p.State.String(),
		Priority:     p.Priority,
		PathCost:     p.PathCost,
		RootPathCost: p.RootPathCost,
		BpduReceived: p.BpduReceived,
	}
}

// StpSummaryDTO is the bridge-wide spanning-tree state served over
// /api/stp.
type StpSummaryDTO struct {
	BridgeID     string       `json:"bridge_id"`
	RootID       string       `json:"root_id"`
	IsRootBridge bool         `json:"is_root_bridge"`
	RootPort     int          `json:"root_port,omitempty"`
	Ports        []StpPortDTO `json:"ports"`
}

func bridgeIDString(id stp.BridgeID) string {
	return net.HardwareAddr(id.Mac[:]).String()
}

// RouteDTO is the read-only view of a routing.RouteEntry served over
// /api/routes.
type RouteDTO struct {
	Prefix        string `json:"prefix"`
	NextHop       string `json:"next_hop,omitempty"`
	IfaceIndex    int    `json:"iface_index"`
	IfaceName     string `json:"iface_name"`
	Type          string `json:"type"`
	AdminDistance int    `json:"admin_distance"`
	Metric        int    `json:"metric"`
	Active        bool   `json:"active"`
}

func prefixString(p routing.Prefix) string {
	if p.Family == routing.FamilyV4 {
		var addr [4]byte
		copy(addr[:], p.Addr[12:])
		return net.IP(addr[:]).String() + "/" + itoa(p.PrefixLen)
	}
	return net.IP(p.Addr[:]).String() + "/" + itoa(p.PrefixLen)
}

func itoa(n int) string {
	return fmt.Sprintf("%d", n)
}

func routeToDTO(r routing.RouteEntry) RouteDTO {
	nh := ""
	if r.NextHop != ([16]byte{}) {
		nh = net.IP(r.NextHop[:]).String()
	}
	return RouteDTO{
		Prefix:        prefixString(r.Prefix),
		NextHop:       nh,
		IfaceIndex:    r.IfaceIndex,
		IfaceName:     r.IfaceName,
		Type:          r.Type.String(),
		AdminDistance: r.AdminDistance,
		Metric:        r.Metric,
		Active:        r.Active,
	}
}
