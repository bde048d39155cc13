// Package config loads the switch simulator's configuration surface
// (spec.md §6) the way the teacher's pkg/config/config.go loads
// BondConfig, generalized to use viper (the teacher's go.mod declares
// viper but its hand-rolled loader never imports it) so the same
// SwitchConfig can come from a YAML/JSON file or environment variables
// without separate parsers.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// SwitchConfig is the complete configuration surface from spec.md §6.
type SwitchConfig struct {
	Ports    PortsConfig  `mapstructure:"ports"`
	Vlans    VlansConfig  `mapstructure:"vlans"`
	Mac      MacConfig    `mapstructure:"mac"`
	Routing  RoutingConfig `mapstructure:"routing"`
	Arp      ArpConfig    `mapstructure:"arp"`
	Mtu      MtuConfig    `mapstructure:"mtu"`
	IP       IPConfig     `mapstructure:"ip"`
	Features FeatureFlags `mapstructure:"features"`
	Logging  LoggingConfig `mapstructure:"logging"`
	Mgmt     MgmtConfig   `mapstructure:"mgmt"`
}

type PortsConfig struct {
	MaxPorts         int    `mapstructure:"max_ports"`
	DefaultPortCount int    `mapstructure:"default_port_count"`
	BaseMAC          string `mapstructure:"base_mac"`
}

type VlansConfig struct {
	MaxVlans      int `mapstructure:"max_vlans"`
	DefaultVlanID int `mapstructure:"default_vlan_id"`
}

type MacConfig struct {
	MaxEntries       int           `mapstructure:"max_entries"`
	DefaultAgingTime time.Duration `mapstructure:"default_aging_time"`
}

type RoutingConfig struct {
	MaxEntries  int    `mapstructure:"max_entries"`
	HwSyncMode  string `mapstructure:"hw_sync_mode"` // "null" or "rtnetlink"
	HwSyncTable int    `mapstructure:"hw_sync_table"`
}

type ArpConfig struct {
	MaxEntries       int           `mapstructure:"max_entries"`
	DefaultAgingTime time.Duration `mapstructure:"default_aging_time"`
	RetryIntervalMs  int           `mapstructure:"retry_interval_ms"`
	RetryCount       int           `mapstructure:"retry_count"`
}

type MtuConfig struct {
	MaxMtu     int `mapstructure:"max_mtu"`
	DefaultMtu int `mapstructure:"default_mtu"`
}

type IPConfig struct {
	MaxFragments    int           `mapstructure:"max_fragments"`
	FragmentTimeout time.Duration `mapstructure:"fragment_timeout"`
	EmitICMPErrors  bool          `mapstructure:"emit_icmp_errors"`
}

type FeatureFlags struct {
	IPv6        bool `mapstructure:"ipv6"`
	OSPF        bool `mapstructure:"ospf"`
	RIP         bool `mapstructure:"rip"`
	STP         bool `mapstructure:"stp"`
	QoS         bool `mapstructure:"qos"`
	HardwareSim bool `mapstructure:"hardware_sim"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type MgmtConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// MaxPacketSize is spec.md §6's hard ceiling on a single packet buffer.
const MaxPacketSize = 9216

// Default returns the configuration defaults enumerated in spec.md §6.
func Default() *SwitchConfig {
	return &SwitchConfig{
		Ports: PortsConfig{
			MaxPorts:         64,
			DefaultPortCount: 128,
			BaseMAC:          "02:00:00:00:00:00",
		},
		Vlans: VlansConfig{
			MaxVlans:      4094,
			DefaultVlanID: 1,
		},
		Mac: MacConfig{
			MaxEntries:       65536,
			DefaultAgingTime: 300 * time.Second,
		},
		Routing: RoutingConfig{
			MaxEntries:  16384,
			HwSyncMode:  "null",
			HwSyncTable: 254,
		},
		Arp: ArpConfig{
			MaxEntries:       8192,
			DefaultAgingTime: 1200 * time.Second,
			RetryIntervalMs:  1000,
			RetryCount:       3,
		},
		Mtu: MtuConfig{
			MaxMtu:     9216,
			DefaultMtu: 1500,
		},
		IP: IPConfig{
			MaxFragments:    64,
			FragmentTimeout: 30 * time.Second,
			EmitICMPErrors:  false,
		},
		Features: FeatureFlags{
			IPv6:        true,
			OSPF:        false,
			RIP:         false,
			STP:         true,
			QoS:         false,
			HardwareSim: false,
		},
		Logging: LoggingConfig{Level: "info"},
		Mgmt:    MgmtConfig{Enabled: true, ListenAddr: "127.0.0.1:8732"},
	}
}

// Load reads configuration from the compiled-in defaults, path (if
// non-empty) and environment variables prefixed VSWITCH_. Environment
// variables override the file, and the file overrides the defaults
// (viper's native override chain).
func Load(path string) (*SwitchConfig, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix("VSWITCH")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	cfg := &SwitchConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *SwitchConfig) {
	v.SetDefault("ports.max_ports", d.Ports.MaxPorts)
	v.SetDefault("ports.default_port_count", d.Ports.DefaultPortCount)
	v.SetDefault("ports.base_mac", d.Ports.BaseMAC)
	v.SetDefault("vlans.max_vlans", d.Vlans.MaxVlans)
	v.SetDefault("vlans.default_vlan_id", d.Vlans.DefaultVlanID)
	v.SetDefault("mac.max_entries", d.Mac.MaxEntries)
	v.SetDefault("mac.default_aging_time", d.Mac.DefaultAgingTime)
	v.SetDefault("routing.max_entries", d.Routing.MaxEntries)
	v.SetDefault("routing.hw_sync_mode", d.Routing.HwSyncMode)
	v.SetDefault("routing.hw_sync_table", d.Routing.HwSyncTable)
	v.SetDefault("arp.max_entries", d.Arp.MaxEntries)
	v.SetDefault("arp.default_aging_time", d.Arp.DefaultAgingTime)
	v.SetDefault("arp.retry_interval_ms", d.Arp.RetryIntervalMs)
	v.SetDefault("arp.retry_count", d.Arp.RetryCount)
	v.SetDefault("mtu.max_mtu", d.Mtu.MaxMtu)
	v.SetDefault("mtu.default_mtu", d.Mtu.DefaultMtu)
	v.SetDefault("ip.max_fragments", d.IP.MaxFragments)
	v.SetDefault("ip.fragment_timeout", d.IP.FragmentTimeout)
	v.SetDefault("ip.emit_icmp_errors", d.IP.EmitICMPErrors)
	v.SetDefault("features.ipv6", d.Features.IPv6)
	v.SetDefault("features.ospf", d.Features.OSPF)
	v.SetDefault("features.rip", d.Features.RIP)
	v.SetDefault("features.stp", d.Features.STP)
	v.SetDefault("features.qos", d.Features.QoS)
	v.SetDefault("features.hardware_sim", d.Features.HardwareSim)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("mgmt.enabled", d.Mgmt.Enabled)
	v.SetDefault("mgmt.listen_addr", d.Mgmt.ListenAddr)
}

// Validate rejects configuration values outside spec.md's valid ranges.
func (c *SwitchConfig) Validate() error {
	if c.Ports.MaxPorts <= 0 || c.Ports.MaxPorts > 65535 {
		return fmt.Errorf("config: ports.max_ports out of range: %d", c.Ports.MaxPorts)
	}
	if c.Vlans.MaxVlans <= 0 || c.Vlans.MaxVlans > 4094 {
		return fmt.Errorf("config: vlans.max_vlans out of range: %d", c.Vlans.MaxVlans)
	}
	if c.Mtu.DefaultMtu <= 0 || c.Mtu.DefaultMtu > c.Mtu.MaxMtu {
		return fmt.Errorf("config: mtu.default_mtu out of range: %d", c.Mtu.DefaultMtu)
	}
	if c.Mtu.MaxMtu > MaxPacketSize {
		return fmt.Errorf("config: mtu.max_mtu exceeds packet size ceiling %d", MaxPacketSize)
	}
	return nil
}
