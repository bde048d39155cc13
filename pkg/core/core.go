// Package core implements the Core orchestrator: the explicit,
// non-global value that owns one instance of every engine (Port
// Registry, VLAN Engine, MAC Table, STP Bridge, IP Pipeline, Routing
// Table, ARP Cache) and wires the backend RX/TX boundary to them,
// enforcing the lock order from spec.md §5. Grounded on pkg/bonder, the
// teacher package whose whole job is "own one Router, one
// FailoverManager, one Processor, wire them together, run a ticker" --
// generalized here from bonding session orchestration to switch packet
// orchestration.
package core

import (
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/nexswitch/vswitch/pkg/arp"
	"github.com/nexswitch/vswitch/pkg/backend"
	"github.com/nexswitch/vswitch/pkg/config"
	"github.com/nexswitch/vswitch/pkg/corelog"
	"github.com/nexswitch/vswitch/pkg/ippipeline"
	"github.com/nexswitch/vswitch/pkg/mactable"
	"github.com/nexswitch/vswitch/pkg/packetbuf"
	"github.com/nexswitch/vswitch/pkg/pipeline"
	"github.com/nexswitch/vswitch/pkg/port"
	"github.com/nexswitch/vswitch/pkg/routing"
	"github.com/nexswitch/vswitch/pkg/stp"
	"github.com/nexswitch/vswitch/pkg/vlan"
)

// Core owns one instance of every switch engine. Lock order, top-down,
// per spec.md §5: Port Registry, VLAN Engine, MAC Table, STP Bridge,
// Routing Table, ARP Cache. No method here ever acquires two engine
// locks out of that order.
type Core struct {
	cfg *config.SwitchConfig
	be  backend.Backend

	ports    *port.Registry
	vlans    *vlan.Engine
	mac      *mactable.Table
	stpB     *stp.Bridge
	pipe     *pipeline.Pipeline
	ipPipe   *ippipeline.Pipeline
	routes   *routing.Table
	arpCache *arp.Cache

	log *logrus.Entry

	stopCh chan struct{}
	wg     sync.WaitGroup

	statsMu sync.Mutex
	stats   Stats
}

// Stats is the counter set spec.md §6 exposes through the management
// surface.
type Stats struct {
	FramesReceived  uint64
	FramesForwarded uint64
	FramesFlooded   uint64
	FramesDropped   uint64
	RoutedPackets   uint64
	ArpRequestsSent uint64
}

// New builds a Core wired to the given backend, sized and configured
// from cfg.
func New(cfg *config.SwitchConfig, be backend.Backend) (*Core, error) {
	baseMac, err := parseMac(cfg.Ports.BaseMAC)
	if err != nil {
		return nil, errInit("parsing ports.base_mac", err)
	}

	portCount := be.DeclaredPortCount()
	ports := port.New(portCount, baseMac)

	vlans := vlan.New()
	if err := vlans.CreateVlan(packetbuf.VlanID(cfg.Vlans.DefaultVlanID), "default"); err != nil {
		return nil, errInit("creating default vlan", err)
	}

	mac := mactable.New(cfg.Mac.MaxEntries, cfg.Mac.DefaultAgingTime)

	stpB := stp.New(32768, baseMac)

	for _, entry := range ports.All() {
		if entry.Kind == port.KindCpu {
			continue
		}
		if err := vlans.SetPortConfig(entry.ID, vlan.PortConfig{
			Mode:           vlan.ModeAccess,
			Pvid:           packetbuf.VlanID(cfg.Vlans.DefaultVlanID),
			NativeVlan:     packetbuf.VlanID(cfg.Vlans.DefaultVlanID),
			AcceptTagged:   true,
			AcceptUntagged: true,
			IngressFilter:  true,
			HybridTagged:   vlan.NewPortSet(),
		}); err != nil {
			return nil, errInit("configuring vlan port", err)
		}
		if err := vlans.AddPort(packetbuf.VlanID(cfg.Vlans.DefaultVlanID), entry.ID, true); err != nil {
			return nil, errInit("adding port to default vlan", err)
		}
		if err := stpB.AddPort(entry.ID); err != nil {
			return nil, errInit("adding stp port", err)
		}
	}
	stpB.SetEnabled(cfg.Features.STP)

	ipPipe := ippipeline.New(ippipeline.Config{
		EmitICMPErrors:  cfg.IP.EmitICMPErrors,
		FragmentTimeout: cfg.IP.FragmentTimeout,
		MaxFragments:    cfg.IP.MaxFragments,
	})

	routes := routing.New(cfg.Routing.MaxEntries)
	switch cfg.Routing.HwSyncMode {
	case "rtnetlink":
		hw, err := routing.NewRtnetlinkHwSync(uint32(cfg.Routing.HwSyncTable))
		if err != nil {
			return nil, errInit("opening rtnetlink hw-sync", err)
		}
		routes.SetHwSync(true, hw)
	default:
		routes.SetHwSync(false, routing.NewNullHwSync())
	}

	arpCache := arp.New(cfg.Arp.MaxEntries)
	arpCache.SetMacLearner(mac)

	c := &Core{
		cfg:      cfg,
		be:       be,
		ports:    ports,
		vlans:    vlans,
		mac:      mac,
		stpB:     stpB,
		pipe:     pipeline.New(),
		ipPipe:   ipPipe,
		routes:   routes,
		arpCache: arpCache,
		log:      corelog.For("core"),
		stopCh:   make(chan struct{}),
	}

	ipPipe.SetLocalAddressSet(&portLocalAddrs{ports: ports})
	ipPipe.SetICMPSender(c.sendICMPReply)
	arpCache.SetPortAddressSource(&portAddrSource{ports: ports})
	arpCache.SetFrameSender(&coreFrameSender{core: c})

	stpB.SetTransmitFunc(func(p packetbuf.PortID, frame []byte) {
		if err := be.Transmit(p, frame); err != nil {
			c.log.WithError(err).WithField("port", p).Warn("bpdu transmit failed")
		}
	})
	stpB.SetTCCallback(func(ev stp.TCEvent) {
		c.mac.Flush(nil, nil, false)
	})

	if err := c.registerProcessors(); err != nil {
		return nil, errInit("registering pipeline processors", err)
	}

	be.SetReceiveFunc(c.onReceive)

	return c, nil
}

func parseMac(s string) (packetbuf.MacAddr, error) {
	hw, err := net.ParseMAC(s)
	if err != nil {
		return packetbuf.MacAddr{}, err
	}
	var m packetbuf.MacAddr
	copy(m[:], hw)
	return m, nil
}

// Ports, Vlans, Mac, Stp, Routes, Arp expose the underlying engines for
// the management surface's endpoints, including its VLAN writes.
func (c *Core) Ports() *port.Registry     { return c.ports }
func (c *Core) Vlans() *vlan.Engine       { return c.vlans }
func (c *Core) Mac() *mactable.Table      { return c.mac }
func (c *Core) Stp() *stp.Bridge          { return c.stpB }
func (c *Core) Routes() *routing.Table    { return c.routes }
func (c *Core) Arp() *arp.Cache           { return c.arpCache }
func (c *Core) IPPipeline() *ippipeline.Pipeline { return c.ipPipe }

func (c *Core) SnapshotStats() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

func (c *Core) bump(f func(*Stats)) {
	c.statsMu.Lock()
	f(&c.stats)
	c.statsMu.Unlock()
}

// Start brings the backend up and launches the scheduler tick loop.
func (c *Core) Start() error {
	if err := c.be.Start(); err != nil {
		return errInit("starting backend", err)
	}
	c.wg.Add(1)
	go c.runScheduler()
	return nil
}

// Stop halts the scheduler and the backend.
func (c *Core) Stop() error {
	close(c.stopCh)
	c.wg.Wait()
	return c.be.Stop()
}
