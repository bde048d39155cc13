// Package vlan implements the VLAN engine (C5): per-port mode/PVID/
// membership and the ingress/egress tag transforms. Grounded on
// pkg/network/vlan/types.go and manager.go, generalized from "host VLAN
// subinterface manager" to "switch VLAN membership engine".
package vlan

import (
	"sync"

	"github.com/nexswitch/vswitch/pkg/corerr"
	"github.com/nexswitch/vswitch/pkg/packetbuf"
)

// Engine owns VlanEntry and PortConfig state. Per spec.md §5 it sits
// between the Port Registry and the MAC Table in the global lock order.
type Engine struct {
	mu       sync.RWMutex
	vlans    map[packetbuf.VlanID]*Entry
	ports    map[packetbuf.PortID]*PortConfig
	onEvent  EventCallback
}

func New() *Engine {
	return &Engine{
		vlans: make(map[packetbuf.VlanID]*Entry),
		ports: make(map[packetbuf.PortID]*PortConfig),
	}
}

func (e *Engine) SetEventCallback(cb EventCallback) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onEvent = cb
}

func (e *Engine) fire(ev Event) {
	if e.onEvent != nil {
		e.onEvent(ev)
	}
}

// CreateVlan registers a new VLAN. vid must be in 1..4094.
func (e *Engine) CreateVlan(vid packetbuf.VlanID, name string) error {
	if vid < 1 || vid > 4094 {
		return &EngineError{Op: "CreateVlan", Err: ErrInvalidVlanID}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.vlans[vid]; ok {
		return &EngineError{Op: "CreateVlan", Err: ErrVlanExists}
	}
	e.vlans[vid] = &Entry{
		VlanID:          vid,
		Name:            name,
		Active:          true,
		MemberPorts:     NewPortSet(),
		UntaggedPorts:   NewPortSet(),
		LearningEnabled: true,
		StpEnabled:      true,
	}
	e.fire(Event{Type: EventCreate, VlanID: vid})
	return nil
}

// DeleteVlan removes a VLAN entirely.
func (e *Engine) DeleteVlan(vid packetbuf.VlanID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.vlans[vid]; !ok {
		return &EngineError{Op: "DeleteVlan", Err: ErrVlanNotFound}
	}
	delete(e.vlans, vid)
	e.fire(Event{Type: EventDelete, VlanID: vid})
	return nil
}

// GetVlan returns a copy of a VLAN's membership/config.
func (e *Engine) GetVlan(vid packetbuf.VlanID) (Entry, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.vlans[vid]
	if !ok {
		return Entry{}, &EngineError{Op: "GetVlan", Err: ErrVlanNotFound}
	}
	cp := *v
	cp.MemberPorts = v.MemberPorts.Clone()
	cp.UntaggedPorts = v.UntaggedPorts.Clone()
	return cp, nil
}

// ListVlans returns a copy of every configured VLAN, for the management
// surface's read-only listing endpoint.
func (e *Engine) ListVlans() []Entry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Entry, 0, len(e.vlans))
	for _, v := range e.vlans {
		cp := *v
		cp.MemberPorts = v.MemberPorts.Clone()
		cp.UntaggedPorts = v.UntaggedPorts.Clone()
		out = append(out, cp)
	}
	return out
}

// AddPort adds p to vlan's membership, tagged or untagged. Enforces
// spec.md §3's invariant untagged_ports ⊆ member_ports.
func (e *Engine) AddPort(vid packetbuf.VlanID, p packetbuf.PortID, untagged bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.vlans[vid]
	if !ok {
		return &EngineError{Op: "AddPort", Err: ErrVlanNotFound}
	}
	v.MemberPorts.Add(p)
	if untagged {
		v.UntaggedPorts.Add(p)
	}
	e.fire(Event{Type: EventPortAdded, VlanID: vid, Port: p})
	return nil
}

// RemovePort removes p from both membership sets.
func (e *Engine) RemovePort(vid packetbuf.VlanID, p packetbuf.PortID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.vlans[vid]
	if !ok {
		return &EngineError{Op: "RemovePort", Err: ErrVlanNotFound}
	}
	v.MemberPorts.Remove(p)
	v.UntaggedPorts.Remove(p)
	e.fire(Event{Type: EventPortRemoved, VlanID: vid, Port: p})
	return nil
}

// SetPortConfig installs a port's VLAN mode/PVID configuration. For
// Access ports, spec.md §3/§8 require exactly one untagged VLAN equal to
// pvid; the caller is expected to have already called AddPort(pvid, p,
// untagged=true) on exactly one VLAN -- SetPortConfig only validates the
// mode-specific shape of cfg itself, not cross-VLAN membership, since
// membership lives on Entry, not PortConfig.
func (e *Engine) SetPortConfig(p packetbuf.PortID, cfg PortConfig) error {
	if cfg.Mode == ModeAccess && !cfg.AcceptUntagged {
		return &EngineError{Op: "SetPortConfig", Err: ErrAccessPortMultiUntagged}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := cfg
	if cfg.HybridTagged != nil {
		cp.HybridTagged = cfg.HybridTagged.Clone()
	} else {
		cp.HybridTagged = NewPortSet()
	}
	e.ports[p] = &cp
	e.fire(Event{Type: EventConfigChange, Port: p})
	return nil
}

func (e *Engine) GetPortConfig(p packetbuf.PortID) (PortConfig, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	cfg, ok := e.ports[p]
	if !ok {
		return PortConfig{}, &EngineError{Op: "GetPortConfig", Err: ErrPortNotFound}
	}
	cp := *cfg
	cp.HybridTagged = cfg.HybridTagged.Clone()
	return cp, nil
}

// Ingress implements spec.md §4.5's ingress algorithm: determine the
// frame's VLAN from its tag or the port's PVID, apply ingress filtering
// and tagged/untagged acceptance policy, and stamp metadata.
func (e *Engine) Ingress(inPort packetbuf.PortID, pkt *packetbuf.Buffer) (drop bool, err error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cfg, ok := e.ports[inPort]
	if !ok {
		return true, &EngineError{Op: "Ingress", Err: ErrPortNotFound}
	}

	tagged, err := IsTagged(pkt)
	if err != nil {
		return true, err
	}

	var vid packetbuf.VlanID
	if tagged {
		vid, _, _, err = ParseTag(pkt)
		if err != nil {
			return true, err
		}
	} else {
		vid = cfg.Pvid
	}

	v, ok := e.vlans[vid]
	if !ok || !v.Active {
		return true, nil
	}

	if cfg.IngressFilter && !v.MemberPorts.Has(inPort) {
		return true, nil
	}
	if tagged && !cfg.AcceptTagged {
		return true, nil
	}
	if !tagged && !cfg.AcceptUntagged {
		return true, nil
	}

	pkt.Metadata.Vlan = vid
	pkt.Metadata.IsTagged = tagged
	return false, nil
}

// Egress implements spec.md §4.5's egress algorithm, rewriting pkt's tag
// state for transmission out outPort on vlan.
func (e *Engine) Egress(outPort packetbuf.PortID, vlan packetbuf.VlanID, pkt *packetbuf.Buffer) error {
	e.mu.RLock()
	cfg, ok := e.ports[outPort]
	e.mu.RUnlock()
	if !ok {
		return &EngineError{Op: "Egress", Err: ErrPortNotFound}
	}

	switch cfg.Mode {
	case ModeAccess:
		return RemoveTag(pkt)
	case ModeTrunk:
		if vlan == cfg.NativeVlan {
			return RemoveTag(pkt)
		}
		return ReplaceTag(pkt, vlan, 0, false)
	case ModeHybrid:
		if cfg.HybridTagged.Has(packetbuf.PortID(vlan)) && vlan != cfg.NativeVlan {
			return ReplaceTag(pkt, vlan, 0, false)
		}
		return RemoveTag(pkt)
	default:
		return corerr.New("vlan.Egress", corerr.InvalidState, "unknown port mode")
	}
}
