// Package port implements the port registry (C2): physical ports plus one
// CPU port, their admin/oper state, and MAC address assignment. The
// mutex-guarded map-of-structs shape is grounded on
// pkg/network/bonding/manager.go and pkg/network/ipconfig/manager.go.
package port

import (
	"fmt"
	"sync"

	"github.com/nexswitch/vswitch/pkg/packetbuf"
)

// Registry owns every PortEntry. Per spec.md §5 it is the first lock in
// the global lock order: "Port Registry, VLAN Engine, MAC Table, STP
// Bridge, Routing Table, ARP Cache". The CPU port id is phys_count (spec.md
// §4.2's "created at init from backend's declared port count + one CPU
// port at phys_count") -- distinct from the 0xFFFE "internal" sentinel
// used in packet metadata.
type Registry struct {
	mu      sync.RWMutex
	entries map[packetbuf.PortID]*Entry
	physCnt uint32
	cpuPort packetbuf.PortID
	baseMAC packetbuf.MacAddr
}

// New builds a registry for physCount physical ports plus one CPU port, as
// described in spec.md §4.2.
func New(physCount uint32, baseMACAddr packetbuf.MacAddr) *Registry {
	r := &Registry{
		entries: make(map[packetbuf.PortID]*Entry, physCount+1),
		physCnt: physCount,
		cpuPort: packetbuf.PortID(physCount),
		baseMAC: baseMACAddr,
	}
	for i := uint32(0); i < physCount; i++ {
		id := packetbuf.PortID(i)
		r.entries[id] = &Entry{
			ID:        id,
			Kind:      KindPhysical,
			Name:      fmt.Sprintf("eth%d", i),
			AdminUp:   false,
			OperState: StateDown,
			SpeedMbps: 1000,
			Duplex:    DuplexFull,
			Mtu:       1500,
			Pvid:      packetbuf.DefaultVlan,
			MacAddr:   generateMAC(baseMACAddr, id),
		}
	}
	r.entries[r.cpuPort] = &Entry{
		ID:        r.cpuPort,
		Kind:      KindCpu,
		Name:      "cpu",
		AdminUp:   true,
		OperState: StateUp,
		SpeedMbps: 0,
		Duplex:    DuplexFull,
		Mtu:       9216,
		Pvid:      packetbuf.DefaultVlan,
		MacAddr:   packetbuf.MacAddr{0, 0, 0, 0, 0, 1},
	}
	return r
}

// generateMAC implements spec.md §4.2's "base[0..4] XOR (port_id>>8,
// port_id&0xFF) on the last two bytes" and rejects the degenerate cases by
// construction (base is never all-zero nor multicast in practice, and the
// XOR of a non-multicast base's first byte never flips the multicast bit
// because only the last two bytes are touched).
func generateMAC(base packetbuf.MacAddr, id packetbuf.PortID) packetbuf.MacAddr {
	mac := base
	mac[4] ^= byte(id >> 8)
	mac[5] ^= byte(id & 0xFF)
	return mac
}

// Count returns the number of physical ports (spec.md §4.2 count()).
func (r *Registry) Count() uint32 { return r.physCnt }

// TotalCount is phys_count + 1 (includes the CPU port).
func (r *Registry) TotalCount() uint32 { return r.physCnt + 1 }

// CPUPort returns the reserved CPU port id.
func (r *Registry) CPUPort() packetbuf.PortID { return r.cpuPort }

// IsValid reports whether id names a configured port.
func (r *Registry) IsValid(id packetbuf.PortID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[id]
	return ok
}

// GetInfo returns a copy of the port entry.
func (r *Registry) GetInfo(id packetbuf.PortID) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return Entry{}, &RegistryError{Op: "GetInfo", Port: uint16(id), Err: ErrPortNotFound}
	}
	return *e, nil
}

// GetConfig is an alias for GetInfo kept to mirror spec.md §4.2's named op.
func (r *Registry) GetConfig(id packetbuf.PortID) (Entry, error) { return r.GetInfo(id) }

// SetConfig overwrites the mutable configuration fields of a port entry
// (pvid, mtu, speed, duplex); identity fields (id, kind, name) are fixed.
func (r *Registry) SetConfig(id packetbuf.PortID, pvid packetbuf.VlanID, mtu int, speed uint64, duplex Duplex) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return &RegistryError{Op: "SetConfig", Port: uint16(id), Err: ErrPortNotFound}
	}
	if e.Kind == KindCpu {
		return &RegistryError{Op: "SetConfig", Port: uint16(id), Err: ErrCPUPortImmutable}
	}
	e.Pvid = pvid
	e.Mtu = mtu
	e.SpeedMbps = speed
	e.Duplex = duplex
	return nil
}

// SetAdminState sets admin_up and, when bringing the port down, also drops
// oper_state to Down (link-down propagation is the backend's job; this is
// purely the administrative half).
func (r *Registry) SetAdminState(id packetbuf.PortID, up bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return &RegistryError{Op: "SetAdminState", Port: uint16(id), Err: ErrPortNotFound}
	}
	if e.Kind == KindCpu {
		return &RegistryError{Op: "SetAdminState", Port: uint16(id), Err: ErrCPUPortImmutable}
	}
	e.AdminUp = up
	if !up {
		e.OperState = StateDown
	}
	return nil
}

// GetAdminState reports a port's administrative state.
func (r *Registry) GetAdminState(id packetbuf.PortID) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return false, &RegistryError{Op: "GetAdminState", Port: uint16(id), Err: ErrPortNotFound}
	}
	return e.AdminUp, nil
}

// SetOperState is called by Core in response to backend link events.
func (r *Registry) SetOperState(id packetbuf.PortID, state OperState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return &RegistryError{Op: "SetOperState", Port: uint16(id), Err: ErrPortNotFound}
	}
	e.OperState = state
	return nil
}

// StateOf returns the current operational state.
func (r *Registry) StateOf(id packetbuf.PortID) (OperState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return StateDown, &RegistryError{Op: "StateOf", Port: uint16(id), Err: ErrPortNotFound}
	}
	return e.OperState, nil
}

// SetMac rejects the unicast-zero and multicast addresses per spec.md §4.2.
func (r *Registry) SetMac(id packetbuf.PortID, mac packetbuf.MacAddr) error {
	if mac.IsZero() {
		return &RegistryError{Op: "SetMac", Port: uint16(id), Err: ErrUnicastZeroMAC}
	}
	if mac.IsMulticast() {
		return &RegistryError{Op: "SetMac", Port: uint16(id), Err: ErrMulticastMAC}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return &RegistryError{Op: "SetMac", Port: uint16(id), Err: ErrPortNotFound}
	}
	if e.Kind == KindCpu {
		return &RegistryError{Op: "SetMac", Port: uint16(id), Err: ErrCPUPortImmutable}
	}
	e.MacAddr = mac
	return nil
}

// GetMac returns a port's MAC address.
func (r *Registry) GetMac(id packetbuf.PortID) (packetbuf.MacAddr, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return packetbuf.MacAddr{}, &RegistryError{Op: "GetMac", Port: uint16(id), Err: ErrPortNotFound}
	}
	return e.MacAddr, nil
}

// GetAllMacs returns every configured port's MAC, keyed by port id.
func (r *Registry) GetAllMacs() map[packetbuf.PortID]packetbuf.MacAddr {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[packetbuf.PortID]packetbuf.MacAddr, len(r.entries))
	for id, e := range r.entries {
		out[id] = e.MacAddr
	}
	return out
}

// SetIPv4 assigns a routed IPv4 address/mask to a port, used by the IP
// pipeline's "destination is local" check and by ARP's request-source
// lookup (spec.md §9 open question on arp_send_request's sender address).
func (r *Registry) SetIPv4(id packetbuf.PortID, addr [4]byte, maskLen int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return &RegistryError{Op: "SetIPv4", Port: uint16(id), Err: ErrPortNotFound}
	}
	e.IPv4 = addr
	e.IPv4Mask = maskLen
	return nil
}

// All returns a snapshot slice of every port entry, CPU port included.
func (r *Registry) All() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, *e)
	}
	return out
}
