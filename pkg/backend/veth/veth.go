//go:build linux

// Package veth implements a Backend (C10) that binds simulated switch
// ports to real Linux network interfaces: link state via
// github.com/vishvananda/netlink (the teacher's own dependency, used the
// same way in network/bonding/manager_linux.go and
// network/vlan/manager_linux.go) and frame tx/rx via AF_PACKET raw
// sockets (grounded on the raw-listener pattern in
// internal/wol/raw_listener.go from the reference pack).
package veth

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/nexswitch/vswitch/pkg/backend"
	"github.com/nexswitch/vswitch/pkg/corelog"
	"github.com/nexswitch/vswitch/pkg/packetbuf"
)

// PortBinding maps one switch port index to a real Linux interface name.
type PortBinding struct {
	Port packetbuf.PortID
	Ifname string
}

type boundPort struct {
	ifname string
	index  int
	fd     int
	linkUp bool
}

// Backend binds each declared port to a real Linux interface (typically
// one half of a veth pair, or a tap device) and moves frames in and out
// through raw AF_PACKET sockets.
type Backend struct {
	mu      sync.Mutex
	ports   map[packetbuf.PortID]*boundPort
	recvFn  backend.ReceiveFunc
	linkCh  chan backend.LinkEvent
	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
	log     *logrus.Entry
}

// New builds a veth-backed backend for the given port-to-interface
// bindings. Interfaces must already exist (created by the host, e.g.
// `ip link add vswitch0 type veth peer name vswitch0-peer`).
func New(bindings []PortBinding) (*Backend, error) {
	b := &Backend{
		ports:  make(map[packetbuf.PortID]*boundPort),
		linkCh: make(chan backend.LinkEvent, 64),
		stopCh: make(chan struct{}),
		log:    corelog.For("backend.veth"),
	}
	for _, pb := range bindings {
		link, err := netlink.LinkByName(pb.Ifname)
		if err != nil {
			return nil, backend.ErrIO("New", fmt.Errorf("interface %s: %w", pb.Ifname, err))
		}
		b.ports[pb.Port] = &boundPort{
			ifname: pb.Ifname,
			index:  link.Attrs().Index,
			fd:     -1,
			linkUp: link.Attrs().Flags&net.FlagUp != 0,
		}
	}
	return b, nil
}

func (b *Backend) DeclaredPortCount() uint32 { return uint32(len(b.ports)) }

// htons converts a uint16 from host to network byte order.
func htons(v uint16) uint16 { return (v << 8) | (v >> 8) }

func (b *Backend) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return nil
	}

	for port, bp := range b.ports {
		fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(unix.ETH_P_ALL)))
		if err != nil {
			return backend.ErrIO("Start", fmt.Errorf("socket for %s: %w", bp.ifname, err))
		}
		addr := &unix.SockaddrLinklayer{Protocol: htons(unix.ETH_P_ALL), Ifindex: bp.index}
		if err := unix.Bind(fd, addr); err != nil {
			unix.Close(fd)
			return backend.ErrIO("Start", fmt.Errorf("bind %s: %w", bp.ifname, err))
		}
		tv := &unix.Timeval{Sec: 1, Usec: 0}
		_ = unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, tv)
		bp.fd = fd

		b.wg.Add(1)
		go b.receiveLoop(port, bp)
	}

	b.wg.Add(1)
	go b.linkMonitorLoop()

	b.started = true
	return nil
}

func (b *Backend) Stop() error {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return nil
	}
	b.started = false
	close(b.stopCh)
	for _, bp := range b.ports {
		if bp.fd >= 0 {
			_ = unix.Shutdown(bp.fd, unix.SHUT_RD)
		}
	}
	b.mu.Unlock()

	b.wg.Wait()

	b.mu.Lock()
	for _, bp := range b.ports {
		if bp.fd >= 0 {
			unix.Close(bp.fd)
			bp.fd = -1
		}
	}
	b.mu.Unlock()
	close(b.linkCh)
	return nil
}

func (b *Backend) receiveLoop(port packetbuf.PortID, bp *boundPort) {
	defer b.wg.Done()
	buf := make([]byte, packetbuf.MaxPacketSize)
	for {
		select {
		case <-b.stopCh:
			return
		default:
		}

		n, _, err := unix.Recvfrom(bp.fd, buf, 0)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
				continue
			}
			select {
			case <-b.stopCh:
				return
			default:
				b.log.WithError(err).Warn("raw socket recv failed")
				continue
			}
		}
		if n < 14 {
			continue
		}

		b.mu.Lock()
		fn := b.recvFn
		b.mu.Unlock()
		if fn != nil {
			frame := make([]byte, n)
			copy(frame, buf[:n])
			fn(port, frame, b.NowUs())
		}
	}
}

// linkMonitorLoop polls carrier state, since reacting to real netlink
// RTM_NEWLINK events would need an rtnetlink subscription beyond what
// this reference backend needs.
func (b *Backend) linkMonitorLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			b.pollLinks()
		}
	}
}

func (b *Backend) pollLinks() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for port, bp := range b.ports {
		link, err := netlink.LinkByName(bp.ifname)
		if err != nil {
			continue
		}
		up := link.Attrs().OperState == netlink.OperUp
		if up != bp.linkUp {
			bp.linkUp = up
			state := backend.LinkDown
			if up {
				state = backend.LinkUp
			}
			select {
			case b.linkCh <- backend.LinkEvent{Port: port, State: state, At: time.Now()}:
			default:
			}
		}
	}
}

// Transmit implements backend.Backend via a raw AF_PACKET send.
func (b *Backend) Transmit(port packetbuf.PortID, frame []byte) error {
	b.mu.Lock()
	bp, ok := b.ports[port]
	b.mu.Unlock()
	if !ok {
		return backend.ErrUnknownPort("Transmit")
	}
	if !bp.linkUp {
		return backend.ErrPortDown("Transmit")
	}

	addr := &unix.SockaddrLinklayer{Ifindex: bp.index}
	if err := unix.Sendto(bp.fd, frame, 0, addr); err != nil {
		return backend.ErrIO("Transmit", err)
	}
	return nil
}

func (b *Backend) SetReceiveFunc(fn backend.ReceiveFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recvFn = fn
}

func (b *Backend) LinkEvents() <-chan backend.LinkEvent { return b.linkCh }

func (b *Backend) NowUs() uint64 { return uint64(time.Now().UnixMicro()) }

func (b *Backend) NowSeconds() float64 { return float64(time.Now().UnixNano()) / 1e9 }
