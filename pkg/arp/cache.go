package arp

import (
	"sync"
	"time"

	"github.com/nexswitch/vswitch/pkg/corelog"
	"github.com/nexswitch/vswitch/pkg/packetbuf"
)

type node struct {
	e    Entry
	next *node
}

// Cache is the C9 engine: a hash-chained ipv4->Entry table with the
// request/retry/aging lifecycle from spec.md §4.9.
type Cache struct {
	mu sync.Mutex

	buckets []*node
	mask    uint32
	count   int
	maxSize int

	vlan        packetbuf.VlanID
	addrs       PortAddressSource
	macLearner  MacLearner
	sender      FrameSender
	requestsSent uint64
}

func New(maxSize int) *Cache {
	size := nextPow2(maxSize)
	if size < 16 {
		size = 16
	}
	return &Cache{
		buckets: make([]*node, size),
		mask:    uint32(size - 1),
		maxSize: maxSize,
	}
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func hashIP(ip [4]byte) uint32 {
	h := uint32(2166136261)
	for _, b := range ip {
		h ^= uint32(b)
		h *= 16777619
	}
	return h
}

// Wire dependencies used by lookup() (ARP request broadcast) and
// add_or_update() (MAC table insertion).
func (c *Cache) SetVlan(v packetbuf.VlanID)            { c.vlan = v }
func (c *Cache) SetPortAddressSource(s PortAddressSource) { c.addrs = s }
func (c *Cache) SetMacLearner(l MacLearner)            { c.macLearner = l }
func (c *Cache) SetFrameSender(s FrameSender)          { c.sender = s }

func (c *Cache) find(ip [4]byte) *node {
	idx := hashIP(ip) & c.mask
	for n := c.buckets[idx]; n != nil; n = n.next {
		if n.e.IP == ip {
			return n
		}
	}
	return nil
}

func (c *Cache) insert(e Entry) {
	idx := hashIP(e.IP) & c.mask
	c.buckets[idx] = &node{e: e, next: c.buckets[idx]}
	c.count++
}

func (c *Cache) removeLocked(ip [4]byte) bool {
	idx := hashIP(ip) & c.mask
	var prev *node
	for n := c.buckets[idx]; n != nil; n = n.next {
		if n.e.IP == ip {
			if prev == nil {
				c.buckets[idx] = n.next
			} else {
				prev.next = n.next
			}
			c.count--
			return true
		}
		prev = n
	}
	return false
}

// Lookup implements spec.md §4.9's lookup(ip) -> (mac, port). On an
// absent entry it inserts an Incomplete entry and emits one ARP request
// broadcast via the wired FrameSender, on the requesting port.
func (c *Cache) Lookup(ip [4]byte, requestingPort packetbuf.PortID, now time.Time) (LookupResult, packetbuf.MacAddr, packetbuf.PortID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.find(ip)
	if n == nil {
		if c.count >= c.maxSize {
			c.evictLRULocked()
		}
		e := Entry{IP: ip, State: Incomplete, PortIndex: requestingPort, CreatedTs: now, UpdatedTs: now}
		c.insert(e)
		c.sendRequestLocked(ip, requestingPort)
		return LookupPending, packetbuf.MacAddr{}, 0
	}

	switch n.e.State {
	case Reachable:
		return LookupOk, n.e.Mac, n.e.PortIndex
	case Incomplete:
		return LookupPending, packetbuf.MacAddr{}, 0
	case Failed:
		return LookupNotFound, packetbuf.MacAddr{}, 0
	default:
		return LookupOk, n.e.Mac, n.e.PortIndex
	}
}

func (c *Cache) sendRequestLocked(ip [4]byte, port packetbuf.PortID) {
	c.requestsSent++
	if c.sender == nil || c.addrs == nil {
		return
	}
	senderIP, senderMac, ok := c.addrs.AddressFor(port)
	if !ok {
		return
	}
	pkt := Packet{
		HardwareType: HardwareTypeEthernet,
		ProtoType:    ProtoTypeIPv4,
		HwAddrLen:    HwAddrLen,
		ProtoAddrLen: ProtoAddrLen,
		Opcode:       OpRequest,
		SenderMac:    senderMac,
		SenderIP:     senderIP,
		TargetMac:    packetbuf.MacAddr{},
		TargetIP:     ip,
	}
	frame := EncodeEthernetFrame(senderMac, Broadcast, pkt)
	if err := c.sender.Send(port, frame); err != nil {
		corelog.For("arp").WithError(err).Warn("failed to send arp request")
	}
}

// AddOrUpdate implements spec.md §4.9's add_or_update(ip, mac, port): the
// entry moves to Reachable, updated_ts refreshes, and the MAC table
// learns the sender as a Dynamic entry for L2 forwarding.
func (c *Cache) AddOrUpdate(ip [4]byte, mac packetbuf.MacAddr, port packetbuf.PortID, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.find(ip)
	if n == nil {
		if c.count >= c.maxSize {
			c.evictLRULocked()
		}
		c.insert(Entry{IP: ip, Mac: mac, State: Reachable, PortIndex: port, CreatedTs: now, UpdatedTs: now})
	} else {
		n.e.Mac = mac
		n.e.State = Reachable
		n.e.PortIndex = port
		n.e.UpdatedTs = now
		n.e.RetryCount = 0
	}

	if c.macLearner != nil {
		c.macLearner.Learn(mac, c.vlan, port)
	}
}

// HandleFrame implements spec.md §4.9's handle_frame(pkt): validates the
// wire format, learns the sender, and replies with our own MAC if a
// request targets a local IP we recognize via PortAddressSource.
func (c *Cache) HandleFrame(raw []byte, inPort packetbuf.PortID, now time.Time) error {
	p, err := Decode(raw)
	if err != nil {
		return &CacheError{Op: "HandleFrame", Err: err}
	}

	c.AddOrUpdate(p.SenderIP, p.SenderMac, inPort, now)

	if p.Opcode != OpRequest {
		return nil
	}
	if c.addrs == nil || c.sender == nil {
		return nil
	}
	localIP, localMac, ok := c.addrs.AddressFor(inPort)
	if !ok || localIP != p.TargetIP {
		return nil
	}
	reply := Packet{
		HardwareType: HardwareTypeEthernet,
		ProtoType:    ProtoTypeIPv4,
		HwAddrLen:    HwAddrLen,
		ProtoAddrLen: ProtoAddrLen,
		Opcode:       OpReply,
		SenderMac:    localMac,
		SenderIP:     localIP,
		TargetMac:    p.SenderMac,
		TargetIP:     p.SenderIP,
	}
	frame := EncodeEthernetFrame(localMac, p.SenderMac, reply)
	return c.sender.Send(inPort, frame)
}

// ProcessRetries implements spec.md §4.9's Incomplete retry lifecycle:
// every RequestRetryInterval, resend up to RequestRetryCount times, then
// transition to Failed.
func (c *Cache) ProcessRetries(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, head := range c.buckets {
		for n := head; n != nil; n = n.next {
			if n.e.State != Incomplete {
				continue
			}
			if now.Sub(n.e.UpdatedTs) < RequestRetryInterval {
				continue
			}
			if n.e.RetryCount >= RequestRetryCount {
				n.e.State = Failed
				n.e.UpdatedTs = now
				continue
			}
			n.e.RetryCount++
			n.e.UpdatedTs = now
			c.sendRequestLocked(n.e.IP, n.e.PortIndex)
		}
	}
}

// AgeEntries implements spec.md §4.9's aging: Reachable entries older
// than CacheTimeout are evicted.
func (c *Cache) AgeEntries(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var toRemove [][4]byte
	for _, head := range c.buckets {
		for n := head; n != nil; n = n.next {
			if n.e.State == Reachable && now.Sub(n.e.UpdatedTs) > CacheTimeout {
				toRemove = append(toRemove, n.e.IP)
			}
		}
	}
	for _, ip := range toRemove {
		c.removeLocked(ip)
	}
}

// evictLRULocked recycles the least-recently-updated entry when the
// cache is at capacity, per spec.md §4.9.
func (c *Cache) evictLRULocked() {
	var oldestIP [4]byte
	var oldestTs time.Time
	first := true
	for _, head := range c.buckets {
		for n := head; n != nil; n = n.next {
			if first || n.e.UpdatedTs.Before(oldestTs) {
				oldestIP, oldestTs, first = n.e.IP, n.e.UpdatedTs, false
			}
		}
	}
	if !first {
		c.removeLocked(oldestIP)
	}
}

func (c *Cache) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

func (c *Cache) RequestsSent() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requestsSent
}

func (c *Cache) Get(ip [4]byte) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.find(ip)
	if n == nil {
		return Entry{}, false
	}
	return n.e, true
}

// ListEntries returns a copy of every cached entry, for the management
// surface's read-only listing endpoint.
func (c *Cache) ListEntries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Entry, 0, c.count)
	for _, head := range c.buckets {
		for n := head; n != nil; n = n.next {
			out = append(out, n.e)
		}
	}
	return out
}
