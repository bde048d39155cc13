package core

import (
	"time"

	"github.com/nexswitch/vswitch/pkg/backend"
	"github.com/nexswitch/vswitch/pkg/port"
)

// tickInterval is how often the scheduler drives aging, retries, and STP
// timers. BPDU hello/timeout granularity only needs whole seconds, so a
// faster-than-a-second tick just keeps ARP retry/aging responsive.
const tickInterval = 200 * time.Millisecond

// runScheduler is the single background goroutine that advances every
// engine's time-driven state and drains backend link events. Backend
// receive callbacks and the management API's handlers reach the same
// engines concurrently; each engine guards its state with its own mutex.
func (c *Core) runScheduler() {
	defer c.wg.Done()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	linkEvents := c.be.LinkEvents()

	for {
		select {
		case <-c.stopCh:
			return
		case ev, ok := <-linkEvents:
			if !ok {
				linkEvents = nil
				continue
			}
			c.handleLinkEvent(ev)
		case now := <-ticker.C:
			c.tick(now)
		}
	}
}

func (c *Core) handleLinkEvent(ev backend.LinkEvent) {
	up := ev.State == backend.LinkUp
	state := port.StateDown
	if up {
		state = port.StateUp
	}
	if err := c.ports.SetOperState(ev.Port, state); err != nil {
		c.log.WithError(err).WithField("port", ev.Port).Debug("oper state update failed")
	}
	if err := c.stpB.SetPortLink(ev.Port, true, up); err != nil {
		c.log.WithError(err).WithField("port", ev.Port).Debug("stp link update failed")
	}
}

func (c *Core) tick(now time.Time) {
	c.stpB.Update(now)
	c.mac.ProcessAging(now)
	c.arpCache.ProcessRetries(now)
	c.arpCache.AgeEntries(now)
	c.ipPipe.Sweep(now)
}
