package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vishvananda/netlink"

	"grimm.is/brcompat/internal/clock"
	"grimm.is/brcompat/internal/events"
)

// DefaultTimeoutThreshold is how many consecutive timeouts make the daemon
// check unhealthy.
const DefaultTimeoutThreshold = 3

// CallTracker follows correlator outcomes on the event hub.
type CallTracker struct {
	clock     clock.Clock
	threshold int

	mu          sync.Mutex
	timeouts    int
	lastReply   time.Time
	lastTimeout time.Time
}

// NewCallTracker creates a tracker. threshold <= 0 uses the default.
func NewCallTracker(clk clock.Clock, threshold int) *CallTracker {
	if clk == nil {
		clk = clock.Default()
	}
	if threshold <= 0 {
		threshold = DefaultTimeoutThreshold
	}
	return &CallTracker{clock: clk, threshold: threshold}
}

// Watch consumes call events from hub until ctx is done.
func (t *CallTracker) Watch(ctx context.Context, hub *events.Hub) {
	ch := hub.Subscribe(16, events.EventCallDone, events.EventCallTimeout)
	defer hub.Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			t.Observe(e.Type)
		}
	}
}

// Observe records one call outcome.
func (t *CallTracker) Observe(typ events.EventType) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch typ {
	case events.EventCallDone:
		t.timeouts = 0
		t.lastReply = t.clock.Now()
	case events.EventCallTimeout:
		t.timeouts++
		t.lastTimeout = t.clock.Now()
	}
}

// Check reports the daemon as degraded after a timeout and unhealthy once
// the timeouts reach the threshold without a reply in between.
func (t *CallTracker) Check(ctx context.Context) Check {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch {
	case t.timeouts >= t.threshold:
		return Check{Status: StatusUnhealthy, Message: fmt.Sprintf("%d consecutive timeouts", t.timeouts)}
	case t.timeouts > 0:
		return Check{Status: StatusDegraded, Message: fmt.Sprintf("%d consecutive timeouts", t.timeouts)}
	case t.lastReply.IsZero():
		return Check{Status: StatusHealthy, Message: "no calls yet"}
	}
	return Check{Status: StatusHealthy, Message: fmt.Sprintf("last reply %s ago", t.clock.Since(t.lastReply).Round(time.Second))}
}

// QueueCheck reports degraded when the event hub dropped events since the
// previous check.
func QueueCheck(hub *events.Hub) CheckFunc {
	var mu sync.Mutex
	var last uint64
	return func(ctx context.Context) Check {
		mu.Lock()
		defer mu.Unlock()
		_, dropped := hub.Stats()
		delta := dropped - last
		last = dropped
		if delta > 0 {
			return Check{Status: StatusDegraded, Message: fmt.Sprintf("%d events dropped", delta)}
		}
		return Check{Status: StatusHealthy, Message: "no drops"}
	}
}

// LinkLister lists network links.
type LinkLister interface {
	LinkList() ([]netlink.Link, error)
}

// LinksCheck verifies device lookups still work.
func LinksCheck(nl LinkLister) CheckFunc {
	return func(ctx context.Context) Check {
		links, err := nl.LinkList()
		if err != nil {
			return Check{Status: StatusUnhealthy, Message: fmt.Sprintf("netlink failed: %v", err)}
		}
		return Check{Status: StatusHealthy, Message: fmt.Sprintf("%d links", len(links))}
	}
}
