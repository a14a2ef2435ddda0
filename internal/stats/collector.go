// Package stats implements the counter bag of spec.md §4.C: named,
// monotonically increasing counters, summarized on demand with a rate
// derived from the previous periodic snapshot.
package stats

import (
	"sync"
	"time"
)

// Snapshot is one named counter's reported state.
type Snapshot struct {
	Count int64   `json:"count"`
	Rate  float64 `json:"rate"`
}

type counter struct {
	value    int64
	snapshot int64
	snapAt   time.Time
	rate     float64
}

// Collector is a process-wide counter bag. The zero value is not usable;
// construct with New.
type Collector struct {
	mu       sync.Mutex
	counters map[string]*counter
	interval time.Duration
	stop     chan struct{}
	stopped  chan struct{}
	onTally  func(name string)
}

// New returns a Collector that re-snapshots its counters (to compute
// rates) every interval. onTally, if non-nil, is invoked synchronously on
// every Tally call — used to mirror counts into Prometheus without this
// package importing the metrics registry directly.
func New(interval time.Duration, onTally func(name string)) *Collector {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	c := &Collector{
		counters: make(map[string]*counter),
		interval: interval,
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
		onTally:  onTally,
	}
	go c.run()
	return c
}

// Tally increments the named counter by one, creating it at zero first if
// unseen.
func (c *Collector) Tally(name string) {
	c.mu.Lock()
	ctr := c.counters[name]
	if ctr == nil {
		ctr = &counter{snapAt: time.Now()}
		c.counters[name] = ctr
	}
	ctr.value++
	c.mu.Unlock()

	if c.onTally != nil {
		c.onTally(name)
	}
}

// Get returns the current raw value of name (0 if never tallied), useful
// for invariant checks (e.g. inbound >= outbound + duplicate).
func (c *Collector) Get(name string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctr := c.counters[name]; ctr != nil {
		return ctr.value
	}
	return 0
}

// Summary returns the current count and the rate-per-second computed at
// the most recent periodic snapshot, for every counter ever tallied.
func (c *Collector) Summary() map[string]Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]Snapshot, len(c.counters))
	for name, ctr := range c.counters {
		out[name] = Snapshot{Count: ctr.value, Rate: ctr.rate}
	}
	return out
}

// Stop halts the background snapshot loop. Safe to call once.
func (c *Collector) Stop() {
	close(c.stop)
	<-c.stopped
}

func (c *Collector) run() {
	defer close(c.stopped)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case now := <-ticker.C:
			c.snapshotAt(now)
		}
	}
}

func (c *Collector) snapshotAt(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ctr := range c.counters {
		elapsed := now.Sub(ctr.snapAt).Seconds()
		if elapsed > 0 {
			ctr.rate = float64(ctr.value-ctr.snapshot) / elapsed
		}
		ctr.snapshot = ctr.value
		ctr.snapAt = now
	}
}
