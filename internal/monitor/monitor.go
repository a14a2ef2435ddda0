package monitor

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/galnet-eddn/bus/internal/bus"
	"github.com/galnet-eddn/bus/internal/dedupe"
	"github.com/galnet-eddn/bus/internal/envelope"
	"github.com/galnet-eddn/bus/internal/stats"
	"github.com/galnet-eddn/bus/internal/wire"
)

// DuplicateSchemaKey is the schemas-table name a duplicate message is
// tallied against instead of its real schema ID. Softwares is left
// untouched for a duplicate, matching the asymmetric accounting of the
// traffic this component was modeled on: a repeat message still tells you
// something about schema-level load, but double-counting the uploading
// software would overstate its real traffic.
const DuplicateSchemaKey = "DUPLICATE MESSAGE"

// Stat names tallied by this component.
const (
	StatDuplicate = "duplicate"
	StatWritten   = "written"
)

// Monitor consumes the public bus and maintains per-schema/per-software
// daily hit counters, per spec.md §4.H.
type Monitor struct {
	in     *bus.Bus
	store  *Store
	dedupe *dedupe.Cache
	stats  *stats.Collector
}

// New wires a Monitor reading frames from in, persisting tallies to store,
// deduplicating within dedupeWindow, and reporting to st.
func New(in *bus.Bus, store *Store, st *stats.Collector, dedupeWindow time.Duration) *Monitor {
	return &Monitor{
		in:     in,
		store:  store,
		dedupe: dedupe.New(dedupeWindow, dedupe.DefaultMaxEntries),
		stats:  st,
	}
}

// Run consumes frames until ctx is canceled.
func (m *Monitor) Run(ctx context.Context) {
	sub := m.in.Subscribe("")
	defer m.in.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-sub.C():
			if !ok {
				return
			}
			m.process(frame)
		}
	}
}

func (m *Monitor) process(frame bus.Frame) {
	_, payload := wire.SplitTopic(frame)

	plain, err := wire.Inflate(payload)
	if err != nil {
		log.WithError(err).Debug("monitor: inflating frame")
		return
	}
	env, err := envelope.Parse(plain)
	if err != nil {
		log.WithError(err).Debug("monitor: parsing frame")
		return
	}

	fingerprint, err := env.Fingerprint()
	if err != nil {
		log.WithError(err).Debug("monitor: fingerprinting frame")
		return
	}

	date := time.Now().UTC().Truncate(24 * time.Hour)

	if !m.dedupe.Observe(fingerprint) {
		if err := m.store.UpsertSchemaHit(DuplicateSchemaKey, date); err != nil {
			log.WithError(err).Error("monitor: recording duplicate hit")
			return
		}
		m.stats.Tally(StatDuplicate)
		return
	}

	if err := m.store.UpsertSchemaHit(env.SchemaRef(), date); err != nil {
		log.WithError(err).Error("monitor: recording schema hit")
		return
	}
	if name := env.SoftwareName(); name != "" {
		key := name + " | " + env.SoftwareVersion()
		if err := m.store.UpsertSoftwareHit(key, date); err != nil {
			log.WithError(err).Error("monitor: recording software hit")
			return
		}
	}
	writes.Inc()
	m.stats.Tally(StatWritten)
}
