package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var writes = promauto.NewCounter(prometheus.CounterOpts{
	Name: "eddn_monitor_writes_total",
	Help: "Schema/software hit rows upserted by the monitor.",
})
