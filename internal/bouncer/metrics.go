package bouncer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "eddn_bouncer_queue_depth",
	Help: "Bytes currently sitting in closed (drainable) bouncer queue segments.",
})
