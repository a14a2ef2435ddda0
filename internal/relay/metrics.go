package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var pseudonymized = promauto.NewCounter(prometheus.CounterOpts{
	Name: "eddn_relay_pseudonymized_total",
	Help: "Uploader IDs rewritten to their per-window pseudonym before republishing.",
})
