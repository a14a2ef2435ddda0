package stats

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const labelStat = "stat"

var tallied = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "eddn_stat_total",
	Help: "Total count of each named traffic counter (inbound, outbound, duplicate, ...).",
}, []string{labelStat})

// PrometheusSink returns an onTally callback suitable for New that mirrors
// every tally into the eddn_stat_total Prometheus counter vector scraped
// off the admin server's /metrics endpoint.
func PrometheusSink() func(name string) {
	return func(name string) {
		tallied.WithLabelValues(name).Inc()
	}
}
