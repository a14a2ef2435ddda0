package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var rejections = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "eddn_gateway_rejections_total",
	Help: "Uploads rejected by the gateway, labeled by rejection reason.",
}, []string{"reason"})
