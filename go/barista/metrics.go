package barista

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var processedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "coffeeshop_barista_processed_total",
	Help: "counter of tickets processed by this shop's baristas, by outcome status",
}, []string{"status"})
