package shop

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var ordersGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "coffeeshop_orders_resident",
	Help: "gauge of orders currently resident in this shop's orders map",
})
