package waiter

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var requestsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "coffeeshop_waiter_requests_total",
	Help: "counter of HTTP requests received by the waiter, by endpoint",
}, []string{"endpoint"})

var ticketsCounter = promauto.NewCounter(prometheus.CounterOpts{
	Name: "coffeeshop_waiter_tickets_total",
	Help: "counter of tickets successfully placed on the queue by this waiter",
})
