package announcer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	labelOK        = "ok"
	labelError     = "error"
	labelMalformed = "malformed"
	labelForeign   = "foreign_task"
	labelIgnored   = "ignored"
	labelFulfilled = "fulfilled"
	labelUnmatched = "unmatched"
)

var sentCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "coffeeshop_announcer_sent_total",
	Help: "counter of multicast completion messages sent by baristas of this shop",
}, []string{"status"})

var receivedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "coffeeshop_announcer_received_total",
	Help: "counter of multicast datagrams received, by how they were handled",
}, []string{"disposition"})
