// Package shop composes a complete coffeeshop process: one waiter, a pool
// of baristas, an announcer and the collection point, all sharing one queue,
// one result table and one orders map.
//
// Any number of identical shops may join the same queue, table and multicast
// group; a client can submit to one shop, have the work done by another, and
// collect the result from a third.
package shop

import (
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	log "github.com/sirupsen/logrus"
	"go.gazette.dev/core/task"

	"github.com/denwong47/coffeeshop/go/announcer"
	"github.com/denwong47/coffeeshop/go/barista"
	"github.com/denwong47/coffeeshop/go/machine"
	"github.com/denwong47/coffeeshop/go/order"
	"github.com/denwong47/coffeeshop/go/queue"
	"github.com/denwong47/coffeeshop/go/table"
	"github.com/denwong47/coffeeshop/go/waiter"
)

// Shop is one process instance of the framework.
type Shop[Q machine.Query, I, O any] struct {
	// Name scopes this shop's multicast traffic: announcers ignore frames
	// from other task names sharing the group.
	Name string
	// Config the shop was built with, after defaulting.
	Config Config

	Machine   machine.Machine[Q, I, O]
	Orders    *order.Map
	Queue     *queue.Client
	Table     *table.Client
	Announcer *announcer.Announcer
	Waiter    *waiter.Waiter[Q, I, O]
	Baristas  []*barista.Barista[Q, I, O]

	// AdditionalRoutes are mounted on the waiter alongside the built-in
	// endpoints. They must not collide with /status, /request or /retrieve.
	AdditionalRoutes map[string]http.Handler
}

// New builds a shop and its sub-components. Sub-components receive only the
// narrow handles they need — orders map, queue, table, config values — so
// the composition stays acyclic.
func New[Q machine.Query, I, O any](name string, m machine.Machine[Q, I, O], cfg Config) (*Shop[Q, I, O], error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shop configuration: %w", err)
	}
	cfg.DynamoDBTable = cfg.TableName(name)

	var awsConfig = aws.NewConfig()
	if cfg.AWSRegion != "" {
		awsConfig = awsConfig.WithRegion(cfg.AWSRegion)
	}
	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("creating aws session: %w", err)
	}

	var orders = order.NewMap()
	var q = queue.NewFromSession(sess, cfg.QueueURL)
	var t = table.NewFromSession(sess, cfg.DynamoDBTable, cfg.DynamoDBPartitionKey, cfg.ResultTTL)

	ann, err := announcer.New(name, orders, cfg.MulticastHost, cfg.MulticastPort)
	if err != nil {
		return nil, fmt.Errorf("building announcer: %w", err)
	}

	var s = &Shop[Q, I, O]{
		Name:      name,
		Config:    cfg,
		Machine:   m,
		Orders:    orders,
		Queue:     q,
		Table:     t,
		Announcer: ann,
		Waiter:    waiter.New(name, m, orders, q, t, cfg.HostAddr(), cfg.MaxTickets, cfg.MaxExecutionTime),
	}
	for i := 0; i < cfg.Baristas; i++ {
		s.Baristas = append(s.Baristas,
			barista.New(name, m, q, t, ann, cfg.IdleWait, cfg.MaxExecutionTime))
	}

	log.WithFields(log.Fields{
		"name":     name,
		"queue":    cfg.QueueURL,
		"table":    cfg.DynamoDBTable,
		"group":    fmt.Sprintf("%s:%d", cfg.MulticastHost, cfg.MulticastPort),
		"baristas": cfg.Baristas,
	}).Info("shop is ready to open")

	return s, nil
}

// QueueTasks queues every service loop of the shop onto the task group:
// the waiter, each barista, the announcer receive loop and the two
// collection-point sweeps. Cancelling the group stops them all; each loop
// returns nil on a clean shutdown.
func (s *Shop[Q, I, O]) QueueTasks(tasks *task.Group) {
	tasks.Queue("waiter", func() error {
		return s.Waiter.Serve(tasks.Context(), s.AdditionalRoutes)
	})

	for i, b := range s.Baristas {
		var b = b
		tasks.Queue(fmt.Sprintf("barista-%03d", i), func() error {
			return b.Serve(tasks.Context())
		})
	}

	tasks.Queue("announcer", func() error {
		defer s.Announcer.Close()
		return s.Announcer.Listen(tasks.Context())
	})

	tasks.Queue("collectionPoint", func() error {
		return s.serveCollectionPoint(tasks.Context())
	})
	tasks.Queue("purgeStaleOrders", func() error {
		return s.servePurge(tasks.Context())
	})
}
