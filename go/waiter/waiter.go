// Package waiter implements the HTTP façade of a shop: /status, /request
// and /retrieve, plus whatever application routes the embedding binary
// mounts alongside them.
package waiter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/schema"
	log "github.com/sirupsen/logrus"

	"github.com/denwong47/coffeeshop/go/machine"
	"github.com/denwong47/coffeeshop/go/order"
	"github.com/denwong47/coffeeshop/go/queue"
	"github.com/denwong47/coffeeshop/go/table"
)

// defaultDrainTimeout bounds the graceful shutdown drain when no
// max-execution-time is configured.
const defaultDrainTimeout = 30 * time.Second

// Waiter accepts requests, enqueues them as tickets and waits on the
// resulting orders. It holds only the narrow handles it needs; there is no
// back-pointer to the composite shop.
type Waiter[Q machine.Query, I, O any] struct {
	task    string
	machine machine.Machine[Q, I, O]
	orders  *order.Map
	queue   *queue.Client
	table   *table.Client

	addr string
	// maxTickets caps the outstanding-order count; zero disables the cap.
	maxTickets int
	// drainTimeout bounds how long in-flight handlers get on shutdown.
	drainTimeout time.Duration

	requestCount atomic.Uint64
	startTime    time.Time
	decoder      *schema.Decoder
}

// New builds a waiter listening on addr.
func New[Q machine.Query, I, O any](
	task string,
	m machine.Machine[Q, I, O],
	orders *order.Map,
	q *queue.Client,
	t *table.Client,
	addr string,
	maxTickets int,
	drainTimeout time.Duration,
) *Waiter[Q, I, O] {
	if drainTimeout <= 0 {
		drainTimeout = defaultDrainTimeout
	}
	var decoder = schema.NewDecoder()
	decoder.IgnoreUnknownKeys(true)

	return &Waiter[Q, I, O]{
		task:         task,
		machine:      m,
		orders:       orders,
		queue:        q,
		table:        t,
		addr:         addr,
		maxTickets:   maxTickets,
		drainTimeout: drainTimeout,
		startTime:    time.Now(),
		decoder:      decoder,
	}
}

// RequestCount returns the cumulative number of requests that passed
// validation, including those later refused by the ticket cap, the size
// limit or the queue.
func (wt *Waiter[Q, I, O]) RequestCount() uint64 {
	return wt.requestCount.Load()
}

// Handler builds the waiter's route table. Additional application routes may
// be mounted as long as they do not collide with the three built-ins;
// anything else is a JSON 404.
func (wt *Waiter[Q, I, O]) Handler(additional map[string]http.Handler) http.Handler {
	var mux = http.NewServeMux()
	mux.HandleFunc("/status", wt.handleStatus)
	mux.HandleFunc("/request", wt.handleRequest)
	mux.HandleFunc("/retrieve", wt.handleRetrieve)
	for path, handler := range additional {
		mux.Handle(path, handler)
	}
	mux.HandleFunc("/", wt.handleFallback)
	return mux
}

// Serve runs the HTTP server until the context is cancelled, then stops
// accepting connections and drains in-flight handlers up to the drain
// timeout.
func (wt *Waiter[Q, I, O]) Serve(ctx context.Context, additional map[string]http.Handler) error {
	var server = &http.Server{
		Addr:    wt.addr,
		Handler: wt.Handler(additional),
	}

	var drained = make(chan struct{})
	go func() {
		defer close(drained)
		<-ctx.Done()

		var shutdownCtx, cancel = context.WithTimeout(context.Background(), wt.drainTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.WithField("err", err).Warn("waiter shutdown did not drain cleanly")
		}
	}()

	log.WithFields(log.Fields{
		"task": wt.task,
		"addr": wt.addr,
	}).Info("waiter is listening")

	var err = server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		<-drained
		log.Info("the waiter has stopped serving requests")
		return nil
	}
	return fmt.Errorf("waiter server failed: %w", err)
}
