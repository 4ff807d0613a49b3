// Package barista implements the worker loop that drains the ticket queue:
// long-poll, decode, process, persist, settle the receipt, announce.
package barista

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/denwong47/coffeeshop/go/codec"
	"github.com/denwong47/coffeeshop/go/machine"
	"github.com/denwong47/coffeeshop/go/message"
	"github.com/denwong47/coffeeshop/go/queue"
	"github.com/denwong47/coffeeshop/go/shoperr"
	"github.com/denwong47/coffeeshop/go/table"
)

// Sender abstracts the multicast fan-out. Send errors are logged and
// swallowed by the barista; the collection point is the safety net.
type Sender interface {
	Send(m message.MulticastMessage) error
}

// Barista is one worker. A shop runs a configurable number of them, all
// sharing the machine instance and the queue, table and announcer handles.
type Barista[Q machine.Query, I, O any] struct {
	task      string
	machine   machine.Machine[Q, I, O]
	queue     *queue.Client
	table     *table.Client
	announcer Sender

	// idleWait bounds each long poll; the queue clamps it to its own
	// ceiling. An empty poll logs and loops, it never busy-spins.
	idleWait time.Duration
	// deadline bounds each machine call when non-zero.
	deadline time.Duration

	processCount atomic.Uint64
}

// New builds a barista.
func New[Q machine.Query, I, O any](
	task string,
	m machine.Machine[Q, I, O],
	q *queue.Client,
	t *table.Client,
	announcer Sender,
	idleWait, deadline time.Duration,
) *Barista[Q, I, O] {
	return &Barista[Q, I, O]{
		task:      task,
		machine:   m,
		queue:     q,
		table:     t,
		announcer: announcer,
		idleWait:  idleWait,
		deadline:  deadline,
	}
}

// ProcessCount returns the cumulative number of tickets this barista has
// decoded and handed to the machine; undecodable messages are not counted.
func (b *Barista[Q, I, O]) ProcessCount() uint64 {
	return b.processCount.Load()
}

// Serve drains the queue until the context is cancelled.
func (b *Barista[Q, I, O]) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		var err = b.ProcessNextTicket(ctx)
		var empty queue.EmptyError
		switch {
		case err == nil:
		case errors.As(err, &empty):
			log.WithField("wait", empty.Wait).Debug("no tickets in the queue; polling again")
		case ctx.Err() != nil:
			return nil
		default:
			log.WithField("err", err).Error("error processing ticket")
		}
	}
}

// ProcessNextTicket runs one iteration of the barista loop.
func (b *Barista[Q, I, O]) ProcessNextTicket(ctx context.Context) error {
	var receipt, err = b.queue.Retrieve(ctx, b.idleWait)
	if err != nil {
		return err
	}

	defer func() {
		if receipt.Settled() {
			return
		}
		// Every received message must end Deleted or Returned. Reaching this
		// point is a bug; the visibility timeout would eventually re-surface
		// the message, but return it now rather than wait.
		log.WithField("ticket", receipt.Ticket).Error("staged receipt dropped without a terminal transition; returning it to the queue")

		var returnCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := receipt.Return(returnCtx); err != nil {
			log.WithFields(log.Fields{"ticket": receipt.Ticket, "err": err}).Error("failed to return dropped receipt")
		}
	}()

	var combined message.CombinedInput[Q, I]
	if err = codec.DecodeQueueBody(receipt.Body, &combined); err != nil {
		// The body never round-trips the codec, so no barista can do better;
		// still, return it and let the queue's own retry policy decide.
		if returnErr := receipt.Return(ctx); returnErr != nil {
			log.WithFields(log.Fields{"ticket": receipt.Ticket, "err": returnErr}).Error("failed to return undecodable message")
		}
		return fmt.Errorf("decoding ticket %s: %w", receipt.Ticket, err)
	}

	b.processCount.Add(1)

	var output, callErr = b.callMachine(ctx, combined.Query, combined.Input)
	if ctx.Err() != nil {
		// Shutdown interrupted the machine call. The outcome is not
		// trustworthy: hand the message to another shop instead of
		// committing it.
		if returnErr := receipt.Return(context.Background()); returnErr != nil {
			log.WithFields(log.Fields{"ticket": receipt.Ticket, "err": returnErr}).Error("failed to return message on shutdown")
		}
		return fmt.Errorf("interrupted while processing ticket %s: %w", receipt.Ticket, ctx.Err())
	}

	var status message.MulticastStatus
	var result *table.Result
	if callErr == nil {
		outputBytes, err := codec.Marshal(output)
		if err != nil {
			if returnErr := receipt.Return(ctx); returnErr != nil {
				log.WithFields(log.Fields{"ticket": receipt.Ticket, "err": returnErr}).Error("failed to return message")
			}
			return fmt.Errorf("encoding output for ticket %s: %w", receipt.Ticket, err)
		}
		status = message.StatusComplete
		result = &table.Result{
			Success:    true,
			StatusCode: http.StatusOK,
			Output:     outputBytes,
		}
	} else {
		var schema = shoperr.Processing(callErr)
		status = message.StatusRejected
		result = &table.Result{
			Success:    false,
			StatusCode: schema.StatusCode,
			Err:        schema,
		}
	}

	if err = b.table.PutResult(ctx, receipt.Ticket, result); err != nil {
		// Infrastructure failure: non-terminal, no row committed.
		if returnErr := receipt.Return(ctx); returnErr != nil {
			log.WithFields(log.Fields{"ticket": receipt.Ticket, "err": returnErr}).Error("failed to return message after table write failure")
		}
		processedCounter.WithLabelValues(message.StatusFailure.String()).Inc()
		return err
	}

	// The row is committed. A failed delete only means a redelivery, which
	// idempotent processing absorbs.
	if err = receipt.Delete(ctx); err != nil {
		log.WithFields(log.Fields{"ticket": receipt.Ticket, "err": err}).Warn("failed to delete processed message; it may be redelivered")
	}

	var announcement message.MulticastMessage
	if status == message.StatusComplete {
		announcement = message.NewTicketComplete(b.task, receipt.Ticket)
	} else {
		announcement = message.NewTicketRejected(b.task, receipt.Ticket)
	}
	if err = b.announcer.Send(announcement); err != nil {
		// Swallowed: collection points recover lost announcements.
		log.WithFields(log.Fields{"ticket": receipt.Ticket, "err": err}).Warn("failed to send completion multicast")
	}

	processedCounter.WithLabelValues(status.String()).Inc()
	log.WithFields(log.Fields{
		"ticket": receipt.Ticket,
		"status": status.String(),
	}).Info("processed ticket")
	return nil
}

func (b *Barista[Q, I, O]) callMachine(ctx context.Context, query Q, input *I) (O, error) {
	if b.deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.deadline)
		defer cancel()
	}
	return b.machine.Call(ctx, query, input)
}
