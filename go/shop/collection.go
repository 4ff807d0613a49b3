package shop

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// The collection point complements the multicast fabric: multicast is fast
// but lossy, so a periodic table sweep guarantees every local order is
// eventually fulfilled, and a purge sweep bounds the orders map — async
// clients that never retrieve would otherwise grow it without limit.

// serveCollectionPoint periodically reconciles unfulfilled local orders
// against the result table.
func (s *Shop[Q, I, O]) serveCollectionPoint(ctx context.Context) error {
	var ticker = time.NewTicker(s.Config.CollectionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.checkForFulfilledOrders(ctx); err != nil && ctx.Err() == nil {
				log.WithField("err", err).Error("failed to check for fulfilled orders")
			}
		}
	}
}

// checkForFulfilledOrders snapshots the unfulfilled tickets, batch-reads
// their success flags and fulfills what the table already knows about. The
// orders lock is held only for the snapshot and per-ticket lookups; the
// table I/O happens outside it.
func (s *Shop[Q, I, O]) checkForFulfilledOrders(ctx context.Context) error {
	var tickets = s.Orders.Unfulfilled()
	if len(tickets) == 0 {
		return nil
	}

	statuses, err := s.Table.BatchStatuses(ctx, tickets)
	if err != nil {
		return fmt.Errorf("sweeping the result table: %w", err)
	}

	var fulfilled int
	for ticket, success := range statuses {
		if s.Orders.Fulfill(ticket, success) {
			fulfilled++
		}
	}
	if fulfilled > 0 {
		log.WithFields(log.Fields{
			"fulfilled": fulfilled,
			"pending":   len(tickets) - fulfilled,
		}).Info("collection point fulfilled orders from the table")
	}
	ordersGauge.Set(float64(s.Orders.Len()))
	return nil
}

// servePurge periodically removes stale orders.
func (s *Shop[Q, I, O]) servePurge(ctx context.Context) error {
	var ticker = time.NewTicker(s.Config.PurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if removed := s.Orders.PurgeStale(s.Config.MaxOrderAge); removed > 0 {
				log.WithField("removed", removed).Info("purged stale orders from the collection point")
			}
			ordersGauge.Set(float64(s.Orders.Len()))
		}
	}
}
