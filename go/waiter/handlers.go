package waiter

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/denwong47/coffeeshop/go/codec"
	"github.com/denwong47/coffeeshop/go/message"
	"github.com/denwong47/coffeeshop/go/order"
	"github.com/denwong47/coffeeshop/go/shoperr"
)

// handleStatus reports the shop's identity and counters.
func (wt *Waiter[Q, I, O]) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		shoperr.Write(w, shoperr.InvalidMethod(r.Method))
		return
	}
	requestsCounter.WithLabelValues("status").Inc()

	shoperr.WriteJSON(w, http.StatusOK, message.StatusResponse{
		Metadata:     message.NewResponseMetadata(wt.startTime),
		RequestCount: wt.requestCount.Load(),
		TicketCount:  wt.orders.Len(),
	})
}

// handleRequest validates, enqueues and — unless async — waits.
func (wt *Waiter[Q, I, O]) handleRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		shoperr.Write(w, shoperr.InvalidMethod(r.Method))
		return
	}
	requestsCounter.WithLabelValues("request").Inc()

	var query Q
	if err := wt.decoder.Decode(&query, r.URL.Query()); err != nil {
		log.WithFields(log.Fields{"err": err, "query": r.URL.RawQuery}).Warn("query rejection for /request")
		shoperr.Write(w, shoperr.InvalidQueryOptions(err))
		return
	}

	var input, err = wt.readInput(r)
	if err != nil {
		log.WithField("err", err).Warn("json rejection for /request")
		shoperr.Write(w, err)
		return
	}

	// Validate before creating the ticket, so invalid requests never reach
	// the queue.
	if fields := wt.machine.Validate(query, input); len(fields) > 0 {
		log.WithField("fields", fields).Warn("validation failed; not pushing to the queue")
		shoperr.Write(w, shoperr.Validation(fields))
		return
	}

	wt.requestCount.Add(1)

	if wt.maxTickets > 0 && wt.orders.Len() >= wt.maxTickets {
		shoperr.Write(w, shoperr.TooManyTickets(wt.maxTickets))
		return
	}

	body, err := codec.EncodeQueueBody(message.CombinedInput[Q, I]{Query: query, Input: input})
	if err != nil {
		shoperr.Write(w, err)
		return
	}

	ticket, err := wt.queue.Put(r.Context(), body)
	if err != nil {
		log.WithField("err", err).Error("failed to put ticket on the queue")
		shoperr.Write(w, shoperr.QueueFailure(err))
		return
	}
	ticketsCounter.Inc()

	var o, release = wt.orders.Acquire(ticket)
	defer release()

	if query.IsAsync() {
		log.WithField("ticket", ticket).Info("accepted asynchronous request")
		shoperr.WriteJSON(w, http.StatusAccepted, message.TicketResponse{
			Ticket:   ticket,
			Metadata: message.NewResponseMetadata(wt.startTime),
		})
		return
	}

	wt.awaitAndRespond(w, r, o, query.Timeout())
}

// handleRetrieve resolves a previously issued ticket. Unknown tickets get a
// fresh order; the collection point populates it from the table if any shop
// has finished the work.
func (wt *Waiter[Q, I, O]) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		shoperr.Write(w, shoperr.InvalidMethod(r.Method))
		return
	}
	requestsCounter.WithLabelValues("retrieve").Inc()

	var query message.TicketQuery
	if err := wt.decoder.Decode(&query, r.URL.Query()); err != nil {
		log.WithFields(log.Fields{"err": err, "query": r.URL.RawQuery}).Warn("query rejection for /retrieve")
		shoperr.Write(w, shoperr.InvalidQueryOptions(err))
		return
	}
	if query.Ticket == "" {
		shoperr.Write(w, shoperr.InvalidQueryOptions(errors.New("the ticket parameter is required")))
		return
	}

	var o, release = wt.orders.Acquire(query.Ticket)
	defer release()

	wt.awaitAndRespond(w, r, o, query.Timeout())
}

// handleFallback is the JSON 404 for unknown paths.
func (wt *Waiter[Q, I, O]) handleFallback(w http.ResponseWriter, r *http.Request) {
	log.WithFields(log.Fields{"path": r.URL.Path, "method": r.Method}).Warn("received a request for an invalid route")
	shoperr.Write(w, shoperr.InvalidRoute(r.URL.Path))
}

// readInput decodes the optional JSON body into the input shape. An absent
// or empty body yields nil; the validator decides whether that is allowed.
func (wt *Waiter[Q, I, O]) readInput(r *http.Request) (*I, error) {
	var raw, err = io.ReadAll(r.Body)
	if err != nil {
		return nil, shoperr.MalformedJSONPayload(err)
	}
	if len(raw) == 0 {
		return nil, nil
	}

	var input I
	if err = json.Unmarshal(raw, &input); err != nil {
		return nil, shoperr.MalformedJSONPayload(err)
	}
	return &input, nil
}

// awaitAndRespond blocks on the order's rendezvous up to |timeout|, then
// materializes the response from the table. A timeout does not cancel the
// order: processing continues and the result stays retrievable until TTL.
func (wt *Waiter[Q, I, O]) awaitAndRespond(w http.ResponseWriter, r *http.Request, o *order.Order, timeout time.Duration) {
	if !o.Fulfilled() {
		if timeout <= 0 {
			// "No wait": report the timeout immediately.
			shoperr.Write(w, shoperr.RetrieveTimeout(timeout))
			return
		}

		var timer = time.NewTimer(timeout)
		defer timer.Stop()

		log.WithField("ticket", o.Ticket()).Info("waiting for order to complete")
		select {
		case <-o.Ready():
		case <-timer.C:
			log.WithFields(log.Fields{"ticket": o.Ticket(), "timeout": timeout}).Warn("timed out waiting for order to complete")
			shoperr.Write(w, shoperr.RetrieveTimeout(timeout))
			return
		case <-r.Context().Done():
			// The client went away; nothing left to respond to.
			return
		}
	}

	var result, err = wt.table.GetResult(r.Context(), o.Ticket())
	if err != nil {
		var s *shoperr.Schema
		if errors.As(err, &s) {
			shoperr.Write(w, s)
			return
		}
		log.WithFields(log.Fields{"ticket": o.Ticket(), "err": err}).Error("failed to fetch result from the table")
		shoperr.Write(w, shoperr.TableFailure(err))
		return
	}

	if !result.Success {
		// Surface the stored envelope exactly as the processing shop wrote
		// it, status code included.
		shoperr.WriteJSON(w, result.StatusCode, result.Err)
		return
	}

	var output O
	if err = codec.Unmarshal(result.Output, &output); err != nil {
		log.WithFields(log.Fields{"ticket": o.Ticket(), "err": err}).Error("stored output could not be decoded")
		shoperr.Write(w, err)
		return
	}

	shoperr.WriteJSON(w, result.StatusCode, message.OutputResponse[O]{
		Ticket:   o.Ticket(),
		Metadata: message.NewResponseMetadata(wt.startTime),
		Output:   output,
	})
}
