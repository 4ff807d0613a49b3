package message

import "time"

// Ticket is the queue-assigned unique id of a work item. The queue's message
// id is the source of truth: the framework never mints its own, which makes
// cluster-wide uniqueness free and leaves the ticket doubling as the
// partition key of the result table.
type Ticket = string

// TicketQuery is the query shape of GET /retrieve.
type TicketQuery struct {
	Ticket         Ticket  `schema:"ticket"`
	TimeoutSeconds float64 `schema:"timeout"`
}

// Timeout implements machine.Query.
func (q TicketQuery) Timeout() time.Duration {
	return time.Duration(q.TimeoutSeconds * float64(time.Second))
}

// IsAsync implements machine.Query. Retrievals always block.
func (q TicketQuery) IsAsync() bool { return false }
