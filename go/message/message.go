// Package message holds the shapes that travel between shops: the combined
// input enqueued by waiters, the response bodies of the HTTP surface, and
// the multicast completion frame broadcast by baristas.
package message

import (
	"os"
	"time"
)

// CombinedInput pairs the query parameters with the optional request body.
// This is the logical value serialized into a queue message; baristas on any
// shop decode it back into the same pair.
type CombinedInput[Q, I any] struct {
	Query Q  `msgpack:"query"`
	Input *I `msgpack:"input"`
}

// ResponseMetadata is attached to every non-error response body.
type ResponseMetadata struct {
	Hostname      string    `json:"hostname"`
	Timestamp     time.Time `json:"timestamp"`
	UptimeSeconds float64   `json:"uptime_seconds"`
}

// NewResponseMetadata stamps the current host and uptime since |start|.
func NewResponseMetadata(start time.Time) ResponseMetadata {
	var hostname, _ = os.Hostname()
	return ResponseMetadata{
		Hostname:      hostname,
		Timestamp:     time.Now().UTC(),
		UptimeSeconds: time.Since(start).Seconds(),
	}
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Metadata     ResponseMetadata `json:"metadata"`
	RequestCount uint64           `json:"request_count"`
	TicketCount  int              `json:"ticket_count"`
}

// TicketResponse is the 202 body of an asynchronous POST /request.
type TicketResponse struct {
	Ticket   string           `json:"ticket"`
	Metadata ResponseMetadata `json:"metadata"`
}

// OutputResponse is the 200 body of a fulfilled request or retrieve.
type OutputResponse[O any] struct {
	Ticket   string           `json:"ticket"`
	Metadata ResponseMetadata `json:"metadata"`
	Output   O                `json:"output"`
}
