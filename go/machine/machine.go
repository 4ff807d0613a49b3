// Package machine defines the contract between the coffeeshop framework and
// the user-supplied processing function.
package machine

import (
	"context"
	"time"
)

// Query is the shape decoded from a request's URL parameters. Beyond the two
// accessors below the framework never inspects it; the whole struct travels
// with the ticket so baristas on other shops see exactly what the waiter saw.
type Query interface {
	// Timeout bounds how long a blocking request or retrieve waits for the
	// result. Zero or negative means "no wait".
	Timeout() time.Duration

	// IsAsync selects the 202-with-ticket response over blocking.
	IsAsync() bool
}

// ValidationErrors maps offending field names to human-readable messages.
// A nil or empty map means the input passed validation.
type ValidationErrors map[string]string

// Machine processes tickets. One instance is shared by every barista in a
// shop; instances are ephemeral and not synchronized across the cluster, so
// internal mutable state is discouraged.
//
// Q is the query shape, I the request body shape, and O the output shape.
// All three must round-trip through the payload codec.
type Machine[Q Query, I, O any] interface {
	// Validate inspects the request before it is enqueued. Returning a
	// non-empty ValidationErrors rejects the request with a 422 and the
	// ticket is never created. The input is nil when the request carried no
	// body; the validator decides whether that is acceptable.
	Validate(query Q, input *I) ValidationErrors

	// Call processes one ticket. Returning a *shoperr.Schema surfaces that
	// error, with its own status code, to whichever client retrieves the
	// ticket; any other error is reported as an opaque 500. Call must be
	// effectively idempotent at the ticket granularity: an at-least-once
	// queue may deliver the same ticket to more than one barista.
	Call(ctx context.Context, query Q, input *I) (O, error)
}
