package shoperr

import (
	"fmt"
	"net/http"
	"time"
)

// Constructors for the client-visible error kinds. The error codes mirror
// the variant names surfaced in response bodies, e.g.
// {"status_code": 422, "error": "ValidationError", "details": {...}}.

// Validation reports inputs that failed the machine's validator. The
// offending fields and their messages are embedded in the details.
func Validation(fields map[string]string) *Schema {
	return New(http.StatusUnprocessableEntity, "ValidationError", Details{
		"message": "The request could not be processed due to validation errors.",
		"fields":  fields,
	})
}

// MalformedJSONPayload reports a request body that could not be parsed.
func MalformedJSONPayload(err error) *Schema {
	return New(http.StatusBadRequest, "MalformedJsonPayload", Details{
		"message": fmt.Sprintf("Malformed JSON payload; could not be parsed: %v.", err),
	})
}

// InvalidQueryOptions reports an unparseable query string.
func InvalidQueryOptions(err error) *Schema {
	return New(http.StatusBadRequest, "InvalidQueryOptions", Details{
		"message": fmt.Sprintf("Invalid URL query options: %v.", err),
	})
}

// InvalidRoute reports a request for a path this server does not serve.
func InvalidRoute(path string) *Schema {
	return New(http.StatusNotFound, "InvalidRoute", Details{
		"message": fmt.Sprintf("Endpoint %s is not found on this server. Please consult the API documentation.", path),
	})
}

// InvalidMethod reports an unsupported HTTP method on a known path.
func InvalidMethod(method string) *Schema {
	return New(http.StatusMethodNotAllowed, "InvalidMethod", Details{
		"message": fmt.Sprintf("The %s method is not allowed for this endpoint.", method),
	})
}

// SizeLimitExceeded reports a queue payload whose encoded size exceeds the
// message limit. The request is rejected before the queue is called.
func SizeLimitExceeded(size, limit int) *Schema {
	return New(http.StatusRequestEntityTooLarge, "SizeLimitExceeded", Details{
		"message": fmt.Sprintf("The encoded payload is %d bytes, exceeding the limit of %d bytes; try chunking the payload and retry the request.", size, limit),
		"size":    size,
		"limit":   limit,
	})
}

// RetrieveTimeout reports that no result arrived within the client's wait.
// The order itself is not cancelled; a later retrieve may still succeed.
func RetrieveTimeout(timeout time.Duration) *Schema {
	return New(http.StatusRequestTimeout, "RetrieveTimeout", Details{
		"message": fmt.Sprintf("Timed out awaiting results after %s.", timeout),
	})
}

// TicketNotFound reports a retrieve for a ticket unknown to the cluster.
func TicketNotFound(ticket string) *Schema {
	return New(http.StatusNotFound, "TicketNotFound", Details{
		"message": fmt.Sprintf("The ticket %s was not found.", ticket),
		"ticket":  ticket,
	})
}

// ResultNotFound reports a fulfilled order whose table row has since been
// evicted, or a ticket that never produced a row.
func ResultNotFound(ticket string) *Schema {
	return New(http.StatusNotFound, "ResultNotFound", Details{
		"message": fmt.Sprintf("The ticket %s does not have a result. It could have been purged, or the ticket is invalid.", ticket),
		"ticket":  ticket,
	})
}

// TooManyTickets reports that the shop's outstanding-order cap is reached.
func TooManyTickets(max int) *Schema {
	return New(http.StatusTooManyRequests, "TooManyTickets", Details{
		"message": fmt.Sprintf("This shop is already waiting on %d tickets; please retry later.", max),
	})
}

// QueueFailure reports an I/O error while talking to the queue service.
func QueueFailure(err error) *Schema {
	return New(http.StatusServiceUnavailable, "QueueFailure", Details{
		"message": fmt.Sprintf("The ticket queue is unavailable: %v.", err),
	})
}

// TableFailure reports an I/O error while talking to the result table.
func TableFailure(err error) *Schema {
	return New(http.StatusBadGateway, "TableFailure", Details{
		"message": fmt.Sprintf("The result table is unavailable: %v.", err),
	})
}

// Processing wraps a machine error. A *Schema returned by the machine is the
// user-surfaced error and passes through with its own status code; any other
// error is opaque to the framework and maps to a 500.
func Processing(err error) *Schema {
	var s = Coerce(err)
	if s.Code == "InternalServerError" {
		s = New(http.StatusInternalServerError, "ProcessingError", Details{
			"message": fmt.Sprintf("Error during processing: %v.", err),
		})
	}
	return s
}
