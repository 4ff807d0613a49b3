package message

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// MulticastSchemaVersion is bumped whenever the frame layout changes.
// Receivers reject frames from other versions rather than guess.
const MulticastSchemaVersion uint8 = 1

// MaxDatagramSize bounds a multicast frame. Frames are far smaller in
// practice; a single datagram is never fragmented.
const MaxDatagramSize = 1024

// MulticastKind discriminates what a frame announces.
type MulticastKind uint8

const (
	KindUnspecified MulticastKind = iota
	// KindTicket announces the outcome of a ticket.
	KindTicket
)

func (k MulticastKind) String() string {
	switch k {
	case KindTicket:
		return "Ticket"
	default:
		return fmt.Sprintf("Unspecified(%d)", uint8(k))
	}
}

// MulticastStatus is the announced outcome of a ticket.
type MulticastStatus uint8

const (
	StatusUnspecified MulticastStatus = iota
	// StatusComplete: the machine succeeded and the row is in the table.
	StatusComplete
	// StatusRejected: the machine returned a user-surfaced error; the row is
	// in the table. Still terminal.
	StatusRejected
	// StatusFailure: an infrastructure fault; the message went back to the
	// queue and no row was written. Not terminal.
	StatusFailure
)

func (s MulticastStatus) String() string {
	switch s {
	case StatusComplete:
		return "Complete"
	case StatusRejected:
		return "Rejected"
	case StatusFailure:
		return "Failure"
	default:
		return fmt.Sprintf("Unspecified(%d)", uint8(s))
	}
}

// Finished reports whether the status is terminal: a table row exists and
// local orders may be fulfilled on its strength.
func (s MulticastStatus) Finished() bool {
	return s == StatusComplete || s == StatusRejected
}

// MulticastMessage is the completion frame broadcast by baristas after a
// table write, and received by every announcer in the group — including the
// sender's own.
type MulticastMessage struct {
	Version   uint8           `msgpack:"version"`
	Task      string          `msgpack:"task"`
	Ticket    Ticket          `msgpack:"ticket"`
	Kind      MulticastKind   `msgpack:"kind"`
	Status    MulticastStatus `msgpack:"status"`
	Timestamp time.Time       `msgpack:"timestamp"`
}

// NewTicketComplete builds a frame announcing a successfully processed
// ticket.
func NewTicketComplete(task string, ticket Ticket) MulticastMessage {
	return newTicketMessage(task, ticket, StatusComplete)
}

// NewTicketRejected builds a frame announcing a ticket whose machine call
// returned a user-surfaced error.
func NewTicketRejected(task string, ticket Ticket) MulticastMessage {
	return newTicketMessage(task, ticket, StatusRejected)
}

func newTicketMessage(task string, ticket Ticket, status MulticastStatus) MulticastMessage {
	return MulticastMessage{
		Version:   MulticastSchemaVersion,
		Task:      task,
		Ticket:    ticket,
		Kind:      KindTicket,
		Status:    status,
		Timestamp: time.Now().UTC(),
	}
}

// Marshal encodes the frame for the wire.
func (m MulticastMessage) Marshal() ([]byte, error) {
	var data, err = msgpack.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding multicast message: %w", err)
	}
	if len(data) > MaxDatagramSize {
		return nil, fmt.Errorf("multicast message is %d bytes, exceeding the %d byte datagram bound", len(data), MaxDatagramSize)
	}
	return data, nil
}

// UnmarshalMulticast decodes a received datagram, rejecting frames of an
// unknown schema version.
func UnmarshalMulticast(data []byte) (MulticastMessage, error) {
	var m MulticastMessage
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("decoding multicast message: %w", err)
	}
	if m.Version != MulticastSchemaVersion {
		return m, fmt.Errorf("multicast message has schema version %d; this receiver speaks version %d", m.Version, MulticastSchemaVersion)
	}
	return m, nil
}
