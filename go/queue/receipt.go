package queue

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/sqs"
)

// ErrReceiptSettled reports a second terminal transition on a receipt.
var ErrReceiptSettled = errors.New("staged receipt has already been settled")

// Receipt states. Exactly one terminal transition is permitted per receipt.
const (
	stateReceived int32 = iota
	stateDeleted
	stateReturned
)

// StagedReceipt is one in-flight message held by a barista. It starts
// Received and must end Deleted (processing committed to the table) or
// Returned (made immediately visible for another barista). Dropping it
// unsettled is a programmer error; the queue's visibility timeout will
// re-surface the message regardless.
type StagedReceipt struct {
	client        *Client
	Ticket        string
	Body          string
	receiptHandle string
	state         atomic.Int32
}

// Settled reports whether a terminal transition has happened.
func (r *StagedReceipt) Settled() bool {
	return r.state.Load() != stateReceived
}

// Delete removes the message from the queue. The receipt settles even if the
// call fails: the worst case is a redelivery, which processing must already
// tolerate.
func (r *StagedReceipt) Delete(ctx context.Context) error {
	if !r.state.CompareAndSwap(stateReceived, stateDeleted) {
		return ErrReceiptSettled
	}
	var _, err = r.client.svc.DeleteMessageWithContext(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(r.client.url),
		ReceiptHandle: aws.String(r.receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("deleting message %s: %w", r.Ticket, err)
	}
	return nil
}

// Return hands the message straight back by zeroing its visibility timeout,
// so any barista in the cluster can pick it up immediately.
func (r *StagedReceipt) Return(ctx context.Context) error {
	if !r.state.CompareAndSwap(stateReceived, stateReturned) {
		return ErrReceiptSettled
	}
	var _, err = r.client.svc.ChangeMessageVisibilityWithContext(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(r.client.url),
		ReceiptHandle:     aws.String(r.receiptHandle),
		VisibilityTimeout: aws.Int64(0),
	})
	if err != nil {
		return fmt.Errorf("returning message %s: %w", r.Ticket, err)
	}
	return nil
}
