// Package queue adapts the shared AWS SQS queue: waiters put encoded
// tickets, baristas long-poll for them, and every received message is staged
// behind a receipt that must be settled exactly once.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/aws/aws-sdk-go/service/sqs/sqsiface"
)

// maxLongPollWait is SQS's ceiling on a single ReceiveMessage wait.
const maxLongPollWait = 20 * time.Second

// EmptyError reports a long poll that returned no messages. Baristas treat
// it as an idle tick, not a fault.
type EmptyError struct {
	Wait time.Duration
}

func (e EmptyError) Error() string {
	return fmt.Sprintf("queue is empty after waiting %s", e.Wait)
}

// Client is a concurrency-safe handle on one SQS queue.
type Client struct {
	svc sqsiface.SQSAPI
	url string
}

// New wraps an SQS API implementation and a queue URL. Tests substitute a
// fake sqsiface.SQSAPI here.
func New(svc sqsiface.SQSAPI, queueURL string) *Client {
	return &Client{svc: svc, url: queueURL}
}

// NewFromSession builds a Client from a shared AWS session.
func NewFromSession(sess *session.Session, queueURL string) *Client {
	return New(sqs.New(sess), queueURL)
}

// URL returns the queue URL this client talks to.
func (c *Client) URL() string { return c.url }

// Put enqueues an encoded ticket body and returns the queue-assigned message
// id, which becomes the ticket.
func (c *Client) Put(ctx context.Context, body string) (string, error) {
	var out, err = c.svc.SendMessageWithContext(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(c.url),
		MessageBody: aws.String(body),
	})
	if err != nil {
		return "", fmt.Errorf("sending message to queue %s: %w", c.url, err)
	}
	if out.MessageId == nil || *out.MessageId == "" {
		return "", fmt.Errorf("queue %s accepted the message but returned no message id", c.url)
	}
	return *out.MessageId, nil
}

// Retrieve long-polls for the next message, waiting up to |wait| (clamped to
// the SQS ceiling). An empty poll returns EmptyError.
func (c *Client) Retrieve(ctx context.Context, wait time.Duration) (*StagedReceipt, error) {
	if wait < 0 || wait > maxLongPollWait {
		wait = maxLongPollWait
	}

	var out, err = c.svc.ReceiveMessageWithContext(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.url),
		MaxNumberOfMessages: aws.Int64(1),
		WaitTimeSeconds:     aws.Int64(int64(wait / time.Second)),
	})
	if err != nil {
		return nil, fmt.Errorf("receiving message from queue %s: %w", c.url, err)
	}
	if len(out.Messages) == 0 {
		return nil, EmptyError{Wait: wait}
	}

	var msg = out.Messages[0]
	if msg.MessageId == nil || msg.ReceiptHandle == nil {
		return nil, fmt.Errorf("queue %s returned a message without id or receipt handle", c.url)
	}
	return &StagedReceipt{
		client:        c,
		Ticket:        *msg.MessageId,
		Body:          aws.StringValue(msg.Body),
		receiptHandle: *msg.ReceiptHandle,
	}, nil
}
