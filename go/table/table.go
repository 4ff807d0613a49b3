// Package table adapts the shared AWS DynamoDB result table. Baristas write
// one row per ticket; waiters and collection points on any shop read it back
// until the row's TTL lapses.
package table

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"

	"github.com/denwong47/coffeeshop/go/shoperr"
)

// batchGetLimit is DynamoDB's ceiling on keys per BatchGetItem request.
const batchGetLimit = 100

// Attribute names of a result row. The partition key name is configured.
const (
	attrSuccess    = "success"
	attrStatusCode = "status_code"
	attrOutput     = "output"
	attrError      = "error"
	attrTTL        = "ttl"
)

// Result is one ticket's row. Exactly one of Output and Err is present,
// determined by Success.
type Result struct {
	Success    bool
	StatusCode int
	// Output holds the serialized, compressed output bytes when Success.
	Output []byte
	// Err holds the error envelope when not Success.
	Err *shoperr.Schema
}

// Client is a concurrency-safe handle on one DynamoDB table.
type Client struct {
	svc          dynamodbiface.DynamoDBAPI
	table        string
	partitionKey string
	ttl          time.Duration
}

// New wraps a DynamoDB API implementation. Tests substitute a fake
// dynamodbiface.DynamoDBAPI here.
func New(svc dynamodbiface.DynamoDBAPI, table, partitionKey string, ttl time.Duration) *Client {
	return &Client{svc: svc, table: table, partitionKey: partitionKey, ttl: ttl}
}

// NewFromSession builds a Client from a shared AWS session.
func NewFromSession(sess *session.Session, table, partitionKey string, ttl time.Duration) *Client {
	return New(dynamodb.New(sess), table, partitionKey, ttl)
}

// Table returns the table name this client writes to.
func (c *Client) Table() string { return c.table }

// PutResult writes the row for a ticket with ttl = now + the configured TTL.
// Rewrites of the same ticket are permitted: an at-least-once queue may have
// two baristas process the same message, and idempotent machines make the
// rows identical.
func (c *Client) PutResult(ctx context.Context, ticket string, result *Result) error {
	var item = map[string]*dynamodb.AttributeValue{
		c.partitionKey: {S: aws.String(ticket)},
		attrSuccess:    {BOOL: aws.Bool(result.Success)},
		attrStatusCode: {N: aws.String(strconv.Itoa(result.StatusCode))},
		attrTTL:        {N: aws.String(strconv.FormatInt(time.Now().Add(c.ttl).Unix(), 10))},
	}
	if result.Success {
		item[attrOutput] = &dynamodb.AttributeValue{B: result.Output}
	} else {
		var envelope, err = result.Err.MarshalBinary()
		if err != nil {
			return fmt.Errorf("serializing error envelope for ticket %s: %w", ticket, err)
		}
		item[attrError] = &dynamodb.AttributeValue{S: aws.String(string(envelope))}
	}

	if _, err := c.svc.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.table),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("writing result for ticket %s to table %s: %w", ticket, c.table, err)
	}
	return nil
}

// GetResult reads the row for a ticket. A missing row maps to
// shoperr.ResultNotFound: the row was never written, or the TTL evicted it.
func (c *Client) GetResult(ctx context.Context, ticket string) (*Result, error) {
	var out, err = c.svc.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.table),
		Key: map[string]*dynamodb.AttributeValue{
			c.partitionKey: {S: aws.String(ticket)},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("reading result for ticket %s from table %s: %w", ticket, c.table, err)
	}
	if len(out.Item) == 0 {
		return nil, shoperr.ResultNotFound(ticket)
	}
	return parseItem(ticket, out.Item)
}

// BatchStatuses fetches the success flag of each listed ticket, chunking to
// the BatchGetItem key limit and retrying unprocessed keys. Tickets without
// a row are simply absent from the returned map.
func (c *Client) BatchStatuses(ctx context.Context, tickets []string) (map[string]bool, error) {
	var statuses = make(map[string]bool, len(tickets))

	for start := 0; start < len(tickets); start += batchGetLimit {
		var end = start + batchGetLimit
		if end > len(tickets) {
			end = len(tickets)
		}

		var keys = make([]map[string]*dynamodb.AttributeValue, 0, end-start)
		for _, ticket := range tickets[start:end] {
			keys = append(keys, map[string]*dynamodb.AttributeValue{
				c.partitionKey: {S: aws.String(ticket)},
			})
		}

		for len(keys) != 0 {
			var out, err = c.svc.BatchGetItemWithContext(ctx, &dynamodb.BatchGetItemInput{
				RequestItems: map[string]*dynamodb.KeysAndAttributes{
					c.table: {
						Keys:                 keys,
						ProjectionExpression: aws.String("#pk, #success"),
						ExpressionAttributeNames: map[string]*string{
							"#pk":      aws.String(c.partitionKey),
							"#success": aws.String(attrSuccess),
						},
					},
				},
			})
			if err != nil {
				return nil, fmt.Errorf("batch reading statuses from table %s: %w", c.table, err)
			}

			for _, item := range out.Responses[c.table] {
				var ticketAttr, ok = item[c.partitionKey]
				if !ok || ticketAttr.S == nil {
					return nil, fmt.Errorf("table %s returned an item without its partition key %q", c.table, c.partitionKey)
				}
				var successAttr, okSuccess = item[attrSuccess]
				if !okSuccess || successAttr.BOOL == nil {
					return nil, fmt.Errorf("item %s in table %s is malformed: missing boolean %q", *ticketAttr.S, c.table, attrSuccess)
				}
				statuses[*ticketAttr.S] = *successAttr.BOOL
			}

			keys = nil
			if pending, ok := out.UnprocessedKeys[c.table]; ok {
				keys = pending.Keys
			}
		}
	}
	return statuses, nil
}

func parseItem(ticket string, item map[string]*dynamodb.AttributeValue) (*Result, error) {
	var successAttr, ok = item[attrSuccess]
	if !ok || successAttr.BOOL == nil {
		return nil, fmt.Errorf("item %s is malformed: missing boolean %q", ticket, attrSuccess)
	}
	var statusAttr, okStatus = item[attrStatusCode]
	if !okStatus || statusAttr.N == nil {
		return nil, fmt.Errorf("item %s is malformed: missing numeric %q", ticket, attrStatusCode)
	}
	statusCode, err := strconv.Atoi(*statusAttr.N)
	if err != nil {
		return nil, fmt.Errorf("item %s is malformed: %q is not an integer: %w", ticket, attrStatusCode, err)
	}

	var result = Result{Success: *successAttr.BOOL, StatusCode: statusCode}
	if result.Success {
		var outputAttr, okOutput = item[attrOutput]
		if !okOutput || outputAttr.B == nil {
			return nil, fmt.Errorf("item %s is malformed: success without binary %q", ticket, attrOutput)
		}
		result.Output = outputAttr.B
	} else {
		var errAttr, okErr = item[attrError]
		if !okErr || errAttr.S == nil {
			return nil, fmt.Errorf("item %s is malformed: failure without %q envelope", ticket, attrError)
		}
		schema, err := shoperr.ParseSchema([]byte(*errAttr.S))
		if err != nil {
			return nil, fmt.Errorf("item %s is malformed: %w", ticket, err)
		}
		result.Err = schema
	}
	return &result, nil
}
