package waiter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/aws/aws-sdk-go/service/sqs/sqsiface"
	"github.com/stretchr/testify/require"

	"github.com/denwong47/coffeeshop/go/codec"
	"github.com/denwong47/coffeeshop/go/machine"
	"github.com/denwong47/coffeeshop/go/order"
	"github.com/denwong47/coffeeshop/go/queue"
	"github.com/denwong47/coffeeshop/go/shoperr"
	"github.com/denwong47/coffeeshop/go/table"
)

type testQuery struct {
	Name           string  `schema:"name"`
	TimeoutSeconds float64 `schema:"timeout"`
	Async          bool    `schema:"async"`
}

func (q testQuery) Timeout() time.Duration {
	return time.Duration(q.TimeoutSeconds * float64(time.Second))
}
func (q testQuery) IsAsync() bool { return q.Async }

type testInput struct {
	Value int `json:"value"`
}

type testOutput struct {
	Echo string `json:"echo"`
}

type testMachine struct{}

func (testMachine) Validate(query testQuery, input *testInput) machine.ValidationErrors {
	if input == nil {
		return machine.ValidationErrors{"$body": "The input is missing."}
	}
	if input.Value < 0 {
		return machine.ValidationErrors{"value": "Value must be non-negative."}
	}
	return nil
}

func (testMachine) Call(_ context.Context, query testQuery, input *testInput) (testOutput, error) {
	return testOutput{Echo: fmt.Sprintf("%s:%d", query.Name, input.Value)}, nil
}

type fakeSQS struct {
	sqsiface.SQSAPI
	sendInputs []*sqs.SendMessageInput
	sendErr    error
	nextTicket string
}

func (f *fakeSQS) SendMessageWithContext(_ aws.Context, input *sqs.SendMessageInput, _ ...request.Option) (*sqs.SendMessageOutput, error) {
	f.sendInputs = append(f.sendInputs, input)
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return &sqs.SendMessageOutput{MessageId: aws.String(f.nextTicket)}, nil
}

type fakeDynamoDB struct {
	dynamodbiface.DynamoDBAPI
	items map[string]map[string]*dynamodb.AttributeValue
}

func (f *fakeDynamoDB) GetItemWithContext(_ aws.Context, input *dynamodb.GetItemInput, _ ...request.Option) (*dynamodb.GetItemOutput, error) {
	var ticket = *input.Key["identifier"].S
	return &dynamodb.GetItemOutput{Item: f.items[ticket]}, nil
}

type harness struct {
	waiter *Waiter[testQuery, testInput, testOutput]
	orders *order.Map
	sqs    *fakeSQS
	dynamo *fakeDynamoDB
}

func newHarness(t *testing.T, maxTickets int) *harness {
	t.Helper()
	var orders = order.NewMap()
	var fsqs = &fakeSQS{nextTicket: "ticket-0001"}
	var fdyn = &fakeDynamoDB{items: map[string]map[string]*dynamodb.AttributeValue{}}

	return &harness{
		waiter: New[testQuery, testInput, testOutput](
			"test-task",
			testMachine{},
			orders,
			queue.New(fsqs, "https://sqs.example.com/queue"),
			table.New(fdyn, "task-queue-test", "identifier", time.Hour),
			"127.0.0.1:0",
			maxTickets,
			time.Second,
		),
		orders: orders,
		sqs:    fsqs,
		dynamo: fdyn,
	}
}

func (h *harness) do(method, target, body string) *httptest.ResponseRecorder {
	var req = httptest.NewRequest(method, target, strings.NewReader(body))
	var rec = httptest.NewRecorder()
	h.waiter.Handler(nil).ServeHTTP(rec, req)
	return rec
}

func (h *harness) storeSuccess(t *testing.T, ticket string, output testOutput) {
	t.Helper()
	var encoded, err = codec.Marshal(output)
	require.NoError(t, err)
	h.dynamo.items[ticket] = map[string]*dynamodb.AttributeValue{
		"identifier":  {S: aws.String(ticket)},
		"success":     {BOOL: aws.Bool(true)},
		"status_code": {N: aws.String("200")},
		"output":      {B: encoded},
	}
}

func (h *harness) storeFailure(t *testing.T, ticket string, schema *shoperr.Schema) {
	t.Helper()
	var envelope, err = schema.MarshalBinary()
	require.NoError(t, err)
	h.dynamo.items[ticket] = map[string]*dynamodb.AttributeValue{
		"identifier":  {S: aws.String(ticket)},
		"success":     {BOOL: aws.Bool(false)},
		"status_code": {N: aws.String(fmt.Sprint(schema.StatusCode))},
		"error":       {S: aws.String(string(envelope))},
	}
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func requireJSONHeaders(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestStatus(t *testing.T) {
	var h = newHarness(t, 0)
	var rec = h.do(http.MethodGet, "/status", "")

	require.Equal(t, http.StatusOK, rec.Code)
	requireJSONHeaders(t, rec)

	var body = decodeBody(t, rec)
	require.Equal(t, float64(0), body["request_count"])
	require.Equal(t, float64(0), body["ticket_count"])
	require.NotEmpty(t, body["metadata"].(map[string]interface{})["timestamp"])
}

func TestStatusRejectsPost(t *testing.T) {
	var h = newHarness(t, 0)
	var rec = h.do(http.MethodPost, "/status", "")
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	require.Equal(t, "InvalidMethod", decodeBody(t, rec)["error"])
}

func TestUnknownRoute(t *testing.T) {
	var h = newHarness(t, 0)
	var rec = h.do(http.MethodGet, "/espresso", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	requireJSONHeaders(t, rec)
	require.Equal(t, "InvalidRoute", decodeBody(t, rec)["error"])
}

func TestRequestValidationFailureDoesNotEnqueue(t *testing.T) {
	var h = newHarness(t, 0)
	var rec = h.do(http.MethodPost, "/request?name=Ada&timeout=5", `{"value":-1}`)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var body = decodeBody(t, rec)
	require.Equal(t, "ValidationError", body["error"])
	var fields = body["details"].(map[string]interface{})["fields"].(map[string]interface{})
	require.Equal(t, "Value must be non-negative.", fields["value"])

	// The queue's depth is unchanged.
	require.Empty(t, h.sqs.sendInputs)
	require.Equal(t, uint64(0), h.waiter.RequestCount())
}

func TestRequestMalformedBody(t *testing.T) {
	var h = newHarness(t, 0)
	var rec = h.do(http.MethodPost, "/request?name=Ada&timeout=5", `{"value":`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "MalformedJsonPayload", decodeBody(t, rec)["error"])
	require.Empty(t, h.sqs.sendInputs)
}

func TestRequestBadQuery(t *testing.T) {
	var h = newHarness(t, 0)
	var rec = h.do(http.MethodPost, "/request?timeout=never", `{"value":1}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "InvalidQueryOptions", decodeBody(t, rec)["error"])
}

func TestRequestAsync(t *testing.T) {
	var h = newHarness(t, 0)
	var rec = h.do(http.MethodPost, "/request?name=Ada&timeout=5&async=true", `{"value":7}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var body = decodeBody(t, rec)
	require.Equal(t, "ticket-0001", body["ticket"])
	require.NotNil(t, body["metadata"])

	// The enqueued body round-trips to the combined input.
	require.Len(t, h.sqs.sendInputs, 1)
	var combined struct {
		Query testQuery  `msgpack:"query"`
		Input *testInput `msgpack:"input"`
	}
	require.NoError(t, codec.DecodeQueueBody(*h.sqs.sendInputs[0].MessageBody, &combined))
	require.Equal(t, "Ada", combined.Query.Name)
	require.Equal(t, 7, combined.Input.Value)

	// The order is registered for the collection point to resolve.
	require.Equal(t, 1, h.orders.Len())
	require.Equal(t, uint64(1), h.waiter.RequestCount())
}

func TestRequestSyncFulfilled(t *testing.T) {
	var h = newHarness(t, 0)
	h.storeSuccess(t, "ticket-0001", testOutput{Echo: "Ada:7"})

	// Another component already fulfilled the order, as the announcer would
	// on a multicast match.
	var o, release = h.orders.Acquire("ticket-0001")
	defer release()
	require.NoError(t, o.Fulfill(true))

	var rec = h.do(http.MethodPost, "/request?name=Ada&timeout=5", `{"value":7}`)
	require.Equal(t, http.StatusOK, rec.Code)
	requireJSONHeaders(t, rec)

	var body = decodeBody(t, rec)
	require.Equal(t, "ticket-0001", body["ticket"])
	require.Equal(t, "Ada:7", body["output"].(map[string]interface{})["echo"])
}

func TestRequestSyncNoWaitTimesOut(t *testing.T) {
	var h = newHarness(t, 0)
	// No timeout parameter: treated as "no wait", and nothing has fulfilled
	// the order.
	var rec = h.do(http.MethodPost, "/request?name=Ada", `{"value":7}`)

	require.Equal(t, http.StatusRequestTimeout, rec.Code)
	require.Equal(t, "RetrieveTimeout", decodeBody(t, rec)["error"])
	// The ticket was still enqueued; a later retrieve can fetch it.
	require.Len(t, h.sqs.sendInputs, 1)
}

func TestRequestSyncUnblockedConcurrently(t *testing.T) {
	var h = newHarness(t, 0)
	h.storeSuccess(t, "ticket-0001", testOutput{Echo: "Ada:7"})

	go func() {
		for h.orders.Len() == 0 {
			time.Sleep(time.Millisecond)
		}
		h.orders.Fulfill("ticket-0001", true)
	}()

	var rec = h.do(http.MethodPost, "/request?name=Ada&timeout=5", `{"value":7}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "Ada:7", decodeBody(t, rec)["output"].(map[string]interface{})["echo"])
}

func TestRequestQueueFailure(t *testing.T) {
	var h = newHarness(t, 0)
	h.sqs.sendErr = errors.New("sqs is down")

	var rec = h.do(http.MethodPost, "/request?name=Ada&timeout=5", `{"value":7}`)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "QueueFailure", decodeBody(t, rec)["error"])
}

func TestRequestTooManyTickets(t *testing.T) {
	var h = newHarness(t, 1)
	var _, release = h.orders.Acquire("resident")
	defer release()

	var rec = h.do(http.MethodPost, "/request?name=Ada&timeout=5", `{"value":7}`)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "TooManyTickets", decodeBody(t, rec)["error"])
	require.Empty(t, h.sqs.sendInputs)
}

func TestRetrieveRequiresTicket(t *testing.T) {
	var h = newHarness(t, 0)
	var rec = h.do(http.MethodGet, "/retrieve", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "InvalidQueryOptions", decodeBody(t, rec)["error"])
}

func TestRetrieveUnknownTicketRegistersOrder(t *testing.T) {
	var h = newHarness(t, 0)
	var rec = h.do(http.MethodGet, "/retrieve?ticket=elsewhere&timeout=0", "")

	// No wait and nothing fulfilled: 408, but the order now exists for the
	// collection point to populate from the table.
	require.Equal(t, http.StatusRequestTimeout, rec.Code)
	require.Equal(t, 1, h.orders.Len())
}

func TestRetrieveFulfilledFailureSurfacesStoredEnvelope(t *testing.T) {
	var h = newHarness(t, 0)
	var stored = shoperr.New(http.StatusForbidden, "ForbiddenUser", shoperr.Details{
		"message": "Little Timmy is not allowed to use this system.",
	})
	h.storeFailure(t, "ticket-9", stored)

	var o, release = h.orders.Acquire("ticket-9")
	defer release()
	require.NoError(t, o.Fulfill(false))

	var rec = h.do(http.MethodGet, "/retrieve?ticket=ticket-9&timeout=2", "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	var body = decodeBody(t, rec)
	require.Equal(t, "ForbiddenUser", body["error"])
	require.Equal(t, float64(http.StatusForbidden), body["status_code"])
}

func TestRetrieveFulfilledButRowEvicted(t *testing.T) {
	var h = newHarness(t, 0)
	var o, release = h.orders.Acquire("ticket-evicted")
	defer release()
	require.NoError(t, o.Fulfill(true))

	var rec = h.do(http.MethodGet, "/retrieve?ticket=ticket-evicted&timeout=2", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "ResultNotFound", decodeBody(t, rec)["error"])
}

func TestRetrieveRejectsPost(t *testing.T) {
	var h = newHarness(t, 0)
	var rec = h.do(http.MethodPost, "/retrieve?ticket=a", "")
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
