package shop

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Config is the full configuration surface of one shop. Fields are declared
// for go-flags, so every knob is available as a flag and an environment
// variable and nothing is hard-coded.
type Config struct {
	Host string `long:"host" env:"HOST" default:"0.0.0.0" description:"Interface for the waiter to listen on"`
	Port uint16 `long:"port" env:"PORT" default:"7007" description:"Port for the waiter to listen on"`

	MulticastHost string `long:"multicast-host" env:"MULTICAST_HOST" default:"239.255.17.77" description:"Multicast group address for completion announcements"`
	MulticastPort uint16 `long:"multicast-port" env:"MULTICAST_PORT" default:"65355" description:"Multicast group port"`

	Baristas int `long:"baristas" env:"BARISTAS" default:"1" description:"Number of barista workers in this shop"`

	QueueURL             string        `long:"sqs-queue" env:"SQS_QUEUE" required:"true" description:"URL of the shared SQS ticket queue"`
	DynamoDBTable        string        `long:"dynamodb-table" env:"DYNAMODB_TABLE" description:"Result table name; defaults to task-queue-<shop name>"`
	DynamoDBPartitionKey string        `long:"dynamodb-partition-key" env:"DYNAMODB_PARTITION_KEY" default:"identifier" description:"Partition key attribute of the result table"`
	ResultTTL            time.Duration `long:"result-ttl" env:"RESULT_TTL" default:"2h" description:"How long results stay readable in the table"`

	MaxExecutionTime time.Duration `long:"max-execution-time" env:"MAX_EXECUTION_TIME" description:"Bound on each machine call, and on the shutdown drain; 0 leaves machine calls unbounded and the drain at its 30s default"`
	MaxTickets       int           `long:"max-tickets" env:"MAX_TICKETS" default:"1024" description:"Cap on outstanding orders before requests are rejected with 429; 0 disables"`

	IdleWait           time.Duration `long:"idle-wait" env:"IDLE_WAIT" default:"20s" description:"Long-poll wait per queue receive; clamped to the queue's ceiling"`
	CollectionInterval time.Duration `long:"collection-interval" env:"COLLECTION_INTERVAL" default:"5s" description:"Interval of the table recovery sweep"`
	PurgeInterval      time.Duration `long:"purge-interval" env:"PURGE_INTERVAL" default:"30s" description:"Interval of the stale-order purge sweep"`
	MaxOrderAge        time.Duration `long:"max-order-age" env:"MAX_ORDER_AGE" default:"5m" description:"Age past which a fulfilled order with no waiters is purged"`

	AWSRegion string `long:"aws-region" env:"AWS_REGION" description:"AWS region override; defaults to the SDK's own resolution"`
}

// Validate rejects configurations that could never serve: misconfiguration
// here is an infrastructure-permanent error, reported rather than crashed
// on.
func (c *Config) Validate() error {
	if ip := net.ParseIP(c.MulticastHost); ip == nil || !ip.IsMulticast() {
		return fmt.Errorf("--multicast-host %q is not a valid multicast address", c.MulticastHost)
	}
	if c.Baristas < 1 {
		return fmt.Errorf("--baristas must be at least 1, got %d", c.Baristas)
	}
	if c.QueueURL == "" {
		return fmt.Errorf("--sqs-queue is required")
	}
	if c.ResultTTL <= 0 {
		return fmt.Errorf("--result-ttl must be positive, got %s", c.ResultTTL)
	}
	if c.CollectionInterval <= 0 || c.PurgeInterval <= 0 {
		return fmt.Errorf("sweep intervals must be positive")
	}
	return nil
}

// dynamoDBTablePrefix prefixes the default result table name.
const dynamoDBTablePrefix = "task-queue-"

// TableName returns the configured result table name, defaulting to the
// prefixed shop name.
func (c *Config) TableName(shopName string) string {
	if c.DynamoDBTable != "" {
		return c.DynamoDBTable
	}
	return dynamoDBTablePrefix + shopName
}

// HostAddr is the waiter's listen address.
func (c *Config) HostAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(int(c.Port)))
}
