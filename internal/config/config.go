// Package config declares the process-wide configuration surface, loaded
// from environment variables and flags via go-flags, using the same
// grouped-struct style as other Gazette-based service binaries.
package config

import (
	"time"

	mbp "go.gazette.dev/core/mainboilerplate"
)

// Config is the top-level configuration object of a cdc-relay worker.
type Config struct {
	App struct {
		// DataSourceType selects the Source implementation. Only "mysql"
		// is currently registered.
		DataSourceType string `long:"ds-type" env:"DS_TYPE" default:"mysql" description:"data source type"`
		// StreamType selects the Sink implementation. Only "sqs" is
		// currently registered.
		StreamType string `long:"stream-type" env:"STREAM_TYPE" default:"sqs" description:"downstream stream type"`
		// StateManagerType selects the Checkpoint Store implementation.
		// Only "dynamodb" is currently registered.
		StateManagerType string        `long:"state-manager-type" env:"STATE_MANAGER_TYPE" default:"dynamodb" description:"checkpoint store type"`
		BatchSize        int           `long:"batch-size" env:"BATCH_SIZE" default:"10" description:"flush policy batch size"`
		FlushInterval    time.Duration `long:"flush-interval" env:"FLUSH_INTERVAL" default:"5s" description:"flush policy time bound"`
	} `group:"App" namespace:"app"`

	// MySQL, SQS and DynamoDB below deliberately omit env-namespace: their
	// field-level env tags are already the exact variable names operators
	// already use, and go-flags would otherwise prefix them a second time.
	MySQL struct {
		Host     string `long:"host" env:"DB_HOST" description:"mysql host"`
		User     string `long:"user" env:"DB_USER" description:"mysql user"`
		Password string `long:"password" env:"DB_PASSWORD" description:"mysql password"`
		Port     uint16 `long:"port" env:"DB_PORT" default:"3306" description:"mysql port"`
		ServerID uint32 `long:"server-id" env:"DB_SERVER_ID" default:"1234" description:"replica server id registered with the master"`
	} `group:"MySQL" namespace:"mysql"`

	SQS struct {
		QueueURL        string `long:"queue-url" env:"SQS_QUEUE_URL" description:"SQS queue URL"`
		Region          string `long:"region" env:"AWS_REGION" description:"AWS region"`
		EndpointURL     string `long:"endpoint-url" env:"AWS_ENDPOINT_URL" description:"AWS endpoint URL override, for local testing"`
		AccessKeyID     string `long:"access-key-id" env:"AWS_ACCESS_KEY_ID" description:"AWS access key id"`
		SecretAccessKey string `long:"secret-access-key" env:"AWS_SECRET_ACCESS_KEY" description:"AWS secret access key"`
		Source          string `long:"source" env:"SOURCE" default:"cdc-relay" description:"source tag attached to published messages"`
	} `group:"SQS" namespace:"sqs"`

	DynamoDB struct {
		Region          string `long:"region" env:"STATE_DYNAMODB_REGION" description:"AWS region for the checkpoint table"`
		EndpointURL     string `long:"endpoint-url" env:"STATE_DYNAMODB_ENDPOINT_URL" description:"AWS endpoint URL override, for local testing"`
		AccessKeyID     string `long:"access-key" env:"STATE_DYNAMODB_ACCESS_KEY" description:"AWS access key id"`
		SecretAccessKey string `long:"secret-key" env:"STATE_DYNAMODB_SECRET_KEY" description:"AWS secret access key"`
		TableName       string `long:"table" env:"STATE_DYNAMODB_TABLE" description:"checkpoint table name"`
	} `group:"DynamoDB" namespace:"dynamodb"`

	Log         mbp.LogConfig         `group:"Logging" namespace:"log" env-namespace:"LOG"`
	Diagnostics mbp.DiagnosticsConfig `group:"Debug" namespace:"debug" env-namespace:"DEBUG"`
}
