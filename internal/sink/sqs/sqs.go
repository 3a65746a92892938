// Package sqs implements a Sink (internal/sink) over AWS SQS, following the
// batching, oversized-message, and retry-classification rules of
// spec.md §4.4.
package sqs

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/aws/aws-sdk-go/service/sqs/sqsiface"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/estuary/cdc-relay/internal/cdcerror"
	"github.com/estuary/cdc-relay/internal/cdcvalue"
)

const (
	// MaxBatchCount is SQS's hard cap of entries per SendMessageBatch call.
	MaxBatchCount = 10
	// MaxMessageBytes is SQS's hard per-message size limit.
	MaxMessageBytes = 256 * 1024
	// MaxMessageBodyBytes leaves headroom under MaxMessageBytes for
	// message attribute overhead.
	MaxMessageBodyBytes = 250 * 1024
	// MaxRequestBytes is SQS's hard cap on the serialized size of an
	// entire SendMessageBatch request.
	MaxRequestBytes = 256 * 1024
)

var retriableErrorCodes = map[string]bool{
	"InternalError":       true,
	"ServiceUnavailable":  true,
	"ThrottlingException": true,
}

// Config configures a Sink against a single SQS queue.
type Config struct {
	QueueURL        string
	Region          string
	EndpointURL     string
	AccessKeyID     string
	SecretAccessKey string
	// Source tags every published message via a MessageAttribute, for
	// downstream routing/observability.
	Source string
}

// Sink publishes batches of messages to SQS. The underlying client is
// constructed lazily on first use, guarded by mu, matching the
// connection-pooling pattern of the source this is grounded on.
type Sink struct {
	cfg Config

	mu     sync.Mutex
	client sqsiface.SQSAPI
}

func New(cfg Config) *Sink {
	if cfg.Source == "" {
		cfg.Source = "cdc-relay"
	}
	return &Sink{cfg: cfg}
}

// newWithClient builds a Sink against an already-constructed client,
// letting tests substitute a fake satisfying sqsiface.SQSAPI.
func newWithClient(cfg Config, client sqsiface.SQSAPI) *Sink {
	if cfg.Source == "" {
		cfg.Source = "cdc-relay"
	}
	return &Sink{cfg: cfg, client: client}
}

func (s *Sink) getClient() (sqsiface.SQSAPI, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client, nil
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: 3 * time.Second, KeepAlive: 30 * time.Second}).DialContext
	httpClient := &http.Client{Transport: transport, Timeout: 5 * time.Second}

	creds := credentials.NewStaticCredentials(s.cfg.AccessKeyID, s.cfg.SecretAccessKey, "")
	cfg := aws.NewConfig().WithCredentials(creds).WithRegion(s.cfg.Region).
		WithHTTPClient(httpClient).WithMaxRetries(3)
	if s.cfg.EndpointURL != "" {
		cfg = cfg.WithEndpoint(s.cfg.EndpointURL)
	}

	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, cdcerror.Wrap(cdcerror.Configuration, "create aws session", err)
	}

	s.client = sqs.New(sess)
	log.WithFields(log.Fields{"queue_url": s.cfg.QueueURL, "region": s.cfg.Region}).Debug("sqs sink: client initialized")
	return s.client, nil
}

// Send batches messages in groups of at most MaxBatchCount and delivers
// each group with SendMessageBatch, recursively halving any group whose
// serialized request would exceed MaxRequestBytes.
func (s *Sink) Send(messages []cdcvalue.Value) error {
	if len(messages) == 0 {
		return nil
	}

	client, err := s.getClient()
	if err != nil {
		return err
	}

	for i := 0; i < len(messages); i += MaxBatchCount {
		end := i + MaxBatchCount
		if end > len(messages) {
			end = len(messages)
		}
		entries, err := s.prepareEntries(messages[i:end])
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			continue
		}
		if err := s.sendBatch(client, entries); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) prepareEntries(batch []cdcvalue.Value) ([]*sqs.SendMessageBatchRequestEntry, error) {
	entries := make([]*sqs.SendMessageBatchRequestEntry, 0, len(batch))

	for idx, msg := range batch {
		body, err := json.Marshal(msg.ToJSON())
		if err != nil {
			log.WithError(err).Error("sqs sink: failed to marshal message to JSON, dropping")
			continue
		}

		if len(body) > MaxMessageBodyBytes {
			body = referenceMessage(msg, len(body))
		}

		entries = append(entries, &sqs.SendMessageBatchRequestEntry{
			Id:          aws.String(strconv.Itoa(idx)),
			MessageBody: aws.String(string(body)),
			MessageAttributes: map[string]*sqs.MessageAttributeValue{
				"source": {
					DataType:    aws.String("String"),
					StringValue: aws.String(s.cfg.Source),
				},
			},
		})
	}

	return entries, nil
}

// referenceMessage replaces an oversized message body with a small
// reference envelope, per spec.md §4.4's oversized-message substitution
// rule. The reference id is a fresh uuid so the substitution is traceable
// in logs even though the original payload is gone.
func referenceMessage(original cdcvalue.Value, originalSize int) []byte {
	ref := uuid.New().String()
	log.WithFields(log.Fields{"reference_id": ref, "original_size": originalSize}).
		Warn("sqs sink: message exceeds size limit, substituting reference message")

	replacement := map[string]any{
		"original_size_exceeded": true,
		"reference_id":           ref,
		"original_size_bytes":    originalSize,
	}
	if database, ok := mapStringField(original, "spec", "database"); ok {
		replacement["database"] = database
	}
	if table, ok := mapStringField(original, "spec", "table"); ok {
		replacement["table"] = table
	}
	if eventType, ok := mapStringField(original, "spec", "event_type"); ok {
		replacement["event_type"] = eventType
	}

	body, err := json.Marshal(replacement)
	if err != nil {
		return []byte(`{"original_size_exceeded":true}`)
	}
	return body
}

func mapStringField(v cdcvalue.Value, path ...string) (string, bool) {
	cur := v
	for _, key := range path {
		next, ok := cur.MapGet(key)
		if !ok {
			return "", false
		}
		cur = next
	}
	if cur.Kind() != cdcvalue.KindString {
		return "", false
	}
	return cur.AsString(), true
}

func (s *Sink) sendBatch(client sqsiface.SQSAPI, entries []*sqs.SendMessageBatchRequestEntry) error {
	if len(entries) == 0 {
		return nil
	}

	if len(entries) > 1 && requestSize(entries) > MaxRequestBytes {
		mid := len(entries) / 2
		if err := s.sendBatch(client, entries[:mid]); err != nil {
			return err
		}
		return s.sendBatch(client, entries[mid:])
	}

	out, err := client.SendMessageBatch(&sqs.SendMessageBatchInput{
		QueueUrl: aws.String(s.cfg.QueueURL),
		Entries:  entries,
	})
	if err != nil {
		return cdcerror.Wrap(cdcerror.Stream, "sqs send_message_batch", err)
	}

	if len(out.Failed) == 0 {
		return nil
	}

	retriable := false
	ids := make([]string, 0, len(out.Failed))
	for _, f := range out.Failed {
		ids = append(ids, aws.StringValue(f.Id))
		if !aws.BoolValue(f.SenderFault) || retriableErrorCodes[aws.StringValue(f.Code)] {
			retriable = true
		}
		log.WithFields(log.Fields{"id": aws.StringValue(f.Id), "code": aws.StringValue(f.Code)}).
			Error("sqs sink: message failed to send")
	}

	if len(out.Failed) == len(entries) {
		kind := cdcerror.Stream
		msg := fmt.Sprintf("all %d messages in batch failed: ids=%v", len(entries), ids)
		if retriable {
			return cdcerror.New(kind, msg+" (retriable)")
		}
		return cdcerror.New(kind, msg+" (non-retriable)")
	}

	// Partial failure: per spec.md's at-least-once contract the caller
	// cannot tell which messages landed, so treat any partial failure as
	// retriable and let the caller redeliver the whole batch.
	return cdcerror.New(cdcerror.Stream, fmt.Sprintf("%d of %d messages failed: ids=%v", len(out.Failed), len(entries), ids))
}

func requestSize(entries []*sqs.SendMessageBatchRequestEntry) int {
	total := 0
	for _, e := range entries {
		total += len(aws.StringValue(e.MessageBody))
	}
	return total
}

func (s *Sink) Close() error { return nil }
