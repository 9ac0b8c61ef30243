// Package kafkabus is the audit event bus: a franz-go producer that
// fans tamper-evident audit events out to per-category topics
// (audit.compliance / audit.security / audit.ops), mirroring the
// teacher's tri-publisher split (compliance fail-closed/synchronous,
// security buffered/circuit-broken, ops sampled/best-effort) but as a
// single Kafka-backed sink rather than three separate outbox
// publishers, since internal/audit.Service already owns the
// fail-closed persistence guarantee and only needs a downstream fan-out
// for the subset of events a SIEM or analytics consumer cares about.
package kafkabus

import (
	"context"
	"fmt"
	"time"

	"aegis/internal/audit"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

const (
	TopicCompliance = "audit.compliance"
	TopicSecurity   = "audit.security"
	TopicOps        = "audit.ops"

	defaultPartitions        = 6
	defaultReplicationFactor = 3
)

// Producer publishes audit events to category-routed topics. It
// implements internal/audit.AlertSink so internal/audit.Service can use
// it directly as a WithAlertSink(...) option.
type Producer struct {
	client *kgo.Client
}

// NewProducer dials the given brokers. Callers should call
// ProvisionTopics once at startup before traffic flows.
func NewProducer(brokers []string) (*Producer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("kafkabus: new client: %w", err)
	}
	return &Producer{client: client}, nil
}

// ProvisionTopics creates the three audit topics if they don't already
// exist, using kadm the way the teacher's worker provisions its outbox
// topics at boot.
func ProvisionTopics(ctx context.Context, brokers []string) error {
	client, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return fmt.Errorf("kafkabus: new admin client: %w", err)
	}
	defer client.Close()

	admin := kadm.NewClient(client)
	defer admin.Close()

	topics := []string{TopicCompliance, TopicSecurity, TopicOps}
	resp, err := admin.CreateTopics(ctx, defaultPartitions, defaultReplicationFactor, nil, topics...)
	if err != nil {
		return fmt.Errorf("kafkabus: create topics: %w", err)
	}
	for _, t := range resp {
		if t.Err != nil && t.Err != kerr.TopicAlreadyExists {
			return fmt.Errorf("kafkabus: provision topic %s: %w", t.Topic, t.Err)
		}
	}
	return nil
}

func topicFor(category audit.Category) string {
	switch category {
	case audit.CategoryCompliance:
		return TopicCompliance
	case audit.CategorySecurity:
		return TopicSecurity
	default:
		return TopicOps
	}
}

// Notify publishes e to its category's topic and blocks for the
// broker's ack, satisfying internal/audit.AlertSink. Compliance events
// are produced with RequiredAcks semantics (the client's default);
// callers that need truly fail-closed compliance delivery should check
// the returned error, as internal/audit.Service does for its own
// store.Append path upstream of this sink.
func (p *Producer) Notify(ctx context.Context, e audit.Event) error {
	payload, err := marshalEvent(e)
	if err != nil {
		return fmt.Errorf("kafkabus: marshal event: %w", err)
	}

	rec := &kgo.Record{
		Topic: topicFor(e.Category),
		Key:   []byte(e.TenantID.String()),
		Value: payload,
	}

	produceCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	result := p.client.ProduceSync(produceCtx, rec)
	return result.FirstErr()
}

// Close flushes in-flight produces and closes the underlying client.
func (p *Producer) Close() {
	p.client.Close()
}
