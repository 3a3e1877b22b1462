// Package kafka publishes audit events to a Kafka topic with franz-go.
//
// The topic is the durable audit stream; downstream consumers materialize it
// into audit_events for querying. Events are keyed by dividend index so one
// dividend's payout ledger stays in partition order.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"

	audit "meridian/pkg/platform/audit"
)

// Sink implements audit.Appender on top of a Kafka producer.
type Sink struct {
	client *kgo.Client
	topic  string
}

// Config for the audit sink.
type Config struct {
	Brokers []string
	Topic   string
	// Partitions is used only when the topic has to be created.
	Partitions int32
}

// NewSink connects to the brokers and ensures the audit topic exists.
func NewSink(ctx context.Context, cfg Config) (*Sink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("audit kafka sink requires at least one broker")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("audit kafka sink requires a topic")
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		// The audit log is fail-closed; require full acks.
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	if err := ensureTopic(ctx, client, cfg); err != nil {
		client.Close()
		return nil, err
	}

	return &Sink{client: client, topic: cfg.Topic}, nil
}

func ensureTopic(ctx context.Context, client *kgo.Client, cfg Config) error {
	adm := kadm.NewClient(client)

	topics, err := adm.ListTopics(ctx, cfg.Topic)
	if err != nil {
		return fmt.Errorf("list topics: %w", err)
	}
	if topics.Has(cfg.Topic) {
		return nil
	}

	partitions := cfg.Partitions
	if partitions <= 0 {
		partitions = 1
	}
	if _, err := adm.CreateTopic(ctx, partitions, -1, nil, cfg.Topic); err != nil {
		return fmt.Errorf("create topic %s: %w", cfg.Topic, err)
	}
	return nil
}

// Append publishes one event synchronously. The call blocks until the broker
// acknowledges the write or the context is cancelled; a failed produce is
// returned to the caller so the surrounding operation can fail closed.
func (s *Sink) Append(ctx context.Context, event audit.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	record := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(partitionKey(event)),
		Value: payload,
	}
	if err := s.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce audit event: %w", err)
	}
	return nil
}

func partitionKey(event audit.Event) string {
	if event.DividendIndex > 0 {
		return "dividend-" + strconv.FormatUint(event.DividendIndex, 10)
	}
	if event.CheckpointID > 0 {
		return "checkpoint-" + strconv.FormatUint(event.CheckpointID, 10)
	}
	return "platform"
}

// Close flushes outstanding produces and releases the client.
func (s *Sink) Close() error {
	s.client.Close()
	return nil
}
