package eventlog

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Publisher is the interface workers and the idempotent emitter publish
// through; the fake in-memory implementation in fake.go satisfies this
// for unit tests that must not need a live broker.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
	Close()
}

// Record is what a Consumer hands to its caller for one delivered event,
// carrying enough of the original coordinates to build a DLQ entry.
type Record struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
}

// Transport wraps a kgo.Client configured for transactional, exactly-once
// production: a transactional id, request retries, and per-record keys
// for partition affinity so records sharing a key stay ordered.
type Transport struct {
	client *kgo.Client
	log    zerolog.Logger
}

// Config configures the transport.
type Config struct {
	Brokers         []string
	TransactionalID string
	ConsumerGroup   string
	Topics          []string
}

// NewTransport constructs a Transport with a transactional producer and,
// when ConsumerGroup/Topics are set, a consumer group subscription.
func NewTransport(cfg Config, log zerolog.Logger) (*Transport, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("eventlog: no seed brokers provided")
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.TransactionalID(cfg.TransactionalID),
		kgo.RequestRetries(10),
		kgo.ProducerBatchMaxBytes(1_000_000),
	}
	if cfg.ConsumerGroup != "" {
		opts = append(opts,
			kgo.ConsumerGroup(cfg.ConsumerGroup),
			kgo.ConsumeTopics(cfg.Topics...),
			kgo.DisableAutoCommit(),
		)
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("eventlog: create client: %w", err)
	}

	return &Transport{
		client: client,
		log:    log.With().Str("component", "eventlog_transport").Logger(),
	}, nil
}

// Publish produces one record transactionally: begin, produce, commit (or
// abort on error), the same shape the pack's DLQ-publish path uses.
func (t *Transport) Publish(ctx context.Context, topic, key string, value []byte) error {
	if err := t.client.BeginTransaction(); err != nil {
		return fmt.Errorf("eventlog: begin transaction: %w", err)
	}

	record := &kgo.Record{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	}

	result := t.client.ProduceSync(ctx, record)
	if err := result.FirstErr(); err != nil {
		if abortErr := t.client.EndTransaction(ctx, kgo.TryAbort); abortErr != nil {
			t.log.Error().Err(abortErr).Str("topic", topic).Msg("failed to abort transaction after produce error")
		}
		return fmt.Errorf("eventlog: produce to %s: %w", topic, err)
	}

	if err := t.client.EndTransaction(ctx, kgo.TryCommit); err != nil {
		return fmt.Errorf("eventlog: commit transaction for %s: %w", topic, err)
	}

	return nil
}

// Poll fetches the next batch of records for the configured consumer
// group, blocking until records are available or ctx is cancelled.
func (t *Transport) Poll(ctx context.Context) ([]Record, error) {
	fetches := t.client.PollFetches(ctx)
	if fetches.IsClientClosed() {
		return nil, fmt.Errorf("eventlog: client closed")
	}

	var out []Record
	fetches.EachError(func(topic string, partition int32, err error) {
		t.log.Error().Err(err).Str("topic", topic).Int32("partition", partition).Msg("fetch error")
	})
	fetches.EachRecord(func(r *kgo.Record) {
		out = append(out, Record{
			Topic:     r.Topic,
			Partition: r.Partition,
			Offset:    r.Offset,
			Key:       r.Key,
			Value:     r.Value,
		})
	})
	return out, nil
}

// CommitOffsets commits consumer-group progress for every record polled so far,
// called only after a record's handler (including any DLQ fallback) has
// completed, preserving at-least-once delivery.
func (t *Transport) CommitOffsets(ctx context.Context) error {
	return t.client.CommitUncommittedOffsets(ctx)
}

// Close releases the underlying client.
func (t *Transport) Close() {
	t.client.Close()
}
