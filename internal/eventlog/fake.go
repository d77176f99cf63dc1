package eventlog

import (
	"context"
	"sync"
)

// FakeLog is an in-memory Publisher plus a simple per-topic queue,
// standing in for a live broker in worker unit tests rather than a real
// Kafka-API cluster: a mutex-guarded slice of published records,
// inspectable by tests instead of logged.
type FakeLog struct {
	mu      sync.Mutex
	byTopic map[string][]Record
	offset  map[string]int64
	closed  bool
	inbox   []Record
	commits int
}

// NewFakeLog constructs an empty fake event log.
func NewFakeLog() *FakeLog {
	return &FakeLog{
		byTopic: make(map[string][]Record),
		offset:  make(map[string]int64),
	}
}

// Enqueue seeds a record for a subsequent Poll to return, letting a test
// drive the worker.Harness loop without a live broker.
func (f *FakeLog) Enqueue(rec Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inbox = append(f.inbox, rec)
}

// Poll drains and returns every currently queued record, matching
// Transport.Poll's batch-return shape.
func (f *FakeLog) Poll(_ context.Context) ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.inbox
	f.inbox = nil
	return out, nil
}

// CommitOffsets just counts calls; tests assert on Commits to verify the
// harness only commits after every record in a batch reaches a terminal
// outcome.
func (f *FakeLog) CommitOffsets(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits++
	return nil
}

// Commits returns how many times CommitOffsets has been called.
func (f *FakeLog) Commits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.commits
}

// Publish appends the record to its topic's queue.
func (f *FakeLog) Publish(_ context.Context, topic, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	off := f.offset[topic]
	f.byTopic[topic] = append(f.byTopic[topic], Record{
		Topic:     topic,
		Partition: 0,
		Offset:    off,
		Key:       []byte(key),
		Value:     value,
	})
	f.offset[topic] = off + 1
	return nil
}

// Close marks the fake closed; subsequent use by a test is a programming
// error it does not attempt to detect beyond this flag.
func (f *FakeLog) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

// Records returns every record published to topic, in publish order.
func (f *FakeLog) Records(topic string) []Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Record, len(f.byTopic[topic]))
	copy(out, f.byTopic[topic])
	return out
}

// Count returns the number of records published to topic.
func (f *FakeLog) Count(topic string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.byTopic[topic])
}
