package stream

import "context"

// Message is a single record on a partitioned, ordered stream. The ref field
// carries the backend's commit handle and never leaves this package.
type Message struct {
	Key   string
	Value []byte

	ref any
}

// Consumer reads one topic as part of a consumer group. Fetch blocks until a
// record is available; offsets are committed explicitly, only after the
// record has been fully handled (at-least-once delivery).
type Consumer interface {
	Fetch(ctx context.Context) (Message, error)
	Commit(ctx context.Context, msgs ...Message) error
	Close() error
}

// Publisher appends records to one topic, partitioned by key. Records
// sharing a key are delivered in publish order to the same consumer.
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
	Close() error
}
