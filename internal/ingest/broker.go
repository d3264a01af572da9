package ingest

import "context"

// EventPublisher sends events to the outbound sync topic.
type EventPublisher interface {
	Publish(ctx context.Context, key string, value []byte) error
	Close() error
}

// Message is one record fetched from a MessageSource.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte

	// Raw carries the transport's own message for Commit.
	Raw any
}

// MessageSource delivers messages from a durable consumer group.
// Fetch blocks until a message is available or ctx is done. A message that
// is never committed is delivered again after a restart.
type MessageSource interface {
	Fetch(ctx context.Context) (*Message, error)
	Commit(ctx context.Context, msg *Message) error
	Close() error
}
