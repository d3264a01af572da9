package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"driveingest/internal/ingest"
)

// MemoryBroker is an in-process log of topics with per-group committed
// offsets. Sources opened on the same group resume from the last commit,
// like a consumer restart against a real broker.
type MemoryBroker struct {
	mu        sync.Mutex
	topics    map[string][]record
	committed map[string]int64 // topic + "/" + group -> next offset
	changed   chan struct{}
}

type record struct {
	key   []byte
	value []byte
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		topics:    make(map[string][]record),
		committed: make(map[string]int64),
		changed:   make(chan struct{}),
	}
}

// Messages returns the values published to topic so far.
func (b *MemoryBroker) Messages(topic string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([][]byte, len(b.topics[topic]))
	for i, r := range b.topics[topic] {
		out[i] = r.value
	}
	return out
}

// Committed returns the next offset group will read from topic.
func (b *MemoryBroker) Committed(topic, group string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.committed[topic+"/"+group]
}

func (b *MemoryBroker) append(topic string, key, value []byte) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topics[topic] = append(b.topics[topic], record{key: key, value: value})
	close(b.changed)
	b.changed = make(chan struct{})
	return int64(len(b.topics[topic]) - 1)
}

// Publisher returns an EventPublisher writing to topic.
func (b *MemoryBroker) Publisher(topic string) *MemoryPublisher {
	return &MemoryPublisher{broker: b, topic: topic}
}

// Source returns a MessageSource reading topic as group.
func (b *MemoryBroker) Source(topic, group string) *MemorySource {
	b.mu.Lock()
	defer b.mu.Unlock()
	return &MemorySource{broker: b, topic: topic, group: group, next: b.committed[topic+"/"+group]}
}

// MemoryPublisher implements ingest.EventPublisher on a MemoryBroker.
type MemoryPublisher struct {
	broker *MemoryBroker
	topic  string
}

var _ ingest.EventPublisher = (*MemoryPublisher)(nil)

func (p *MemoryPublisher) Publish(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.broker.append(p.topic, []byte(key), append([]byte(nil), value...))
	return nil
}

func (p *MemoryPublisher) Close() error { return nil }

// MemorySource implements ingest.MessageSource on a MemoryBroker.
type MemorySource struct {
	broker *MemoryBroker
	topic  string
	group  string

	mu     sync.Mutex
	next   int64
	closed bool
}

var _ ingest.MessageSource = (*MemorySource)(nil)

var errSourceClosed = errors.New("source closed")

func (s *MemorySource) Fetch(ctx context.Context) (*ingest.Message, error) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, errSourceClosed
		}
		offset := s.next
		s.mu.Unlock()

		s.broker.mu.Lock()
		records := s.broker.topics[s.topic]
		wait := s.broker.changed
		s.broker.mu.Unlock()

		if offset < int64(len(records)) {
			r := records[offset]
			s.mu.Lock()
			s.next = offset + 1
			s.mu.Unlock()
			return &ingest.Message{
				Topic:  s.topic,
				Offset: offset,
				Key:    r.key,
				Value:  r.value,
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wait:
		}
	}
}

func (s *MemorySource) Commit(ctx context.Context, msg *ingest.Message) error {
	if msg.Topic != s.topic {
		return fmt.Errorf("message from %s committed on %s source", msg.Topic, s.topic)
	}
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()
	key := s.topic + "/" + s.group
	if msg.Offset+1 > s.broker.committed[key] {
		s.broker.committed[key] = msg.Offset + 1
	}
	return nil
}

func (s *MemorySource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
