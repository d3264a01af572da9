package testutil

import (
	"context"
	"sync"
)

// PublishedEvent is one call recorded by RecordingPublisher.
type PublishedEvent struct {
	Key   string
	Value []byte
}

// RecordingPublisher records published events and can be told to fail.
type RecordingPublisher struct {
	mu     sync.Mutex
	events []PublishedEvent
	err    error
}

func NewRecordingPublisher() *RecordingPublisher {
	return &RecordingPublisher{}
}

// FailWith makes every later Publish return err. Pass nil to recover.
func (p *RecordingPublisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *RecordingPublisher) Publish(ctx context.Context, key string, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, PublishedEvent{Key: key, Value: append([]byte(nil), value...)})
	return nil
}

// Events returns a copy of everything published so far.
func (p *RecordingPublisher) Events() []PublishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PublishedEvent(nil), p.events...)
}

func (p *RecordingPublisher) Close() error { return nil }
