package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"driveingest/internal/ingest"
)

// KafkaPublisher writes events to one topic.
type KafkaPublisher struct {
	w *kafka.Writer
}

var _ ingest.EventPublisher = (*KafkaPublisher)(nil)

// NewKafkaPublisher creates a publisher for topic. Writes are synchronous and
// wait for all in-sync replicas.
func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("at least one broker address required")
	}
	if topic == "" {
		return nil, fmt.Errorf("topic required for publisher")
	}
	return &KafkaPublisher{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.LeastBytes{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
			WriteTimeout:           10 * time.Second,
		},
	}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, key string, value []byte) error {
	err := p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("writing to %s: %w", p.w.Topic, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}

// KafkaSource reads one topic as a member of a consumer group. Offsets are
// committed explicitly; a new group starts from the earliest offset.
type KafkaSource struct {
	r *kafka.Reader
}

var _ ingest.MessageSource = (*KafkaSource)(nil)

func NewKafkaSource(brokers []string, topic, groupID string) (*KafkaSource, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("at least one broker address required")
	}
	if topic == "" || groupID == "" {
		return nil, fmt.Errorf("topic and group_id required for consumer")
	}
	return &KafkaSource{
		r: kafka.NewReader(kafka.ReaderConfig{
			Brokers:        brokers,
			GroupID:        groupID,
			Topic:          topic,
			StartOffset:    kafka.FirstOffset,
			CommitInterval: 0,
			MaxWait:        time.Second,
		}),
	}, nil
}

func (s *KafkaSource) Fetch(ctx context.Context) (*ingest.Message, error) {
	m, err := s.r.FetchMessage(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching message: %w", err)
	}
	return &ingest.Message{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Key:       m.Key,
		Value:     m.Value,
		Raw:       m,
	}, nil
}

func (s *KafkaSource) Commit(ctx context.Context, msg *ingest.Message) error {
	m, ok := msg.Raw.(kafka.Message)
	if !ok {
		return errors.New("message was not fetched from kafka")
	}
	if err := s.r.CommitMessages(ctx, m); err != nil {
		return fmt.Errorf("committing offset %d: %w", m.Offset, err)
	}
	return nil
}

func (s *KafkaSource) Close() error {
	return s.r.Close()
}
