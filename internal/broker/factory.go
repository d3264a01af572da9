package broker

import (
	"fmt"

	"driveingest/internal/config"
	"driveingest/internal/ingest"
)

// NewPublisherFromConfig creates the publisher for the sync topic.
// mem is used when the broker type is "memory".
func NewPublisherFromConfig(cfg config.BrokerConfig, mem *MemoryBroker) (ingest.EventPublisher, error) {
	switch cfg.Type {
	case "kafka":
		p, err := NewKafkaPublisher(cfg.Brokers, cfg.SyncTopic)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "memory":
		return mem.Publisher(cfg.SyncTopic), nil
	default:
		return nil, fmt.Errorf("unknown broker type: %s", cfg.Type)
	}
}

// NewSourceFromConfig creates the consumer for the analysis topic.
func NewSourceFromConfig(cfg config.BrokerConfig, mem *MemoryBroker) (ingest.MessageSource, error) {
	switch cfg.Type {
	case "kafka":
		s, err := NewKafkaSource(cfg.Brokers, cfg.AnalysisTopic, cfg.GroupID)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "memory":
		return mem.Source(cfg.AnalysisTopic, cfg.GroupID), nil
	default:
		return nil, fmt.Errorf("unknown broker type: %s", cfg.Type)
	}
}
