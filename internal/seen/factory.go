package seen

import (
	"fmt"

	"driveingest/internal/config"
	"driveingest/internal/ingest"
)

// NewSeenStoreFromConfig creates a SeenStore based on the tracker config.
func NewSeenStoreFromConfig(cfg config.TrackerConfig) (ingest.SeenStore, error) {
	switch cfg.SeenStore {
	case "memory", "":
		return NewMemoryStore(cfg.SeenCapacity), nil
	case "bolt":
		if cfg.SeenPath == "" {
			return nil, fmt.Errorf("seen_path required for bolt seen store")
		}
		s, err := NewBoltStore(cfg.SeenPath, cfg.SeenCapacity)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown seen store: %s", cfg.SeenStore)
	}
}
