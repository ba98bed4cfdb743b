package bus

import (
	"fmt"

	"github.com/tablehouse/perks/internal/domain"
)

// defaultBufferSize sizes the channel bus for a dinner-rush burst of order
// completions without blocking the publisher.
const defaultBufferSize = 1000

// New creates a new event bus based on configuration.
// Community tier runs on ChannelBus; Pro tier on NATSBus. An empty type
// falls back to the in-process bus, so a bare config still boots.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel", "":
		size := cfg.ChannelBufferSize
		if size <= 0 {
			size = defaultBufferSize
		}
		return NewChannelBus(size), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}
