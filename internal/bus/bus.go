package bus

import (
	"fmt"

	"github.com/opensource-finance/riskguard/internal/domain"
)

// New creates the event bus named by cfg.Type.
// "channel" stays in process; "nats" is shared between instances.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel", "":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}
