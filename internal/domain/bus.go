package domain

import (
	"context"
	"time"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (single process) or NATS (distributed).
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string `yaml:"type"`

	// Channel settings
	ChannelBufferSize int `yaml:"channelBufferSize"`

	// NATS settings
	NATSUrl           string        `yaml:"natsUrl"`
	NATSToken         string        `yaml:"natsToken"`
	NATSMaxReconnects int           `yaml:"natsMaxReconnects"`
	NATSReconnectWait time.Duration `yaml:"natsReconnectWait"`
	SubjectPrefix     string        `yaml:"subjectPrefix"`
}

// Topic names.
const (
	TopicOutcome = "riskguard.outcome"
)

// OutcomeEvent is published for every non-allow outcome.
type OutcomeEvent struct {
	Outcome    *ChallengeOutcome `json:"outcome"`
	Decision   Decision          `json:"decision"`
	Score      int               `json:"score"`
	Reason     string            `json:"reason"`
	HardRule   string            `json:"hardRule,omitempty"`
	Action     string            `json:"action"`
	UserID     string            `json:"userId,omitempty"`
	IP         string            `json:"ip,omitempty"`
	OccurredAt time.Time         `json:"occurredAt"`
}
