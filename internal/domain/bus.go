package domain

import "context"

// EventBus moves batch events between the API and the raters. Subjects are
// scoped by tenant; a publisher on one tenant never reaches another
// tenant's subscribers.
type EventBus interface {
	Publish(ctx context.Context, tenantID string, topic string, payload []byte) error

	// Subscribe delivers every message of the topic to handler.
	Subscribe(ctx context.Context, tenantID string, topic string, handler MessageHandler) (Subscription, error)

	// QueueSubscribe adds handler to a work group. Each message reaches one
	// member of the group.
	QueueSubscribe(ctx context.Context, tenantID string, topic string, group string, handler MessageHandler) (Subscription, error)

	Ping(ctx context.Context) error
	Close() error
}

// MessageHandler handles one delivered message. Errors are logged by the
// bus and do not cancel the subscription.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message is a delivered event.
type Message struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenantId"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"` // unix nanoseconds
}

// Subscription is a registered handler.
type Subscription interface {
	Unsubscribe() error
	Topic() string
}

// EventBusConfig selects and tunes the bus.
type EventBusConfig struct {
	// Type is "channel" or "nats".
	Type string

	// ChannelBufferSize is the per-subscriber queue of the channel bus.
	ChannelBufferSize int

	NATSUrl           string
	NATSToken         string
	NATSMaxReconnects int
	NATSReconnectWait int // seconds
}

// Batch pipeline topics.
const (
	TopicBatchSubmitted = "kestrel.batch.submitted"
	TopicBatchRated     = "kestrel.batch.rated"
	TopicBatchFailed    = "kestrel.batch.failed"
)
