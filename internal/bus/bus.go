// Package bus provides the event buses that carry batch events.
package bus

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// New creates a new event bus based on configuration.
// For Community tier: returns ChannelBus.
// For Pro tier: returns NATSBus.
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

// subjectToken makes a tenant ID safe to use as one subject token.
// Reserved bytes are percent-encoded so distinct tenants never share a
// subject.
func subjectToken(tenantID string) string {
	if !strings.ContainsAny(tenantID, ".*> \t\r\n%") {
		return tenantID
	}
	var b strings.Builder
	for i := 0; i < len(tenantID); i++ {
		c := tenantID[i]
		switch c {
		case '.', '*', '>', ' ', '\t', '\r', '\n', '%':
			fmt.Fprintf(&b, "%%%02X", c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// subject is the per-tenant routing key of a topic.
func subject(tenantID, topic string) string {
	return topic + "." + subjectToken(tenantID)
}
