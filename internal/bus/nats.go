package bus

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Headers carried by every NATS message. The payload travels unwrapped.
const (
	headerTenant    = "Kestrel-Tenant"
	headerTimestamp = "Kestrel-Timestamp"
)

// NATSBus is the Pro tier bus. Queue groups let several rater replicas
// share the submitted batches.
type NATSBus struct {
	mu   sync.Mutex
	conn *nats.Conn
	subs map[string]*natsSubscription
}

type natsSubscription struct {
	bus   *NATSBus
	id    string
	topic string
	sub   *nats.Subscription
}

// NewNATSBus connects to cfg.NATSUrl, retrying up to NATSMaxReconnects
// times.
func NewNATSBus(cfg domain.EventBusConfig) (*NATSBus, error) {
	if cfg.NATSUrl == "" {
		cfg.NATSUrl = nats.DefaultURL
	}
	if cfg.NATSMaxReconnects == 0 {
		cfg.NATSMaxReconnects = 10
	}
	if cfg.NATSReconnectWait == 0 {
		cfg.NATSReconnectWait = 5
	}
	wait := time.Duration(cfg.NATSReconnectWait) * time.Second

	opts := []nats.Option{
		nats.Name("kestrel"),
		nats.MaxReconnects(cfg.NATSMaxReconnects),
		nats.ReconnectWait(wait),
		nats.ReconnectBufSize(8 * 1024 * 1024),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			slog.Warn("NATS disconnected", "error", err, "will_reconnect", !nc.IsClosed())
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			subj := ""
			if sub != nil {
				subj = sub.Subject
			}
			slog.Error("NATS error", "error", err, "subject", subj)
		}),
	}
	if cfg.NATSToken != "" {
		opts = append(opts, nats.Token(cfg.NATSToken))
	}

	var conn *nats.Conn
	var err error
	for attempt := 1; attempt <= cfg.NATSMaxReconnects; attempt++ {
		conn, err = nats.Connect(cfg.NATSUrl, opts...)
		if err == nil {
			break
		}
		slog.Warn("NATS connection attempt failed",
			"attempt", attempt,
			"max_attempts", cfg.NATSMaxReconnects,
			"error", err,
		)
		if attempt < cfg.NATSMaxReconnects {
			time.Sleep(wait)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS after %d attempts: %w", cfg.NATSMaxReconnects, err)
	}

	slog.Info("NATS connected", "url", conn.ConnectedUrl(), "server_id", conn.ConnectedServerId())
	return &NATSBus{conn: conn, subs: make(map[string]*natsSubscription)}, nil
}

// Publish sends payload on the tenant's subject for topic.
func (b *NATSBus) Publish(ctx context.Context, tenantID string, topic string, payload []byte) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	m := nats.NewMsg(subject(tenantID, topic))
	m.Data = payload
	m.Header.Set(headerTenant, tenantID)
	m.Header.Set(nats.MsgIdHdr, uuid.New().String())
	m.Header.Set(headerTimestamp, strconv.FormatInt(time.Now().UnixNano(), 10))

	if err := b.conn.PublishMsg(m); err != nil {
		return fmt.Errorf("failed to publish on %s: %w", m.Subject, err)
	}
	return nil
}

// Subscribe receives every message of the tenant's topic.
func (b *NATSBus) Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	return b.subscribe(ctx, tenantID, topic, "", handler)
}

// QueueSubscribe joins a NATS queue group, so each message reaches one
// member of group.
func (b *NATSBus) QueueSubscribe(ctx context.Context, tenantID string, topic string, group string, handler domain.MessageHandler) (domain.Subscription, error) {
	if group == "" {
		return nil, fmt.Errorf("queue group is required")
	}
	return b.subscribe(ctx, tenantID, topic, group, handler)
}

func (b *NATSBus) subscribe(ctx context.Context, tenantID, topic, group string, handler domain.MessageHandler) (domain.Subscription, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	subj := subject(tenantID, topic)
	cb := func(m *nats.Msg) {
		msg := decodeMsg(m, tenantID, topic)
		if err := handler(ctx, msg); err != nil {
			slog.Error("handler error",
				"subject", m.Subject,
				"message_id", msg.ID,
				"error", err,
			)
		}
	}

	var ns *nats.Subscription
	var err error
	if group == "" {
		ns, err = b.conn.Subscribe(subj, cb)
	} else {
		ns, err = b.conn.QueueSubscribe(subj, group, cb)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subj, err)
	}

	sub := &natsSubscription{bus: b, id: uuid.New().String(), topic: topic, sub: ns}
	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()
	return sub, nil
}

func decodeMsg(m *nats.Msg, tenantID, topic string) *domain.Message {
	msg := &domain.Message{
		ID:       m.Header.Get(nats.MsgIdHdr),
		TenantID: tenantID,
		Topic:    topic,
		Payload:  m.Data,
		Metadata: map[string]string{"subject": m.Subject},
	}
	if t := m.Header.Get(headerTenant); t != "" {
		msg.TenantID = t
	}
	if ts, err := strconv.ParseInt(m.Header.Get(headerTimestamp), 10, 64); err == nil {
		msg.Timestamp = ts
	}
	return msg
}

// Ping flushes the connection.
func (b *NATSBus) Ping(ctx context.Context) error {
	if !b.conn.IsConnected() {
		return fmt.Errorf("NATS not connected")
	}
	return b.conn.FlushWithContext(ctx)
}

// Close unsubscribes everything and closes the connection.
func (b *NATSBus) Close() error {
	b.mu.Lock()
	for id, sub := range b.subs {
		_ = sub.sub.Unsubscribe()
		delete(b.subs, id)
	}
	b.mu.Unlock()

	b.conn.Close()
	return nil
}

// Stats returns NATS connection statistics.
func (b *NATSBus) Stats() nats.Statistics {
	return b.conn.Stats()
}

// Unsubscribe removes the subscription.
func (s *natsSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	delete(s.bus.subs, s.id)
	s.bus.mu.Unlock()
	return s.sub.Unsubscribe()
}

// Topic returns the subscribed topic.
func (s *natsSubscription) Topic() string {
	return s.topic
}
