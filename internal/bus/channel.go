package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("bus is closed")

// ChannelBus is the in-process bus of the Community tier. Each subscriber
// owns a buffered channel. A full buffer drops the message for that
// subscriber only.
type ChannelBus struct {
	mu         sync.RWMutex
	bufferSize int
	subs       map[string][]*channelSubscription
	cursor     map[string]*atomic.Uint64
	closed     bool

	published atomic.Int64
	delivered atomic.Int64
	dropped   atomic.Int64
}

// ChannelStats counts messages seen by a ChannelBus.
type ChannelStats struct {
	Published int64 `json:"published"`
	Delivered int64 `json:"delivered"`
	Dropped   int64 `json:"dropped"`
}

type channelSubscription struct {
	bus     *ChannelBus
	id      string
	subject string
	topic   string
	group   string
	handler domain.MessageHandler
	msgCh   chan *domain.Message
	ctx     context.Context
	cancel  context.CancelFunc
	once    sync.Once
}

// NewChannelBus creates a channel bus. A non-positive size defaults to 1000.
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &ChannelBus{
		bufferSize: bufferSize,
		subs:       make(map[string][]*channelSubscription),
		cursor:     make(map[string]*atomic.Uint64),
	}
}

// Publish delivers payload to every plain subscriber of the tenant's topic
// and to one member of each queue group.
func (b *ChannelBus) Publish(ctx context.Context, tenantID string, topic string, payload []byte) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	msg := &domain.Message{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Topic:     topic,
		Payload:   payload,
		Metadata:  map[string]string{},
		Timestamp: time.Now().UnixNano(),
	}
	key := subject(tenantID, topic)

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	b.published.Add(1)

	groups := make(map[string][]*channelSubscription)
	for _, sub := range b.subs[key] {
		if sub.group == "" {
			b.offer(sub, msg)
			continue
		}
		groups[sub.group] = append(groups[sub.group], sub)
	}
	for group, members := range groups {
		n := b.cursor[key+"|"+group].Add(1)
		b.offer(members[int((n-1)%uint64(len(members)))], msg)
	}
	return nil
}

func (b *ChannelBus) offer(sub *channelSubscription, msg *domain.Message) {
	select {
	case sub.msgCh <- msg:
		b.delivered.Add(1)
	default:
		b.dropped.Add(1)
		slog.Warn("subscriber buffer full, message dropped",
			"subject", sub.subject,
			"message_id", msg.ID,
		)
	}
}

// Subscribe registers a handler that receives every message of the topic.
func (b *ChannelBus) Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	return b.subscribe(ctx, tenantID, topic, "", handler)
}

// QueueSubscribe registers a handler in group. Members of one group share
// the topic's messages round-robin.
func (b *ChannelBus) QueueSubscribe(ctx context.Context, tenantID string, topic string, group string, handler domain.MessageHandler) (domain.Subscription, error) {
	if group == "" {
		return nil, fmt.Errorf("queue group is required")
	}
	return b.subscribe(ctx, tenantID, topic, group, handler)
}

func (b *ChannelBus) subscribe(ctx context.Context, tenantID, topic, group string, handler domain.MessageHandler) (domain.Subscription, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &channelSubscription{
		bus:     b,
		id:      uuid.New().String(),
		subject: subject(tenantID, topic),
		topic:   topic,
		group:   group,
		handler: handler,
		msgCh:   make(chan *domain.Message, b.bufferSize),
		ctx:     subCtx,
		cancel:  cancel,
	}
	b.subs[sub.subject] = append(b.subs[sub.subject], sub)
	if group != "" {
		if _, ok := b.cursor[sub.subject+"|"+group]; !ok {
			b.cursor[sub.subject+"|"+group] = new(atomic.Uint64)
		}
	}

	go sub.run()
	return sub, nil
}

func (s *channelSubscription) run() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.msgCh:
			if err := s.handler(s.ctx, msg); err != nil {
				slog.Error("handler error",
					"subject", s.subject,
					"message_id", msg.ID,
					"error", err,
				)
			}
		}
	}
}

func (b *ChannelBus) remove(sub *channelSubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[sub.subject]
	for i, s := range subs {
		if s == sub {
			subs = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(b.subs, sub.subject)
		return
	}
	b.subs[sub.subject] = subs
}

// Stats returns the message counters.
func (b *ChannelBus) Stats() ChannelStats {
	return ChannelStats{
		Published: b.published.Load(),
		Delivered: b.delivered.Load(),
		Dropped:   b.dropped.Load(),
	}
}

// Ping fails once the bus is closed.
func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// Close stops every subscription. Buffered messages are discarded.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	for _, subs := range b.subs {
		for _, sub := range subs {
			sub.cancel()
		}
	}
	b.subs = make(map[string][]*channelSubscription)
	return nil
}

// Unsubscribe stops the handler and detaches it from the bus.
func (s *channelSubscription) Unsubscribe() error {
	s.once.Do(func() {
		s.cancel()
		s.bus.remove(s)
	})
	return nil
}

// Topic returns the subscribed topic.
func (s *channelSubscription) Topic() string {
	return s.topic
}
