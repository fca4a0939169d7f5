package bus

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timeout waiting for condition")
}

func TestChannelBus(t *testing.T) {
	ctx := context.Background()

	t.Run("PublishAndSubscribe", func(t *testing.T) {
		b := NewChannelBus(10)
		defer b.Close()

		got := make(chan *domain.Message, 1)
		_, err := b.Subscribe(ctx, "acme", domain.TopicBatchSubmitted, func(ctx context.Context, msg *domain.Message) error {
			got <- msg
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}

		if err := b.Publish(ctx, "acme", domain.TopicBatchSubmitted, []byte(`{"batchId":"b1"}`)); err != nil {
			t.Fatalf("publish failed: %v", err)
		}

		select {
		case msg := <-got:
			if string(msg.Payload) != `{"batchId":"b1"}` {
				t.Errorf("unexpected payload %q", msg.Payload)
			}
			if msg.TenantID != "acme" || msg.Topic != domain.TopicBatchSubmitted {
				t.Errorf("unexpected routing: tenant=%s topic=%s", msg.TenantID, msg.Topic)
			}
			if msg.ID == "" || msg.Timestamp == 0 {
				t.Error("message id and timestamp must be set")
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for message")
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		b := NewChannelBus(10)
		defer b.Close()

		var acme, globex atomic.Int32
		b.Subscribe(ctx, "acme", domain.TopicBatchRated, func(ctx context.Context, msg *domain.Message) error {
			acme.Add(1)
			return nil
		})
		b.Subscribe(ctx, "globex", domain.TopicBatchRated, func(ctx context.Context, msg *domain.Message) error {
			globex.Add(1)
			return nil
		})

		b.Publish(ctx, "acme", domain.TopicBatchRated, []byte("x"))
		waitFor(t, func() bool { return acme.Load() == 1 })

		time.Sleep(20 * time.Millisecond)
		if globex.Load() != 0 {
			t.Errorf("globex received %d messages meant for acme", globex.Load())
		}
	})

	t.Run("EscapedTenantsDoNotCollide", func(t *testing.T) {
		b := NewChannelBus(10)
		defer b.Close()

		var dotted atomic.Int32
		b.Subscribe(ctx, "a.b", domain.TopicBatchRated, func(ctx context.Context, msg *domain.Message) error {
			dotted.Add(1)
			return nil
		})

		b.Publish(ctx, "a_b", domain.TopicBatchRated, []byte("x"))
		b.Publish(ctx, "a%2Eb", domain.TopicBatchRated, []byte("x"))
		time.Sleep(20 * time.Millisecond)
		if dotted.Load() != 0 {
			t.Errorf("tenant a.b received %d foreign messages", dotted.Load())
		}
	})

	t.Run("RequiresTenant", func(t *testing.T) {
		b := NewChannelBus(10)
		defer b.Close()

		if err := b.Publish(ctx, "", "topic", nil); err == nil {
			t.Error("expected error for empty tenant on publish")
		}
		if _, err := b.Subscribe(ctx, "", "topic", nil); err == nil {
			t.Error("expected error for empty tenant on subscribe")
		}
		if _, err := b.QueueSubscribe(ctx, "acme", "topic", "", nil); err == nil {
			t.Error("expected error for empty queue group")
		}
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		b := NewChannelBus(10)
		defer b.Close()

		var count atomic.Int32
		sub, _ := b.Subscribe(ctx, "acme", domain.TopicBatchFailed, func(ctx context.Context, msg *domain.Message) error {
			count.Add(1)
			return nil
		})
		if sub.Topic() != domain.TopicBatchFailed {
			t.Errorf("expected topic %s, got %s", domain.TopicBatchFailed, sub.Topic())
		}

		b.Publish(ctx, "acme", domain.TopicBatchFailed, nil)
		waitFor(t, func() bool { return count.Load() == 1 })

		if err := sub.Unsubscribe(); err != nil {
			t.Fatalf("unsubscribe failed: %v", err)
		}
		if err := sub.Unsubscribe(); err != nil {
			t.Fatalf("second unsubscribe failed: %v", err)
		}

		b.Publish(ctx, "acme", domain.TopicBatchFailed, nil)
		time.Sleep(20 * time.Millisecond)
		if count.Load() != 1 {
			t.Errorf("expected 1 message after unsubscribe, got %d", count.Load())
		}
		if stats := b.Stats(); stats.Delivered != 1 {
			t.Errorf("expected 1 delivery, got %d", stats.Delivered)
		}
	})

	t.Run("BroadcastToSubscribers", func(t *testing.T) {
		b := NewChannelBus(10)
		defer b.Close()

		var count atomic.Int32
		for range 3 {
			b.Subscribe(ctx, "acme", domain.TopicBatchRated, func(ctx context.Context, msg *domain.Message) error {
				count.Add(1)
				return nil
			})
		}

		b.Publish(ctx, "acme", domain.TopicBatchRated, nil)
		waitFor(t, func() bool { return count.Load() == 3 })
	})

	t.Run("QueueGroupDeliversOnce", func(t *testing.T) {
		b := NewChannelBus(10)
		defer b.Close()

		var first, second, observer atomic.Int32
		b.QueueSubscribe(ctx, "acme", domain.TopicBatchSubmitted, "raters", func(ctx context.Context, msg *domain.Message) error {
			first.Add(1)
			return nil
		})
		b.QueueSubscribe(ctx, "acme", domain.TopicBatchSubmitted, "raters", func(ctx context.Context, msg *domain.Message) error {
			second.Add(1)
			return nil
		})
		b.Subscribe(ctx, "acme", domain.TopicBatchSubmitted, func(ctx context.Context, msg *domain.Message) error {
			observer.Add(1)
			return nil
		})

		for range 4 {
			b.Publish(ctx, "acme", domain.TopicBatchSubmitted, nil)
		}
		waitFor(t, func() bool { return first.Load()+second.Load() == 4 && observer.Load() == 4 })

		if first.Load() != 2 || second.Load() != 2 {
			t.Errorf("expected round-robin 2/2, got %d/%d", first.Load(), second.Load())
		}
	})

	t.Run("FullBufferDrops", func(t *testing.T) {
		b := NewChannelBus(1)
		defer b.Close()

		release := make(chan struct{})
		b.Subscribe(ctx, "acme", domain.TopicBatchSubmitted, func(ctx context.Context, msg *domain.Message) error {
			<-release
			return nil
		})

		for range 5 {
			b.Publish(ctx, "acme", domain.TopicBatchSubmitted, nil)
		}
		close(release)

		stats := b.Stats()
		if stats.Published != 5 {
			t.Errorf("expected 5 published, got %d", stats.Published)
		}
		if stats.Dropped == 0 {
			t.Error("expected drops with a one-slot buffer")
		}
		if stats.Delivered+stats.Dropped != 5 {
			t.Errorf("delivered %d + dropped %d != 5", stats.Delivered, stats.Dropped)
		}
	})

	t.Run("HandlerErrorKeepsSubscription", func(t *testing.T) {
		b := NewChannelBus(10)
		defer b.Close()

		var calls atomic.Int32
		b.Subscribe(ctx, "acme", domain.TopicBatchSubmitted, func(ctx context.Context, msg *domain.Message) error {
			calls.Add(1)
			return errors.New("boom")
		})

		b.Publish(ctx, "acme", domain.TopicBatchSubmitted, nil)
		b.Publish(ctx, "acme", domain.TopicBatchSubmitted, nil)
		waitFor(t, func() bool { return calls.Load() == 2 })
	})

	t.Run("Closed", func(t *testing.T) {
		b := NewChannelBus(10)
		if err := b.Ping(ctx); err != nil {
			t.Fatalf("ping failed: %v", err)
		}

		b.Close()
		b.Close()

		if err := b.Ping(ctx); !errors.Is(err, ErrClosed) {
			t.Errorf("expected ErrClosed from ping, got %v", err)
		}
		if err := b.Publish(ctx, "acme", "topic", nil); !errors.Is(err, ErrClosed) {
			t.Errorf("expected ErrClosed from publish, got %v", err)
		}
		if _, err := b.Subscribe(ctx, "acme", "topic", nil); !errors.Is(err, ErrClosed) {
			t.Errorf("expected ErrClosed from subscribe, got %v", err)
		}
	})
}

func TestSubject(t *testing.T) {
	tests := []struct {
		tenant string
		want   string
	}{
		{"acme", "kestrel.batch.rated.acme"},
		{"_global", "kestrel.batch.rated._global"},
		{"a.b", "kestrel.batch.rated.a%2Eb"},
		{"a%2Eb", "kestrel.batch.rated.a%252Eb"},
		{"x *>", "kestrel.batch.rated.x%20%2A%3E"},
	}
	for _, tt := range tests {
		if got := subject(tt.tenant, domain.TopicBatchRated); got != tt.want {
			t.Errorf("subject(%q) = %q, want %q", tt.tenant, got, tt.want)
		}
	}
}

func TestNew(t *testing.T) {
	b, err := New(domain.EventBusConfig{Type: "channel"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer b.Close()
	if _, ok := b.(*ChannelBus); !ok {
		t.Errorf("expected *ChannelBus, got %T", b)
	}

	if _, err := New(domain.EventBusConfig{Type: "kafka"}); err == nil {
		t.Error("expected error for unsupported bus type")
	}
}
