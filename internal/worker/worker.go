// Package worker rates submitted batches asynchronously from the EventBus.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

// GlobalTenant is the pseudo-tenant the global worker listens on.
const GlobalTenant = "_global"

// RaterGroup is the queue group shared by rating workers, so each submitted
// batch is rated by one replica.
const RaterGroup = "kestrel-raters"

// Worker consumes batch submissions and rates them.
type Worker struct {
	bus    domain.EventBus
	scorer *scoring.Scorer

	mu            sync.RWMutex
	global        bool
	tenants       map[string]bool
	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process (empty = one global subscription)
	TenantIDs []string
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, scorer *scoring.Scorer) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:     bus,
		scorer:  scorer,
		tenants: make(map[string]bool),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start begins processing messages for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		return w.startGlobalWorker()
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
	)

	return nil
}

// startGlobalWorker starts a worker that processes all tenants.
// Messages carry their tenant in the payload.
func (w *Worker) startGlobalWorker() error {
	sub, err := w.bus.QueueSubscribe(w.ctx, GlobalTenant, domain.TopicBatchSubmitted, RaterGroup, w.handleMessage)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.global = true
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	slog.Info("global worker started")
	return nil
}

// startTenantWorker subscribes to submissions of one tenant.
func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.QueueSubscribe(w.ctx, tenantID, domain.TopicBatchSubmitted, RaterGroup, func(ctx context.Context, msg *domain.Message) error {
		return w.processBatch(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.tenants[tenantID] = true
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicBatchSubmitted,
	)

	return nil
}

// handleMessage handles messages from the global subscription.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	return w.processBatch(ctx, "", msg)
}

// BatchMessage is the payload of batch submission events.
type BatchMessage struct {
	BatchID  string `json:"batchId"`
	TenantID string `json:"tenantId"`
	TraceID  string `json:"traceId,omitempty"`
}

// ResultMessage is published once a batch is rated or fails.
type ResultMessage struct {
	BatchID    string              `json:"batchId"`
	TenantID   string              `json:"tenantId"`
	TraceID    string              `json:"traceId,omitempty"`
	Status     string              `json:"status"`
	RatedCount int                 `json:"ratedCount"`
	Summary    domain.BatchSummary `json:"summary"`
	Error      string              `json:"error,omitempty"`
}

// Enqueue publishes a submission for a stored pending batch on the
// subject this worker listens to.
func (w *Worker) Enqueue(ctx context.Context, tenantID, batchID, traceID string) error {
	w.mu.RLock()
	global, served := w.global, w.tenants[tenantID]
	w.mu.RUnlock()

	subject := tenantID
	switch {
	case served:
	case global:
		subject = GlobalTenant
	default:
		return fmt.Errorf("no worker for tenant %s", tenantID)
	}

	payload, err := json.Marshal(BatchMessage{BatchID: batchID, TenantID: tenantID, TraceID: traceID})
	if err != nil {
		return err
	}
	return w.bus.Publish(ctx, subject, domain.TopicBatchSubmitted, payload)
}

// processBatch rates one submitted batch and publishes the outcome.
func (w *Worker) processBatch(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	w.wg.Add(1)
	defer w.wg.Done()

	var batchMsg BatchMessage
	if err := json.Unmarshal(msg.Payload, &batchMsg); err != nil {
		slog.Error("failed to parse batch message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	// The payload names the tenant on the global subject. A tenant subject
	// only carries its own batches.
	switch {
	case tenantID == "":
		tenantID = batchMsg.TenantID
	case batchMsg.TenantID != "" && batchMsg.TenantID != tenantID:
		err := fmt.Errorf("batch message %s for tenant %s on subject of %s", msg.ID, batchMsg.TenantID, tenantID)
		slog.Error("invalid batch message", "error", err)
		return err
	}
	if tenantID == "" || batchMsg.BatchID == "" {
		err := fmt.Errorf("batch message %s without tenant or batch id", msg.ID)
		slog.Error("invalid batch message", "error", err)
		return err
	}

	traceID := batchMsg.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	slog.Debug("processing batch",
		"batch_id", batchMsg.BatchID,
		"tenant_id", tenantID,
		"trace_id", traceID,
	)

	result := ResultMessage{
		BatchID:  batchMsg.BatchID,
		TenantID: tenantID,
		TraceID:  traceID,
		Status:   domain.BatchFailed,
	}

	b, err := w.scorer.RatePending(ctx, tenantID, batchMsg.BatchID)
	if b != nil {
		result.Status = b.Status
		result.RatedCount = b.RatedCount
		result.Summary = b.Summary
		result.Error = b.Error
	}
	if err != nil && result.Error == "" {
		result.Error = err.Error()
	}

	topic := domain.TopicBatchRated
	if err != nil || result.Status != domain.BatchRated {
		topic = domain.TopicBatchFailed
		slog.Error("batch rating failed",
			"batch_id", batchMsg.BatchID,
			"tenant_id", tenantID,
			"error", result.Error,
		)
	}

	resultPayload, _ := json.Marshal(result)
	if pubErr := w.bus.Publish(ctx, tenantID, topic, resultPayload); pubErr != nil {
		slog.Error("failed to publish batch result",
			"batch_id", batchMsg.BatchID,
			"topic", topic,
			"error", pubErr,
		)
	}

	slog.Info("batch processed",
		"batch_id", batchMsg.BatchID,
		"tenant_id", tenantID,
		"status", result.Status,
		"rated", result.RatedCount,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return err
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	subs := w.subscriptions
	w.subscriptions = nil
	w.global = false
	w.tenants = make(map[string]bool)
	w.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
