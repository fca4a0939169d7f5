// Package scoring runs uploaded tables through labelling, PD estimation
// and rating, and stores the result as a batch.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/pd"
	"github.com/opensource-finance/kestrel/internal/rating"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/status"
	"github.com/opensource-finance/kestrel/internal/table"
)

var tracer = otel.Tracer("kestrel-scoring")

// ErrNotFound is returned when a batch is neither cached nor stored.
var ErrNotFound = errors.New("batch not found")

// Config wires a Scorer.
type Config struct {
	Engine    *rating.Engine
	Criteria  *rules.Engine
	Processor *status.Processor

	// Model is optional. Without it, or when it reports pd.ErrNoModel,
	// PD is derived from the criteria.
	Model pd.Estimator

	// Repo and Cache are optional.
	Repo  domain.Repository
	Cache domain.Cache

	BatchTTL time.Duration
	Squash   bool
}

// Scorer turns tables into rated batches.
type Scorer struct {
	engine    *rating.Engine
	criteria  *rules.Engine
	processor *status.Processor
	model     pd.Estimator
	repo      domain.Repository
	cache     domain.Cache
	batchTTL  time.Duration
	squash    bool
}

// New creates a scorer. A nil Engine or Processor gets the defaults.
func New(cfg Config) *Scorer {
	if cfg.Engine == nil {
		cfg.Engine = rating.NewEngine(nil)
	}
	if cfg.Processor == nil {
		cfg.Processor = status.NewProcessor()
	}
	if cfg.BatchTTL <= 0 {
		cfg.BatchTTL = time.Hour
	}
	return &Scorer{
		engine:    cfg.Engine,
		criteria:  cfg.Criteria,
		processor: cfg.Processor,
		model:     cfg.Model,
		repo:      cfg.Repo,
		cache:     cfg.Cache,
		batchTTL:  cfg.BatchTTL,
		squash:    cfg.Squash,
	}
}

// Engine returns the rating engine.
func (s *Scorer) Engine() *rating.Engine {
	return s.engine
}

// Score rates tbl as a new batch and stores it.
func (s *Scorer) Score(ctx context.Context, tenantID, filename string, tbl *table.Table) (*domain.Batch, error) {
	b := newBatch(tenantID, filename, tbl)
	if err := s.Rate(ctx, b, tbl); err != nil {
		return b, err
	}
	return b, nil
}

// Submit stores tbl as a pending batch for asynchronous rating.
func (s *Scorer) Submit(ctx context.Context, tenantID, filename string, tbl *table.Table) (*domain.Batch, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("async scoring requires a repository")
	}
	b := newBatch(tenantID, filename, tbl)
	b.Columns = tbl.Columns
	b.Rows = tbl.Rows
	if err := s.repo.SaveBatch(ctx, tenantID, b); err != nil {
		return nil, fmt.Errorf("failed to save pending batch: %w", err)
	}
	return b, nil
}

// RatePending loads a pending batch, rates the table it carries and stores
// the result.
func (s *Scorer) RatePending(ctx context.Context, tenantID, batchID string) (*domain.Batch, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("async scoring requires a repository")
	}
	b, err := s.repo.GetBatch(ctx, tenantID, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to load batch %s: %w", batchID, err)
	}
	if b.Status != domain.BatchPending {
		return b, nil
	}

	tbl := &table.Table{Columns: b.Columns, Rows: b.Rows}
	if err := s.Rate(ctx, b, tbl); err != nil {
		return b, err
	}
	return b, nil
}

// Rate fills b with the rating of tbl, then stores and caches it. On
// failure b is marked failed and stored with the error.
func (s *Scorer) Rate(ctx context.Context, b *domain.Batch, tbl *table.Table) error {
	ctx, span := tracer.Start(ctx, "scoring.Rate")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant.id", b.TenantID),
		attribute.String("batch.id", b.ID),
		attribute.Int("batch.rows", tbl.Len()),
	)

	start := time.Now()
	err := s.rate(ctx, b, tbl)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		b.Status = domain.BatchFailed
		b.Error = err.Error()
		b.Columns = []string{}
		b.Rows = [][]string{}
	}

	if saveErr := s.persist(ctx, b); saveErr != nil && err == nil {
		err = saveErr
	}

	slog.Info("batch scored",
		"batch_id", b.ID,
		"tenant_id", b.TenantID,
		"status", b.Status,
		"rows", b.RowCount,
		"rated", b.RatedCount,
		"pd_source", b.PDSource,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return err
}

func (s *Scorer) rate(ctx context.Context, b *domain.Batch, tbl *table.Table) error {
	work := tbl.Clone()

	var criteria []rules.RowResult
	if s.criteria != nil {
		var err error
		criteria, err = s.criteria.EvaluateTable(ctx, work)
		if err != nil {
			return fmt.Errorf("criteria evaluation failed: %w", err)
		}
	}

	pds, source, err := s.estimate(ctx, work, criteria)
	if err != nil {
		return err
	}
	b.PDSource = source

	cells := make([]string, len(pds))
	for i, p := range pds {
		if !math.IsNaN(p) {
			cells[i] = table.FormatFloat(p)
		}
	}
	work.Set(domain.ColumnPD, cells)

	assessment := s.processor.Process(ctx, &status.Input{Rows: criteria, PDs: pds})
	flags := make([]string, work.Len())
	labels := make([]string, work.Len())
	for i, d := range assessment.Decisions {
		if i < len(flags) {
			flags[i] = status.Flag(d.Status)
			labels[i] = d.Status
		}
	}
	work.Set(domain.ColumnDefault, flags)
	work.Set(domain.ColumnStatus, labels)

	year := work.EnsureColumn(domain.ColumnYearSynthetic, "", table.YearColumnCandidates...)
	sector := work.EnsureColumn(domain.ColumnSectorDefault, "Inconnu", table.SectorColumnCandidates...)

	rated, results := s.engine.Notate(work, rating.Columns{PD: domain.ColumnPD, Cohort: year, Sector: sector})

	summary := s.engine.Summarize(results)
	for _, st := range rated.Column(domain.ColumnStatus) {
		switch st {
		case domain.StatusHealthy:
			summary.Healthy++
		case domain.StatusDefaulted:
			summary.Defaulted++
		}
	}

	b.Status = domain.BatchRated
	b.Error = ""
	b.RowCount = tbl.Len()
	b.RatedCount = len(results)
	b.Columns = rated.Columns
	b.Rows = rated.Rows
	b.Summary = summary
	b.RatedAt = time.Now().UTC()
	return nil
}

// estimate returns one PD per row and where it came from. A PD column in
// the upload wins; otherwise the model is tried and the criteria are the
// fallback.
func (s *Scorer) estimate(ctx context.Context, tbl *table.Table, criteria []rules.RowResult) ([]float64, string, error) {
	if col, ok := tbl.ResolveColumn(domain.ColumnPD); ok && tbl.IsNumericColumn(col) {
		out := make([]float64, tbl.Len())
		for i := range out {
			v, ok := tbl.Float(i, col)
			if !ok {
				v = math.NaN()
			}
			out[i] = v
		}
		return out, domain.PDSourceInput, nil
	}

	var pds []float64
	source := domain.PDSourceModel
	var err error
	if s.model != nil {
		pds, err = s.model.Estimate(ctx, tbl)
	} else {
		err = pd.ErrNoModel
	}

	if errors.Is(err, pd.ErrNoModel) {
		if len(criteria) != tbl.Len() {
			criteria = make([]rules.RowResult, tbl.Len())
		}
		pds = pd.FromCriteria(criteria)
		source = domain.PDSourceRules
	} else if err != nil {
		return nil, "", fmt.Errorf("pd estimation failed: %w", err)
	}

	if s.squash {
		pd.SquashAll(pds)
	}
	return pds, source, nil
}

func (s *Scorer) persist(ctx context.Context, b *domain.Batch) error {
	if s.repo != nil {
		if err := s.repo.SaveBatch(ctx, b.TenantID, b); err != nil {
			return fmt.Errorf("failed to save batch: %w", err)
		}
	}
	if s.cache == nil {
		return nil
	}
	var err error
	if b.Status == domain.BatchRated {
		err = s.cache.SetBatch(ctx, b.TenantID, b, s.batchTTL)
	} else {
		err = s.cache.InvalidateBatch(ctx, b.TenantID, b.ID)
	}
	if err != nil {
		slog.Warn("failed to update batch cache",
			"batch_id", b.ID,
			"status", b.Status,
			"error", err,
		)
	}
	return nil
}

// Load returns a batch from the cache, falling back to the repository.
func (s *Scorer) Load(ctx context.Context, tenantID, batchID string) (*domain.Batch, error) {
	if s.cache != nil {
		b, err := s.cache.GetBatch(ctx, tenantID, batchID)
		if err != nil {
			slog.Warn("batch cache read failed",
				"batch_id", batchID,
				"error", err,
			)
		}
		if b != nil {
			return b, nil
		}
	}

	if s.repo == nil {
		return nil, ErrNotFound
	}
	b, err := s.repo.GetBatch(ctx, tenantID, batchID)
	if err != nil {
		return nil, err
	}
	if s.cache != nil && b.Status == domain.BatchRated {
		_ = s.cache.SetBatch(ctx, tenantID, b, s.batchTTL)
	}
	return b, nil
}

func newBatch(tenantID, filename string, tbl *table.Table) *domain.Batch {
	return &domain.Batch{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Filename:  filename,
		Status:    domain.BatchPending,
		RowCount:  tbl.Len(),
		Columns:   []string{},
		Rows:      [][]string{},
		CreatedAt: time.Now().UTC(),
	}
}
