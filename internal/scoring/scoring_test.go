package scoring

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/pd"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/table"
)

const tenantID = "tenant-001"

type fixedModel struct {
	pds []float64
	err error
}

func (m fixedModel) Estimate(_ context.Context, tbl *table.Table) ([]float64, error) {
	if m.err != nil {
		return nil, m.err
	}
	return append([]float64(nil), m.pds[:tbl.Len()]...), nil
}

func newScorer(t *testing.T, model pd.Estimator) (*Scorer, domain.Repository, domain.Cache) {
	t.Helper()

	criteria, err := rules.NewEngine(2)
	require.NoError(t, err)
	require.NoError(t, criteria.LoadCriteria(rules.DefaultCriteria()))

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "kestrel.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	c := cache.NewLRUCache(16)

	s := New(Config{
		Criteria: criteria,
		Model:    model,
		Repo:     repo,
		Cache:    c,
		Squash:   true,
	})
	return s, repo, c
}

func companies() *table.Table {
	tbl := table.New([]string{"Entreprise", "ANNEE", "SECTEUR", "EBE", "Bénéfice net"})
	tbl.AppendRow([]string{"Sonatel Sénégal", "2022", "Télécom", "100", "50"})
	tbl.AppendRow([]string{"Orange Mali", "2022", "Telecom", "-5", "-1"})
	tbl.AppendRow([]string{"Banque X", "2023", "Banque", "10", "-2"})
	return tbl
}

func TestScoreWithRules(t *testing.T) {
	s, repo, c := newScorer(t, nil)
	ctx := context.Background()

	b, err := s.Score(ctx, tenantID, "companies.xlsx", companies())
	require.NoError(t, err)

	assert.Equal(t, domain.BatchRated, b.Status)
	assert.Equal(t, domain.PDSourceRules, b.PDSource)
	assert.Equal(t, 3, b.RowCount)
	assert.Equal(t, 3, b.RatedCount)
	assert.Equal(t, 1, b.Summary.Healthy)
	assert.Equal(t, 2, b.Summary.Defaulted)

	tbl := Table(b)
	assert.Equal(t, []string{"0", "1", "1"}, tbl.Column(domain.ColumnDefault))
	assert.Equal(t, []string{domain.StatusHealthy, domain.StatusDefaulted, domain.StatusDefaulted}, tbl.Column(domain.ColumnStatus))
	for _, col := range []string{domain.ColumnPD, domain.ColumnFinal, domain.ColumnReason} {
		assert.True(t, tbl.Has(col), "missing %s", col)
	}

	p0, _ := tbl.Float(0, domain.ColumnPD)
	p1, _ := tbl.Float(1, domain.ColumnPD)
	assert.Less(t, p0, p1, "a healthy company must have the lower PD")
	assert.InDelta(t, pd.Squash(0.4), p1, 1e-12)

	stored, err := repo.GetBatch(ctx, tenantID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.Rows, stored.Rows)

	cached, err := c.GetBatch(ctx, tenantID, b.ID)
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, b.ID, cached.ID)
}

func TestScoreWithInputPD(t *testing.T) {
	s, _, _ := newScorer(t, nil)

	tbl := table.New([]string{"Entreprise", "Secteur", "Proba_defaillance"})
	tbl.AppendRow([]string{"A", "Banque", "0,1"})
	tbl.AppendRow([]string{"B", "Banque", ""})
	tbl.AppendRow([]string{"C", "Banque", "0.6"})

	b, err := s.Score(context.Background(), tenantID, "pd.csv", tbl)
	require.NoError(t, err)

	assert.Equal(t, domain.PDSourceInput, b.PDSource)
	assert.Equal(t, 3, b.RowCount)
	assert.Equal(t, 2, b.RatedCount)

	out := Table(b)
	assert.Equal(t, []string{"0.1", "0.6"}, out.Column(domain.ColumnPD), "input PD must not be squashed")
	assert.Equal(t, []string{domain.StatusHealthy, domain.StatusDefaulted}, out.Column(domain.ColumnStatus))
	assert.False(t, out.Has(domain.ColumnSectorDefault), "existing sector column must be reused")
	assert.True(t, out.Has(domain.ColumnYearSynthetic))
}

func TestScoreWithModel(t *testing.T) {
	t.Run("ModelUsed", func(t *testing.T) {
		s, _, _ := newScorer(t, fixedModel{pds: []float64{0.02, 0.5, 0.9}})
		b, err := s.Score(context.Background(), tenantID, "m.xlsx", companies())
		require.NoError(t, err)
		assert.Equal(t, domain.PDSourceModel, b.PDSource)

		p, _ := Table(b).Float(1, domain.ColumnPD)
		assert.InDelta(t, 0.5, p, 1e-12)
	})

	t.Run("NoModelFallsBack", func(t *testing.T) {
		s, _, _ := newScorer(t, fixedModel{err: pd.ErrNoModel})
		b, err := s.Score(context.Background(), tenantID, "m.xlsx", companies())
		require.NoError(t, err)
		assert.Equal(t, domain.PDSourceRules, b.PDSource)
	})

	t.Run("ModelErrorFails", func(t *testing.T) {
		s, repo, _ := newScorer(t, fixedModel{err: errors.New("corrupt model")})
		b, err := s.Score(context.Background(), tenantID, "m.xlsx", companies())
		require.Error(t, err)
		assert.Equal(t, domain.BatchFailed, b.Status)

		stored, getErr := repo.GetBatch(context.Background(), tenantID, b.ID)
		require.NoError(t, getErr)
		assert.Contains(t, stored.Error, "corrupt model")
	})
}

func TestScoreEmptyBatch(t *testing.T) {
	s, _, _ := newScorer(t, nil)

	tbl := table.New([]string{"Entreprise", "EBE"})

	b, err := s.Score(context.Background(), tenantID, "empty.csv", tbl)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchRated, b.Status)
	assert.Equal(t, 0, b.RatedCount)
	assert.Nil(t, b.Summary.Edges)
	assert.Equal(t, 0.0, b.Summary.MeanPD)

	_, ok := BuildRatingView(b, "", s.Engine().Scale())
	assert.False(t, ok)
}

func TestSubmitAndRatePending(t *testing.T) {
	s, repo, _ := newScorer(t, nil)
	ctx := context.Background()

	pending, err := s.Submit(ctx, tenantID, "async.xlsx", companies())
	require.NoError(t, err)
	assert.Equal(t, domain.BatchPending, pending.Status)

	stored, err := repo.GetBatch(ctx, tenantID, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchPending, stored.Status)
	assert.Len(t, stored.Rows, 3)

	rated, err := s.RatePending(ctx, tenantID, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchRated, rated.Status)
	assert.Equal(t, 3, rated.RatedCount)

	again, err := s.RatePending(ctx, tenantID, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, rated.Rows, again.Rows, "rated batches are not re-rated")
}

func TestLoad(t *testing.T) {
	s, _, c := newScorer(t, nil)
	ctx := context.Background()

	b, err := s.Score(ctx, tenantID, "companies.xlsx", companies())
	require.NoError(t, err)

	require.NoError(t, c.InvalidateBatch(ctx, tenantID, b.ID))
	loaded, err := s.Load(ctx, tenantID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, loaded.ID)

	_, err = s.Load(ctx, tenantID, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = s.Load(ctx, "tenant-002", b.ID)
	assert.Error(t, err)
}

func TestViews(t *testing.T) {
	s, _, _ := newScorer(t, nil)
	b, err := s.Score(context.Background(), tenantID, "companies.xlsx", companies())
	require.NoError(t, err)

	t.Run("Status", func(t *testing.T) {
		v := BuildStatusView(b, "")
		assert.Equal(t, 3, v.KPI.Count)
		assert.Equal(t, 1, v.KPI.Healthy)
		assert.Equal(t, 2, v.KPI.Defaulted)
		assert.Equal(t, "Sonatel Sénégal", v.Rows[0].Entity)
		assert.Equal(t, "2022", v.Rows[0].Year)
		require.NotNil(t, v.Rows[1].PDPercent)
		assert.InDelta(t, pd.Squash(0.4)*100, *v.Rows[1].PDPercent, 0.01)
	})

	t.Run("StatusFiltered", func(t *testing.T) {
		v := BuildStatusView(b, "sonatel senegal")
		require.Len(t, v.Rows, 1)
		assert.Equal(t, domain.StatusHealthy, v.Rows[0].Status)
	})

	t.Run("Rating", func(t *testing.T) {
		v, ok := BuildRatingView(b, "", s.Engine().Scale())
		require.True(t, ok)
		require.Len(t, v.Rows, 3)
		assert.Len(t, v.Distribution, 9)

		total := 0
		for _, n := range v.Distribution {
			total += n
		}
		assert.Equal(t, 3, total)
	})

	t.Run("RatingFiltered", func(t *testing.T) {
		v, ok := BuildRatingView(b, "MALI", s.Engine().Scale())
		require.True(t, ok)
		require.Len(t, v.Rows, 1)
		assert.Equal(t, "Orange Mali", v.Rows[0].Entity)
	})
}
