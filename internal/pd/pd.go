// Package pd estimates probabilities of default for table rows.
package pd

import (
	"context"
	"errors"
	"math"

	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/table"
)

// ErrNoModel is returned when no trained model artifact is available.
var ErrNoModel = errors.New("no PD model available")

// Estimator produces one PD per table row.
type Estimator interface {
	Estimate(ctx context.Context, tbl *table.Table) ([]float64, error)
}

// Rule-based estimator parameters.
const (
	// CriteriaDivisor is the number of violated criteria that maps to PD 1.
	CriteriaDivisor = 5.0

	// NoCriteriaPD is used for rows no criterion applies to.
	NoCriteriaPD = 0.05
)

// RuleEstimator derives PD from the number of violated criteria.
type RuleEstimator struct {
	engine *rules.Engine
}

// NewRuleEstimator creates a rule estimator over the loaded criteria of engine.
func NewRuleEstimator(engine *rules.Engine) *RuleEstimator {
	return &RuleEstimator{engine: engine}
}

// Estimate evaluates the criteria and converts each row with FromCriteria.
func (e *RuleEstimator) Estimate(ctx context.Context, tbl *table.Table) ([]float64, error) {
	rows, err := e.engine.EvaluateTable(ctx, tbl)
	if err != nil {
		return nil, err
	}
	return FromCriteria(rows), nil
}

// FromCriteria maps violated/CriteriaDivisor to PD, clipped to [0,1].
// Rows with no applicable criterion get NoCriteriaPD.
func FromCriteria(rows []rules.RowResult) []float64 {
	out := make([]float64, len(rows))
	for i, r := range rows {
		if r.Applicable == 0 {
			out[i] = NoCriteriaPD
			continue
		}
		out[i] = math.Min(1, float64(r.Violated)/CriteriaDivisor)
	}
	return out
}

const (
	squashEps  = 1e-6
	squashTemp = 1.5
)

// Squash compresses p towards 0.5 on the logit scale so that extreme
// model outputs do not saturate the rating scale.
func Squash(p float64) float64 {
	if math.IsNaN(p) {
		return p
	}
	p = math.Max(squashEps, math.Min(1-squashEps, p))
	logit := math.Log(p / (1 - p))
	return sigmoid(logit / squashTemp)
}

// SquashAll applies Squash to every value in place and returns pds.
func SquashAll(pds []float64) []float64 {
	for i, p := range pds {
		pds[i] = Squash(p)
	}
	return pds
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
