package pd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/opensource-finance/kestrel/internal/table"
	"github.com/opensource-finance/kestrel/internal/textnorm"
)

// Model is a trained logistic regression over named feature columns.
type Model struct {
	Features     []string  `json:"features"`
	Coefficients []float64 `json:"coefficients"`
	Intercept    float64   `json:"intercept"`
}

// Validate checks the model shape.
func (m *Model) Validate() error {
	if len(m.Features) == 0 {
		return fmt.Errorf("model has no features")
	}
	if len(m.Features) != len(m.Coefficients) {
		return fmt.Errorf("model has %d features but %d coefficients", len(m.Features), len(m.Coefficients))
	}
	return nil
}

// ModelEstimator scores rows with a Model.
type ModelEstimator struct {
	model *Model
}

// NewModelEstimator wraps a validated model.
func NewModelEstimator(m *Model) (*ModelEstimator, error) {
	if m == nil {
		return nil, ErrNoModel
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &ModelEstimator{model: m}, nil
}

// LoadModel reads a JSON model artifact. An empty path or a missing file
// returns ErrNoModel.
func LoadModel(path string) (*ModelEstimator, error) {
	if path == "" {
		return nil, ErrNoModel
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoModel, path)
		}
		return nil, fmt.Errorf("failed to open model: %w", err)
	}
	defer f.Close()
	return ReadModel(f)
}

// ReadModel decodes a JSON model artifact from r.
func ReadModel(r io.Reader) (*ModelEstimator, error) {
	var m Model
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to decode model: %w", err)
	}
	return NewModelEstimator(&m)
}

// Features returns the feature columns in model order.
func (e *ModelEstimator) Features() []string {
	return append([]string(nil), e.model.Features...)
}

// Estimate scores every row. Features the table lacks, and cells that do
// not parse, count as 0.
func (e *ModelEstimator) Estimate(ctx context.Context, tbl *table.Table) ([]float64, error) {
	byHeader := make(map[string]string, len(tbl.Columns))
	for _, col := range tbl.Columns {
		byHeader[textnorm.Header(col)] = col
	}
	cols := make([]string, len(e.model.Features))
	for i, f := range e.model.Features {
		cols[i] = byHeader[textnorm.Header(f)]
	}

	out := make([]float64, tbl.Len())
	for row := range out {
		if row%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		z := e.model.Intercept
		for i, col := range cols {
			if col == "" {
				continue
			}
			if v, ok := tbl.Float(row, col); ok {
				z += e.model.Coefficients[i] * v
			}
		}
		out[row] = sigmoid(z)
	}
	return out, nil
}
