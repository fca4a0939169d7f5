// Package rules provides the CEL-Go based financial-health criteria engine.
package rules

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/table"
)

// Engine is the CEL-based criteria evaluation engine.
type Engine struct {
	mu               sync.RWMutex
	env              *cel.Env
	compiledCriteria map[string]*CompiledCriterion
	maxWorkers       int
}

// CompiledCriterion holds a pre-compiled CEL program.
type CompiledCriterion struct {
	Config  *domain.Criterion
	Program cel.Program
}

// NewEngine creates a new criteria engine with every feature declared as a
// double variable.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	opts := make([]cel.EnvOption, 0, len(Features))
	for _, f := range Features {
		opts = append(opts, cel.Variable(f.Name, cel.DoubleType))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:              env,
		compiledCriteria: make(map[string]*CompiledCriterion),
		maxWorkers:       maxWorkers,
	}, nil
}

// ValidateCriterion compiles and validates a criterion without mutating the
// loaded set.
func (e *Engine) ValidateCriterion(cfg *domain.Criterion) error {
	if cfg == nil {
		return fmt.Errorf("criterion is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileCriterion(cfg)
	return err
}

// LoadCriterion compiles and loads a criterion into the engine.
func (e *Engine) LoadCriterion(cfg *domain.Criterion) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileCriterion(cfg)
	if err != nil {
		return err
	}

	e.compiledCriteria[cfg.ID] = compiled
	return nil
}

// LoadCriteria compiles and loads every enabled criterion.
func (e *Engine) LoadCriteria(configs []*domain.Criterion) error {
	for _, cfg := range configs {
		if cfg.Enabled {
			if err := e.LoadCriterion(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReloadCriteria replaces the loaded set. Nothing changes if any enabled
// criterion fails to compile.
func (e *Engine) ReloadCriteria(configs []*domain.Criterion) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := make(map[string]*CompiledCriterion)
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		compiled, err := e.compileCriterion(cfg)
		if err != nil {
			return err
		}
		next[cfg.ID] = compiled
	}

	e.compiledCriteria = next
	return nil
}

// GetLoadedCriteria returns the loaded criteria ordered by ID.
func (e *Engine) GetLoadedCriteria() []*domain.Criterion {
	loaded := e.snapshot()
	out := make([]*domain.Criterion, len(loaded))
	for i, c := range loaded {
		out[i] = c.Config
	}
	return out
}

// CriteriaCount returns the number of loaded criteria.
func (e *Engine) CriteriaCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledCriteria)
}

// Close unloads every criterion.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledCriteria = make(map[string]*CompiledCriterion)
	return nil
}

// RowResult holds the criteria outcomes of one table row.
type RowResult struct {
	Row        int
	Results    []domain.CriterionResult
	Applicable int
	Violated   int
}

// Defaulted reports whether any applicable criterion is violated.
func (r RowResult) Defaulted() bool {
	return r.Violated > 0
}

// Reasons returns the reasons of the violated criteria.
func (r RowResult) Reasons() []string {
	var reasons []string
	for _, c := range r.Results {
		if c.Violated && c.Reason != "" {
			reasons = append(reasons, c.Reason)
		}
	}
	return reasons
}

// EvaluateTable evaluates the loaded criteria on every row of tbl.
// Rows are processed in parallel; results keep the table order.
func (e *Engine) EvaluateTable(ctx context.Context, tbl *table.Table) ([]RowResult, error) {
	criteria := e.snapshot()
	columns := ResolveFeatures(tbl)

	applicable := make([]bool, len(criteria))
	for i, c := range criteria {
		applicable[i] = hasFields(columns, c.Config.Fields)
	}

	results := make([]RowResult, tbl.Len())
	var wg sync.WaitGroup

	// Limit concurrency with semaphore
	sem := make(chan struct{}, e.maxWorkers)

	for i := 0; i < tbl.Len(); i++ {
		if err := ctx.Err(); err != nil {
			wg.Wait()
			return nil, err
		}

		wg.Add(1)
		go func(row int) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			results[row] = evaluateRow(criteria, applicable, rowActivation(tbl, row, columns), row)
		}(i)
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// EvaluateValues evaluates the loaded criteria on one set of feature values.
// Features absent from values make the criteria that need them inapplicable.
func (e *Engine) EvaluateValues(values map[string]float64) RowResult {
	criteria := e.snapshot()

	activation := make(map[string]any, len(Features))
	present := make(map[string]string, len(values))
	for _, f := range Features {
		v, ok := values[f.Name]
		if !ok {
			v = math.NaN()
		} else {
			present[f.Name] = f.Name
		}
		activation[f.Name] = v
	}

	applicable := make([]bool, len(criteria))
	for i, c := range criteria {
		applicable[i] = hasFields(present, c.Config.Fields)
	}
	return evaluateRow(criteria, applicable, activation, 0)
}

func evaluateRow(criteria []*CompiledCriterion, applicable []bool, activation map[string]any, row int) RowResult {
	out := RowResult{Row: row, Results: make([]domain.CriterionResult, len(criteria))}
	for i, c := range criteria {
		res := domain.CriterionResult{
			CriterionID: c.Config.ID,
			Name:        c.Config.Name,
			Applicable:  applicable[i],
		}
		if applicable[i] {
			out.Applicable++
			val, _, err := c.Program.Eval(activation)
			switch {
			case err != nil:
				res.Reason = fmt.Sprintf("evaluation error: %v", err)
			case val == types.True:
				res.Violated = true
				res.Reason = c.Config.Description
				if res.Reason == "" {
					res.Reason = c.Config.Name
				}
				out.Violated++
			}
		}
		out.Results[i] = res
	}
	return out
}

// rowActivation builds the CEL variables for one row. Missing or
// unparsable cells are NaN so every comparison on them is false.
func rowActivation(tbl *table.Table, row int, columns map[string]string) map[string]any {
	activation := make(map[string]any, len(Features))
	for _, f := range Features {
		v := math.NaN()
		if col, ok := columns[f.Name]; ok {
			if parsed, ok := tbl.Float(row, col); ok {
				v = parsed
			}
		}
		activation[f.Name] = v
	}
	return activation
}

func hasFields(columns map[string]string, fields []string) bool {
	for _, f := range fields {
		if _, ok := columns[f]; !ok {
			return false
		}
	}
	return true
}

func (e *Engine) snapshot() []*CompiledCriterion {
	e.mu.RLock()
	out := make([]*CompiledCriterion, 0, len(e.compiledCriteria))
	for _, c := range e.compiledCriteria {
		out = append(out, c)
	}
	e.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Config.ID < out[j].Config.ID })
	return out
}

func (e *Engine) compileCriterion(cfg *domain.Criterion) (*CompiledCriterion, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("criterion id is required")
	}
	if len(cfg.Fields) == 0 {
		return nil, fmt.Errorf("criterion %s: fields are required", cfg.ID)
	}
	for _, f := range cfg.Fields {
		if _, ok := FeatureByName(f); !ok {
			return nil, fmt.Errorf("criterion %s: unknown field %q", cfg.ID, f)
		}
	}

	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile criterion %s: %w", cfg.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("criterion %s: expression must return bool, got %s", cfg.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for criterion %s: %w", cfg.ID, err)
	}

	return &CompiledCriterion{
		Config:  cfg,
		Program: program,
	}, nil
}
