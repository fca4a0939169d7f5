// Package status labels entities as healthy or defaulted.
// It aggregates financial-health criteria per row and falls back to the
// entity's PD when no criterion applies.
package status

import (
	"context"
	"math"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// Source values describe where a status came from.
const (
	SourceCriteria = "criteria"
	SourcePD       = "pd"
	SourceNone     = "none"
)

// Processor aggregates criteria results into statuses.
type Processor struct {
	// PDThreshold marks an entity as defaulted by PD alone when PD is at or
	// above it. Used only for rows no criterion applies to.
	PDThreshold float64
}

// NewProcessor creates a processor with the default 0.5 PD threshold.
func NewProcessor() *Processor {
	return &Processor{
		PDThreshold: 0.5,
	}
}

// Input contains the per-row data needed to label a batch.
type Input struct {
	// Rows are the criteria outcomes, one per table row.
	Rows []rules.RowResult

	// PDs holds one PD per row, NaN where unknown. May be nil.
	PDs []float64
}

// Decision is the status of one row.
type Decision struct {
	Row     int      `json:"row"`
	Status  string   `json:"status"`
	Source  string   `json:"source"`
	Reasons []string `json:"reasons,omitempty"`
}

// Defaulted reports whether the decision labels the entity as defaulted.
func (d Decision) Defaulted() bool {
	return d.Status == domain.StatusDefaulted
}

// Assessment is the labelled batch.
type Assessment struct {
	Decisions []Decision
	Healthy   int
	Defaulted int
	Unknown   int
	ProcessMs int64
}

// Process labels every row. The number of rows is the larger of len(Rows)
// and len(PDs).
func (p *Processor) Process(ctx context.Context, input *Input) *Assessment {
	start := time.Now()

	n := max(len(input.Rows), len(input.PDs))
	out := &Assessment{Decisions: make([]Decision, n)}

	for i := 0; i < n; i++ {
		d := Decision{Row: i, Status: domain.StatusUnknown, Source: SourceNone}

		if i < len(input.Rows) && input.Rows[i].Applicable > 0 {
			r := input.Rows[i]
			d.Source = SourceCriteria
			d.Status = domain.StatusHealthy
			if r.Defaulted() {
				d.Status = domain.StatusDefaulted
				d.Reasons = r.Reasons()
			}
		} else if i < len(input.PDs) {
			if s := p.FromPD(input.PDs[i]); s != domain.StatusUnknown {
				d.Source = SourcePD
				d.Status = s
			}
		}

		switch d.Status {
		case domain.StatusHealthy:
			out.Healthy++
		case domain.StatusDefaulted:
			out.Defaulted++
		default:
			out.Unknown++
		}
		out.Decisions[i] = d
	}

	out.ProcessMs = time.Since(start).Milliseconds()
	return out
}

// FromPD labels an entity by PD alone. NaN gives StatusUnknown.
func (p *Processor) FromPD(pd float64) string {
	if math.IsNaN(pd) {
		return domain.StatusUnknown
	}
	if pd >= p.PDThreshold {
		return domain.StatusDefaulted
	}
	return domain.StatusHealthy
}

// Flag renders a status as the 0/1 default flag, empty when unknown.
func Flag(status string) string {
	switch status {
	case domain.StatusDefaulted:
		return "1"
	case domain.StatusHealthy:
		return "0"
	default:
		return ""
	}
}

// FromFlag reads a 0/1 default flag back into a status.
func FromFlag(flag string) string {
	switch flag {
	case "1":
		return domain.StatusDefaulted
	case "0":
		return domain.StatusHealthy
	default:
		return domain.StatusUnknown
	}
}

// GetReasons collects the reasons of every defaulted decision.
func GetReasons(a *Assessment) []string {
	var reasons []string
	for _, d := range a.Decisions {
		if d.Defaulted() {
			reasons = append(reasons, d.Reasons...)
		}
	}
	return reasons
}
