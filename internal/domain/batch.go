package domain

import "time"

// Batch is one submitted dataset and its rating output.
type Batch struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`
	Filename string `json:"filename"`
	Status   string `json:"status"`

	// PDSource records where PD values came from: "model", "rules" or "input".
	PDSource string `json:"pdSource"`

	RowCount   int `json:"rowCount"`
	RatedCount int `json:"ratedCount"`

	// Columns and Rows hold the rated table.
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`

	Summary BatchSummary `json:"summary"`
	Error   string       `json:"error,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	RatedAt   time.Time `json:"ratedAt,omitempty"`
}

// BatchSummary describes the rating distribution of a batch.
type BatchSummary struct {
	Distribution   map[Rating]int     `json:"distribution"`
	MeanPD         float64            `json:"meanPd"`
	StdDevPD       float64            `json:"stdDevPd"`
	MeanPDByRating map[Rating]float64 `json:"meanPdByRating"`
	Edges          Edges              `json:"edges,omitempty"`
	Healthy        int                `json:"healthy"`
	Defaulted      int                `json:"defaulted"`
}

// Batch status values.
const (
	BatchPending = "pending"
	BatchRated   = "rated"
	BatchFailed  = "failed"
)

// PD sources.
const (
	PDSourceModel = "model"
	PDSourceRules = "rules"
	PDSourceInput = "input"
)
