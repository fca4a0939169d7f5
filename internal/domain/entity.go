package domain

// EntityRow is one scoring subject with a usable PD.
type EntityRow struct {
	// Index is the position of the row in the source table.
	Index  int     `json:"index"`
	PD     float64 `json:"pd"`
	Cohort string  `json:"cohort,omitempty"`
	Sector string  `json:"sector,omitempty"`
}

// RatingResult holds every rating produced for one entity.
type RatingResult struct {
	Index        int     `json:"index"`
	PD           float64 `json:"pd"`
	Cohort       string  `json:"cohort,omitempty"`
	Sector       string  `json:"sector,omitempty"`
	Percentile   float64 `json:"percentile"`
	Absolute     Rating  `json:"absolute"`
	Quantile     Rating  `json:"quantile"`
	Prudent      Rating  `json:"prudent"`
	Overlay      Rating  `json:"overlay"`
	Final        Rating  `json:"final"`
	OverlayBonus int     `json:"overlayBonus"`
	Reason       string  `json:"reason"`
}

// Output column names added to rated tables.
const (
	ColumnPD            = "Proba_defaillance"
	ColumnAbsolute      = "Notation_absolue"
	ColumnQuantile      = "Notation_quantiles"
	ColumnPrudent       = "Notation_prudente"
	ColumnOverlay       = "Notation_overlay"
	ColumnOverlayBonus  = "Overlay_bonus"
	ColumnFinal         = "Notation_finale"
	ColumnReason        = "Reason"
	ColumnDefault       = "Défaillance"
	ColumnStatus        = "Statut"
	ColumnYearSynthetic = "__ANNEE__"
	ColumnSectorDefault = "__SECTEUR__"
)
