package domain

// Criterion is a financial-health test expressed in CEL.
// A criterion is violated when its expression evaluates to true.
type Criterion struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version"`

	// Expression is a boolean CEL expression over feature variables.
	Expression string `json:"expression"`

	// Fields lists the feature variables the expression reads. The
	// criterion only applies to tables that carry all of them.
	Fields []string `json:"fields"`

	Enabled bool `json:"enabled"`
}

// CriterionResult is the outcome of one criterion on one row.
type CriterionResult struct {
	CriterionID string `json:"criterionId"`
	Name        string `json:"name"`
	Applicable  bool   `json:"applicable"`
	Violated    bool   `json:"violated"`
	Reason      string `json:"reason,omitempty"`
}

// Entity status labels.
const (
	StatusHealthy   = "Saine"
	StatusDefaulted = "Défaillante"
	StatusUnknown   = "Inconnu"
)
