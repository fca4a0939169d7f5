package rules

import (
	"context"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/table"
)

func newDefaultEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine(4)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	if err := engine.LoadCriteria(DefaultCriteria()); err != nil {
		t.Fatalf("failed to load default criteria: %v", err)
	}
	return engine
}

func financials() *table.Table {
	tbl := table.New([]string{
		"Entreprise", "Bénéfice net", "EBE", "Capitaux propres", "Fonds de roulement",
		"Total dettes", "Rendement des capitaux propres (ROE)", "Levier financier",
	})
	tbl.AppendRow([]string{"Saine SA", "1200", "3000", "10000", "500", "8000", "0,12", "0.8"})
	tbl.AppendRow([]string{"Perte SA", "-50", "3000", "10000", "500", "8000", "-0.01", "0.8"})
	tbl.AppendRow([]string{"Dette SA", "100", "200", "1000", "500", "2000", "0.1", "0.9"})
	tbl.AppendRow([]string{"Vide SA", "", "n/a", "", "", "", "", ""})
	return tbl
}

func TestEngineCreation(t *testing.T) {
	engine, err := NewEngine(0)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	defer engine.Close()

	if engine.CriteriaCount() != 0 {
		t.Errorf("expected 0 criteria, got %d", engine.CriteriaCount())
	}
	if engine.maxWorkers != 10 {
		t.Errorf("expected default 10 workers, got %d", engine.maxWorkers)
	}
}

func TestLoadDefaultCriteria(t *testing.T) {
	engine := newDefaultEngine(t)
	defer engine.Close()

	if engine.CriteriaCount() != 7 {
		t.Errorf("expected 7 criteria, got %d", engine.CriteriaCount())
	}

	loaded := engine.GetLoadedCriteria()
	for i := 1; i < len(loaded); i++ {
		if loaded[i-1].ID >= loaded[i].ID {
			t.Errorf("criteria not ordered by id: %s before %s", loaded[i-1].ID, loaded[i].ID)
		}
	}
}

func TestLoadInvalidCriterion(t *testing.T) {
	engine, _ := NewEngine(2)
	defer engine.Close()

	cases := map[string]*domain.Criterion{
		"syntax":     {ID: "bad", Expression: "this is not valid CEL !!!", Fields: []string{"ebe"}, Enabled: true},
		"non-bool":   {ID: "num", Expression: "ebe * 2.0", Fields: []string{"ebe"}, Enabled: true},
		"no-fields":  {ID: "nof", Expression: "ebe < 0.0", Enabled: true},
		"bad-field":  {ID: "unk", Expression: "ebe < 0.0", Fields: []string{"chiffre_affaires"}, Enabled: true},
		"undeclared": {ID: "var", Expression: "ca < 0.0", Fields: []string{"ebe"}, Enabled: true},
		"no-id":      {Expression: "ebe < 0.0", Fields: []string{"ebe"}, Enabled: true},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			if err := engine.LoadCriterion(c); err == nil {
				t.Error("expected error")
			}
			if err := engine.ValidateCriterion(c); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	if engine.CriteriaCount() != 0 {
		t.Errorf("expected 0 criteria after failures, got %d", engine.CriteriaCount())
	}
}

func TestEvaluateTable(t *testing.T) {
	engine := newDefaultEngine(t)
	defer engine.Close()

	results, err := engine.EvaluateTable(context.Background(), financials())
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("expected 4 row results, got %d", len(results))
	}

	t.Run("Healthy", func(t *testing.T) {
		r := results[0]
		if r.Defaulted() {
			t.Errorf("expected healthy row, violated %v", r.Reasons())
		}
		if r.Applicable != 7 {
			t.Errorf("expected 7 applicable criteria, got %d", r.Applicable)
		}
	})

	t.Run("NetLossAndNegativeROE", func(t *testing.T) {
		r := results[1]
		if r.Violated != 2 {
			t.Errorf("expected 2 violations, got %d (%v)", r.Violated, r.Reasons())
		}
	})

	t.Run("OverIndebted", func(t *testing.T) {
		r := results[2]
		if r.Violated != 1 {
			t.Fatalf("expected 1 violation, got %d", r.Violated)
		}
		if r.Reasons()[0] != "Dettes supérieures à 1,5 fois les capitaux propres" {
			t.Errorf("unexpected reason %q", r.Reasons()[0])
		}
	})

	t.Run("BlankCellsNeverViolate", func(t *testing.T) {
		r := results[3]
		if r.Violated != 0 {
			t.Errorf("expected no violations on blank cells, got %v", r.Reasons())
		}
		if r.Row != 3 {
			t.Errorf("expected row 3, got %d", r.Row)
		}
	})
}

func TestCriteriaNeedTheirColumns(t *testing.T) {
	engine := newDefaultEngine(t)
	defer engine.Close()

	tbl := table.New([]string{"Entreprise", "benefice net", "Total dettes"})
	tbl.AppendRow([]string{"Acme", "-1", "50"})

	results, err := engine.EvaluateTable(context.Background(), tbl)
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}

	r := results[0]
	if r.Applicable != 1 {
		t.Errorf("expected only net-loss to apply, got %d applicable", r.Applicable)
	}
	if !r.Defaulted() {
		t.Error("expected net loss to be flagged")
	}
	for _, c := range r.Results {
		if c.CriterionID == "over-indebted" && c.Applicable {
			t.Error("over-indebted needs capitaux propres and must not apply")
		}
	}
}

func TestZeroEquityDoesNotDivide(t *testing.T) {
	engine := newDefaultEngine(t)
	defer engine.Close()

	r := engine.EvaluateValues(map[string]float64{"total_dettes": 100, "capitaux_propres": 0})
	for _, c := range r.Results {
		if c.CriterionID == "over-indebted" && c.Violated {
			t.Error("over-indebted must not fire on zero equity")
		}
		if c.CriterionID == "negative-equity" && !c.Violated {
			t.Error("negative-equity must fire on zero equity")
		}
	}
	if r.Applicable != 2 {
		t.Errorf("expected 2 applicable criteria, got %d", r.Applicable)
	}
}

func TestReloadCriteria(t *testing.T) {
	engine := newDefaultEngine(t)
	defer engine.Close()

	custom := []*domain.Criterion{
		{ID: "thin-margin", Name: "Thin margin", Expression: "ebe < 100.0", Fields: []string{"ebe"}, Enabled: true},
		{ID: "disabled", Name: "Disabled", Expression: "ebe < 0.0", Fields: []string{"ebe"}, Enabled: false},
	}
	if err := engine.ReloadCriteria(custom); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if engine.CriteriaCount() != 1 {
		t.Errorf("expected 1 criterion after reload, got %d", engine.CriteriaCount())
	}

	broken := []*domain.Criterion{{ID: "broken", Expression: "ebe <", Fields: []string{"ebe"}, Enabled: true}}
	if err := engine.ReloadCriteria(broken); err == nil {
		t.Error("expected reload error")
	}
	if engine.CriteriaCount() != 1 {
		t.Errorf("failed reload must keep the previous set, got %d", engine.CriteriaCount())
	}
}

func TestEvaluateTableCancelled(t *testing.T) {
	engine := newDefaultEngine(t)
	defer engine.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := engine.EvaluateTable(ctx, financials()); err == nil {
		t.Error("expected context error")
	}
}

func TestParallelRowsKeepOrder(t *testing.T) {
	engine := newDefaultEngine(t)
	defer engine.Close()

	tbl := table.New([]string{"EBE"})
	for i := 0; i < 200; i++ {
		if i%3 == 0 {
			tbl.AppendRow([]string{"-1"})
		} else {
			tbl.AppendRow([]string{"1"})
		}
	}

	results, err := engine.EvaluateTable(context.Background(), tbl)
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	for i, r := range results {
		if r.Row != i {
			t.Fatalf("row %d reported as %d", i, r.Row)
		}
		if r.Defaulted() != (i%3 == 0) {
			t.Errorf("row %d: expected defaulted=%v", i, i%3 == 0)
		}
	}
}

func TestResolveFeatures(t *testing.T) {
	tbl := table.New([]string{" BENEFICE NET ", "Levier financier", "ebe"})
	got := ResolveFeatures(tbl)

	if got["benefice_net"] != "BENEFICE NET" {
		t.Errorf("expected accent-insensitive match, got %q", got["benefice_net"])
	}
	if got["levier_financier"] != "Levier financier" {
		t.Errorf("expected levier_financier column, got %q", got["levier_financier"])
	}
	if _, ok := got["roe"]; ok {
		t.Error("roe must not resolve")
	}
}
