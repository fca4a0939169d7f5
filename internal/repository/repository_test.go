package repository

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestSQLiteRepository(t *testing.T) {
	// Create temp database file
	tmpFile, err := os.CreateTemp("", "kestrel-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	defer os.Remove(tmpPath)

	cfg := domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	}

	repo, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGetBatch", func(t *testing.T) {
		b := &domain.Batch{
			ID:         "batch-001",
			Filename:   "notes.xlsx",
			Status:     domain.BatchRated,
			PDSource:   domain.PDSourceRules,
			RowCount:   2,
			RatedCount: 2,
			Columns:    []string{"Entreprise", "Notation_finale"},
			Rows:       [][]string{{"Sonatel", "A"}, {"Orange", "BB"}},
			Summary: domain.BatchSummary{
				Distribution: map[domain.Rating]int{domain.RatingA: 1, domain.RatingBB: 1},
				MeanPD:       0.2,
				Healthy:      2,
			},
			CreatedAt: time.Now().UTC().Truncate(time.Second),
			RatedAt:   time.Now().UTC().Truncate(time.Second),
		}

		if err := repo.SaveBatch(ctx, tenantID, b); err != nil {
			t.Fatalf("SaveBatch failed: %v", err)
		}

		got, err := repo.GetBatch(ctx, tenantID, "batch-001")
		if err != nil {
			t.Fatalf("GetBatch failed: %v", err)
		}

		if got.TenantID != tenantID {
			t.Errorf("expected tenant %s, got %s", tenantID, got.TenantID)
		}
		if got.PDSource != domain.PDSourceRules {
			t.Errorf("expected pd source rules, got %s", got.PDSource)
		}
		if len(got.Rows) != 2 || got.Rows[1][1] != "BB" {
			t.Errorf("unexpected rows %v", got.Rows)
		}
		if got.Summary.Distribution[domain.RatingA] != 1 {
			t.Errorf("expected 1 A in distribution, got %d", got.Summary.Distribution[domain.RatingA])
		}
		if got.RatedAt.IsZero() {
			t.Error("expected rated_at to be set")
		}
	})

	t.Run("UpdateBatch", func(t *testing.T) {
		b := &domain.Batch{
			ID:        "batch-002",
			Filename:  "late.csv",
			Status:    domain.BatchPending,
			Columns:   []string{},
			Rows:      [][]string{},
			CreatedAt: time.Now().UTC(),
		}
		if err := repo.SaveBatch(ctx, tenantID, b); err != nil {
			t.Fatalf("SaveBatch failed: %v", err)
		}

		pending, _ := repo.GetBatch(ctx, tenantID, "batch-002")
		if !pending.RatedAt.IsZero() {
			t.Error("pending batch must not have rated_at")
		}

		b.Status = domain.BatchFailed
		b.Error = "empty sheet"
		if err := repo.SaveBatch(ctx, tenantID, b); err != nil {
			t.Fatalf("SaveBatch update failed: %v", err)
		}

		got, _ := repo.GetBatch(ctx, tenantID, "batch-002")
		if got.Status != domain.BatchFailed || got.Error != "empty sheet" {
			t.Errorf("expected failed batch with error, got %s %q", got.Status, got.Error)
		}
	})

	t.Run("ListBatches", func(t *testing.T) {
		batches, err := repo.ListBatches(ctx, tenantID, 10)
		if err != nil {
			t.Fatalf("ListBatches failed: %v", err)
		}
		if len(batches) != 2 {
			t.Fatalf("expected 2 batches, got %d", len(batches))
		}
		for _, b := range batches {
			if b.Rows != nil {
				t.Errorf("listed batch %s must not carry rows", b.ID)
			}
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		_, err := repo.GetBatch(ctx, "tenant-002", "batch-001")
		if err != ErrNotFound {
			t.Errorf("expected ErrNotFound for other tenant, got: %v", err)
		}
	})

	t.Run("RequiresTenant", func(t *testing.T) {
		err := repo.SaveBatch(ctx, "", &domain.Batch{ID: "x"})
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got: %v", err)
		}
	})

	t.Run("SaveAndListCriteria", func(t *testing.T) {
		c := &domain.Criterion{
			ID:         "thin-margin",
			Name:       "Thin margin",
			Version:    "1.0.0",
			Expression: "ebe < 100.0",
			Fields:     []string{"ebe"},
			Enabled:    true,
		}
		if err := repo.SaveCriterion(ctx, tenantID, c); err != nil {
			t.Fatalf("SaveCriterion failed: %v", err)
		}

		disabled := &domain.Criterion{
			ID:         "off",
			Name:       "Off",
			Version:    "1.0.0",
			Expression: "ebe < 0.0",
			Fields:     []string{"ebe"},
		}
		if err := repo.SaveCriterion(ctx, tenantID, disabled); err != nil {
			t.Fatalf("SaveCriterion failed: %v", err)
		}

		criteria, err := repo.ListCriteria(ctx, tenantID)
		if err != nil {
			t.Fatalf("ListCriteria failed: %v", err)
		}
		if len(criteria) != 1 {
			t.Fatalf("expected 1 enabled criterion, got %d", len(criteria))
		}
		if criteria[0].Fields[0] != "ebe" {
			t.Errorf("expected field ebe, got %v", criteria[0].Fields)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := repo.GetBatch(ctx, tenantID, "nonexistent")
		if err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})
}

func TestUnsupportedDriver(t *testing.T) {
	cfg := domain.RepositoryConfig{
		Driver: "mysql",
	}

	_, err := New(cfg)
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	repo := &SQLRepository{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT * FROM t", "SELECT * FROM t"},
	}

	for _, tt := range tests {
		result := repo.rebind(tt.input)
		if result != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestSQLiteInMemory(t *testing.T) {
	repo, err := New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: memoryPath})
	if err != nil {
		t.Fatalf("failed to open in-memory repository: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	b := &domain.Batch{
		ID:        "mem-1",
		TenantID:  "acme",
		Filename:  "portfolio.csv",
		Status:    domain.BatchPending,
		Columns:   []string{},
		Rows:      [][]string{},
		CreatedAt: time.Now().UTC(),
	}
	if err := repo.SaveBatch(ctx, "acme", b); err != nil {
		t.Fatalf("SaveBatch failed: %v", err)
	}
	if _, err := repo.GetBatch(ctx, "acme", "mem-1"); err != nil {
		t.Errorf("batch not visible on the shared connection: %v", err)
	}
}

func TestSQLiteCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "kestrel.db")
	repo, err := New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: path})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	repo.Close()

	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected database file at %s: %v", path, err)
	}
}

func TestPostgresDSN(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		got := postgresDSN(domain.RepositoryConfig{}).String()
		want := "postgres://localhost:5432/kestrel?sslmode=disable"
		if got != want {
			t.Errorf("postgresDSN() = %q, want %q", got, want)
		}
	})

	t.Run("EscapesCredentials", func(t *testing.T) {
		u := postgresDSN(domain.RepositoryConfig{
			PostgresHost:     "db.internal",
			PostgresPort:     6432,
			PostgresUser:     "rater",
			PostgresPassword: "p@ss word",
			PostgresDB:       "ratings",
			PostgresSSLMode:  "require",
		})

		if pw, _ := u.User.Password(); pw != "p@ss word" {
			t.Errorf("password not preserved: %q", pw)
		}
		if u.Host != "db.internal:6432" || u.Path != "/ratings" {
			t.Errorf("unexpected host/path %s %s", u.Host, u.Path)
		}
		if u.Query().Get("sslmode") != "require" {
			t.Errorf("unexpected sslmode %q", u.Query().Get("sslmode"))
		}
		if red := u.Redacted(); strings.Contains(red, "p@ss") {
			t.Errorf("redacted DSN leaks the password: %s", red)
		}
	})
}
