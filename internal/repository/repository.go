// Package repository stores batches and rating criteria in SQLite or
// PostgreSQL through database/sql.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository is the domain.Repository shared by both drivers. Queries are
// written with ? placeholders and rebound for postgres.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

var openers = map[string]func(domain.RepositoryConfig) (*sql.DB, error){
	"sqlite":   openSQLite,
	"postgres": openPostgres,
}

// New opens the configured database and applies the schema.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	open, ok := openers[cfg.Driver]
	if !ok {
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}
	db, err := open(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Driver, err)
	}
	applyPool(db, cfg)

	repo := &SQLRepository{db: db, driver: cfg.Driver}
	if err := repo.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return repo, nil
}

// applyPool overrides the database/sql pool defaults that are set.
func applyPool(db *sql.DB, cfg domain.RepositoryConfig) {
	if n := cfg.MaxOpenConns; n > 0 {
		db.SetMaxOpenConns(n)
	}
	if n := cfg.MaxIdleConns; n > 0 {
		db.SetMaxIdleConns(n)
	}
	if d := cfg.ConnMaxLifetime; d > 0 {
		db.SetConnMaxLifetime(d)
	}
}

func (r *SQLRepository) migrate() error {
	for i, stmt := range AllSchemas() {
		if _, err := r.db.Exec(stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i, err)
		}
	}
	return nil
}

// SaveBatch inserts or updates a batch with tenant isolation.
func (r *SQLRepository) SaveBatch(ctx context.Context, tenantID string, b *domain.Batch) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if b == nil || b.ID == "" {
		return fmt.Errorf("%w: batch id is required", ErrInvalidInput)
	}

	columns, err := json.Marshal(b.Columns)
	if err != nil {
		return fmt.Errorf("failed to encode batch columns: %w", err)
	}
	rows, err := json.Marshal(b.Rows)
	if err != nil {
		return fmt.Errorf("failed to encode batch rows: %w", err)
	}
	summary, err := json.Marshal(b.Summary)
	if err != nil {
		return fmt.Errorf("failed to encode batch summary: %w", err)
	}

	var ratedAt any
	if !b.RatedAt.IsZero() {
		ratedAt = b.RatedAt
	}

	query := `
		INSERT INTO batches (
			id, tenant_id, filename, status, pd_source, row_count, rated_count,
			header, cells, summary, error, created_at, rated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			filename = excluded.filename,
			status = excluded.status,
			pd_source = excluded.pd_source,
			row_count = excluded.row_count,
			rated_count = excluded.rated_count,
			header = excluded.header,
			cells = excluded.cells,
			summary = excluded.summary,
			error = excluded.error,
			rated_at = excluded.rated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		b.ID, tenantID, b.Filename, b.Status, b.PDSource, b.RowCount, b.RatedCount,
		string(columns), string(rows), string(summary), b.Error, b.CreatedAt, ratedAt,
	)
	return err
}

// GetBatch retrieves a batch with its rated table.
func (r *SQLRepository) GetBatch(ctx context.Context, tenantID string, batchID string) (*domain.Batch, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, filename, status, pd_source, row_count, rated_count,
			   header, cells, summary, error, created_at, rated_at
		FROM batches
		WHERE tenant_id = ? AND id = ?
	`

	var b domain.Batch
	var pdSource, errMsg sql.NullString
	var columns, rows, summary string
	var ratedAt sql.NullTime

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, batchID).Scan(
		&b.ID, &b.TenantID, &b.Filename, &b.Status, &pdSource, &b.RowCount, &b.RatedCount,
		&columns, &rows, &summary, &errMsg, &b.CreatedAt, &ratedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	b.PDSource = pdSource.String
	b.Error = errMsg.String
	if ratedAt.Valid {
		b.RatedAt = ratedAt.Time
	}
	if err := json.Unmarshal([]byte(columns), &b.Columns); err != nil {
		return nil, fmt.Errorf("failed to parse batch columns: %w", err)
	}
	if err := json.Unmarshal([]byte(rows), &b.Rows); err != nil {
		return nil, fmt.Errorf("failed to parse batch rows: %w", err)
	}
	if err := json.Unmarshal([]byte(summary), &b.Summary); err != nil {
		return nil, fmt.Errorf("failed to parse batch summary: %w", err)
	}

	return &b, nil
}

// ListBatches returns the most recent batches of a tenant without their
// rows. A non-positive limit defaults to 50.
func (r *SQLRepository) ListBatches(ctx context.Context, tenantID string, limit int) ([]*domain.Batch, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, tenant_id, filename, status, pd_source, row_count, rated_count,
			   summary, error, created_at, rated_at
		FROM batches
		WHERE tenant_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batches []*domain.Batch
	for rows.Next() {
		var b domain.Batch
		var pdSource, errMsg sql.NullString
		var summary string
		var ratedAt sql.NullTime

		if err := rows.Scan(
			&b.ID, &b.TenantID, &b.Filename, &b.Status, &pdSource, &b.RowCount, &b.RatedCount,
			&summary, &errMsg, &b.CreatedAt, &ratedAt,
		); err != nil {
			return nil, err
		}

		b.PDSource = pdSource.String
		b.Error = errMsg.String
		if ratedAt.Valid {
			b.RatedAt = ratedAt.Time
		}
		if err := json.Unmarshal([]byte(summary), &b.Summary); err != nil {
			return nil, fmt.Errorf("failed to parse summary for batch %s: %w", b.ID, err)
		}
		batches = append(batches, &b)
	}

	return batches, rows.Err()
}

// SaveCriterion stores a criterion with tenant isolation.
func (r *SQLRepository) SaveCriterion(ctx context.Context, tenantID string, c *domain.Criterion) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	fields, err := json.Marshal(c.Fields)
	if err != nil {
		return fmt.Errorf("failed to encode criterion fields: %w", err)
	}

	enabled := 0
	if c.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO criteria (
			id, tenant_id, name, description, version, expression, fields, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id, version) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			fields = excluded.fields,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		c.ID, tenantID, c.Name, c.Description,
		c.Version, c.Expression, string(fields), enabled,
		now, now,
	)
	return err
}

// ListCriteria retrieves the enabled criteria of a tenant. When a criterion
// has several versions only the latest is returned.
func (r *SQLRepository) ListCriteria(ctx context.Context, tenantID string) ([]*domain.Criterion, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, version, expression, fields, enabled
		FROM criteria
		WHERE tenant_id = ? AND enabled = 1
		ORDER BY id, updated_at DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var criteria []*domain.Criterion
	seen := make(map[string]bool)
	for rows.Next() {
		var c domain.Criterion
		var description sql.NullString
		var fields string
		var enabled int

		if err := rows.Scan(
			&c.ID, &c.TenantID, &c.Name, &description,
			&c.Version, &c.Expression, &fields, &enabled,
		); err != nil {
			return nil, err
		}
		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true

		c.Description = description.String
		c.Enabled = enabled == 1
		if err := json.Unmarshal([]byte(fields), &c.Fields); err != nil {
			return nil, fmt.Errorf("failed to parse fields for criterion %s: %w", c.ID, err)
		}
		criteria = append(criteria, &c)
	}

	return criteria, rows.Err()
}

func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind numbers the ? placeholders of query as $1, $2, ... on postgres.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, c := range query {
		if c != '?' {
			b.WriteRune(c)
			continue
		}
		n++
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(n))
	}
	return b.String()
}
