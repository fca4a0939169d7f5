// Package domain holds the types shared by the Kestrel services and the
// interfaces of their storage, cache and messaging backends.
package domain

import (
	"context"
	"time"
)

// Repository stores batches and rating criteria. Every read and write is
// scoped by tenant; criteria shared by all tenants live under the global
// tenant "*".
type Repository interface {
	// SaveBatch inserts a batch or replaces the stored one with its ID.
	SaveBatch(ctx context.Context, tenantID string, batch *Batch) error
	GetBatch(ctx context.Context, tenantID string, batchID string) (*Batch, error)
	// ListBatches returns the newest batches first.
	ListBatches(ctx context.Context, tenantID string, limit int) ([]*Batch, error)

	SaveCriterion(ctx context.Context, tenantID string, criterion *Criterion) error
	ListCriteria(ctx context.Context, tenantID string) ([]*Criterion, error)

	Ping(ctx context.Context) error
	Close() error
}

// RepositoryConfig selects the database.
type RepositoryConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string

	// SQLitePath is a file path or ":memory:".
	SQLitePath string

	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Pool limits; zero keeps the database/sql defaults.
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
