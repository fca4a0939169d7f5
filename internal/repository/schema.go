package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

// schemaBatches holds submitted datasets. Header, cells and summary are
// JSON documents; the rated table is kept whole so views can be rebuilt.
const schemaBatches = `
CREATE TABLE IF NOT EXISTS batches (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    filename TEXT NOT NULL,
    status TEXT NOT NULL,
    pd_source TEXT,
    row_count INTEGER NOT NULL DEFAULT 0,
    rated_count INTEGER NOT NULL DEFAULT 0,
    header TEXT NOT NULL,
    cells TEXT NOT NULL,
    summary TEXT NOT NULL,
    error TEXT,
    created_at TIMESTAMP NOT NULL,
    rated_at TIMESTAMP,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_batches_tenant ON batches(tenant_id);
CREATE INDEX IF NOT EXISTS idx_batches_created ON batches(tenant_id, created_at);
`

const schemaCriteria = `
CREATE TABLE IF NOT EXISTS criteria (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    fields TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id, version)
);

CREATE INDEX IF NOT EXISTS idx_criteria_tenant ON criteria(tenant_id);
CREATE INDEX IF NOT EXISTS idx_criteria_enabled ON criteria(tenant_id, enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaBatches,
		schemaCriteria,
	}
}
