package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brandforge/ledger"
)

// migration is one versioned schema step. Versions are ordered strings;
// applied versions are recorded in ledger_schema_migrations and never
// re-run.
type migration struct {
	Version string
	Name    string
	SQL     string
}

var migrations = []migration{
	{
		Version: "20250101000001",
		Name:    "create_ledger_organizations",
		SQL: `
CREATE TABLE IF NOT EXISTS ledger_organizations (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL DEFAULT '',
    slug       TEXT NOT NULL DEFAULT '',
    metadata   JSONB NOT NULL DEFAULT '{}',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_orgs_slug ON ledger_organizations (slug);
`,
	},
	{
		Version: "20250101000002",
		Name:    "create_ledger_plans",
		SQL: `
CREATE TABLE IF NOT EXISTS ledger_plans (
    id              TEXT PRIMARY KEY,
    name            TEXT NOT NULL DEFAULT '',
    slug            TEXT NOT NULL DEFAULT '',
    description     TEXT NOT NULL DEFAULT '',
    price_cents     BIGINT NOT NULL DEFAULT 0,
    currency        TEXT NOT NULL DEFAULT 'usd',
    monthly_credits BIGINT NOT NULL DEFAULT 0,
    status          TEXT NOT NULL DEFAULT 'active',
    trial_days      INT NOT NULL DEFAULT 0,
    metadata        JSONB NOT NULL DEFAULT '{}',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_plans_slug ON ledger_plans (slug);
CREATE INDEX IF NOT EXISTS idx_ledger_plans_status ON ledger_plans (status);
`,
	},
	{
		Version: "20250101000003",
		Name:    "create_ledger_subscriptions",
		SQL: `
CREATE TABLE IF NOT EXISTS ledger_subscriptions (
    id                 TEXT PRIMARY KEY,
    org_id             TEXT NOT NULL,
    plan_id            TEXT NOT NULL,
    status             TEXT NOT NULL DEFAULT 'active',
    current_period_end TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    trial_start        TIMESTAMPTZ,
    trial_end          TIMESTAMPTZ,
    canceled_at        TIMESTAMPTZ,
    cancel_at          TIMESTAMPTZ,
    metadata           JSONB NOT NULL DEFAULT '{}',
    created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

-- One subscription per organization.
CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_subs_org ON ledger_subscriptions (org_id);
CREATE INDEX IF NOT EXISTS idx_ledger_subs_plan ON ledger_subscriptions (plan_id);
`,
	},
	{
		Version: "20250101000004",
		Name:    "create_ledger_billing_periods",
		SQL: `
CREATE TABLE IF NOT EXISTS ledger_billing_periods (
    id           TEXT PRIMARY KEY,
    org_id       TEXT NOT NULL,
    period_key   TEXT NOT NULL,
    credits_used BIGINT NOT NULL DEFAULT 0,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CONSTRAINT ledger_billing_periods_org_key UNIQUE (org_id, period_key),
    CONSTRAINT ledger_billing_periods_nonnegative CHECK (credits_used >= 0)
);
`,
	},
	{
		Version: "20250101000005",
		Name:    "create_ledger_audit_entries",
		SQL: `
CREATE TABLE IF NOT EXISTS ledger_audit_entries (
    id           TEXT PRIMARY KEY,
    org_id       TEXT NOT NULL,
    brand_kit_id TEXT,
    asset_id     TEXT,
    action       TEXT NOT NULL,
    outcome      TEXT NOT NULL,
    payload      JSONB NOT NULL DEFAULT '{}',
    result       JSONB NOT NULL DEFAULT '{}',
    duration_ms  BIGINT,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_ledger_audit_org_created ON ledger_audit_entries (org_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_ledger_audit_action ON ledger_audit_entries (org_id, action);
CREATE INDEX IF NOT EXISTS idx_ledger_audit_brand_kit ON ledger_audit_entries (brand_kit_id) WHERE brand_kit_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_ledger_audit_asset ON ledger_audit_entries (asset_id) WHERE asset_id IS NOT NULL;
`,
	},
}

// runMigrations applies all pending migrations in version order. Each step
// runs in its own transaction together with its bookkeeping row.
func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS ledger_schema_migrations (
    version    TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`)
	if err != nil {
		return fmt.Errorf("%w: create migrations table: %w", ledger.ErrMigrationFailed, err)
	}

	for _, m := range migrations {
		applied, err := migrationApplied(ctx, pool, m.Version)
		if err != nil {
			return err
		}
		if applied {
			continue
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("%w: begin %s: %w", ledger.ErrMigrationFailed, m.Name, err)
		}
		if _, err := tx.Exec(ctx, m.SQL); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("%w: apply %s: %w", ledger.ErrMigrationFailed, m.Name, err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO ledger_schema_migrations (version, name) VALUES ($1, $2)`,
			m.Version, m.Name,
		); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("%w: record %s: %w", ledger.ErrMigrationFailed, m.Name, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("%w: commit %s: %w", ledger.ErrMigrationFailed, m.Name, err)
		}
	}
	return nil
}

func migrationApplied(ctx context.Context, pool *pgxpool.Pool, version string) (bool, error) {
	var exists bool
	err := pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM ledger_schema_migrations WHERE version = $1)`,
		version,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%w: check version %s: %w", ledger.ErrMigrationFailed, version, err)
	}
	return exists, nil
}
