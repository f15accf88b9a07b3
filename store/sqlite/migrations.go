package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/brandforge/ledger"
)

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
    metadata   TEXT NOT NULL DEFAULT '{}',
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
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
    price_cents     INTEGER NOT NULL DEFAULT 0,
    currency        TEXT NOT NULL DEFAULT 'usd',
    monthly_credits INTEGER NOT NULL DEFAULT 0,
    status          TEXT NOT NULL DEFAULT 'active',
    trial_days      INTEGER NOT NULL DEFAULT 0,
    metadata        TEXT NOT NULL DEFAULT '{}',
    created_at      TIMESTAMP NOT NULL,
    updated_at      TIMESTAMP NOT NULL
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
    org_id             TEXT NOT NULL UNIQUE,
    plan_id            TEXT NOT NULL,
    status             TEXT NOT NULL DEFAULT 'active',
    current_period_end TIMESTAMP NOT NULL,
    trial_start        TIMESTAMP,
    trial_end          TIMESTAMP,
    canceled_at        TIMESTAMP,
    cancel_at          TIMESTAMP,
    metadata           TEXT NOT NULL DEFAULT '{}',
    created_at         TIMESTAMP NOT NULL,
    updated_at         TIMESTAMP NOT NULL
);

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
    credits_used INTEGER NOT NULL DEFAULT 0 CHECK (credits_used >= 0),
    created_at   TIMESTAMP NOT NULL,
    updated_at   TIMESTAMP NOT NULL,
    UNIQUE (org_id, period_key)
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
    payload      TEXT NOT NULL DEFAULT '{}',
    result       TEXT NOT NULL DEFAULT '{}',
    duration_ms  INTEGER,
    created_at   TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ledger_audit_org_created ON ledger_audit_entries (org_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_ledger_audit_action ON ledger_audit_entries (org_id, action);
`,
	},
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS ledger_schema_migrations (
    version    TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`)
	if err != nil {
		return fmt.Errorf("%w: create migrations table: %w", ledger.ErrMigrationFailed, err)
	}

	for _, m := range migrations {
		var exists bool
		err := db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM ledger_schema_migrations WHERE version = ?)`,
			m.Version,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("%w: check version %s: %w", ledger.ErrMigrationFailed, m.Version, err)
		}
		if exists {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("%w: begin %s: %w", ledger.ErrMigrationFailed, m.Name, err)
		}
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("%w: apply %s: %w", ledger.ErrMigrationFailed, m.Name, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO ledger_schema_migrations (version, name) VALUES (?, ?)`,
			m.Version, m.Name,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("%w: record %s: %w", ledger.ErrMigrationFailed, m.Name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("%w: commit %s: %w", ledger.ErrMigrationFailed, m.Name, err)
		}
	}
	return nil
}
