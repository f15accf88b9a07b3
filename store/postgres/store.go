// Package postgres implements the ledger store on PostgreSQL using pgx.
// Credit reservations rely on a single conditional UPDATE so concurrent
// reservations serialize on the row lock instead of racing in the
// application.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brandforge/ledger"
	"github.com/brandforge/ledger/audit"
	"github.com/brandforge/ledger/billing"
	"github.com/brandforge/ledger/id"
	"github.com/brandforge/ledger/org"
	"github.com/brandforge/ledger/period"
	"github.com/brandforge/ledger/plan"
	ledgerstore "github.com/brandforge/ledger/store"
	"github.com/brandforge/ledger/subscription"
)

// compile-time interface check
var _ ledgerstore.Store = (*Store)(nil)

// Store implements store.Store on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an existing pool. The caller keeps ownership of pool
// configuration; Close closes the pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Open connects to the given DSN and returns a ready store.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger/postgres: connect: %w", err)
	}
	return New(pool), nil
}

// Pool returns the underlying pool for direct access.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

func (s *Store) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.pool)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// uniqueViolation reports whether err is a Postgres unique constraint
// violation (SQLSTATE 23505).
func uniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// ──────────────────────────────────────────────────────────────
// Organizations
// ──────────────────────────────────────────────────────────────

func (s *Store) CreateOrganization(ctx context.Context, o *org.Organization) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO ledger_organizations (id, name, slug, metadata, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)`,
		o.ID.String(), o.Name, o.Slug, metadataJSON(o.Metadata), o.CreatedAt, o.UpdatedAt,
	)
	if uniqueViolation(err) {
		return ledger.ErrAlreadyExists
	}
	return err
}

func (s *Store) GetOrganization(ctx context.Context, orgID id.OrgID) (*org.Organization, error) {
	var (
		o    org.Organization
		rawI string
		meta []byte
	)
	err := s.pool.QueryRow(ctx, `
SELECT id, name, slug, metadata, created_at, updated_at
FROM ledger_organizations WHERE id = $1`,
		orgID.String(),
	).Scan(&rawI, &o.Name, &o.Slug, &meta, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrOrgNotFound
	}
	if err != nil {
		return nil, err
	}
	if o.ID, err = id.ParseOrgID(rawI); err != nil {
		return nil, err
	}
	o.Metadata = parseMetadata(meta)
	return &o, nil
}

func (s *Store) DeleteOrganization(ctx context.Context, orgID id.OrgID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ledger.ErrTransactionFailed, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx, `DELETE FROM ledger_organizations WHERE id = $1`, orgID.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrOrgNotFound
	}

	for _, q := range []string{
		`DELETE FROM ledger_subscriptions WHERE org_id = $1`,
		`DELETE FROM ledger_billing_periods WHERE org_id = $1`,
		`DELETE FROM ledger_audit_entries WHERE org_id = $1`,
	} {
		if _, err := tx.Exec(ctx, q, orgID.String()); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// ──────────────────────────────────────────────────────────────
// Plans
// ──────────────────────────────────────────────────────────────

func (s *Store) CreatePlan(ctx context.Context, p *plan.Plan) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO ledger_plans
    (id, name, slug, description, price_cents, currency, monthly_credits,
     status, trial_days, metadata, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		p.ID.String(), p.Name, p.Slug, p.Description,
		p.Price.Amount, p.Price.Currency, p.MonthlyCredits,
		string(p.Status), p.TrialDays, metadataJSON(p.Metadata),
		p.CreatedAt, p.UpdatedAt,
	)
	if uniqueViolation(err) {
		return ledger.ErrAlreadyExists
	}
	return err
}

const planColumns = `id, name, slug, description, price_cents, currency,
monthly_credits, status, trial_days, metadata, created_at, updated_at`

func scanPlan(row pgx.Row) (*plan.Plan, error) {
	var (
		p    plan.Plan
		rawI string
		meta []byte
	)
	err := row.Scan(&rawI, &p.Name, &p.Slug, &p.Description,
		&p.Price.Amount, &p.Price.Currency, &p.MonthlyCredits,
		&p.Status, &p.TrialDays, &meta, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if p.ID, err = id.ParsePlanID(rawI); err != nil {
		return nil, err
	}
	p.Metadata = parseMetadata(meta)
	return &p, nil
}

func (s *Store) GetPlan(ctx context.Context, planID id.PlanID) (*plan.Plan, error) {
	p, err := scanPlan(s.pool.QueryRow(ctx,
		`SELECT `+planColumns+` FROM ledger_plans WHERE id = $1`, planID.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrPlanNotFound
	}
	return p, err
}

func (s *Store) GetPlanBySlug(ctx context.Context, slug string) (*plan.Plan, error) {
	p, err := scanPlan(s.pool.QueryRow(ctx,
		`SELECT `+planColumns+` FROM ledger_plans WHERE slug = $1`, slug))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrPlanNotFound
	}
	return p, err
}

func (s *Store) ListPlans(ctx context.Context, opts plan.ListOpts) ([]*plan.Plan, error) {
	query := `SELECT ` + planColumns + ` FROM ledger_plans`
	args := []any{}
	if opts.Status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(opts.Status))
	}
	query += ` ORDER BY created_at ASC`
	if opts.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, opts.Limit)
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(` OFFSET %d`, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	plans := make([]*plan.Plan, 0)
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

func (s *Store) UpdatePlan(ctx context.Context, p *plan.Plan) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE ledger_plans SET
    name = $2, slug = $3, description = $4, price_cents = $5, currency = $6,
    monthly_credits = $7, status = $8, trial_days = $9, metadata = $10,
    updated_at = $11
WHERE id = $1`,
		p.ID.String(), p.Name, p.Slug, p.Description,
		p.Price.Amount, p.Price.Currency, p.MonthlyCredits,
		string(p.Status), p.TrialDays, metadataJSON(p.Metadata), p.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrPlanNotFound
	}
	return nil
}

func (s *Store) ArchivePlan(ctx context.Context, planID id.PlanID) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE ledger_plans SET status = $2, updated_at = NOW() WHERE id = $1`,
		planID.String(), string(plan.StatusArchived),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrPlanNotFound
	}
	return nil
}

// ──────────────────────────────────────────────────────────────
// Subscriptions
// ──────────────────────────────────────────────────────────────

const subColumns = `id, org_id, plan_id, status, current_period_end,
trial_start, trial_end, canceled_at, cancel_at, metadata, created_at, updated_at`

func scanSubscription(row pgx.Row) (*subscription.Subscription, error) {
	var (
		sub          subscription.Subscription
		rawI, rawOrg string
		rawPlan      string
		meta         []byte
	)
	err := row.Scan(&rawI, &rawOrg, &rawPlan, &sub.Status, &sub.CurrentPeriodEnd,
		&sub.TrialStart, &sub.TrialEnd, &sub.CanceledAt, &sub.CancelAt,
		&meta, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if sub.ID, err = id.ParseSubscriptionID(rawI); err != nil {
		return nil, err
	}
	if sub.OrgID, err = id.ParseOrgID(rawOrg); err != nil {
		return nil, err
	}
	if sub.PlanID, err = id.ParsePlanID(rawPlan); err != nil {
		return nil, err
	}
	sub.Metadata = parseMetadata(meta)
	return &sub, nil
}

func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO ledger_subscriptions
    (id, org_id, plan_id, status, current_period_end, trial_start, trial_end,
     canceled_at, cancel_at, metadata, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		sub.ID.String(), sub.OrgID.String(), sub.PlanID.String(), string(sub.Status),
		sub.CurrentPeriodEnd, sub.TrialStart, sub.TrialEnd,
		sub.CanceledAt, sub.CancelAt, metadataJSON(sub.Metadata),
		sub.CreatedAt, sub.UpdatedAt,
	)
	if uniqueViolation(err) {
		return ledger.ErrSubscriptionExists
	}
	return err
}

func (s *Store) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	sub, err := scanSubscription(s.pool.QueryRow(ctx,
		`SELECT `+subColumns+` FROM ledger_subscriptions WHERE id = $1`, subID.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrSubscriptionNotFound
	}
	return sub, err
}

func (s *Store) GetActiveSubscription(ctx context.Context, orgID id.OrgID) (*subscription.Subscription, error) {
	sub, err := scanSubscription(s.pool.QueryRow(ctx, `
SELECT `+subColumns+` FROM ledger_subscriptions
WHERE org_id = $1 AND status IN ($2, $3)`,
		orgID.String(), string(subscription.StatusActive), string(subscription.StatusTrialing)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrNoActiveSubscription
	}
	return sub, err
}

func (s *Store) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE ledger_subscriptions SET
    plan_id = $2, status = $3, current_period_end = $4, trial_start = $5,
    trial_end = $6, canceled_at = $7, cancel_at = $8, metadata = $9,
    updated_at = $10
WHERE id = $1`,
		sub.ID.String(), sub.PlanID.String(), string(sub.Status), sub.CurrentPeriodEnd,
		sub.TrialStart, sub.TrialEnd, sub.CanceledAt, sub.CancelAt,
		metadataJSON(sub.Metadata), sub.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrSubscriptionNotFound
	}
	return nil
}

func (s *Store) CancelSubscription(ctx context.Context, subID id.SubscriptionID, cancelAt time.Time) error {
	var (
		query string
		args  []any
	)
	if !cancelAt.After(time.Now()) {
		query = `
UPDATE ledger_subscriptions SET
    status = $2, cancel_at = $3, canceled_at = NOW(), updated_at = NOW()
WHERE id = $1`
		args = []any{subID.String(), string(subscription.StatusCanceled), cancelAt}
	} else {
		query = `
UPDATE ledger_subscriptions SET cancel_at = $2, updated_at = NOW() WHERE id = $1`
		args = []any{subID.String(), cancelAt}
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrSubscriptionNotFound
	}
	return nil
}

// ──────────────────────────────────────────────────────────────
// Billing periods
// ──────────────────────────────────────────────────────────────

func (s *Store) ReserveCredits(ctx context.Context, orgID id.OrgID, key period.Key, amount, limit int64) (int64, bool, error) {
	// Lazy row creation; losing the insert race is fine, the update below
	// is the authoritative step.
	_, err := s.pool.Exec(ctx, `
INSERT INTO ledger_billing_periods (id, org_id, period_key, credits_used)
VALUES ($1, $2, $3, 0)
ON CONFLICT ON CONSTRAINT ledger_billing_periods_org_key DO NOTHING`,
		id.NewPeriodID().String(), orgID.String(), key.String(),
	)
	if err != nil {
		return 0, false, err
	}

	// The WHERE clause makes grant-or-deny one atomic decision. A row
	// comes back only when the increment fits under the limit.
	var used int64
	err = s.pool.QueryRow(ctx, `
UPDATE ledger_billing_periods
SET credits_used = credits_used + $3, updated_at = NOW()
WHERE org_id = $1 AND period_key = $2 AND credits_used + $3 <= $4
RETURNING credits_used`,
		orgID.String(), key.String(), amount, limit,
	).Scan(&used)
	if err == nil {
		return used, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, false, err
	}

	// Denied. Report the counter as it stood.
	err = s.pool.QueryRow(ctx, `
SELECT credits_used FROM ledger_billing_periods
WHERE org_id = $1 AND period_key = $2`,
		orgID.String(), key.String(),
	).Scan(&used)
	if err != nil {
		return 0, false, err
	}
	return used, false, nil
}

func (s *Store) ReleaseCredits(ctx context.Context, orgID id.OrgID, key period.Key, amount int64) (int64, bool, error) {
	var (
		used    int64
		clamped bool
	)
	err := s.pool.QueryRow(ctx, `
WITH prev AS (
    SELECT id, credits_used FROM ledger_billing_periods
    WHERE org_id = $1 AND period_key = $2
    FOR UPDATE
), upd AS (
    UPDATE ledger_billing_periods p
    SET credits_used = GREATEST(p.credits_used - $3, 0), updated_at = NOW()
    FROM prev WHERE p.id = prev.id
    RETURNING p.credits_used
)
SELECT upd.credits_used, prev.credits_used < $3 FROM upd, prev`,
		orgID.String(), key.String(), amount,
	).Scan(&used, &clamped)
	if errors.Is(err, pgx.ErrNoRows) {
		// No usage row means nothing was ever reserved this month.
		return 0, true, nil
	}
	if err != nil {
		return 0, false, err
	}
	return used, clamped, nil
}

func (s *Store) GetPeriod(ctx context.Context, orgID id.OrgID, key period.Key) (*billing.Period, error) {
	var (
		per          billing.Period
		rawI, rawOrg string
		rawKey       string
	)
	err := s.pool.QueryRow(ctx, `
SELECT id, org_id, period_key, credits_used, created_at, updated_at
FROM ledger_billing_periods WHERE org_id = $1 AND period_key = $2`,
		orgID.String(), key.String(),
	).Scan(&rawI, &rawOrg, &rawKey, &per.CreditsUsed, &per.CreatedAt, &per.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrPeriodNotFound
	}
	if err != nil {
		return nil, err
	}
	if per.ID, err = id.ParsePeriodID(rawI); err != nil {
		return nil, err
	}
	if per.OrgID, err = id.ParseOrgID(rawOrg); err != nil {
		return nil, err
	}
	if per.Key, err = period.Parse(rawKey); err != nil {
		return nil, err
	}
	return &per, nil
}

// ──────────────────────────────────────────────────────────────
// Audit entries
// ──────────────────────────────────────────────────────────────

func (s *Store) AppendAuditEntry(ctx context.Context, e *audit.Entry) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO ledger_audit_entries
    (id, org_id, brand_kit_id, asset_id, action, outcome, payload, result,
     duration_ms, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID.String(), e.OrgID.String(),
		nullableID(e.BrandKitID), nullableID(e.AssetID),
		e.Action, string(e.Outcome),
		documentJSON(e.Payload), documentJSON(e.Result),
		e.DurationMS, e.CreatedAt,
	)
	if uniqueViolation(err) {
		return ledger.ErrAlreadyExists
	}
	return err
}

func (s *Store) ListAuditEntries(ctx context.Context, orgID id.OrgID, opts audit.QueryOpts) ([]*audit.Entry, error) {
	query := `
SELECT id, org_id, brand_kit_id, asset_id, action, outcome, payload, result,
       duration_ms, created_at
FROM ledger_audit_entries
WHERE org_id = $1`
	args := []any{orgID.String()}

	if opts.Action != "" {
		args = append(args, opts.Action)
		query += fmt.Sprintf(" AND action = $%d", len(args))
	}
	if opts.Outcome != "" {
		args = append(args, string(opts.Outcome))
		query += fmt.Sprintf(" AND outcome = $%d", len(args))
	}
	if !opts.Since.IsZero() {
		args = append(args, opts.Since)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if !opts.Until.IsZero() {
		args = append(args, opts.Until)
		query += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}
	query += " ORDER BY created_at DESC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]*audit.Entry, 0)
	for rows.Next() {
		var (
			e               audit.Entry
			rawI, rawOrg    string
			rawKit, rawAst  *string
			payload, result []byte
		)
		if err := rows.Scan(&rawI, &rawOrg, &rawKit, &rawAst, &e.Action, &e.Outcome,
			&payload, &result, &e.DurationMS, &e.CreatedAt); err != nil {
			return nil, err
		}
		if e.ID, err = id.ParseAuditEntryID(rawI); err != nil {
			return nil, err
		}
		if e.OrgID, err = id.ParseOrgID(rawOrg); err != nil {
			return nil, err
		}
		if e.BrandKitID, err = scanID(rawKit, id.PrefixBrandKit); err != nil {
			return nil, err
		}
		if e.AssetID, err = scanID(rawAst, id.PrefixAsset); err != nil {
			return nil, err
		}
		e.Payload = parseDocument(payload)
		e.Result = parseDocument(result)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

func (s *Store) DetachAuditReferences(ctx context.Context, orgID id.OrgID, brandKitID id.BrandKitID, assetID id.AssetID) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
UPDATE ledger_audit_entries SET
    brand_kit_id = CASE WHEN $2::TEXT IS NOT NULL AND brand_kit_id = $2 THEN NULL ELSE brand_kit_id END,
    asset_id     = CASE WHEN $3::TEXT IS NOT NULL AND asset_id = $3 THEN NULL ELSE asset_id END
WHERE org_id = $1
  AND (($2::TEXT IS NOT NULL AND brand_kit_id = $2) OR ($3::TEXT IS NOT NULL AND asset_id = $3))`,
		orgID.String(), nullableID(brandKitID), nullableID(assetID),
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
