// Package sqlite implements the ledger store on SQLite using the pure-Go
// modernc driver. SQLite's single-writer model makes the conditional
// reservation update serialize for free; the package is intended for
// embedded and single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite3 "modernc.org/sqlite"

	"github.com/brandforge/ledger"
	"github.com/brandforge/ledger/audit"
	"github.com/brandforge/ledger/billing"
	"github.com/brandforge/ledger/id"
	"github.com/brandforge/ledger/org"
	"github.com/brandforge/ledger/period"
	"github.com/brandforge/ledger/plan"
	ledgerstore "github.com/brandforge/ledger/store"
	"github.com/brandforge/ledger/subscription"
	"github.com/brandforge/ledger/types"
)

// compile-time interface check
var _ ledgerstore.Store = (*Store)(nil)

// Store implements store.Store on a SQLite database.
type Store struct {
	db *sql.DB
}

// New wraps an existing database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open opens (or creates) the SQLite database at path. Pass ":memory:"
// for an ephemeral database. Foreign keys and WAL are enabled; the
// connection pool is capped at one because SQLite has a single writer.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("ledger/sqlite: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	return New(db), nil
}

// DB returns the underlying handle for direct access.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SQLITE_CONSTRAINT is the low byte of all constraint violation codes.
func uniqueViolation(err error) bool {
	var serr *sqlite3.Error
	if errors.As(err, &serr) {
		return serr.Code()&0xff == 19
	}
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}

func metaJSON(m map[string]string) string {
	if len(m) == 0 {
		return "{}"
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func parseMeta(s string) map[string]string {
	var m map[string]string
	if err := json.Unmarshal([]byte(s), &m); err != nil || len(m) == 0 {
		return nil
	}
	return m
}

func docJSON(d types.Document) string {
	if d.IsZero() {
		return "{}"
	}
	b, err := json.Marshal(d)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func parseDoc(s string) types.Document {
	var d types.Document
	if err := json.Unmarshal([]byte(s), &d); err != nil || len(d) == 0 {
		return nil
	}
	return d
}

func nullableID(v id.ID) any {
	if v.IsNil() {
		return nil
	}
	return v.String()
}

func scanOptionalID(s *string, expected id.Prefix) (id.ID, error) {
	if s == nil || *s == "" {
		return id.Nil, nil
	}
	return id.ParseWithPrefix(*s, expected)
}

// ──────────────────────────────────────────────────────────────
// Organizations
// ──────────────────────────────────────────────────────────────

func (s *Store) CreateOrganization(ctx context.Context, o *org.Organization) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO ledger_organizations (id, name, slug, metadata, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)`,
		o.ID.String(), o.Name, o.Slug, metaJSON(o.Metadata), o.CreatedAt, o.UpdatedAt,
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
		meta string
	)
	err := s.db.QueryRowContext(ctx, `
SELECT id, name, slug, metadata, created_at, updated_at
FROM ledger_organizations WHERE id = ?`,
		orgID.String(),
	).Scan(&rawI, &o.Name, &o.Slug, &meta, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrOrgNotFound
	}
	if err != nil {
		return nil, err
	}
	if o.ID, err = id.ParseOrgID(rawI); err != nil {
		return nil, err
	}
	o.Metadata = parseMeta(meta)
	return &o, nil
}

func (s *Store) DeleteOrganization(ctx context.Context, orgID id.OrgID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ledger.ErrTransactionFailed, err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `DELETE FROM ledger_organizations WHERE id = ?`, orgID.String())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ErrOrgNotFound
	}

	for _, q := range []string{
		`DELETE FROM ledger_subscriptions WHERE org_id = ?`,
		`DELETE FROM ledger_billing_periods WHERE org_id = ?`,
		`DELETE FROM ledger_audit_entries WHERE org_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, orgID.String()); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ──────────────────────────────────────────────────────────────
// Plans
// ──────────────────────────────────────────────────────────────

const planColumns = `id, name, slug, description, price_cents, currency,
monthly_credits, status, trial_days, metadata, created_at, updated_at`

func scanPlan(row *sql.Row) (*plan.Plan, error) {
	var (
		p    plan.Plan
		rawI string
		meta string
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
	p.Metadata = parseMeta(meta)
	return &p, nil
}

func (s *Store) CreatePlan(ctx context.Context, p *plan.Plan) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO ledger_plans
    (id, name, slug, description, price_cents, currency, monthly_credits,
     status, trial_days, metadata, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID.String(), p.Name, p.Slug, p.Description,
		p.Price.Amount, p.Price.Currency, p.MonthlyCredits,
		string(p.Status), p.TrialDays, metaJSON(p.Metadata),
		p.CreatedAt, p.UpdatedAt,
	)
	if uniqueViolation(err) {
		return ledger.ErrAlreadyExists
	}
	return err
}

func (s *Store) GetPlan(ctx context.Context, planID id.PlanID) (*plan.Plan, error) {
	p, err := scanPlan(s.db.QueryRowContext(ctx,
		`SELECT `+planColumns+` FROM ledger_plans WHERE id = ?`, planID.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrPlanNotFound
	}
	return p, err
}

func (s *Store) GetPlanBySlug(ctx context.Context, slug string) (*plan.Plan, error) {
	p, err := scanPlan(s.db.QueryRowContext(ctx,
		`SELECT `+planColumns+` FROM ledger_plans WHERE slug = ?`, slug))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrPlanNotFound
	}
	return p, err
}

func (s *Store) ListPlans(ctx context.Context, opts plan.ListOpts) ([]*plan.Plan, error) {
	query := `SELECT ` + planColumns + ` FROM ledger_plans`
	args := []any{}
	if opts.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(opts.Status))
	}
	query += ` ORDER BY created_at ASC`
	if opts.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, opts.Limit)
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(` OFFSET %d`, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	plans := make([]*plan.Plan, 0)
	for rows.Next() {
		var (
			p    plan.Plan
			rawI string
			meta string
		)
		if err := rows.Scan(&rawI, &p.Name, &p.Slug, &p.Description,
			&p.Price.Amount, &p.Price.Currency, &p.MonthlyCredits,
			&p.Status, &p.TrialDays, &meta, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		if p.ID, err = id.ParsePlanID(rawI); err != nil {
			return nil, err
		}
		p.Metadata = parseMeta(meta)
		plans = append(plans, &p)
	}
	return plans, rows.Err()
}

func (s *Store) UpdatePlan(ctx context.Context, p *plan.Plan) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE ledger_plans SET
    name = ?, slug = ?, description = ?, price_cents = ?, currency = ?,
    monthly_credits = ?, status = ?, trial_days = ?, metadata = ?, updated_at = ?
WHERE id = ?`,
		p.Name, p.Slug, p.Description, p.Price.Amount, p.Price.Currency,
		p.MonthlyCredits, string(p.Status), p.TrialDays, metaJSON(p.Metadata),
		p.UpdatedAt, p.ID.String(),
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ErrPlanNotFound
	}
	return nil
}

func (s *Store) ArchivePlan(ctx context.Context, planID id.PlanID) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE ledger_plans SET status = ?, updated_at = ? WHERE id = ?`,
		string(plan.StatusArchived), time.Now().UTC(), planID.String(),
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ErrPlanNotFound
	}
	return nil
}

// ──────────────────────────────────────────────────────────────
// Subscriptions
// ──────────────────────────────────────────────────────────────

const subColumns = `id, org_id, plan_id, status, current_period_end,
trial_start, trial_end, canceled_at, cancel_at, metadata, created_at, updated_at`

func scanSubscription(row *sql.Row) (*subscription.Subscription, error) {
	var (
		sub                   subscription.Subscription
		rawI, rawOrg, rawPlan string
		meta                  string
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
	sub.Metadata = parseMeta(meta)
	return &sub, nil
}

func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO ledger_subscriptions
    (id, org_id, plan_id, status, current_period_end, trial_start, trial_end,
     canceled_at, cancel_at, metadata, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID.String(), sub.OrgID.String(), sub.PlanID.String(), string(sub.Status),
		sub.CurrentPeriodEnd, sub.TrialStart, sub.TrialEnd,
		sub.CanceledAt, sub.CancelAt, metaJSON(sub.Metadata),
		sub.CreatedAt, sub.UpdatedAt,
	)
	if uniqueViolation(err) {
		return ledger.ErrSubscriptionExists
	}
	return err
}

func (s *Store) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	sub, err := scanSubscription(s.db.QueryRowContext(ctx,
		`SELECT `+subColumns+` FROM ledger_subscriptions WHERE id = ?`, subID.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrSubscriptionNotFound
	}
	return sub, err
}

func (s *Store) GetActiveSubscription(ctx context.Context, orgID id.OrgID) (*subscription.Subscription, error) {
	sub, err := scanSubscription(s.db.QueryRowContext(ctx, `
SELECT `+subColumns+` FROM ledger_subscriptions
WHERE org_id = ? AND status IN (?, ?)`,
		orgID.String(), string(subscription.StatusActive), string(subscription.StatusTrialing)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrNoActiveSubscription
	}
	return sub, err
}

func (s *Store) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE ledger_subscriptions SET
    plan_id = ?, status = ?, current_period_end = ?, trial_start = ?,
    trial_end = ?, canceled_at = ?, cancel_at = ?, metadata = ?, updated_at = ?
WHERE id = ?`,
		sub.PlanID.String(), string(sub.Status), sub.CurrentPeriodEnd,
		sub.TrialStart, sub.TrialEnd, sub.CanceledAt, sub.CancelAt,
		metaJSON(sub.Metadata), sub.UpdatedAt, sub.ID.String(),
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ErrSubscriptionNotFound
	}
	return nil
}

func (s *Store) CancelSubscription(ctx context.Context, subID id.SubscriptionID, cancelAt time.Time) error {
	now := time.Now().UTC()

	var res sql.Result
	var err error
	if !cancelAt.After(now) {
		res, err = s.db.ExecContext(ctx, `
UPDATE ledger_subscriptions SET
    status = ?, cancel_at = ?, canceled_at = ?, updated_at = ?
WHERE id = ?`,
			string(subscription.StatusCanceled), cancelAt, now, now, subID.String())
	} else {
		res, err = s.db.ExecContext(ctx, `
UPDATE ledger_subscriptions SET cancel_at = ?, updated_at = ? WHERE id = ?`,
			cancelAt, now, subID.String())
	}
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ErrSubscriptionNotFound
	}
	return nil
}

// ──────────────────────────────────────────────────────────────
// Billing periods
// ──────────────────────────────────────────────────────────────

func (s *Store) ReserveCredits(ctx context.Context, orgID id.OrgID, key period.Key, amount, limit int64) (int64, bool, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO ledger_billing_periods (id, org_id, period_key, credits_used, created_at, updated_at)
VALUES (?, ?, ?, 0, ?, ?)
ON CONFLICT (org_id, period_key) DO NOTHING`,
		id.NewPeriodID().String(), orgID.String(), key.String(), now, now,
	)
	if err != nil {
		return 0, false, err
	}

	var used int64
	err = s.db.QueryRowContext(ctx, `
UPDATE ledger_billing_periods
SET credits_used = credits_used + ?, updated_at = ?
WHERE org_id = ? AND period_key = ? AND credits_used + ? <= ?
RETURNING credits_used`,
		amount, now, orgID.String(), key.String(), amount, limit,
	).Scan(&used)
	if err == nil {
		return used, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, false, err
	}

	err = s.db.QueryRowContext(ctx, `
SELECT credits_used FROM ledger_billing_periods WHERE org_id = ? AND period_key = ?`,
		orgID.String(), key.String(),
	).Scan(&used)
	if err != nil {
		return 0, false, err
	}
	return used, false, nil
}

func (s *Store) ReleaseCredits(ctx context.Context, orgID id.OrgID, key period.Key, amount int64) (int64, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("%w: %w", ledger.ErrTransactionFailed, err)
	}
	defer tx.Rollback() //nolint:errcheck

	var used int64
	err = tx.QueryRowContext(ctx, `
SELECT credits_used FROM ledger_billing_periods WHERE org_id = ? AND period_key = ?`,
		orgID.String(), key.String(),
	).Scan(&used)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, true, nil
	}
	if err != nil {
		return 0, false, err
	}

	clamped := used < amount
	newUsed := used - amount
	if newUsed < 0 {
		newUsed = 0
	}
	if _, err := tx.ExecContext(ctx, `
UPDATE ledger_billing_periods SET credits_used = ?, updated_at = ?
WHERE org_id = ? AND period_key = ?`,
		newUsed, time.Now().UTC(), orgID.String(), key.String(),
	); err != nil {
		return 0, false, err
	}
	if err := tx.Commit(); err != nil {
		return 0, false, err
	}
	return newUsed, clamped, nil
}

func (s *Store) GetPeriod(ctx context.Context, orgID id.OrgID, key period.Key) (*billing.Period, error) {
	var (
		per                  billing.Period
		rawI, rawOrg, rawKey string
	)
	err := s.db.QueryRowContext(ctx, `
SELECT id, org_id, period_key, credits_used, created_at, updated_at
FROM ledger_billing_periods WHERE org_id = ? AND period_key = ?`,
		orgID.String(), key.String(),
	).Scan(&rawI, &rawOrg, &rawKey, &per.CreditsUsed, &per.CreatedAt, &per.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
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
	_, err := s.db.ExecContext(ctx, `
INSERT INTO ledger_audit_entries
    (id, org_id, brand_kit_id, asset_id, action, outcome, payload, result,
     duration_ms, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID.String(), e.OrgID.String(),
		nullableID(e.BrandKitID), nullableID(e.AssetID),
		e.Action, string(e.Outcome),
		docJSON(e.Payload), docJSON(e.Result),
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
WHERE org_id = ?`
	args := []any{orgID.String()}

	if opts.Action != "" {
		query += ` AND action = ?`
		args = append(args, opts.Action)
	}
	if opts.Outcome != "" {
		query += ` AND outcome = ?`
		args = append(args, string(opts.Outcome))
	}
	if !opts.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, opts.Since)
	}
	if !opts.Until.IsZero() {
		query += ` AND created_at <= ?`
		args = append(args, opts.Until)
	}
	query += ` ORDER BY created_at DESC`
	if opts.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, opts.Limit)
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(` OFFSET %d`, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
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
			payload, result string
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
		if e.BrandKitID, err = scanOptionalID(rawKit, id.PrefixBrandKit); err != nil {
			return nil, err
		}
		if e.AssetID, err = scanOptionalID(rawAst, id.PrefixAsset); err != nil {
			return nil, err
		}
		e.Payload = parseDoc(payload)
		e.Result = parseDoc(result)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

func (s *Store) DetachAuditReferences(ctx context.Context, orgID id.OrgID, brandKitID id.BrandKitID, assetID id.AssetID) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE ledger_audit_entries SET
    brand_kit_id = CASE WHEN ?1 IS NOT NULL AND brand_kit_id = ?1 THEN NULL ELSE brand_kit_id END,
    asset_id     = CASE WHEN ?2 IS NOT NULL AND asset_id = ?2 THEN NULL ELSE asset_id END
WHERE org_id = ?3
  AND ((?1 IS NOT NULL AND brand_kit_id = ?1) OR (?2 IS NOT NULL AND asset_id = ?2))`,
		nullableID(brandKitID), nullableID(assetID), orgID.String(),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
