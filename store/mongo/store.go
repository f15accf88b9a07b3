// Package mongo implements the ledger store on MongoDB. Credit
// reservations use a filtered findAndModify with $inc so the
// grant-or-deny decision is a single document-level atomic operation.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodrv "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

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

// Collection name constants.
const (
	colOrganizations  = "ledger_organizations"
	colPlans          = "ledger_plans"
	colSubscriptions  = "ledger_subscriptions"
	colBillingPeriods = "ledger_billing_periods"
	colAuditEntries   = "ledger_audit_entries"
)

// compile-time interface check
var _ ledgerstore.Store = (*Store)(nil)

// Store implements store.Store on a MongoDB database.
type Store struct {
	client *mongodrv.Client
	db     *mongodrv.Database
}

// New wraps an existing client. All collections live in the named
// database.
func New(client *mongodrv.Client, database string) *Store {
	return &Store{client: client, db: client.Database(database)}
}

// Open connects to the given URI and returns a ready store.
func Open(_ context.Context, uri, database string) (*Store, error) {
	client, err := mongodrv.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("ledger/mongo: connect: %w", err)
	}
	return New(client, database), nil
}

// Database returns the underlying database for direct access.
func (s *Store) Database() *mongodrv.Database { return s.db }

// Migrate creates indexes for all ledger collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if len(models) == 0 {
			continue
		}
		if _, err := s.db.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("%w: %s indexes: %w", ledger.ErrMigrationFailed, col, err)
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *Store) Close() error {
	return s.client.Disconnect(context.Background())
}

// migrationIndexes returns the index definitions for all ledger collections.
func migrationIndexes() map[string][]mongodrv.IndexModel {
	return map[string][]mongodrv.IndexModel{
		colOrganizations: {
			{
				Keys:    bson.D{{Key: "slug", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		colPlans: {
			{
				Keys:    bson.D{{Key: "slug", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{
				Keys: bson.D{{Key: "status", Value: 1}},
			},
		},
		colSubscriptions: {
			{
				Keys:    bson.D{{Key: "org_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{
				Keys: bson.D{{Key: "plan_id", Value: 1}},
			},
		},
		colBillingPeriods: {
			{
				Keys:    bson.D{{Key: "org_id", Value: 1}, {Key: "period_key", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		colAuditEntries: {
			{
				Keys: bson.D{{Key: "org_id", Value: 1}, {Key: "created_at", Value: -1}},
			},
			{
				Keys: bson.D{{Key: "org_id", Value: 1}, {Key: "action", Value: 1}},
			},
			{
				Keys: bson.D{{Key: "brand_kit_id", Value: 1}},
			},
			{
				Keys: bson.D{{Key: "asset_id", Value: 1}},
			},
		},
	}
}

// ──────────────────────────────────────────────────────────────
// Organizations
// ──────────────────────────────────────────────────────────────

func (s *Store) CreateOrganization(ctx context.Context, o *org.Organization) error {
	_, err := s.db.Collection(colOrganizations).InsertOne(ctx, toOrgModel(o))
	if mongodrv.IsDuplicateKeyError(err) {
		return ledger.ErrAlreadyExists
	}
	return err
}

func (s *Store) GetOrganization(ctx context.Context, orgID id.OrgID) (*org.Organization, error) {
	var m orgModel
	err := s.db.Collection(colOrganizations).
		FindOne(ctx, bson.M{"_id": orgID.String()}).Decode(&m)
	if errors.Is(err, mongodrv.ErrNoDocuments) {
		return nil, ledger.ErrOrgNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromOrgModel(&m)
}

func (s *Store) DeleteOrganization(ctx context.Context, orgID id.OrgID) error {
	res, err := s.db.Collection(colOrganizations).
		DeleteOne(ctx, bson.M{"_id": orgID.String()})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ledger.ErrOrgNotFound
	}

	for _, col := range []string{colSubscriptions, colBillingPeriods, colAuditEntries} {
		if _, err := s.db.Collection(col).
			DeleteMany(ctx, bson.M{"org_id": orgID.String()}); err != nil {
			return err
		}
	}
	return nil
}

// ──────────────────────────────────────────────────────────────
// Plans
// ──────────────────────────────────────────────────────────────

func (s *Store) CreatePlan(ctx context.Context, p *plan.Plan) error {
	_, err := s.db.Collection(colPlans).InsertOne(ctx, toPlanModel(p))
	if mongodrv.IsDuplicateKeyError(err) {
		return ledger.ErrAlreadyExists
	}
	return err
}

func (s *Store) GetPlan(ctx context.Context, planID id.PlanID) (*plan.Plan, error) {
	var m planModel
	err := s.db.Collection(colPlans).
		FindOne(ctx, bson.M{"_id": planID.String()}).Decode(&m)
	if errors.Is(err, mongodrv.ErrNoDocuments) {
		return nil, ledger.ErrPlanNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromPlanModel(&m)
}

func (s *Store) GetPlanBySlug(ctx context.Context, slug string) (*plan.Plan, error) {
	var m planModel
	err := s.db.Collection(colPlans).
		FindOne(ctx, bson.M{"slug": slug}).Decode(&m)
	if errors.Is(err, mongodrv.ErrNoDocuments) {
		return nil, ledger.ErrPlanNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromPlanModel(&m)
}

func (s *Store) ListPlans(ctx context.Context, opts plan.ListOpts) ([]*plan.Plan, error) {
	filter := bson.M{}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}

	findOpts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}

	cur, err := s.db.Collection(colPlans).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx) //nolint:errcheck

	plans := make([]*plan.Plan, 0)
	for cur.Next(ctx) {
		var m planModel
		if err := cur.Decode(&m); err != nil {
			return nil, err
		}
		p, err := fromPlanModel(&m)
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return plans, cur.Err()
}

func (s *Store) UpdatePlan(ctx context.Context, p *plan.Plan) error {
	res, err := s.db.Collection(colPlans).
		ReplaceOne(ctx, bson.M{"_id": p.ID.String()}, toPlanModel(p))
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ledger.ErrPlanNotFound
	}
	return nil
}

func (s *Store) ArchivePlan(ctx context.Context, planID id.PlanID) error {
	res, err := s.db.Collection(colPlans).UpdateOne(ctx,
		bson.M{"_id": planID.String()},
		bson.M{"$set": bson.M{
			"status":     string(plan.StatusArchived),
			"updated_at": time.Now().UTC(),
		}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ledger.ErrPlanNotFound
	}
	return nil
}

// ──────────────────────────────────────────────────────────────
// Subscriptions
// ──────────────────────────────────────────────────────────────

func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	_, err := s.db.Collection(colSubscriptions).InsertOne(ctx, toSubscriptionModel(sub))
	if mongodrv.IsDuplicateKeyError(err) {
		return ledger.ErrSubscriptionExists
	}
	return err
}

func (s *Store) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	var m subscriptionModel
	err := s.db.Collection(colSubscriptions).
		FindOne(ctx, bson.M{"_id": subID.String()}).Decode(&m)
	if errors.Is(err, mongodrv.ErrNoDocuments) {
		return nil, ledger.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromSubscriptionModel(&m)
}

func (s *Store) GetActiveSubscription(ctx context.Context, orgID id.OrgID) (*subscription.Subscription, error) {
	var m subscriptionModel
	err := s.db.Collection(colSubscriptions).FindOne(ctx, bson.M{
		"org_id": orgID.String(),
		"status": bson.M{"$in": []string{
			string(subscription.StatusActive),
			string(subscription.StatusTrialing),
		}},
	}).Decode(&m)
	if errors.Is(err, mongodrv.ErrNoDocuments) {
		return nil, ledger.ErrNoActiveSubscription
	}
	if err != nil {
		return nil, err
	}
	return fromSubscriptionModel(&m)
}

func (s *Store) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	res, err := s.db.Collection(colSubscriptions).
		ReplaceOne(ctx, bson.M{"_id": sub.ID.String()}, toSubscriptionModel(sub))
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ledger.ErrSubscriptionNotFound
	}
	return nil
}

func (s *Store) CancelSubscription(ctx context.Context, subID id.SubscriptionID, cancelAt time.Time) error {
	now := time.Now().UTC()
	set := bson.M{"cancel_at": cancelAt, "updated_at": now}
	if !cancelAt.After(now) {
		set["status"] = string(subscription.StatusCanceled)
		set["canceled_at"] = now
	}

	res, err := s.db.Collection(colSubscriptions).
		UpdateOne(ctx, bson.M{"_id": subID.String()}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ledger.ErrSubscriptionNotFound
	}
	return nil
}

// ──────────────────────────────────────────────────────────────
// Billing periods
// ──────────────────────────────────────────────────────────────

func (s *Store) ReserveCredits(ctx context.Context, orgID id.OrgID, key period.Key, amount, limit int64) (int64, bool, error) {
	col := s.db.Collection(colBillingPeriods)
	now := time.Now().UTC()

	// Lazy document creation. Losing the upsert race to a concurrent
	// reservation is fine.
	_, err := col.UpdateOne(ctx,
		bson.M{"org_id": orgID.String(), "period_key": key.String()},
		bson.M{"$setOnInsert": bson.M{
			"_id":          id.NewPeriodID().String(),
			"org_id":       orgID.String(),
			"period_key":   key.String(),
			"credits_used": int64(0),
			"created_at":   now,
			"updated_at":   now,
		}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil && !mongodrv.IsDuplicateKeyError(err) {
		return 0, false, err
	}

	// The filter admits the document only while the increment fits, so
	// findAndModify is the whole grant-or-deny decision.
	var m periodModel
	err = col.FindOneAndUpdate(ctx,
		bson.M{
			"org_id":       orgID.String(),
			"period_key":   key.String(),
			"credits_used": bson.M{"$lte": limit - amount},
		},
		bson.M{
			"$inc": bson.M{"credits_used": amount},
			"$set": bson.M{"updated_at": now},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&m)
	if err == nil {
		return m.CreditsUsed, true, nil
	}
	if !errors.Is(err, mongodrv.ErrNoDocuments) {
		return 0, false, err
	}

	// Denied. Report the counter as it stood.
	err = col.FindOne(ctx,
		bson.M{"org_id": orgID.String(), "period_key": key.String()},
	).Decode(&m)
	if err != nil {
		return 0, false, err
	}
	return m.CreditsUsed, false, nil
}

func (s *Store) ReleaseCredits(ctx context.Context, orgID id.OrgID, key period.Key, amount int64) (int64, bool, error) {
	col := s.db.Collection(colBillingPeriods)
	now := time.Now().UTC()

	// One findAndModify with a pipeline update so the decrement and the
	// zero clamp commit together; the pre-image tells us whether the
	// counter was below the release amount.
	var before periodModel
	err := col.FindOneAndUpdate(ctx,
		bson.M{"org_id": orgID.String(), "period_key": key.String()},
		bson.A{bson.M{"$set": bson.M{
			"credits_used": bson.M{"$max": bson.A{
				int64(0),
				bson.M{"$subtract": bson.A{"$credits_used", amount}},
			}},
			"updated_at": now,
		}}},
		options.FindOneAndUpdate().SetReturnDocument(options.Before),
	).Decode(&before)
	if errors.Is(err, mongodrv.ErrNoDocuments) {
		// No usage document means nothing was ever reserved this month.
		return 0, true, nil
	}
	if err != nil {
		return 0, false, err
	}
	if before.CreditsUsed < amount {
		return 0, true, nil
	}
	return before.CreditsUsed - amount, false, nil
}

func (s *Store) GetPeriod(ctx context.Context, orgID id.OrgID, key period.Key) (*billing.Period, error) {
	var m periodModel
	err := s.db.Collection(colBillingPeriods).FindOne(ctx,
		bson.M{"org_id": orgID.String(), "period_key": key.String()},
	).Decode(&m)
	if errors.Is(err, mongodrv.ErrNoDocuments) {
		return nil, ledger.ErrPeriodNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromPeriodModel(&m)
}

// ──────────────────────────────────────────────────────────────
// Audit entries
// ──────────────────────────────────────────────────────────────

func (s *Store) AppendAuditEntry(ctx context.Context, e *audit.Entry) error {
	_, err := s.db.Collection(colAuditEntries).InsertOne(ctx, toAuditEntryModel(e))
	if mongodrv.IsDuplicateKeyError(err) {
		return ledger.ErrAlreadyExists
	}
	return err
}

func (s *Store) ListAuditEntries(ctx context.Context, orgID id.OrgID, opts audit.QueryOpts) ([]*audit.Entry, error) {
	filter := bson.M{"org_id": orgID.String()}
	if opts.Action != "" {
		filter["action"] = opts.Action
	}
	if opts.Outcome != "" {
		filter["outcome"] = string(opts.Outcome)
	}
	created := bson.M{}
	if !opts.Since.IsZero() {
		created["$gte"] = opts.Since
	}
	if !opts.Until.IsZero() {
		created["$lte"] = opts.Until
	}
	if len(created) > 0 {
		filter["created_at"] = created
	}

	findOpts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}

	cur, err := s.db.Collection(colAuditEntries).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx) //nolint:errcheck

	entries := make([]*audit.Entry, 0)
	for cur.Next(ctx) {
		var m auditEntryModel
		if err := cur.Decode(&m); err != nil {
			return nil, err
		}
		e, err := fromAuditEntryModel(&m)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, cur.Err()
}

func (s *Store) DetachAuditReferences(ctx context.Context, orgID id.OrgID, brandKitID id.BrandKitID, assetID id.AssetID) (int64, error) {
	col := s.db.Collection(colAuditEntries)

	var total int64
	if !brandKitID.IsNil() {
		res, err := col.UpdateMany(ctx,
			bson.M{"org_id": orgID.String(), "brand_kit_id": brandKitID.String()},
			bson.M{"$unset": bson.M{"brand_kit_id": ""}},
		)
		if err != nil {
			return total, err
		}
		total += res.ModifiedCount
	}
	if !assetID.IsNil() {
		res, err := col.UpdateMany(ctx,
			bson.M{"org_id": orgID.String(), "asset_id": assetID.String()},
			bson.M{"$unset": bson.M{"asset_id": ""}},
		)
		if err != nil {
			return total, err
		}
		total += res.ModifiedCount
	}
	return total, nil
}
