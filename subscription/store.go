package subscription

import (
	"context"
	"time"

	"github.com/brandforge/ledger/id"
)

// Store is the persistence contract for subscriptions.
type Store interface {
	Create(ctx context.Context, s *Subscription) error
	Get(ctx context.Context, subID id.SubscriptionID) (*Subscription, error)
	// GetActive returns the organization's subscription if its status
	// authorizes usage (active or trialing).
	GetActive(ctx context.Context, orgID id.OrgID) (*Subscription, error)
	Update(ctx context.Context, s *Subscription) error
	Cancel(ctx context.Context, subID id.SubscriptionID, cancelAt time.Time) error
}
