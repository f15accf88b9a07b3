package plan

import (
	"context"
	"errors"

	"github.com/brandforge/ledger/id"
)

var (
	errEmptyName          = errors.New("plan: name is required")
	errNonPositiveCredits = errors.New("plan: monthly_credits must be positive")
)

// Store is the persistence contract for the plan catalog.
type Store interface {
	Create(ctx context.Context, p *Plan) error
	Get(ctx context.Context, planID id.PlanID) (*Plan, error)
	GetBySlug(ctx context.Context, slug string) (*Plan, error)
	List(ctx context.Context, opts ListOpts) ([]*Plan, error)
	Update(ctx context.Context, p *Plan) error
	Archive(ctx context.Context, planID id.PlanID) error
}

type ListOpts struct {
	Status Status
	Limit  int
	Offset int
}
