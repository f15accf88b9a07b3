// Package id defines TypeID-based identity types for all Ledger entities.
//
// Every entity uses a single ID struct with a prefix that identifies the
// entity type. IDs are K-sortable (UUIDv7-based), globally unique, and
// URL-safe in the format "prefix_suffix".
package id

import (
	"database/sql/driver"
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix identifies the entity type encoded in a TypeID.
type Prefix string

// Prefix constants for all Ledger entity types.
const (
	PrefixOrganization Prefix = "org"   // Organization (tenant boundary)
	PrefixPlan         Prefix = "plan"  // Subscription plan
	PrefixSubscription Prefix = "sub"   // Organization subscription
	PrefixPeriod       Prefix = "per"   // Billing period row
	PrefixAuditEntry   Prefix = "aud"   // Audit entry
	PrefixBrandKit     Prefix = "bkit"  // Brand kit (weak audit reference)
	PrefixAsset        Prefix = "asset" // Generated asset (weak audit reference)
)

// ID is the primary identifier type for all Ledger entities.
// It wraps a TypeID providing a prefix-qualified, globally unique,
// sortable, URL-safe identifier in the format "prefix_suffix".
//
//nolint:recvcheck // Value receivers for read-only methods, pointer receivers for UnmarshalText/Scan.
type ID struct {
	inner typeid.TypeID
	valid bool
}

// Nil is the zero-value ID.
var Nil ID

// New generates a new globally unique ID with the given prefix.
// It panics if prefix is not a valid TypeID prefix (programming error).
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: invalid prefix %q: %v", prefix, err))
	}

	return ID{inner: tid, valid: true}
}

// Parse parses a TypeID string (e.g., "org_01h2xcejqtf2nbrexx3vqjhp41")
// into an ID. Returns an error if the string is not valid.
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse %q: empty string", s)
	}

	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}

	return ID{inner: tid, valid: true}, nil
}

// ParseWithPrefix parses a TypeID string and validates that its prefix
// matches the expected value.
func ParseWithPrefix(s string, expected Prefix) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}

	if parsed.Prefix() != expected {
		return Nil, fmt.Errorf("id: expected prefix %q, got %q", expected, parsed.Prefix())
	}

	return parsed, nil
}

// MustParse is like Parse but panics on error. Use for hardcoded ID values.
func MustParse(s string) ID {
	parsed, err := Parse(s)
	if err != nil {
		panic(fmt.Sprintf("id: must parse %q: %v", s, err))
	}

	return parsed
}

// MustParseWithPrefix is like ParseWithPrefix but panics on error.
func MustParseWithPrefix(s string, expected Prefix) ID {
	parsed, err := ParseWithPrefix(s, expected)
	if err != nil {
		panic(fmt.Sprintf("id: must parse with prefix %q: %v", expected, err))
	}

	return parsed
}

// ──────────────────────────────────────────────────
// Type aliases
// ──────────────────────────────────────────────────

// OrgID is a type-safe identifier for organizations (prefix: "org").
type OrgID = ID

// PlanID is a type-safe identifier for plans (prefix: "plan").
type PlanID = ID

// SubscriptionID is a type-safe identifier for subscriptions (prefix: "sub").
type SubscriptionID = ID

// PeriodID is a type-safe identifier for billing period rows (prefix: "per").
type PeriodID = ID

// AuditEntryID is a type-safe identifier for audit entries (prefix: "aud").
type AuditEntryID = ID

// BrandKitID is a type-safe identifier for brand kits (prefix: "bkit").
type BrandKitID = ID

// AssetID is a type-safe identifier for generated assets (prefix: "asset").
type AssetID = ID

// AnyID is a type alias that accepts any valid prefix.
type AnyID = ID

// ──────────────────────────────────────────────────
// Convenience constructors
// ──────────────────────────────────────────────────

// NewOrgID generates a new unique organization ID.
func NewOrgID() ID { return New(PrefixOrganization) }

// NewPlanID generates a new unique plan ID.
func NewPlanID() ID { return New(PrefixPlan) }

// NewSubscriptionID generates a new unique subscription ID.
func NewSubscriptionID() ID { return New(PrefixSubscription) }

// NewPeriodID generates a new unique billing period row ID.
func NewPeriodID() ID { return New(PrefixPeriod) }

// NewAuditEntryID generates a new unique audit entry ID.
func NewAuditEntryID() ID { return New(PrefixAuditEntry) }

// NewBrandKitID generates a new unique brand kit ID.
func NewBrandKitID() ID { return New(PrefixBrandKit) }

// NewAssetID generates a new unique asset ID.
func NewAssetID() ID { return New(PrefixAsset) }

// ──────────────────────────────────────────────────
// Convenience parsers
// ──────────────────────────────────────────────────

// ParseOrgID parses a string and validates the "org" prefix.
func ParseOrgID(s string) (ID, error) { return ParseWithPrefix(s, PrefixOrganization) }

// ParsePlanID parses a string and validates the "plan" prefix.
func ParsePlanID(s string) (ID, error) { return ParseWithPrefix(s, PrefixPlan) }

// ParseSubscriptionID parses a string and validates the "sub" prefix.
func ParseSubscriptionID(s string) (ID, error) { return ParseWithPrefix(s, PrefixSubscription) }

// ParsePeriodID parses a string and validates the "per" prefix.
func ParsePeriodID(s string) (ID, error) { return ParseWithPrefix(s, PrefixPeriod) }

// ParseAuditEntryID parses a string and validates the "aud" prefix.
func ParseAuditEntryID(s string) (ID, error) { return ParseWithPrefix(s, PrefixAuditEntry) }

// ParseBrandKitID parses a string and validates the "bkit" prefix.
func ParseBrandKitID(s string) (ID, error) { return ParseWithPrefix(s, PrefixBrandKit) }

// ParseAssetID parses a string and validates the "asset" prefix.
func ParseAssetID(s string) (ID, error) { return ParseWithPrefix(s, PrefixAsset) }

// ParseAny parses a string into an ID without type checking the prefix.
func ParseAny(s string) (ID, error) { return Parse(s) }

// ──────────────────────────────────────────────────
// ID methods
// ──────────────────────────────────────────────────

// String returns the full TypeID string representation (prefix_suffix).
// Returns an empty string for the Nil ID.
func (i ID) String() string {
	if !i.valid {
		return ""
	}

	return i.inner.String()
}

// Prefix returns the prefix component of this ID.
func (i ID) Prefix() Prefix {
	if !i.valid {
		return ""
	}

	return Prefix(i.inner.Prefix())
}

// IsNil reports whether this ID is the zero value.
func (i ID) IsNil() bool {
	return !i.valid
}

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) {
	if !i.valid {
		return []byte{}, nil
	}

	return []byte(i.inner.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil

		return nil
	}

	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}

	*i = parsed

	return nil
}

// Value implements driver.Valuer for database storage.
// Returns nil for the Nil ID so that optional foreign key columns store NULL.
func (i ID) Value() (driver.Value, error) {
	if !i.valid {
		return nil, nil //nolint:nilnil // nil is the canonical NULL for driver.Valuer
	}

	return i.inner.String(), nil
}

// Scan implements sql.Scanner for database retrieval.
func (i *ID) Scan(src any) error {
	if src == nil {
		*i = Nil

		return nil
	}

	switch v := src.(type) {
	case string:
		if v == "" {
			*i = Nil

			return nil
		}

		return i.UnmarshalText([]byte(v))
	case []byte:
		if len(v) == 0 {
			*i = Nil

			return nil
		}

		return i.UnmarshalText(v)
	default:
		return fmt.Errorf("id: cannot scan %T into ID", src)
	}
}
