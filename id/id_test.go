package id_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/brandforge/ledger/id"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		newFn  func() id.ID
		prefix string
	}{
		{"OrgID", id.NewOrgID, "org_"},
		{"PlanID", id.NewPlanID, "plan_"},
		{"SubscriptionID", id.NewSubscriptionID, "sub_"},
		{"PeriodID", id.NewPeriodID, "per_"},
		{"AuditEntryID", id.NewAuditEntryID, "aud_"},
		{"BrandKitID", id.NewBrandKitID, "bkit_"},
		{"AssetID", id.NewAssetID, "asset_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.newFn().String()
			if !strings.HasPrefix(got, tt.prefix) {
				t.Errorf("expected prefix %q, got %q", tt.prefix, got)
			}
		})
	}
}

func TestNew(t *testing.T) {
	i := id.New(id.PrefixOrganization)
	if i.IsNil() {
		t.Fatal("expected non-nil ID")
	}
	if i.Prefix() != id.PrefixOrganization {
		t.Errorf("expected prefix %q, got %q", id.PrefixOrganization, i.Prefix())
	}
}

func TestParseRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		newFn   func() id.ID
		parseFn func(string) (id.ID, error)
	}{
		{"OrgID", id.NewOrgID, id.ParseOrgID},
		{"PlanID", id.NewPlanID, id.ParsePlanID},
		{"SubscriptionID", id.NewSubscriptionID, id.ParseSubscriptionID},
		{"PeriodID", id.NewPeriodID, id.ParsePeriodID},
		{"AuditEntryID", id.NewAuditEntryID, id.ParseAuditEntryID},
		{"BrandKitID", id.NewBrandKitID, id.ParseBrandKitID},
		{"AssetID", id.NewAssetID, id.ParseAssetID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := tt.newFn()
			parsed, err := tt.parseFn(original.String())
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			if parsed.String() != original.String() {
				t.Errorf("round-trip mismatch: %q != %q", parsed.String(), original.String())
			}
		})
	}
}

func TestCrossTypeRejection(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		parseFn func(string) (id.ID, error)
	}{
		{"ParseOrgID rejects plan_", id.NewPlanID().String(), id.ParseOrgID},
		{"ParsePlanID rejects sub_", id.NewSubscriptionID().String(), id.ParsePlanID},
		{"ParseSubscriptionID rejects per_", id.NewPeriodID().String(), id.ParseSubscriptionID},
		{"ParsePeriodID rejects aud_", id.NewAuditEntryID().String(), id.ParsePeriodID},
		{"ParseAuditEntryID rejects bkit_", id.NewBrandKitID().String(), id.ParseAuditEntryID},
		{"ParseBrandKitID rejects asset_", id.NewAssetID().String(), id.ParseBrandKitID},
		{"ParseAssetID rejects org_", id.NewOrgID().String(), id.ParseAssetID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.parseFn(tt.input)
			if err == nil {
				t.Errorf("expected error for cross-type parse of %q, got nil", tt.input)
			}
		})
	}
}

func TestParseAny(t *testing.T) {
	ids := []id.ID{
		id.NewOrgID(),
		id.NewPlanID(),
		id.NewSubscriptionID(),
		id.NewPeriodID(),
		id.NewAuditEntryID(),
		id.NewBrandKitID(),
		id.NewAssetID(),
	}

	for _, original := range ids {
		parsed, err := id.ParseAny(original.String())
		if err != nil {
			t.Fatalf("ParseAny(%q) failed: %v", original.String(), err)
		}
		if parsed.String() != original.String() {
			t.Errorf("round-trip mismatch: %q != %q", parsed.String(), original.String())
		}
	}
}

func TestParseErrors(t *testing.T) {
	tests := []string{
		"",
		"not-a-typeid",
		"org_",
		"_01h2xcejqtf2nbrexx3vqjhp41",
	}

	for _, input := range tests {
		if _, err := id.Parse(input); err == nil {
			t.Errorf("Parse(%q): expected error, got nil", input)
		}
	}
}

func TestNilID(t *testing.T) {
	var nilID id.ID

	if !nilID.IsNil() {
		t.Error("zero-value ID should be nil")
	}
	if nilID.String() != "" {
		t.Errorf("nil ID String() = %q, want empty", nilID.String())
	}
	if nilID.Prefix() != "" {
		t.Errorf("nil ID Prefix() = %q, want empty", nilID.Prefix())
	}

	v, err := nilID.Value()
	if err != nil {
		t.Fatalf("Value() failed: %v", err)
	}
	if v != nil {
		t.Errorf("nil ID Value() = %v, want nil", v)
	}
}

func TestJSONRoundTrip(t *testing.T) {
	type wrapper struct {
		Org   id.OrgID   `json:"org"`
		Asset id.AssetID `json:"asset,omitempty"`
	}

	original := wrapper{Org: id.NewOrgID()}

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded wrapper
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if decoded.Org.String() != original.Org.String() {
		t.Errorf("org mismatch: %q != %q", decoded.Org.String(), original.Org.String())
	}
	if !decoded.Asset.IsNil() {
		t.Errorf("expected nil asset after round-trip, got %q", decoded.Asset.String())
	}
}

func TestScan(t *testing.T) {
	original := id.NewAuditEntryID()

	var fromString id.ID
	if err := fromString.Scan(original.String()); err != nil {
		t.Fatalf("Scan(string) failed: %v", err)
	}
	if fromString.String() != original.String() {
		t.Errorf("Scan(string) mismatch: %q != %q", fromString.String(), original.String())
	}

	var fromBytes id.ID
	if err := fromBytes.Scan([]byte(original.String())); err != nil {
		t.Fatalf("Scan([]byte) failed: %v", err)
	}
	if fromBytes.String() != original.String() {
		t.Errorf("Scan([]byte) mismatch: %q != %q", fromBytes.String(), original.String())
	}

	var fromNil id.ID
	if err := fromNil.Scan(nil); err != nil {
		t.Fatalf("Scan(nil) failed: %v", err)
	}
	if !fromNil.IsNil() {
		t.Error("Scan(nil) should produce a nil ID")
	}

	var fromInt id.ID
	if err := fromInt.Scan(42); err == nil {
		t.Error("Scan(int) should fail")
	}
}
