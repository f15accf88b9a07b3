package types_test

import (
	"encoding/json"
	"testing"

	"github.com/brandforge/ledger/types"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name     string
		money    types.Money
		amount   int64
		currency string
	}{
		{"USD", types.USD(4900), 4900, "usd"},
		{"EUR", types.EUR(19900), 19900, "eur"},
		{"GBP", types.GBP(9900), 9900, "gbp"},
		{"Zero", types.Zero("USD"), 0, "usd"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.money.Amount != tt.amount {
				t.Errorf("amount = %d, want %d", tt.money.Amount, tt.amount)
			}
			if tt.money.Currency != tt.currency {
				t.Errorf("currency = %q, want %q", tt.money.Currency, tt.currency)
			}
		})
	}
}

func TestArithmetic(t *testing.T) {
	m1 := types.USD(100)
	m2 := types.USD(250)

	if got := m1.Add(m2); got.Amount != 350 {
		t.Errorf("Add = %d, want 350", got.Amount)
	}
	if got := m2.Subtract(m1); got.Amount != 150 {
		t.Errorf("Subtract = %d, want 150", got.Amount)
	}
	if got := m1.Multiply(3); got.Amount != 300 {
		t.Errorf("Multiply = %d, want 300", got.Amount)
	}
}

func TestCurrencyMismatchPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic on currency mismatch")
		}
	}()
	types.USD(100).Add(types.EUR(100))
}

func TestComparison(t *testing.T) {
	m1 := types.USD(100)
	m2 := types.USD(200)

	if !m1.LessThan(m2) {
		t.Error("100 should be less than 200")
	}
	if !m1.Equal(types.USD(100)) {
		t.Error("equal values should compare equal")
	}
	if m1.Equal(types.EUR(100)) {
		t.Error("different currencies should not compare equal")
	}
	if !types.Zero("usd").IsZero() {
		t.Error("Zero should be zero")
	}
	if !m1.IsPositive() {
		t.Error("100 should be positive")
	}
}

func TestFormatting(t *testing.T) {
	tests := []struct {
		money types.Money
		major string
		full  string
	}{
		{types.USD(4900), "49.00", "$49.00"},
		{types.EUR(19900), "199.00", "€199.00"},
		{types.GBP(50), "0.50", "£0.50"},
		{types.USD(-150), "-1.50", "$-1.50"},
		{types.Money{Amount: 100, Currency: "sek"}, "1.00", "SEK 1.00"},
	}

	for _, tt := range tests {
		if got := tt.money.FormatMajor(); got != tt.major {
			t.Errorf("FormatMajor(%+v) = %q, want %q", tt.money, got, tt.major)
		}
		if got := tt.money.String(); got != tt.full {
			t.Errorf("String(%+v) = %q, want %q", tt.money, got, tt.full)
		}
	}
}

func TestJSONRoundTrip(t *testing.T) {
	original := types.USD(4900)

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded types.Money
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if !decoded.Equal(original) {
		t.Errorf("round-trip mismatch: %+v != %+v", decoded, original)
	}
}
