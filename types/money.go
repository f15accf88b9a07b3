package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Money represents a monetary value in the smallest currency unit.
// All arithmetic is integer-only, no floating point.
//
// Examples:
//   - USD(4900) = $49.00 (4900 cents)
//   - EUR(19900) = €199.00 (19900 cents)
type Money struct {
	Amount   int64  `json:"amount"`   // Smallest unit (cents, pence, etc)
	Currency string `json:"currency"` // ISO 4217 lowercase: "usd", "eur", "gbp"
}

// USD creates a Money value in US Dollars (cents).
func USD(cents int64) Money { return Money{Amount: cents, Currency: "usd"} }

// EUR creates a Money value in Euros (cents).
func EUR(cents int64) Money { return Money{Amount: cents, Currency: "eur"} }

// GBP creates a Money value in British Pounds (pence).
func GBP(pence int64) Money { return Money{Amount: pence, Currency: "gbp"} }

// Zero returns a zero Money value in the specified currency.
func Zero(currency string) Money { return Money{Amount: 0, Currency: strings.ToLower(currency)} }

// Add adds two Money values. Panics if currencies don't match.
func (m Money) Add(other Money) Money {
	m.assertSameCurrency(other)
	return Money{Amount: m.Amount + other.Amount, Currency: m.Currency}
}

// Subtract subtracts another Money value. Panics if currencies don't match.
func (m Money) Subtract(other Money) Money {
	m.assertSameCurrency(other)
	return Money{Amount: m.Amount - other.Amount, Currency: m.Currency}
}

// Multiply multiplies the Money by a quantity.
func (m Money) Multiply(qty int64) Money {
	return Money{Amount: m.Amount * qty, Currency: m.Currency}
}

// IsZero returns true if the amount is zero.
func (m Money) IsZero() bool { return m.Amount == 0 }

// IsPositive returns true if the amount is greater than zero.
func (m Money) IsPositive() bool { return m.Amount > 0 }

// Equal returns true if both Money values are equal (same amount and currency).
func (m Money) Equal(other Money) bool {
	return m.Amount == other.Amount && m.Currency == other.Currency
}

// LessThan returns true if this Money is less than other. Panics if currencies don't match.
func (m Money) LessThan(other Money) bool {
	m.assertSameCurrency(other)
	return m.Amount < other.Amount
}

// FormatMajor returns the major unit string without currency symbol,
// e.g. "49.00" for USD(4900).
func (m Money) FormatMajor() string {
	isNegative := m.Amount < 0
	absAmount := m.Amount
	if isNegative {
		absAmount = -absAmount
	}

	result := fmt.Sprintf("%d.%02d", absAmount/100, absAmount%100)
	if isNegative {
		return "-" + result
	}
	return result
}

// String returns a human-readable string with currency symbol.
// Examples: "$49.00", "€199.00", "£99.00".
func (m Money) String() string {
	return currencySymbol(m.Currency) + m.FormatMajor()
}

// MarshalJSON implements json.Marshaler.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
		Display  string `json:"display"`
	}{
		Amount:   m.Amount,
		Currency: m.Currency,
		Display:  m.String(),
	})
}

// UnmarshalJSON implements json.Unmarshaler, accepting the wire shape
// produced by MarshalJSON (the display field is ignored).
func (m *Money) UnmarshalJSON(data []byte) error {
	var wire struct {
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	m.Amount = wire.Amount
	m.Currency = wire.Currency
	return nil
}

// assertSameCurrency panics if currencies don't match.
func (m Money) assertSameCurrency(other Money) {
	if m.Currency != other.Currency {
		panic(fmt.Sprintf("money: currency mismatch: %s != %s", m.Currency, other.Currency))
	}
}

// currencySymbol returns the symbol for a currency code.
func currencySymbol(currency string) string {
	switch strings.ToLower(currency) {
	case "usd":
		return "$"
	case "eur":
		return "€"
	case "gbp":
		return "£"
	default:
		return strings.ToUpper(currency) + " "
	}
}
