// Package period defines billing-period keys for credit metering.
//
// A Key names one calendar month ("2024-05") in the billing time zone
// configured on the engine. Credit consumption is scoped per
// (organization, Key) pair, and every period's counter starts at zero:
// unused credits expire at rollover, they do not carry over.
package period

import (
	"fmt"
	"time"
)

// Layout is the wire format of a period key.
const Layout = "2006-01"

// Key identifies one calendar month, formatted per Layout.
type Key string

// KeyFor derives the period key for the given instant.
// The caller decides the billing time zone by converting t first
// (typically via the engine's configured location).
func KeyFor(t time.Time) Key {
	return Key(t.Format(Layout))
}

// Parse validates and normalizes a period key string.
func Parse(s string) (Key, error) {
	t, err := time.Parse(Layout, s)
	if err != nil {
		return "", fmt.Errorf("period: parse %q: %w", s, err)
	}
	return KeyFor(t), nil
}

// MustParse is like Parse but panics on error. Use for hardcoded keys.
func MustParse(s string) Key {
	k, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return k
}

// String returns the key in Layout format.
func (k Key) String() string { return string(k) }

// IsZero reports whether the key is empty.
func (k Key) IsZero() bool { return k == "" }

// Valid reports whether the key parses as a calendar month.
func (k Key) Valid() bool {
	_, err := time.Parse(Layout, string(k))
	return err == nil
}

// Start returns the first instant of the period in loc.
func (k Key) Start(loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(Layout, string(k), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("period: invalid key %q: %w", k, err)
	}
	return t, nil
}

// Next returns the key of the following calendar month.
func (k Key) Next() Key {
	t, err := time.Parse(Layout, string(k))
	if err != nil {
		return ""
	}
	return KeyFor(t.AddDate(0, 1, 0))
}

// Prev returns the key of the preceding calendar month.
func (k Key) Prev() Key {
	t, err := time.Parse(Layout, string(k))
	if err != nil {
		return ""
	}
	return KeyFor(t.AddDate(0, -1, 0))
}
