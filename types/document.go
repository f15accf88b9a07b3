package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Document is an opaque structured payload: a JSON object whose schema
// varies by audit action and is not fixed at the library boundary.
// Values are the usual JSON shapes (string, float64, bool, nil,
// []any, map[string]any).
type Document map[string]any

// Doc builds a Document from alternating key/value pairs.
// Non-string keys are stringified. A trailing odd value is dropped.
func Doc(kv ...any) Document {
	d := make(Document, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kv[i])
		}
		d[key] = kv[i+1]
	}
	return d
}

// ErrorDoc builds the canonical error-shaped Document used for failed
// and abandoned audit actions.
func ErrorDoc(summary string) Document {
	return Document{"error": summary}
}

// IsZero reports whether the document is empty.
func (d Document) IsZero() bool { return len(d) == 0 }

// Clone returns a shallow copy of the document.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// String returns the string value for key, or "" if absent or not a string.
func (d Document) String(key string) string {
	if s, ok := d[key].(string); ok {
		return s
	}
	return ""
}

// Value implements driver.Valuer, serializing the document as JSON for
// storage in JSONB/TEXT columns. A nil document stores NULL.
func (d Document) Value() (driver.Value, error) {
	if d == nil {
		return nil, nil //nolint:nilnil // nil is the canonical NULL for driver.Valuer
	}
	return json.Marshal(d)
}

// Scan implements sql.Scanner for database retrieval.
func (d *Document) Scan(src any) error {
	if src == nil {
		*d = nil
		return nil
	}

	switch v := src.(type) {
	case []byte:
		if len(v) == 0 {
			*d = nil
			return nil
		}
		return json.Unmarshal(v, d)
	case string:
		if v == "" {
			*d = nil
			return nil
		}
		return json.Unmarshal([]byte(v), d)
	default:
		return fmt.Errorf("document: cannot scan %T into Document", src)
	}
}
