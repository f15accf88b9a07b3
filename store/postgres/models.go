package postgres

import (
	"encoding/json"

	"github.com/brandforge/ledger/id"
	"github.com/brandforge/ledger/types"
)

// Column conversion helpers shared by the query methods. IDs travel as
// TEXT, metadata and documents as JSONB.

func nullableID(v id.ID) any {
	if v.IsNil() {
		return nil
	}
	return v.String()
}

func scanID(s *string, expected id.Prefix) (id.ID, error) {
	if s == nil || *s == "" {
		return id.Nil, nil
	}
	return id.ParseWithPrefix(*s, expected)
}

func metadataJSON(m map[string]string) []byte {
	if len(m) == 0 {
		return []byte("{}")
	}
	b, err := json.Marshal(m)
	if err != nil {
		return []byte("{}")
	}
	return b
}

func parseMetadata(b []byte) map[string]string {
	if len(b) == 0 {
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal(b, &m); err != nil {
		return nil
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

func documentJSON(d types.Document) []byte {
	if d.IsZero() {
		return []byte("{}")
	}
	b, err := json.Marshal(d)
	if err != nil {
		return []byte("{}")
	}
	return b
}

func parseDocument(b []byte) types.Document {
	if len(b) == 0 {
		return nil
	}
	var d types.Document
	if err := json.Unmarshal(b, &d); err != nil {
		return nil
	}
	if len(d) == 0 {
		return nil
	}
	return d
}
