package types_test

import (
	"testing"

	"github.com/brandforge/ledger/types"
)

func TestDoc(t *testing.T) {
	d := types.Doc("prompt", "summer campaign", "width", 1024)

	if d.String("prompt") != "summer campaign" {
		t.Errorf("prompt = %q, want %q", d.String("prompt"), "summer campaign")
	}
	if d["width"] != 1024 {
		t.Errorf("width = %v, want 1024", d["width"])
	}

	// trailing odd value is dropped
	odd := types.Doc("a", 1, "dangling")
	if _, ok := odd["dangling"]; ok {
		t.Error("dangling key should have been dropped")
	}
}

func TestErrorDoc(t *testing.T) {
	d := types.ErrorDoc("renderer timeout")
	if d.String("error") != "renderer timeout" {
		t.Errorf("error = %q, want %q", d.String("error"), "renderer timeout")
	}
}

func TestDocumentScanValue(t *testing.T) {
	original := types.Doc("action", "render", "attempt", float64(2))

	v, err := original.Value()
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}

	var decoded types.Document
	if err := decoded.Scan(v); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	if decoded.String("action") != "render" {
		t.Errorf("action = %q, want %q", decoded.String("action"), "render")
	}
	if decoded["attempt"] != float64(2) {
		t.Errorf("attempt = %v, want 2", decoded["attempt"])
	}
}

func TestDocumentScanNil(t *testing.T) {
	var d types.Document
	if err := d.Scan(nil); err != nil {
		t.Fatalf("Scan(nil) failed: %v", err)
	}
	if d != nil {
		t.Errorf("expected nil document, got %v", d)
	}

	var nilDoc types.Document
	v, err := nilDoc.Value()
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}
	if v != nil {
		t.Errorf("nil document Value() = %v, want nil", v)
	}
}

func TestDocumentClone(t *testing.T) {
	original := types.Doc("k", "v")
	clone := original.Clone()
	clone["k"] = "changed"

	if original.String("k") != "v" {
		t.Error("mutating clone should not affect original")
	}
}
