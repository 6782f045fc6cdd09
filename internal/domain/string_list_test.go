package domain

import (
	"reflect"
	"testing"
)

func TestStringListRoundTrip(t *testing.T) {
	raw, err := StringList{"post.created", "post.liked"}.Value()
	if err != nil {
		t.Fatalf("Value returned error: %v", err)
	}

	var out StringList
	if err := out.Scan(raw); err != nil {
		t.Fatalf("Scan returned error: %v", err)
	}
	if want := (StringList{"post.created", "post.liked"}); !reflect.DeepEqual(out, want) {
		t.Fatalf("round trip = %v, want %v", out, want)
	}
}

func TestStringListEmptyValue(t *testing.T) {
	raw, err := StringList(nil).Value()
	if err != nil {
		t.Fatalf("Value returned error: %v", err)
	}
	if raw != "[]" {
		t.Fatalf("empty list stored as %v, want []", raw)
	}
}

func TestStringListScanRejectsUnknownType(t *testing.T) {
	var out StringList
	if err := out.Scan(42); err == nil {
		t.Fatal("expected error scanning an int")
	}
}

func TestMetadataScanBytes(t *testing.T) {
	var m Metadata
	if err := m.Scan([]byte(`{"interval_ms":120}`)); err != nil {
		t.Fatalf("Scan returned error: %v", err)
	}
	if got, ok := m["interval_ms"].(float64); !ok || got != 120 {
		t.Fatalf("interval_ms = %v, want 120", m["interval_ms"])
	}
}
