package id

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestGenerate(t *testing.T) {
	id := Generate()

	if !Valid(id) {
		t.Errorf("unexpected ID format: %s", id)
	}

	id2 := Generate()
	if id == id2 {
		t.Error("expected different IDs for consecutive calls")
	}
}

func TestGenerate_Uniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := Generate()
		if seen[id] {
			t.Errorf("duplicate ID generated: %s", id)
		}
		seen[id] = true
	}
}

func TestFormat(t *testing.T) {
	at := time.Date(2024, 3, 9, 15, 30, 5, 0, time.FixedZone("CET", 3600))
	u := uuid.MustParse("1f0c2a9b-0000-4000-8000-000000000000")

	if got, want := format(at, u), "run-20240309T143005-1f0c2a9b"; got != want {
		t.Errorf("format = %s, want %s", got, want)
	}
}

func TestValid(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"run-20240309T143005-1f0c2a9b", true},
		{"run-20240309T143005-1F0C2A9B", false},
		{"job-20240309T143005-1f0c2a9b", false},
		{"run-1701432000-a1b2c3d4", false},
		{"run-missing", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := Valid(tt.in); got != tt.want {
			t.Errorf("Valid(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
