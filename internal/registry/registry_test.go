package registry

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultLookup(t *testing.T) {
	r := Default()

	cik, err := r.Lookup("AAPL")
	if err != nil {
		t.Fatalf("Lookup(AAPL): %v", err)
	}
	if cik != "0000320193" {
		t.Errorf("AAPL CIK: got %s, want 0000320193", cik)
	}

	// Case-insensitive.
	if _, err := r.Lookup(" msft "); err != nil {
		t.Errorf("Lookup(msft): %v", err)
	}
}

func TestLookupUnsupported(t *testing.T) {
	r := Default()
	_, err := r.Lookup("IBM")
	var uerr *UnsupportedIdentifierError
	if !errors.As(err, &uerr) {
		t.Fatalf("expected *UnsupportedIdentifierError, got %v", err)
	}
	if uerr.Identifier != "IBM" {
		t.Errorf("Identifier: got %q", uerr.Identifier)
	}
	if !strings.Contains(err.Error(), "IBM") || !strings.Contains(err.Error(), "AAPL") {
		t.Errorf("error should name the identifier and the supported set: %v", err)
	}
	if r.Supports("IBM") {
		t.Error("Supports(IBM) should be false")
	}
}

func TestIdentifiersSorted(t *testing.T) {
	ids := Default().Identifiers()
	if len(ids) != 8 {
		t.Fatalf("expected 8 default identifiers, got %d", len(ids))
	}
	for i := 1; i < len(ids); i++ {
		if ids[i-1] > ids[i] {
			t.Errorf("identifiers not sorted: %v", ids)
		}
	}
}

func TestNewRejectsBadKeys(t *testing.T) {
	if _, err := New(map[string]string{"X": "12a"}); err == nil {
		t.Error("expected error for non-numeric CIK")
	}
	if _, err := New(map[string]string{"X": "12345678901"}); err == nil {
		t.Error("expected error for 11-digit CIK")
	}
	if _, err := New(map[string]string{" ": "1"}); err == nil {
		t.Error("expected error for empty identifier")
	}
}

func TestPadAndUnpadCIK(t *testing.T) {
	tests := []struct {
		in, padded, unpadded string
	}{
		{"320193", "0000320193", "320193"},
		{"0000320193", "0000320193", "320193"},
		{"1", "0000000001", "1"},
	}
	for _, tt := range tests {
		got, err := PadCIK(tt.in)
		if err != nil {
			t.Fatalf("PadCIK(%q): %v", tt.in, err)
		}
		if got != tt.padded {
			t.Errorf("PadCIK(%q) = %q, want %q", tt.in, got, tt.padded)
		}
		if u := UnpadCIK(got); u != tt.unpadded {
			t.Errorf("UnpadCIK(%q) = %q, want %q", got, u, tt.unpadded)
		}
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.yaml")
	content := "companies:\n  ibm: \"51143\"\n  AAPL: \"0000320193\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	r, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	cik, err := r.Lookup("IBM")
	if err != nil {
		t.Fatalf("Lookup(IBM): %v", err)
	}
	if cik != "0000051143" {
		t.Errorf("IBM CIK: got %s, want 0000051143", cik)
	}
}

func TestLoadFileErrors(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "empty.yaml")
	if err := os.WriteFile(path, []byte("companies: {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Error("expected error for empty registry")
	}
}
