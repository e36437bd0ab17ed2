package services

import (
	"os"
	"path/filepath"
	"testing"
)

func TestStarterPick(t *testing.T) {
	s, err := NewStarterService("")
	if err != nil {
		t.Fatalf("NewStarterService: %v", err)
	}

	got := s.Pick(3)
	if len(got) != 3 {
		t.Fatalf("Pick(3) returned %d", len(got))
	}
	seen := map[string]bool{}
	for _, line := range got {
		if seen[line] {
			t.Errorf("duplicate starter %q", line)
		}
		seen[line] = true
	}

	// Zero falls back to the default count, oversized requests clamp.
	if got := s.Pick(0); len(got) != 3 {
		t.Errorf("Pick(0) returned %d, want 3", len(got))
	}
	if got := s.Pick(1000); len(got) != len(defaultStarters) {
		t.Errorf("Pick(1000) returned %d, want pool size %d", len(got), len(defaultStarters))
	}
}

func TestStarterFileOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "starters.yaml")
	content := "starters:\n  - line one\n  - line two\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	s, err := NewStarterService(path)
	if err != nil {
		t.Fatalf("NewStarterService: %v", err)
	}
	got := s.Pick(10)
	if len(got) != 2 {
		t.Fatalf("got %d starters, want 2 from the file", len(got))
	}
}

func TestStarterFileErrors(t *testing.T) {
	if _, err := NewStarterService("/nonexistent/starters.yaml"); err == nil {
		t.Error("missing file accepted")
	}

	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.yaml")
	os.WriteFile(empty, []byte("starters: []\n"), 0o644)
	if _, err := NewStarterService(empty); err == nil {
		t.Error("empty starters list accepted")
	}

	broken := filepath.Join(dir, "broken.yaml")
	os.WriteFile(broken, []byte(":\tnot yaml"), 0o644)
	if _, err := NewStarterService(broken); err == nil {
		t.Error("unparsable file accepted")
	}
}
