package logging

import "testing"

func TestNewAcceptsKnownLevelsAndFormats(t *testing.T) {
	for _, level := range []string{"", "debug", "info", "warn", "error"} {
		for _, format := range []string{"", "json", "console"} {
			if _, err := New(level, format); err != nil {
				t.Fatalf("New(%q, %q): %v", level, format, err)
			}
		}
	}
}

func TestNewRejectsBadInput(t *testing.T) {
	if _, err := New("verbose", "json"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
	if _, err := New("info", "xml"); err == nil {
		t.Fatalf("expected error for unknown format")
	}
}
