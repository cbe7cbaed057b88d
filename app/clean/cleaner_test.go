package clean

import (
	"strings"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Hello, World!", "hello world"},
		{"  Spaced\t\tout\n\nwords  ", "spaced out words"},
		{"X raises funding", "x raises funding"},
		{"X  raises   funding", "x raises funding"},
		{"UPPER-case; mixed: 123", "uppercase mixed 123"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := Normalize(tt.input); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestFingerprintIgnoresWhitespaceAndPunctuation(t *testing.T) {
	a := Fingerprint("X raises funding", "The body of the article.")
	b := Fingerprint("X  raises   funding", "The body,  of the article")

	if a != b {
		t.Error("Expected identical fingerprints for whitespace/punctuation variants")
	}

	c := Fingerprint("X raises funding", "A different body entirely.")
	if a == c {
		t.Error("Expected different fingerprints for different bodies")
	}

	if len(a) != 64 {
		t.Errorf("Expected 64-char hex digest, got %d chars", len(a))
	}
}

func TestCleanerStripsMarkup(t *testing.T) {
	cleaner := NewCleaner()

	text, err := cleaner.Run(`<div><script>alert("x")</script><style>p{color:red}</style><p>First paragraph.</p><p>Second   paragraph.</p></div>`)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if strings.Contains(text, "alert") {
		t.Errorf("Expected script content removed, got %q", text)
	}
	if strings.Contains(text, "color") {
		t.Errorf("Expected style content removed, got %q", text)
	}
	if !strings.Contains(text, "First paragraph.") || !strings.Contains(text, "Second paragraph.") {
		t.Errorf("Expected paragraph text preserved, got %q", text)
	}
}

func TestCleanerRejectsEmptyInput(t *testing.T) {
	cleaner := NewCleaner()

	if _, err := cleaner.Run(""); err == nil {
		t.Error("Expected error for empty input")
	}
	if _, err := cleaner.Run("   \n\t "); err == nil {
		t.Error("Expected error for whitespace-only input")
	}
}

func TestCleanerHandlesPlainTextContent(t *testing.T) {
	cleaner := NewCleaner()

	text, err := cleaner.Run("Just a plain feed description without any markup at all.")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !strings.Contains(text, "plain feed description") {
		t.Errorf("Expected plain text to survive cleaning, got %q", text)
	}
}
