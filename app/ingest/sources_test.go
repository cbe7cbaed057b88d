package ingest

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseSources(t *testing.T) {
	data := []byte(`sources:
  - name: example
    url: https://news.example.com/rss
  - url: https://feeds.other.org/atom.xml
  - name: paused
    url: https://paused.example.com/rss
    disabled: true
`)

	sources, err := ParseSources(data)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(sources) != 2 {
		t.Fatalf("Expected 2 enabled sources, got %d", len(sources))
	}

	if sources[0].Name != "example" {
		t.Errorf("Expected name %q, got %q", "example", sources[0].Name)
	}
	if sources[1].Name != "feeds.other.org" {
		t.Errorf("Expected name defaulted from host, got %q", sources[1].Name)
	}
}

func TestParseSourcesRejectsInvalidURL(t *testing.T) {
	data := []byte(`sources:
  - name: broken
    url: not-a-url
`)

	if _, err := ParseSources(data); err == nil {
		t.Error("Expected error for invalid URL")
	}
}

func TestParseSourcesRejectsEmptyList(t *testing.T) {
	data := []byte(`sources:
  - name: paused
    url: https://paused.example.com/rss
    disabled: true
`)

	if _, err := ParseSources(data); err == nil {
		t.Error("Expected error when all sources are disabled")
	}

	if _, err := ParseSources([]byte("sources: []")); err == nil {
		t.Error("Expected error for empty list")
	}
}

func TestLoadSources(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sources.yml")
	content := "sources:\n  - name: example\n    url: https://news.example.com/rss\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	sources, err := LoadSources(path)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(sources) != 1 || sources[0].Name != "example" {
		t.Errorf("Unexpected sources: %+v", sources)
	}

	if _, err := LoadSources(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Error("Expected error for missing file")
	}
}
