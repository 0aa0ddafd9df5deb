package chunk

import (
	"strings"
	"testing"
)

func TestSourcesFromScored_RanksAndPreview(t *testing.T) {
	long := strings.Repeat("a", 450)
	page := 12
	chunks := []Scored{
		{ID: "c1", ResourceID: "r1", Content: long, Page: &page, Section: "Combat", Score: 0.9},
		{ID: "c2", ResourceID: "r1", Content: "short", Score: 0.5},
	}

	sources := SourcesFromScored(chunks)
	if len(sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(sources))
	}

	if sources[0].Rank != 1 || sources[1].Rank != 2 {
		t.Errorf("expected 1-based ranks in list order, got %d and %d",
			sources[0].Rank, sources[1].Rank)
	}
	if len(sources[0].Preview) != PreviewLength {
		t.Errorf("expected preview truncated to %d chars, got %d",
			PreviewLength, len(sources[0].Preview))
	}
	if sources[1].Preview != "short" {
		t.Errorf("short content must pass through untruncated, got %q", sources[1].Preview)
	}
	if sources[0].Page == nil || *sources[0].Page != 12 {
		t.Errorf("page metadata lost in conversion")
	}
}

func TestSourcesFromScored_Empty(t *testing.T) {
	sources := SourcesFromScored(nil)
	if len(sources) != 0 {
		t.Fatalf("expected 0 sources, got %d", len(sources))
	}
}

func TestTruncate_RuneBoundary(t *testing.T) {
	// 100 two-byte runes = 200 bytes; adding one more overflows the limit and
	// must not split the trailing rune.
	s := strings.Repeat("é", 101)
	out := truncate(s, PreviewLength)
	if len(out) != PreviewLength {
		t.Fatalf("expected %d bytes, got %d", PreviewLength, len(out))
	}
	for _, r := range out {
		if r == '�' {
			t.Fatal("truncation produced an invalid rune")
		}
	}
}
