package editor

import (
	"strings"
	"testing"

	"statuscert-backend/internal/templates"
)

func testSections() []templates.Section {
	return []templates.Section{
		{Key: "intro", Title: "Purpose and Scope", Style: templates.StyleNarrative, Content: "This review covers the status certificate package."},
		{Key: "summary", Title: "Key Terms Summary", Style: templates.StyleStructured, Content: "Common expenses: $540.12 [p.2]"},
		{Key: "insurance", Title: "Insurance", Style: templates.StyleNarrative, Content: ""},
	}
}

func TestRoundTripPreservesSectionSet(t *testing.T) {
	sections := testSections()
	text := SectionsToReviewText(sections)

	if !strings.Contains(text, "## Purpose and Scope") || !strings.Contains(text, "## Insurance") {
		t.Fatalf("expected headings for every section:\n%s", text)
	}

	back := ReviewTextToSections(sections, text)
	if len(back) != len(sections) {
		t.Fatalf("expected %d sections back, got %d", len(sections), len(back))
	}
	for i, section := range back {
		if section.Key != sections[i].Key {
			t.Fatalf("section order changed: %s at %d", section.Key, i)
		}
		want := strings.TrimSpace(sections[i].Content)
		if section.Content != want {
			t.Fatalf("section %s content mismatch: got %q want %q", section.Key, section.Content, want)
		}
	}
}

func TestReviewTextToSectionsEditedContent(t *testing.T) {
	text := "## Purpose and Scope\n\nRewritten by the lawyer.\n\n## Key Terms Summary\n\nNew summary line.\n\n## Insurance\n\n"
	got := ReviewTextToSections(testSections(), text)

	if got[0].Content != "Rewritten by the lawyer." {
		t.Fatalf("unexpected intro content: %q", got[0].Content)
	}
	if got[1].Content != "New summary line." {
		t.Fatalf("unexpected summary content: %q", got[1].Content)
	}
	if got[2].Content != "" {
		t.Fatalf("expected empty insurance section, got %q", got[2].Content)
	}
}

func TestReviewTextToSectionsCaseInsensitiveHeadings(t *testing.T) {
	text := "## purpose and scope\n\nlower case heading still matches"
	got := ReviewTextToSections(testSections(), text)
	if got[0].Content != "lower case heading still matches" {
		t.Fatalf("expected case-insensitive match, got %q", got[0].Content)
	}
}

func TestReviewTextToSectionsNoHeadingsFallsToFirst(t *testing.T) {
	text := "Free-form notes without any headings.\nSecond line."
	got := ReviewTextToSections(testSections(), text)

	if got[0].Content != text {
		t.Fatalf("expected full text in first section, got %q", got[0].Content)
	}
	for _, section := range got[1:] {
		if section.Content != "" {
			t.Fatalf("expected later sections empty, got %q in %s", section.Content, section.Key)
		}
	}
}

func TestReviewTextToSectionsEmptyText(t *testing.T) {
	got := ReviewTextToSections(testSections(), "   \n  ")
	for _, section := range got {
		if section.Content != "" {
			t.Fatalf("expected all sections empty, got %q in %s", section.Content, section.Key)
		}
	}
}

func TestReviewTextToSectionsRegexMetaTitle(t *testing.T) {
	sections := []templates.Section{
		{Key: "costs", Title: "Costs (Monthly) & Fees", Style: templates.StyleNarrative},
		{Key: "other", Title: "Other", Style: templates.StyleNarrative},
	}
	text := "## Costs (Monthly) & Fees\n\n$540.12 per month\n\n## Other\n\nnothing"
	got := ReviewTextToSections(sections, text)
	if got[0].Content != "$540.12 per month" {
		t.Fatalf("expected meta characters in title to be escaped, got %q", got[0].Content)
	}
}
