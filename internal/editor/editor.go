// Package editor converts between the structured section list and the plain
// markdown-style text the review editor works on. Headings are the join key:
// "## <Title>" lines delimit sections on the way back in.
package editor

import (
	"fmt"
	"regexp"
	"strings"

	"statuscert-backend/internal/templates"
)

// SectionsToReviewText flattens sections into editable text, one "## Title"
// heading per section.
func SectionsToReviewText(sections []templates.Section) string {
	parts := make([]string, 0, len(sections))
	for _, section := range sections {
		body := strings.TrimSpace(section.Content)
		parts = append(parts, fmt.Sprintf("## %s\n\n%s", section.Title, body))
	}
	return strings.Join(parts, "\n\n")
}

// ReviewTextToSections splits edited text back onto the template's canonical
// section list. Matching is case-insensitive on the exact heading line. When
// no heading matches at all, the entire text lands in the first section so
// nothing the user wrote is ever dropped.
func ReviewTextToSections(templateSections []templates.Section, reviewText string) []templates.Section {
	text := strings.TrimSpace(reviewText)

	out := make([]templates.Section, len(templateSections))
	copy(out, templateSections)
	for i := range out {
		out[i].Content = ""
	}
	if text == "" {
		return out
	}

	consumed := false
	for i := range out {
		current := headingPattern(out[i].Title)
		loc := current.FindStringIndex(text)
		if loc == nil {
			continue
		}

		start := loc[1]
		end := len(text)
		if i+1 < len(out) {
			next := headingPattern(out[i+1].Title)
			if nextLoc := next.FindStringIndex(text[start:]); nextLoc != nil {
				end = start + nextLoc[0]
			}
		}

		out[i].Content = strings.TrimSpace(text[start:end])
		consumed = true
	}

	if !consumed && len(out) > 0 {
		out[0].Content = text
	}
	return out
}

func headingPattern(title string) *regexp.Regexp {
	return regexp.MustCompile(`(?im)^##\s+` + regexp.QuoteMeta(title) + `\s*$`)
}
