package pipeline

import (
	"regexp"
	"strings"
	"time"

	"statuscert-backend/internal/facts"
)

var (
	placeholderTitle    = regexp.MustCompile(`(?i)^untitled status certificate`)
	businessHoursNoise  = regexp.MustCompile(`(?i),\s*during normal business hours.*$`)
	writtenRequestNoise = regexp.MustCompile(`(?i)\bprovided a request is in writing.*$`)
)

func isPlaceholderTitle(title string) bool {
	trimmed := strings.TrimSpace(title)
	return trimmed == "" || placeholderTitle.MatchString(trimmed)
}

// cleanTitlePart strips the boilerplate the certificate's address block often
// drags along, so titles stay readable.
func cleanTitlePart(value *string) string {
	if value == nil {
		return ""
	}
	s := whitespaceRun.ReplaceAllString(*value, " ")
	s = businessHoursNoise.ReplaceAllString(s, "")
	s = writtenRequestNoise.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// buildAutoReviewTitle derives a matter title from the extraction, preferring
// "unit - address" and degrading gracefully to whatever identity fields exist.
func buildAutoReviewTitle(extracted facts.Extracted, now time.Time) string {
	unit := cleanTitlePart(extracted.Unit)
	address := cleanTitlePart(extracted.PropertyAddress)

	var subject string
	switch {
	case unit != "" && address != "":
		subject = unit + " - " + address
	case address != "":
		subject = address
	case unit != "":
		subject = unit
	default:
		subject = cleanTitlePart(extracted.CorporationName)
	}
	if subject == "" {
		subject = "Status Certificate"
	}
	if len(subject) > 120 {
		subject = subject[:120]
	}
	return subject + " - " + now.Format("2006-01-02 15:04")
}
