package pipeline

import (
	"fmt"
	"regexp"
	"strings"

	"statuscert-backend/internal/facts"
	"statuscert-backend/internal/generate"
	"statuscert-backend/internal/templates"
)

// Conflict records a disagreement between the model's extraction and a value
// found directly in the source text. The source value always wins.
type Conflict struct {
	Field       string  `json:"field"`
	AIValue     *string `json:"ai_value"`
	SourceValue *string `json:"source_value"`
}

var (
	corporationPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)Toronto\s+Standard\s+Condominium\s+Corporation\s+No\.?\s*\d+`),
		regexp.MustCompile(`(?i)TSCC\s*\d+`),
	}
	addressPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(\d+\s+ST\.?\s+NICHOLAS\s+ST(?:REET)?(?:,\s*UNIT\s*\d+)?\s*,\s*TORONTO(?:,\s*ONTARIO)?(?:,\s*[A-Z]\d[A-Z]\s*\d[A-Z]\d)?)`),
		regexp.MustCompile(`(?i)(\d+\s+[A-Z0-9.\s]{3,80}\s*,\s*Toronto(?:,\s*Ontario)?(?:,\s*[A-Z]\d[A-Z]\s*\d[A-Z]\d)?)`),
	}
	unitPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(UNIT\s+\d{2,4})\b`),
		regexp.MustCompile(`(?i)UNIT\s+\d+\s*,?\s*LEVEL\s+\d+`),
		regexp.MustCompile(`(?i)(UNIT\s+\d+)`),
	}
	commonExpensesPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)common expenses[^$` + "\n" + `]*\$\s*([0-9,]+(?:\.[0-9]{2})?)`),
		regexp.MustCompile(`(?i)amount of \$\s*([0-9,]+(?:\.[0-9]{2})?)`),
	}
	reserveFundPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)reserve fund[^$` + "\n" + `]*\$\s*([0-9,]+(?:\.[0-9]{2})?)`),
	}

	whitespaceRun    = regexp.MustCompile(`\s+`)
	inlineCitation   = regexp.MustCompile(`(?i)\[p\.\d+`)
	nonComparable    = regexp.MustCompile(`[^a-z0-9.$-]`)
	insuranceWording = regexp.MustCompile(`(?i)secured all policies of insurance required under the condominium act, 1998`)
)

func extractFirstMatch(text string, patterns []*regexp.Regexp) *string {
	for _, pattern := range patterns {
		match := pattern.FindStringSubmatch(text)
		if match == nil {
			continue
		}
		captured := match[0]
		if len(match) > 1 && strings.TrimSpace(match[1]) != "" {
			captured = match[1]
		}
		if strings.TrimSpace(captured) == "" {
			continue
		}
		out := strings.TrimSpace(whitespaceRun.ReplaceAllString(captured, " "))
		return &out
	}
	return nil
}

// reconcileExtractedFacts overrides model-extracted identity and money fields
// with values matched directly in the merged source text. Disagreements are
// returned as conflicts so they surface in the audit event.
func reconcileExtractedFacts(rawText string, extracted facts.Extracted) (facts.Extracted, []Conflict) {
	out := extracted
	conflicts := []Conflict{}

	dollar := func(v string) string { return "$" + v }
	reconcile := func(field string, target **string, sourceValue *string, formatter func(string) string) {
		if sourceValue == nil {
			return
		}
		final := *sourceValue
		if formatter != nil {
			final = formatter(final)
		}
		if ai := *target; ai != nil && strings.TrimSpace(*ai) != "" && strings.TrimSpace(*ai) != strings.TrimSpace(final) {
			conflicts = append(conflicts, Conflict{Field: field, AIValue: ai, SourceValue: &final})
		}
		*target = &final
	}

	reconcile("corporation_name", &out.CorporationName, extractFirstMatch(rawText, corporationPatterns), nil)
	reconcile("property_address", &out.PropertyAddress, extractFirstMatch(rawText, addressPatterns), nil)
	reconcile("unit", &out.Unit, extractFirstMatch(rawText, unitPatterns), nil)
	reconcile("common_expenses", &out.CommonExpenses, extractFirstMatch(rawText, commonExpensesPatterns), dollar)
	reconcile("reserve_fund_balance", &out.ReserveFundBalance, extractFirstMatch(rawText, reserveFundPatterns), dollar)

	return out, conflicts
}

func normalizeComparable(value *string) string {
	if value == nil {
		return ""
	}
	s := strings.ToLower(*value)
	s = whitespaceRun.ReplaceAllString(s, " ")
	return strings.TrimSpace(nonComparable.ReplaceAllString(s, ""))
}

// computeAPSCrossChecks compares fields shared between the APS and the status
// certificate. Unit and common-expense mismatches are high risk; a missing
// side is reported as NOT_FOUND rather than a mismatch.
func computeAPSCrossChecks(extracted facts.Extracted) []facts.CrossCheckItem {
	aps := extracted.APSExtracted
	if aps == nil || !aps.APSPresent {
		return []facts.CrossCheckItem{}
	}

	type check struct {
		key, label string
		aps, cert  *string
		highRisk   bool
	}
	checks := []check{
		{key: "unit", label: "Unit", aps: aps.Unit, cert: extracted.Unit, highRisk: true},
		{key: "parking", label: "Parking", aps: aps.Parking, cert: extracted.Parking},
		{key: "locker", label: "Locker", aps: aps.Locker, cert: extracted.Locker},
		{key: "bike", label: "Bike", aps: aps.Bike, cert: extracted.Bike},
		{key: "common_expenses", label: "Common expenses", aps: aps.CommonExpenses, cert: extracted.CommonExpenses, highRisk: true},
	}

	trimmed := func(v *string) *string {
		if v == nil {
			return nil
		}
		s := strings.TrimSpace(*v)
		if s == "" {
			return nil
		}
		return &s
	}

	out := make([]facts.CrossCheckItem, 0, len(checks))
	for _, c := range checks {
		apsValue := trimmed(c.aps)
		certValue := trimmed(c.cert)
		item := facts.CrossCheckItem{
			Key:             c.key,
			Label:           c.label,
			APSValue:        apsValue,
			StatusCertValue: certValue,
		}
		if apsValue == nil || certValue == nil {
			item.Status = facts.CrossCheckNotFound
			item.Note = "Could not compare because one side is missing."
			out = append(out, item)
			continue
		}
		if normalizeComparable(apsValue) == normalizeComparable(certValue) {
			item.Status = facts.CrossCheckMatch
			item.Note = "APS and status certificate match."
		} else {
			item.Status = facts.CrossCheckMismatch
			item.Severity = generate.SeverityMed
			if c.highRisk {
				item.Severity = generate.SeverityHigh
			}
			item.Note = "APS and status certificate values differ. Confirm before closing."
		}
		out = append(out, item)
	}
	return out
}

// buildCrossCheckFlags raises one flag per APS mismatch, carrying up to two
// supporting quotes from the APS extraction.
func buildCrossCheckFlags(extracted facts.Extracted) []generate.FlagItem {
	var apsEvidence []facts.EvidenceItem
	if extracted.APSExtracted != nil {
		apsEvidence = extracted.APSExtracted.Evidence
	}

	out := []generate.FlagItem{}
	for _, check := range extracted.CrossChecks {
		if check.Status != facts.CrossCheckMismatch {
			continue
		}
		severity := check.Severity
		if severity == "" {
			severity = generate.SeverityMed
		}
		evidence := []generate.FlagEvidence{}
		for _, entry := range apsEvidence {
			if entry.Field != check.Key {
				continue
			}
			evidence = append(evidence, generate.FlagEvidence{Quote: entry.Quote, Page: entry.Page, Paragraph: entry.Paragraph})
			if len(evidence) == 2 {
				break
			}
		}
		out = append(out, generate.FlagItem{
			Key:                 "aps_mismatch_" + check.Key,
			Title:               "APS mismatch: " + check.Label,
			Severity:            severity,
			Evidence:            evidence,
			WhyItMatters:        check.Label + " in APS does not match status certificate value.",
			RecommendedFollowUp: "Confirm contractual details with client and request clarification from listing side before closing.",
		})
	}
	return out
}

// buildUnusualClauseFlags surfaces at most five unusual clauses as MED flags.
func buildUnusualClauseFlags(extracted facts.Extracted) []generate.FlagItem {
	out := []generate.FlagItem{}
	for _, clause := range extracted.UnusualClauses {
		if strings.TrimSpace(clause) == "" {
			continue
		}
		out = append(out, generate.FlagItem{
			Key:                 fmt.Sprintf("unusual_clause_%d", len(out)+1),
			Title:               "Unusual clause to review: " + clause,
			Severity:            generate.SeverityMed,
			Evidence:            []generate.FlagEvidence{},
			WhyItMatters:        "This item appears non-standard and should be reviewed with the client and supervising lawyer.",
			RecommendedFollowUp: "Confirm implications and closing impact of this clause.",
		})
		if len(out) == 5 {
			break
		}
	}
	return out
}

func formatCitation(entry facts.EvidenceItem) string {
	if entry.Page == 0 {
		return ""
	}
	if para := strings.TrimSpace(entry.Paragraph); para != "" {
		return fmt.Sprintf("[p.%d, para %s]", entry.Page, para)
	}
	return fmt.Sprintf("[p.%d]", entry.Page)
}

func ensureInlineCitation(content string, extracted facts.Extracted, evidenceFields []string) string {
	if content == "" || inlineCitation.MatchString(content) {
		return content
	}
	evidence := extracted.EvidenceByField(evidenceFields...)
	if len(evidence) == 0 {
		return content
	}
	citation := formatCitation(evidence[0])
	if citation == "" {
		return content
	}
	return strings.TrimSpace(content) + " " + citation
}

// citationFields maps section keys to the evidence fields whose first quote
// backs an appended citation when the section has none.
var citationFields = map[string][]string{
	"summary":        {"common_expenses", "reserve_fund_balance", "special_assessments", "legal_proceedings"},
	"insurance":      {"insurance_term", "insurance_required_policies_status", "insurance_deductibles"},
	"budget_reserve": {"common_expenses", "reserve_fund_balance", "reserve_fund_study_date"},
	"leasing":        {"restrictions_summary", "leased_unit_count"},
	"additional":     {"restrictions_summary", "legal_proceedings"},
}

func applyCitationRules(sections []templates.Section, extracted facts.Extracted) []templates.Section {
	out := make([]templates.Section, len(sections))
	copy(out, sections)
	for i := range out {
		fields, ok := citationFields[out[i].Key]
		if !ok || out[i].Content == "" {
			continue
		}
		out[i].Content = ensureInlineCitation(out[i].Content, extracted, fields)
	}
	return out
}

// injectInsuranceComplianceLine prepends the mandatory Condominium Act
// insurance statement to the insurance section unless equivalent wording is
// already present.
func injectInsuranceComplianceLine(sections []templates.Section, extracted facts.Extracted) []templates.Section {
	out := make([]templates.Section, len(sections))
	copy(out, sections)
	for i := range out {
		if out[i].Key != "insurance" {
			continue
		}
		hasSecured := "has not"
		if facts.StrVal(extracted.InsurancePoliciesStatus) == facts.InsuranceHasRequired {
			hasSecured = "has"
		}
		citation := ""
		if evidence := extracted.EvidenceByField("insurance_required_policies_status", "insurance_term"); len(evidence) > 0 {
			if formatted := formatCitation(evidence[0]); formatted != "" {
				citation = " " + formatted
			}
		}
		requiredLine := fmt.Sprintf(
			"According to the Status Certificate, the Corporation %s secured all policies of insurance required under the Condominium Act, 1998.%s",
			hasSecured, citation,
		)
		content := strings.TrimSpace(out[i].Content)
		switch {
		case content == "":
			out[i].Content = requiredLine
		case insuranceWording.MatchString(content):
			// already stated
		default:
			out[i].Content = requiredLine + "\n\n" + content
		}
	}
	return out
}

// dedupeSectionLines drops any line that already appeared verbatim (case
// insensitive) in an earlier section, so boilerplate the model repeats shows
// up once.
func dedupeSectionLines(sections []templates.Section) []templates.Section {
	seen := map[string]bool{}
	out := make([]templates.Section, len(sections))
	copy(out, sections)
	for i := range out {
		if out[i].Content == "" {
			continue
		}
		var kept []string
		for _, line := range strings.Split(out[i].Content, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			key := strings.ToLower(line)
			if seen[key] {
				continue
			}
			seen[key] = true
			kept = append(kept, line)
		}
		out[i].Content = strings.Join(kept, "\n")
	}
	return out
}

func missingFieldFollowUps(missingFields []string) []string {
	out := make([]string, 0, len(missingFields))
	for _, field := range missingFields {
		out = append(out, fmt.Sprintf("Missing information: %s. Not found in provided documents. Request additional supporting records.", field))
	}
	return out
}

func crossCheckFollowUps(crossChecks []facts.CrossCheckItem) []string {
	out := []string{}
	for _, check := range crossChecks {
		if check.Status != facts.CrossCheckMismatch {
			continue
		}
		aps := "Not found"
		if check.APSValue != nil {
			aps = *check.APSValue
		}
		cert := "Not found"
		if check.StatusCertValue != nil {
			cert = *check.StatusCertValue
		}
		out = append(out, fmt.Sprintf(
			"APS mismatch detected for %s. APS: %s; Status Certificate: %s. Resolve before closing.",
			check.Label, aps, cert,
		))
	}
	return out
}

func missingFieldFlags(missingFields []string) []generate.FlagItem {
	out := make([]generate.FlagItem, 0, len(missingFields))
	for _, field := range missingFields {
		out = append(out, generate.FlagItem{
			Key:                 "missing_" + field,
			Title:               "Missing information: " + field,
			Severity:            generate.SeverityMed,
			Evidence:            []generate.FlagEvidence{},
			WhyItMatters:        "This detail was not found in the provided status certificate documents.",
			RecommendedFollowUp: "Request supporting documents or confirm this point before closing.",
		})
	}
	return out
}

func followUpSection(followUps []string) templates.Section {
	lines := make([]string, 0, len(followUps))
	for _, entry := range followUps {
		lines = append(lines, "- "+entry)
	}
	return templates.Section{
		Key:     "follow_ups",
		Title:   "Follow-ups / Action Items",
		Style:   templates.StyleNarrative,
		Content: strings.Join(lines, "\n"),
	}
}

func htmlFromSections(sections []templates.Section) string {
	parts := make([]string, 0, len(sections))
	for _, section := range sections {
		body := strings.ReplaceAll(section.Content, "\n", "<br/>")
		parts = append(parts, "<h2>"+section.Title+"</h2><p>"+body+"</p>")
	}
	return strings.Join(parts, "\n")
}
