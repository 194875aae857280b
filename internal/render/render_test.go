package render

import (
	"archive/zip"
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"statuscert-backend/internal/facts"
	"statuscert-backend/internal/generate"
	"statuscert-backend/internal/templates"
)

func TestValueRenderScalar(t *testing.T) {
	if got := ScalarValue("  $512.33  ").Render("N/A"); got != "$512.33" {
		t.Fatalf("unexpected scalar render: %q", got)
	}
	if got := ScalarValue("   ").Render("N/A"); got != "N/A" {
		t.Fatalf("blank scalar should fall back, got %q", got)
	}
	if got := (Value{}).Render("missing"); got != "missing" {
		t.Fatalf("empty value should fall back, got %q", got)
	}
}

func TestValueRenderList(t *testing.T) {
	v := Value{Kind: KindList, List: []Value{
		ScalarValue("Unit 1203"),
		ScalarValue(""),
		ScalarValue("Level 12"),
	}}
	if got := v.Render("N/A"); got != "Unit 1203; Level 12" {
		t.Fatalf("unexpected list render: %q", got)
	}
	empty := Value{Kind: KindList}
	if got := empty.Render("N/A"); got != "N/A" {
		t.Fatalf("empty list should fall back, got %q", got)
	}
}

func TestValueRenderRecordPrefersKnownKeys(t *testing.T) {
	v := FromAny(map[string]any{
		"amount": "$512.33",
		"basis":  "monthly",
	})
	if got := v.Render("N/A"); got != "$512.33" {
		t.Fatalf("expected preferred key value, got %q", got)
	}

	compact := FromAny(map[string]any{
		"due": "first of month",
	})
	if got := compact.Render("N/A"); got != "due: first of month" {
		t.Fatalf("expected compact record render, got %q", got)
	}
}

func TestFromAnyNestedShapes(t *testing.T) {
	v := FromAny([]any{
		map[string]any{"text": "one parking unit"},
		"no locker",
	})
	if got := v.Render("N/A"); got != "one parking unit; no locker" {
		t.Fatalf("unexpected nested render: %q", got)
	}
}

func documentXML(t *testing.T, data []byte) string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("open docx zip: %v", err)
	}
	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open document.xml: %v", err)
		}
		defer rc.Close()
		raw, err := io.ReadAll(rc)
		if err != nil {
			t.Fatalf("read document.xml: %v", err)
		}
		return string(raw)
	}
	t.Fatal("word/document.xml missing from archive")
	return ""
}

func sampleInput() Input {
	unit := "UNIT 1203"
	common := "$512.33"
	apsUnit := "Unit 1203"
	return Input{
		FirmName:    "Keystone LLP",
		MatterTitle: "UNIT 1203 - 25 Telegram Mews",
		GeneratedAt: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
		Extracted: &facts.Extracted{
			Unit:           &unit,
			CommonExpenses: &common,
			MissingFields:  []string{"reserve_fund_study_date"},
			APSExtracted:   &facts.APSExtracted{APSPresent: true, Unit: &apsUnit},
			CrossChecks: []facts.CrossCheckItem{
				{Key: "unit", Label: "Unit", Status: facts.CrossCheckMatch},
			},
		},
		Template: templates.Default(),
		Sections: []templates.Section{
			{Key: "summary", Title: "Key Terms Summary", Content: "Common expenses are $512.33 per month. [p.2]"},
			{Key: "insurance", Title: "Insurance"},
		},
		Flags: []generate.FlagItem{
			{Title: "Special assessment pending", Severity: "HIGH", WhyItMatters: "Budget impact", RecommendedFollowUp: "Confirm amount & timing"},
		},
	}
}

func TestBuildStandardDocument(t *testing.T) {
	builder := &Builder{}
	data, renderer, err := builder.Build(sampleInput())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if renderer != RendererProgrammatic {
		t.Fatalf("unexpected renderer: %s", renderer)
	}

	xml := documentXML(t, data)
	for _, want := range []string{
		"Status Certificate Review",
		"UNIT 1203 - 25 Telegram Mews",
		"Key Terms Summary",
		"Special assessment pending",
		"Confirm amount &amp; timing",
		"Extracted Summary",
	} {
		if !strings.Contains(xml, want) {
			t.Fatalf("document missing %q", want)
		}
	}
}

func TestBuildPrecedentLockedLayout(t *testing.T) {
	input := sampleInput()
	input.Template.Mode = templates.ModePrecedentLocked

	builder := &Builder{}
	data, _, err := builder.Build(input)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	xml := documentXML(t, data)
	for _, want := range []string{
		"Notes, Rules &amp; Regulations",
		"Information Gaps",
		"reserve_fund_study_date: Not found in provided documents",
		"Agreement of Purchase and Sale",
		"Keystone LLP",
	} {
		if !strings.Contains(xml, want) {
			t.Fatalf("document missing %q", want)
		}
	}
}

func TestBuildWithoutFlagsRendersPlaceholder(t *testing.T) {
	input := sampleInput()
	input.Flags = nil

	builder := &Builder{}
	data, _, err := builder.Build(input)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !strings.Contains(documentXML(t, data), "No flags identified.") {
		t.Fatal("expected empty-flags placeholder paragraph")
	}
}

func TestApsComparisonRowsWithNoExtraction(t *testing.T) {
	rows := apsComparisonRows(nil)
	if len(rows) != 6 {
		t.Fatalf("expected 6 rows, got %d", len(rows))
	}
	if rows[0][1] != "Not found in APS" || rows[0][2] != "Not found in status certificate" {
		t.Fatalf("unexpected fallback cells: %v", rows[0])
	}
	if rows[0][3] != facts.CrossCheckNotFound {
		t.Fatalf("unexpected status cell: %v", rows[0])
	}
	if rows[5][3] != facts.CrossCheckMatch {
		t.Fatalf("corporation row should always match: %v", rows[5])
	}
}

func TestBuildPrecedentModeMissingTemplateFails(t *testing.T) {
	builder := &Builder{PrecedentMode: true, TemplatePath: "testdata/does-not-exist.docx"}
	if _, _, err := builder.Build(sampleInput()); err == nil {
		t.Fatal("expected error for missing precedent template")
	}
}
