package render

import (
	"archive/zip"
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"statuscert-backend/internal/facts"
	"statuscert-backend/internal/generate"
	"statuscert-backend/internal/templates"
)

// Renderer names recorded in the export job result.
const (
	RendererProgrammatic = "programmatic"
	RendererPrecedent    = "precedent_template"
)

// Letter width minus one-inch margins on each side, in twips.
const contentWidthTwips = 9026

// Input is everything needed to build one export document.
type Input struct {
	FirmName    string
	MatterTitle string
	GeneratedAt time.Time
	Extracted   *facts.Extracted
	Template    templates.Template
	Sections    []templates.Section
	Flags       []generate.FlagItem
}

// Builder renders review content to DOCX. When PrecedentMode is set the firm
// precedent file at TemplatePath is filled in-place; otherwise the document
// is generated from scratch, with a locked layout for precedent_locked
// templates.
type Builder struct {
	PrecedentMode bool
	TemplatePath  string
}

// Build returns the document bytes and the renderer that produced them.
func (b *Builder) Build(input Input) ([]byte, string, error) {
	if b.PrecedentMode {
		source, err := os.ReadFile(b.TemplatePath)
		if err != nil {
			return nil, "", fmt.Errorf("precedent template not found at %s: %w", b.TemplatePath, err)
		}
		data, err := fillPrecedentTemplate(source, input)
		if err != nil {
			return nil, "", err
		}
		return data, RendererPrecedent, nil
	}

	var body string
	if input.Template.Mode == templates.ModePrecedentLocked {
		body = precedentLockedBody(input)
	} else {
		body = standardBody(input)
	}
	data, err := writeDocx(body)
	if err != nil {
		return nil, "", err
	}
	return data, RendererProgrammatic, nil
}

// apsComparisonRows builds the APS vs status certificate table rows. Missing
// sides render placeholder text rather than blank cells.
func apsComparisonRows(extracted *facts.Extracted) [][4]string {
	e := extracted
	if e == nil {
		e = &facts.Extracted{}
	}
	aps := e.APSExtracted
	if aps == nil {
		aps = &facts.APSExtracted{}
	}

	status := func(key string) string {
		for _, check := range e.CrossChecks {
			if check.Key == key {
				return ScalarValue(check.Status).Render(facts.CrossCheckNotFound)
			}
		}
		return facts.CrossCheckNotFound
	}
	const noAPS = "Not found in APS"
	const noCert = "Not found in status certificate"

	corporation := FromString(e.CorporationName).Render("Not found in provided documents")
	return [][4]string{
		{"Property Unit", FromString(aps.Unit).Render(noAPS), FromString(e.Unit).Render(noCert), status("unit")},
		{"Parking Unit", FromString(aps.Parking).Render(noAPS), FromString(e.Parking).Render(noCert), status("parking")},
		{"Locker Unit", FromString(aps.Locker).Render(noAPS), FromString(e.Locker).Render(noCert), status("locker")},
		{"Bike Unit", FromString(aps.Bike).Render(noAPS), FromString(e.Bike).Render(noCert), status("bike")},
		{"Common Assessment", FromString(aps.CommonExpenses).Render(noAPS), FromString(e.CommonExpenses).Render(noCert), status("common_expenses")},
		{"Corporation", corporation, corporation, facts.CrossCheckMatch},
	}
}

func flagRows(flags []generate.FlagItem) [][4]string {
	rows := make([][4]string, 0, len(flags))
	for _, flag := range flags {
		rows = append(rows, [4]string{
			ScalarValue(flag.Title).Render("N/A"),
			ScalarValue(flag.Severity).Render("N/A"),
			ScalarValue(flag.WhyItMatters).Render("N/A"),
			ScalarValue(flag.RecommendedFollowUp).Render("N/A"),
		})
	}
	return rows
}

func precedentLockedBody(input Input) string {
	rulesHeading := "Review Notes"
	for _, section := range input.Template.Sections {
		if section.Key == "additional" {
			rulesHeading = "Notes, Rules & Regulations"
			break
		}
	}

	var b strings.Builder
	b.WriteString(titleParagraph("Status Certificate Review"))
	b.WriteString(centeredParagraph(input.MatterTitle))
	b.WriteString(centeredParagraph(input.FirmName))
	b.WriteString(centeredParagraph("Date: " + input.GeneratedAt.Format("2006-01-02")))
	b.WriteString(paragraph(""))
	for _, line := range input.Template.Disclaimers {
		b.WriteString(paragraph(line))
	}
	b.WriteString(paragraph(""))

	apsRows := apsComparisonRows(input.Extracted)
	b.WriteString(tableXML(
		[]int{1625, 2708, 2708, 1985},
		[]string{"Item", "Agreement of Purchase and Sale", "Status Certificate", "Match"},
		apsRows,
	))
	b.WriteString(paragraph(""))
	b.WriteString(headingParagraph(rulesHeading, 32))

	if input.Extracted != nil && len(input.Extracted.MissingFields) > 0 {
		b.WriteString(headingParagraph("Information Gaps", 28))
		for _, field := range input.Extracted.MissingFields {
			b.WriteString(paragraph("• " + field + ": Not found in provided documents"))
		}
	}

	for _, section := range input.Sections {
		b.WriteString(headingParagraph(sectionTitle(section), 28))
		b.WriteString(contentParagraphs(section.Content, "Not found in provided documents"))
	}

	b.WriteString(paragraph(""))
	b.WriteString(headingParagraph("Flags / Follow-ups", 28))
	b.WriteString(flagsTableXML(input.Flags))
	return b.String()
}

func standardBody(input Input) string {
	e := input.Extracted
	if e == nil {
		e = &facts.Extracted{}
	}
	corporation := FromString(e.CorporationName).Render("")
	if corporation == "" {
		corporation = ScalarValue(input.Template.Title).Render("Condominium Corporation")
	}

	summaryRows := [][2]string{
		{"Property Unit", FromString(e.Unit).Render("N/A")},
		{"Parking Unit", FromString(e.Parking).Render("N/A")},
		{"Locker Unit", FromString(e.Locker).Render("N/A")},
		{"Bike Unit", FromString(e.Bike).Render("N/A")},
		{"Corporation", corporation},
		{"Common Assessment", FromString(e.CommonExpenses).Render("N/A")},
		{"Reserve Fund", FromString(e.ReserveFundBalance).Render("N/A")},
		{"Legal Proceedings", FromString(e.LegalProceedings).Render("N/A")},
	}

	var b strings.Builder
	b.WriteString(titleParagraph("Status Certificate Review"))
	b.WriteString(centeredParagraph(input.MatterTitle))
	b.WriteString(paragraph(""))
	for _, line := range input.Template.Disclaimers {
		b.WriteString(paragraph("• " + line))
	}
	b.WriteString(paragraph(""))

	b.WriteString(twoColumnTableXML(
		[]int{3159, 5867},
		[2]string{"Status Certificate", "Extracted Summary"},
		summaryRows,
	))

	for _, section := range input.Sections {
		b.WriteString(headingParagraph(sectionTitle(section), 28))
		b.WriteString(contentParagraphs(section.Content, ""))
	}

	b.WriteString(headingParagraph("Flags / Follow-ups", 28))
	b.WriteString(flagsTableXML(input.Flags))
	return b.String()
}

func flagsTableXML(flags []generate.FlagItem) string {
	if len(flags) == 0 {
		return paragraph("No flags identified.")
	}
	return tableXML(
		[]int{2166, 903, 2979, 2978},
		[]string{"Flag", "Severity", "Why it matters", "Follow-up"},
		flagRows(flags),
	)
}

func sectionTitle(section templates.Section) string {
	if section.Title != "" {
		return section.Title
	}
	return section.Key
}

// contentParagraphs emits one paragraph per non-empty content line, or the
// fallback when the section is empty.
func contentParagraphs(content, fallback string) string {
	text := ScalarValue(content).Render(fallback)
	if text == "" {
		return ""
	}
	var b strings.Builder
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, " \t")
		if line == "" {
			continue
		}
		b.WriteString(paragraph(line))
	}
	return b.String()
}

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

func xmlEscape(s string) string {
	return xmlEscaper.Replace(s)
}

func paragraph(text string) string {
	if text == "" {
		return "<w:p/>"
	}
	return `<w:p><w:r><w:t xml:space="preserve">` + xmlEscape(text) + `</w:t></w:r></w:p>`
}

func centeredParagraph(text string) string {
	return `<w:p><w:pPr><w:jc w:val="center"/></w:pPr><w:r><w:t xml:space="preserve">` + xmlEscape(text) + `</w:t></w:r></w:p>`
}

func titleParagraph(text string) string {
	return `<w:p><w:pPr><w:jc w:val="center"/></w:pPr><w:r><w:rPr><w:b/><w:sz w:val="48"/></w:rPr><w:t xml:space="preserve">` + xmlEscape(text) + `</w:t></w:r></w:p>`
}

func headingParagraph(text string, size int) string {
	return fmt.Sprintf(`<w:p><w:pPr><w:spacing w:before="240" w:after="120"/></w:pPr><w:r><w:rPr><w:b/><w:sz w:val="%d"/></w:rPr><w:t xml:space="preserve">%s</w:t></w:r></w:p>`, size, xmlEscape(text))
}

func tableCellXML(text string, width int, header bool) string {
	run := `<w:r><w:t xml:space="preserve">` + xmlEscape(text) + `</w:t></w:r>`
	if header {
		run = `<w:r><w:rPr><w:b/></w:rPr><w:t xml:space="preserve">` + xmlEscape(text) + `</w:t></w:r>`
	}
	return fmt.Sprintf(`<w:tc><w:tcPr><w:tcW w:w="%d" w:type="dxa"/></w:tcPr><w:p>%s</w:p></w:tc>`, width, run)
}

func tableXML(widths []int, header []string, rows [][4]string) string {
	var b strings.Builder
	b.WriteString(tableOpen(widths))
	b.WriteString("<w:tr>")
	for i, cell := range header {
		b.WriteString(tableCellXML(cell, widths[i], true))
	}
	b.WriteString("</w:tr>")
	for _, row := range rows {
		b.WriteString("<w:tr>")
		for i, cell := range row {
			b.WriteString(tableCellXML(cell, widths[i], false))
		}
		b.WriteString("</w:tr>")
	}
	b.WriteString("</w:tbl>")
	return b.String()
}

func twoColumnTableXML(widths []int, header [2]string, rows [][2]string) string {
	var b strings.Builder
	b.WriteString(tableOpen(widths))
	b.WriteString("<w:tr>")
	b.WriteString(tableCellXML(header[0], widths[0], true))
	b.WriteString(tableCellXML(header[1], widths[1], true))
	b.WriteString("</w:tr>")
	for _, row := range rows {
		b.WriteString("<w:tr>")
		b.WriteString(tableCellXML(row[0], widths[0], false))
		b.WriteString(tableCellXML(row[1], widths[1], false))
		b.WriteString("</w:tr>")
	}
	b.WriteString("</w:tbl>")
	return b.String()
}

func tableOpen(widths []int) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf(`<w:tbl><w:tblPr><w:tblW w:w="%d" w:type="dxa"/><w:tblLayout w:type="fixed"/><w:tblBorders><w:top w:val="single" w:sz="4"/><w:bottom w:val="single" w:sz="4"/><w:left w:val="single" w:sz="4"/><w:right w:val="single" w:sz="4"/><w:insideH w:val="single" w:sz="4"/><w:insideV w:val="single" w:sz="4"/></w:tblBorders></w:tblPr><w:tblGrid>`, contentWidthTwips))
	for _, w := range widths {
		b.WriteString(fmt.Sprintf(`<w:gridCol w:w="%d"/>`, w))
	}
	b.WriteString("</w:tblGrid>")
	return b.String()
}

const docxContentTypes = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types"><Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/><Default Extension="xml" ContentType="application/xml"/><Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/></Types>`

const docxRootRels = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships"><Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/></Relationships>`

const docxDocumentRels = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships"></Relationships>`

// writeDocx wraps a document body in the minimal OOXML package structure.
func writeDocx(body string) ([]byte, error) {
	document := `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` + body +
		`<w:sectPr><w:pgSz w:w="11906" w:h="16838"/><w:pgMar w:top="1440" w:right="1440" w:bottom="1440" w:left="1440"/></w:sectPr></w:body></w:document>`

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	files := []struct {
		name    string
		content string
	}{
		{"[Content_Types].xml", docxContentTypes},
		{"_rels/.rels", docxRootRels},
		{"word/_rels/document.xml.rels", docxDocumentRels},
		{"word/document.xml", document},
	}
	for _, f := range files {
		w, err := zw.Create(f.name)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", f.name, err)
		}
		if _, err := w.Write([]byte(f.content)); err != nil {
			return nil, fmt.Errorf("write %s: %w", f.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
