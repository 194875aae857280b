package render

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/nguyenthenguyen/docx"
)

// fillPrecedentTemplate replaces title tokens and block tokens inside a firm
// precedent DOCX. Scalar tokens go through the library's escaping replace;
// block tokens carry pre-built OOXML and are spliced in raw. Each block token
// also has an XML-comment form so the placeholder can survive editing in Word.
func fillPrecedentTemplate(source []byte, input Input) ([]byte, error) {
	doc, err := docx.ReadDocxFromMemory(bytes.NewReader(source), int64(len(source)))
	if err != nil {
		return nil, fmt.Errorf("open precedent template: %w", err)
	}
	defer doc.Close()

	editable := doc.Editable()

	scalars := map[string]string{
		"{{MATTER_TITLE}}":   input.MatterTitle,
		"{{FIRM_NAME}}":      input.FirmName,
		"{{GENERATED_DATE}}": input.GeneratedAt.Format("2006-01-02"),
	}
	for token, value := range scalars {
		if err := editable.Replace(token, value, -1); err != nil {
			return nil, fmt.Errorf("replace %s: %w", token, err)
		}
	}

	blocks := map[string]string{
		"DISCLAIMERS_BLOCK": disclaimersBlockXML(input.Template.Disclaimers),
		"APS_ROWS_BLOCK":    apsRowsBlockXML(input),
		"SECTIONS_BLOCK":    sectionsBlockXML(input),
		"FLAGS_ROWS_BLOCK":  flagsRowsBlockXML(input),
	}
	for name, xml := range blocks {
		editable.ReplaceRaw("{{"+name+"}}", xml, -1)
		editable.ReplaceRaw("<!--"+name+"-->", xml, -1)
	}

	var buf bytes.Buffer
	if err := editable.Write(&buf); err != nil {
		return nil, fmt.Errorf("write filled template: %w", err)
	}
	return buf.Bytes(), nil
}

func disclaimersBlockXML(disclaimers []string) string {
	var b strings.Builder
	for _, line := range disclaimers {
		b.WriteString(paragraph(line))
	}
	return b.String()
}

// apsRowsBlockXML emits the comparison rows without the match column; the
// precedent file's own table defines the column layout.
func apsRowsBlockXML(input Input) string {
	var b strings.Builder
	for _, row := range apsComparisonRows(input.Extracted) {
		b.WriteString(templateRowXML(row[0], row[1], row[2]))
	}
	return b.String()
}

func sectionsBlockXML(input Input) string {
	var b strings.Builder
	for _, section := range input.Sections {
		b.WriteString(paragraph(sectionTitle(section)))
		content := ScalarValue(section.Content).Render("Not found in provided documents")
		for _, line := range strings.Split(content, "\n") {
			b.WriteString(paragraph(line))
		}
	}
	return b.String()
}

func flagsRowsBlockXML(input Input) string {
	var b strings.Builder
	for _, row := range flagRows(input.Flags) {
		b.WriteString(templateRowXML(row[0], row[1], row[2], row[3]))
	}
	return b.String()
}

func templateRowXML(cells ...string) string {
	var b strings.Builder
	b.WriteString("<w:tr>")
	for _, cell := range cells {
		b.WriteString(`<w:tc><w:p><w:r><w:t xml:space="preserve">` + xmlEscape(cell) + `</w:t></w:r></w:p></w:tc>`)
	}
	b.WriteString("</w:tr>")
	return b.String()
}
