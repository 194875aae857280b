package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"

	"statuscert-backend/internal/llm"
	"statuscert-backend/internal/shared/telemetry"
)

// Parse methods recorded on extracted documents.
const (
	MethodStructural = "structural"
	MethodOCR        = "ocr"
)

// Result is the outcome of extracting text from one PDF document.
type Result struct {
	Text        string
	Method      string
	ParsedChars int
	OCRChars    int
	Pages       int
}

// Extractor extracts text from status certificate PDFs, preferring the
// structural text layer and falling back to OCR for scanned documents.
type Extractor struct {
	LLM         llm.Client
	MinChars    int
	OCRFallback bool

	// overridable for tests
	parseFn     func(data []byte) (string, error)
	pageCountFn func(data []byte) (int, error)
	ocrFn       func(ctx context.Context, data []byte, fileName string) (string, error)
}

// New returns an Extractor with production parse and page-count functions.
func New(client llm.Client, minChars int, ocrFallback bool) *Extractor {
	e := &Extractor{
		LLM:         client,
		MinChars:    minChars,
		OCRFallback: ocrFallback,
	}
	e.parseFn = parsePDFText
	e.pageCountFn = pdfPageCount
	e.ocrFn = func(ctx context.Context, data []byte, fileName string) (string, error) {
		return client.ExtractPDFText(ctx, data, fileName)
	}
	return e
}

// Extract pulls text from one PDF. The structural text layer wins when its
// normalized length meets the threshold or OCR is disabled. OCR failures are
// swallowed so a weak structural result still flows through the pipeline; the
// OCR text replaces it only when strictly longer.
func (e *Extractor) Extract(ctx context.Context, data []byte, fileName string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if len(data) == 0 {
		return Result{}, fmt.Errorf("empty pdf data: %s", fileName)
	}

	pages, pageErr := e.pageCountFn(data)
	if pageErr != nil {
		telemetry.Warn("extract.page_count_failed", map[string]any{
			"file":  fileName,
			"error": pageErr.Error(),
		})
		pages = 0
	}

	parsed, parseErr := e.parseFn(data)
	if parseErr != nil {
		telemetry.Warn("extract.structural_failed", map[string]any{
			"file":  fileName,
			"error": parseErr.Error(),
		})
		parsed = ""
	}
	parsedLen := normalizedLen(parsed)

	result := Result{
		Text:        parsed,
		Method:      MethodStructural,
		ParsedChars: parsedLen,
		Pages:       pages,
	}

	if parsedLen >= e.MinChars || !e.OCRFallback {
		if parsedLen == 0 && parseErr != nil && !e.OCRFallback {
			return Result{}, fmt.Errorf("parse pdf %s: %w", fileName, parseErr)
		}
		return result, nil
	}

	ocrText, ocrErr := e.ocrFn(ctx, data, fileName)
	if ocrErr != nil {
		telemetry.Warn("extract.ocr_failed", map[string]any{
			"file":  fileName,
			"error": ocrErr.Error(),
		})
		if parsedLen == 0 && parseErr != nil {
			return Result{}, fmt.Errorf("parse pdf %s: %w", fileName, parseErr)
		}
		return result, nil
	}

	ocrLen := normalizedLen(ocrText)
	result.OCRChars = ocrLen
	if ocrLen > parsedLen {
		result.Text = ocrText
		result.Method = MethodOCR
	}
	return result, nil
}

var whitespaceRun = regexp.MustCompile(`\s+`)

func normalizedLen(s string) int {
	return len(strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " ")))
}

func parsePDFText(data []byte) (string, error) {
	reader := bytes.NewReader(data)
	pdfReader, err := pdf.NewReader(reader, int64(len(data)))
	if err != nil {
		return "", err
	}
	plain, err := pdfReader.GetPlainText()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func pdfPageCount(data []byte) (int, error) {
	return api.PageCount(bytes.NewReader(data), nil)
}
