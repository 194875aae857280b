package reviews

import (
	"time"

	"statuscert-backend/internal/facts"
	"statuscert-backend/internal/generate"
	"statuscert-backend/internal/templates"
)

// Review statuses, in lifecycle order.
const (
	StatusDraft      = "DRAFT"
	StatusUploaded   = "UPLOADED"
	StatusProcessing = "PROCESSING"
	StatusExtracted  = "EXTRACTED"
	StatusReady      = "READY"
	StatusFinalized  = "FINALIZED"
	StatusExported   = "EXPORTED"
	StatusFailed     = "FAILED"
)

// Review is one status certificate review matter. Model and PromptVersion
// record the LLM call that last wrote the extracted facts or sections.
type Review struct {
	ID            string
	FirmID        string
	Title         string
	Status        string
	TemplateID    *string
	Extracted     *facts.Extracted
	Sections      []templates.Section
	ReviewText    *string
	ReviewHTML    *string
	Flags         []generate.FlagItem
	ExportPath    *string
	ErrorMessage  *string
	Model         *string
	PromptVersion *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HasGeneratedContent reports whether an export can run.
func (r *Review) HasGeneratedContent() bool {
	if len(r.Sections) > 0 {
		return true
	}
	return r.ReviewText != nil && *r.ReviewText != ""
}

// Document is one uploaded PDF belonging to a review.
type Document struct {
	ID          string
	ReviewID    string
	FileName    string
	StoragePath string
	ContentType string
	SizeBytes   int64
	PageCount   *int
	ParseMethod *string
	CreatedAt   time.Time
}

// GeneratedContent bundles everything persisted after a successful generation.
type GeneratedContent struct {
	Extracted     facts.Extracted
	Sections      []templates.Section
	Flags         []generate.FlagItem
	ReviewText    string
	ReviewHTML    string
	Model         string
	PromptVersion string
}
