package reviews

import (
	"context"
	"errors"

	"statuscert-backend/internal/facts"
	"statuscert-backend/internal/templates"
)

// ErrNotFound is returned when no review matches the firm-scoped lookup.
var ErrNotFound = errors.New("review not found")

// ErrNoDocuments is returned when an operation needs uploaded documents and
// the review has none.
var ErrNoDocuments = errors.New("no documents uploaded")

// Repo defines persistence operations for reviews and their documents. All
// lookups are firm-scoped; a review belonging to another firm is not found.
type Repo interface {
	Create(ctx context.Context, review Review) error
	GetByID(ctx context.Context, firmID, reviewID string) (Review, error)
	ListByFirm(ctx context.Context, firmID string, limit, offset int) ([]Review, error)

	UpdateStatus(ctx context.Context, firmID, reviewID, status string) error
	SetFailed(ctx context.Context, firmID, reviewID, message string) error
	SetTitle(ctx context.Context, firmID, reviewID, title string) error
	SaveExtraction(ctx context.Context, firmID, reviewID string, extracted facts.Extracted, model, promptVersion string) error
	SaveGenerated(ctx context.Context, firmID, reviewID string, content GeneratedContent) error
	SaveEdits(ctx context.Context, firmID, reviewID, reviewText string, sections []templates.Section, finalize bool) error
	SetExported(ctx context.Context, firmID, reviewID, exportPath string) error

	AddDocument(ctx context.Context, firmID string, doc Document) error
	ListDocuments(ctx context.Context, firmID, reviewID string) ([]Document, error)
	SetDocumentParseResult(ctx context.Context, documentID string, pageCount int, parseMethod string) error
}
