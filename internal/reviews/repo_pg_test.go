package reviews

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"statuscert-backend/internal/facts"
)

func TestPGRepoGetByIDScopedToFirm(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	repo := &PGRepo{DB: db}

	cols := []string{
		"id", "firm_id", "title", "status", "template_id", "extracted_facts", "sections", "flags",
		"review_text", "review_html", "export_path", "error_message", "model", "prompt_version", "created_at", "updated_at",
	}
	now := time.Now().UTC()
	rows := sqlmock.NewRows(cols).AddRow(
		"review-1", "firm-1", "Unit 1204 - 88 Harbour St", StatusReady, nil,
		[]byte(`{"unit":"UNIT 1204","missing_fields":["arrears"]}`),
		[]byte(`[{"key":"intro","title":"Purpose and Scope","style":"narrative","content":"x"}]`),
		[]byte(`[{"key":"f1","title":"Flag","severity":"MED","evidence":[],"why_it_matters":"w","recommended_follow_up":"r"}]`),
		"## Purpose and Scope\n\nx", "<h2>Purpose and Scope</h2><p>x</p>", nil, nil,
		"gpt-4.1-mini", "generate_v1", now, now,
	)

	mock.ExpectQuery("SELECT (.+) FROM status_cert_reviews").
		WithArgs("review-1", "firm-1").
		WillReturnRows(rows)

	review, err := repo.GetByID(context.Background(), "firm-1", "review-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if review.Status != StatusReady {
		t.Fatalf("unexpected status: %s", review.Status)
	}
	if review.Extracted == nil || len(review.Extracted.MissingFields) != 1 {
		t.Fatalf("expected decoded extracted facts, got %+v", review.Extracted)
	}
	if len(review.Sections) != 1 || review.Sections[0].Key != "intro" {
		t.Fatalf("expected decoded sections, got %+v", review.Sections)
	}
	if len(review.Flags) != 1 || review.Flags[0].Severity != "MED" {
		t.Fatalf("expected decoded flags, got %+v", review.Flags)
	}
	if review.Model == nil || *review.Model != "gpt-4.1-mini" {
		t.Fatalf("expected model metadata, got %v", review.Model)
	}
	if review.PromptVersion == nil || *review.PromptVersion != "generate_v1" {
		t.Fatalf("expected prompt version metadata, got %v", review.PromptVersion)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoGetByIDNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	repo := &PGRepo{DB: db}
	cols := []string{
		"id", "firm_id", "title", "status", "template_id", "extracted_facts", "sections", "flags",
		"review_text", "review_html", "export_path", "error_message", "model", "prompt_version", "created_at", "updated_at",
	}
	mock.ExpectQuery("SELECT (.+) FROM status_cert_reviews").
		WithArgs("review-1", "firm-other").
		WillReturnRows(sqlmock.NewRows(cols))

	if _, err := repo.GetByID(context.Background(), "firm-other", "review-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGRepoSaveExtractionPersistsModelMetadata(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	repo := &PGRepo{DB: db}

	mock.ExpectExec("UPDATE status_cert_reviews").
		WithArgs("review-1", "firm-1", sqlmock.AnyArg(), StatusExtracted, "gpt-4.1-mini", "extract_v1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	extracted := facts.Extracted{Unit: facts.StrPtr("UNIT 1204")}
	extracted.Normalize()
	if err := repo.SaveExtraction(context.Background(), "firm-1", "review-1", extracted, "gpt-4.1-mini", "extract_v1"); err != nil {
		t.Fatalf("SaveExtraction: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoSetFailedRequiresOwnedRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	repo := &PGRepo{DB: db}

	mock.ExpectExec("UPDATE status_cert_reviews").
		WithArgs("review-1", "firm-1", StatusFailed, "No documents uploaded.").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.SetFailed(context.Background(), "firm-1", "review-1", "No documents uploaded."); err != nil {
		t.Fatalf("SetFailed: %v", err)
	}

	mock.ExpectExec("UPDATE status_cert_reviews").
		WithArgs("review-1", "firm-other", StatusFailed, "No documents uploaded.").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.SetFailed(context.Background(), "firm-other", "review-1", "No documents uploaded."); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign firm, got %v", err)
	}
}

func TestPGRepoAddDocumentForeignReview(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	repo := &PGRepo{DB: db}

	mock.ExpectExec("INSERT INTO status_cert_review_documents").
		WithArgs("doc-1", "review-1", "cert.pdf", "firmhash/abc_cert.pdf", "application/pdf", int64(1024), "firm-other").
		WillReturnResult(sqlmock.NewResult(0, 0))

	doc := Document{
		ID:          "doc-1",
		ReviewID:    "review-1",
		FileName:    "cert.pdf",
		StoragePath: "firmhash/abc_cert.pdf",
		ContentType: "application/pdf",
		SizeBytes:   1024,
	}
	if err := repo.AddDocument(context.Background(), "firm-other", doc); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign review, got %v", err)
	}
}

func TestMemoryRepoLifecycle(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()

	review := Review{ID: "review-1", FirmID: "firm-1", Title: "Untitled Status Certificate Review", Status: StatusDraft}
	if err := repo.Create(ctx, review); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := repo.GetByID(ctx, "firm-other", "review-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected firm scoping on GetByID, got %v", err)
	}

	if err := repo.AddDocument(ctx, "firm-1", Document{ID: "doc-1", ReviewID: "review-1", FileName: "cert.pdf"}); err != nil {
		t.Fatalf("AddDocument: %v", err)
	}
	docs, err := repo.ListDocuments(ctx, "firm-1", "review-1")
	if err != nil || len(docs) != 1 {
		t.Fatalf("ListDocuments: %v docs=%d", err, len(docs))
	}

	if err := repo.SetDocumentParseResult(ctx, "doc-1", 12, "structural"); err != nil {
		t.Fatalf("SetDocumentParseResult: %v", err)
	}
	docs, _ = repo.ListDocuments(ctx, "firm-1", "review-1")
	if docs[0].PageCount == nil || *docs[0].PageCount != 12 || *docs[0].ParseMethod != "structural" {
		t.Fatalf("parse result not recorded: %+v", docs[0])
	}

	if err := repo.SetExported(ctx, "firm-1", "review-1", "firm-1/review-1/export.docx"); err != nil {
		t.Fatalf("SetExported: %v", err)
	}
	got, _ := repo.GetByID(ctx, "firm-1", "review-1")
	if got.Status != StatusExported || got.ExportPath == nil {
		t.Fatalf("unexpected review after export: %+v", got)
	}
}
