package reviews

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"statuscert-backend/internal/facts"
	"statuscert-backend/internal/templates"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

const reviewColumns = `id, firm_id, title, status, template_id, extracted_facts, sections, flags,
       review_text, review_html, export_path, error_message, model, prompt_version, created_at, updated_at`

func (r *PGRepo) Create(ctx context.Context, review Review) error {
	const query = `
INSERT INTO status_cert_reviews (id, firm_id, title, status, template_id, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, now(), now())`
	_, err := r.DB.ExecContext(ctx, query,
		review.ID,
		review.FirmID,
		review.Title,
		review.Status,
		review.TemplateID,
	)
	return err
}

func (r *PGRepo) GetByID(ctx context.Context, firmID, reviewID string) (Review, error) {
	query := `
SELECT ` + reviewColumns + `
FROM status_cert_reviews
WHERE id = $1 AND firm_id = $2
LIMIT 1`
	return scanReview(r.DB.QueryRowContext(ctx, query, reviewID, firmID))
}

func (r *PGRepo) ListByFirm(ctx context.Context, firmID string, limit, offset int) ([]Review, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	query := `
SELECT ` + reviewColumns + `
FROM status_cert_reviews
WHERE firm_id = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3`
	rows, err := r.DB.QueryContext(ctx, query, firmID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Review{}
	for rows.Next() {
		review, err := scanReviewRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, review)
	}
	return out, rows.Err()
}

func (r *PGRepo) UpdateStatus(ctx context.Context, firmID, reviewID, status string) error {
	const query = `
UPDATE status_cert_reviews
SET status = $3, updated_at = now()
WHERE id = $1 AND firm_id = $2`
	return r.execScoped(ctx, query, reviewID, firmID, status)
}

func (r *PGRepo) SetFailed(ctx context.Context, firmID, reviewID, message string) error {
	const query = `
UPDATE status_cert_reviews
SET status = $3, error_message = $4, updated_at = now()
WHERE id = $1 AND firm_id = $2`
	return r.execScoped(ctx, query, reviewID, firmID, StatusFailed, message)
}

func (r *PGRepo) SetTitle(ctx context.Context, firmID, reviewID, title string) error {
	const query = `
UPDATE status_cert_reviews
SET title = $3, updated_at = now()
WHERE id = $1 AND firm_id = $2`
	return r.execScoped(ctx, query, reviewID, firmID, title)
}

func (r *PGRepo) SaveExtraction(ctx context.Context, firmID, reviewID string, extracted facts.Extracted, model, promptVersion string) error {
	payload, err := json.Marshal(extracted)
	if err != nil {
		return fmt.Errorf("marshal extracted facts: %w", err)
	}
	const query = `
UPDATE status_cert_reviews
SET extracted_facts = $3, status = $4, model = $5, prompt_version = $6,
    error_message = NULL, updated_at = now()
WHERE id = $1 AND firm_id = $2`
	return r.execScoped(ctx, query, reviewID, firmID, payload, StatusExtracted, model, promptVersion)
}

func (r *PGRepo) SaveGenerated(ctx context.Context, firmID, reviewID string, content GeneratedContent) error {
	extractedPayload, err := json.Marshal(content.Extracted)
	if err != nil {
		return fmt.Errorf("marshal extracted facts: %w", err)
	}
	sectionsPayload, err := json.Marshal(content.Sections)
	if err != nil {
		return fmt.Errorf("marshal sections: %w", err)
	}
	flagsPayload, err := json.Marshal(content.Flags)
	if err != nil {
		return fmt.Errorf("marshal flags: %w", err)
	}
	const query = `
UPDATE status_cert_reviews
SET extracted_facts = $3, sections = $4, flags = $5,
    review_text = $6, review_html = $7,
    status = $8, model = $9, prompt_version = $10,
    error_message = NULL, updated_at = now()
WHERE id = $1 AND firm_id = $2`
	return r.execScoped(ctx, query, reviewID, firmID,
		extractedPayload, sectionsPayload, flagsPayload,
		content.ReviewText, content.ReviewHTML, StatusReady,
		content.Model, content.PromptVersion)
}

func (r *PGRepo) SaveEdits(ctx context.Context, firmID, reviewID, reviewText string, sections []templates.Section, finalize bool) error {
	sectionsPayload, err := json.Marshal(sections)
	if err != nil {
		return fmt.Errorf("marshal sections: %w", err)
	}
	query := `
UPDATE status_cert_reviews
SET review_text = $3, sections = $4, updated_at = now()
WHERE id = $1 AND firm_id = $2`
	args := []any{reviewID, firmID, reviewText, sectionsPayload}
	if finalize {
		query = `
UPDATE status_cert_reviews
SET review_text = $3, sections = $4, status = $5, updated_at = now()
WHERE id = $1 AND firm_id = $2`
		args = append(args, StatusFinalized)
	}
	return r.execScoped(ctx, query, args...)
}

func (r *PGRepo) SetExported(ctx context.Context, firmID, reviewID, exportPath string) error {
	const query = `
UPDATE status_cert_reviews
SET export_path = $3, status = $4, updated_at = now()
WHERE id = $1 AND firm_id = $2`
	return r.execScoped(ctx, query, reviewID, firmID, exportPath, StatusExported)
}

func (r *PGRepo) AddDocument(ctx context.Context, firmID string, doc Document) error {
	// Ownership check rides on the subquery; inserts for foreign reviews
	// affect zero rows.
	const query = `
INSERT INTO status_cert_review_documents (id, review_id, file_name, storage_path, content_type, size_bytes, created_at)
SELECT $1, r.id, $3, $4, $5, $6, now()
FROM status_cert_reviews r
WHERE r.id = $2 AND r.firm_id = $7`
	res, err := r.DB.ExecContext(ctx, query,
		doc.ID,
		doc.ReviewID,
		doc.FileName,
		doc.StoragePath,
		doc.ContentType,
		doc.SizeBytes,
		firmID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepo) ListDocuments(ctx context.Context, firmID, reviewID string) ([]Document, error) {
	const query = `
SELECT d.id, d.review_id, d.file_name, d.storage_path, d.content_type, d.size_bytes,
       d.page_count, d.parse_method, d.created_at
FROM status_cert_review_documents d
JOIN status_cert_reviews r ON r.id = d.review_id
WHERE d.review_id = $1 AND r.firm_id = $2
ORDER BY d.created_at ASC`
	rows, err := r.DB.QueryContext(ctx, query, reviewID, firmID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Document{}
	for rows.Next() {
		var doc Document
		var pageCount sql.NullInt64
		var parseMethod sql.NullString
		if err := rows.Scan(
			&doc.ID,
			&doc.ReviewID,
			&doc.FileName,
			&doc.StoragePath,
			&doc.ContentType,
			&doc.SizeBytes,
			&pageCount,
			&parseMethod,
			&doc.CreatedAt,
		); err != nil {
			return nil, err
		}
		if pageCount.Valid {
			n := int(pageCount.Int64)
			doc.PageCount = &n
		}
		if parseMethod.Valid {
			doc.ParseMethod = &parseMethod.String
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func (r *PGRepo) SetDocumentParseResult(ctx context.Context, documentID string, pageCount int, parseMethod string) error {
	const query = `
UPDATE status_cert_review_documents
SET page_count = $2, parse_method = $3
WHERE id = $1`
	_, err := r.DB.ExecContext(ctx, query, documentID, pageCount, parseMethod)
	return err
}

func (r *PGRepo) execScoped(ctx context.Context, query string, args ...any) error {
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReview(row *sql.Row) (Review, error) {
	review, err := scanReviewFrom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Review{}, ErrNotFound
	}
	return review, err
}

func scanReviewRows(rows *sql.Rows) (Review, error) {
	return scanReviewFrom(rows)
}

func scanReviewFrom(s rowScanner) (Review, error) {
	var review Review
	var rawExtracted, rawSections, rawFlags []byte
	if err := s.Scan(
		&review.ID,
		&review.FirmID,
		&review.Title,
		&review.Status,
		&review.TemplateID,
		&rawExtracted,
		&rawSections,
		&rawFlags,
		&review.ReviewText,
		&review.ReviewHTML,
		&review.ExportPath,
		&review.ErrorMessage,
		&review.Model,
		&review.PromptVersion,
		&review.CreatedAt,
		&review.UpdatedAt,
	); err != nil {
		return Review{}, err
	}

	if len(rawExtracted) > 0 {
		var extracted facts.Extracted
		if err := json.Unmarshal(rawExtracted, &extracted); err != nil {
			return Review{}, fmt.Errorf("decode extracted facts for review %s: %w", review.ID, err)
		}
		extracted.Normalize()
		review.Extracted = &extracted
	}
	if len(rawSections) > 0 {
		if err := json.Unmarshal(rawSections, &review.Sections); err != nil {
			return Review{}, fmt.Errorf("decode sections for review %s: %w", review.ID, err)
		}
	}
	if len(rawFlags) > 0 {
		if err := json.Unmarshal(rawFlags, &review.Flags); err != nil {
			return Review{}, fmt.Errorf("decode flags for review %s: %w", review.ID, err)
		}
	}
	return review, nil
}

var _ Repo = (*PGRepo)(nil)
