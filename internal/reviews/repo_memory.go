package reviews

import (
	"context"
	"sort"
	"sync"
	"time"

	"statuscert-backend/internal/facts"
	"statuscert-backend/internal/templates"
)

// MemoryRepo stores reviews in memory and is safe for concurrent use.
type MemoryRepo struct {
	mu        sync.RWMutex
	byID      map[string]Review
	docsByRev map[string][]Document
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		byID:      make(map[string]Review),
		docsByRev: make(map[string][]Document),
	}
}

func (r *MemoryRepo) Create(ctx context.Context, review Review) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	if review.CreatedAt.IsZero() {
		review.CreatedAt = now
	}
	review.UpdatedAt = now
	r.byID[review.ID] = review
	return nil
}

func (r *MemoryRepo) GetByID(ctx context.Context, firmID, reviewID string) (Review, error) {
	if err := ctx.Err(); err != nil {
		return Review{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	review, ok := r.byID[reviewID]
	if !ok || review.FirmID != firmID {
		return Review{}, ErrNotFound
	}
	return review, nil
}

func (r *MemoryRepo) ListByFirm(ctx context.Context, firmID string, limit, offset int) ([]Review, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := []Review{}
	for _, review := range r.byID {
		if review.FirmID == firmID {
			all = append(all, review)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	if offset >= len(all) {
		return []Review{}, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (r *MemoryRepo) UpdateStatus(ctx context.Context, firmID, reviewID, status string) error {
	return r.mutate(ctx, firmID, reviewID, func(review *Review) {
		review.Status = status
	})
}

func (r *MemoryRepo) SetFailed(ctx context.Context, firmID, reviewID, message string) error {
	return r.mutate(ctx, firmID, reviewID, func(review *Review) {
		review.Status = StatusFailed
		review.ErrorMessage = &message
	})
}

func (r *MemoryRepo) SetTitle(ctx context.Context, firmID, reviewID, title string) error {
	return r.mutate(ctx, firmID, reviewID, func(review *Review) {
		review.Title = title
	})
}

func (r *MemoryRepo) SaveExtraction(ctx context.Context, firmID, reviewID string, extracted facts.Extracted, model, promptVersion string) error {
	return r.mutate(ctx, firmID, reviewID, func(review *Review) {
		extracted.Normalize()
		review.Extracted = &extracted
		review.Status = StatusExtracted
		review.Model = &model
		review.PromptVersion = &promptVersion
		review.ErrorMessage = nil
	})
}

func (r *MemoryRepo) SaveGenerated(ctx context.Context, firmID, reviewID string, content GeneratedContent) error {
	return r.mutate(ctx, firmID, reviewID, func(review *Review) {
		extracted := content.Extracted
		extracted.Normalize()
		review.Extracted = &extracted
		review.Sections = content.Sections
		review.Flags = content.Flags
		text := content.ReviewText
		html := content.ReviewHTML
		review.ReviewText = &text
		review.ReviewHTML = &html
		review.Status = StatusReady
		model := content.Model
		promptVersion := content.PromptVersion
		review.Model = &model
		review.PromptVersion = &promptVersion
		review.ErrorMessage = nil
	})
}

func (r *MemoryRepo) SaveEdits(ctx context.Context, firmID, reviewID, reviewText string, sections []templates.Section, finalize bool) error {
	return r.mutate(ctx, firmID, reviewID, func(review *Review) {
		text := reviewText
		review.ReviewText = &text
		review.Sections = sections
		if finalize {
			review.Status = StatusFinalized
		}
	})
}

func (r *MemoryRepo) SetExported(ctx context.Context, firmID, reviewID, exportPath string) error {
	return r.mutate(ctx, firmID, reviewID, func(review *Review) {
		path := exportPath
		review.ExportPath = &path
		review.Status = StatusExported
	})
}

func (r *MemoryRepo) AddDocument(ctx context.Context, firmID string, doc Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	review, ok := r.byID[doc.ReviewID]
	if !ok || review.FirmID != firmID {
		return ErrNotFound
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	r.docsByRev[doc.ReviewID] = append(r.docsByRev[doc.ReviewID], doc)
	return nil
}

func (r *MemoryRepo) ListDocuments(ctx context.Context, firmID, reviewID string) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	review, ok := r.byID[reviewID]
	if !ok || review.FirmID != firmID {
		return nil, ErrNotFound
	}
	docs := make([]Document, len(r.docsByRev[reviewID]))
	copy(docs, r.docsByRev[reviewID])
	sort.Slice(docs, func(i, j int) bool { return docs[i].CreatedAt.Before(docs[j].CreatedAt) })
	return docs, nil
}

func (r *MemoryRepo) SetDocumentParseResult(ctx context.Context, documentID string, pageCount int, parseMethod string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for reviewID, docs := range r.docsByRev {
		for i := range docs {
			if docs[i].ID == documentID {
				pages := pageCount
				method := parseMethod
				docs[i].PageCount = &pages
				docs[i].ParseMethod = &method
				r.docsByRev[reviewID] = docs
				return nil
			}
		}
	}
	return ErrNotFound
}

func (r *MemoryRepo) mutate(ctx context.Context, firmID, reviewID string, fn func(*Review)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	review, ok := r.byID[reviewID]
	if !ok || review.FirmID != firmID {
		return ErrNotFound
	}
	fn(&review)
	review.UpdatedAt = time.Now().UTC()
	r.byID[reviewID] = review
	return nil
}

var _ Repo = (*MemoryRepo)(nil)
