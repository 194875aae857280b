package reviews

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"statuscert-backend/internal/editor"
	"statuscert-backend/internal/generate"
	"statuscert-backend/internal/shared/server/middleware"
	"statuscert-backend/internal/shared/server/respond"
	"statuscert-backend/internal/shared/storage/object"
	"statuscert-backend/internal/shared/telemetry"
	"statuscert-backend/internal/templates"
)

const (
	maxUploadBytes = 20 << 20
	defaultTitle   = "Untitled Status Certificate"
)

// ExtractRunner parses a review's documents and extracts facts synchronously,
// outside the job queue.
type ExtractRunner interface {
	RunExtract(ctx context.Context, firmID, reviewID, actorID string) error
}

// Handler serves the review CRUD, document upload, and synchronous
// extraction routes.
type Handler struct {
	Repo    Repo
	Store   object.ObjectStore
	Extract ExtractRunner
}

func NewHandler(repo Repo, store object.ObjectStore, extract ExtractRunner) *Handler {
	return &Handler{Repo: repo, Store: store, Extract: extract}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/reviews", h.create)
	rg.GET("/reviews", h.list)
	rg.GET("/reviews/:id", h.get)
	rg.POST("/reviews/:id/documents", h.uploadDocument)
	rg.POST("/extract", h.extract)
	rg.POST("/update", h.update)
}

type createRequest struct {
	Title      string  `json:"title"`
	TemplateID *string `json:"templateId"`
}

func (h *Handler) create(c *gin.Context) {
	firmID := middleware.FirmIDFromContext(c)

	var req createRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
			return
		}
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = defaultTitle
	}

	review := Review{
		ID:         uuid.NewString(),
		FirmID:     firmID,
		Title:      title,
		Status:     StatusDraft,
		TemplateID: req.TemplateID,
	}
	if err := h.Repo.Create(c.Request.Context(), review); err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to create review", nil)
		return
	}

	telemetry.Info("reviews.created", map[string]any{"reviewId": review.ID, "firmId": firmID})
	respond.Created(c, snapshot(review, nil))
}

func (h *Handler) list(c *gin.Context) {
	firmID := middleware.FirmIDFromContext(c)
	limit := queryInt(c, "limit", 50)
	offset := queryInt(c, "offset", 0)

	items, err := h.Repo.ListByFirm(c.Request.Context(), firmID, limit, offset)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to list reviews", nil)
		return
	}
	out := make([]gin.H, 0, len(items))
	for _, review := range items {
		out = append(out, summaryRow(review))
	}
	respond.OK(c, gin.H{"reviews": out})
}

func (h *Handler) get(c *gin.Context) {
	firmID := middleware.FirmIDFromContext(c)
	reviewID := c.Param("id")

	review, err := h.Repo.GetByID(c.Request.Context(), firmID, reviewID)
	if errors.Is(err, ErrNotFound) {
		respond.Error(c, http.StatusNotFound, "not_found", "review not found", nil)
		return
	}
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to load review", nil)
		return
	}

	docs, err := h.Repo.ListDocuments(c.Request.Context(), firmID, reviewID)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to load documents", nil)
		return
	}
	respond.OK(c, snapshot(review, docs))
}

func (h *Handler) uploadDocument(c *gin.Context) {
	firmID := middleware.FirmIDFromContext(c)
	reviewID := c.Param("id")
	ctx := c.Request.Context()

	review, err := h.Repo.GetByID(ctx, firmID, reviewID)
	if errors.Is(err, ErrNotFound) {
		respond.Error(c, http.StatusNotFound, "not_found", "review not found", nil)
		return
	}
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to load review", nil)
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "multipart field 'file' is required", nil)
		return
	}
	if fileHeader.Size <= 0 || fileHeader.Size > maxUploadBytes {
		respond.Error(c, http.StatusBadRequest, "validation_error", "file size exceeds limit", nil)
		return
	}
	if !strings.EqualFold(filepath.Ext(fileHeader.Filename), ".pdf") {
		respond.Error(c, http.StatusBadRequest, "validation_error", "only PDF documents are accepted", nil)
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to read upload", nil)
		return
	}
	defer file.Close()

	storageKey, size, contentType, err := h.Store.Save(ctx, firmID, fileHeader.Filename, file)
	if err != nil {
		telemetry.Error("reviews.upload_failed", map[string]any{"reviewId": reviewID, "error": err.Error()})
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to store document", nil)
		return
	}
	if contentType == "" {
		contentType = "application/pdf"
	}

	doc := Document{
		ID:          uuid.NewString(),
		ReviewID:    reviewID,
		FileName:    fileHeader.Filename,
		StoragePath: storageKey,
		ContentType: contentType,
		SizeBytes:   size,
	}
	if err := h.Repo.AddDocument(ctx, firmID, doc); err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to record document", nil)
		return
	}
	if review.Status == StatusDraft {
		if err := h.Repo.UpdateStatus(ctx, firmID, reviewID, StatusUploaded); err != nil {
			telemetry.Warn("reviews.status_update_failed", map[string]any{"reviewId": reviewID, "error": err.Error()})
		}
	}

	telemetry.Info("reviews.document_uploaded", map[string]any{
		"reviewId":  reviewID,
		"fileName":  fileHeader.Filename,
		"sizeBytes": size,
	})
	respond.Created(c, gin.H{
		"documentId": doc.ID,
		"fileName":   doc.FileName,
		"sizeBytes":  size,
	})
}

type extractRequest struct {
	ReviewID string `json:"reviewId"`
}

// extract runs parse and fact extraction synchronously and returns the
// updated review. The draft pipeline extracts on its own; this route serves
// callers that want facts without generating.
func (h *Handler) extract(c *gin.Context) {
	firmID := middleware.FirmIDFromContext(c)
	ctx := c.Request.Context()

	var req extractRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.ReviewID) == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "reviewId is required", nil)
		return
	}

	err := h.Extract.RunExtract(ctx, firmID, req.ReviewID, middleware.ActorIDFromContext(c))
	switch {
	case errors.Is(err, ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", "review not found", nil)
		return
	case errors.Is(err, ErrNoDocuments):
		respond.Error(c, http.StatusBadRequest, "missing_document", "No documents uploaded.", nil)
		return
	case err != nil:
		telemetry.Error("reviews.extract_failed", map[string]any{"reviewId": req.ReviewID, "error": err.Error()})
		respond.Error(c, http.StatusInternalServerError, "internal_error", "extraction failed", nil)
		return
	}

	review, err := h.Repo.GetByID(ctx, firmID, req.ReviewID)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to load review", nil)
		return
	}
	docs, err := h.Repo.ListDocuments(ctx, firmID, req.ReviewID)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to load documents", nil)
		return
	}
	respond.OK(c, snapshot(review, docs))
}

type updateRequest struct {
	ReviewID   string              `json:"reviewId"`
	ReviewText *string             `json:"reviewText"`
	Sections   []templates.Section `json:"sections"`
	Finalize   bool                `json:"finalize"`
}

// update applies user edits. Text and section forms are interchangeable: an
// edited text is re-split against the current section list, and edited
// sections are re-joined to text, so both stay in sync.
func (h *Handler) update(c *gin.Context) {
	firmID := middleware.FirmIDFromContext(c)
	ctx := c.Request.Context()

	var req updateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}
	if strings.TrimSpace(req.ReviewID) == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "reviewId is required", nil)
		return
	}
	if req.ReviewText == nil && len(req.Sections) == 0 {
		respond.Error(c, http.StatusBadRequest, "validation_error", "reviewText or sections is required", nil)
		return
	}

	review, err := h.Repo.GetByID(ctx, firmID, req.ReviewID)
	if errors.Is(err, ErrNotFound) {
		respond.Error(c, http.StatusNotFound, "not_found", "review not found", nil)
		return
	}
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to load review", nil)
		return
	}

	var sections []templates.Section
	var reviewText string
	if req.ReviewText != nil {
		reviewText = *req.ReviewText
		sections = editor.ReviewTextToSections(review.Sections, reviewText)
	} else {
		sections = req.Sections
		reviewText = editor.SectionsToReviewText(sections)
	}

	if err := h.Repo.SaveEdits(ctx, firmID, req.ReviewID, reviewText, sections, req.Finalize); err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to save edits", nil)
		return
	}

	updated, err := h.Repo.GetByID(ctx, firmID, req.ReviewID)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to load review", nil)
		return
	}
	respond.OK(c, snapshot(updated, nil))
}

func queryInt(c *gin.Context, name string, def int) int {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val < 0 {
		return def
	}
	return val
}

func summaryRow(review Review) gin.H {
	return gin.H{
		"id":        review.ID,
		"title":     review.Title,
		"status":    review.Status,
		"createdAt": review.CreatedAt.Format(time.RFC3339),
		"updatedAt": review.UpdatedAt.Format(time.RFC3339),
	}
}

func snapshot(review Review, docs []Document) gin.H {
	out := gin.H{
		"id":            review.ID,
		"title":         review.Title,
		"status":        review.Status,
		"templateId":    review.TemplateID,
		"extracted":     review.Extracted,
		"sections":      emptySections(review.Sections),
		"reviewText":    review.ReviewText,
		"reviewHtml":    review.ReviewHTML,
		"flags":         emptyFlags(review.Flags),
		"exportPath":    review.ExportPath,
		"errorMessage":  review.ErrorMessage,
		"model":         review.Model,
		"promptVersion": review.PromptVersion,
		"createdAt":     review.CreatedAt.Format(time.RFC3339),
		"updatedAt":     review.UpdatedAt.Format(time.RFC3339),
	}
	if docs != nil {
		rows := make([]gin.H, 0, len(docs))
		for _, doc := range docs {
			rows = append(rows, gin.H{
				"id":          doc.ID,
				"fileName":    doc.FileName,
				"contentType": doc.ContentType,
				"sizeBytes":   doc.SizeBytes,
				"pageCount":   doc.PageCount,
				"parseMethod": doc.ParseMethod,
			})
		}
		out["documents"] = rows
	}
	return out
}

func emptySections(sections []templates.Section) []templates.Section {
	if sections == nil {
		return []templates.Section{}
	}
	return sections
}

func emptyFlags(flags []generate.FlagItem) []generate.FlagItem {
	if flags == nil {
		return []generate.FlagItem{}
	}
	return flags
}
