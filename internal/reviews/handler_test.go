package reviews

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"statuscert-backend/internal/facts"
	"statuscert-backend/internal/shared/storage/object/local"
	"statuscert-backend/internal/templates"
)

// fakeExtractRunner stands in for the pipeline's synchronous extraction,
// recording the call and applying a canned outcome to the repo.
type fakeExtractRunner struct {
	repo     *MemoryRepo
	err      error
	reviewID string
	actorID  string
}

func (f *fakeExtractRunner) RunExtract(ctx context.Context, firmID, reviewID, actorID string) error {
	f.reviewID = reviewID
	f.actorID = actorID
	if f.err != nil {
		return f.err
	}
	return f.repo.SaveExtraction(ctx, firmID, reviewID, facts.Extracted{Unit: facts.StrPtr("UNIT 1204")}, "gpt-4.1-mini", "extract_v1")
}

func newTestRouter(t *testing.T) (*gin.Engine, *MemoryRepo) {
	t.Helper()
	router, repo, _ := newTestRouterWithExtract(t, nil)
	return router, repo
}

func newTestRouterWithExtract(t *testing.T, extractErr error) (*gin.Engine, *MemoryRepo, *fakeExtractRunner) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := NewMemoryRepo()
	runner := &fakeExtractRunner{repo: repo, err: extractErr}
	handler := NewHandler(repo, local.New(t.TempDir()), runner)

	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set("firmId", "firm-1")
		c.Next()
	})
	api := router.Group("/api/v1")
	handler.RegisterRoutes(api)
	return router, repo, runner
}

func postJSON(t *testing.T, router *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestCreateReviewDefaultsTitle(t *testing.T) {
	router, repo := newTestRouter(t)

	resp := postJSON(t, router, "/api/v1/reviews", gin.H{})
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["title"] != "Untitled Status Certificate" || body["status"] != StatusDraft {
		t.Fatalf("unexpected body: %v", body)
	}

	id, _ := body["id"].(string)
	if _, err := repo.GetByID(context.Background(), "firm-1", id); err != nil {
		t.Fatalf("review not persisted: %v", err)
	}
}

func TestUploadDocumentMovesDraftToUploaded(t *testing.T) {
	router, repo := newTestRouter(t)
	ctx := context.Background()

	if err := repo.Create(ctx, Review{ID: "rev-1", FirmID: "firm-1", Title: "t", Status: StatusDraft}); err != nil {
		t.Fatalf("create: %v", err)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", "certificate.pdf")
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	if _, err := part.Write([]byte("%PDF-1.7 test")); err != nil {
		t.Fatalf("write part: %v", err)
	}
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/reviews/rev-1/documents", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}

	docs, err := repo.ListDocuments(ctx, "firm-1", "rev-1")
	if err != nil || len(docs) != 1 {
		t.Fatalf("expected one document, got %v err=%v", docs, err)
	}
	if docs[0].FileName != "certificate.pdf" || docs[0].StoragePath == "" {
		t.Fatalf("unexpected document: %+v", docs[0])
	}

	review, _ := repo.GetByID(ctx, "firm-1", "rev-1")
	if review.Status != StatusUploaded {
		t.Fatalf("expected UPLOADED, got %s", review.Status)
	}
}

func TestUploadDocumentRejectsNonPDF(t *testing.T) {
	router, repo := newTestRouter(t)
	ctx := context.Background()
	if err := repo.Create(ctx, Review{ID: "rev-1", FirmID: "firm-1", Title: "t", Status: StatusDraft}); err != nil {
		t.Fatalf("create: %v", err)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, _ := writer.CreateFormFile("file", "resume.docx")
	part.Write([]byte("not a pdf"))
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/reviews/rev-1/documents", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestUpdateWithReviewTextResplitsSections(t *testing.T) {
	router, repo := newTestRouter(t)
	ctx := context.Background()

	err := repo.Create(ctx, Review{
		ID: "rev-1", FirmID: "firm-1", Title: "t", Status: StatusReady,
		Sections: []templates.Section{
			{Key: "intro", Title: "Purpose and Scope", Content: "Old intro."},
			{Key: "summary", Title: "Key Terms Summary", Content: "Old summary."},
		},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	text := "## Purpose and Scope\n\nNew intro.\n\n## Key Terms Summary\n\nNew summary."
	resp := postJSON(t, router, "/api/v1/update", gin.H{"reviewId": "rev-1", "reviewText": text})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	review, _ := repo.GetByID(ctx, "firm-1", "rev-1")
	if len(review.Sections) != 2 || review.Sections[0].Content != "New intro." || review.Sections[1].Content != "New summary." {
		t.Fatalf("sections not resplit: %+v", review.Sections)
	}
	if review.ReviewText == nil || *review.ReviewText != text {
		t.Fatalf("review text not saved")
	}
}

func TestUpdateWithSectionsRejoinsText(t *testing.T) {
	router, repo := newTestRouter(t)
	ctx := context.Background()
	if err := repo.Create(ctx, Review{ID: "rev-1", FirmID: "firm-1", Title: "t", Status: StatusReady}); err != nil {
		t.Fatalf("create: %v", err)
	}

	sections := []templates.Section{
		{Key: "intro", Title: "Purpose and Scope", Content: "Edited."},
	}
	resp := postJSON(t, router, "/api/v1/update", gin.H{"reviewId": "rev-1", "sections": sections, "finalize": true})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	review, _ := repo.GetByID(ctx, "firm-1", "rev-1")
	if review.ReviewText == nil || !strings.Contains(*review.ReviewText, "## Purpose and Scope") {
		t.Fatalf("text not rejoined: %v", review.ReviewText)
	}
	if review.Status != StatusFinalized {
		t.Fatalf("finalize not applied, got %s", review.Status)
	}
}

func TestUpdateRequiresBody(t *testing.T) {
	router, repo := newTestRouter(t)
	if err := repo.Create(context.Background(), Review{ID: "rev-1", FirmID: "firm-1", Title: "t", Status: StatusReady}); err != nil {
		t.Fatalf("create: %v", err)
	}
	resp := postJSON(t, router, "/api/v1/update", gin.H{"reviewId": "rev-1"})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestGetReviewNotFound(t *testing.T) {
	router, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/reviews/missing", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestExtractSavesFactsAndReturnsSnapshot(t *testing.T) {
	router, repo, runner := newTestRouterWithExtract(t, nil)
	if err := repo.Create(context.Background(), Review{ID: "rev-1", FirmID: "firm-1", Title: "t", Status: StatusUploaded}); err != nil {
		t.Fatalf("create: %v", err)
	}

	resp := postJSON(t, router, "/api/v1/extract", gin.H{"reviewId": "rev-1"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if runner.reviewID != "rev-1" {
		t.Fatalf("extraction not invoked for review, got %q", runner.reviewID)
	}

	var body map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != StatusExtracted {
		t.Fatalf("expected EXTRACTED snapshot, got %v", body["status"])
	}
	if body["model"] != "gpt-4.1-mini" || body["promptVersion"] != "extract_v1" {
		t.Fatalf("expected model metadata in snapshot, got model=%v promptVersion=%v", body["model"], body["promptVersion"])
	}
}

func TestExtractWithoutDocumentsRejected(t *testing.T) {
	router, repo, _ := newTestRouterWithExtract(t, ErrNoDocuments)
	if err := repo.Create(context.Background(), Review{ID: "rev-1", FirmID: "firm-1", Title: "t", Status: StatusDraft}); err != nil {
		t.Fatalf("create: %v", err)
	}

	resp := postJSON(t, router, "/api/v1/extract", gin.H{"reviewId": "rev-1"})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", resp.Code, resp.Body.String())
	}
	if !strings.Contains(resp.Body.String(), "missing_document") {
		t.Fatalf("expected missing_document code, got %s", resp.Body.String())
	}
}

func TestExtractUnknownReview(t *testing.T) {
	router, _, _ := newTestRouterWithExtract(t, ErrNotFound)

	resp := postJSON(t, router, "/api/v1/extract", gin.H{"reviewId": "missing"})
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestExtractRequiresReviewID(t *testing.T) {
	router, _ := newTestRouter(t)

	resp := postJSON(t, router, "/api/v1/extract", gin.H{})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}
