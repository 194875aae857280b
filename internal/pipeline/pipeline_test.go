package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"statuscert-backend/internal/billing"
	"statuscert-backend/internal/entitlements"
	"statuscert-backend/internal/events"
	"statuscert-backend/internal/extract"
	"statuscert-backend/internal/facts"
	"statuscert-backend/internal/generate"
	"statuscert-backend/internal/jobs"
	"statuscert-backend/internal/llm"
	"statuscert-backend/internal/render"
	"statuscert-backend/internal/reviews"
	"statuscert-backend/internal/shared/storage/object"
	"statuscert-backend/internal/shared/storage/object/local"
	"statuscert-backend/internal/templates"
)

const testSourceText = `STATUS CERTIFICATE
25 TELEGRAM MEWS, Toronto, Ontario
UNIT 1203
TSCC 2451
The owner pays common expenses in the amount of $512.33 per month.
The reserve fund balance is $1,200,000.00 as at the date hereof.`

const testExtractionJSON = `{
  "corporation_name": null,
  "property_address": null,
  "unit": null,
  "common_expenses": null,
  "reserve_fund_balance": null,
  "insurance_required_policies_status": "HAS_REQUIRED_POLICIES",
  "missing_fields": ["reserve_fund_study_date"],
  "unusual_clauses": ["Cannabis growing prohibited"],
  "evidence": [{"field": "insurance_term", "quote": "policy in force", "page": 3}],
  "aps_extracted": {
    "aps_present": true,
    "unit": "Unit 1204",
    "common_expenses": "$512.33",
    "evidence": [{"field": "unit", "quote": "Unit 1204", "page": 1}]
  }
}`

const testGenerationJSON = `{
  "review_sections": [
    {"key": "intro", "title": "Purpose and Scope", "content": "This review covers the status certificate package."},
    {"key": "summary", "title": "Key Terms Summary", "content": "Common expenses are $512.33 per month."},
    {"key": "insurance", "title": "Insurance", "content": "Coverage runs to December 2026."}
  ],
  "flags": [],
  "follow_ups": ["Confirm reserve fund study timing."]
}`

// fakeClient serves both the OCR and the chat completions the pipeline makes.
type fakeClient struct {
	mu            sync.Mutex
	extractPrompt string
	ocrDelay      func(fileName string) time.Duration
	ocrText       func(fileName string) string
}

func (f *fakeClient) CompleteJSON(ctx context.Context, req llm.ChatRequest) (json.RawMessage, error) {
	if strings.Contains(req.User, "Generate a status certificate review") {
		return json.RawMessage(testGenerationJSON), nil
	}
	f.mu.Lock()
	f.extractPrompt = req.User
	f.mu.Unlock()
	return json.RawMessage(testExtractionJSON), nil
}

func (f *fakeClient) ExtractPDFText(ctx context.Context, pdfData []byte, fileName string) (string, error) {
	if f.ocrDelay != nil {
		time.Sleep(f.ocrDelay(fileName))
	}
	if f.ocrText != nil {
		return f.ocrText(fileName), nil
	}
	return testSourceText, nil
}

type fakeFirmRepo struct{}

func (fakeFirmRepo) GetName(ctx context.Context, firmID string) (string, error) {
	return "Keystone LLP", nil
}

type fakeTemplateRepo struct{}

func (fakeTemplateRepo) GetByID(ctx context.Context, templateID string) (templates.Record, error) {
	return templates.Record{}, templates.ErrNotFound
}
func (fakeTemplateRepo) FirmDefault(ctx context.Context, firmID string) (templates.Record, error) {
	return templates.Record{}, templates.ErrNotFound
}
func (fakeTemplateRepo) GlobalDefault(ctx context.Context) (templates.Record, error) {
	return templates.Record{}, templates.ErrNotFound
}

type fakeBillingRepo struct {
	mu       sync.Mutex
	state    entitlements.State
	consumed int
}

func (f *fakeBillingRepo) GetState(ctx context.Context, firmID string, defaultTrial int) (entitlements.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state, nil
}

func (f *fakeBillingRepo) Consume(ctx context.Context, firmID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state.TrialRemaining > 0 {
		f.state.TrialRemaining--
		f.consumed++
		return billing.SourceTrial, nil
	}
	if f.state.CreditsBalance > 0 {
		f.state.CreditsBalance--
		f.consumed++
		return billing.SourceCredits, nil
	}
	return "", billing.ErrNoBalance
}

type testEnv struct {
	pipeline *Pipeline
	reviews  *reviews.MemoryRepo
	jobs     *jobs.MemoryRepo
	events   *events.MemoryRepo
	billing  *fakeBillingRepo
	store    object.ObjectStore
	client   *fakeClient
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	client := &fakeClient{}
	store := local.New(t.TempDir())
	reviewRepo := reviews.NewMemoryRepo()
	jobRepo := jobs.NewMemoryRepo()
	eventRepo := &events.MemoryRepo{}
	billingRepo := &fakeBillingRepo{state: entitlements.State{TrialRemaining: 1}}

	p := &Pipeline{
		Jobs:      jobRepo,
		Reviews:   reviewRepo,
		Events:    eventRepo,
		Firms:     fakeFirmRepo{},
		Billing:   &billing.Service{Repo: billingRepo, DefaultTrial: 1},
		Templates: &templates.Resolver{Repo: fakeTemplateRepo{}},
		Store:     store,
		// High structural threshold pushes parsing to the OCR path, where
		// the fake client controls the text.
		Extract:          extract.New(client, 5000, true),
		Facts:            &facts.Extractor{LLM: client, Model: "test-model"},
		Generate:         &generate.Generator{LLM: client, Model: "test-model"},
		Docx:             &render.Builder{},
		ParseConcurrency: 3,
	}
	return &testEnv{pipeline: p, reviews: reviewRepo, jobs: jobRepo, events: eventRepo, billing: billingRepo, store: store, client: client}
}

func (env *testEnv) addReview(t *testing.T, review reviews.Review) {
	t.Helper()
	if err := env.reviews.Create(context.Background(), review); err != nil {
		t.Fatalf("create review: %v", err)
	}
}

func (env *testEnv) addDocument(t *testing.T, firmID, reviewID, docID, fileName string) {
	t.Helper()
	ctx := context.Background()
	key, _, _, err := env.store.Save(ctx, firmID, fileName, bytes.NewReader([]byte("%PDF-fake "+fileName)))
	if err != nil {
		t.Fatalf("save document: %v", err)
	}
	err = env.reviews.AddDocument(ctx, firmID, reviews.Document{
		ID:          docID,
		ReviewID:    reviewID,
		FileName:    fileName,
		StoragePath: key,
		ContentType: "application/pdf",
	})
	if err != nil {
		t.Fatalf("add document: %v", err)
	}
}

func (env *testEnv) claimJob(t *testing.T, jobType string) jobs.Job {
	t.Helper()
	ctx := context.Background()
	_, created, err := env.jobs.Enqueue(ctx, jobs.Job{
		ID:       "job-" + jobType,
		ReviewID: "rev-1",
		FirmID:   "firm-1",
		JobType:  jobType,
	})
	if err != nil || !created {
		t.Fatalf("enqueue: created=%v err=%v", created, err)
	}
	claimed, ok, err := env.jobs.ClaimNext(ctx)
	if err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}
	return claimed
}

func TestGenerateDraftJob(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.addReview(t, reviews.Review{
		ID:     "rev-1",
		FirmID: "firm-1",
		Title:  "Untitled Status Certificate",
		Status: reviews.StatusUploaded,
	})
	env.addDocument(t, "firm-1", "rev-1", "doc-1", "certificate.pdf")

	job := env.claimJob(t, jobs.TypeGenerateDraft)
	if err := env.pipeline.Run(ctx, job); err != nil {
		t.Fatalf("Run: %v", err)
	}

	done, err := env.jobs.GetByID(ctx, "firm-1", job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if done.Status != jobs.StatusSucceeded || done.Progress != 100 || done.Stage != jobs.StageDone {
		t.Fatalf("unexpected terminal job: %+v", done)
	}
	if done.Result["reviewId"] != "rev-1" {
		t.Fatalf("unexpected job result: %v", done.Result)
	}

	review, err := env.reviews.GetByID(ctx, "firm-1", "rev-1")
	if err != nil {
		t.Fatalf("get review: %v", err)
	}
	if review.Status != reviews.StatusReady {
		t.Fatalf("expected READY review, got %s", review.Status)
	}
	if !strings.HasPrefix(review.Title, "UNIT 1203 - 25 TELEGRAM MEWS") {
		t.Fatalf("auto title not applied: %q", review.Title)
	}
	if review.Model == nil || *review.Model != "test-model" {
		t.Fatalf("expected persisted model, got %v", review.Model)
	}
	if review.PromptVersion == nil || *review.PromptVersion != generate.PromptVersion {
		t.Fatalf("expected persisted prompt version, got %v", review.PromptVersion)
	}

	// Source-text reconciliation overrides the model's nulls.
	if facts.StrVal(review.Extracted.Unit) != "UNIT 1203" {
		t.Fatalf("unit not reconciled: %v", review.Extracted.Unit)
	}
	if facts.StrVal(review.Extracted.CommonExpenses) != "$512.33" {
		t.Fatalf("common expenses not reconciled: %v", review.Extracted.CommonExpenses)
	}
	if facts.StrVal(review.Extracted.CorporationName) != "TSCC 2451" {
		t.Fatalf("corporation not reconciled: %v", review.Extracted.CorporationName)
	}

	var unitCheck *facts.CrossCheckItem
	for i := range review.Extracted.CrossChecks {
		if review.Extracted.CrossChecks[i].Key == "unit" {
			unitCheck = &review.Extracted.CrossChecks[i]
		}
	}
	if unitCheck == nil || unitCheck.Status != facts.CrossCheckMismatch || unitCheck.Severity != generate.SeverityHigh {
		t.Fatalf("expected HIGH unit mismatch, got %+v", unitCheck)
	}

	flagKeys := map[string]bool{}
	for _, flag := range review.Flags {
		flagKeys[flag.Key] = true
	}
	for _, want := range []string{"aps_mismatch_unit", "missing_reserve_fund_study_date", "unusual_clause_1"} {
		if !flagKeys[want] {
			t.Fatalf("missing flag %s in %v", want, flagKeys)
		}
	}

	last := review.Sections[len(review.Sections)-1]
	if last.Key != "follow_ups" || !strings.Contains(last.Content, "- Confirm reserve fund study timing.") {
		t.Fatalf("follow-ups section not appended: %+v", last)
	}

	var insurance *templates.Section
	for i := range review.Sections {
		if review.Sections[i].Key == "insurance" {
			insurance = &review.Sections[i]
		}
	}
	if insurance == nil || !strings.Contains(insurance.Content, "has secured all policies of insurance required under the Condominium Act, 1998. [p.3]") {
		t.Fatalf("insurance compliance line missing: %+v", insurance)
	}

	if env.billing.consumed != 1 {
		t.Fatalf("expected one entitlement consumed, got %d", env.billing.consumed)
	}

	recorded, err := env.events.ListByReview(ctx, "firm-1", "rev-1", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(recorded) != 1 || recorded[0].EventType != events.TypeReviewGenerated {
		t.Fatalf("expected one REVIEW_GENERATED event, got %+v", recorded)
	}
}

func TestGenerateDraftFailsWithoutDocuments(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.addReview(t, reviews.Review{ID: "rev-1", FirmID: "firm-1", Title: "t", Status: reviews.StatusDraft})

	job := env.claimJob(t, jobs.TypeGenerateDraft)
	if err := env.pipeline.Run(ctx, job); err != nil {
		t.Fatalf("Run: %v", err)
	}

	done, _ := env.jobs.GetByID(ctx, "firm-1", job.ID)
	if done.Status != jobs.StatusFailed || done.ErrorMessage == nil || *done.ErrorMessage != "No documents uploaded." {
		t.Fatalf("unexpected job state: %+v", done)
	}
	review, _ := env.reviews.GetByID(ctx, "firm-1", "rev-1")
	if review.Status != reviews.StatusFailed {
		t.Fatalf("review should cascade to FAILED, got %s", review.Status)
	}
}

func TestGenerateDraftBlockedWithoutEntitlements(t *testing.T) {
	env := newTestEnv(t)
	env.billing.state = entitlements.State{}
	ctx := context.Background()

	env.addReview(t, reviews.Review{ID: "rev-1", FirmID: "firm-1", Title: "t", Status: reviews.StatusUploaded})
	env.addDocument(t, "firm-1", "rev-1", "doc-1", "certificate.pdf")

	job := env.claimJob(t, jobs.TypeGenerateDraft)
	if err := env.pipeline.Run(ctx, job); err != nil {
		t.Fatalf("Run: %v", err)
	}

	done, _ := env.jobs.GetByID(ctx, "firm-1", job.ID)
	if done.Status != jobs.StatusFailed || *done.ErrorMessage != "No entitlements remaining." {
		t.Fatalf("unexpected job state: %+v", done)
	}
	if env.billing.consumed != 0 {
		t.Fatalf("nothing should be consumed on a blocked run")
	}
	review, _ := env.reviews.GetByID(ctx, "firm-1", "rev-1")
	if review.Status != reviews.StatusFailed {
		t.Fatalf("review should be FAILED, got %s", review.Status)
	}
}

func TestGenerateDraftUnlimitedTierSkipsConsume(t *testing.T) {
	env := newTestEnv(t)
	env.billing.state = entitlements.State{FounderOverride: true}
	ctx := context.Background()

	env.addReview(t, reviews.Review{ID: "rev-1", FirmID: "firm-1", Title: "t", Status: reviews.StatusUploaded})
	env.addDocument(t, "firm-1", "rev-1", "doc-1", "certificate.pdf")

	job := env.claimJob(t, jobs.TypeGenerateDraft)
	if err := env.pipeline.Run(ctx, job); err != nil {
		t.Fatalf("Run: %v", err)
	}

	done, _ := env.jobs.GetByID(ctx, "firm-1", job.ID)
	if done.Status != jobs.StatusSucceeded {
		t.Fatalf("unexpected job state: %+v", done)
	}
	if env.billing.consumed != 0 {
		t.Fatalf("unlimited tier must not consume, got %d", env.billing.consumed)
	}
}

func TestParseMergeOrderFollowsUploadOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Earlier files finish last; the merged prompt must still list them in
	// upload order.
	env.client.ocrDelay = func(fileName string) time.Duration {
		switch fileName {
		case "a.pdf":
			return 40 * time.Millisecond
		case "b.pdf":
			return 20 * time.Millisecond
		}
		return 0
	}
	env.client.ocrText = func(fileName string) string {
		return "body of " + fileName + "\n" + testSourceText
	}

	env.addReview(t, reviews.Review{ID: "rev-1", FirmID: "firm-1", Title: "t", Status: reviews.StatusUploaded})
	for i, name := range []string{"a.pdf", "b.pdf", "c.pdf"} {
		env.addDocument(t, "firm-1", "rev-1", fmt.Sprintf("doc-%d", i+1), name)
	}

	job := env.claimJob(t, jobs.TypeGenerateDraft)
	if err := env.pipeline.Run(ctx, job); err != nil {
		t.Fatalf("Run: %v", err)
	}

	env.client.mu.Lock()
	prompt := env.client.extractPrompt
	env.client.mu.Unlock()

	posA := strings.Index(prompt, "=== FILE: a.pdf ===")
	posB := strings.Index(prompt, "=== FILE: b.pdf ===")
	posC := strings.Index(prompt, "=== FILE: c.pdf ===")
	if posA < 0 || posB < 0 || posC < 0 {
		t.Fatalf("file markers missing from prompt")
	}
	if !(posA < posB && posB < posC) {
		t.Fatalf("merge order wrong: a=%d b=%d c=%d", posA, posB, posC)
	}

	done, _ := env.jobs.GetByID(ctx, "firm-1", job.ID)
	if done.Status != jobs.StatusSucceeded {
		t.Fatalf("unexpected job state: %+v", done)
	}
	if done.Result["filesTotal"] != nil {
		// Parse progress results are overwritten by the terminal result.
		t.Fatalf("terminal result should replace parse progress, got %v", done.Result)
	}
}

func TestExportDocxJob(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	text := "## Purpose and Scope\n\nEdited intro."
	unit := "UNIT 1203"
	env.addReview(t, reviews.Review{
		ID:         "rev-1",
		FirmID:     "firm-1",
		Title:      "UNIT 1203 - 25 Telegram Mews",
		Status:     reviews.StatusReady,
		Extracted:  &facts.Extracted{Unit: &unit},
		Sections:   []templates.Section{{Key: "intro", Title: "Purpose and Scope", Content: "Original intro."}},
		ReviewText: &text,
		Flags:      []generate.FlagItem{{Key: "f1", Title: "Flag", Severity: generate.SeverityMed}},
	})

	job := env.claimJob(t, jobs.TypeExportDocx)
	if err := env.pipeline.Run(ctx, job); err != nil {
		t.Fatalf("Run: %v", err)
	}

	done, _ := env.jobs.GetByID(ctx, "firm-1", job.ID)
	if done.Status != jobs.StatusSucceeded || done.Progress != 100 {
		t.Fatalf("unexpected job state: %+v", done)
	}
	path, _ := done.Result["path"].(string)
	if path == "" || !strings.HasPrefix(path, "firm-1/rev-1/unit-1203-25-telegram-mews-") || !strings.HasSuffix(path, ".docx") {
		t.Fatalf("unexpected export path: %q", path)
	}
	if done.Result["renderer"] != render.RendererProgrammatic {
		t.Fatalf("unexpected renderer: %v", done.Result["renderer"])
	}

	review, _ := env.reviews.GetByID(ctx, "firm-1", "rev-1")
	if review.Status != reviews.StatusExported || review.ExportPath == nil || *review.ExportPath != path {
		t.Fatalf("review not marked exported: %+v", review)
	}

	rc, err := env.store.Open(ctx, path)
	if err != nil {
		t.Fatalf("open export: %v", err)
	}
	defer rc.Close()
	header := make([]byte, 2)
	if _, err := rc.Read(header); err != nil || string(header) != "PK" {
		t.Fatalf("export is not a zip archive: %q err=%v", header, err)
	}

	recorded, _ := env.events.ListByReview(ctx, "firm-1", "rev-1", 10)
	if len(recorded) != 1 || recorded[0].EventType != events.TypeExported {
		t.Fatalf("expected EXPORTED event, got %+v", recorded)
	}
}

func TestExportRequiresGeneratedContent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.addReview(t, reviews.Review{ID: "rev-1", FirmID: "firm-1", Title: "t", Status: reviews.StatusUploaded})

	job := env.claimJob(t, jobs.TypeExportDocx)
	if err := env.pipeline.Run(ctx, job); err != nil {
		t.Fatalf("Run: %v", err)
	}

	done, _ := env.jobs.GetByID(ctx, "firm-1", job.ID)
	if done.Status != jobs.StatusFailed || *done.ErrorMessage != "Generate review first." {
		t.Fatalf("unexpected job state: %+v", done)
	}
}

func TestRunExtractSavesFactsAndRecordsEvent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.addReview(t, reviews.Review{
		ID:     "rev-1",
		FirmID: "firm-1",
		Title:  "Untitled Status Certificate",
		Status: reviews.StatusUploaded,
	})
	env.addDocument(t, "firm-1", "rev-1", "doc-1", "a.pdf")
	env.addDocument(t, "firm-1", "rev-1", "doc-2", "b.pdf")

	if err := env.pipeline.RunExtract(ctx, "firm-1", "rev-1", "user-9"); err != nil {
		t.Fatalf("RunExtract: %v", err)
	}

	review, err := env.reviews.GetByID(ctx, "firm-1", "rev-1")
	if err != nil {
		t.Fatalf("get review: %v", err)
	}
	if review.Status != reviews.StatusExtracted {
		t.Fatalf("expected EXTRACTED review, got %s", review.Status)
	}
	if review.Extracted == nil || len(review.Extracted.MissingFields) != 1 {
		t.Fatalf("expected saved facts, got %+v", review.Extracted)
	}
	if review.Model == nil || *review.Model != "test-model" {
		t.Fatalf("expected persisted model, got %v", review.Model)
	}
	if review.PromptVersion == nil || *review.PromptVersion != facts.PromptVersion {
		t.Fatalf("expected extraction prompt version, got %v", review.PromptVersion)
	}

	var extractedEvent *events.Event
	for i := range env.events.Events {
		if env.events.Events[i].EventType == events.TypeExtracted {
			extractedEvent = &env.events.Events[i]
		}
	}
	if extractedEvent == nil {
		t.Fatalf("expected an EXTRACTED event, got %+v", env.events.Events)
	}
	if extractedEvent.ActorID == nil || *extractedEvent.ActorID != "user-9" {
		t.Fatalf("expected actor on event, got %v", extractedEvent.ActorID)
	}
	if extractedEvent.Payload["filesCount"] != 2 {
		t.Fatalf("expected filesCount 2, got %v", extractedEvent.Payload["filesCount"])
	}
	if extractedEvent.Payload["textMethod"] != "ocr" {
		t.Fatalf("expected ocr method on junk PDFs, got %v", extractedEvent.Payload["textMethod"])
	}
	if extractedEvent.Payload["model"] != "test-model" || extractedEvent.Payload["promptVersion"] != facts.PromptVersion {
		t.Fatalf("expected model metadata on event, got %+v", extractedEvent.Payload)
	}
}

func TestRunExtractWithoutDocuments(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.addReview(t, reviews.Review{ID: "rev-1", FirmID: "firm-1", Title: "t", Status: reviews.StatusDraft})

	if err := env.pipeline.RunExtract(ctx, "firm-1", "rev-1", ""); !errors.Is(err, reviews.ErrNoDocuments) {
		t.Fatalf("expected ErrNoDocuments, got %v", err)
	}
}

func TestRunExtractUnknownReview(t *testing.T) {
	env := newTestEnv(t)

	err := env.pipeline.RunExtract(context.Background(), "firm-1", "missing", "")
	if !errors.Is(err, reviews.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
