// Package pipeline executes queued review jobs: parsing uploaded documents,
// extracting facts, generating the review draft, and exporting DOCX.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"statuscert-backend/internal/billing"
	"statuscert-backend/internal/editor"
	"statuscert-backend/internal/entitlements"
	"statuscert-backend/internal/events"
	"statuscert-backend/internal/extract"
	"statuscert-backend/internal/facts"
	"statuscert-backend/internal/firms"
	"statuscert-backend/internal/generate"
	"statuscert-backend/internal/jobs"
	"statuscert-backend/internal/render"
	"statuscert-backend/internal/reviews"
	"statuscert-backend/internal/shared/storage/object"
	"statuscert-backend/internal/shared/telemetry"
	"statuscert-backend/internal/shared/util"
	"statuscert-backend/internal/templates"
)

const docxContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

const defaultSignedURLTTL = time.Hour

// Pipeline wires every stage dependency. One Pipeline serves all workers; it
// holds no per-job state.
type Pipeline struct {
	Jobs      jobs.Repo
	Reviews   reviews.Repo
	Events    events.Repo
	Firms     firms.Repo
	Billing   *billing.Service
	Templates *templates.Resolver
	Store     object.ObjectStore
	Extract   *extract.Extractor
	Facts     *facts.Extractor
	Generate  *generate.Generator
	Docx      *render.Builder

	ParseConcurrency int
	SignedURLTTL     time.Duration
}

// Run executes one claimed job to a terminal state. A returned error means
// the job did not reach a terminal state itself and the caller decides
// between requeue and failure; a nil return with a FAILED job means a
// business rejection that must not retry.
func (p *Pipeline) Run(ctx context.Context, job jobs.Job) error {
	switch job.JobType {
	case jobs.TypeGenerateDraft:
		return p.runGenerateDraft(ctx, job)
	case jobs.TypeExportDocx:
		return p.runExportDocx(ctx, job)
	default:
		return p.failJob(ctx, job, "Unknown job type: "+job.JobType)
	}
}

func (p *Pipeline) runGenerateDraft(ctx context.Context, job jobs.Job) error {
	p.progress(ctx, job.ID, jobs.StageValidating, 5)

	review, err := p.Reviews.GetByID(ctx, job.FirmID, job.ReviewID)
	if errors.Is(err, reviews.ErrNotFound) {
		return p.failJob(ctx, job, "Review not found.")
	}
	if err != nil {
		return err
	}

	docs, err := p.Reviews.ListDocuments(ctx, job.FirmID, job.ReviewID)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		p.failReview(ctx, job, "No documents uploaded.")
		return p.failJob(ctx, job, "No documents uploaded.")
	}

	if err := p.Reviews.UpdateStatus(ctx, job.FirmID, job.ReviewID, reviews.StatusProcessing); err != nil {
		return err
	}

	mergedText, err := p.parseDocuments(ctx, job, docs)
	if err != nil {
		return err
	}

	p.progress(ctx, job.ID, jobs.StageExtract, 55)
	extraction, err := p.Facts.Extract(ctx, mergedText)
	if err != nil {
		return err
	}
	reconciled, conflicts := reconcileExtractedFacts(mergedText, extraction.Facts)
	reconciled.CrossChecks = computeAPSCrossChecks(reconciled)

	if err := p.Reviews.SaveExtraction(ctx, job.FirmID, job.ReviewID, reconciled, extraction.Model, extraction.PromptVersion); err != nil {
		return err
	}

	if isPlaceholderTitle(review.Title) {
		title := buildAutoReviewTitle(reconciled, time.Now())
		if err := p.Reviews.SetTitle(ctx, job.FirmID, job.ReviewID, title); err != nil {
			return err
		}
		review.Title = title
	}

	p.progress(ctx, job.ID, jobs.StageGenerate, 85)

	state, err := p.Billing.StateFor(ctx, job.FirmID)
	if err != nil {
		return err
	}
	if !entitlements.CanGenerate(state) {
		p.failReview(ctx, job, "No entitlements remaining.")
		return p.failJob(ctx, job, "No entitlements remaining.")
	}

	payload, err := job.DecodeGeneratePayload()
	if err != nil {
		return fmt.Errorf("decode job payload: %w", err)
	}
	template, templateSource, err := p.Templates.Resolve(ctx, job.FirmID, payload.TemplateID, review.TemplateID)
	if err != nil {
		return err
	}
	telemetry.Info("pipeline.template_resolved", map[string]any{
		"jobId":  job.ID,
		"source": templateSource,
	})

	firmName, err := p.firmName(ctx, job.FirmID)
	if err != nil {
		return err
	}

	generated, err := p.Generate.Generate(ctx, reconciled, template, firmName)
	if err != nil {
		return err
	}

	missingFields := reconciled.MissingFields
	crossChecks := reconciled.CrossChecks

	allFollowUps := append([]string{}, generated.FollowUps...)
	allFollowUps = append(allFollowUps, missingFieldFollowUps(missingFields)...)
	allFollowUps = append(allFollowUps, crossCheckFollowUps(crossChecks)...)

	sections := dedupeSectionLines(generated.Sections)
	sections = injectInsuranceComplianceLine(sections, reconciled)
	sections = applyCitationRules(sections, reconciled)
	if len(allFollowUps) > 0 {
		sections = append(sections, followUpSection(allFollowUps))
	}

	flags := append([]generate.FlagItem{}, generated.Flags...)
	flags = append(flags, missingFieldFlags(missingFields)...)
	flags = append(flags, buildCrossCheckFlags(reconciled)...)
	flags = append(flags, buildUnusualClauseFlags(reconciled)...)

	content := reviews.GeneratedContent{
		Extracted:     reconciled,
		Sections:      sections,
		Flags:         flags,
		ReviewText:    editor.SectionsToReviewText(sections),
		ReviewHTML:    htmlFromSections(sections),
		Model:         generated.Model,
		PromptVersion: generated.PromptVersion,
	}
	if err := p.Reviews.SaveGenerated(ctx, job.FirmID, job.ReviewID, content); err != nil {
		return err
	}

	if !entitlements.Unlimited(state) {
		source, err := p.Billing.ConsumeFor(ctx, job.FirmID)
		switch {
		case errors.Is(err, billing.ErrNoBalance):
			// Raced to zero between the gate check and the decrement. The
			// review is already generated, so log and move on.
			telemetry.Warn("pipeline.entitlement_consume_empty", map[string]any{"firmId": job.FirmID})
		case err != nil:
			return err
		default:
			telemetry.Info("pipeline.entitlement_consumed", map[string]any{"firmId": job.FirmID, "source": source})
		}
	}

	p.recordEvent(ctx, events.Event{
		FirmID:    job.FirmID,
		ReviewID:  &job.ReviewID,
		EventType: events.TypeReviewGenerated,
		Payload: map[string]any{
			"followUps":           allFollowUps,
			"missingFields":       missingFields,
			"crossChecks":         crossChecks,
			"extractionConflicts": conflicts,
		},
	})

	return p.succeedJob(ctx, job, map[string]any{"reviewId": job.ReviewID})
}

// parseDocuments runs the merge for a queued job, reporting per-file
// progress on the job row.
func (p *Pipeline) parseDocuments(ctx context.Context, job jobs.Job, docs []reviews.Document) (string, error) {
	p.progress(ctx, job.ID, jobs.StageParse, 10)

	total := len(docs)
	merged, _, err := p.mergeDocuments(ctx, docs, func(done int, fileName string) {
		pct := 10 + int(float64(done)/float64(total)*40)
		p.progressWithResult(ctx, job.ID, jobs.StageParse, pct, map[string]any{
			"filesTotal":      total,
			"filesProcessed":  done,
			"currentFileName": fileName,
		})
	})
	return merged, err
}

// parseStats aggregates per-file extraction results for audit payloads.
type parseStats struct {
	filesCount  int
	lastMethod  string
	parsedChars int
	ocrChars    int
}

// mergeDocuments downloads and extracts every document with bounded
// concurrency. Worker w handles indexes w, w+n, w+2n... so merge order always
// follows upload order regardless of which file finishes first.
func (p *Pipeline) mergeDocuments(ctx context.Context, docs []reviews.Document, onFile func(done int, fileName string)) (string, parseStats, error) {
	total := len(docs)
	concurrency := p.ParseConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > total {
		concurrency = total
	}

	merged := make([]string, total)
	results := make([]extract.Result, total)
	var processed int32

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < concurrency; w++ {
		w := w
		g.Go(func() error {
			for i := w; i < total; i += concurrency {
				doc := docs[i]
				data, err := p.readObject(gctx, doc.StoragePath)
				if err != nil {
					return fmt.Errorf("unable to download %s: %w", doc.StoragePath, err)
				}
				parsed, err := p.Extract.Extract(gctx, data, doc.FileName)
				if err != nil {
					return err
				}
				merged[i] = fmt.Sprintf("\n\n=== FILE: %s ===\n\n%s\n", doc.FileName, parsed.Text)
				results[i] = parsed

				if err := p.Reviews.SetDocumentParseResult(gctx, doc.ID, parsed.Pages, parsed.Method); err != nil {
					telemetry.Warn("pipeline.parse_result_update_failed", map[string]any{
						"documentId": doc.ID,
						"error":      err.Error(),
					})
				}

				done := int(atomic.AddInt32(&processed, 1))
				if onFile != nil {
					onFile(done, doc.FileName)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", parseStats{}, err
	}

	stats := parseStats{filesCount: total, lastMethod: results[total-1].Method}
	for _, result := range results {
		stats.parsedChars += result.ParsedChars
		stats.ocrChars += result.OCRChars
	}
	return strings.Join(merged, ""), stats, nil
}

// RunExtract performs a synchronous parse and fact extraction over a
// review's documents, outside the job queue. Facts are saved raw, the review
// moves to EXTRACTED, and an audit event records the extraction.
func (p *Pipeline) RunExtract(ctx context.Context, firmID, reviewID, actorID string) error {
	if _, err := p.Reviews.GetByID(ctx, firmID, reviewID); err != nil {
		return err
	}
	docs, err := p.Reviews.ListDocuments(ctx, firmID, reviewID)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		return reviews.ErrNoDocuments
	}

	mergedText, stats, err := p.mergeDocuments(ctx, docs, nil)
	if err != nil {
		return err
	}
	extraction, err := p.Facts.Extract(ctx, mergedText)
	if err != nil {
		return err
	}
	if err := p.Reviews.SaveExtraction(ctx, firmID, reviewID, extraction.Facts, extraction.Model, extraction.PromptVersion); err != nil {
		return err
	}

	var actor *string
	if actorID != "" {
		actor = &actorID
	}
	payload := map[string]any{
		"model":         extraction.Model,
		"promptVersion": extraction.PromptVersion,
		"filesCount":    stats.filesCount,
		"textMethod":    stats.lastMethod,
		"parsedChars":   stats.parsedChars,
	}
	if stats.ocrChars > 0 {
		payload["ocrChars"] = stats.ocrChars
	}
	p.recordEvent(ctx, events.Event{
		FirmID:    firmID,
		ReviewID:  &reviewID,
		ActorID:   actor,
		EventType: events.TypeExtracted,
		Payload:   payload,
	})
	return nil
}

func (p *Pipeline) runExportDocx(ctx context.Context, job jobs.Job) error {
	p.progress(ctx, job.ID, jobs.StageDocxBuild, 60)

	review, err := p.Reviews.GetByID(ctx, job.FirmID, job.ReviewID)
	if errors.Is(err, reviews.ErrNotFound) {
		return p.failJob(ctx, job, "Review not found.")
	}
	if err != nil {
		return err
	}
	if !review.HasGeneratedContent() {
		return p.failJob(ctx, job, "Generate review first.")
	}

	firmName, err := p.firmName(ctx, job.FirmID)
	if err != nil {
		return err
	}
	template, _, err := p.Templates.Resolve(ctx, job.FirmID, nil, review.TemplateID)
	if err != nil {
		return err
	}

	// Edited text wins over the stored section list so manual edits always
	// reach the document.
	sections := review.Sections
	if review.ReviewText != nil && strings.TrimSpace(*review.ReviewText) != "" {
		sections = editor.ReviewTextToSections(template.Sections, *review.ReviewText)
	}

	data, renderer, err := p.Docx.Build(render.Input{
		FirmName:    firmName,
		MatterTitle: review.Title,
		GeneratedAt: time.Now(),
		Extracted:   review.Extracted,
		Template:    template,
		Sections:    sections,
		Flags:       review.Flags,
	})
	if err != nil {
		return err
	}

	p.progress(ctx, job.ID, jobs.StageUploadExport, 90)

	fileStem := util.Slugify(review.Title)
	if strings.TrimSpace(review.Title) == "" {
		fileStem = "status-certificate-" + shortID(job.ReviewID)
	}
	exportPath := fmt.Sprintf("%s/%s/%s-%d.docx", job.FirmID, job.ReviewID, fileStem, time.Now().UnixMilli())

	if _, err := p.Store.SaveWithKey(ctx, exportPath, docxContentType, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("upload export: %w", err)
	}

	ttl := p.SignedURLTTL
	if ttl <= 0 {
		ttl = defaultSignedURLTTL
	}
	downloadURL, err := p.Store.SignedURL(ctx, exportPath, ttl)
	if err != nil {
		telemetry.Warn("pipeline.signed_url_failed", map[string]any{"path": exportPath, "error": err.Error()})
		downloadURL = ""
	}

	if err := p.Reviews.SetExported(ctx, job.FirmID, job.ReviewID, exportPath); err != nil {
		return err
	}

	p.recordEvent(ctx, events.Event{
		FirmID:    job.FirmID,
		ReviewID:  &job.ReviewID,
		EventType: events.TypeExported,
		Payload:   map[string]any{"path": exportPath},
	})

	result := map[string]any{
		"path":     exportPath,
		"renderer": renderer,
	}
	if downloadURL != "" {
		result["downloadUrl"] = downloadURL
	}
	return p.succeedJob(ctx, job, result)
}

func (p *Pipeline) readObject(ctx context.Context, storageKey string) ([]byte, error) {
	rc, err := p.Store.Open(ctx, storageKey)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (p *Pipeline) firmName(ctx context.Context, firmID string) (string, error) {
	name, err := p.Firms.GetName(ctx, firmID)
	if errors.Is(err, firms.ErrNotFound) {
		return "Firm", nil
	}
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(name) == "" {
		return "Firm", nil
	}
	return name, nil
}

// progress is best effort; a lost progress tick never kills the job.
func (p *Pipeline) progress(ctx context.Context, jobID, stage string, pct int) {
	err := p.Jobs.Update(ctx, jobID, jobs.Patch{
		Stage:    jobs.StrField(stage),
		Progress: jobs.IntField(pct),
	})
	if err != nil {
		telemetry.Warn("pipeline.progress_update_failed", map[string]any{"jobId": jobID, "stage": stage, "error": err.Error()})
	}
}

func (p *Pipeline) progressWithResult(ctx context.Context, jobID, stage string, pct int, result map[string]any) {
	err := p.Jobs.Update(ctx, jobID, jobs.Patch{
		Stage:    jobs.StrField(stage),
		Progress: jobs.IntField(pct),
		Result:   result,
	})
	if err != nil {
		telemetry.Warn("pipeline.progress_update_failed", map[string]any{"jobId": jobID, "stage": stage, "error": err.Error()})
	}
}

func (p *Pipeline) failJob(ctx context.Context, job jobs.Job, message string) error {
	return p.Jobs.Update(ctx, job.ID, jobs.Patch{
		Status:       jobs.StrField(jobs.StatusFailed),
		ErrorMessage: &message,
	})
}

func (p *Pipeline) succeedJob(ctx context.Context, job jobs.Job, result map[string]any) error {
	return p.Jobs.Update(ctx, job.ID, jobs.Patch{
		Status:   jobs.StrField(jobs.StatusSucceeded),
		Stage:    jobs.StrField(jobs.StageDone),
		Progress: jobs.IntField(100),
		Result:   result,
	})
}

func (p *Pipeline) failReview(ctx context.Context, job jobs.Job, message string) {
	if err := p.Reviews.SetFailed(ctx, job.FirmID, job.ReviewID, message); err != nil {
		telemetry.Warn("pipeline.review_fail_update_failed", map[string]any{"reviewId": job.ReviewID, "error": err.Error()})
	}
}

func (p *Pipeline) recordEvent(ctx context.Context, event events.Event) {
	if err := p.Events.Record(ctx, event); err != nil {
		telemetry.Warn("pipeline.event_record_failed", map[string]any{"eventType": event.EventType, "error": err.Error()})
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
