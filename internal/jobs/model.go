package jobs

import (
	"encoding/json"
	"time"
)

// Job types.
const (
	TypeGenerateDraft = "GENERATE_DRAFT"
	TypeExportDocx    = "EXPORT_DOCX"
)

// Job statuses. QUEUED and RUNNING are the active set: at most one active
// job exists per (review, type). A CANCELLED status is reserved in the API
// vocabulary for manual cancellation; no code path produces it yet, so it
// has no constant.
const (
	StatusQueued    = "QUEUED"
	StatusRunning   = "RUNNING"
	StatusSucceeded = "SUCCEEDED"
	StatusFailed    = "FAILED"
)

// ActiveStatuses is the set that blocks a duplicate enqueue.
var ActiveStatuses = []string{StatusQueued, StatusRunning}

// IsActive reports whether a status belongs to the active set.
func IsActive(status string) bool {
	for _, s := range ActiveStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// Pipeline stages, in execution order.
const (
	StageValidating   = "VALIDATING"
	StageParse        = "OCR_PARSE"
	StageExtract      = "EXTRACT_LLM"
	StageGenerate     = "GENERATE_LLM"
	StageDocxBuild    = "DOCX_BUILD"
	StageUploadExport = "UPLOAD_EXPORT"
	StageDone         = "DONE"
)

var stageLabels = map[string]string{
	StageValidating:   "Validating request",
	StageParse:        "Reading documents",
	StageExtract:      "Extracting key facts",
	StageGenerate:     "Drafting review",
	StageDocxBuild:    "Building document",
	StageUploadExport: "Uploading export",
	StageDone:         "Done",
}

// StageLabel returns the human-readable label for a stage.
func StageLabel(stage string) string {
	if label, ok := stageLabels[stage]; ok {
		return label
	}
	return stage
}

// MaxAttempts is the retry ceiling: a transient failure requeues while
// attempt_count is below this value.
const MaxAttempts = 2

// Job is one queued unit of pipeline work.
type Job struct {
	ID           string
	ReviewID     string
	FirmID       string
	JobType      string
	Status       string
	Stage        string
	Progress     int
	AttemptCount int
	Payload      json.RawMessage
	Result       map[string]any
	ErrorMessage *string
	StartedAt    *time.Time
	FinishedAt   *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// GeneratePayload is the optional payload of a GENERATE_DRAFT job.
type GeneratePayload struct {
	TemplateID *string `json:"templateId,omitempty"`
}

// DecodeGeneratePayload parses the job payload, tolerating an empty one.
func (j *Job) DecodeGeneratePayload() (GeneratePayload, error) {
	var payload GeneratePayload
	if len(j.Payload) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(j.Payload, &payload); err != nil {
		return GeneratePayload{}, err
	}
	return payload, nil
}

// Health is a snapshot of queue state for the worker health endpoint.
type Health struct {
	Queued          int           `json:"queued"`
	Running         int           `json:"running"`
	OldestQueuedAge time.Duration `json:"-"`
	StaleRunning    int           `json:"staleRunning"`
	SucceededLast5m int           `json:"completedLast5m"`
	FailedLast5m    int           `json:"failedLast5m"`
}
