package llm

import (
	"context"
	"encoding/json"
	"errors"
)

// Client abstracts LLM providers for fact extraction and review generation.
type Client interface {
	// CompleteJSON sends a chat completion request and returns the raw JSON body
	// of the model's reply. Implementations must request JSON-mode output.
	CompleteJSON(ctx context.Context, req ChatRequest) (json.RawMessage, error)
	// ExtractPDFText runs OCR-style text extraction over a PDF document.
	ExtractPDFText(ctx context.Context, pdfData []byte, fileName string) (string, error)
}

// ChatRequest captures the inputs for a JSON completion.
type ChatRequest struct {
	Model       string
	System      string
	User        string
	Temperature *float32
}

// ErrNotImplemented is returned by the placeholder client.
var ErrNotImplemented = errors.New("LLM not implemented")

// PlaceholderClient is a stub implementation until provider wiring is added.
type PlaceholderClient struct{}

// CompleteJSON returns ErrNotImplemented.
func (PlaceholderClient) CompleteJSON(ctx context.Context, req ChatRequest) (json.RawMessage, error) {
	_ = ctx
	_ = req
	return nil, ErrNotImplemented
}

// ExtractPDFText returns ErrNotImplemented.
func (PlaceholderClient) ExtractPDFText(ctx context.Context, pdfData []byte, fileName string) (string, error) {
	_ = ctx
	_ = pdfData
	_ = fileName
	return "", ErrNotImplemented
}
