package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"statuscert-backend/internal/llm"
)

var (
	chatAPIURL      = "https://api.openai.com/v1/chat/completions"
	responsesAPIURL = "https://api.openai.com/v1/responses"
)

const ocrPrompt = "Extract all text from this document. Preserve the reading order and line breaks. " +
	"Include every dollar amount, date, and unit designation exactly as printed. Output plain text only."

// Client implements llm.Client using the OpenAI HTTP API.
type Client struct {
	apiKey     string
	ocrModel   string
	httpClient *http.Client
}

// NewClient constructs a new OpenAI client. ocrModel is used for PDF text
// extraction; completion requests carry their own model.
func NewClient(apiKey, ocrModel string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}
	if strings.TrimSpace(ocrModel) == "" {
		return nil, fmt.Errorf("OCR model is required")
	}
	timeout := 120 * time.Second
	if raw := strings.TrimSpace(os.Getenv("OPENAI_TIMEOUT_SECONDS")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			timeout = time.Duration(parsed) * time.Second
		}
	}
	return &Client{
		apiKey:   apiKey,
		ocrModel: ocrModel,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    *float32       `json:"temperature,omitempty"`
	ResponseFormat responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage,omitempty"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// CompleteJSON sends a JSON-mode chat completion and returns the raw content.
func (c *Client) CompleteJSON(ctx context.Context, req llm.ChatRequest) (json.RawMessage, error) {
	if strings.TrimSpace(req.Model) == "" {
		return nil, fmt.Errorf("completion model is required")
	}

	messages := []chatMessage{}
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.User})

	reqBody := chatRequest{
		Model:    req.Model,
		Messages: messages,
		ResponseFormat: responseFormat{
			Type: "json_object",
		},
	}
	if req.Temperature != nil && !isGPT5(req.Model) {
		reqBody.Temperature = req.Temperature
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	body, statusCode, err := c.post(ctx, chatAPIURL, payload)
	if err != nil {
		return nil, err
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		if statusCode >= 400 {
			return nil, fmt.Errorf("openai http status %d: %s", statusCode, strings.TrimSpace(string(body)))
		}
		return nil, fmt.Errorf("openai response parse: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("openai error: %s (%s)", parsed.Error.Message, parsed.Error.Type)
	}
	if statusCode >= 400 {
		return nil, fmt.Errorf("openai http status %d: %s", statusCode, strings.TrimSpace(string(body)))
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("openai response missing choices")
	}

	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if content == "" {
		return nil, fmt.Errorf("openai response empty content")
	}
	logUsage(req.Model, parsed.Usage)
	return json.RawMessage(content), nil
}

type responsesRequest struct {
	Model string          `json:"model"`
	Input []responsesItem `json:"input"`
}

type responsesItem struct {
	Role    string             `json:"role"`
	Content []responsesContent `json:"content"`
}

type responsesContent struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Filename string `json:"filename,omitempty"`
	FileData string `json:"file_data,omitempty"`
}

type responsesReply struct {
	Output []struct {
		Type    string `json:"type"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// ExtractPDFText uploads the PDF inline to the Responses API and returns the
// model's plain-text transcription.
func (c *Client) ExtractPDFText(ctx context.Context, pdfData []byte, fileName string) (string, error) {
	if len(pdfData) == 0 {
		return "", fmt.Errorf("empty pdf data")
	}

	encoded := base64.StdEncoding.EncodeToString(pdfData)
	reqBody := responsesRequest{
		Model: c.ocrModel,
		Input: []responsesItem{
			{
				Role: "user",
				Content: []responsesContent{
					{
						Type:     "input_file",
						Filename: fileName,
						FileData: "data:application/pdf;base64," + encoded,
					},
					{
						Type: "input_text",
						Text: ocrPrompt,
					},
				},
			},
		},
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	body, statusCode, err := c.post(ctx, responsesAPIURL, payload)
	if err != nil {
		return "", err
	}

	var parsed responsesReply
	if err := json.Unmarshal(body, &parsed); err != nil {
		if statusCode >= 400 {
			return "", fmt.Errorf("openai http status %d: %s", statusCode, strings.TrimSpace(string(body)))
		}
		return "", fmt.Errorf("openai response parse: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("openai error: %s (%s)", parsed.Error.Message, parsed.Error.Type)
	}
	if statusCode >= 400 {
		return "", fmt.Errorf("openai http status %d: %s", statusCode, strings.TrimSpace(string(body)))
	}

	var b strings.Builder
	for _, item := range parsed.Output {
		if item.Type != "message" {
			continue
		}
		for _, content := range item.Content {
			if content.Type != "output_text" {
				continue
			}
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(content.Text)
		}
	}
	return strings.TrimSpace(b.String()), nil
}

func (c *Client) post(ctx context.Context, url string, payload []byte) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "Client.Timeout") {
			return nil, 0, fmt.Errorf("openai request timeout: %w", err)
		}
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}

func logUsage(model string, usage *struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}) {
	if usage == nil {
		log.Printf("llm response model=%s", model)
		return
	}
	log.Printf("llm response model=%s prompt_tokens=%d completion_tokens=%d total_tokens=%d",
		model, usage.PromptTokens, usage.CompletionTokens, usage.TotalTokens)
}

func isGPT5(model string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(model)), "gpt-5")
}

var _ llm.Client = (*Client)(nil)
