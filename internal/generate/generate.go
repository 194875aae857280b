// Package generate produces lawyer-style review sections from extracted facts.
package generate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"statuscert-backend/internal/facts"
	"statuscert-backend/internal/llm"
	"statuscert-backend/internal/templates"
)

// PromptVersion identifies the generation prompt in persisted records.
const PromptVersion = "generate_v1"

const generateSystemPrompt = "Return JSON only. Use conservative legal tone."

// FlagEvidence is a supporting quote attached to a flag.
type FlagEvidence struct {
	Quote     string `json:"quote"`
	Page      int    `json:"page"`
	Paragraph string `json:"paragraph,omitempty"`
}

// Flag severities.
const (
	SeverityLow  = "LOW"
	SeverityMed  = "MED"
	SeverityHigh = "HIGH"
)

// FlagItem is one issue surfaced for lawyer attention.
type FlagItem struct {
	Key                 string         `json:"key"`
	Title               string         `json:"title"`
	Severity            string         `json:"severity"`
	Evidence            []FlagEvidence `json:"evidence"`
	WhyItMatters        string         `json:"why_it_matters"`
	RecommendedFollowUp string         `json:"recommended_follow_up"`
}

// Result is the generator's output before post-processing. Model and
// PromptVersion record how the review was generated and are persisted with
// the review row.
type Result struct {
	Sections      []templates.Section
	Flags         []FlagItem
	FollowUps     []string
	Model         string
	PromptVersion string
}

// Generator fills template sections from extracted facts via the LLM.
type Generator struct {
	LLM   llm.Client
	Model string
}

type generatedPayload struct {
	ReviewSections []struct {
		Key     string `json:"key"`
		Title   string `json:"title"`
		Content string `json:"content"`
	} `json:"review_sections"`
	Flags     []FlagItem `json:"flags"`
	FollowUps []string   `json:"follow_ups"`
}

// Generate runs one review generation. The returned section list is the
// template's canonical list reconciled by key: sections the model did not
// return keep empty content, and the order never changes.
func (g *Generator) Generate(ctx context.Context, extracted facts.Extracted, template templates.Template, firmName string) (Result, error) {
	prompt, err := buildGenerationPrompt(extracted, template, firmName)
	if err != nil {
		return Result{}, err
	}

	temp := float32(0.2)
	raw, err := g.LLM.CompleteJSON(ctx, llm.ChatRequest{
		Model:       g.Model,
		System:      generateSystemPrompt,
		User:        prompt,
		Temperature: &temp,
	})
	if err != nil {
		return Result{}, fmt.Errorf("generate review: %w", err)
	}

	var parsed generatedPayload
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Result{}, fmt.Errorf("decode generated review: %w", err)
	}

	byKey := make(map[string]string, len(parsed.ReviewSections))
	for _, section := range parsed.ReviewSections {
		byKey[section.Key] = section.Content
	}

	sections := make([]templates.Section, len(template.Sections))
	copy(sections, template.Sections)
	for i := range sections {
		sections[i].Content = byKey[sections[i].Key]
	}

	result := Result{
		Sections:      sections,
		Flags:         parsed.Flags,
		FollowUps:     parsed.FollowUps,
		Model:         g.Model,
		PromptVersion: PromptVersion,
	}
	if result.Flags == nil {
		result.Flags = []FlagItem{}
	}
	if result.FollowUps == nil {
		result.FollowUps = []string{}
	}
	for i := range result.Flags {
		if result.Flags[i].Evidence == nil {
			result.Flags[i].Evidence = []FlagEvidence{}
		}
	}
	return result, nil
}

func buildGenerationPrompt(extracted facts.Extracted, template templates.Template, firmName string) (string, error) {
	templateJSON, err := json.Marshal(template)
	if err != nil {
		return "", fmt.Errorf("marshal template: %w", err)
	}
	extractedJSON, err := json.Marshal(extracted)
	if err != nil {
		return "", fmt.Errorf("marshal extracted facts: %w", err)
	}
	disclaimersJSON, err := json.Marshal(template.Disclaimers)
	if err != nil {
		return "", fmt.Errorf("marshal disclaimers: %w", err)
	}

	var b strings.Builder
	b.WriteString("You are a conservative Ontario real estate lawyer. Generate a status certificate review.\n\n")
	b.WriteString("Use the provided template sections. Return JSON ONLY with this shape:\n{\n")
	b.WriteString("  review_sections: [{ key, title, content }],\n")
	b.WriteString("  flags: [{ key, title, severity, evidence: [{ quote, page }], why_it_matters, recommended_follow_up }],\n")
	b.WriteString("  follow_ups: [string]\n}\n\n")
	b.WriteString("Tone: neutral, lawyer-grade. Include follow-ups/action items.\n")
	b.WriteString("If extracted_json.missing_fields contains values, include explicit follow-ups for each missing item and state \"Not found in provided documents\" in relevant section text.\n\n")
	b.WriteString("Template:\n")
	b.Write(templateJSON)
	b.WriteString("\n\nFirm: ")
	b.WriteString(firmName)
	b.WriteString("\nDisclaimers: ")
	b.Write(disclaimersJSON)
	b.WriteString("\n\nExtracted JSON:\n")
	b.Write(extractedJSON)
	return b.String(), nil
}
