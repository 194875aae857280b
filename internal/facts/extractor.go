package facts

import (
	"context"
	"fmt"
	"strings"

	"statuscert-backend/internal/llm"
)

// PromptVersion identifies the extraction prompt in persisted records.
const PromptVersion = "extract_v1"

const extractSystemPrompt = "Return JSON only. Use conservative legal tone."

// Extractor maps merged document text to structured facts via the LLM.
type Extractor struct {
	LLM   llm.Client
	Model string
}

// Extraction is the extractor's full output: the decoded facts plus the
// model and prompt version that produced them, persisted alongside the
// facts so a saved review records how it was extracted.
type Extraction struct {
	Facts         Extracted
	Model         string
	PromptVersion string
}

// Extract runs fact extraction over the merged document text. No retry logic
// here; a malformed response surfaces as a parse error to the caller.
func (x *Extractor) Extract(ctx context.Context, text string) (Extraction, error) {
	temp := float32(0.1)
	raw, err := x.LLM.CompleteJSON(ctx, llm.ChatRequest{
		Model:       x.Model,
		System:      extractSystemPrompt,
		User:        buildExtractionPrompt(text),
		Temperature: &temp,
	})
	if err != nil {
		return Extraction{}, fmt.Errorf("extract facts: %w", err)
	}
	decoded, err := Decode(raw)
	if err != nil {
		return Extraction{}, err
	}
	return Extraction{
		Facts:         decoded,
		Model:         x.Model,
		PromptVersion: PromptVersion,
	}, nil
}

func buildExtractionPrompt(text string) string {
	var b strings.Builder
	b.WriteString("You are an Ontario condo real estate law assistant. Extract key facts from the status certificate package.\n\n")
	b.WriteString("Return JSON ONLY with this shape:\n{\n")
	b.WriteString("  corporation_name, corporation_number, property_address, unit, parking, locker, bike,\n")
	b.WriteString("  common_expenses, common_expenses_due_date, arrears, prepaid, fee_increases, special_assessments,\n")
	b.WriteString("  reserve_fund_balance, reserve_fund_balance_date, reserve_fund_study_date, reserve_fund_next_due,\n")
	b.WriteString("  legal_proceedings, insurance_term, insurance_deductibles, insurance_required_policies_status, insurance_required_policies_basis,\n")
	b.WriteString("  leased_unit_count, restrictions_summary,\n")
	b.WriteString("  unusual_clauses: [string],\n")
	b.WriteString("  missing_fields: [field_key_string],\n")
	b.WriteString("  evidence: [{ field, quote, page }],\n")
	b.WriteString("  aps_extracted: { aps_present, property_address, unit, parking, locker, bike, common_expenses, evidence: [{ field, quote, page }] }\n")
	b.WriteString("}\n\nRules:\n")
	b.WriteString("- If a field is not present in the provided documents, return null and include its key in missing_fields.\n")
	b.WriteString("- insurance_required_policies_status must be one of HAS_REQUIRED_POLICIES, NOT_CONFIRMED, NOT_SECURED, or null.\n")
	b.WriteString("- Only populate aps_extracted when an Agreement of Purchase and Sale is part of the package; set aps_present accordingly.\n")
	b.WriteString("- List clauses that appear non-standard for an Ontario condominium in unusual_clauses.\n")
	b.WriteString("- Include evidence snippets with page references (page numbers as integers) whenever possible.\n")
	b.WriteString("- Do not hallucinate.\n\nDocument text:\n")
	b.WriteString(text)
	return b.String()
}
