package templates

// Section styles.
const (
	StyleNarrative  = "narrative"
	StyleStructured = "structured"
)

// Template modes.
const (
	ModeStandard        = "standard"
	ModePrecedentLocked = "precedent_locked"
)

// Section is one canonical review section. Key is stable across the whole
// pipeline; generation, editing, and rendering all join on it.
type Section struct {
	Key          string `json:"key"`
	Title        string `json:"title"`
	Instructions string `json:"instructions"`
	Style        string `json:"style"`
	Content      string `json:"content,omitempty"`
	Locked       bool   `json:"locked,omitempty"`
}

// Template defines the section structure and boilerplate of a review.
type Template struct {
	Title       string    `json:"title"`
	Disclaimers []string  `json:"disclaimers"`
	Sections    []Section `json:"sections"`
	Mode        string    `json:"mode,omitempty"`
}

// Record is a stored template row.
type Record struct {
	ID        string
	FirmID    *string
	Name      string
	IsDefault bool
	Template  Template
}

// Default returns the built-in review template used when no stored template
// applies.
func Default() Template {
	return Template{
		Title: "Status Certificate Review – Precedent",
		Disclaimers: []string{
			"Facts are drawn from the provided status certificate package and should be verified against the source documents.",
			"This review does not replace independent legal analysis or partner review.",
		},
		Sections: []Section{
			{Key: "intro", Title: "Purpose and Scope", Instructions: "Explain the purpose of the review and what documents were considered.", Style: StyleNarrative},
			{Key: "summary", Title: "Key Terms Summary", Instructions: "Produce a concise factual summary of key financial and governance terms.", Style: StyleStructured},
			{Key: "insurance", Title: "Insurance", Instructions: "Summarize the insurance coverage, deductibles, and any gaps or issues.", Style: StyleNarrative},
			{Key: "budget_reserve", Title: "Budget and Reserve Fund", Instructions: "Discuss common expenses, arrears, reserve fund balance, and reserve fund study timing.", Style: StyleNarrative},
			{Key: "pets", Title: "Pet Rules", Instructions: "Note any pet restrictions or approvals required.", Style: StyleNarrative},
			{Key: "leasing", Title: "Leasing Rules", Instructions: "Summarize leasing restrictions and any notice or approval requirements.", Style: StyleNarrative},
			{Key: "additional", Title: "Additional Items to Note", Instructions: "Capture any other notable restrictions, assessments, litigation, or governance issues.", Style: StyleNarrative},
		},
	}
}
