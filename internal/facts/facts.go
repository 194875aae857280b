package facts

import (
	"encoding/json"
	"fmt"
)

// EvidenceItem is a source quote supporting an extracted field.
type EvidenceItem struct {
	Field     string `json:"field"`
	Quote     string `json:"quote"`
	Page      int    `json:"page"`
	Paragraph string `json:"paragraph,omitempty"`
}

// APSExtracted holds facts pulled from an Agreement of Purchase and Sale
// when one is included in the uploaded package.
type APSExtracted struct {
	APSPresent      bool           `json:"aps_present"`
	PropertyAddress *string        `json:"property_address"`
	Unit            *string        `json:"unit"`
	Parking         *string        `json:"parking"`
	Locker          *string        `json:"locker"`
	Bike            *string        `json:"bike"`
	CommonExpenses  *string        `json:"common_expenses"`
	Evidence        []EvidenceItem `json:"evidence"`
}

// Cross-check statuses.
const (
	CrossCheckMatch    = "MATCH"
	CrossCheckMismatch = "MISMATCH"
	CrossCheckNotFound = "NOT_FOUND"
)

// CrossCheckItem records one APS vs status certificate comparison.
type CrossCheckItem struct {
	Key             string  `json:"key"`
	Label           string  `json:"label"`
	APSValue        *string `json:"aps_value"`
	StatusCertValue *string `json:"status_cert_value"`
	Status          string  `json:"status"`
	Severity        string  `json:"severity,omitempty"`
	Note            string  `json:"note,omitempty"`
}

// Insurance required-policies statuses.
const (
	InsuranceHasRequired  = "HAS_REQUIRED_POLICIES"
	InsuranceNotConfirmed = "NOT_CONFIRMED"
	InsuranceNotSecured   = "NOT_SECURED"
)

// Extracted is the structured fact set pulled from a status certificate
// package. Scalar fields are pointers so a null from the model survives the
// round-trip through the database; fields absent from the source documents
// are null and their keys appear in MissingFields.
type Extracted struct {
	CorporationName         *string `json:"corporation_name"`
	CorporationNumber       *string `json:"corporation_number"`
	PropertyAddress         *string `json:"property_address"`
	Unit                    *string `json:"unit"`
	Parking                 *string `json:"parking"`
	Locker                  *string `json:"locker"`
	Bike                    *string `json:"bike"`
	CommonExpenses          *string `json:"common_expenses"`
	CommonExpensesDueDate   *string `json:"common_expenses_due_date"`
	Arrears                 *string `json:"arrears"`
	Prepaid                 *string `json:"prepaid"`
	FeeIncreases            *string `json:"fee_increases"`
	SpecialAssessments      *string `json:"special_assessments"`
	ReserveFundBalance      *string `json:"reserve_fund_balance"`
	ReserveFundBalanceDate  *string `json:"reserve_fund_balance_date"`
	ReserveFundStudyDate    *string `json:"reserve_fund_study_date"`
	ReserveFundNextDue      *string `json:"reserve_fund_next_due"`
	LegalProceedings        *string `json:"legal_proceedings"`
	InsuranceTerm           *string `json:"insurance_term"`
	InsuranceDeductibles    *string `json:"insurance_deductibles"`
	InsurancePoliciesStatus *string `json:"insurance_required_policies_status"`
	InsurancePoliciesBasis  *string `json:"insurance_required_policies_basis"`
	LeasedUnitCount         *string `json:"leased_unit_count"`
	RestrictionsSummary     *string `json:"restrictions_summary"`

	UnusualClauses []string         `json:"unusual_clauses"`
	Evidence       []EvidenceItem   `json:"evidence"`
	MissingFields  []string         `json:"missing_fields"`
	APSExtracted   *APSExtracted    `json:"aps_extracted,omitempty"`
	CrossChecks    []CrossCheckItem `json:"cross_checks"`
}

// Decode parses a raw model response into an Extracted value. The decode is
// strict: a payload whose fields do not match the declared types fails with a
// parse error, which aborts the calling job. Array fields are always non-nil
// after a successful decode, even when the model omits them.
func Decode(raw json.RawMessage) (Extracted, error) {
	var out Extracted
	if err := json.Unmarshal(raw, &out); err != nil {
		return Extracted{}, fmt.Errorf("decode extracted facts: %w", err)
	}
	out.Normalize()
	return out, nil
}

// Normalize guarantees all array fields are non-nil.
func (e *Extracted) Normalize() {
	if e.UnusualClauses == nil {
		e.UnusualClauses = []string{}
	}
	if e.Evidence == nil {
		e.Evidence = []EvidenceItem{}
	}
	if e.MissingFields == nil {
		e.MissingFields = []string{}
	}
	if e.CrossChecks == nil {
		e.CrossChecks = []CrossCheckItem{}
	}
	if e.APSExtracted != nil && e.APSExtracted.Evidence == nil {
		e.APSExtracted.Evidence = []EvidenceItem{}
	}
}

// EvidenceByField returns evidence entries whose field matches any of the
// given keys, preserving order.
func (e *Extracted) EvidenceByField(fieldNames ...string) []EvidenceItem {
	want := make(map[string]bool, len(fieldNames))
	for _, f := range fieldNames {
		want[f] = true
	}
	var out []EvidenceItem
	for _, entry := range e.Evidence {
		if want[entry.Field] {
			out = append(out, entry)
		}
	}
	return out
}

// StrVal dereferences a nullable field, returning "" for nil.
func StrVal(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// StrPtr returns a pointer to s, for building fact values in code.
func StrPtr(s string) *string {
	return &s
}
