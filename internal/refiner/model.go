package refiner

import (
	"context"
	"fmt"

	"github.com/ehr/refiner/internal/domain/condition"
	"github.com/ehr/refiner/internal/refiner/codeset"
	"github.com/ehr/refiner/internal/refiner/section"
)

// Request is one eICR/RR pair to refine.
type Request struct {
	EICR         string
	RR           string
	Jurisdiction string
	// ForceSections names section codes kept whole regardless of policy.
	ForceSections []string
	// Scope overrides Options.Scope for this call when non-empty.
	Scope []string
}

// RefinedDocument is the output for one matched condition.
type RefinedDocument struct {
	ConditionCode    string `json:"condition_code"`
	DisplayName      string `json:"display_name"`
	RefinedEICR      string `json:"refined_eicr"`
	RefinedRR        string `json:"refined_rr"`
	SizeDeltaPercent int    `json:"size_delta_percent"`
}

// MatchedCondition is a condition resolved for one request, with the RR
// trigger codes that selected it. Set is filled in by the condition pass.
type MatchedCondition struct {
	Condition    condition.Condition
	TriggerCodes []string
	Set          codeset.CodeSet
}

// ConditionLookup is the read-only configuration the refiner consumes.
type ConditionLookup interface {
	// ConditionsByTriggerCodes returns the conditions whose child grouper
	// codes overlap codes.
	ConditionsByTriggerCodes(ctx context.Context, jurisdiction string, codes []string) ([]condition.Condition, error)
	// CustomCodeSources returns jurisdiction-level code sources for a
	// condition.
	CustomCodeSources(ctx context.Context, jurisdiction, conditionID string) ([]codeset.Source, error)
	// SectionPolicies returns the effective section policy table.
	SectionPolicies(ctx context.Context, jurisdiction string) (section.PolicyTable, error)
}

// DocumentParseError reports that an input document could not be parsed.
// Document is "eicr" or "rr".
type DocumentParseError struct {
	Document string
	Err      error
}

func (e *DocumentParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Document, e.Err)
}

func (e *DocumentParseError) Unwrap() error {
	return e.Err
}
