package condition

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/ehr/refiner/internal/refiner/section"
)

// ErrNotFound is returned when a condition does not exist.
var ErrNotFound = errors.New("condition not found")

// ConditionRepository provides access to reportable condition groupers.
type ConditionRepository interface {
	// ByTriggerCodes returns the conditions whose ID or child grouper codes
	// intersect codes.
	ByTriggerCodes(ctx context.Context, codes []string) ([]Condition, error)
	GetByID(ctx context.Context, id string) (*Condition, error)
	List(ctx context.Context) ([]Condition, error)
}

// CustomCodeRepository provides jurisdiction-specific code lists. Each list
// is a JSON array of {"code", "system"} objects.
type CustomCodeRepository interface {
	CustomCodes(ctx context.Context, jurisdiction, conditionID string) ([]json.RawMessage, error)
}

// PolicyRepository provides per-jurisdiction section policies. An empty
// result means the jurisdiction has no override.
type PolicyRepository interface {
	SectionPolicies(ctx context.Context, jurisdiction string) ([]section.Policy, error)
}
