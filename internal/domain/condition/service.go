package condition

import (
	"context"
	"fmt"
	"strings"

	"github.com/ehr/refiner/internal/refiner/codeset"
	"github.com/ehr/refiner/internal/refiner/section"
)

// Service answers the refiner's configuration lookups.
type Service struct {
	conditions ConditionRepository
	custom     CustomCodeRepository
	policies   PolicyRepository
}

// NewService creates a new condition service.
func NewService(conditions ConditionRepository, custom CustomCodeRepository, policies PolicyRepository) *Service {
	return &Service{conditions: conditions, custom: custom, policies: policies}
}

// ConditionsByTriggerCodes returns the conditions selected by codes.
// Conditions are shared by every jurisdiction.
func (s *Service) ConditionsByTriggerCodes(ctx context.Context, _ string, codes []string) ([]Condition, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	return s.conditions.ByTriggerCodes(ctx, codes)
}

// CustomCodeSources returns one raw source per custom code list configured
// for the condition in jurisdiction.
func (s *Service) CustomCodeSources(ctx context.Context, jurisdiction, conditionID string) ([]codeset.Source, error) {
	if jurisdiction == "" || s.custom == nil {
		return nil, nil
	}
	lists, err := s.custom.CustomCodes(ctx, jurisdiction, conditionID)
	if err != nil {
		return nil, err
	}
	sources := make([]codeset.Source, 0, len(lists))
	for i, raw := range lists {
		sources = append(sources, codeset.Source{
			Name: fmt.Sprintf("%s/%s/custom/%d", jurisdiction, conditionID, i),
			Raw:  raw,
		})
	}
	return sources, nil
}

// SectionPolicies returns the jurisdiction's policy table, or the default
// table when it has none.
func (s *Service) SectionPolicies(ctx context.Context, jurisdiction string) (section.PolicyTable, error) {
	if jurisdiction == "" || s.policies == nil {
		return section.DefaultPolicyTable(), nil
	}
	policies, err := s.policies.SectionPolicies(ctx, jurisdiction)
	if err != nil {
		return section.PolicyTable{}, err
	}
	if len(policies) == 0 {
		return section.DefaultPolicyTable(), nil
	}
	return section.NewPolicyTable(policies...)
}

// Get looks up a single condition.
func (s *Service) Get(ctx context.Context, id string) (*Condition, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("id is required")
	}
	return s.conditions.GetByID(ctx, id)
}

// List returns every configured condition.
func (s *Service) List(ctx context.Context) ([]Condition, error) {
	return s.conditions.List(ctx)
}
