package condition

import (
	"encoding/json"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/ehr/refiner/internal/refiner/codeset"
)

// Condition is a reportable condition grouper and the codes that define it.
type Condition struct {
	ID                string          `db:"id" json:"id" yaml:"id"`
	DisplayName       string          `db:"display_name" json:"display_name" yaml:"display_name"`
	SNOMEDCodes       []string        `db:"snomed_codes" json:"snomed_codes,omitempty" yaml:"snomed_codes,omitempty"`
	LOINCCodes        []string        `db:"loinc_codes" json:"loinc_codes,omitempty" yaml:"loinc_codes,omitempty"`
	ICD10Codes        []string        `db:"icd10_codes" json:"icd10_codes,omitempty" yaml:"icd10_codes,omitempty"`
	RxNormCodes       []string        `db:"rxnorm_codes" json:"rxnorm_codes,omitempty" yaml:"rxnorm_codes,omitempty"`
	ChildGrouperCodes []string        `db:"child_grouper_codes" json:"child_grouper_codes" yaml:"child_grouper_codes"`
	ExtraCodes        json.RawMessage `db:"extra_codes" json:"extra_codes,omitempty" yaml:"-"`
}

// Sources returns one typed source per vocabulary plus the raw extra codes,
// named after the condition so rejections can be traced back to it.
func (c Condition) Sources() []codeset.Source {
	sources := []codeset.Source{
		{Name: c.ID + "/snomed", System: codeset.SystemSNOMED, Codes: c.SNOMEDCodes},
		{Name: c.ID + "/loinc", System: codeset.SystemLOINC, Codes: c.LOINCCodes},
		{Name: c.ID + "/icd10", System: codeset.SystemICD10, Codes: c.ICD10Codes},
		{Name: c.ID + "/rxnorm", System: codeset.SystemRxNorm, Codes: c.RxNormCodes},
	}
	if len(c.ExtraCodes) > 0 {
		sources = append(sources, codeset.Source{Name: c.ID + "/extra", Raw: c.ExtraCodes})
	}
	return sources
}

// TriggerOverlap returns the sorted codes in triggers that select c: its
// child grouper codes, or its own ID.
func (c Condition) TriggerOverlap(triggers []string) []string {
	mine := make(map[string]struct{}, len(c.ChildGrouperCodes)+1)
	mine[c.ID] = struct{}{}
	for _, code := range c.ChildGrouperCodes {
		mine[code] = struct{}{}
	}

	var out []string
	seen := map[string]struct{}{}
	for _, t := range triggers {
		if _, ok := mine[t]; !ok {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// UnmarshalYAML accepts extra_codes as any YAML sequence and keeps it as
// JSON, so a YAML store carries the same raw code lists as the database.
func (c *Condition) UnmarshalYAML(value *yaml.Node) error {
	type plain Condition
	var aux struct {
		plain      `yaml:",inline"`
		ExtraCodes *yaml.Node `yaml:"extra_codes"`
	}
	if err := value.Decode(&aux); err != nil {
		return err
	}
	*c = Condition(aux.plain)

	if aux.ExtraCodes == nil {
		return nil
	}
	var v interface{}
	if err := aux.ExtraCodes.Decode(&v); err != nil {
		return fmt.Errorf("condition %s: extra_codes: %w", c.ID, err)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("condition %s: extra_codes: %w", c.ID, err)
	}
	c.ExtraCodes = raw
	return nil
}
