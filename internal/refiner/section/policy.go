// Package section applies per-section retention policies to the sections of
// an eICR.
package section

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ehr/refiner/internal/platform/ccda"
)

// Action is what the processor does with a section.
type Action string

const (
	KeepAll           Action = "keep_all"
	KeepMatching      Action = "keep_matching"
	Remove            Action = "remove"
	SynthesizeMinimal Action = "synthesize_minimal"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case KeepAll, KeepMatching, Remove, SynthesizeMinimal:
		return true
	}
	return false
}

// DefaultMinimal is the set of section children a synthesized section keeps
// when its policy names none.
var DefaultMinimal = []string{"templateId", "id", "code", "title"}

// Policy is the retention rule for sections with a given LOINC code.
type Policy struct {
	Code     string   `json:"code" yaml:"code"`
	Name     string   `json:"name" yaml:"name"`
	Action   Action   `json:"action" yaml:"action"`
	Required bool     `json:"required" yaml:"required"`
	Minimal  []string `json:"minimal,omitempty" yaml:"minimal,omitempty"`
}

// MinimalFields returns the policy's minimal template, or DefaultMinimal.
func (p Policy) MinimalFields() []string {
	if len(p.Minimal) == 0 {
		return DefaultMinimal
	}
	return p.Minimal
}

// ConfigurationInconsistencyError reports a structurally invalid policy entry.
type ConfigurationInconsistencyError struct {
	Section string
	Code    string
	Message string
}

func (e *ConfigurationInconsistencyError) Error() string {
	switch {
	case e.Section != "" && e.Code != "":
		return fmt.Sprintf("section policy %q (%s): %s", e.Section, e.Code, e.Message)
	case e.Code != "":
		return fmt.Sprintf("section policy %s: %s", e.Code, e.Message)
	case e.Section != "":
		return fmt.Sprintf("section policy %q: %s", e.Section, e.Message)
	}
	return "section policy: " + e.Message
}

// PolicyTable is an ordered, code-indexed list of policies. A table is
// read-only once built and may be shared between goroutines.
type PolicyTable struct {
	policies []Policy
	index    map[string]int
}

var elementName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9._-]*$`)

// NewPolicyTable validates policies and indexes them by code. Unknown
// actions, empty or duplicate codes and invalid minimal field names are
// rejected.
func NewPolicyTable(policies ...Policy) (PolicyTable, error) {
	t := PolicyTable{
		policies: make([]Policy, 0, len(policies)),
		index:    make(map[string]int, len(policies)),
	}
	for _, p := range policies {
		p.Code = strings.TrimSpace(p.Code)
		if p.Code == "" {
			return PolicyTable{}, &ConfigurationInconsistencyError{Section: p.Name, Message: "code is required"}
		}
		if !p.Action.Valid() {
			return PolicyTable{}, &ConfigurationInconsistencyError{
				Section: p.Name, Code: p.Code,
				Message: fmt.Sprintf("unknown action %q", p.Action),
			}
		}
		if _, dup := t.index[p.Code]; dup {
			return PolicyTable{}, &ConfigurationInconsistencyError{Section: p.Name, Code: p.Code, Message: "duplicate section code"}
		}
		for _, f := range p.Minimal {
			if !elementName.MatchString(f) {
				return PolicyTable{}, &ConfigurationInconsistencyError{
					Section: p.Name, Code: p.Code,
					Message: fmt.Sprintf("minimal field %q is not an element name", f),
				}
			}
		}
		if len(p.Minimal) > 0 {
			p.Minimal = append([]string(nil), p.Minimal...)
		}
		t.index[p.Code] = len(t.policies)
		t.policies = append(t.policies, p)
	}
	return t, nil
}

// Lookup returns the policy for a section code.
func (t PolicyTable) Lookup(code string) (Policy, bool) {
	i, ok := t.index[code]
	if !ok {
		return Policy{}, false
	}
	return t.policies[i], true
}

// Policies returns a copy of the policies in table order.
func (t PolicyTable) Policies() []Policy {
	out := make([]Policy, len(t.policies))
	copy(out, t.policies)
	return out
}

// Len returns the number of policies.
func (t PolicyTable) Len() int {
	return len(t.policies)
}

type policyFile struct {
	Sections []Policy `yaml:"sections"`
}

// LoadPolicyTable reads a YAML policy table of the form
//
//	sections:
//	  - code: 11450-4
//	    name: Problems
//	    action: keep_matching
//	    required: true
func LoadPolicyTable(r io.Reader) (PolicyTable, error) {
	var f policyFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return PolicyTable{}, fmt.Errorf("section: decode policy table: %w", err)
	}
	return NewPolicyTable(f.Sections...)
}

// DefaultPolicyTable returns the built-in policies for eICR sections.
func DefaultPolicyTable() PolicyTable {
	t, err := NewPolicyTable(defaultPolicies...)
	if err != nil {
		panic(err)
	}
	return t
}

var defaultPolicies = []Policy{
	{Code: ccda.LOINCProblems, Name: "Problems", Action: KeepMatching, Required: true},
	{Code: ccda.LOINCResults, Name: "Results", Action: KeepMatching, Required: true},
	{Code: ccda.LOINCEncounters, Name: "Encounters", Action: KeepMatching, Required: true},
	{Code: ccda.LOINCMedicationsAdministered, Name: "Medications Administered", Action: KeepMatching},
	{Code: ccda.LOINCMedications, Name: "Medications", Action: KeepMatching},
	{Code: ccda.LOINCImmunizations, Name: "Immunizations", Action: KeepMatching},
	{Code: ccda.LOINCProcedures, Name: "Procedures", Action: KeepMatching},
	{Code: ccda.LOINCPlanOfTreatment, Name: "Plan of Treatment", Action: KeepMatching},
	{Code: ccda.LOINCReasonForVisit, Name: "Reason for Visit", Action: KeepAll},
	{Code: ccda.LOINCHistoryOfPresentIllness, Name: "History of Present Illness", Action: KeepAll},
	{Code: ccda.LOINCSocialHistory, Name: "Social History", Action: KeepAll},
	{Code: ccda.LOINCPregnancy, Name: "Pregnancy", Action: KeepAll},
	{Code: ccda.LOINCEmergencyOutbreak, Name: "Emergency Outbreak Information", Action: KeepAll},
	{Code: ccda.LOINCVitalSigns, Name: "Vital Signs", Action: Remove},
	{Code: ccda.LOINCReviewOfSystems, Name: "Review of Systems", Action: SynthesizeMinimal},
}
