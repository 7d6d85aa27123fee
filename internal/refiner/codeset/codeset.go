// Package codeset compiles a condition's scattered code collections into one
// deduplicated CodeSet and turns that set into a structural XPath query.
package codeset

import (
	"sort"
	"strings"

	"github.com/ehr/refiner/internal/platform/ccda"
)

// Code is a (code, code system) pair. Two Codes are equal iff both fields
// match.
type Code struct {
	Code   string `json:"code" yaml:"code"`
	System string `json:"system" yaml:"system"`
}

// Vocabulary aliases accepted in place of code system OIDs.
const (
	SystemSNOMED = "SNOMED"
	SystemLOINC  = "LOINC"
	SystemICD10  = "ICD10"
	SystemRxNorm = "RXNORM"
)

var systemAliases = map[string]string{
	SystemSNOMED: ccda.OIDSNOMED,
	"SNOMED-CT":  ccda.OIDSNOMED,
	SystemLOINC:  ccda.OIDLOINC,
	SystemICD10:  ccda.OIDICD10,
	"ICD-10-CM":  ccda.OIDICD10,
	SystemRxNorm: ccda.OIDRxNorm,
	"CVX":        ccda.OIDCVX,
}

// ResolveSystem maps a vocabulary alias to its OID. OIDs and unknown values
// are returned trimmed but otherwise unchanged.
func ResolveSystem(system string) string {
	system = strings.TrimSpace(system)
	if oid, ok := systemAliases[strings.ToUpper(system)]; ok {
		return oid
	}
	return system
}

// CodeSet is a set of Codes. Membership is the only observable property;
// insertion order is not kept.
type CodeSet struct {
	m map[Code]struct{}
}

// New returns a CodeSet holding codes.
func New(codes ...Code) CodeSet {
	s := CodeSet{m: make(map[Code]struct{}, len(codes))}
	for _, c := range codes {
		s.m[c] = struct{}{}
	}
	return s
}

// Add inserts c. Adding a present member is a no-op.
func (s *CodeSet) Add(c Code) {
	if s.m == nil {
		s.m = make(map[Code]struct{})
	}
	s.m[c] = struct{}{}
}

// Union returns a new set holding the members of s and other.
func (s CodeSet) Union(other CodeSet) CodeSet {
	out := CodeSet{m: make(map[Code]struct{}, len(s.m)+len(other.m))}
	for c := range s.m {
		out.m[c] = struct{}{}
	}
	for c := range other.m {
		out.m[c] = struct{}{}
	}
	return out
}

// Contains reports membership of c.
func (s CodeSet) Contains(c Code) bool {
	_, ok := s.m[c]
	return ok
}

// ContainsCode reports whether any member carries code, in any system.
func (s CodeSet) ContainsCode(code string) bool {
	for c := range s.m {
		if c.Code == code {
			return true
		}
	}
	return false
}

// Len is the number of members.
func (s CodeSet) Len() int { return len(s.m) }

// Codes returns the members sorted by code, then system.
func (s CodeSet) Codes() []Code {
	out := make([]Code, 0, len(s.m))
	for c := range s.m {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Code != out[j].Code {
			return out[i].Code < out[j].Code
		}
		return out[i].System < out[j].System
	})
	return out
}

// Values returns the distinct code values, sorted.
func (s CodeSet) Values() []string {
	seen := make(map[string]struct{}, len(s.m))
	out := make([]string, 0, len(s.m))
	for c := range s.m {
		if _, ok := seen[c.Code]; ok {
			continue
		}
		seen[c.Code] = struct{}{}
		out = append(out, c.Code)
	}
	sort.Strings(out)
	return out
}
