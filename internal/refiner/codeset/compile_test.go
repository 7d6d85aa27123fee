package codeset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/refiner/internal/platform/ccda"
)

func TestCodeSet_StructuralEquality(t *testing.T) {
	s := New(Code{Code: "27836007", System: ccda.OIDSNOMED})
	s.Add(Code{Code: "27836007", System: ccda.OIDSNOMED})
	s.Add(Code{Code: "27836007", System: ccda.OIDICD10})

	assert.Equal(t, 2, s.Len())
	assert.True(t, s.Contains(Code{Code: "27836007", System: ccda.OIDSNOMED}))
	assert.False(t, s.Contains(Code{Code: "27836007", System: ccda.OIDLOINC}))
	assert.True(t, s.ContainsCode("27836007"))
	assert.Equal(t, []string{"27836007"}, s.Values())
}

func TestCodeSet_UnionAndOrdering(t *testing.T) {
	a := New(Code{Code: "b", System: "1"}, Code{Code: "a", System: "2"})
	b := New(Code{Code: "a", System: "2"}, Code{Code: "a", System: "1"})

	u := a.Union(b)
	assert.Equal(t, 3, u.Len())
	assert.Equal(t, []Code{{"a", "1"}, {"a", "2"}, {"b", "1"}}, u.Codes())
	assert.Equal(t, 2, a.Len(), "union must not mutate its receiver")

	var zero CodeSet
	zero.Add(Code{Code: "x", System: "1"})
	assert.Equal(t, 1, zero.Len())
}

func TestCompile_MergesTypedSources(t *testing.T) {
	res := Compile(
		Source{Name: "snomed", System: SystemSNOMED, Codes: []string{"27836007", " 27836007 "}},
		Source{Name: "loinc", System: SystemLOINC, Codes: []string{"548-8"}},
		Source{Name: "icd10", System: "ICD-10-CM", Codes: []string{"A37.90"}},
	)

	require.Empty(t, res.Rejected)
	assert.Equal(t, 3, res.Set.Len())
	assert.True(t, res.Set.Contains(Code{Code: "27836007", System: ccda.OIDSNOMED}))
	assert.True(t, res.Set.Contains(Code{Code: "548-8", System: ccda.OIDLOINC}))
	assert.True(t, res.Set.Contains(Code{Code: "A37.90", System: ccda.OIDICD10}))
}

func TestCompile_SkipsMalformedJSONEntries(t *testing.T) {
	raw := []byte(`[
		{"code": "840539006", "system": "SNOMED"},
		{"code": 42},
		"not an object",
		{"system": "LOINC"},
		{"code": "", "system": "LOINC"},
		{"code": "94500-6", "system": "LOINC"},
		{"code": "bad'code", "system": "LOINC"},
		{"code": "has space", "system": "LOINC"},
		{"code": "U07.1"}
	]`)

	res := Compile(Source{Name: "jurisdiction", System: SystemICD10, Raw: raw})

	assert.Equal(t, 3, res.Set.Len(), "valid entries survive alongside bad ones")
	assert.True(t, res.Set.Contains(Code{Code: "840539006", System: ccda.OIDSNOMED}))
	assert.True(t, res.Set.Contains(Code{Code: "94500-6", System: ccda.OIDLOINC}))
	assert.True(t, res.Set.Contains(Code{Code: "U07.1", System: ccda.OIDICD10}), "source system is the default")

	require.Len(t, res.Rejected, 6)
	for _, r := range res.Rejected {
		assert.Equal(t, "jurisdiction", r.Source)
		assert.GreaterOrEqual(t, r.Index, 0)
	}
}

func TestCompile_UnreadableSourceContributesNothing(t *testing.T) {
	res := Compile(
		Source{Name: "broken", Raw: []byte(`{"code": "x"`)},
		Source{Name: "ok", System: SystemSNOMED, Codes: []string{"76272004"}},
	)

	assert.Equal(t, 1, res.Set.Len())
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, "broken", res.Rejected[0].Source)
	assert.Equal(t, -1, res.Rejected[0].Index)
	assert.Contains(t, res.Rejected[0].String(), "unreadable source")
}

func TestCompile_TypedEntryWithoutSystemIsRejected(t *testing.T) {
	res := Compile(Source{Name: "custom", Codes: []string{"123"}})

	assert.Equal(t, 0, res.Set.Len())
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, "custom[0]: code \"123\" has no code system", res.Rejected[0].String())
}

func TestCompile_NoSources(t *testing.T) {
	res := Compile()
	assert.Equal(t, 0, res.Set.Len())
	assert.Empty(t, res.Rejected)
}

func TestResolveSystem(t *testing.T) {
	assert.Equal(t, ccda.OIDSNOMED, ResolveSystem("snomed"))
	assert.Equal(t, ccda.OIDRxNorm, ResolveSystem(" RxNorm "))
	assert.Equal(t, "1.2.3", ResolveSystem("1.2.3"))
}
