package condition

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/refiner/internal/refiner/codeset"
	"github.com/ehr/refiner/internal/refiner/section"
)

func loadTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := LoadStoreFile("testdata/conditions.yaml")
	require.NoError(t, err)
	return s
}

func ids(conds []Condition) []string {
	out := make([]string, 0, len(conds))
	for _, c := range conds {
		out = append(out, c.ID)
	}
	return out
}

func TestLoadStore(t *testing.T) {
	s := loadTestStore(t)
	ctx := context.Background()

	all, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"27836007", "76272004", "840539006"}, ids(all))

	pertussis, err := s.GetByID(ctx, "27836007")
	require.NoError(t, err)
	assert.Equal(t, "Pertussis", pertussis.DisplayName)
	assert.Equal(t, []string{"A37.90"}, pertussis.ICD10Codes)
	assert.JSONEq(t,
		`[{"code":"43913-3","system":"LOINC"},{"code":"bad code","system":"LOINC"}]`,
		string(pertussis.ExtraCodes))

	res := codeset.Compile(pertussis.Sources()...)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, "27836007/extra", res.Rejected[0].Source)
	assert.Equal(t, 1, res.Rejected[0].Index)
	assert.True(t, res.Set.ContainsCode("43913-3"))
	assert.True(t, res.Set.ContainsCode("18631"))
}

func TestStore_GetByID_NotFound(t *testing.T) {
	_, err := loadTestStore(t).GetByID(context.Background(), "0000")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStore_ByTriggerCodes(t *testing.T) {
	s := loadTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		codes []string
		want  []string
	}{
		{"child grouper code", []string{"90059002"}, []string{"27836007"}},
		{"two conditions sorted by id", []string{"840539006", "76272004"}, []string{"76272004", "840539006"}},
		{"unknown code", []string{"123"}, []string{}},
		{"no codes", nil, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ByTriggerCodes(ctx, tt.codes)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(got))
		})
	}
}

func TestStore_CustomCodes(t *testing.T) {
	s := loadTestStore(t)
	ctx := context.Background()

	lists, err := s.CustomCodes(ctx, "CA", "27836007")
	require.NoError(t, err)
	require.Len(t, lists, 2)
	assert.JSONEq(t, `[{"code":"CA-PERT-1","system":"2.16.840.1.113883.6.1"}]`, string(lists[0]))
	assert.JSONEq(t, `[{"code":"A37.00","system":"ICD10"}]`, string(lists[1]))

	none, err := s.CustomCodes(ctx, "CA", "840539006")
	require.NoError(t, err)
	assert.Empty(t, none)

	none, err = s.CustomCodes(ctx, "NY", "27836007")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStore_SectionPolicies(t *testing.T) {
	s := loadTestStore(t)
	ctx := context.Background()

	ca, err := s.SectionPolicies(ctx, "CA")
	require.NoError(t, err)
	require.Len(t, ca, 2)
	assert.Equal(t, "11450-4", ca[0].Code)
	assert.Equal(t, section.KeepMatching, ca[0].Action)
	assert.True(t, ca[0].Required)
	assert.Equal(t, section.KeepAll, ca[1].Action)

	none, err := s.SectionPolicies(ctx, "NY")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestLoadStore_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "duplicate condition",
			yaml: "conditions:\n  - id: \"1\"\n  - id: \"1\"\n",
			want: "duplicate condition 1",
		},
		{
			name: "missing id",
			yaml: "conditions:\n  - display_name: Nameless\n",
			want: "has no id",
		},
		{
			name: "unknown field",
			yaml: "conditionz: []\n",
			want: "decode condition store",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadStore(strings.NewReader(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadStore_Empty(t *testing.T) {
	s, err := LoadStore(strings.NewReader(""))
	require.NoError(t, err)

	all, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}
