package reportability

import (
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/refiner/internal/platform/ccda"
)

func loadRR(t *testing.T) *ccda.Document {
	t.Helper()
	raw, err := os.ReadFile("testdata/rr.xml")
	require.NoError(t, err)
	doc, err := ccda.Parse(raw)
	require.NoError(t, err)
	return doc
}

func TestExtract_SummarySectionSNOMEDOnly(t *testing.T) {
	codes := Extract(loadRR(t))

	// Duplicates collapse; the local code system and the non-summary
	// section are ignored.
	assert.Equal(t, []string{"27836007", "840539006"}, codes)
}

func TestExtract_NoReportableConditions(t *testing.T) {
	raw := `<ClinicalDocument xmlns="urn:hl7-org:v3"><component><structuredBody><component><section>` +
		`<code code="55112-7" codeSystem="2.16.840.1.113883.6.1"/><text>No conditions</text>` +
		`</section></component></structuredBody></component></ClinicalDocument>`

	codes, err := ExtractText(raw)
	require.NoError(t, err)
	assert.Empty(t, codes)
	assert.NotNil(t, codes)

	codes, err = ExtractText(`<ClinicalDocument xmlns="urn:hl7-org:v3"/>`)
	require.NoError(t, err)
	assert.Empty(t, codes)
}

func TestExtractText_ParseFailure(t *testing.T) {
	_, err := ExtractText("<ClinicalDocument><section></ClinicalDocument>")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ccda.ErrDocumentParse))
}

func TestExtract_NilDocument(t *testing.T) {
	assert.Empty(t, Extract(nil))
}

func TestFilterForCondition_KeepsOnlyRequestedCodes(t *testing.T) {
	rr := loadRR(t)

	removed := FilterForCondition(rr, []string{"27836007"})
	assert.Equal(t, 2, removed)

	assert.Equal(t, []string{"27836007"}, Extract(rr))

	out := rr.String()
	assert.NotContains(t, out, "840539006")
	assert.Contains(t, out, "Pertussis (disorder)")
	assert.Contains(t, out, "LOCAL-99", "non-SNOMED observations are left alone")
	assert.Contains(t, out, "76272004", "sections other than the summary are left alone")
	assert.Equal(t, 1, strings.Count(out, "2.16.840.1.113883.10.20.15.2.3.12"), "only the kept condition observation remains")
}

func TestFilterForCondition_DoesNotTouchSource(t *testing.T) {
	rr := loadRR(t)
	before := rr.String()

	clone := rr.Clone()
	FilterForCondition(clone, nil)

	assert.Equal(t, before, rr.String())
	assert.Empty(t, Extract(clone))
}
