package section

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/refiner/internal/platform/ccda"
	"github.com/ehr/refiner/internal/refiner/codeset"
)

const eicr = `<ClinicalDocument xmlns="urn:hl7-org:v3" xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance">
  <component>
    <structuredBody>
      <component>
        <section>
          <templateId root="2.16.840.1.113883.10.20.22.2.5.1"/>
          <code code="11450-4" codeSystem="2.16.840.1.113883.6.1"/>
          <title>Problems</title>
          <text><table><tr><td>Pertussis</td></tr><tr><td>Asthma</td></tr></table></text>
          <entry><act><entryRelationship><observation><value xsi:type="CD" code="27836007" codeSystem="2.16.840.1.113883.6.96"/></observation></entryRelationship></act></entry>
          <entry><act><entryRelationship><observation><value xsi:type="CD" code="195967001" codeSystem="2.16.840.1.113883.6.96"/></observation></entryRelationship></act></entry>
        </section>
      </component>
      <component>
        <section>
          <templateId root="2.16.840.1.113883.10.20.22.2.3.1"/>
          <id root="db734647-fc99-424c-a864-7e3cda82e703"/>
          <code code="30954-2" codeSystem="2.16.840.1.113883.6.1"/>
          <title>Results</title>
          <text>Hemoglobin 13.2</text>
          <entry><organizer><component><observation><code code="718-7" codeSystem="2.16.840.1.113883.6.1"/></observation></component></organizer></entry>
        </section>
      </component>
      <component>
        <section>
          <code code="10160-0" codeSystem="2.16.840.1.113883.6.1"/>
          <title>Medications</title>
          <text>Albuterol</text>
          <entry><substanceAdministration><consumable><manufacturedProduct><manufacturedMaterial><code code="435"/></manufacturedMaterial></manufacturedProduct></consumable></substanceAdministration></entry>
        </section>
      </component>
      <component>
        <section>
          <code code="8716-3" codeSystem="2.16.840.1.113883.6.1"/>
          <title>Vital Signs</title>
          <entry><organizer><component><observation><code code="8480-6"/></observation></component></organizer></entry>
        </section>
      </component>
      <component>
        <section>
          <code code="29299-5" codeSystem="2.16.840.1.113883.6.1"/>
          <title>Reason for Visit</title>
          <text>Cough for two weeks</text>
        </section>
      </component>
      <component>
        <section>
          <code code="12345-6" codeSystem="2.16.840.1.113883.6.1"/>
          <title>Custom</title>
          <text>Site specific</text>
        </section>
      </component>
      <component>
        <section>
          <templateId root="1.3.6.1.4.1.19376.1.5.3.1.3.18"/>
          <code code="10187-3" codeSystem="2.16.840.1.113883.6.1"/>
          <title>Review of Systems</title>
          <text>Negative except cough</text>
          <entry><observation><code code="ROS"/></observation></entry>
        </section>
      </component>
    </structuredBody>
  </component>
</ClinicalDocument>`

var pertussis = MinimalContext{
	ConditionCode: "27836007",
	DisplayName:   "Pertussis",
	TriggerCodes:  []string{"27836007"},
}

func parse(t *testing.T) *ccda.Document {
	t.Helper()
	doc, err := ccda.ParseString(eicr)
	require.NoError(t, err)
	return doc
}

func find(t *testing.T, doc *ccda.Document, code string) ccda.Section {
	t.Helper()
	for _, s := range doc.Sections() {
		if s.Code == code {
			return s
		}
	}
	t.Fatalf("section %s not found", code)
	return ccda.Section{}
}

func query(t *testing.T, codes ...string) *codeset.StructuralQuery {
	t.Helper()
	set := codeset.New()
	for _, c := range codes {
		set.Add(codeset.Code{Code: c, System: ccda.OIDSNOMED})
	}
	q, err := codeset.BuildPredicate(set, codeset.DefaultScope)
	require.NoError(t, err)
	return q
}

func newProcessor() *Processor {
	return NewProcessor(DefaultPolicyTable(), zerolog.Nop(), nil)
}

func TestProcess_KeepMatchingFiltersEntries(t *testing.T) {
	doc := parse(t)
	sec := find(t, doc, ccda.LOINCProblems)

	out, err := newProcessor().Process(sec, query(t, "27836007"), pertussis)
	require.NoError(t, err)

	assert.Equal(t, Outcome{Code: ccda.LOINCProblems, Kind: Filtered, Kept: 1, Dropped: 1}, out)
	assert.Len(t, sec.Entries(), 1)

	xml := doc.String()
	assert.Contains(t, xml, `code="27836007"`)
	assert.NotContains(t, xml, "195967001")
	assert.NotContains(t, xml, "Asthma", "narrative of the dropped entry is gone")
	assert.Contains(t, xml, "<td>27836007</td>", "narrative lists the surviving entry")
	assert.Contains(t, xml, "Entries relevant to Pertussis.")
}

func TestStatementRow(t *testing.T) {
	doc, err := ccda.ParseString(`<observation xmlns="urn:hl7-org:v3">` +
		`<code code="2093-3" displayName="Cholesterol"/><value value="182" unit="mg/dL"/></observation>`)
	require.NoError(t, err)

	row := statementRow(doc.Root())
	assert.Equal(t, []string{"2093-3", "Cholesterol", "182 mg/dL"}, row.Tds)
}

func TestProcess_KeepMatchingAllMatch(t *testing.T) {
	doc := parse(t)
	sec := find(t, doc, ccda.LOINCProblems)

	out, err := newProcessor().Process(sec, query(t, "27836007", "195967001"), pertussis)
	require.NoError(t, err)
	assert.Equal(t, Kept, out.Kind)
	assert.Equal(t, 2, out.Kept)
	assert.Contains(t, doc.String(), "<td>Asthma</td>", "narrative is untouched when nothing is dropped")
}

func TestProcess_RequiredWithNoMatchesIsSynthesized(t *testing.T) {
	doc := parse(t)
	sec := find(t, doc, ccda.LOINCResults)

	out, err := newProcessor().Process(sec, query(t, "27836007"), pertussis)
	require.NoError(t, err)
	assert.Equal(t, Synthesized, out.Kind)
	assert.Equal(t, 1, out.Dropped)

	assert.Equal(t, "NI", sec.Node.SelectAttr("nullFlavor"))
	assert.Empty(t, sec.Entries(), "never left with unrelated entries")

	var names []string
	for _, c := range ccda.ChildElements(sec.Node, "") {
		names = append(names, c.Data)
	}
	assert.Equal(t, []string{"templateId", "id", "code", "title", "text"}, names)

	text := ccda.FirstChildElement(sec.Node, "text")
	require.NotNil(t, text)
	assert.Contains(t, text.InnerText(), "Pertussis")
	assert.Contains(t, text.InnerText(), "27836007")
	assert.NotContains(t, text.InnerText(), "Hemoglobin")

	// The synthesized narrative carries the CDA namespace like its siblings.
	hits, err := doc.QueryAll("//hl7:section[hl7:code/@code='30954-2']/hl7:text/hl7:table/hl7:tbody/hl7:tr/hl7:td")
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

func TestProcess_NotRequiredWithNoMatchesKeepsShell(t *testing.T) {
	doc := parse(t)
	sec := find(t, doc, ccda.LOINCMedications)

	out, err := newProcessor().Process(sec, query(t, "27836007"), pertussis)
	require.NoError(t, err)
	assert.Equal(t, Outcome{Code: ccda.LOINCMedications, Kind: Emptied, Dropped: 1}, out)

	assert.Empty(t, sec.Entries())
	assert.Empty(t, sec.Node.SelectAttr("nullFlavor"))
	require.NotNil(t, ccda.FirstChildElement(sec.Node, "title"))
	text := ccda.FirstChildElement(sec.Node, "text")
	require.NotNil(t, text)
	assert.Nil(t, text.FirstChild)
	assert.NotContains(t, doc.String(), "Albuterol")
}

func TestProcess_EmptyQueryDropsEveryEntry(t *testing.T) {
	doc := parse(t)
	sec := find(t, doc, ccda.LOINCProblems)

	q, err := codeset.BuildPredicate(codeset.New(), codeset.DefaultScope)
	require.NoError(t, err)

	out, err := newProcessor().Process(sec, q, pertussis)
	require.NoError(t, err)
	assert.Equal(t, Synthesized, out.Kind)
	assert.Equal(t, 2, out.Dropped)
}

func TestProcess_Remove(t *testing.T) {
	doc := parse(t)
	before := len(doc.Sections())
	sec := find(t, doc, ccda.LOINCVitalSigns)

	out, err := newProcessor().Process(sec, query(t, "8480-6"), pertussis)
	require.NoError(t, err)
	assert.Equal(t, Removed, out.Kind)

	assert.Len(t, doc.Sections(), before-1)
	assert.NotContains(t, doc.String(), "Vital Signs")
	hits, err := doc.QueryAll("/hl7:ClinicalDocument/hl7:component/hl7:structuredBody/hl7:component[not(*)]")
	require.NoError(t, err)
	assert.Empty(t, hits, "no empty component left behind")
}

func TestProcess_KeepAllIsUnchanged(t *testing.T) {
	doc := parse(t)
	before := doc.String()
	sec := find(t, doc, ccda.LOINCReasonForVisit)

	out, err := newProcessor().Process(sec, query(t, "27836007"), pertussis)
	require.NoError(t, err)
	assert.Equal(t, Kept, out.Kind)
	assert.Equal(t, before, doc.String())
}

func TestProcess_SynthesizeMinimalPolicy(t *testing.T) {
	table, err := NewPolicyTable(Policy{
		Code:    ccda.LOINCReviewOfSystems,
		Name:    "Review of Systems",
		Action:  SynthesizeMinimal,
		Minimal: []string{"code", "title"},
	})
	require.NoError(t, err)

	doc := parse(t)
	sec := find(t, doc, ccda.LOINCReviewOfSystems)

	out, err := NewProcessor(table, zerolog.Nop(), nil).Process(sec, query(t, "ROS"), MinimalContext{ConditionCode: "840539006"})
	require.NoError(t, err)
	assert.Equal(t, Synthesized, out.Kind)

	var names []string
	for _, c := range ccda.ChildElements(sec.Node, "") {
		names = append(names, c.Data)
	}
	assert.Equal(t, []string{"code", "title", "text"}, names, "templateId is not in the minimal template")
	assert.NotContains(t, doc.String(), "Negative except cough")
	assert.Contains(t, ccda.FirstChildElement(sec.Node, "text").InnerText(), "840539006",
		"condition code stands in for a missing display name")
}

func TestProcess_UnknownSectionPassesThrough(t *testing.T) {
	var buf bytes.Buffer
	p := NewProcessor(DefaultPolicyTable(), zerolog.New(&buf), nil)

	doc := parse(t)
	before := doc.String()
	sec := find(t, doc, "12345-6")

	out, err := p.Process(sec, query(t, "27836007"), pertussis)
	require.NoError(t, err)
	assert.Equal(t, PassedThrough, out.Kind)
	assert.Equal(t, before, doc.String())

	logged := buf.String()
	assert.Contains(t, logged, `"level":"warn"`)
	assert.Contains(t, logged, `"section":"12345-6"`)
	assert.Contains(t, logged, `"condition":"27836007"`)
}

func TestProcess_ForcedSectionIsKeptWhole(t *testing.T) {
	doc := parse(t)
	sec := find(t, doc, ccda.LOINCVitalSigns)

	p := newProcessor().WithForce([]string{ccda.LOINCVitalSigns, ccda.LOINCProblems})
	out, err := p.Process(sec, query(t, "27836007"), pertussis)
	require.NoError(t, err)
	assert.Equal(t, Kept, out.Kind)
	assert.Contains(t, doc.String(), "Vital Signs")

	probs := find(t, doc, ccda.LOINCProblems)
	out, err = p.Process(probs, query(t, "27836007"), pertussis)
	require.NoError(t, err)
	assert.Equal(t, Kept, out.Kind)
	assert.Len(t, probs.Entries(), 2)

	// The base processor is not affected.
	_, forced := newProcessor().force[ccda.LOINCVitalSigns]
	assert.False(t, forced)
}

func TestProcess_WholeDocumentIsDeterministic(t *testing.T) {
	run := func() string {
		doc := parse(t)
		p := newProcessor()
		q := query(t, "27836007")
		for _, s := range doc.Sections() {
			_, err := p.Process(s, q, pertussis)
			require.NoError(t, err)
		}
		return doc.String()
	}

	first := run()
	assert.Equal(t, first, run())
	assert.Less(t, len(first), len(parse(t).String()))
	assert.Equal(t, 2, strings.Count(first, `nullFlavor="NI"`), "Results and Review of Systems are synthesized")
	assert.Equal(t, 2, strings.Count(first, "No information relevant to Pertussis"))
}
