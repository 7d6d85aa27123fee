package section

import (
	"strings"

	"github.com/antchfx/xmlquery"

	"github.com/ehr/refiner/internal/platform/ccda"
	"github.com/ehr/refiner/internal/refiner/codeset"
)

var narrativeHeaders = []string{"Code", "Description", "Value"}

// rebuildNarrative replaces the section's <text> with a table of the
// clinical statements in kept that q matched, so the narrative of dropped
// entries does not survive. A section without <text> is left alone.
func rebuildNarrative(sec *xmlquery.Node, kept []*xmlquery.Node, q *codeset.StructuralQuery, mc MinimalContext) error {
	old := ccda.FirstChildElement(sec, "text")
	if old == nil {
		return nil
	}

	var rows []ccda.NarrativeTr
	seen := map[string]bool{}
	for _, entry := range kept {
		for _, n := range q.Select(entry) {
			row := statementRow(n)
			key := strings.Join(row.Tds, "\x00")
			if seen[key] {
				continue
			}
			seen[key] = true
			rows = append(rows, row)
		}
	}

	name := mc.DisplayName
	if name == "" {
		name = mc.ConditionCode
	}
	text, err := ccda.BuildNarrativeTable("Entries relevant to "+name+".", narrativeHeaders, rows).Node()
	if err != nil {
		return err
	}

	xmlquery.AddImmediateSibling(old, text)
	xmlquery.RemoveFromTree(old)
	return nil
}

// statementRow summarizes one clinical statement: its code, the code's
// display name and its value.
func statementRow(n *xmlquery.Node) ccda.NarrativeTr {
	var code, display, value string
	if c := ccda.FirstChildElement(n, "code"); c != nil {
		code = c.SelectAttr("code")
		display = c.SelectAttr("displayName")
	}
	if v := ccda.FirstChildElement(n, "value"); v != nil {
		switch {
		case v.SelectAttr("displayName") != "":
			value = v.SelectAttr("displayName")
		case v.SelectAttr("code") != "":
			value = v.SelectAttr("code")
		default:
			value = strings.TrimSpace(v.SelectAttr("value") + " " + v.SelectAttr("unit"))
		}
	}
	return ccda.NarrativeTr{Tds: []string{code, display, value}}
}
