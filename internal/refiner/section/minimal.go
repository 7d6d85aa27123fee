package section

import (
	"github.com/antchfx/xmlquery"

	"github.com/ehr/refiner/internal/platform/ccda"
)

// MinimalContext carries the condition a synthesized section is built for.
type MinimalContext struct {
	ConditionCode string
	DisplayName   string
	TriggerCodes  []string
}

// headerFields are the section children that precede <text> in a CDA section.
var headerFields = map[string]bool{
	"templateId": true,
	"id":         true,
	"code":       true,
	"title":      true,
}

// synthesize rebuilds sec in place: only the children named in fields are
// kept, a generated narrative is inserted after the header children and the
// section is marked nullFlavor="NI".
func synthesize(sec *xmlquery.Node, fields []string, mc MinimalContext) error {
	keep := make(map[string]bool, len(fields))
	for _, f := range fields {
		keep[f] = true
	}

	var header, rest []*xmlquery.Node
	for _, child := range ccda.ChildElements(sec, "") {
		if child.Data == "text" || !keep[child.Data] {
			continue
		}
		if headerFields[child.Data] {
			header = append(header, child)
		} else {
			rest = append(rest, child)
		}
	}

	text, err := minimalNarrative(mc).Node()
	if err != nil {
		return err
	}

	ccda.RemoveChildren(sec)
	for _, n := range header {
		xmlquery.AddChild(sec, n)
	}
	xmlquery.AddChild(sec, text)
	for _, n := range rest {
		xmlquery.AddChild(sec, n)
	}
	sec.SetAttr("nullFlavor", "NI")
	return nil
}

// minimalNarrative lists the condition and its trigger codes.
func minimalNarrative(mc MinimalContext) *ccda.Narrative {
	name := mc.DisplayName
	if name == "" {
		name = mc.ConditionCode
	}

	rows := make([]ccda.NarrativeTr, 0, len(mc.TriggerCodes))
	for _, code := range mc.TriggerCodes {
		rows = append(rows, ccda.NarrativeTr{Tds: []string{name, code}})
	}
	if len(rows) == 0 {
		rows = append(rows, ccda.NarrativeTr{Tds: []string{name, mc.ConditionCode}})
	}

	return ccda.BuildNarrativeTable(
		"No information relevant to "+name+" was found in this section.",
		[]string{"Condition", "Trigger Code"},
		rows,
	)
}
