// Package reportability reads the reportability response (RR) that comes
// with an eICR: which reportable conditions it names, and a per-condition
// view of it.
package reportability

import (
	"sort"

	"github.com/antchfx/xmlquery"

	"github.com/ehr/refiner/internal/platform/ccda"
)

var (
	summarySections = ccda.MustCompile("//hl7:section[hl7:code/@code='" + ccda.LOINCRRSummary + "']")
	conditionValues = ccda.MustCompile(".//hl7:observation/hl7:value[@codeSystem='" + ccda.OIDSNOMED + "']")
)

// Extract returns the distinct SNOMED condition codes found in the RR summary
// sections, sorted. No summary section, or none with coded conditions, gives
// an empty result rather than an error.
func Extract(rr *ccda.Document) []string {
	seen := map[string]struct{}{}
	for _, v := range conditionNodes(rr) {
		if code := v.SelectAttr("code"); code != "" {
			seen[code] = struct{}{}
		}
	}

	codes := make([]string, 0, len(seen))
	for c := range seen {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return codes
}

// ExtractText parses raw RR markup and extracts its condition codes. Only a
// parse failure is an error.
func ExtractText(raw string) ([]string, error) {
	rr, err := ccda.ParseString(raw)
	if err != nil {
		return nil, err
	}
	return Extract(rr), nil
}

// FilterForCondition removes, in place, the reportable-condition
// observations whose code is not in keep. An observation's enclosing
// <component> is removed with it. It returns the number of observations
// removed.
func FilterForCondition(rr *ccda.Document, keep []string) int {
	wanted := make(map[string]struct{}, len(keep))
	for _, k := range keep {
		wanted[k] = struct{}{}
	}

	removed := 0
	for _, v := range conditionNodes(rr) {
		if _, ok := wanted[v.SelectAttr("code")]; ok {
			continue
		}
		obs := v.Parent
		target := obs
		if p := obs.Parent; p != nil && p.Type == xmlquery.ElementNode && p.Data == "component" {
			target = p
		}
		xmlquery.RemoveFromTree(target)
		removed++
	}
	return removed
}

func conditionNodes(rr *ccda.Document) []*xmlquery.Node {
	if rr == nil || rr.Root() == nil {
		return nil
	}
	var out []*xmlquery.Node
	seen := map[*xmlquery.Node]struct{}{}
	for _, sec := range xmlquery.QuerySelectorAll(rr.Root(), summarySections) {
		for _, v := range xmlquery.QuerySelectorAll(sec, conditionValues) {
			// Nested summary sections select the same values twice.
			if _, dup := seen[v]; dup {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}
