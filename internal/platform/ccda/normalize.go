package ccda

import (
	"regexp"
	"strings"

	"github.com/antchfx/xmlquery"
)

// Some EHR exports glue the first attribute onto narrative table tags
// (<tdstyleCode="Bold">, <tableID="t1">). Longer tag names come first so
// <thead> is never read as <th> + "ead".
var gluedTableAttr = regexp.MustCompile(
	`<(thead|tbody|tfoot|table|caption|colgroup|col|tr|th|td)` +
		`(ID|styleCode|language|align|valign|charoff|char|colspan|rowspan|abbr|axis|headers|scope|border|width|cellpadding|cellspacing|frame|rules|summary|span|class|style)` +
		`(\s*=\s*["'])`)

var whitespaceRun = regexp.MustCompile(`\s+`)

// HealTableAttributes inserts the missing separator between a narrative
// table tag and an attribute glued to it. Every occurrence is healed,
// including nested tables.
func HealTableAttributes(raw []byte) []byte {
	return gluedTableAttr.ReplaceAll(raw, []byte("<$1 $2$3"))
}

// Normalize parses raw markup and re-serializes it canonically: comments
// removed, glued table attributes healed, text whitespace collapsed and a
// stable two-space indentation. Normalize(Normalize(x)) == Normalize(x).
func Normalize(raw string) (string, error) {
	doc, err := ParseString(raw)
	if err != nil {
		return "", err
	}
	return doc.String(), nil
}

func stripComments(n *xmlquery.Node) {
	for child := n.FirstChild; child != nil; {
		next := child.NextSibling
		if child.Type == xmlquery.CommentNode {
			xmlquery.RemoveFromTree(child)
		} else {
			stripComments(child)
		}
		child = next
	}
}

func collapseWhitespace(n *xmlquery.Node) {
	for child := n.FirstChild; child != nil; {
		next := child.NextSibling
		switch child.Type {
		case xmlquery.TextNode:
			// Comment removal can leave split text runs behind.
			for next != nil && next.Type == xmlquery.TextNode {
				child.Data += next.Data
				after := next.NextSibling
				xmlquery.RemoveFromTree(next)
				next = after
			}
			text := strings.TrimSpace(whitespaceRun.ReplaceAllString(child.Data, " "))
			if text == "" {
				xmlquery.RemoveFromTree(child)
			} else {
				child.Data = text
			}
		case xmlquery.ElementNode, xmlquery.DocumentNode:
			collapseWhitespace(child)
		}
		child = next
	}
}
