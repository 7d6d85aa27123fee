package ccda

import (
	"bytes"
	"encoding/xml"
	"strings"

	"github.com/antchfx/xmlquery"
)

const indentUnit = "  "

// formatNode writes n with a fixed indentation. Elements holding only text
// are written inline; elements with element children put each child on its
// own line.
func formatNode(w *bytes.Buffer, n *xmlquery.Node, depth int) {
	switch n.Type {
	case xmlquery.DocumentNode:
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			formatNode(w, child, depth)
		}

	case xmlquery.DeclarationNode:
		w.WriteString("<?")
		w.WriteString(n.Data)
		for _, attr := range n.Attr {
			w.WriteString(" ")
			w.WriteString(attr.Name.Local)
			w.WriteString(`="`)
			escape(w, attr.Value)
			w.WriteString(`"`)
		}
		w.WriteString("?>\n")

	case xmlquery.ElementNode:
		writeIndent(w, depth)
		w.WriteString("<")
		w.WriteString(qualifiedName(n))
		for _, attr := range n.Attr {
			w.WriteString(" ")
			w.WriteString(attrName(attr))
			w.WriteString(`="`)
			escape(w, attr.Value)
			w.WriteString(`"`)
		}

		if n.FirstChild == nil {
			w.WriteString("/>\n")
			return
		}
		w.WriteString(">")

		if !hasElementChildren(n) {
			for child := n.FirstChild; child != nil; child = child.NextSibling {
				writeInline(w, child)
			}
		} else {
			w.WriteString("\n")
			for child := n.FirstChild; child != nil; child = child.NextSibling {
				if child.Type == xmlquery.ElementNode {
					formatNode(w, child, depth+1)
					continue
				}
				writeIndent(w, depth+1)
				writeInline(w, child)
				w.WriteString("\n")
			}
			writeIndent(w, depth)
		}
		w.WriteString("</")
		w.WriteString(qualifiedName(n))
		w.WriteString(">\n")

	case xmlquery.CommentNode:
		writeIndent(w, depth)
		w.WriteString("<!--")
		w.WriteString(n.Data)
		w.WriteString("-->\n")

	case xmlquery.TextNode, xmlquery.CharDataNode:
		if strings.TrimSpace(n.Data) != "" {
			writeInline(w, n)
			w.WriteString("\n")
		}

	default:
		w.WriteString(n.OutputXML(true))
		w.WriteString("\n")
	}
}

func writeInline(w *bytes.Buffer, n *xmlquery.Node) {
	switch n.Type {
	case xmlquery.TextNode:
		escape(w, n.Data)
	case xmlquery.CharDataNode:
		w.WriteString("<![CDATA[")
		w.WriteString(n.Data)
		w.WriteString("]]>")
	case xmlquery.CommentNode:
		w.WriteString("<!--")
		w.WriteString(n.Data)
		w.WriteString("-->")
	default:
		w.WriteString(n.OutputXML(true))
	}
}

func hasElementChildren(n *xmlquery.Node) bool {
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == xmlquery.ElementNode {
			return true
		}
	}
	return false
}

func qualifiedName(n *xmlquery.Node) string {
	if n.Prefix != "" {
		return n.Prefix + ":" + n.Data
	}
	return n.Data
}

// attrName rebuilds the prefixed attribute name. xmlquery stores the prefix
// in Name.Space ("xsi" for xsi:type, "xmlns" for namespace declarations).
func attrName(attr xmlquery.Attr) string {
	if attr.Name.Space != "" {
		return attr.Name.Space + ":" + attr.Name.Local
	}
	return attr.Name.Local
}

func escape(w *bytes.Buffer, s string) {
	_ = xml.EscapeText(w, []byte(s))
}

func writeIndent(w *bytes.Buffer, depth int) {
	for i := 0; i < depth; i++ {
		w.WriteString(indentUnit)
	}
}
