package ccda

import (
	"bytes"
	"encoding/xml"
	"fmt"

	"github.com/antchfx/xmlquery"
)

// BuildNarrativeTable constructs a narrative table from headers and rows.
func BuildNarrativeTable(paragraph string, headers []string, rows []NarrativeTr) *Narrative {
	n := &Narrative{Paragraph: paragraph}
	if len(headers) == 0 && len(rows) == 0 {
		return n
	}
	n.Table = &NarrativeTable{
		Border: "1",
		Thead: &NarrativeThead{
			Tr: &NarrativeTr{Ths: headers},
		},
		Tbody: &NarrativeTbody{
			Trs: rows,
		},
	}
	return n
}

// Node renders the narrative as a detached <text> element in the CDA
// namespace, ready to be attached to a section.
func (n *Narrative) Node() (*xmlquery.Node, error) {
	data, err := xml.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("ccda: marshal narrative: %w", err)
	}

	frag, err := xmlquery.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("ccda: parse narrative: %w", err)
	}

	var text *xmlquery.Node
	for child := frag.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == xmlquery.ElementNode {
			text = child
			break
		}
	}
	if text == nil {
		return nil, fmt.Errorf("ccda: narrative rendered no element")
	}

	xmlquery.RemoveFromTree(text)
	setNamespace(text, CDANamespace)
	return text, nil
}

func setNamespace(n *xmlquery.Node, ns string) {
	if n.Type == xmlquery.ElementNode {
		n.NamespaceURI = ns
		n.Prefix = ""
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		setNamespace(child, ns)
	}
}
