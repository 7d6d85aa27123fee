package ccda

import (
	"github.com/antchfx/xmlquery"
)

var bodySections = MustCompile("/hl7:ClinicalDocument/hl7:component/hl7:structuredBody/hl7:component/hl7:section")

// Section is one top-level section of a document's structured body, keyed by
// the code of its leading <code> element.
type Section struct {
	Node       *xmlquery.Node
	Code       string
	CodeSystem string
	TemplateID string
	Title      string
}

// Sections returns the structured-body sections in document order. A
// section without a <code> child is returned with an empty Code.
func (d *Document) Sections() []Section {
	if d == nil || d.root == nil {
		return nil
	}
	nodes := xmlquery.QuerySelectorAll(d.root, bodySections)
	sections := make([]Section, 0, len(nodes))
	for _, n := range nodes {
		sections = append(sections, NewSection(n))
	}
	return sections
}

// NewSection reads the classifying fields of a <section> element.
func NewSection(n *xmlquery.Node) Section {
	s := Section{Node: n}
	if code := FirstChildElement(n, "code"); code != nil {
		s.Code = code.SelectAttr("code")
		s.CodeSystem = code.SelectAttr("codeSystem")
	}
	if tid := FirstChildElement(n, "templateId"); tid != nil {
		s.TemplateID = tid.SelectAttr("root")
	}
	if title := FirstChildElement(n, "title"); title != nil {
		s.Title = title.InnerText()
	}
	return s
}

// Entries returns the <entry> children of the section.
func (s Section) Entries() []*xmlquery.Node {
	return ChildElements(s.Node, "entry")
}

// Detach removes the section from its document. The enclosing <component>
// goes with it so the structured body stays schema-shaped.
func (s Section) Detach() {
	target := s.Node
	if p := s.Node.Parent; p != nil && p.Type == xmlquery.ElementNode && p.Data == "component" {
		target = p
	}
	xmlquery.RemoveFromTree(target)
}

// HasTemplate reports whether n carries a <templateId> child with one of the
// given roots.
func HasTemplate(n *xmlquery.Node, roots ...string) bool {
	for _, tid := range ChildElements(n, "templateId") {
		root := tid.SelectAttr("root")
		for _, r := range roots {
			if root == r {
				return true
			}
		}
	}
	return false
}
