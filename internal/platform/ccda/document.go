package ccda

import (
	"bytes"
	"fmt"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"
)

// Document is a parsed clinical document (eICR or RR). A Document is owned by
// the request that parsed it; callers that need to mutate a shared tree must
// work on a Clone.
type Document struct {
	root *xmlquery.Node
}

// Parse heals, parses and normalizes raw markup. Comments are dropped and
// text nodes are whitespace-collapsed, so two semantically identical inputs
// produce identical trees.
func Parse(raw []byte) (*Document, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, malformed("input is empty", nil)
	}

	root, err := xmlquery.Parse(bytes.NewReader(HealTableAttributes(raw)))
	if err != nil {
		return nil, malformed("not well-formed", err)
	}

	if err := checkSingleRoot(root); err != nil {
		return nil, err
	}
	doc := &Document{root: root}

	stripComments(root)
	collapseWhitespace(root)
	return doc, nil
}

// checkSingleRoot rejects a document node with no element child, more than
// one, or character data outside the document element.
func checkSingleRoot(doc *xmlquery.Node) error {
	elements := 0
	for child := doc.FirstChild; child != nil; child = child.NextSibling {
		switch child.Type {
		case xmlquery.ElementNode:
			elements++
		case xmlquery.TextNode, xmlquery.CharDataNode:
			if len(bytes.TrimSpace([]byte(child.Data))) > 0 {
				return malformed("text outside the root element", nil)
			}
		}
	}
	switch {
	case elements == 0:
		return malformed("no root element", nil)
	case elements > 1:
		return malformed("multiple root elements", nil)
	}
	return nil
}

// ParseString is Parse for string input.
func ParseString(raw string) (*Document, error) {
	return Parse([]byte(raw))
}

// Root returns the document element.
func (d *Document) Root() *xmlquery.Node {
	if d == nil || d.root == nil {
		return nil
	}
	for child := d.root.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == xmlquery.ElementNode {
			return child
		}
	}
	return nil
}

// Clone returns a deep copy sharing no nodes with d.
func (d *Document) Clone() *Document {
	if d == nil || d.root == nil {
		return &Document{}
	}
	return &Document{root: CloneNode(d.root)}
}

// String serializes the document with the stable formatter.
func (d *Document) String() string {
	if d == nil || d.root == nil {
		return ""
	}
	var buf bytes.Buffer
	formatNode(&buf, d.root, 0)
	return buf.String()
}

// Bytes is String as a byte slice.
func (d *Document) Bytes() []byte {
	return []byte(d.String())
}

// QueryAll evaluates a namespace-aware XPath expression (see Namespaces)
// against the whole document.
func (d *Document) QueryAll(expr string) ([]*xmlquery.Node, error) {
	compiled, err := Compile(expr)
	if err != nil {
		return nil, err
	}
	return xmlquery.QuerySelectorAll(d.root, compiled), nil
}

// Compile compiles an XPath expression with the hl7, sdtc and xsi prefixes
// bound.
func Compile(expr string) (*xpath.Expr, error) {
	compiled, err := xpath.CompileWithNS(expr, Namespaces)
	if err != nil {
		return nil, fmt.Errorf("ccda: invalid xpath %q: %w", expr, err)
	}
	return compiled, nil
}

// MustCompile is Compile for expressions known at build time.
func MustCompile(expr string) *xpath.Expr {
	compiled, err := Compile(expr)
	if err != nil {
		panic(err)
	}
	return compiled
}

// CloneNode deep-copies n and its descendants. The copy is detached.
func CloneNode(n *xmlquery.Node) *xmlquery.Node {
	c := &xmlquery.Node{
		Type:         n.Type,
		Data:         n.Data,
		Prefix:       n.Prefix,
		NamespaceURI: n.NamespaceURI,
	}
	if len(n.Attr) > 0 {
		c.Attr = make([]xmlquery.Attr, len(n.Attr))
		copy(c.Attr, n.Attr)
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		xmlquery.AddChild(c, CloneNode(child))
	}
	return c
}

// NewElement creates a detached element in the CDA namespace.
func NewElement(name string, attrs ...string) *xmlquery.Node {
	n := &xmlquery.Node{
		Type:         xmlquery.ElementNode,
		Data:         name,
		NamespaceURI: CDANamespace,
	}
	for i := 0; i+1 < len(attrs); i += 2 {
		n.SetAttr(attrs[i], attrs[i+1])
	}
	return n
}

// ChildElements returns the element children of n named name, or all
// element children when name is empty.
func ChildElements(n *xmlquery.Node, name string) []*xmlquery.Node {
	var out []*xmlquery.Node
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if child.Type != xmlquery.ElementNode {
			continue
		}
		if name == "" || child.Data == name {
			out = append(out, child)
		}
	}
	return out
}

// FirstChildElement returns the first element child of n named name.
func FirstChildElement(n *xmlquery.Node, name string) *xmlquery.Node {
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == xmlquery.ElementNode && child.Data == name {
			return child
		}
	}
	return nil
}

// RemoveChildren detaches every child of n.
func RemoveChildren(n *xmlquery.Node) {
	for child := n.FirstChild; child != nil; {
		next := child.NextSibling
		xmlquery.RemoveFromTree(child)
		child = next
	}
}
