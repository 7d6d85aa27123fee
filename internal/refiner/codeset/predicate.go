package codeset

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"

	"github.com/ehr/refiner/internal/platform/ccda"
)

// DefaultScope is the set of clinical statement elements searched for codes
// when the caller does not name one.
var DefaultScope = []string{
	"observation",
	"act",
	"encounter",
	"procedure",
	"organizer",
	"substanceAdministration",
	"manufacturedMaterial",
}

// codeCarriers are the children of a scoped element whose @code is tested.
const codeCarriers = "(hl7:code|hl7:value|hl7:code/hl7:translation|hl7:value/hl7:translation)"

// InputValidationError reports an invalid caller-supplied parameter.
type InputValidationError struct {
	Field   string
	Message string
}

func (e *InputValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// StructuralQuery selects scoped elements whose code is in a CodeSet. A query
// built from an empty set matches nothing.
type StructuralQuery struct {
	text string
	expr *xpath.Expr
}

// BuildPredicate compiles a query selecting every element named in scope
// whose code, value or translation carries a member of set. A member whose
// system is an OID matches only markup in that system or markup with no
// @codeSystem; other members match on @code alone. Members are emitted in
// sorted order so the expression text is canonical.
func BuildPredicate(set CodeSet, scope []string) (*StructuralQuery, error) {
	if len(scope) == 0 {
		return nil, &InputValidationError{Field: "search_scope", Message: "at least one element name is required"}
	}
	for _, el := range scope {
		if !isXMLName(el) {
			return nil, &InputValidationError{Field: "search_scope", Message: fmt.Sprintf("%q is not an element name", el)}
		}
	}

	codes := set.Codes()
	if len(codes) == 0 {
		return &StructuralQuery{}, nil
	}

	clauses := make([]string, 0, len(codes))
	for _, c := range codes {
		clause := codeClause(c)
		if n := len(clauses); n > 0 && clauses[n-1] == clause {
			continue
		}
		clauses = append(clauses, clause)
	}
	cond := codeCarriers + "[" + strings.Join(clauses, " or ") + "]"

	branches := make([]string, len(scope))
	for i, el := range scope {
		branches[i] = "descendant-or-self::hl7:" + el + "[" + cond + "]"
	}
	text := strings.Join(branches, " | ")

	expr, err := ccda.Compile(text)
	if err != nil {
		return nil, fmt.Errorf("codeset: build predicate: %w", err)
	}
	return &StructuralQuery{text: text, expr: expr}, nil
}

// Empty reports whether the query can never match.
func (q *StructuralQuery) Empty() bool {
	return q == nil || q.expr == nil
}

// Matches reports whether n, or any element below it, is selected.
func (q *StructuralQuery) Matches(n *xmlquery.Node) bool {
	if q.Empty() || n == nil {
		return false
	}
	return xmlquery.QuerySelector(n, q.expr) != nil
}

// Select returns the selected elements at or below n in document order.
func (q *StructuralQuery) Select(n *xmlquery.Node) []*xmlquery.Node {
	if q.Empty() || n == nil {
		return nil
	}
	return xmlquery.QuerySelectorAll(n, q.expr)
}

// String returns the XPath text, or "false()" for an empty query.
func (q *StructuralQuery) String() string {
	if q.Empty() {
		return "false()"
	}
	return q.text
}

var oid = regexp.MustCompile(`^[0-9]+(\.[0-9]+)+$`)

func codeClause(c Code) string {
	if !oid.MatchString(c.System) {
		return "@code='" + c.Code + "'"
	}
	return "(@code='" + c.Code + "' and (not(@codeSystem) or @codeSystem='" + c.System + "'))"
}

var elementName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9._-]*$`)

func isXMLName(s string) bool {
	return elementName.MatchString(s)
}
