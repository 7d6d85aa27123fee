package ccda

import (
	"errors"
	"strings"
	"testing"
)

func TestNormalize_StripsCommentsAtAnyDepth(t *testing.T) {
	raw := `<root><!-- top --><a><!-- nested --><b>x<!-- inline -->y</b></a></root>`

	out, err := Normalize(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(out, "<!--") {
		t.Errorf("expected comments to be stripped, got:\n%s", out)
	}
	if !strings.Contains(out, "<b>xy</b>") {
		t.Errorf("expected split text to be merged, got:\n%s", out)
	}
}

func TestNormalize_CollapsesWhitespace(t *testing.T) {
	raw := "<root>\n\t<title>  Lab   results\n  for   patient </title>\n</root>"

	out, err := Normalize(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "<root>\n  <title>Lab results for patient</title>\n</root>\n"
	if !strings.HasSuffix(out, want) {
		t.Errorf("unexpected output:\n got: %q\nwant suffix: %q", out, want)
	}
}

func TestNormalize_HealsGluedTableAttributes(t *testing.T) {
	raw := `<text><tableID="t1" border="1"><tbody><trstyleCode="Bold"><tdID="c1">A</td>` +
		`<td><tablewidth="100%"><tr><tdstyleCode="Italics">nested</td></tr></table></td></tr></tbody></table></text>`

	out, err := Normalize(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, want := range []string{
		`<table ID="t1" border="1">`,
		`<tr styleCode="Bold">`,
		`<td ID="c1">A</td>`,
		`<table width="100%">`,
		`<td styleCode="Italics">nested</td>`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestHealTableAttributes_LeavesWellFormedTagsAlone(t *testing.T) {
	raw := `<table><thead><tr><th>h</th></tr></thead><colgroup><col span="2"/></colgroup><tbody/></table>`
	if got := string(HealTableAttributes([]byte(raw))); got != raw {
		t.Errorf("expected input unchanged, got %q", got)
	}
}

func TestHealTableAttributes_PrefersLongestTag(t *testing.T) {
	cases := map[string]string{
		`<theadID="h">`:    `<thead ID="h">`,
		`<thheaders="a">`:  `<th headers="a">`,
		`<colspan="2">`:    `<col span="2">`,
		`<tdcharoff="1">`:  `<td charoff="1">`,
		`<tbodyalign='l'>`: `<tbody align='l'>`,
	}
	for in, want := range cases {
		if got := string(HealTableAttributes([]byte(in))); got != want {
			t.Errorf("heal(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{
		`<?xml version="1.0" encoding="UTF-8"?><ClinicalDocument xmlns="urn:hl7-org:v3" xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance"><value xsi:type="CD" code="1"/><title> a  b </title></ClinicalDocument>`,
		`<text><paragraph>Hello <content styleCode="Bold">world</content> again</paragraph></text>`,
		`<r a="1 &amp; 2">&lt;escaped&gt;</r>`,
	}
	for _, in := range inputs {
		once, err := Normalize(in)
		if err != nil {
			t.Fatalf("Normalize(%q): %v", in, err)
		}
		twice, err := Normalize(once)
		if err != nil {
			t.Fatalf("Normalize(normalized): %v", err)
		}
		if once != twice {
			t.Errorf("not idempotent:\nonce:  %q\ntwice: %q", once, twice)
		}
	}
}

func TestNormalize_EquivalentTreesAreByteIdentical(t *testing.T) {
	a := `<root><a x="1">t</a><b/></root>`
	b := "<root>\n   <!-- c -->\n   <a x=\"1\">  t  </a>\n<b></b>\n</root>"

	na, err := Normalize(a)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	nb, err := Normalize(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if na != nb {
		t.Errorf("expected identical output:\n%s\nvs\n%s", na, nb)
	}
}

func TestNormalize_PreservesNamespacedAttributes(t *testing.T) {
	raw := `<ClinicalDocument xmlns="urn:hl7-org:v3" xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance" xmlns:sdtc="urn:hl7-org:sdtc">` +
		`<value xsi:type="CD" code="840539006"/><sdtc:raceCode code="2106-3"/></ClinicalDocument>`

	out, err := Normalize(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{`xmlns="urn:hl7-org:v3"`, `xmlns:xsi=`, `xsi:type="CD"`, `<sdtc:raceCode code="2106-3"/>`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestNormalize_RejectsMalformedInput(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"whitespace only", "   \n\t"},
		{"plain text", "this is not markup"},
		{"unterminated", "<root><child></root>"},
		{"unclosed root", "<root><child/>"},
		{"mismatched", "<a></b>"},
		{"two roots", "<a/><b/>"},
		{"two documents", `<ClinicalDocument xmlns="urn:hl7-org:v3"/><ClinicalDocument xmlns="urn:hl7-org:v3"/>`},
		{"trailing text", "<a>x</a>trailing"},
		{"leading text", "preamble<a>x</a>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(tt.raw)
			if err == nil {
				t.Fatal("expected error")
			}
			var mme *MalformedMarkupError
			if !errors.As(err, &mme) {
				t.Errorf("expected *MalformedMarkupError, got %T", err)
			}
			if !errors.Is(err, ErrDocumentParse) {
				t.Error("expected error to match ErrDocumentParse")
			}
		})
	}
}
