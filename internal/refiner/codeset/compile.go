package codeset

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
)

const maxCodeLength = 64

// Source is one named code collection feeding a compilation. A source is
// either typed (System plus Codes, as stored on a condition record) or raw
// JSON (an array of {"code": ..., "system": ...} objects fetched from an
// external service).
type Source struct {
	Name   string
	System string
	Codes  []string
	Raw    []byte
}

// Rejection records a dropped entry. Index is -1 when the whole source
// could not be read.
type Rejection struct {
	Source string
	Index  int
	Reason string
}

func (r Rejection) String() string {
	if r.Index < 0 {
		return fmt.Sprintf("%s: %s", r.Source, r.Reason)
	}
	return fmt.Sprintf("%s[%d]: %s", r.Source, r.Index, r.Reason)
}

// Result is the outcome of Compile.
type Result struct {
	Set      CodeSet
	Rejected []Rejection
}

// Compile merges sources into one CodeSet. Entries are validated one at a
// time: an invalid entry is dropped and reported in Rejected, and a source
// that cannot be read at all contributes nothing. Compile never fails.
func Compile(sources ...Source) Result {
	res := Result{Set: New()}
	for _, src := range sources {
		codes, rejected := src.entries()
		for _, c := range codes {
			res.Set.Add(c)
		}
		res.Rejected = append(res.Rejected, rejected...)
	}
	return res
}

type rawEntry struct {
	Code   *string `json:"code"`
	System *string `json:"system"`
}

func (s Source) entries() ([]Code, []Rejection) {
	var (
		codes    []Code
		rejected []Rejection
	)
	reject := func(i int, reason string) {
		rejected = append(rejected, Rejection{Source: s.Name, Index: i, Reason: reason})
	}

	for i, raw := range s.Codes {
		c, err := validate(raw, s.System)
		if err != nil {
			reject(i, err.Error())
			continue
		}
		codes = append(codes, c)
	}

	if len(s.Raw) == 0 {
		return codes, rejected
	}

	var items []json.RawMessage
	if err := json.Unmarshal(s.Raw, &items); err != nil {
		reject(-1, "unreadable source: "+err.Error())
		return codes, rejected
	}
	for i, item := range items {
		var e rawEntry
		if err := json.Unmarshal(item, &e); err != nil {
			reject(i, "malformed entry: "+err.Error())
			continue
		}
		if e.Code == nil {
			reject(i, "missing code")
			continue
		}
		system := s.System
		if e.System != nil {
			system = *e.System
		}
		c, err := validate(*e.Code, system)
		if err != nil {
			reject(i, err.Error())
			continue
		}
		codes = append(codes, c)
	}
	return codes, rejected
}

func validate(code, system string) (Code, error) {
	code = strings.TrimSpace(code)
	switch {
	case code == "":
		return Code{}, fmt.Errorf("empty code")
	case len(code) > maxCodeLength:
		return Code{}, fmt.Errorf("code %.16q... exceeds %d characters", code, maxCodeLength)
	case strings.ContainsAny(code, `"'<>&`):
		return Code{}, fmt.Errorf("code %q contains reserved characters", code)
	case strings.IndexFunc(code, unicode.IsSpace) >= 0:
		return Code{}, fmt.Errorf("code %q contains whitespace", code)
	}

	system = ResolveSystem(system)
	if system == "" {
		return Code{}, fmt.Errorf("code %q has no code system", code)
	}
	return Code{Code: code, System: system}, nil
}
