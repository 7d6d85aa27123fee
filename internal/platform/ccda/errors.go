package ccda

import (
	"errors"
	"fmt"
)

// ErrDocumentParse is matched by every error raised when input text cannot be
// turned into a document tree.
var ErrDocumentParse = errors.New("document parse error")

// MalformedMarkupError reports input that is not well-formed markup: empty
// text, unterminated or mismatched tags, or text without a root element.
type MalformedMarkupError struct {
	Reason string
	Err    error
}

func (e *MalformedMarkupError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ccda: malformed markup: %s: %v", e.Reason, e.Err)
	}
	return "ccda: malformed markup: " + e.Reason
}

func (e *MalformedMarkupError) Unwrap() error { return e.Err }

// Is lets callers treat a malformed-markup failure as a generic parse failure.
func (e *MalformedMarkupError) Is(target error) bool {
	return target == ErrDocumentParse
}

func malformed(reason string, err error) error {
	return &MalformedMarkupError{Reason: reason, Err: err}
}
