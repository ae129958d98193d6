package specyaml

import (
	"fmt"
	"strings"
)

// Span locates a diagnostic inside the source document. The YAML layer
// reports line/column positions, so that is what errors carry.
type Span struct {
	Line   int
	Column int
}

func (s Span) String() string {
	return fmt.Sprintf("line %d, column %d", s.Line, s.Column)
}

// ParseError wraps a YAML scan failure from the underlying decoder.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return fmt.Sprintf("YAML parsing error: %v", e.Err) }
func (e *ParseError) Unwrap() error { return e.Err }

// ExpectedEventError reports a structurally wrong document: what the parser
// wanted, what it found, and where.
type ExpectedEventError struct {
	Expected string
	Found    string
	Span     Span
}

func (e *ExpectedEventError) Error() string {
	return fmt.Sprintf("expected %s, found %s at %s", e.Expected, e.Found, e.Span)
}

// MissingFieldError reports a mandatory gemspec field that never appeared.
type MissingFieldError struct {
	Field string
	Span  Span
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing required field %q in specification at %s", e.Field, e.Span)
}

// UnexpectedEndError reports a document that stopped early.
type UnexpectedEndError struct {
	Message string
	Span    Span
}

func (e *UnexpectedEndError) Error() string {
	return fmt.Sprintf("unexpected end of document: %s at %s", e.Message, e.Span)
}

// SerializeError wraps an emitter failure.
type SerializeError struct {
	Err error
}

func (e *SerializeError) Error() string { return fmt.Sprintf("YAML serialization error: %v", e.Err) }
func (e *SerializeError) Unwrap() error { return e.Err }

// RenderSpan extracts the offending source line for a diagnostic, with a
// caret under the reported column.
func RenderSpan(source string, span Span) string {
	if span.Line <= 0 {
		return ""
	}
	lines := strings.Split(source, "\n")
	if span.Line > len(lines) {
		return ""
	}
	line := lines[span.Line-1]
	caret := strings.Repeat(" ", max(span.Column-1, 0)) + "^"
	return line + "\n" + caret
}
