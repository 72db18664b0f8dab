package ingest

import (
	"errors"
	"fmt"
)

// Failure classes. A rejected input's *InputError matches exactly one of the
// terminal classes with errors.Is. ErrCrossReferenceCorrupt is the one
// recoverable class and only appears as the Cause of a recovered Outcome.
var (
	ErrHeaderInvalid                 = errors.New("invalid file header: not a PDF")
	ErrCrossReferenceCorrupt         = errors.New("cross-reference table is corrupt")
	ErrRecoveryToolkitFailure        = errors.New("recovery toolkit failed")
	ErrRecoveredDocumentStillInvalid = errors.New("recovered document is still invalid")
	ErrOtherParseFailure             = errors.New("failed to parse PDF")
)

// ParseKind is the coarse failure class reported by the primary parser.
type ParseKind int

const (
	KindOther ParseKind = iota
	KindHeader
	KindXref
)

func (k ParseKind) String() string {
	switch k {
	case KindHeader:
		return "header"
	case KindXref:
		return "xref"
	default:
		return "other"
	}
}

// ParseError is the failure type returned by the primary parser adapter.
type ParseError struct {
	Kind ParseKind
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// InputError records the terminal failure of one input.
type InputError struct {
	Path  string
	State State
	Class error
	Err   error
}

func (e *InputError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Path, e.Class)
	}
	return fmt.Sprintf("%s: %v: %v", e.Path, e.Class, e.Err)
}

// Unwrap exposes both the failure class and the underlying cause.
func (e *InputError) Unwrap() []error {
	return []error{e.Class, e.Err}
}
