package ingest

import "errors"

// Class is the routing decision for a primary parse failure.
type Class int

const (
	// Unknown covers failure kinds the recovery path was not validated
	// against. The pipeline treats it as terminal.
	Unknown Class = iota
	// Terminal failures are never routed to recovery.
	Terminal
	// Recoverable failures are routed to the recovery toolkit.
	Recoverable
)

func (c Class) String() string {
	switch c {
	case Terminal:
		return "terminal"
	case Recoverable:
		return "recoverable"
	default:
		return "unknown"
	}
}

// Verdict is the result of classifying a parse failure. Kind is only
// meaningful when Class is Recoverable.
type Verdict struct {
	Class Class
	Kind  ParseKind
}

// Classify decides whether a primary parse failure is terminal or worth a
// recovery attempt. Only cross-reference failures are recoverable.
func Classify(err error) Verdict {
	var pe *ParseError
	if !errors.As(err, &pe) {
		return Verdict{Class: Unknown, Kind: KindOther}
	}
	switch pe.Kind {
	case KindHeader:
		return Verdict{Class: Terminal, Kind: KindHeader}
	case KindXref:
		return Verdict{Class: Recoverable, Kind: KindXref}
	default:
		return Verdict{Class: Unknown, Kind: pe.Kind}
	}
}
