package ingest

import (
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// State is a node of the per-input ingestion state machine.
type State int

const (
	StateStart State = iota
	StateAccepted
	StateHeaderFailure
	StateOtherFailure
	StateXrefFailure
	StateRepaired
	StateRepairFailure
	StateBuffered
	StateWriteFailure
	StateRecoveredParseFailure
)

var stateNames = map[State]string{
	StateStart:                 "start",
	StateAccepted:              "accepted",
	StateHeaderFailure:         "header_failure",
	StateOtherFailure:          "other_failure",
	StateXrefFailure:           "xref_failure",
	StateRepaired:              "repaired",
	StateRepairFailure:         "repair_failure",
	StateBuffered:              "buffered",
	StateWriteFailure:          "write_failure",
	StateRecoveredParseFailure: "recovered_parse_failure",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Outcome is the result of one input's pass through the state machine.
// Exactly one of Document and Err is set.
type Outcome struct {
	Index    int
	Path     string
	Document *Document
	// Err is the terminal failure, an *InputError.
	Err error
	// Cause is the cross-reference failure that sent the input to recovery.
	Cause error
	// Trace lists the visited states, ending in a terminal one.
	Trace []State
}

// Accepted reports whether the input produced a document.
func (o Outcome) Accepted() bool {
	return o.Document != nil
}

// Recovered reports whether the input was accepted through the recovery path.
func (o Outcome) Recovered() bool {
	return o.Document != nil && o.Document.Recovered
}

// Final returns the terminal state.
func (o Outcome) Final() State {
	if len(o.Trace) == 0 {
		return StateStart
	}
	return o.Trace[len(o.Trace)-1]
}

// Result is the output of a full pipeline pass.
type Result struct {
	// Documents holds accepted documents in input order.
	Documents []*Document
	// Failures counts rejected inputs.
	Failures int
	// Outcomes has one entry per input, in input order.
	Outcomes []Outcome
	// LastError is the terminal failure of the last rejected input.
	LastError error
}

// Total returns the number of inputs processed.
func (r Result) Total() int {
	return len(r.Outcomes)
}

// Recovered counts documents accepted through the recovery path.
func (r Result) Recovered() int {
	n := 0
	for _, d := range r.Documents {
		if d.Recovered {
			n++
		}
	}
	return n
}

// HasFailures reports whether any input was rejected.
func (r Result) HasFailures() bool {
	return r.Failures > 0
}

// Pipeline runs the primary parser and, for cross-reference failures, the
// recovery toolkit over a batch of paths. It holds no per-batch state.
type Pipeline struct {
	parser   Parser
	repairer Repairer
	logger   *slog.Logger
}

// NewPipeline wires a pipeline from its adapters. A nil logger uses
// slog.Default().
func NewPipeline(parser Parser, repairer Repairer, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		parser:   parser,
		repairer: repairer,
		logger:   logger,
	}
}

// NewDefaultPipeline uses ledongthuc/pdf as primary parser and pdfcpu as
// recovery toolkit.
func NewDefaultPipeline(logger *slog.Logger) *Pipeline {
	return NewPipeline(NewStrictParser(), NewToolkitRepairer(), logger)
}

// Run processes paths sequentially, in order.
func (p *Pipeline) Run(paths []string) Result {
	outcomes := make([]Outcome, len(paths))
	for i, path := range paths {
		outcomes[i] = p.Ingest(i, path)
	}
	return Fold(outcomes)
}

// RunParallel processes up to limit inputs at once. Each worker only writes
// its own slot, and the fold happens after all workers finish, so the result
// equals Run's. A started pass always runs to completion.
func (p *Pipeline) RunParallel(paths []string, limit int) Result {
	if limit <= 1 {
		return p.Run(paths)
	}
	outcomes := make([]Outcome, len(paths))
	var g errgroup.Group
	g.SetLimit(limit)
	for i, path := range paths {
		g.Go(func() error {
			outcomes[i] = p.Ingest(i, path)
			return nil
		})
	}
	_ = g.Wait()
	return Fold(outcomes)
}

// ParallelRunner runs a pipeline with a fixed concurrency limit.
type ParallelRunner struct {
	pipeline *Pipeline
	limit    int
}

// Parallel returns a runner whose Run calls RunParallel with limit.
func (p *Pipeline) Parallel(limit int) *ParallelRunner {
	return &ParallelRunner{pipeline: p, limit: limit}
}

// Run processes paths with the runner's concurrency limit.
func (r *ParallelRunner) Run(paths []string) Result {
	return r.pipeline.RunParallel(paths, r.limit)
}

// Fold derives the document set and failure tally from per-input outcomes.
// It is the only place the tally is computed.
func Fold(outcomes []Outcome) Result {
	res := Result{
		Documents: make([]*Document, 0, len(outcomes)),
		Outcomes:  outcomes,
	}
	for _, o := range outcomes {
		if o.Accepted() {
			res.Documents = append(res.Documents, o.Document)
			continue
		}
		res.Failures++
		if o.Err != nil {
			res.LastError = o.Err
		}
	}
	return res
}

// Ingest runs one input through the state machine.
func (p *Pipeline) Ingest(index int, path string) Outcome {
	logCtx := p.logger.With("path", path, "index", index)
	o := Outcome{Index: index, Path: path}

	var handle *Repaired
	var buf []byte
	state := StateStart

	for {
		o.Trace = append(o.Trace, state)

		switch state {
		case StateStart:
			doc, err := p.parser.LoadFromPath(path)
			if err == nil {
				o.Document = doc
				state = StateAccepted
				continue
			}
			verdict := Classify(err)
			switch verdict.Class {
			case Recoverable:
				o.Cause = &InputError{Path: path, State: StateXrefFailure, Class: ErrCrossReferenceCorrupt, Err: err}
				state = StateXrefFailure
			case Terminal:
				state = StateHeaderFailure
				o.Err = &InputError{Path: path, State: state, Class: ErrHeaderInvalid, Err: err}
			default:
				state = StateOtherFailure
				o.Err = &InputError{Path: path, State: state, Class: ErrOtherParseFailure, Err: err}
			}

		case StateXrefFailure:
			logCtx.Warn("Cross-reference table is corrupt, attempting recovery.", "error", o.Cause)
			h, err := p.repairer.ReadWithRepair(path)
			if err != nil {
				state = StateRepairFailure
				o.Err = &InputError{Path: path, State: state, Class: ErrRecoveryToolkitFailure, Err: err}
				continue
			}
			handle = h
			state = StateRepaired

		case StateRepaired:
			b, err := p.repairer.RewriteToBuffer(handle)
			if handle != nil {
				_ = handle.Close()
				handle = nil
			}
			if err != nil {
				state = StateWriteFailure
				o.Err = &InputError{Path: path, State: state, Class: ErrRecoveryToolkitFailure, Err: err}
				continue
			}
			buf = b
			state = StateBuffered

		case StateBuffered:
			doc, err := p.parser.LoadFromMemory(buf)
			buf = nil
			if err != nil {
				state = StateRecoveredParseFailure
				o.Err = &InputError{Path: path, State: state, Class: ErrRecoveredDocumentStillInvalid, Err: err}
				continue
			}
			doc.Source = path
			doc.Recovered = true
			o.Document = doc
			state = StateAccepted

		case StateAccepted:
			if o.Document.Recovered {
				logCtx.Info("PDF recovered.", "pages", o.Document.Pages)
			} else {
				logCtx.Info("PDF is OK.", "pages", o.Document.Pages)
			}
			return o

		default:
			logCtx.Error("Input rejected.", "state", state.String(), "error", o.Err)
			return o
		}
	}
}
