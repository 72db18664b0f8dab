package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Repairer is the tolerant recovery toolkit used after a cross-reference
// failure.
type Repairer interface {
	ReadWithRepair(path string) (*Repaired, error)
	RewriteToBuffer(h *Repaired) ([]byte, error)
}

var errHandleClosed = errors.New("repaired handle is closed")

var disableConfigDir sync.Once

// Repaired is an open document held by the recovery toolkit. pdfcpu's
// reader rebuilds the cross-reference table whenever the one on disk is
// unusable, so holding a context means the repair already happened. It must
// be closed by whoever obtained it, on every path.
type Repaired struct {
	Source string

	ctx *model.Context
}

// NewRepaired wraps an already-read pdfcpu context.
func NewRepaired(source string, ctx *model.Context) *Repaired {
	return &Repaired{Source: source, ctx: ctx}
}

// Closed reports whether Close has been called.
func (h *Repaired) Closed() bool {
	return h.ctx == nil
}

// Close releases the toolkit context.
func (h *Repaired) Close() error {
	h.ctx = nil
	return nil
}

// ToolkitRepairer repairs documents with pdfcpu in relaxed validation mode
// and serializes them back with classic xref tables.
type ToolkitRepairer struct{}

// NewToolkitRepairer returns the recovery adapter.
func NewToolkitRepairer() *ToolkitRepairer {
	return &ToolkitRepairer{}
}

// Configuration returns the pdfcpu configuration used for repair and for
// rewriting, and by the merger. pdfcpu's on-disk config directory is disabled
// for the whole process on first use.
func Configuration() *model.Configuration {
	disableConfigDir.Do(api.DisableConfigDir)
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	conf.WriteObjectStream = false
	conf.WriteXRefStream = false
	return conf
}

// ReadWithRepair reads path into memory and lets pdfcpu rebuild its
// cross-reference information.
func (r *ToolkitRepairer) ReadWithRepair(path string) (h *Repaired, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	defer func() {
		if rec := recover(); rec != nil {
			h = nil
			err = fmt.Errorf("pdfcpu panicked while repairing %s: %v", path, rec)
		}
	}()

	ctx, err := api.ReadContext(bytes.NewReader(data), Configuration())
	if err != nil {
		return nil, fmt.Errorf("failed to read with repair: %w", err)
	}
	if err := api.ValidateContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to validate repaired document: %w", err)
	}
	if err := api.OptimizeContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to optimize repaired document: %w", err)
	}
	return NewRepaired(path, ctx), nil
}

// RewriteToBuffer serializes the repaired structure into a fresh byte stream.
func (r *ToolkitRepairer) RewriteToBuffer(h *Repaired) (out []byte, err error) {
	if h == nil || h.Closed() {
		return nil, errHandleClosed
	}

	defer func() {
		if rec := recover(); rec != nil {
			out = nil
			err = fmt.Errorf("pdfcpu panicked while writing %s: %v", h.Source, rec)
		}
	}()

	var buf bytes.Buffer
	if err := api.WriteContext(h.ctx, &buf); err != nil {
		return nil, fmt.Errorf("failed to write repaired document: %w", err)
	}
	return buf.Bytes(), nil
}
