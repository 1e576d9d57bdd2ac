// Package merge defines the contract of the external merge module: the
// opaque component that owns the replicated-document algorithm. The sync
// engine never interprets document structure itself; every query and
// mutation goes through a Module.
package merge

import (
	"context"

	"github.com/fivetentaylor/pointy-sub000/internal/operations"
)

// Address identifies a point-in-time snapshot of the document. The empty
// string means live.
type Address string

// Live is the zero address.
const Live Address = ""

// Span is a logical position range between two operation IDs.
type Span struct {
	Start operations.ID `json:"start"`
	End   operations.ID `json:"end"`
}

// Rect is a screen rectangle resolved from a logical range.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ScrubFrame is the result of materializing one scrub offset: the affected
// rendered sub-range [From, To), its replacement markup, and the cursor
// span to restore.
type ScrubFrame struct {
	From   int
	To     int
	HTML   string
	Cursor Span
}

// Stats are document statistics reported by the module.
type Stats struct {
	Characters int
	Words      int
	Operations int
}

// Module is a stateful document replica constructed for one author
// identity. Calls are serialized by the owning engine; implementations do
// not need to be safe for concurrent use. Every call either succeeds or
// returns an error the caller logs and abandons.
type Module interface {
	// Apply merges a local or remote operation into the replica.
	Apply(op operations.Operation) error

	// IndexForPosition resolves a logical position to its current index in
	// the materialized document.
	IndexForPosition(id operations.ID) (int, error)
	// PositionForIndex is the inverse of IndexForPosition.
	PositionForIndex(index int) (operations.ID, error)

	// Render materializes the live document to markup.
	Render() (string, error)
	// RenderAt materializes the document at a historical address.
	RenderAt(addr Address) (string, error)
	// RenderDiff materializes the diff between a historical address and
	// live, optionally with diff highlights.
	RenderDiff(addr Address, highlight bool) (string, error)
	// RenderDiffBetween materializes the diff between two historical
	// addresses.
	RenderDiffBetween(base, target Address) (string, error)
	// RenderXRay materializes the inspection view.
	RenderXRay() (string, error)

	// Plaintext extracts the live document as plain text.
	Plaintext() (string, error)

	CanUndo() (bool, error)
	CanRedo() (bool, error)
	// Undo and Redo produce the corrective operation to transmit.
	Undo() (operations.Operation, error)
	Redo() (operations.Operation, error)

	// ScrubInit prepares a bounded range [0, max] of selectable revision
	// offsets, scoped to sel unless wholeDocument is set.
	ScrubInit(sel *Span, wholeDocument bool) (max int, err error)
	// ScrubTo materializes one offset of the prepared scrub range.
	ScrubTo(offset int) (ScrubFrame, error)
	// ScrubRevert produces a single corrective operation bringing the live
	// document to the scrubbed offset.
	ScrubRevert(offset int) (operations.Operation, error)

	// RewindSpan produces a corrective operation reverting exactly the
	// given span, evaluated at addr (live when empty).
	RewindSpan(span Span, addr Address) (operations.Operation, error)

	// RangeFor resolves a logical range to screen rectangles in the live
	// view; RangeForAddress does the same for a historical view.
	RangeFor(span Span) ([]Rect, error)
	RangeForAddress(span Span, addr Address) ([]Rect, error)

	Stats() (Stats, error)

	Close() error
}

// FatalHandler is invoked when the module fails unrecoverably (version
// mismatch, internal panic). The session cannot continue; the host surfaces
// a blocking reload notice.
type FatalHandler func(reason string)

// Loader performs the module's asynchronous initialization for an author
// identity and returns a typed handle or an error.
type Loader interface {
	Load(ctx context.Context, authorID string, onFatal FatalHandler) (Module, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context, authorID string, onFatal FatalHandler) (Module, error)

func (f LoaderFunc) Load(ctx context.Context, authorID string, onFatal FatalHandler) (Module, error) {
	return f(ctx, authorID, onFatal)
}
