// Package inspector is the transient "rewind" control over insertion and
// deletion markers in a diff view. A click on one marker expands to the
// full contiguous run of same-kind markers and offers a single action
// reverting exactly that span.
package inspector

import (
	"github.com/fivetentaylor/pointy-sub000/internal/logging"
	"github.com/fivetentaylor/pointy-sub000/internal/merge"
	"github.com/fivetentaylor/pointy-sub000/internal/operations"
	"github.com/fivetentaylor/pointy-sub000/internal/overlay"
)

// MarkerKind distinguishes the two change marker types.
type MarkerKind int

const (
	MarkerInsertion MarkerKind = iota
	MarkerDeletion
)

func (k MarkerKind) String() string {
	if k == MarkerDeletion {
		return "deletion"
	}
	return "insertion"
}

// Marker is one rendered change marker in document order, covering the
// logical positions [Start, End].
type Marker struct {
	Kind  MarkerKind
	Start operations.ID
	End   operations.ID
}

// Querier resolves logical positions to current document indexes. The sync
// engine implements it by delegating to the merge module.
type Querier interface {
	IndexForPosition(id operations.ID) (int, error)
}

// Rewinder reverts a logical span. The sync engine implements it.
type Rewinder interface {
	RewindSpan(span merge.Span) error
}

const highlightID = "inspector"

// Inspector owns at most one open session at a time; opening over a new
// marker closes the previous session first.
type Inspector struct {
	querier  Querier
	rewinder Rewinder
	overlay  *overlay.Overlay
	logger   *logging.Logger

	span merge.Span
	open bool
}

func New(querier Querier, rewinder Rewinder, ov *overlay.Overlay) *Inspector {
	return &Inspector{
		querier:  querier,
		rewinder: rewinder,
		overlay:  ov,
		logger:   logging.NewLogger("inspector"),
	}
}

// Open expands the clicked marker to its contiguous run of same-kind
// siblings, resolves the span covering the smallest and largest logical
// position across the run, and anchors the rewind control over it.
func (i *Inspector) Open(markers []Marker, clicked int) (merge.Span, error) {
	if clicked < 0 || clicked >= len(markers) {
		return merge.Span{}, ErrNoMarker
	}

	kind := markers[clicked].Kind
	first, last := clicked, clicked
	for first > 0 && markers[first-1].Kind == kind {
		first--
	}
	for last < len(markers)-1 && markers[last+1].Kind == kind {
		last++
	}

	span, err := i.spanAcross(markers[first : last+1])
	if err != nil {
		return merge.Span{}, err
	}

	i.Close()
	i.span = span
	i.open = true

	err = i.overlay.HighlightRange(highlightID, span, merge.Live, overlay.Options{
		Style: kind.String(),
		Attrs: map[string]string{"action": "rewind"},
		Handlers: map[string]func(){
			"rewind": func() { i.Rewind() },
		},
	})
	if err != nil {
		i.logger.Warn("Failed to anchor rewind control", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return span, nil
}

// spanAcross orders the run's endpoints by their current document index
// and returns the span from the smallest to the largest position.
func (i *Inspector) spanAcross(run []Marker) (merge.Span, error) {
	var (
		minID, maxID operations.ID
		minIdx       = -1
		maxIdx       = -1
	)

	for _, m := range run {
		for _, id := range []operations.ID{m.Start, m.End} {
			idx, err := i.querier.IndexForPosition(id)
			if err != nil {
				return merge.Span{}, err
			}
			if minIdx == -1 || idx < minIdx {
				minIdx, minID = idx, id
			}
			if maxIdx == -1 || idx > maxIdx {
				maxIdx, maxID = idx, id
			}
		}
	}
	return merge.Span{Start: minID, End: maxID}, nil
}

// Span returns the currently inspected span.
func (i *Inspector) Span() (merge.Span, bool) {
	return i.span, i.open
}

// Rewind reverts the inspected span and closes the session.
func (i *Inspector) Rewind() error {
	if !i.open {
		return ErrNotOpen
	}
	span := i.span
	i.Close()

	if err := i.rewinder.RewindSpan(span); err != nil {
		i.logger.Warn("Rewind failed", map[string]interface{}{
			"error": err.Error(),
		})
		return err
	}
	return nil
}

// Close dismisses the control. Hosts call it on any outside click.
func (i *Inspector) Close() {
	if !i.open {
		return
	}
	i.open = false
	i.span = merge.Span{}
	i.overlay.Remove(highlightID)
}
