// Package overlay maintains named visual highlights (selections, cursors,
// comments, diff markers) bound to logical position ranges. Geometry is
// always resolved through the merge module; the overlay never interprets
// document structure itself.
package overlay

import (
	"sync"
	"time"

	"github.com/fivetentaylor/pointy-sub000/internal/logging"
	"github.com/fivetentaylor/pointy-sub000/internal/merge"
)

const (
	// DefaultTolerance is the pixel overlap beyond which adjacent
	// rectangles collapse into one block.
	DefaultTolerance = 2.0

	// labelFadeDelay is how long a caret label stays visible after a boop.
	labelFadeDelay = 3 * time.Second
)

// Resolver resolves logical ranges to screen rectangles. The sync engine
// implements it by delegating to the current merge module.
type Resolver interface {
	RangeFor(span merge.Span) ([]merge.Rect, error)
	RangeForAddress(span merge.Span, addr merge.Address) ([]merge.Rect, error)
}

// CaretMark is the 1px marker rendered at the end of a caret highlight's
// last rectangle, with an author label that fades in and out.
type CaretMark struct {
	Rect         merge.Rect
	Label        string
	Color        string
	LabelVisible bool
}

// Rendered is the drawable state of one highlight handed to the Renderer.
type Rendered struct {
	ID      string
	Rects   []merge.Rect
	Largest merge.Rect
	Style   string
	Attrs   map[string]string
	Caret   *CaretMark
}

// Renderer draws highlights onto the surface. Implementations own all DOM
// or terminal specifics.
type Renderer interface {
	Apply(h Rendered)
	Remove(id string)
}

// NopRenderer discards all drawing. Useful for headless operation.
type NopRenderer struct{}

func (NopRenderer) Apply(h Rendered) {}
func (NopRenderer) Remove(id string) {}

// Options configure a highlight.
type Options struct {
	Style    string
	Attrs    map[string]string
	Handlers map[string]func()

	// Caret renders a caret marker at the end of the last rectangle.
	Caret bool
	Label string
	Color string
}

type highlight struct {
	id           string
	span         merge.Span
	addr         merge.Address
	opts         Options
	rects        []merge.Rect
	largest      merge.Rect
	labelVisible bool
	fadeTimer    *time.Timer
}

// Overlay owns the highlight set for one document view.
type Overlay struct {
	resolver  Resolver
	renderer  Renderer
	logger    *logging.Logger
	tolerance float64

	mutex      sync.Mutex
	highlights map[string]*highlight
}

func New(resolver Resolver, renderer Renderer) *Overlay {
	if renderer == nil {
		renderer = NopRenderer{}
	}
	return &Overlay{
		resolver:   resolver,
		renderer:   renderer,
		logger:     logging.NewLogger("overlay"),
		tolerance:  DefaultTolerance,
		highlights: make(map[string]*highlight),
	}
}

// HighlightRange creates or updates a named highlight over a logical range.
// addr selects a historical view; merge.Live targets the live document. A
// highlight whose resolved range collapses to empty is removed.
func (o *Overlay) HighlightRange(id string, span merge.Span, addr merge.Address, opts Options) error {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	h, exists := o.highlights[id]
	if !exists {
		h = &highlight{id: id}
		o.highlights[id] = h
	}
	h.span = span
	h.addr = addr
	h.opts = opts

	return o.recomputeLocked(h)
}

// Remove deletes a highlight and its rendered presence.
func (o *Overlay) Remove(id string) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.removeLocked(id)
}

// RemoveHighlightsWithPrefix removes every highlight whose identifier
// starts with prefix, clearing a whole category at once.
func (o *Overlay) RemoveHighlightsWithPrefix(prefix string) {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	for id := range o.highlights {
		if len(id) >= len(prefix) && id[:len(prefix)] == prefix {
			o.removeLocked(id)
		}
	}
}

func (o *Overlay) removeLocked(id string) {
	h, exists := o.highlights[id]
	if !exists {
		return
	}
	if h.fadeTimer != nil {
		h.fadeTimer.Stop()
	}
	delete(o.highlights, id)
	o.renderer.Remove(id)
}

// LayoutChanged recomputes every highlight's rectangles. Called on resize,
// scroll and content mutation.
func (o *Overlay) LayoutChanged() {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	for _, h := range o.highlights {
		if err := o.recomputeLocked(h); err != nil {
			o.logger.Warn("Failed to recompute highlight", map[string]interface{}{
				"id":    h.id,
				"error": err.Error(),
			})
		}
	}
}

// Boop makes a caret highlight's label visible and schedules it to fade
// out again. Called e.g. when a new remote edit arrives for that author.
func (o *Overlay) Boop(id string) {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	h, exists := o.highlights[id]
	if !exists || !h.opts.Caret {
		return
	}

	h.labelVisible = true
	if h.fadeTimer != nil {
		h.fadeTimer.Stop()
	}
	h.fadeTimer = time.AfterFunc(labelFadeDelay, func() {
		o.mutex.Lock()
		defer o.mutex.Unlock()
		if cur, ok := o.highlights[id]; ok {
			cur.labelVisible = false
			o.renderLocked(cur)
		}
	})
	o.renderLocked(h)
}

// Hover toggles label visibility for a caret highlight while the pointer
// is over its largest rectangle.
func (o *Overlay) Hover(id string, over bool) {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	h, exists := o.highlights[id]
	if !exists || !h.opts.Caret {
		return
	}
	h.labelVisible = over
	o.renderLocked(h)
}

// Trigger invokes a registered event handler on a highlight.
func (o *Overlay) Trigger(id, event string) {
	o.mutex.Lock()
	h, exists := o.highlights[id]
	var fn func()
	if exists {
		fn = h.opts.Handlers[event]
	}
	o.mutex.Unlock()

	if fn != nil {
		fn()
	}
}

// Largest returns the largest merged rectangle of a highlight, used to
// drive hover-triggered caret-label visibility.
func (o *Overlay) Largest(id string) (merge.Rect, bool) {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	h, exists := o.highlights[id]
	if !exists {
		return merge.Rect{}, false
	}
	return h.largest, true
}

// Rects returns the currently rendered rectangles of a highlight.
func (o *Overlay) Rects(id string) []merge.Rect {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	h, exists := o.highlights[id]
	if !exists {
		return nil
	}
	return append([]merge.Rect(nil), h.rects...)
}

func (o *Overlay) recomputeLocked(h *highlight) error {
	var raw []merge.Rect
	var err error
	if h.addr == merge.Live {
		raw, err = o.resolver.RangeFor(h.span)
	} else {
		raw, err = o.resolver.RangeForAddress(h.span, h.addr)
	}
	if err != nil {
		return err
	}

	if len(raw) == 0 {
		o.removeLocked(h.id)
		return nil
	}

	h.rects, h.largest = mergeRects(raw, o.tolerance)
	o.renderLocked(h)
	return nil
}

func (o *Overlay) renderLocked(h *highlight) {
	rendered := Rendered{
		ID:      h.id,
		Rects:   h.rects,
		Largest: h.largest,
		Style:   h.opts.Style,
		Attrs:   h.opts.Attrs,
	}

	if h.opts.Caret && len(h.rects) > 0 {
		last := h.rects[len(h.rects)-1]
		rendered.Caret = &CaretMark{
			Rect: merge.Rect{
				X:      last.X + last.Width,
				Y:      last.Y,
				Width:  1,
				Height: last.Height,
			},
			Label:        h.opts.Label,
			Color:        h.opts.Color,
			LabelVisible: h.labelVisible,
		}
	}
	o.renderer.Apply(rendered)
}
