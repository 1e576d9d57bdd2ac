package overlay

import (
	"sync"
	"testing"
	"time"

	"github.com/fivetentaylor/pointy-sub000/internal/merge"
	"github.com/fivetentaylor/pointy-sub000/internal/operations"
)

// fakeResolver returns canned rectangles per span start author, so tests
// can shape geometry without a real merge module.
type fakeResolver struct {
	rects map[string][]merge.Rect
	err   error
}

func (f *fakeResolver) RangeFor(span merge.Span) ([]merge.Rect, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.rects[span.Start.Author], nil
}

func (f *fakeResolver) RangeForAddress(span merge.Span, addr merge.Address) ([]merge.Rect, error) {
	return f.RangeFor(span)
}

type recordingRenderer struct {
	mutex   sync.Mutex
	applied map[string]Rendered
	removed []string
}

func newRecordingRenderer() *recordingRenderer {
	return &recordingRenderer{applied: make(map[string]Rendered)}
}

func (r *recordingRenderer) Apply(h Rendered) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.applied[h.ID] = h
}

func (r *recordingRenderer) Remove(id string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	delete(r.applied, id)
	r.removed = append(r.removed, id)
}

func (r *recordingRenderer) get(id string) (Rendered, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	h, ok := r.applied[id]
	return h, ok
}

func span(author string) merge.Span {
	id := operations.ID{Author: author, Seq: 1}
	return merge.Span{Start: id, End: id}
}

func TestMergeRects_ToleranceBoundary(t *testing.T) {
	// Overlap of 4px on both axes exceeds the 2px tolerance: one block.
	over := []merge.Rect{
		{X: 0, Y: 0, Width: 10, Height: 10},
		{X: 6, Y: 6, Width: 10, Height: 10},
	}
	merged, largest := mergeRects(over, DefaultTolerance)
	if len(merged) != 1 {
		t.Fatalf("Expected 1 merged block, got %d", len(merged))
	}
	want := merge.Rect{X: 0, Y: 0, Width: 16, Height: 16}
	if merged[0] != want {
		t.Errorf("Expected bounding rect %+v, got %+v", want, merged[0])
	}
	if largest != want {
		t.Errorf("Expected largest %+v, got %+v", want, largest)
	}

	// Overlap of 1px is within tolerance: two blocks.
	under := []merge.Rect{
		{X: 0, Y: 0, Width: 10, Height: 10},
		{X: 9, Y: 9, Width: 10, Height: 10},
	}
	merged, _ = mergeRects(under, DefaultTolerance)
	if len(merged) != 2 {
		t.Errorf("Expected 2 blocks for sub-tolerance overlap, got %d", len(merged))
	}
}

func TestMergeRects_ChainsToFixpoint(t *testing.T) {
	// a overlaps b, b overlaps c, a does not overlap c; all three must
	// still collapse through the intermediate.
	rects := []merge.Rect{
		{X: 0, Y: 0, Width: 10, Height: 10},
		{X: 16, Y: 0, Width: 10, Height: 10},
		{X: 6, Y: 0, Width: 14, Height: 10},
	}
	merged, _ := mergeRects(rects, DefaultTolerance)
	if len(merged) != 1 {
		t.Fatalf("Expected chain to collapse to 1 block, got %d", len(merged))
	}
}

func TestMergeRects_SortedByRow(t *testing.T) {
	rects := []merge.Rect{
		{X: 50, Y: 16, Width: 10, Height: 10},
		{X: 0, Y: 0, Width: 10, Height: 10},
		{X: 30, Y: 0, Width: 10, Height: 10},
	}
	merged, _ := mergeRects(rects, DefaultTolerance)
	if len(merged) != 3 {
		t.Fatalf("Expected 3 blocks, got %d", len(merged))
	}
	if merged[0].Y != 0 || merged[0].X != 0 || merged[1].X != 30 || merged[2].Y != 16 {
		t.Errorf("Expected (Y, X) ordering, got %+v", merged)
	}
}

func TestOverlay_HighlightLifecycle(t *testing.T) {
	resolver := &fakeResolver{rects: map[string][]merge.Rect{
		"alice": {{X: 0, Y: 0, Width: 10, Height: 10}},
	}}
	renderer := newRecordingRenderer()
	ov := New(resolver, renderer)

	if err := ov.HighlightRange("h1", span("alice"), merge.Live, Options{Style: "selection"}); err != nil {
		t.Fatalf("Failed to place highlight: %v", err)
	}

	h, ok := renderer.get("h1")
	if !ok {
		t.Fatal("Expected highlight rendered")
	}
	if h.Style != "selection" || len(h.Rects) != 1 {
		t.Errorf("Unexpected rendered state: %+v", h)
	}

	ov.Remove("h1")
	if _, ok := renderer.get("h1"); ok {
		t.Error("Expected highlight removed from renderer")
	}
	if ov.Rects("h1") != nil {
		t.Error("Expected no rects after removal")
	}
}

func TestOverlay_EmptyResolutionRemoves(t *testing.T) {
	resolver := &fakeResolver{rects: map[string][]merge.Rect{
		"alice": {{X: 0, Y: 0, Width: 10, Height: 10}},
	}}
	renderer := newRecordingRenderer()
	ov := New(resolver, renderer)

	if err := ov.HighlightRange("h1", span("alice"), merge.Live, Options{}); err != nil {
		t.Fatalf("Failed to place highlight: %v", err)
	}

	// The range collapses to nothing on the next layout pass.
	resolver.rects["alice"] = nil
	ov.LayoutChanged()

	if _, ok := renderer.get("h1"); ok {
		t.Error("Expected collapsed highlight removed")
	}
}

func TestOverlay_RemoveHighlightsWithPrefix(t *testing.T) {
	resolver := &fakeResolver{rects: map[string][]merge.Rect{
		"alice": {{X: 0, Y: 0, Width: 10, Height: 10}},
	}}
	renderer := newRecordingRenderer()
	ov := New(resolver, renderer)

	for _, id := range []string{"cursor-a", "cursor-b", "comment-1"} {
		if err := ov.HighlightRange(id, span("alice"), merge.Live, Options{}); err != nil {
			t.Fatalf("Failed to place %s: %v", id, err)
		}
	}

	ov.RemoveHighlightsWithPrefix("cursor-")

	if _, ok := renderer.get("cursor-a"); ok {
		t.Error("Expected cursor-a removed")
	}
	if _, ok := renderer.get("cursor-b"); ok {
		t.Error("Expected cursor-b removed")
	}
	if _, ok := renderer.get("comment-1"); !ok {
		t.Error("Expected comment-1 kept")
	}
}

func TestOverlay_CaretAndBoop(t *testing.T) {
	resolver := &fakeResolver{rects: map[string][]merge.Rect{
		"alice": {{X: 0, Y: 0, Width: 10, Height: 10}},
	}}
	renderer := newRecordingRenderer()
	ov := New(resolver, renderer)

	err := ov.HighlightRange("cursor-alice", span("alice"), merge.Live, Options{
		Caret: true,
		Label: "Alice",
		Color: "#f00",
	})
	if err != nil {
		t.Fatalf("Failed to place caret highlight: %v", err)
	}

	h, _ := renderer.get("cursor-alice")
	if h.Caret == nil {
		t.Fatal("Expected caret mark")
	}
	if h.Caret.Rect.X != 10 || h.Caret.Rect.Width != 1 {
		t.Errorf("Expected 1px caret at end of rect, got %+v", h.Caret.Rect)
	}
	if h.Caret.LabelVisible {
		t.Error("Label should start hidden")
	}

	ov.Boop("cursor-alice")
	h, _ = renderer.get("cursor-alice")
	if !h.Caret.LabelVisible {
		t.Error("Label should be visible after boop")
	}

	ov.Hover("cursor-alice", false)
	h, _ = renderer.get("cursor-alice")
	if h.Caret.LabelVisible {
		t.Error("Label should hide when hover ends")
	}
}

func TestOverlay_HoverAndLargest(t *testing.T) {
	resolver := &fakeResolver{rects: map[string][]merge.Rect{
		"alice": {
			{X: 0, Y: 0, Width: 10, Height: 10},
			{X: 0, Y: 32, Width: 30, Height: 10},
		},
	}}
	ov := New(resolver, newRecordingRenderer())

	if err := ov.HighlightRange("h1", span("alice"), merge.Live, Options{Caret: true}); err != nil {
		t.Fatalf("Failed to place highlight: %v", err)
	}

	largest, ok := ov.Largest("h1")
	if !ok {
		t.Fatal("Expected largest rect")
	}
	if largest.Width != 30 {
		t.Errorf("Expected widest rect tracked, got %+v", largest)
	}
}

func TestOverlay_Trigger(t *testing.T) {
	resolver := &fakeResolver{rects: map[string][]merge.Rect{
		"alice": {{X: 0, Y: 0, Width: 10, Height: 10}},
	}}
	ov := New(resolver, nil)

	fired := false
	err := ov.HighlightRange("h1", span("alice"), merge.Live, Options{
		Handlers: map[string]func(){"click": func() { fired = true }},
	})
	if err != nil {
		t.Fatalf("Failed to place highlight: %v", err)
	}

	ov.Trigger("h1", "click")
	if !fired {
		t.Error("Expected click handler invoked")
	}
	ov.Trigger("h1", "unknown")
	ov.Trigger("missing", "click")
}

func TestOverlay_BoopFadesOut(t *testing.T) {
	resolver := &fakeResolver{rects: map[string][]merge.Rect{
		"alice": {{X: 0, Y: 0, Width: 10, Height: 10}},
	}}
	renderer := newRecordingRenderer()
	ov := New(resolver, renderer)

	if err := ov.HighlightRange("c", span("alice"), merge.Live, Options{Caret: true}); err != nil {
		t.Fatalf("Failed to place highlight: %v", err)
	}

	ov.Boop("c")

	deadline := time.Now().Add(labelFadeDelay + 2*time.Second)
	for time.Now().Before(deadline) {
		h, _ := renderer.get("c")
		if h.Caret != nil && !h.Caret.LabelVisible {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("Expected label to fade out after the delay")
}
