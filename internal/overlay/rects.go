package overlay

import (
	"sort"

	"github.com/fivetentaylor/pointy-sub000/internal/merge"
)

// mergeRects collapses rectangles that mutually overlap by more than tol
// pixels on both axes into the bounding rectangle of the group, repeating
// until stable. It returns the merged set ordered by (Y, X) and the single
// largest merged rectangle by area.
func mergeRects(rects []merge.Rect, tol float64) ([]merge.Rect, merge.Rect) {
	merged := append([]merge.Rect(nil), rects...)

	for {
		changed := false
		for i := 0; i < len(merged) && !changed; i++ {
			for j := i + 1; j < len(merged); j++ {
				if overlapsBeyond(merged[i], merged[j], tol) {
					merged[i] = union(merged[i], merged[j])
					merged = append(merged[:j], merged[j+1:]...)
					changed = true
					break
				}
			}
		}
		if !changed {
			break
		}
	}

	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Y != merged[j].Y {
			return merged[i].Y < merged[j].Y
		}
		return merged[i].X < merged[j].X
	})

	var largest merge.Rect
	for _, r := range merged {
		if area(r) > area(largest) {
			largest = r
		}
	}
	return merged, largest
}

// overlapsBeyond reports whether two rectangles overlap by more than tol
// pixels on both axes.
func overlapsBeyond(a, b merge.Rect, tol float64) bool {
	overlapX := min(a.X+a.Width, b.X+b.Width) - max(a.X, b.X)
	overlapY := min(a.Y+a.Height, b.Y+b.Height) - max(a.Y, b.Y)
	return overlapX > tol && overlapY > tol
}

func union(a, b merge.Rect) merge.Rect {
	x1 := min(a.X, b.X)
	y1 := min(a.Y, b.Y)
	x2 := max(a.X+a.Width, b.X+b.Width)
	y2 := max(a.Y+a.Height, b.Y+b.Height)
	return merge.Rect{X: x1, Y: y1, Width: x2 - x1, Height: y2 - y1}
}

func area(r merge.Rect) float64 {
	return r.Width * r.Height
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func max(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
