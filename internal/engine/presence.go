package engine

import (
	"sort"

	"github.com/fivetentaylor/pointy-sub000/internal/merge"
	"github.com/fivetentaylor/pointy-sub000/internal/overlay"
)

// AuthorInfo is the ephemeral presence record for one connected author.
type AuthorInfo struct {
	UserID   string
	AuthorID string
	Color    string
	Name     string
	Editing  bool
}

const cursorHighlightPrefix = "cursor-"

func cursorHighlightID(authorID string) string {
	return cursorHighlightPrefix + authorID
}

// SendCursorUpdate broadcasts this author's current logical range and
// editing flag, and remembers it for re-broadcast after a reconnect.
func (e *Engine) SendCursorUpdate(rng merge.Span) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sel := rng
	e.selection = &sel

	frame := CursorFrame{
		AuthorID: e.authorID,
		UserID:   e.cfg.UserID,
		Name:     e.cfg.Name,
		Color:    e.cfg.Color,
		Range:    rng,
		Editing:  e.editing,
	}
	e.lastCursor = &frame
	e.sendCursorLocked(frame)
}

func (e *Engine) sendCursorLocked(frame CursorFrame) {
	encoded, err := EncodeCursor(frame)
	e.sendLocked(encoded, err)
}

func (e *Engine) handleCursor(frame CursorFrame) {
	e.mu.Lock()
	if frame.AuthorID == e.authorID {
		// Our own cursor echoed back; the local caret is authoritative.
		e.mu.Unlock()
		return
	}

	e.authors[frame.AuthorID] = AuthorInfo{
		UserID:   frame.UserID,
		AuthorID: frame.AuthorID,
		Color:    frame.Color,
		Name:     frame.Name,
		Editing:  frame.Editing,
	}
	e.notifyLocked("authors", e.authorListLocked())
	e.mu.Unlock()

	label := frame.Name
	if label == "" {
		label = frame.AuthorID
	}
	id := cursorHighlightID(frame.AuthorID)
	err := e.overlay.HighlightRange(id, frame.Range, merge.Live, overlay.Options{
		Style: "cursor",
		Caret: true,
		Label: label,
		Color: frame.Color,
	})
	if err != nil {
		e.logger.Debug("Failed to place cursor highlight", map[string]interface{}{
			"author_id": frame.AuthorID,
			"error":     err.Error(),
		})
		return
	}
	e.overlay.Boop(id)
}

func (e *Engine) handleDeleteCursor(frame DeleteCursorFrame) {
	e.mu.Lock()
	delete(e.authors, frame.AuthorID)
	e.notifyLocked("authors", e.authorListLocked())
	e.mu.Unlock()

	e.overlay.Remove(cursorHighlightID(frame.AuthorID))
}

// Authors returns the currently known presence set, ordered by author id.
func (e *Engine) Authors() []AuthorInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.authorListLocked()
}

func (e *Engine) authorListLocked() []AuthorInfo {
	authors := make([]AuthorInfo, 0, len(e.authors))
	for _, info := range e.authors {
		authors = append(authors, info)
	}
	sort.Slice(authors, func(i, j int) bool {
		return authors[i].AuthorID < authors[j].AuthorID
	})
	return authors
}

func (e *Engine) setEditingLocked(editing bool) {
	e.editing = editing
}
