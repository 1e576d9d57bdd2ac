package engine

import (
	"github.com/fivetentaylor/pointy-sub000/internal/merge"
)

// scrubState is the engine's scrub sub-state: the prepared offset range,
// the current offset, and whether the session is scoped to the whole
// document.
type scrubState struct {
	max    int
	offset int
	whole  bool
}

// ScrubInit prepares a bounded range [0, max] of selectable revision
// offsets, scoped to the current selection unless the whole document is
// requested. Once a session has been scoped to the whole document, later
// inits in the same session keep that scope.
func (e *Engine) ScrubInit(wholeDocument bool) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.scrub != nil && e.scrub.whole {
		wholeDocument = true
	}

	var sel *merge.Span
	if !wholeDocument && e.selection != nil {
		s := *e.selection
		sel = &s
	}

	e.modMu.Lock()
	if e.mod == nil {
		e.modMu.Unlock()
		return 0, ErrModuleNotReady
	}
	max, err := e.mod.ScrubInit(sel, wholeDocument)
	e.modMu.Unlock()
	if err != nil {
		e.logger.LogModuleError("scrubInit", err)
		return 0, err
	}

	e.scrub = &scrubState{max: max, offset: max, whole: wholeDocument}
	if e.mode != ModeScrub {
		e.mode = ModeScrub
		e.notifyLocked("mode", string(ModeScrub))
		e.applyModePolicyLocked()
	}
	return max, nil
}

// ScrubTo materializes offset n, splicing only the affected sub-range of
// rendered content and restoring the caret to the module-reported span.
func (e *Engine) ScrubTo(n int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.scrub == nil {
		return ErrNotScrubbing
	}

	e.modMu.Lock()
	if e.mod == nil {
		e.modMu.Unlock()
		return ErrModuleNotReady
	}
	frame, err := e.mod.ScrubTo(n)
	e.modMu.Unlock()
	if err != nil {
		e.logger.LogModuleError("scrubTo", err)
		return err
	}

	e.scrub.offset = n
	e.cfg.Surface.Splice(frame.From, frame.To, frame.HTML)
	e.cfg.Surface.SetCaret(frame.Cursor)
	e.overlay.LayoutChanged()
	return nil
}

// ScrubRevert sends a single corrective operation bringing the live
// document to the scrubbed offset, then returns to live editing.
func (e *Engine) ScrubRevert() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.scrub == nil {
		return ErrNotScrubbing
	}

	e.modMu.Lock()
	if e.mod == nil {
		e.modMu.Unlock()
		return ErrModuleNotReady
	}
	op, err := e.mod.ScrubRevert(e.scrub.offset)
	e.modMu.Unlock()
	if err != nil {
		e.logger.LogModuleError("scrubRevert", err)
		return err
	}

	if err := e.sendOpLocked(op); err != nil {
		return err
	}
	e.resetAddressLocked()
	return nil
}

// ScrubExit discards scrub state and returns to live editing without
// sending anything.
func (e *Engine) ScrubExit() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.scrub == nil && e.mode != ModeScrub {
		return
	}
	e.resetAddressLocked()
}
