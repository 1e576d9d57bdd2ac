package engine

import (
	"github.com/fivetentaylor/pointy-sub000/internal/merge"
)

// Address aliases the merge module's address type: an opaque token naming a
// point-in-time snapshot, empty for live.
type Address = merge.Address

// Mode is the current purpose of the view.
type Mode string

const (
	ModeEdit    Mode = "edit"
	ModeDiff    Mode = "diff"
	ModeHistory Mode = "history"
	ModePaste   Mode = "paste"
	ModeXRay    Mode = "xray"
	ModeScrub   Mode = "scrub"
)

// SetAddress switches the view to an address and mode. Calling it with the
// current (value, mode) pair is a no-op: no render, no notification.
func (e *Engine) SetAddress(value Address, mode Mode, showDiffHighlights bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if value == e.address && mode == e.mode {
		return
	}
	e.setAddressLocked(value, merge.Live, mode, showDiffHighlights, "")
}

// SetHistoryDiff renders the diff between two historical points.
func (e *Engine) SetHistoryDiff(start, end Address) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.setAddressLocked(end, start, ModeHistory, true, "")
}

// SetAddressDescription attaches a human-readable label to the current
// address, surfaced alongside history views.
func (e *Engine) SetAddressDescription(desc string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.addressDescription = desc
	e.notifyLocked("addressDescription", desc)
}

// AddressDescription returns the label attached to the current address.
func (e *Engine) AddressDescription() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.addressDescription
}

// ResetAddress clears address, base address and description and returns to
// live editing.
func (e *Engine) ResetAddress() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resetAddressLocked()
}

func (e *Engine) resetAddressLocked() {
	e.scrub = nil
	e.setAddressLocked(merge.Live, merge.Live, ModeEdit, false, "")
}

// ToggleXRayMode flips between the inspection view and live editing, with
// the address cleared either way.
func (e *Engine) ToggleXRayMode() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.mode == ModeXRay {
		e.setAddressLocked(merge.Live, merge.Live, ModeEdit, false, "")
		return
	}
	e.setAddressLocked(merge.Live, merge.Live, ModeXRay, false, "")
}

func (e *Engine) setAddressLocked(addr, base Address, mode Mode, showDiffHighlights bool, desc string) {
	e.address = addr
	e.baseAddress = base
	e.mode = mode
	e.showDiffHighlights = showDiffHighlights
	e.addressDescription = desc

	e.notifyLocked("address", string(addr))
	e.notifyLocked("mode", string(mode))
	e.renderLocked()
}

// renderLocked materializes the view for the current mode and address and
// reapplies the editability policy. Render failures are logged and the
// previous surface content is left in place.
func (e *Engine) renderLocked() {
	e.applyModePolicyLocked()

	e.modMu.Lock()
	mod := e.mod
	if mod == nil {
		e.modMu.Unlock()
		return
	}

	var html string
	var err error
	call := "render"
	switch {
	case e.mode == ModeXRay:
		call = "renderXRay"
		html, err = mod.RenderXRay()
	case e.mode == ModeHistory && e.baseAddress != merge.Live:
		call = "renderDiffBetween"
		html, err = mod.RenderDiffBetween(e.baseAddress, e.address)
	case (e.mode == ModeDiff || e.mode == ModeHistory) && e.address != merge.Live:
		call = "renderDiff"
		html, err = mod.RenderDiff(e.address, e.showDiffHighlights)
	case e.address != merge.Live:
		call = "renderAt"
		html, err = mod.RenderAt(e.address)
	default:
		html, err = mod.Render()
	}
	e.modMu.Unlock()

	if err != nil {
		e.logger.LogModuleError(call, err)
		return
	}

	e.cfg.Surface.Render(html)
	e.overlay.LayoutChanged()
}

// applyModePolicyLocked enforces the mode invariant: the editable surface
// is enabled only in edit mode at the live address, once loaded.
func (e *Engine) applyModePolicyLocked() {
	enabled := e.loaded && e.mode == ModeEdit && e.address == merge.Live
	if enabled == e.enabled {
		return
	}
	e.enabled = enabled
	e.cfg.Surface.SetEditable(enabled)
	e.notifyLocked("enabled", enabled)
}
