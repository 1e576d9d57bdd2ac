package engine

import "time"

// DebugState is an explicit snapshot of the engine for inspection and test
// harnesses, in place of a global debug handle.
type DebugState struct {
	SessionID      string
	AuthorID       string
	Connected      bool
	Loaded         bool
	Syncing        bool
	Enabled        bool
	Editing        bool
	Mode           Mode
	Address        Address
	BaseAddress    Address
	PendingOps     int
	BufferedFrames int
	Authors        []AuthorInfo
	LastEditAt     time.Time
	Reconnects     int
}

// DebugState captures the engine's current state.
func (e *Engine) DebugState() DebugState {
	e.mu.Lock()
	defer e.mu.Unlock()

	pending, err := e.cfg.Store.RemainingOperations(e.cfg.DocID)
	if err != nil {
		pending = -1
	}

	return DebugState{
		SessionID:      e.cfg.SessionID,
		AuthorID:       e.authorID,
		Connected:      e.connected,
		Loaded:         e.loaded,
		Syncing:        e.syncing,
		Enabled:        e.enabled,
		Editing:        e.editing,
		Mode:           e.mode,
		Address:        e.address,
		BaseAddress:    e.baseAddress,
		PendingOps:     pending,
		BufferedFrames: len(e.recvBuf),
		Authors:        e.authorListLocked(),
		LastEditAt:     e.lastEditAt,
		Reconnects:     e.reconnects,
	}
}
