// Package engine is the client-side synchronization state machine for one
// open document: connection lifecycle, receive-buffer drain loop, offline
// replay, addressing modes, presence, and orchestration of the external
// merge module.
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"

	"github.com/fivetentaylor/pointy-sub000/internal/logging"
	"github.com/fivetentaylor/pointy-sub000/internal/merge"
	"github.com/fivetentaylor/pointy-sub000/internal/operations"
	"github.com/fivetentaylor/pointy-sub000/internal/opstore"
	"github.com/fivetentaylor/pointy-sub000/internal/overlay"
)

const moduleRetryDelay = 50 * time.Millisecond

// reconnectInterval is a variable so tests can shorten the poller cycle.
var reconnectInterval = 2 * time.Second

// Surface is the editable document view the engine drives. Implementations
// own all rendering specifics.
type Surface interface {
	Render(html string)
	SetEditable(enabled bool)
	// Splice replaces the rendered sub-range [from, to) with html.
	Splice(from, to int, html string)
	SetCaret(span merge.Span)
}

// NopSurface discards all rendering. Useful for headless operation.
type NopSurface struct{}

func (NopSurface) Render(html string) {}

func (NopSurface) SetEditable(enabled bool) {}

func (NopSurface) Splice(from, to int, html string) {}

func (NopSurface) SetCaret(span merge.Span) {}

// Config wires one engine instance to its document.
type Config struct {
	DocID     string
	Endpoint  string // websocket URL base; the document id is appended
	SessionID string
	UserID    string
	Name      string
	Color     string

	Store   *opstore.Store
	Loader  merge.Loader
	Surface Surface
	// Renderer draws overlay highlights; nil means headless.
	Renderer overlay.Renderer
	// OnFatal is invoked on unrecoverable module failure. The session
	// cannot continue; the host should surface a blocking reload notice.
	OnFatal merge.FatalHandler
}

type bufferEntry struct {
	loaded      bool
	op          operations.Operation
	forceRender bool
}

// Engine is a long-lived state-machine object, one per open document,
// constructed with New and explicitly disposed with Close.
type Engine struct {
	cfg     Config
	logger  *logging.Logger
	overlay *overlay.Overlay

	mu                 sync.Mutex
	active             bool
	conn               *connection
	authorID           string
	connected          bool
	loaded             bool
	syncing            bool
	enabled            bool
	editing            bool
	mode               Mode
	address            Address
	baseAddress        Address
	addressDescription string
	showDiffHighlights bool
	selection          *merge.Span
	lastCursor         *CursorFrame
	authors            map[string]AuthorInfo
	recvBuf            []bufferEntry
	drainScheduled     bool
	scrub              *scrubState
	lastEditAt         time.Time
	reconnects         int
	pollerStop         chan struct{}
	watchCancel        context.CancelFunc

	// The merge module is a single mutable resource, serially accessed.
	// modGen tags each load so an overlapping older load cannot clobber
	// a newer identity's module.
	modMu  sync.Mutex
	mod    merge.Module
	modGen int

	subMu   sync.Mutex
	subs    map[string]map[int]func(interface{})
	subNext int

	// Notifications are edge-triggered, so they coalesce per attribute
	// instead of queueing: subscribers always see the latest value and a
	// burst can never overflow into silent drops.
	notifyMu    sync.Mutex
	notifyOrder []string
	notifyVals  map[string]interface{}
	notifyWake  chan struct{}
	done        chan struct{}
}

// New constructs an engine for one document. The engine adopts any cached
// author identity immediately; the canonical identity arrives with the
// auth handshake after Connect.
func New(cfg Config) (*Engine, error) {
	if cfg.DocID == "" {
		return nil, fmt.Errorf("engine: missing document id")
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("engine: missing endpoint")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("engine: missing operation store")
	}
	if cfg.Loader == nil {
		return nil, fmt.Errorf("engine: missing module loader")
	}
	if cfg.Surface == nil {
		cfg.Surface = NopSurface{}
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}

	e := &Engine{
		cfg:        cfg,
		logger:     logging.NewLogger("engine"),
		active:     true,
		mode:       ModeEdit,
		authors:    make(map[string]AuthorInfo),
		subs:       make(map[string]map[int]func(interface{})),
		notifyVals: make(map[string]interface{}),
		notifyWake: make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	e.overlay = overlay.New(e, cfg.Renderer)
	go e.dispatchNotes()

	if author, err := cfg.Store.AuthorID(cfg.DocID); err == nil && author != "" {
		e.authorID = author
	}

	cfg.Store.OnAuthorChange(func(docID, author string) {
		if docID == e.cfg.DocID {
			e.adoptAuthor(author)
		}
	})

	watchCtx, cancel := context.WithCancel(context.Background())
	e.watchCancel = cancel
	if err := cfg.Store.WatchAuthor(watchCtx, cfg.DocID); err != nil {
		e.logger.Warn("Cross-instance author watch unavailable", map[string]interface{}{
			"doc_id": cfg.DocID,
			"error":  err.Error(),
		})
	}

	return e, nil
}

// Overlay exposes the highlight overlay so callers can place their own
// named highlights (comments, search results, diff markers).
func (e *Engine) Overlay() *overlay.Overlay {
	return e.overlay
}

// Connect opens the duplex socket to the document endpoint, sends the
// subscribe frame and resets addressing to live. On failure the reconnect
// poller takes over.
func (e *Engine) Connect(ctx context.Context) error {
	e.mu.Lock()
	if !e.active {
		e.mu.Unlock()
		return ErrEngineClosed
	}
	if e.connected {
		e.mu.Unlock()
		return nil
	}
	e.stopPollerLocked()
	docID := e.cfg.DocID
	author := e.authorID
	endpoint := strings.TrimSuffix(e.cfg.Endpoint, "/") + "/" + docID
	e.mu.Unlock()

	conn, err := dial(ctx, endpoint)
	if err != nil {
		e.mu.Lock()
		if e.active {
			e.startPollerLocked()
		}
		e.mu.Unlock()
		return err
	}

	e.mu.Lock()
	e.conn = conn
	e.connected = true
	e.notifyLocked("connected", true)

	frame, encErr := EncodeSubscribe(docID, author)
	e.sendLocked(frame, encErr)
	e.resetAddressLocked()
	e.mu.Unlock()

	conn.start(e.handleFrame, e.handleClose)
	e.logger.LogConnect(docID, author)
	return nil
}

// Close tears the engine down: poller, connection, module, watchers.
func (e *Engine) Close() error {
	e.mu.Lock()
	if !e.active {
		e.mu.Unlock()
		return nil
	}
	e.active = false
	e.stopPollerLocked()
	conn := e.conn
	e.conn = nil
	e.mu.Unlock()

	if e.watchCancel != nil {
		e.watchCancel()
	}
	if conn != nil {
		conn.close()
	}

	e.modMu.Lock()
	if e.mod != nil {
		e.mod.Close()
		e.mod = nil
	}
	e.modMu.Unlock()

	close(e.done)
	return nil
}

func (e *Engine) handleClose(err error) {
	e.mu.Lock()
	e.conn = nil
	e.connected = false
	e.loaded = false
	e.editing = false
	// Presence is stale across connections; the server will resend it.
	// The pending queue is untouched, it is exactly what gets replayed.
	e.authors = make(map[string]AuthorInfo)
	e.notifyLocked("connected", false)
	e.notifyLocked("loaded", false)
	e.notifyLocked("authors", e.authorListLocked())
	active := e.active
	if active {
		e.startPollerLocked()
	}
	docID := e.cfg.DocID
	e.mu.Unlock()

	e.overlay.RemoveHighlightsWithPrefix(cursorHighlightPrefix)
	e.logger.LogDisconnect(docID, err)
}

func (e *Engine) startPollerLocked() {
	if e.pollerStop != nil {
		return
	}
	stop := make(chan struct{})
	e.pollerStop = stop
	bo := backoff.NewConstantBackOff(reconnectInterval)
	go e.pollReconnect(stop, bo)
}

func (e *Engine) stopPollerLocked() {
	if e.pollerStop == nil {
		return
	}
	close(e.pollerStop)
	e.pollerStop = nil
}

// pollReconnect waits one interval and makes a single reconnect attempt;
// the poller self-cancels once the attempt is made. A failed attempt
// schedules the next poller from Connect.
func (e *Engine) pollReconnect(stop chan struct{}, bo backoff.BackOff) {
	select {
	case <-stop:
		return
	case <-time.After(bo.NextBackOff()):
	}

	e.mu.Lock()
	if !e.active {
		e.mu.Unlock()
		return
	}
	if e.pollerStop == stop {
		e.pollerStop = nil
	}
	e.reconnects++
	attempt := e.reconnects
	e.mu.Unlock()

	e.logger.LogReconnectAttempt(e.cfg.DocID, attempt)
	e.Connect(context.Background())
}

func (e *Engine) handleFrame(data []byte) {
	msg, err := DecodeInbound(data)
	if err != nil {
		e.logger.Warn("Dropping undecodable frame", map[string]interface{}{
			"doc_id": e.cfg.DocID,
			"error":  err.Error(),
		})
		return
	}

	switch msg.Kind {
	case KindAuth:
		e.handleAuth(msg.Auth)
	case KindOperation:
		e.handleOperation(msg.Op)
	case KindCursor, KindNewCursor:
		e.handleCursor(msg.Cursor)
	case KindDeleteCursor:
		e.handleDeleteCursor(msg.DeleteCursor)
	case KindEvent:
		e.handleEvent(msg.Event)
	}
}

func (e *Engine) handleEvent(frame EventFrame) {
	switch frame.Event {
	case EventLoaded:
		e.mu.Lock()
		e.recvBuf = append(e.recvBuf, bufferEntry{loaded: true})
		e.scheduleDrainLocked(0)
		e.mu.Unlock()
	case EventPing:
		e.SendEvent(EventPong, nil)
	case EventPong:
		// Keepalive reply, nothing to do.
	default:
		e.logger.Debug("Ignoring event", map[string]interface{}{"event": frame.Event})
	}
}

// handleAuth adopts the canonical author identity assigned by the server
// and (re)initializes the merge module under it. Safe to run multiple
// times per connection lifetime.
func (e *Engine) handleAuth(frame AuthFrame) {
	e.mu.Lock()
	e.authorID = frame.AuthorID
	e.editing = false
	e.notifyLocked("author", frame.AuthorID)
	e.mu.Unlock()

	if err := e.cfg.Store.SetAuthorID(context.Background(), e.cfg.DocID, frame.AuthorID); err != nil {
		e.logger.Warn("Failed to persist author identity", map[string]interface{}{
			"doc_id": e.cfg.DocID,
			"error":  err.Error(),
		})
	}

	e.initModule(frame.AuthorID)
}

// adoptAuthor follows an identity change announced by another instance of
// the same document. Last write wins.
func (e *Engine) adoptAuthor(author string) {
	e.mu.Lock()
	if author == e.authorID {
		e.mu.Unlock()
		return
	}
	e.authorID = author
	e.notifyLocked("author", author)
	e.mu.Unlock()

	e.initModule(author)
}

// initModule tears down any existing module instance and starts the
// asynchronous load of a fresh one for the given identity. Buffered
// inbound operations wait in the receive buffer until the load completes.
func (e *Engine) initModule(author string) {
	e.modMu.Lock()
	if e.mod != nil {
		e.mod.Close()
		e.mod = nil
	}
	e.modGen++
	gen := e.modGen
	e.modMu.Unlock()

	go func() {
		mod, err := e.cfg.Loader.Load(context.Background(), author, e.fatal)
		if err != nil {
			if e.staleLoad(gen) {
				return
			}
			e.logger.LogModuleError("load", err)
			e.fatal("merge module failed to initialize: " + err.Error())
			return
		}

		e.mu.Lock()
		if !e.active {
			e.mu.Unlock()
			mod.Close()
			return
		}
		e.modMu.Lock()
		if gen != e.modGen {
			// A newer identity started loading while this one was in
			// flight; the slower result is discarded, never installed.
			e.modMu.Unlock()
			e.mu.Unlock()
			mod.Close()
			return
		}
		e.mod = mod
		e.modMu.Unlock()
		e.scheduleDrainLocked(0)
		e.mu.Unlock()
	}()
}

func (e *Engine) staleLoad(gen int) bool {
	e.modMu.Lock()
	defer e.modMu.Unlock()
	return gen != e.modGen
}

func (e *Engine) fatal(reason string) {
	e.logger.Error("Unrecoverable merge module failure", map[string]interface{}{
		"doc_id": e.cfg.DocID,
		"reason": reason,
	})
	e.notify("fatal", reason)
	if e.cfg.OnFatal != nil {
		e.cfg.OnFatal(reason)
	}
}

// handleOperation buffers an inbound operation and schedules a deferred
// drain. The pending record for the same ID is removed the moment it is
// observed echoed back; a render is owed only for snapshots and for
// operations that were not an acknowledgment of our own pending write.
func (e *Engine) handleOperation(op operations.Operation) {
	e.mu.Lock()
	defer e.mu.Unlock()

	force := op.IsSnapshot()
	if !force {
		existed, err := e.cfg.Store.RemoveOperation(e.cfg.DocID, op.ID)
		if err != nil {
			e.logger.Warn("Failed to check pending record", map[string]interface{}{
				"doc_id": e.cfg.DocID,
				"id":     op.ID.String(),
				"error":  err.Error(),
			})
		}
		force = !existed
	}

	e.recvBuf = append(e.recvBuf, bufferEntry{op: op, forceRender: force})
	e.scheduleDrainLocked(0)
}

func (e *Engine) scheduleDrainLocked(delay time.Duration) {
	if e.drainScheduled {
		return
	}
	e.drainScheduled = true
	time.AfterFunc(delay, e.drain)
}

// drain pops the receive buffer in arrival order, applying operations to
// the merge module and running the post-load sequence for loaded entries.
// If the module is not yet initialized the whole drain is rescheduled;
// inbound operations are never discarded for lack of a ready module.
func (e *Engine) drain() {
	e.mu.Lock()

	e.drainScheduled = false
	renderNeeded := false
	var boops []string

	for len(e.recvBuf) > 0 {
		entry := e.recvBuf[0]

		e.modMu.Lock()
		mod := e.mod
		if mod == nil {
			// Nothing is discarded; the whole drain waits for the module.
			e.modMu.Unlock()
			e.scheduleDrainLocked(moduleRetryDelay)
			break
		}

		if entry.loaded {
			e.modMu.Unlock()
			e.recvBuf = e.recvBuf[1:]
			e.postLoadLocked()
			continue
		}

		err := mod.Apply(entry.op)
		e.modMu.Unlock()
		e.recvBuf = e.recvBuf[1:]

		if err != nil {
			e.logger.LogModuleError("apply", err)
			continue
		}
		if entry.forceRender {
			renderNeeded = true
			boops = append(boops, cursorHighlightID(operations.BaseAuthor(entry.op.ID.Author)))
		}
	}

	if renderNeeded {
		e.renderLocked()
	}

	if remaining, err := e.cfg.Store.RemainingOperations(e.cfg.DocID); err == nil && remaining == 0 {
		e.setSyncingLocked(false)
	}
	e.mu.Unlock()

	for _, id := range boops {
		e.overlay.Boop(id)
	}
}

// postLoadLocked runs once per connection when the server reports the
// document loaded: replay pending offline operations in store order and
// re-send them, then enable the surface per the current address and
// re-issue remembered presence.
func (e *Engine) postLoadLocked() {
	pending, err := e.cfg.Store.OperationsOrderedByIndex(e.cfg.DocID)
	if err != nil {
		e.logger.Error("Failed to read pending queue", map[string]interface{}{
			"doc_id": e.cfg.DocID,
			"error":  err.Error(),
		})
		pending = nil
	}

	if len(pending) > 0 {
		e.setSyncingLocked(true)
		for _, op := range pending {
			e.modMu.Lock()
			mod := e.mod
			var applyErr error
			if mod != nil {
				applyErr = mod.Apply(op)
			}
			e.modMu.Unlock()
			if applyErr != nil {
				e.logger.LogModuleError("replay", applyErr)
				continue
			}

			frame, encErr := EncodeOp(op)
			e.sendLocked(frame, encErr)
		}
	} else {
		e.setSyncingLocked(false)
	}

	e.loaded = true
	e.notifyLocked("loaded", true)
	e.renderLocked()

	if e.lastCursor != nil {
		cursor := *e.lastCursor
		cursor.AuthorID = e.authorID
		cursor.Editing = e.editing
		e.sendCursorLocked(cursor)
	}
}

// SendOp transmits a local operation: stamps the last-edit time, persists
// it as pending, sends it, and marks this author as editing. Empty batches
// are refused.
func (e *Engine) SendOp(op operations.Operation) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sendOpLocked(op)
}

func (e *Engine) sendOpLocked(op operations.Operation) error {
	if op.IsEmptyBatch() {
		return operations.ErrEmptyBatch
	}

	e.lastEditAt = time.Now()
	if err := e.cfg.Store.StoreOperation(e.cfg.DocID, op); err != nil {
		// Best-effort durability: an unpersisted op is still attempted.
		e.logger.Warn("Failed to persist pending operation", map[string]interface{}{
			"doc_id": e.cfg.DocID,
			"id":     op.ID.String(),
			"error":  err.Error(),
		})
	}
	e.setSyncingLocked(true)

	frame, err := EncodeOp(op)
	e.sendLocked(frame, err)
	e.setEditingLocked(true)
	return nil
}

// SendEvent transmits an application-level event frame.
func (e *Engine) SendEvent(event string, data interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	frame, err := EncodeEvent(event, data)
	e.sendLocked(frame, err)
}

func (e *Engine) sendLocked(frame []byte, err error) {
	if err != nil {
		e.logger.Error("Failed to encode frame", map[string]interface{}{
			"doc_id": e.cfg.DocID,
			"error":  err.Error(),
		})
		return
	}
	if e.conn == nil {
		return
	}
	if sendErr := e.conn.send(frame); sendErr != nil {
		e.logger.LogSendError(e.cfg.DocID, sendErr)
	}
}

// Undo asks the module for the corrective operation reverting the last
// local change and sends it.
func (e *Engine) Undo() error {
	return e.sendCorrective("undo", func(mod merge.Module) (operations.Operation, error) {
		return mod.Undo()
	})
}

// Redo re-applies the most recently undone change.
func (e *Engine) Redo() error {
	return e.sendCorrective("redo", func(mod merge.Module) (operations.Operation, error) {
		return mod.Redo()
	})
}

// RewindSpan sends a corrective operation reverting exactly the given
// span, evaluated at the current address.
func (e *Engine) RewindSpan(span merge.Span) error {
	e.mu.Lock()
	addr := e.address
	e.mu.Unlock()

	return e.sendCorrective("rewindSpan", func(mod merge.Module) (operations.Operation, error) {
		return mod.RewindSpan(span, addr)
	})
}

func (e *Engine) sendCorrective(call string, produce func(mod merge.Module) (operations.Operation, error)) error {
	e.modMu.Lock()
	mod := e.mod
	if mod == nil {
		e.modMu.Unlock()
		return ErrModuleNotReady
	}
	op, err := produce(mod)
	e.modMu.Unlock()
	if err != nil {
		e.logger.LogModuleError(call, err)
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sendOpLocked(op)
}

// CanUndo reports whether the module has something to undo.
func (e *Engine) CanUndo() bool {
	e.modMu.Lock()
	defer e.modMu.Unlock()
	if e.mod == nil {
		return false
	}
	can, err := e.mod.CanUndo()
	return err == nil && can
}

// CanRedo reports whether the module has something to redo.
func (e *Engine) CanRedo() bool {
	e.modMu.Lock()
	defer e.modMu.Unlock()
	if e.mod == nil {
		return false
	}
	can, err := e.mod.CanRedo()
	return err == nil && can
}

// Stats queries document statistics from the module.
func (e *Engine) Stats() (merge.Stats, error) {
	e.modMu.Lock()
	defer e.modMu.Unlock()
	if e.mod == nil {
		return merge.Stats{}, ErrModuleNotReady
	}
	return e.mod.Stats()
}

// RangeFor resolves a live logical range to screen rectangles. Part of the
// overlay.Resolver contract.
func (e *Engine) RangeFor(span merge.Span) ([]merge.Rect, error) {
	e.modMu.Lock()
	defer e.modMu.Unlock()
	if e.mod == nil {
		return nil, ErrModuleNotReady
	}
	return e.mod.RangeFor(span)
}

// RangeForAddress resolves a historical logical range to screen
// rectangles. Part of the overlay.Resolver contract.
func (e *Engine) RangeForAddress(span merge.Span, addr merge.Address) ([]merge.Rect, error) {
	e.modMu.Lock()
	defer e.modMu.Unlock()
	if e.mod == nil {
		return nil, ErrModuleNotReady
	}
	return e.mod.RangeForAddress(span, addr)
}

// IndexForPosition resolves a logical position to its current document
// index. Used by the delta inspector.
func (e *Engine) IndexForPosition(id operations.ID) (int, error) {
	e.modMu.Lock()
	defer e.modMu.Unlock()
	if e.mod == nil {
		return 0, ErrModuleNotReady
	}
	return e.mod.IndexForPosition(id)
}

// PositionForIndex is the inverse of IndexForPosition.
func (e *Engine) PositionForIndex(index int) (operations.ID, error) {
	e.modMu.Lock()
	defer e.modMu.Unlock()
	if e.mod == nil {
		return operations.ID{}, ErrModuleNotReady
	}
	return e.mod.PositionForIndex(index)
}

// Plaintext extracts the live document as plain text.
func (e *Engine) Plaintext() (string, error) {
	e.modMu.Lock()
	defer e.modMu.Unlock()
	if e.mod == nil {
		return "", ErrModuleNotReady
	}
	return e.mod.Plaintext()
}

// Subscribe registers a callback for changes of one attribute (connected,
// loaded, syncing, enabled, mode, address, author, authors, fatal) and
// returns a handle for Unsubscribe.
func (e *Engine) Subscribe(attr string, fn func(value interface{})) int {
	e.subMu.Lock()
	defer e.subMu.Unlock()

	if e.subs[attr] == nil {
		e.subs[attr] = make(map[int]func(interface{}))
	}
	id := e.subNext
	e.subNext++
	e.subs[attr][id] = fn
	return id
}

// Unsubscribe removes a previously registered callback.
func (e *Engine) Unsubscribe(attr string, id int) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	delete(e.subs[attr], id)
}

func (e *Engine) setSyncingLocked(syncing bool) {
	if e.syncing == syncing {
		return
	}
	e.syncing = syncing
	e.notifyLocked("syncing", syncing)
}

// notifyLocked queues a notification without blocking; delivery happens on
// the dispatch goroutine so subscribers can safely call back into the
// engine.
func (e *Engine) notifyLocked(attr string, value interface{}) {
	e.notify(attr, value)
}

// notify records the latest value for the attribute. Re-notifying a queued
// attribute overwrites its value in place, so a burst collapses to one
// delivery carrying the final value.
func (e *Engine) notify(attr string, value interface{}) {
	e.notifyMu.Lock()
	if _, queued := e.notifyVals[attr]; !queued {
		e.notifyOrder = append(e.notifyOrder, attr)
	}
	e.notifyVals[attr] = value
	e.notifyMu.Unlock()

	select {
	case e.notifyWake <- struct{}{}:
	default:
	}
}

func (e *Engine) dispatchNotes() {
	for {
		select {
		case <-e.done:
			return
		case <-e.notifyWake:
		}

		for {
			e.notifyMu.Lock()
			if len(e.notifyOrder) == 0 {
				e.notifyMu.Unlock()
				break
			}
			attr := e.notifyOrder[0]
			e.notifyOrder = e.notifyOrder[1:]
			value := e.notifyVals[attr]
			delete(e.notifyVals, attr)
			e.notifyMu.Unlock()

			e.subMu.Lock()
			fns := make([]func(interface{}), 0, len(e.subs[attr]))
			for _, fn := range e.subs[attr] {
				fns = append(fns, fn)
			}
			e.subMu.Unlock()

			for _, fn := range fns {
				fn(value)
			}
		}
	}
}
