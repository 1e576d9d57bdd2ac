// Package plaintext is a reference implementation of the merge module
// contract over a flat text document. It exists for the headless agent and
// for tests; the production module is loaded externally and stays opaque.
package plaintext

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fivetentaylor/pointy-sub000/internal/merge"
	"github.com/fivetentaylor/pointy-sub000/internal/operations"
)

const (
	charWidth   = 8.0
	lineHeight  = 16.0
	charsPerRow = 80
)

type cell struct {
	id operations.ID
	ch rune
}

// Module materializes inserts and deletes over a single text buffer and
// keeps a linear revision history for addresses and scrubbing.
type Module struct {
	author    string
	cells     []cell
	log       []operations.Operation
	revisions []string
	addresses map[merge.Address]int
	undone    []operations.Operation
	nextSeq   int
	scrubMax  int
	onFatal   merge.FatalHandler
	closed    bool
}

// New constructs a replica for the given author identity.
func New(authorID string) *Module {
	return &Module{
		author:    authorID,
		revisions: []string{""},
		addresses: make(map[merge.Address]int),
		nextSeq:   1,
	}
}

// Loader returns a merge.Loader producing plaintext replicas.
func Loader() merge.Loader {
	return merge.LoaderFunc(func(ctx context.Context, authorID string, onFatal merge.FatalHandler) (merge.Module, error) {
		m := New(authorID)
		m.onFatal = onFatal
		return m, nil
	})
}

// Text returns the live document text.
func (m *Module) Text() string {
	var b strings.Builder
	for _, c := range m.cells {
		b.WriteRune(c.ch)
	}
	return b.String()
}

// Checkpoint registers the current revision under an address so it can be
// rendered historically later.
func (m *Module) Checkpoint(addr merge.Address) {
	m.addresses[addr] = len(m.revisions) - 1
}

// FailFatally drives the unrecoverable-failure escalation path.
func (m *Module) FailFatally(reason string) {
	if m.onFatal != nil {
		m.onFatal(reason)
	}
}

func (m *Module) Apply(op operations.Operation) error {
	if m.closed {
		return merge.ErrModuleClosed
	}

	switch op.Opcode {
	case operations.OpcodeBatch:
		ops, err := op.BatchOps()
		if err != nil {
			return err
		}
		for _, sub := range ops {
			if err := m.Apply(sub); err != nil {
				return err
			}
		}
		return nil

	case operations.OpcodeSnapshot:
		var text string
		if len(op.Payload) > 0 {
			if err := unmarshalPayload(op.Payload[0], &text); err != nil {
				return err
			}
		}
		m.cells = m.cells[:0]
		for _, r := range text {
			m.cells = append(m.cells, cell{id: op.ID, ch: r})
		}

	case operations.OpcodeInsert:
		if len(op.Payload) == 0 {
			return operations.ErrInvalidOperation
		}
		var text string
		if err := unmarshalPayload(op.Payload[0], &text); err != nil {
			return err
		}
		for _, r := range text {
			m.cells = append(m.cells, cell{id: op.ID, ch: r})
		}

	case operations.OpcodeDelete:
		if len(op.Payload) == 0 {
			return operations.ErrInvalidOperation
		}
		var n int
		if err := unmarshalPayload(op.Payload[0], &n); err != nil {
			return err
		}
		if n > len(m.cells) {
			n = len(m.cells)
		}
		m.cells = m.cells[:len(m.cells)-n]

	default:
		// Opaque to this replica; recorded for history only.
	}

	m.observeSeq(op.ID)
	m.log = append(m.log, op)
	m.revisions = append(m.revisions, m.Text())
	return nil
}

func (m *Module) observeSeq(id operations.ID) {
	if operations.BaseAuthor(id.Author) == m.author && id.Seq >= m.nextSeq {
		m.nextSeq = id.Seq + 1
	}
}

func (m *Module) nextID() operations.ID {
	id := operations.ID{Author: m.author, Seq: m.nextSeq}
	m.nextSeq++
	return id
}

func (m *Module) IndexForPosition(id operations.ID) (int, error) {
	if m.closed {
		return 0, merge.ErrModuleClosed
	}
	for i, c := range m.cells {
		if c.id == id {
			return i, nil
		}
	}
	return 0, merge.ErrNoSuchPosition
}

func (m *Module) PositionForIndex(index int) (operations.ID, error) {
	if m.closed {
		return operations.ID{}, merge.ErrModuleClosed
	}
	if index < 0 || index >= len(m.cells) {
		return operations.ID{}, merge.ErrOutOfRange
	}
	return m.cells[index].id, nil
}

func (m *Module) Render() (string, error) {
	if m.closed {
		return "", merge.ErrModuleClosed
	}
	return m.Text(), nil
}

func (m *Module) RenderAt(addr merge.Address) (string, error) {
	text, err := m.textAt(addr)
	if err != nil {
		return "", err
	}
	return text, nil
}

func (m *Module) RenderDiff(addr merge.Address, highlight bool) (string, error) {
	old, err := m.textAt(addr)
	if err != nil {
		return "", err
	}
	if !highlight {
		return m.Text(), nil
	}
	return fmt.Sprintf("<del>%s</del><ins>%s</ins>", old, m.Text()), nil
}

func (m *Module) RenderDiffBetween(base, target merge.Address) (string, error) {
	from, err := m.textAt(base)
	if err != nil {
		return "", err
	}
	to, err := m.textAt(target)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("<del>%s</del><ins>%s</ins>", from, to), nil
}

func (m *Module) RenderXRay() (string, error) {
	if m.closed {
		return "", merge.ErrModuleClosed
	}
	return "<xray>" + m.Text() + "</xray>", nil
}

func (m *Module) Plaintext() (string, error) {
	if m.closed {
		return "", merge.ErrModuleClosed
	}
	return m.Text(), nil
}

func (m *Module) textAt(addr merge.Address) (string, error) {
	if m.closed {
		return "", merge.ErrModuleClosed
	}
	if addr == merge.Live {
		return m.Text(), nil
	}
	rev, ok := m.addresses[addr]
	if !ok {
		return "", merge.ErrUnknownAddress
	}
	return m.revisions[rev], nil
}

func (m *Module) CanUndo() (bool, error) {
	if m.closed {
		return false, merge.ErrModuleClosed
	}
	return len(m.log) > 0, nil
}

func (m *Module) CanRedo() (bool, error) {
	if m.closed {
		return false, merge.ErrModuleClosed
	}
	return len(m.undone) > 0, nil
}

// Undo produces a corrective operation that restores the previous revision.
func (m *Module) Undo() (operations.Operation, error) {
	can, err := m.CanUndo()
	if err != nil {
		return operations.Operation{}, err
	}
	if !can {
		return operations.Operation{}, merge.ErrNothingToUndo
	}

	last := m.log[len(m.log)-1]
	target := m.revisions[len(m.revisions)-2]
	op, err := m.replaceAllOp(target)
	if err != nil {
		return operations.Operation{}, err
	}
	m.undone = append(m.undone, last)
	return op, nil
}

func (m *Module) Redo() (operations.Operation, error) {
	can, err := m.CanRedo()
	if err != nil {
		return operations.Operation{}, err
	}
	if !can {
		return operations.Operation{}, merge.ErrNothingToRedo
	}

	op := m.undone[len(m.undone)-1]
	m.undone = m.undone[:len(m.undone)-1]
	return op, nil
}

func (m *Module) ScrubInit(sel *merge.Span, wholeDocument bool) (int, error) {
	if m.closed {
		return 0, merge.ErrModuleClosed
	}

	max := len(m.revisions) - 1
	if !wholeDocument && sel != nil {
		width, err := m.spanWidth(*sel)
		if err != nil {
			return 0, err
		}
		if width < max {
			max = width
		}
	}
	m.scrubMax = max
	return max, nil
}

func (m *Module) ScrubTo(offset int) (merge.ScrubFrame, error) {
	if m.closed {
		return merge.ScrubFrame{}, merge.ErrModuleClosed
	}
	if offset < 0 || offset > m.scrubMax {
		return merge.ScrubFrame{}, merge.ErrOutOfRange
	}

	// Indexes are in runes, matching the cell positions the surface
	// splices by; byte offsets would tear multibyte characters.
	current := []rune(m.Text())
	target := []rune(m.revisions[offset])
	prefix := commonPrefix(current, target)

	frame := merge.ScrubFrame{
		From: prefix,
		To:   len(current),
		HTML: string(target[prefix:]),
	}
	if len(m.cells) > 0 {
		last := m.cells[len(m.cells)-1].id
		frame.Cursor = merge.Span{Start: last, End: last}
	}
	return frame, nil
}

func (m *Module) ScrubRevert(offset int) (operations.Operation, error) {
	if m.closed {
		return operations.Operation{}, merge.ErrModuleClosed
	}
	if offset < 0 || offset > m.scrubMax {
		return operations.Operation{}, merge.ErrOutOfRange
	}
	return m.replaceAllOp(m.revisions[offset])
}

func (m *Module) RewindSpan(span merge.Span, addr merge.Address) (operations.Operation, error) {
	if m.closed {
		return operations.Operation{}, merge.ErrModuleClosed
	}

	start, err := m.IndexForPosition(span.Start)
	if err != nil {
		return operations.Operation{}, err
	}
	end, err := m.IndexForPosition(span.End)
	if err != nil {
		return operations.Operation{}, err
	}
	if end < start {
		start, end = end, start
	}

	runes := []rune(m.Text())
	if end+1 > len(runes) {
		end = len(runes) - 1
	}
	return m.replaceAllOp(string(runes[:start]) + string(runes[end+1:]))
}

// replaceAllOp builds a batch that clears the document and inserts the
// target text, the module's generic "make it so" corrective operation.
func (m *Module) replaceAllOp(target string) (operations.Operation, error) {
	ops := []operations.Operation{
		operations.NewDelete(m.nextID(), len(m.cells)),
		operations.NewInsert(m.nextID(), target),
	}
	return operations.NewBatch(m.nextID(), ops)
}

func (m *Module) RangeFor(span merge.Span) ([]merge.Rect, error) {
	if m.closed {
		return nil, merge.ErrModuleClosed
	}

	start, err := m.IndexForPosition(span.Start)
	if err != nil {
		return nil, err
	}
	end, err := m.IndexForPosition(span.End)
	if err != nil {
		return nil, err
	}
	if end < start {
		start, end = end, start
	}
	return rowRects(start, end), nil
}

func (m *Module) RangeForAddress(span merge.Span, addr merge.Address) ([]merge.Rect, error) {
	if _, err := m.textAt(addr); err != nil {
		return nil, err
	}
	return m.RangeFor(span)
}

// rowRects lays indices out on a fixed character grid, one rect per row
// touched by the inclusive range [start, end].
func rowRects(start, end int) []merge.Rect {
	var rects []merge.Rect
	for i := start; i <= end; {
		row := i / charsPerRow
		rowEnd := (row + 1) * charsPerRow
		last := end
		if last >= rowEnd {
			last = rowEnd - 1
		}
		rects = append(rects, merge.Rect{
			X:      float64(i%charsPerRow) * charWidth,
			Y:      float64(row) * lineHeight,
			Width:  float64(last-i+1) * charWidth,
			Height: lineHeight,
		})
		i = last + 1
	}
	return rects
}

func (m *Module) spanWidth(span merge.Span) (int, error) {
	start, err := m.IndexForPosition(span.Start)
	if err != nil {
		return 0, err
	}
	end, err := m.IndexForPosition(span.End)
	if err != nil {
		return 0, err
	}
	if end < start {
		start, end = end, start
	}
	return end - start + 1, nil
}

func (m *Module) Stats() (merge.Stats, error) {
	if m.closed {
		return merge.Stats{}, merge.ErrModuleClosed
	}
	text := m.Text()
	return merge.Stats{
		Characters: len([]rune(text)),
		Words:      len(strings.Fields(text)),
		Operations: len(m.log),
	}, nil
}

func (m *Module) Close() error {
	m.closed = true
	return nil
}

func unmarshalPayload(raw json.RawMessage, v interface{}) error {
	return json.Unmarshal(raw, v)
}

func commonPrefix(a, b []rune) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}
