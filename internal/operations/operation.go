package operations

import (
	"bytes"
	"encoding/json"
)

// Opcode tags an operation on the wire. The client interprets only the
// snapshot and batch opcodes; everything else is carried opaquely to the
// merge module.
type Opcode int

const (
	OpcodeInsert   Opcode = 0
	OpcodeDelete   Opcode = 1
	OpcodeFormat   Opcode = 2
	OpcodeSnapshot Opcode = 3
	OpcodeBatch    Opcode = 6
)

// Operation is a tagged tuple (opcode, id, ...payload). Its wire form is a
// JSON array [opcode, [author, seq], payload...]; payload elements are kept
// raw since their shape belongs to the merge module.
type Operation struct {
	Opcode  Opcode
	ID      ID
	Payload []json.RawMessage
}

func (op Operation) IsSnapshot() bool {
	return op.Opcode == OpcodeSnapshot
}

func (op Operation) IsBatch() bool {
	return op.Opcode == OpcodeBatch
}

// IsEmptyBatch reports whether the operation is a batch carrying no
// sub-operations. Empty batches must never be transmitted.
func (op Operation) IsEmptyBatch() bool {
	if !op.IsBatch() {
		return false
	}
	if len(op.Payload) == 0 {
		return true
	}
	ops, err := op.BatchOps()
	return err == nil && len(ops) == 0
}

// BatchOps decodes the sub-operations of a batch.
func (op Operation) BatchOps() ([]Operation, error) {
	if !op.IsBatch() {
		return nil, ErrNotABatch
	}
	if len(op.Payload) == 0 {
		return nil, nil
	}
	var ops []Operation
	if err := json.Unmarshal(op.Payload[0], &ops); err != nil {
		return nil, err
	}
	return ops, nil
}

func (op Operation) MarshalJSON() ([]byte, error) {
	parts := make([]json.RawMessage, 0, 2+len(op.Payload))

	opcodeJSON, err := json.Marshal(int(op.Opcode))
	if err != nil {
		return nil, err
	}
	idJSON, err := json.Marshal(op.ID)
	if err != nil {
		return nil, err
	}

	parts = append(parts, opcodeJSON, idJSON)
	parts = append(parts, op.Payload...)
	return json.Marshal(parts)
}

func (op *Operation) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	if len(parts) < 2 {
		return ErrInvalidOperation
	}

	var opcode int
	if err := json.Unmarshal(parts[0], &opcode); err != nil {
		return err
	}
	var id ID
	if err := json.Unmarshal(parts[1], &id); err != nil {
		return err
	}

	op.Opcode = Opcode(opcode)
	op.ID = id
	op.Payload = parts[2:]
	return nil
}

// LooksLikeOperation reports whether a raw frame is an operation rather
// than a typed protocol message. Operations are the only frames encoded as
// top-level JSON arrays.
func LooksLikeOperation(frame []byte) bool {
	trimmed := bytes.TrimLeft(frame, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '['
}

// NewInsert builds an insert operation carrying text. The payload shape
// matches what the merge module expects for opcode 0.
func NewInsert(id ID, text string) Operation {
	payload, _ := json.Marshal(text)
	return Operation{Opcode: OpcodeInsert, ID: id, Payload: []json.RawMessage{payload}}
}

// NewDelete builds a delete operation spanning n positions.
func NewDelete(id ID, n int) Operation {
	payload, _ := json.Marshal(n)
	return Operation{Opcode: OpcodeDelete, ID: id, Payload: []json.RawMessage{payload}}
}

// NewBatch wraps sub-operations into a batch operation.
func NewBatch(id ID, ops []Operation) (Operation, error) {
	payload, err := json.Marshal(ops)
	if err != nil {
		return Operation{}, err
	}
	return Operation{Opcode: OpcodeBatch, ID: id, Payload: []json.RawMessage{payload}}, nil
}
