package operations

import (
	"encoding/json"
	"testing"
)

func TestOperation_WireRoundTrip(t *testing.T) {
	op := NewInsert(ID{Author: "alice", Seq: 3}, "hello")

	data, err := json.Marshal(op)
	if err != nil {
		t.Fatalf("Failed to marshal operation: %v", err)
	}

	want := `[0,["alice",3],"hello"]`
	if string(data) != want {
		t.Errorf("Expected wire form %s, got %s", want, data)
	}

	var decoded Operation
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Failed to unmarshal operation: %v", err)
	}

	if decoded.Opcode != OpcodeInsert {
		t.Errorf("Expected opcode %d, got %d", OpcodeInsert, decoded.Opcode)
	}
	if decoded.ID.Author != "alice" || decoded.ID.Seq != 3 {
		t.Errorf("Expected ID alice@3, got %s", decoded.ID)
	}
	if len(decoded.Payload) != 1 {
		t.Fatalf("Expected 1 payload element, got %d", len(decoded.Payload))
	}
}

func TestOperation_UnmarshalRejectsShortArray(t *testing.T) {
	var op Operation
	err := json.Unmarshal([]byte(`[0]`), &op)
	if err == nil {
		t.Fatal("Expected error for operation with no ID")
	}
}

func TestID_UnmarshalRejectsBadShape(t *testing.T) {
	var id ID
	if err := json.Unmarshal([]byte(`["alice",1,2]`), &id); err == nil {
		t.Fatal("Expected error for 3-element ID")
	}
	if err := json.Unmarshal([]byte(`"alice"`), &id); err == nil {
		t.Fatal("Expected error for non-array ID")
	}
}

func TestBaseAuthor(t *testing.T) {
	if got := BaseAuthor("alice!ai"); got != "alice" {
		t.Errorf("Expected alice, got %q", got)
	}
	if got := BaseAuthor("alice"); got != "alice" {
		t.Errorf("Expected alice, got %q", got)
	}

	id := ID{Author: "bob!ai", Seq: 7}
	if id.Base() != (ID{Author: "bob", Seq: 7}) {
		t.Errorf("Expected bob@7, got %s", id.Base())
	}
}

func TestCompareIDs(t *testing.T) {
	a := ID{Author: "alice", Seq: 1}
	b := ID{Author: "alice", Seq: 2}
	c := ID{Author: "bob", Seq: 1}

	if CompareIDs(a, b) >= 0 {
		t.Error("alice@1 should be less than alice@2")
	}
	if CompareIDs(b, a) <= 0 {
		t.Error("alice@2 should be greater than alice@1")
	}
	if CompareIDs(a, c) >= 0 {
		t.Error("alice@1 should be less than bob@1 (author tie-break)")
	}
	if CompareIDs(a, a) != 0 {
		t.Error("ID should compare equal to itself")
	}
	// Sequence is primary even against a lexicographically smaller author.
	if CompareIDs(ID{Author: "zed", Seq: 1}, ID{Author: "alice", Seq: 2}) >= 0 {
		t.Error("zed@1 should be less than alice@2")
	}
}

func TestBatch(t *testing.T) {
	sub := []Operation{
		NewInsert(ID{Author: "alice", Seq: 1}, "a"),
		NewDelete(ID{Author: "alice", Seq: 2}, 1),
	}
	batch, err := NewBatch(ID{Author: "alice", Seq: 3}, sub)
	if err != nil {
		t.Fatalf("Failed to build batch: %v", err)
	}

	if !batch.IsBatch() {
		t.Fatal("Expected batch opcode")
	}
	if batch.IsEmptyBatch() {
		t.Error("Batch with 2 sub-operations should not be empty")
	}

	ops, err := batch.BatchOps()
	if err != nil {
		t.Fatalf("Failed to decode batch: %v", err)
	}
	if len(ops) != 2 {
		t.Fatalf("Expected 2 sub-operations, got %d", len(ops))
	}
	if ops[0].Opcode != OpcodeInsert || ops[1].Opcode != OpcodeDelete {
		t.Error("Sub-operations decoded with wrong opcodes")
	}
}

func TestIsEmptyBatch(t *testing.T) {
	empty, err := NewBatch(ID{Author: "alice", Seq: 1}, nil)
	if err != nil {
		t.Fatalf("Failed to build batch: %v", err)
	}
	if !empty.IsEmptyBatch() {
		t.Error("Batch with no sub-operations should be empty")
	}

	bare := Operation{Opcode: OpcodeBatch, ID: ID{Author: "alice", Seq: 1}}
	if !bare.IsEmptyBatch() {
		t.Error("Batch with no payload should be empty")
	}

	insert := NewInsert(ID{Author: "alice", Seq: 1}, "x")
	if insert.IsEmptyBatch() {
		t.Error("Insert is not an empty batch")
	}
}

func TestBatchOps_NotABatch(t *testing.T) {
	insert := NewInsert(ID{Author: "alice", Seq: 1}, "x")
	if _, err := insert.BatchOps(); err != ErrNotABatch {
		t.Errorf("Expected ErrNotABatch, got %v", err)
	}
}

func TestLooksLikeOperation(t *testing.T) {
	if !LooksLikeOperation([]byte(` [0,["a",1]]`)) {
		t.Error("Array frame should look like an operation")
	}
	if LooksLikeOperation([]byte(`{"type":"auth"}`)) {
		t.Error("Object frame should not look like an operation")
	}
	if LooksLikeOperation(nil) {
		t.Error("Empty frame should not look like an operation")
	}
}

func TestProvisionalAuthorID(t *testing.T) {
	a := ProvisionalAuthorID("session-1")
	b := ProvisionalAuthorID("session-1")
	c := ProvisionalAuthorID("session-2")

	if a != b {
		t.Error("Same seed should derive the same identity")
	}
	if a == c {
		t.Error("Different seeds should derive different identities")
	}
	if len(a) != 16 {
		t.Errorf("Expected 16 hex chars, got %d", len(a))
	}
}
