package operations

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

// ID addresses an operation or a logical document position. Author is the
// author identifier, Seq is monotonic per author.
type ID struct {
	Author string
	Seq    int
}

// attributionMarker separates an author identifier from an attribution
// suffix (e.g. "alice!ai" for AI-assisted edits). Pending-queue keys always
// use the base author so both variants share one queue.
const attributionMarker = '!'

// BaseAuthor strips any attribution marker suffix from an author identifier.
func BaseAuthor(author string) string {
	if i := strings.IndexByte(author, attributionMarker); i >= 0 {
		return author[:i]
	}
	return author
}

// Base returns the ID with the attribution marker stripped from the author.
func (id ID) Base() ID {
	return ID{Author: BaseAuthor(id.Author), Seq: id.Seq}
}

func (id ID) String() string {
	return fmt.Sprintf("%s@%d", id.Author, id.Seq)
}

// MarshalJSON encodes the ID in its wire form, a two-element array
// [author, seq].
func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{id.Author, id.Seq})
}

func (id *ID) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	if len(parts) != 2 {
		return ErrInvalidID
	}
	if err := json.Unmarshal(parts[0], &id.Author); err != nil {
		return err
	}
	return json.Unmarshal(parts[1], &id.Seq)
}

// CompareIDs orders IDs by sequence, then lexicographically by author.
// Same-sequence cross-author collisions should not occur in practice; the
// author tie-break only guarantees a stable total order when they do.
func CompareIDs(a, b ID) int {
	if a.Seq != b.Seq {
		if a.Seq < b.Seq {
			return -1
		}
		return 1
	}
	return strings.Compare(a.Author, b.Author)
}

// ProvisionalAuthorID derives a local author identity from a seed. It is
// used before the server assigns the canonical identity during the auth
// handshake.
func ProvisionalAuthorID(seed string) string {
	hash := sha3.Sum256([]byte(seed))
	return hex.EncodeToString(hash[:8])
}
