// Package opstore is the durable, per-document, per-author queue of
// not-yet-acknowledged operations, plus the author's persisted identity.
package opstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/fivetentaylor/pointy-sub000/internal/crosstab"
	"github.com/fivetentaylor/pointy-sub000/internal/logging"
	"github.com/fivetentaylor/pointy-sub000/internal/operations"
)

// Backend is the persistence medium beneath the store. Keys follow the
// layout documented on opKey and authorKey regardless of backend.
type Backend interface {
	Get(key string) ([]byte, bool, error)
	Put(key string, value []byte) error
	Delete(key string) (bool, error)
	Scan(prefix string, fn func(key string, value []byte) error) error
	Close() error
}

func opKey(docID, author string, seq int) string {
	return fmt.Sprintf("op-%s-%s-%d", docID, operations.BaseAuthor(author), seq)
}

func opPrefix(docID string) string {
	return "op-" + docID + "-"
}

func authorKey(docID string) string {
	return "doc-" + docID + "-author"
}

// parseOpKey recovers (author, seq) from a key under opPrefix(docID). The
// sequence is everything after the last dash; author identifiers may
// themselves contain dashes.
func parseOpKey(key, docID string) (author string, seq int, ok bool) {
	rest := strings.TrimPrefix(key, opPrefix(docID))
	i := strings.LastIndexByte(rest, '-')
	if i <= 0 {
		return "", 0, false
	}
	seq, err := strconv.Atoi(rest[i+1:])
	if err != nil {
		return "", 0, false
	}
	return rest[:i], seq, true
}

// Store owns pending-operation durability and the persisted author
// identity. Identity changes notify local subscribers and ping other open
// instances of the same document through the cross-tab channel.
type Store struct {
	backend Backend
	bus     crosstab.Channel
	logger  *logging.Logger

	mutex      sync.Mutex
	authorSubs []func(docID, author string)
}

// Config selects the persistence backend. An empty Backend means sqlite.
type Config struct {
	Backend string // "sqlite", "bolt" or "memory"
	Path    string
}

// New wires a store over an already-open backend. bus may be nil when no
// cross-instance coordination is wanted.
func New(backend Backend, bus crosstab.Channel) *Store {
	return &Store{
		backend: backend,
		bus:     bus,
		logger:  logging.NewLogger("opstore"),
	}
}

// Open opens the configured backend. Storage is best-effort: if the durable
// backend cannot be opened the store degrades to in-memory queueing rather
// than failing, at the cost of losing pending operations across restarts.
func Open(cfg Config, bus crosstab.Channel) *Store {
	backend, name, err := openBackend(cfg)
	if err != nil {
		logging.NewLogger("opstore").LogStoreFallback(name, err)
		backend = NewMemoryBackend()
	}
	return New(backend, bus)
}

func openBackend(cfg Config) (Backend, string, error) {
	switch cfg.Backend {
	case "", "sqlite":
		b, err := NewSQLiteBackend(cfg.Path)
		return b, "sqlite", err
	case "bolt":
		b, err := NewBoltBackend(cfg.Path)
		return b, "bolt", err
	case "memory":
		return NewMemoryBackend(), "memory", nil
	default:
		return nil, cfg.Backend, fmt.Errorf("%w: %s", ErrUnknownBackend, cfg.Backend)
	}
}

// AuthorID returns the persisted identity for a document, or "" if none
// has been stored yet.
func (s *Store) AuthorID(docID string) (string, error) {
	value, found, err := s.backend.Get(authorKey(docID))
	if err != nil || !found {
		return "", err
	}
	return string(value), nil
}

// SetAuthorID persists the identity, notifies local subscribers and pings
// other open instances of the document.
func (s *Store) SetAuthorID(ctx context.Context, docID, author string) error {
	if err := s.backend.Put(authorKey(docID), []byte(author)); err != nil {
		return err
	}

	s.mutex.Lock()
	subs := make([]func(string, string), len(s.authorSubs))
	copy(subs, s.authorSubs)
	s.mutex.Unlock()

	for _, fn := range subs {
		fn(docID, author)
	}

	if s.bus != nil {
		if err := s.bus.Publish(ctx, docID); err != nil {
			s.logger.Warn("Failed to broadcast author change", map[string]interface{}{
				"doc_id": docID,
				"error":  err.Error(),
			})
		}
	}
	return nil
}

// OnAuthorChange registers a callback invoked whenever SetAuthorID runs in
// this process.
func (s *Store) OnAuthorChange(fn func(docID, author string)) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.authorSubs = append(s.authorSubs, fn)
}

// WatchAuthor follows author changes announced by other instances of the
// document. Each ping re-reads the persisted identity and replays it
// through the local subscribers. Returns immediately when no cross-tab
// channel is configured; the watch ends when ctx is cancelled.
func (s *Store) WatchAuthor(ctx context.Context, docID string) error {
	if s.bus == nil {
		return nil
	}

	pings, cancel, err := s.bus.Subscribe(ctx, docID)
	if err != nil {
		return err
	}

	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-pings:
				if !ok {
					return
				}
			}

			author, err := s.AuthorID(docID)
			if err != nil || author == "" {
				continue
			}

			s.mutex.Lock()
			subs := make([]func(string, string), len(s.authorSubs))
			copy(subs, s.authorSubs)
			s.mutex.Unlock()

			for _, fn := range subs {
				fn(docID, author)
			}
		}
	}()
	return nil
}

// StoreOperation idempotently persists a pending operation keyed by its ID.
// Snapshot operations are server-originated and never persisted as pending.
func (s *Store) StoreOperation(docID string, op operations.Operation) error {
	if op.IsSnapshot() {
		s.logger.Debug("Refusing to persist snapshot operation", map[string]interface{}{
			"doc_id": docID,
			"id":     op.ID.String(),
		})
		return nil
	}

	value, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("failed to marshal operation: %w", err)
	}
	return s.backend.Put(opKey(docID, op.ID.Author, op.ID.Seq), value)
}

// RemoveOperation deletes the pending record if present and reports whether
// it existed. Callers use the result to distinguish an acknowledgment of
// their own write from a foreign operation.
func (s *Store) RemoveOperation(docID string, id operations.ID) (bool, error) {
	return s.backend.Delete(opKey(docID, id.Author, id.Seq))
}

// OperationsOrderedByIndex returns all pending operations sorted by
// (sequence, author lexicographic). Sequence is primary so a single
// author's causal order is preserved.
func (s *Store) OperationsOrderedByIndex(docID string) ([]operations.Operation, error) {
	var ops []operations.Operation
	err := s.backend.Scan(opPrefix(docID), func(key string, value []byte) error {
		if _, _, ok := parseOpKey(key, docID); !ok {
			s.logger.Warn("Skipping malformed pending-operation key", map[string]interface{}{
				"key": key,
			})
			return nil
		}
		var op operations.Operation
		if err := json.Unmarshal(value, &op); err != nil {
			return fmt.Errorf("failed to decode pending operation %s: %w", key, err)
		}
		ops = append(ops, op)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(ops, func(i, j int) bool {
		return operations.CompareIDs(ops[i].ID.Base(), ops[j].ID.Base()) < 0
	})
	return ops, nil
}

// HasOperations reports whether any pending operations remain.
func (s *Store) HasOperations(docID string) (bool, error) {
	count, err := s.RemainingOperations(docID)
	return count > 0, err
}

// RemainingOperations counts pending operations for a document.
func (s *Store) RemainingOperations(docID string) (int, error) {
	count := 0
	err := s.backend.Scan(opPrefix(docID), func(key string, value []byte) error {
		count++
		return nil
	})
	return count, err
}

func (s *Store) Close() error {
	return s.backend.Close()
}
