// Package crosstab carries author-change notifications between open
// instances of the same document. The payload is deliberately empty: a ping
// tells the receiver to re-read the persisted identity, last write wins.
package crosstab

import (
	"context"
	"sync"
)

// ChannelName derives the broadcast channel name for a document.
func ChannelName(docID string) string {
	return "doc-" + docID + "-author"
}

// Channel is one broadcast channel per document.
type Channel interface {
	// Publish sends an empty author-changed ping to every other subscriber
	// of the document's channel.
	Publish(ctx context.Context, docID string) error

	// Subscribe returns a channel of pings and a cancel function that
	// releases the subscription.
	Subscribe(ctx context.Context, docID string) (<-chan struct{}, func(), error)

	Close() error
}

// Bus is an in-process Channel for single-process setups and tests.
type Bus struct {
	subs  map[string]map[int]chan struct{}
	next  int
	mutex sync.RWMutex
}

func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[int]chan struct{})}
}

func (b *Bus) Publish(ctx context.Context, docID string) error {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	for _, ch := range b.subs[ChannelName(docID)] {
		select {
		case ch <- struct{}{}:
		default:
			// Subscriber buffer is full; a pending ping already covers it.
		}
	}
	return nil
}

func (b *Bus) Subscribe(ctx context.Context, docID string) (<-chan struct{}, func(), error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	name := ChannelName(docID)
	if b.subs[name] == nil {
		b.subs[name] = make(map[int]chan struct{})
	}

	id := b.next
	b.next++
	ch := make(chan struct{}, 1)
	b.subs[name][id] = ch

	cancel := func() {
		b.mutex.Lock()
		defer b.mutex.Unlock()
		if sub, ok := b.subs[name][id]; ok {
			delete(b.subs[name], id)
			close(sub)
		}
	}
	return ch, cancel, nil
}

func (b *Bus) Close() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	for name, subs := range b.subs {
		for id, ch := range subs {
			close(ch)
			delete(subs, id)
		}
		delete(b.subs, name)
	}
	return nil
}
