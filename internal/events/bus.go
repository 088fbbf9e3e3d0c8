// Package events carries the typed change notifications the record layer
// publishes after committed writes. Subscribers are the presentation
// collaborators; delivery is synchronous and strictly after the store write.
package events

import (
	"sync"

	"github.com/google/uuid"
)

// Type identifies which entity collection changed.
type Type int

const (
	BooksUpdated Type = iota
	ClientsUpdated
	FamiliesUpdated
	TransactionsUpdated
)

func (t Type) String() string {
	switch t {
	case BooksUpdated:
		return "books_updated"
	case ClientsUpdated:
		return "clients_updated"
	case FamiliesUpdated:
		return "families_updated"
	case TransactionsUpdated:
		return "transactions_updated"
	}
	return "unknown"
}

// Subscription is the opaque token returned by Subscribe.
type Subscription uuid.UUID

// Bus is a minimal synchronous publish/subscribe fan-out.
type Bus struct {
	mu   sync.RWMutex
	subs map[Subscription]func(Type)
}

func NewBus() *Bus {
	return &Bus{subs: make(map[Subscription]func(Type))}
}

// Subscribe registers fn for every published event and returns its token.
func (b *Bus) Subscribe(fn func(Type)) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := Subscription(uuid.New())
	b.subs[id] = fn
	return id
}

// Unsubscribe removes a subscriber; unknown tokens are ignored.
func (b *Bus) Unsubscribe(id Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// Publish delivers t to every current subscriber. Handlers run outside the
// bus lock so they may subscribe or unsubscribe reentrantly.
func (b *Bus) Publish(t Type) {
	b.mu.RLock()
	handlers := make([]func(Type), 0, len(b.subs))
	for _, fn := range b.subs {
		handlers = append(handlers, fn)
	}
	b.mu.RUnlock()

	for _, fn := range handlers {
		fn(t)
	}
}
