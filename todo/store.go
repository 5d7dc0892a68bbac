package todo

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrInvalidIndex is returned when a position falls outside 1..Len().
var ErrInvalidIndex = errors.New("no todo at this index")

// Item is a single planned unit of work.
type Item struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Completed   bool   `json:"completed"`
}

// Store is the ordered todo list of one session.
//
// Items are addressed by their 1-based position. Positions are always
// contiguous, items are only ever appended, and completion is one-way.
type Store struct {
	mu    sync.RWMutex
	items []Item
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{}
}

// Create appends one pending item per description, in order.
// Empty descriptions are accepted.
func (s *Store) Create(descriptions []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range descriptions {
		s.items = append(s.items, Item{
			ID:          uuid.NewString(),
			Description: d,
		})
	}
}

// MarkComplete marks the item at position (1-based) as completed.
// Marking an already-completed item is a no-op.
func (s *Store) MarkComplete(position int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if position < 1 || position > len(s.items) {
		return ErrInvalidIndex
	}
	s.items[position-1].Completed = true
	return nil
}

// List returns a copy of the items in list order.
func (s *Store) List() []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Item, len(s.items))
	copy(out, s.items)
	return out
}

// Get returns the item with the given stable ID and its current position.
func (s *Store) Get(id string) (Item, int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i, it := range s.items {
		if it.ID == id {
			return it, i + 1, true
		}
	}
	return Item{}, 0, false
}

// Len returns the number of items.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Pending returns how many items are not yet completed.
func (s *Store) Pending() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, it := range s.items {
		if !it.Completed {
			n++
		}
	}
	return n
}
