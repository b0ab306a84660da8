package messagestore

import (
	"container/list"
	"context"
	"fmt"
	"sync"

	"github.com/jeyrschabu/keiko/pkg/message"
)

// inMemoryEntry is the internal structure stored in the linked list.
type inMemoryEntry struct {
	id   string
	data []byte
}

// InMemoryStore is a thread-safe, size-bounded Store that evicts the least
// recently used message once full.
type InMemoryStore struct {
	maxSize int
	codec   *message.Codec

	mu      sync.Mutex
	ll      *list.List               // Front is the most recently used entry.
	entries map[string]*list.Element // Fast id lookups.
}

// NewInMemoryStore creates an InMemoryStore holding at most maxSize messages.
func NewInMemoryStore(maxSize int, codec *message.Codec) (*InMemoryStore, error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("maxSize must be greater than 0")
	}
	if codec == nil {
		return nil, fmt.Errorf("codec cannot be nil")
	}
	return &InMemoryStore{
		maxSize: maxSize,
		codec:   codec,
		ll:      list.New(),
		entries: make(map[string]*list.Element),
	}, nil
}

// Save encodes m and stores it under id, evicting the least recently used
// entry if the store is over capacity.
func (s *InMemoryStore) Save(_ context.Context, id string, m message.Message) error {
	data, err := s.codec.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode message %s: %w", id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.entries[id]; ok {
		elem.Value.(*inMemoryEntry).data = data
		s.ll.MoveToFront(elem)
		return nil
	}

	s.entries[id] = s.ll.PushFront(&inMemoryEntry{id: id, data: data})
	if s.ll.Len() > s.maxSize {
		s.evict()
	}
	return nil
}

// Load decodes the message stored under id and marks it as recently used.
func (s *InMemoryStore) Load(_ context.Context, id string) (message.Message, error) {
	s.mu.Lock()
	elem, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	s.ll.MoveToFront(elem)
	data := elem.Value.(*inMemoryEntry).data
	s.mu.Unlock()

	m, err := s.codec.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode message %s: %w", id, err)
	}
	return m, nil
}

func (s *InMemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if elem, ok := s.entries[id]; ok {
		s.ll.Remove(elem)
		delete(s.entries, id)
	}
	return nil
}

// Len returns the number of stored messages.
func (s *InMemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ll.Len()
}

// evict removes the least recently used entry.
// This method is unexported and must be called within a locked mutex.
func (s *InMemoryStore) evict() {
	back := s.ll.Back()
	if back != nil {
		entry := s.ll.Remove(back).(*inMemoryEntry)
		delete(s.entries, entry.id)
	}
}

// Close is a no-op for the in-memory store but satisfies the Store interface.
func (s *InMemoryStore) Close() error {
	return nil
}
