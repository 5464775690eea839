package thread

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Store holds every thread of one document in memory. It is the source of
// truth while editing; block attributes carry a serialized copy.
type Store struct {
	mu      sync.RWMutex
	threads map[string]map[string][]Message // blockID -> annotator -> messages
	newID   func() string
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		threads: make(map[string]map[string][]Message),
		newID:   uuid.NewString,
	}
}

// Append adds a message to the end of the thread and returns it.
func (s *Store) Append(key Key, role Role, content string) Message {
	msg := Message{ID: s.newID(), Role: role, Content: content}

	s.mu.Lock()
	defer s.mu.Unlock()

	group, ok := s.threads[key.BlockID]
	if !ok {
		group = make(map[string][]Message)
		s.threads[key.BlockID] = group
	}
	group[key.Annotator] = append(group[key.Annotator], msg)
	return msg
}

// Extend appends delta to the content of message id in the thread.
// Used for streamed replies; order and length are unchanged.
func (s *Store) Extend(key Key, id, delta string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.threads[key.BlockID][key.Annotator]
	for i := range msgs {
		if msgs[i].ID == id {
			msgs[i].Content += delta
			return nil
		}
	}
	return fmt.Errorf("thread: message %s not in %s", id, key)
}

// ReplaceAll swaps the whole thread. It is the only operation that can
// shrink or reorder a thread; an empty msgs clears it.
func (s *Store) ReplaceAll(key Key, msgs []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(msgs) == 0 {
		if group, ok := s.threads[key.BlockID]; ok {
			delete(group, key.Annotator)
			if len(group) == 0 {
				delete(s.threads, key.BlockID)
			}
		}
		return
	}

	group, ok := s.threads[key.BlockID]
	if !ok {
		group = make(map[string][]Message)
		s.threads[key.BlockID] = group
	}
	group[key.Annotator] = cloneMessages(msgs)
}

// Get returns a copy of the thread. Unknown keys yield an empty sequence.
func (s *Store) Get(key Key) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.threads[key.BlockID][key.Annotator]
	if len(msgs) == 0 {
		return []Message{}
	}
	return cloneMessages(msgs)
}

// Len returns the number of messages in the thread.
func (s *Store) Len(key Key) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.threads[key.BlockID][key.Annotator])
}

// Group returns a copy of every thread attached to blockID.
func (s *Store) Group(blockID string) Set {
	s.mu.RLock()
	defer s.mu.RUnlock()

	group := s.threads[blockID]
	if len(group) == 0 {
		return nil
	}
	return Set(group).Clone()
}

// Load replaces the threads of blockID with set, typically when a document
// is opened and its block attributes are read back.
func (s *Store) Load(blockID string, set Set) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(set) == 0 {
		delete(s.threads, blockID)
		return
	}
	s.threads[blockID] = set.Clone()
}

// Keys returns the keys of all non-empty threads.
func (s *Store) Keys() []Key {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Key
	for blockID, group := range s.threads {
		for name, msgs := range group {
			if len(msgs) > 0 {
				out = append(out, Key{BlockID: blockID, Annotator: name})
			}
		}
	}
	return out
}

// Retain drops the threads of every block not in live and reports how many
// blocks were dropped.
func (s *Store) Retain(live map[string]struct{}) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := 0
	for blockID := range s.threads {
		if _, ok := live[blockID]; !ok {
			delete(s.threads, blockID)
			dropped++
		}
	}
	return dropped
}
