package conversation

import (
	"container/heap"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/scribehq/scribe/src/wire"
)

// Store is the conversation registry. The map may be read and written by many
// connections concurrently; the creation/eviction sequence is the only
// critical section. Each Conversation serializes its own mutations.
type Store struct {
	// Config is immutable after construction.
	maxConversations int
	maxHistory       int

	mu            sync.RWMutex
	conversations map[string]*Conversation
	byCreation    creationHeap
	nextSeq       uint64

	events *Events
	logger *slog.Logger
	now    func() time.Time
}

// StoreConfig bounds the store.
type StoreConfig struct {
	// MaxConversations caps the store size; creating one past the cap evicts
	// the conversation with the oldest creation time. Zero or less means
	// unbounded.
	MaxConversations int
	// MaxHistoryLength caps each conversation's history; older entries are
	// dropped after each turn. Zero or less means unbounded.
	MaxHistoryLength int
	Logger           *slog.Logger
	// Now is the clock; defaults to time.Now. Injectable for tests.
	Now func() time.Time
}

// NewStore creates an empty store.
func NewStore(cfg StoreConfig) *Store {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		maxConversations: cfg.MaxConversations,
		maxHistory:       cfg.MaxHistoryLength,
		conversations:    make(map[string]*Conversation),
		events:           NewEvents(logger),
		logger:           logger,
		now:              now,
	}
}

// Events returns the lifecycle listener registry.
func (s *Store) Events() *Events { return s.events }

// MaxHistoryLength returns the per-conversation history cap.
func (s *Store) MaxHistoryLength() int { return s.maxHistory }

// Create makes a new conversation with a fresh id and returns it. When the
// new size would exceed the cap, the oldest conversation is evicted first,
// synchronously; an active stream on the victim is cancelled before removal.
func (s *Store) Create() *Conversation {
	now := s.now()

	s.mu.Lock()
	var evicted []*Conversation
	if s.maxConversations > 0 {
		for len(s.conversations) >= s.maxConversations {
			victim := s.popOldestLocked()
			if victim == nil {
				break
			}
			delete(s.conversations, victim.ID)
			evicted = append(evicted, victim)
		}
	}

	c := &Conversation{
		ID:  wire.NewConversationID(),
		seq: s.nextSeq,
	}
	c.createdAt = now
	c.updatedAt = now
	s.nextSeq++
	s.conversations[c.ID] = c
	heap.Push(&s.byCreation, creationEntry{seq: c.seq, id: c.ID})
	s.mu.Unlock()

	for _, victim := range evicted {
		victim.CancelActive()
		s.logger.Info("conversation evicted", "conversation", victim.ID)
		s.events.emitDeleted(victim.ID)
	}
	s.events.emitCreated(c.ID)
	return c
}

// Get returns the conversation with the given id, if present.
func (s *Store) Get(id string) (*Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	return c, ok
}

// Delete removes a conversation. Any active stream is cancelled first. It
// returns false when the id is absent.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	c, ok := s.conversations[id]
	if ok {
		delete(s.conversations, id)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}

	c.CancelActive()
	s.events.emitDeleted(id)
	return true
}

// List returns all conversation ids in creation order, oldest first.
func (s *Store) List() []string {
	s.mu.RLock()
	all := make([]*Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		all = append(all, c)
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].seq < all[j].seq })
	ids := make([]string, len(all))
	for i, c := range all {
		ids[i] = c.ID
	}
	return ids
}

// Len returns the number of stored conversations.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conversations)
}

// SetActive sets the activity flag on the named conversation, if present.
func (s *Store) SetActive(id string, active bool) {
	if c, ok := s.Get(id); ok {
		c.setActive(active)
	}
}

// popOldestLocked pops the oldest live conversation off the creation index,
// skipping entries for conversations that were already deleted.
func (s *Store) popOldestLocked() *Conversation {
	for s.byCreation.Len() > 0 {
		entry := heap.Pop(&s.byCreation).(creationEntry)
		c, ok := s.conversations[entry.id]
		if ok && c.seq == entry.seq {
			return c
		}
	}
	return nil
}

// creationEntry indexes a conversation by creation sequence. Creation is
// serialized under the store lock, so sequence order equals creation-time
// order.
type creationEntry struct {
	seq uint64
	id  string
}

type creationHeap []creationEntry

func (h creationHeap) Len() int            { return len(h) }
func (h creationHeap) Less(i, j int) bool  { return h[i].seq < h[j].seq }
func (h creationHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *creationHeap) Push(x interface{}) { *h = append(*h, x.(creationEntry)) }
func (h *creationHeap) Pop() interface{} {
	old := *h
	n := len(old)
	entry := old[n-1]
	*h = old[:n-1]
	return entry
}
