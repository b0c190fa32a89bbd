// Package session keeps the per-conversation message history.
//
// Histories are held in a bounded LRU cache with an optional TTL counted
// from the last successful turn, so a long-running bridge cannot grow
// without limit. Reading a history does not extend its lifetime. Two turns on the same
// conversation id racing each other is not guarded: the last Put wins.
package session

import (
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// Roles used in a conversation history.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Store persists conversation histories keyed by conversation id.
type Store interface {
	Get(id string) ([]Message, bool)
	Put(id string, messages []Message)
	Evict(id string) bool
	Len() int
}

// LRUStore is a Store backed by an expirable LRU cache.
type LRUStore struct {
	cache   *lru.LRU[string, []Message]
	onEvict func(id string)
}

var _ Store = (*LRUStore)(nil)

// Option configures an LRUStore.
type Option func(*LRUStore)

// WithEvictionHook registers fn to be called whenever a conversation leaves
// the store, whether by size, TTL or an explicit Evict.
func WithEvictionHook(fn func(id string)) Option {
	return func(s *LRUStore) {
		s.onEvict = fn
	}
}

// NewLRUStore creates a store holding at most maxEntries conversations.
// A conversation expires ttl after its last Put; a zero ttl disables expiry.
func NewLRUStore(maxEntries int, ttl time.Duration, opts ...Option) *LRUStore {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	s := &LRUStore{}
	for _, opt := range opts {
		opt(s)
	}
	s.cache = lru.NewLRU[string, []Message](maxEntries, func(id string, _ []Message) {
		if s.onEvict != nil {
			s.onEvict(id)
		}
	}, ttl)
	return s
}

// Get returns a copy of the stored history.
func (s *LRUStore) Get(id string) ([]Message, bool) {
	msgs, ok := s.cache.Get(id)
	if !ok {
		return nil, false
	}
	return clone(msgs), true
}

// Put replaces the history for id.
func (s *LRUStore) Put(id string, messages []Message) {
	s.cache.Add(id, clone(messages))
}

// Evict removes id and reports whether it was present. An expired entry
// that has not been reaped yet counts as absent.
func (s *LRUStore) Evict(id string) bool {
	if _, ok := s.cache.Peek(id); !ok {
		s.cache.Remove(id)
		return false
	}
	return s.cache.Remove(id)
}

// Len returns the number of stored conversations.
func (s *LRUStore) Len() int {
	return s.cache.Len()
}

// GetOrCreate returns the history for id. An empty or unknown id yields a
// freshly minted id and a history holding only the system preamble; the new
// history is not stored until the caller Puts it.
func GetOrCreate(store Store, id, preamble string) (string, []Message, bool) {
	if id != "" {
		if msgs, ok := store.Get(id); ok {
			return id, msgs, false
		}
	}
	return uuid.NewString(), []Message{{Role: RoleSystem, Content: preamble}}, true
}

func clone(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}
