package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrCreateSeedsSystemMessage(t *testing.T) {
	store := NewLRUStore(4, 0)

	id, msgs, created := GetOrCreate(store, "", "preamble")
	require.True(t, created)
	assert.NotEmpty(t, id)
	require.Len(t, msgs, 1)
	assert.Equal(t, Message{Role: RoleSystem, Content: "preamble"}, msgs[0])
	assert.Zero(t, store.Len(), "a new history is not stored until Put")
}

func TestGetOrCreateUnknownIDMintsNewID(t *testing.T) {
	store := NewLRUStore(4, 0)

	id, _, created := GetOrCreate(store, "does-not-exist", "preamble")
	assert.True(t, created)
	assert.NotEqual(t, "does-not-exist", id)
}

func TestGetOrCreateReusesHistory(t *testing.T) {
	store := NewLRUStore(4, 0)
	history := []Message{
		{Role: RoleSystem, Content: "old preamble"},
		{Role: RoleUser, Content: "turn on the lights"},
		{Role: RoleAssistant, Content: "done"},
	}
	store.Put("abc", history)

	id, msgs, created := GetOrCreate(store, "abc", "new preamble")
	assert.False(t, created)
	assert.Equal(t, "abc", id)
	assert.Equal(t, history, msgs)
}

func TestStoreReturnsCopies(t *testing.T) {
	store := NewLRUStore(4, 0)
	history := []Message{{Role: RoleSystem, Content: "p"}}
	store.Put("abc", history)

	history[0].Content = "mutated"
	got, ok := store.Get("abc")
	require.True(t, ok)
	assert.Equal(t, "p", got[0].Content)

	got[0].Content = "mutated again"
	again, _ := store.Get("abc")
	assert.Equal(t, "p", again[0].Content)
}

func TestStoreEvictsLeastRecentlyUsed(t *testing.T) {
	var evicted []string
	store := NewLRUStore(2, 0, WithEvictionHook(func(id string) {
		evicted = append(evicted, id)
	}))

	store.Put("a", nil)
	store.Put("b", nil)
	_, _ = store.Get("a")
	store.Put("c", nil)

	assert.Equal(t, 2, store.Len())
	_, ok := store.Get("b")
	assert.False(t, ok)
	assert.Equal(t, []string{"b"}, evicted)
}

func TestStoreEvict(t *testing.T) {
	store := NewLRUStore(2, 0)
	store.Put("a", nil)

	assert.True(t, store.Evict("a"))
	assert.False(t, store.Evict("a"))
	assert.Zero(t, store.Len())
}

func TestStoreTTL(t *testing.T) {
	store := NewLRUStore(2, 50*time.Millisecond)
	store.Put("a", []Message{{Role: RoleSystem, Content: "p"}})

	assert.Eventually(t, func() bool {
		_, ok := store.Get("a")
		return !ok
	}, 2*time.Second, 20*time.Millisecond)
}

func TestStoreTTLCountsFromLastPut(t *testing.T) {
	store := NewLRUStore(2, 300*time.Millisecond)
	store.Put("a", []Message{{Role: RoleSystem, Content: "p"}})

	time.Sleep(150 * time.Millisecond)
	_, ok := store.Get("a")
	require.True(t, ok)

	// The read above does not push expiry back.
	time.Sleep(250 * time.Millisecond)
	_, ok = store.Get("a")
	assert.False(t, ok)
}

func TestStoreEvictExpired(t *testing.T) {
	store := NewLRUStore(2, 50*time.Millisecond)
	store.Put("a", []Message{{Role: RoleSystem, Content: "p"}})

	time.Sleep(80 * time.Millisecond)
	_, ok := store.Get("a")
	require.False(t, ok)
	assert.False(t, store.Evict("a"), "an expired conversation is already gone")
}

func TestStoreConcurrentAccess(t *testing.T) {
	store := NewLRUStore(16, 0)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				id, msgs, _ := GetOrCreate(store, "shared", "p")
				store.Put(id, append(msgs, Message{Role: RoleUser, Content: "x"}))
			}
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, store.Len(), 16)
}
