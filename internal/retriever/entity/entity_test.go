package entity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchScoresByTermOverlap(t *testing.T) {
	store := NewStore()
	store.Remember(MemoryItem{ItemID: "m1", Workspace: "ws", Domain: "default",
		Text: "the billing service retries failed charges", Entities: []string{"billing"}})
	store.Remember(MemoryItem{ItemID: "m2", Workspace: "ws", Domain: "default",
		Text: "unrelated note about deployment windows"})

	items, err := New(store).Search(context.Background(), "how does billing retry failed charges", "ws", 10)
	require.NoError(t, err)
	require.NotEmpty(t, items)

	assert.Equal(t, "memory:m1", items[0].ItemID)
	for _, it := range items {
		assert.NotEqual(t, "memory:m2", it.ItemID, "zero-overlap item must be filtered out")
	}
}

func TestSearchFiltersByWorkspace(t *testing.T) {
	store := NewStore()
	store.Remember(MemoryItem{ItemID: "m1", Workspace: "other", Text: "billing retries"})

	items, err := New(store).Search(context.Background(), "billing retries", "ws", 10)
	require.NoError(t, err)
	assert.Empty(t, items, "items from another workspace must not leak")
}

func TestSearchHonorsLimit(t *testing.T) {
	store := NewStore()
	for _, id := range []string{"a", "b", "c", "d"} {
		store.Remember(MemoryItem{ItemID: id, Workspace: "ws", Text: "billing retries and charges"})
	}

	items, err := New(store).Search(context.Background(), "billing retries", "ws", 2)
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestSearchNilStoreIsEmpty(t *testing.T) {
	items, err := (&Source{}).Search(context.Background(), "anything", "ws", 5)
	require.NoError(t, err)
	assert.Empty(t, items)
}
