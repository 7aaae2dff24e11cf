package invalidation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokenforge/rendercache/cache"
)

func TestCoordinator_ScopeUnion(t *testing.T) {
	c := NewCoordinator(nil)
	ctx := context.Background()

	var mu sync.Mutex
	got := map[string]int{}
	record := func(name string) Listener {
		return func(ctx context.Context, e Event) error {
			mu.Lock()
			defer mu.Unlock()
			got[name]++
			return nil
		}
	}

	c.Subscribe(ScopeCharacter, record("character"))
	c.Subscribe(ScopeAsset, record("asset"))
	c.Subscribe(ScopeAll, record("all"))

	c.InvalidateCharacter(ctx, "imp", ReasonUpdate, nil)

	assert.Equal(t, 1, got["character"])
	assert.Equal(t, 1, got["all"])
	assert.Zero(t, got["asset"], "asset listeners must not see character events")
}

func TestCoordinator_ListenerIsolation(t *testing.T) {
	c := NewCoordinator(nil)
	ctx := context.Background()

	var mu sync.Mutex
	secondRan := false

	c.Subscribe(ScopeAsset, func(ctx context.Context, e Event) error {
		return errors.New("listener exploded")
	})
	c.Subscribe(ScopeAsset, func(ctx context.Context, e Event) error {
		panic("listener panicked")
	})
	c.Subscribe(ScopeAsset, func(ctx context.Context, e Event) error {
		mu.Lock()
		defer mu.Unlock()
		secondRan = true
		return nil
	})

	assert.NotPanics(t, func() {
		c.InvalidateAsset(ctx, "a1", ReasonUpdate, nil)
	})
	assert.True(t, secondRan, "healthy listener must run despite failing peers")
}

func TestCoordinator_Unsubscribe(t *testing.T) {
	c := NewCoordinator(nil)
	ctx := context.Background()

	calls := 0
	var mu sync.Mutex
	sub := c.Subscribe(ScopeProject, func(ctx context.Context, e Event) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return nil
	})

	c.InvalidateProject(ctx, "p1", ReasonUpdate, nil)
	sub.Unsubscribe()
	sub.Unsubscribe() // idempotent
	c.InvalidateProject(ctx, "p1", ReasonDelete, nil)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, c.ListenerCount(ScopeProject))
}

func TestCoordinator_HistoryBound(t *testing.T) {
	c := NewCoordinator(nil)
	ctx := context.Background()

	for i := 0; i < 150; i++ {
		c.InvalidateAsset(ctx, fmt.Sprintf("a%d", i), ReasonUpdate, nil)
	}

	history := c.History()
	require.Len(t, history, 100)
	assert.Equal(t, []string{"a50"}, history[0].EntityIDs, "oldest retained event")
	assert.Equal(t, []string{"a149"}, history[99].EntityIDs, "newest retained event")
}

func TestCoordinator_EventFieldsFilled(t *testing.T) {
	c := NewCoordinator(nil)

	var got Event
	var mu sync.Mutex
	c.Subscribe(ScopeGlobal, func(ctx context.Context, e Event) error {
		mu.Lock()
		defer mu.Unlock()
		got = e
		return nil
	})

	c.InvalidateAll(context.Background(), ReasonManual, map[string]any{"by": "test"})

	assert.NotEmpty(t, got.ID)
	assert.False(t, got.Timestamp.IsZero())
	assert.Equal(t, ScopeGlobal, got.Scope)
	assert.Equal(t, ReasonManual, got.Reason)
	assert.Equal(t, "test", got.Metadata["by"])
}

func TestCoordinator_UnknownScopePanics(t *testing.T) {
	c := NewCoordinator(nil)

	assert.Panics(t, func() {
		c.Subscribe(Scope("bogus"), func(ctx context.Context, e Event) error { return nil })
	})
	assert.Panics(t, func() {
		c.Emit(context.Background(), Event{Scope: Scope("bogus")})
	})
	assert.Panics(t, func() {
		// ScopeAll is listener-only.
		c.Emit(context.Background(), Event{Scope: ScopeAll})
	})
}

// Asset update propagation: a subscribed store clears its tagged entries.
func TestCoordinator_AssetUpdateClearsTaggedEntries(t *testing.T) {
	c := NewCoordinator(nil)
	store := cache.NewStore[string, string](cache.StoreConfig{Name: "tokens"}, nil)

	store.Set("imp_token.png", "data", cache.SetOptions{Tags: []string{cache.AssetTag("a1")}})
	store.Set("baron_token.png", "data", cache.SetOptions{Tags: []string{cache.AssetTag("a2")}})

	c.Subscribe(ScopeAsset, func(ctx context.Context, e Event) error {
		for _, id := range e.EntityIDs {
			store.InvalidateByTag(cache.AssetTag(id))
		}
		return nil
	})

	c.InvalidateAsset(context.Background(), "a1", ReasonUpdate, nil)

	assert.False(t, store.Has("imp_token.png"))
	assert.True(t, store.Has("baron_token.png"))
}
