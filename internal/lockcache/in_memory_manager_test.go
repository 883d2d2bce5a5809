package lockcache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type resourceID string

func TestNewInMemoryManager(t *testing.T) {
	require.NotPanics(t, func() {
		NewInMemoryManager[resourceID, string]("locks", DefaultExpiration, DefaultCleanupInterval)
	})
}

func TestInMemoryManager_SetGet(t *testing.T) {
	c := NewInMemoryManager[resourceID, string]("locks", DefaultExpiration, DefaultCleanupInterval)
	c.Set(context.Background(), "file:a.go", "cycle-1", DefaultExpiration)

	got, ok := c.Get(context.Background(), "file:a.go")
	require.True(t, ok)
	require.Equal(t, "cycle-1", got)
}

func TestInMemoryManager_GetMissing(t *testing.T) {
	c := NewInMemoryManager[resourceID, string]("locks", DefaultExpiration, DefaultCleanupInterval)
	got, ok := c.Get(context.Background(), "missing")
	require.False(t, ok)
	require.Empty(t, got)
}

func TestInMemoryManager_Expiry(t *testing.T) {
	c := NewInMemoryManager[resourceID, string]("locks", DefaultExpiration, DefaultCleanupInterval)
	c.Set(context.Background(), "file:a.go", "cycle-1", 10*time.Millisecond)

	time.Sleep(30 * time.Millisecond)

	_, ok := c.Get(context.Background(), "file:a.go")
	require.False(t, ok)
}

func TestInMemoryManager_GetWithRefresh(t *testing.T) {
	c := NewInMemoryManager[resourceID, string]("locks", DefaultExpiration, DefaultCleanupInterval)
	c.Set(context.Background(), "file:a.go", "cycle-1", 20*time.Millisecond)

	got, ok := c.GetWithRefresh(context.Background(), "file:a.go", 200*time.Millisecond)
	require.True(t, ok)
	require.Equal(t, "cycle-1", got)

	time.Sleep(40 * time.Millisecond)

	_, ok = c.Get(context.Background(), "file:a.go")
	require.True(t, ok, "refreshed entry should outlive its original ttl")
}

func TestInMemoryManager_Items(t *testing.T) {
	c := NewInMemoryManager[resourceID, string]("locks", DefaultExpiration, DefaultCleanupInterval)
	c.Set(context.Background(), "file:a.go", "cycle-1", DefaultExpiration)
	c.Set(context.Background(), "file:b.go", "cycle-2", DefaultExpiration)

	items := c.Items(context.Background())
	require.Len(t, items, 2)
	require.Equal(t, "cycle-1", items["file:a.go"])
}

func TestInMemoryManager_Delete(t *testing.T) {
	c := NewInMemoryManager[resourceID, string]("locks", DefaultExpiration, DefaultCleanupInterval)
	c.Set(context.Background(), "file:a.go", "cycle-1", DefaultExpiration)

	require.NoError(t, c.Delete(context.Background(), "file:a.go"))

	_, ok := c.Get(context.Background(), "file:a.go")
	require.False(t, ok)
}

func TestInMemoryManager_Flush(t *testing.T) {
	c := NewInMemoryManager[resourceID, string]("locks", DefaultExpiration, DefaultCleanupInterval)
	c.Set(context.Background(), "file:a.go", "cycle-1", DefaultExpiration)

	require.NoError(t, c.Flush(context.Background()))
	require.Empty(t, c.Items(context.Background()))
}
