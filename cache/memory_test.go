package cache

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func newTestCache(policy Policy) (*MemoryCache, *manualClock, *recordingObserver) {
	clock := newManualClock()
	obs := newRecordingObserver()
	return NewMemoryCache(policy, WithClock(clock.Now), WithObserver(obs)), clock, obs
}

func TestMemoryCache_GetSetDelete(t *testing.T) {
	cache := NewMemoryCache(DefaultPolicy())
	ctx := context.Background()

	val, ok := cache.Get(ctx, "/recipes")
	if ok || val != nil {
		t.Errorf("Get on empty cache = (%q, %v), want (nil, false)", val, ok)
	}

	value := []byte(`[{"name":"soup"}]`)
	if err := cache.Set(ctx, "/recipes", value, 5*time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, ok := cache.Get(ctx, "/recipes")
	if !ok {
		t.Error("Get after Set should return ok=true")
	}
	if !bytes.Equal(got, value) {
		t.Errorf("Get returned %q, want %q", got, value)
	}

	if err := cache.Delete(ctx, "/recipes"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok := cache.Get(ctx, "/recipes"); ok {
		t.Error("Get after Delete should return ok=false")
	}

	if err := cache.Delete(ctx, "nonexistent"); err != nil {
		t.Errorf("Delete on non-existent key should not error, got: %v", err)
	}
}

// TestMemoryCache_Scenario follows the put/get/deleteMatching timeline
// for a three minute listing entry.
func TestMemoryCache_Scenario(t *testing.T) {
	ctx := context.Background()
	payload := []byte(`["r1","r2"]`)

	t.Run("hit before ttl and miss after", func(t *testing.T) {
		cache, clock, _ := newTestCache(DefaultPolicy())
		_ = cache.Set(ctx, "/recipes?limit=50", payload, 180*time.Second)

		clock.Advance(100 * time.Second)
		got, ok := cache.Get(ctx, "/recipes?limit=50")
		if !ok || !bytes.Equal(got, payload) {
			t.Fatalf("Get at t=100s = (%q, %v), want (%q, true)", got, ok, payload)
		}

		clock.Advance(100 * time.Second)
		if _, ok := cache.Get(ctx, "/recipes?limit=50"); ok {
			t.Fatal("Get at t=200s should miss")
		}
	})

	t.Run("deleteMatching before ttl", func(t *testing.T) {
		cache, clock, _ := newTestCache(DefaultPolicy())
		_ = cache.Set(ctx, "/recipes?limit=50", payload, 180*time.Second)

		clock.Advance(50 * time.Second)
		n, err := cache.DeleteMatching(ctx, "/recipes")
		if err != nil || n != 1 {
			t.Fatalf("DeleteMatching = (%d, %v), want (1, nil)", n, err)
		}

		clock.Advance(10 * time.Second)
		if _, ok := cache.Get(ctx, "/recipes?limit=50"); ok {
			t.Fatal("Get at t=60s should miss after DeleteMatching")
		}
	})
}

func TestMemoryCache_ExpiryBoundary(t *testing.T) {
	cache, clock, obs := newTestCache(DefaultPolicy())
	ctx := context.Background()
	ttl := time.Minute

	_ = cache.Set(ctx, "k", []byte("v"), ttl)

	clock.Advance(ttl - time.Millisecond)
	if _, ok := cache.Get(ctx, "k"); !ok {
		t.Fatal("Get just before ttl should hit")
	}

	clock.Advance(time.Millisecond)
	if _, ok := cache.Get(ctx, "k"); ok {
		t.Fatal("Get at exactly ttl should miss")
	}
	if cache.Len() != 0 {
		t.Errorf("Len() = %d after lazy expiry, want 0", cache.Len())
	}
	if got := obs.evictions(EvictExpired); got != 1 {
		t.Errorf("expired evictions = %d, want 1", got)
	}
}

func TestMemoryCache_LazyExpiryKeepsFreshReplacement(t *testing.T) {
	cache, clock, _ := newTestCache(DefaultPolicy())
	ctx := context.Background()

	_ = cache.Set(ctx, "k", []byte("old"), time.Second)
	cache.mu.RLock()
	stale := cache.entries["k"]
	cache.mu.RUnlock()

	clock.Advance(2 * time.Second)
	_ = cache.Set(ctx, "k", []byte("new"), time.Minute)

	// A reader that observed the stale entry must not remove the new one.
	if cache.removeIfCurrent("k", stale) {
		t.Fatal("removeIfCurrent removed a replaced entry")
	}
	got, ok := cache.Get(ctx, "k")
	if !ok || string(got) != "new" {
		t.Errorf("Get = (%q, %v), want (new, true)", got, ok)
	}
}

func TestMemoryCache_SetOverwrite(t *testing.T) {
	cache := NewMemoryCache(DefaultPolicy())
	ctx := context.Background()

	_ = cache.Set(ctx, "k", []byte("value1"), 5*time.Minute, "a")
	_ = cache.Set(ctx, "k", []byte("value2"), 5*time.Minute, "b")

	got, ok := cache.Get(ctx, "k")
	if !ok || string(got) != "value2" {
		t.Errorf("Get = (%q, %v), want (value2, true)", got, ok)
	}

	// The overwritten entry no longer belongs to its old tag.
	if n, _ := cache.InvalidateTags(ctx, "a"); n != 0 {
		t.Errorf("InvalidateTags(a) removed %d, want 0", n)
	}
	if n, _ := cache.InvalidateTags(ctx, "b"); n != 1 {
		t.Errorf("InvalidateTags(b) removed %d, want 1", n)
	}
}

func TestMemoryCache_SetCopiesValue(t *testing.T) {
	cache := NewMemoryCache(DefaultPolicy())
	ctx := context.Background()

	buf := []byte("original")
	_ = cache.Set(ctx, "k", buf, time.Minute)
	copy(buf, "mutated!")

	got, _ := cache.Get(ctx, "k")
	if string(got) != "original" {
		t.Errorf("Get = %q, want %q", got, "original")
	}
}

func TestMemoryCache_ZeroTTL(t *testing.T) {
	cache := NewMemoryCache(DefaultPolicy())
	ctx := context.Background()

	if err := cache.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("Set with TTL=0 failed: %v", err)
	}
	if _, ok := cache.Get(ctx, "k"); ok {
		t.Error("Get after Set with TTL=0 should return ok=false")
	}
}

func TestMemoryCache_InvalidInput(t *testing.T) {
	cache := NewMemoryCache(DefaultPolicy())
	ctx := context.Background()

	if err := cache.Set(ctx, "", []byte("v"), time.Minute); err != ErrInvalidKey {
		t.Errorf("Set(empty key) = %v, want %v", err, ErrInvalidKey)
	}
	if err := cache.Set(ctx, "k", []byte("v"), time.Minute, ""); err != ErrInvalidTag {
		t.Errorf("Set(empty tag) = %v, want %v", err, ErrInvalidTag)
	}
	if _, err := cache.InvalidateTags(ctx, ""); err != ErrInvalidTag {
		t.Errorf("InvalidateTags(empty) = %v, want %v", err, ErrInvalidTag)
	}
}

func TestMemoryCache_DeleteMatching(t *testing.T) {
	cache := NewMemoryCache(DefaultPolicy())
	ctx := context.Background()

	keys := []string{
		"/recipes",
		"/recipes?page=2",
		"/recipes/savedRecipes/ids/u1",
		"/recipes/savedRecipes/u1",
		"/recipes/savedRecipes/ids/u2",
	}
	for _, k := range keys {
		_ = cache.Set(ctx, k, []byte(k), time.Minute)
	}

	n, _ := cache.DeleteMatching(ctx, "u1")
	if n != 2 {
		t.Errorf("DeleteMatching(u1) removed %d, want 2", n)
	}
	if _, ok := cache.Get(ctx, "/recipes/savedRecipes/ids/u2"); !ok {
		t.Error("u2 entry should survive DeleteMatching(u1)")
	}

	n, _ = cache.DeleteMatching(ctx, "")
	if n != 3 {
		t.Errorf("DeleteMatching(\"\") removed %d, want 3", n)
	}
	if cache.Len() != 0 {
		t.Errorf("Len() = %d after flush, want 0", cache.Len())
	}
}

func TestMemoryCache_InvalidateTags(t *testing.T) {
	cache := NewMemoryCache(DefaultPolicy())
	ctx := context.Background()

	_ = cache.Set(ctx, "/recipes", []byte("a"), time.Minute, TagRecipeListing)
	_ = cache.Set(ctx, "/recipes?page=2", []byte("b"), time.Minute, TagRecipeListing)
	_ = cache.Set(ctx, "/recipes/savedRecipes/ids/u1", []byte("c"), time.Minute, TagUserSaved("u1"))

	n, err := cache.InvalidateTags(ctx, TagRecipeListing)
	if err != nil || n != 2 {
		t.Fatalf("InvalidateTags = (%d, %v), want (2, nil)", n, err)
	}
	if _, ok := cache.Get(ctx, "/recipes/savedRecipes/ids/u1"); !ok {
		t.Error("saved-recipe entry should survive listing invalidation")
	}
	if len(cache.tags) != 1 {
		t.Errorf("tag index has %d tags, want 1", len(cache.tags))
	}
}

func TestMemoryCache_SweepIdempotent(t *testing.T) {
	cache, clock, obs := newTestCache(DefaultPolicy())
	ctx := context.Background()

	_ = cache.Set(ctx, "short", []byte("1"), time.Second)
	_ = cache.Set(ctx, "long", []byte("2"), time.Hour)

	clock.Advance(time.Minute)

	if n := cache.Sweep(); n != 1 {
		t.Errorf("first Sweep removed %d, want 1", n)
	}
	if n := cache.Sweep(); n != 0 {
		t.Errorf("second Sweep removed %d, want 0", n)
	}
	if cache.Len() != 1 {
		t.Errorf("Len() = %d, want 1", cache.Len())
	}
	if got := obs.evictions(EvictSwept); got != 1 {
		t.Errorf("swept evictions = %d, want 1", got)
	}
}

func TestMemoryCache_MaxEntriesLRU(t *testing.T) {
	policy := DefaultPolicy()
	policy.MaxEntries = 2
	cache, _, obs := newTestCache(policy)
	ctx := context.Background()

	_ = cache.Set(ctx, "a", []byte("A"), time.Minute)
	_ = cache.Set(ctx, "b", []byte("B"), time.Minute)

	// Touch a so b becomes least recently used.
	if _, ok := cache.Get(ctx, "a"); !ok {
		t.Fatal("expected a to exist")
	}
	_ = cache.Set(ctx, "c", []byte("C"), time.Minute, "tag-c")

	if _, ok := cache.Get(ctx, "b"); ok {
		t.Error("expected b to be evicted")
	}
	for _, k := range []string{"a", "c"} {
		if _, ok := cache.Get(ctx, k); !ok {
			t.Errorf("expected %s to remain", k)
		}
	}
	if got := obs.evictions(EvictCapacity); got != 1 {
		t.Errorf("capacity evictions = %d, want 1", got)
	}
}

func TestMemoryCache_MaxEntriesPrefersExpired(t *testing.T) {
	policy := DefaultPolicy()
	policy.MaxEntries = 2
	cache, clock, _ := newTestCache(policy)
	ctx := context.Background()

	_ = cache.Set(ctx, "fresh", []byte("1"), time.Hour)
	_ = cache.Set(ctx, "stale", []byte("2"), time.Second)
	clock.Advance(time.Minute)
	_ = cache.Set(ctx, "new", []byte("3"), time.Hour)

	if _, ok := cache.Get(ctx, "fresh"); !ok {
		t.Error("fresh entry should survive when an expired entry can be reclaimed")
	}
}

func TestMemoryCache_ObserverEvents(t *testing.T) {
	cache, _, obs := newTestCache(DefaultPolicy())
	ctx := context.Background()

	cache.Get(ctx, "k")
	_ = cache.Set(ctx, "k", []byte("v"), time.Minute)
	cache.Get(ctx, "k")
	_ = cache.Delete(ctx, "k")

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if obs.hits != 1 || obs.misses != 1 || obs.inserts != 1 {
		t.Errorf("events hits=%d misses=%d inserts=%d, want 1/1/1", obs.hits, obs.misses, obs.inserts)
	}
	if obs.evicts[EvictInvalidated] != 1 {
		t.Errorf("invalidated evictions = %d, want 1", obs.evicts[EvictInvalidated])
	}
}

func TestMemoryCache_SetIfGeneration(t *testing.T) {
	cache, _, obs := newTestCache(DefaultPolicy())
	ctx := context.Background()
	tag := TagUserSaved("userA")

	gen := cache.Generation(tag)
	if ok, err := cache.SetIfGeneration(ctx, "fresh", []byte("v"), time.Minute, gen, tag); !ok || err != nil {
		t.Fatalf("SetIfGeneration unchanged = (%v, %v), want (true, nil)", ok, err)
	}

	// Invalidating a tag with no entries still moves its generation.
	gen = cache.Generation(tag)
	if _, err := cache.InvalidateTags(ctx, tag); err != nil {
		t.Fatal(err)
	}
	if cache.Generation(tag) == gen {
		t.Fatal("Generation unchanged after InvalidateTags")
	}
	if ok, err := cache.SetIfGeneration(ctx, "stale", []byte("v"), time.Minute, gen, tag); ok || err != nil {
		t.Errorf("SetIfGeneration after invalidation = (%v, %v), want (false, nil)", ok, err)
	}
	if _, ok := cache.Get(ctx, "stale"); ok {
		t.Error("stale payload was stored")
	}

	gen = cache.Generation()
	if _, err := cache.DeleteMatching(ctx, "nothing-matches"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := cache.SetIfGeneration(ctx, "untagged", []byte("v"), time.Minute, gen); ok {
		t.Error("SetIfGeneration stored across DeleteMatching")
	}

	if got := obs.evictions(EvictStale); got != 2 {
		t.Errorf("stale evictions = %d, want 2", got)
	}
}

func TestMemoryCache_SetIfGenerationValidates(t *testing.T) {
	cache := NewMemoryCache(DefaultPolicy())
	gen := cache.Generation()
	if _, err := cache.SetIfGeneration(context.Background(), "k", []byte("v"), time.Minute, gen, " "); err != ErrInvalidTag {
		t.Errorf("SetIfGeneration(blank tag) = %v, want %v", err, ErrInvalidTag)
	}
}

func TestMemoryCache_ConcurrentAccess(t *testing.T) {
	cache := NewMemoryCache(DefaultPolicy())
	ctx := context.Background()

	const numGoroutines = 50
	const opsPerGoroutine = 500

	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < opsPerGoroutine; j++ {
				key := fmt.Sprintf("/recipes?page=%d", j%5)
				value := []byte(fmt.Sprintf("payload-%d", id))

				switch j % 5 {
				case 0:
					_ = cache.Set(ctx, key, value, 5*time.Minute, TagRecipeListing)
				case 1:
					if got, ok := cache.Get(ctx, key); ok && !bytes.HasPrefix(got, []byte("payload-")) {
						t.Errorf("torn payload %q", got)
					}
				case 2:
					_ = cache.Delete(ctx, key)
				case 3:
					_, _ = cache.InvalidateTags(ctx, TagRecipeListing)
				case 4:
					cache.Sweep()
				}
			}
		}(i)
	}

	wg.Wait()
}

func TestMemoryCache_RunSweeps(t *testing.T) {
	policy := DefaultPolicy()
	policy.SweepInterval = 5 * time.Millisecond
	cache := NewMemoryCache(policy)
	ctx := context.Background()

	_ = cache.Set(ctx, "k", []byte("v"), 10*time.Millisecond)

	runCtx, cancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- cache.Run(runCtx) }()

	deadline := time.Now().Add(time.Second)
	for cache.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if cache.Len() != 0 {
		t.Error("sweep loop did not remove the expired entry")
	}

	cancel()
	if err := <-errCh; err != nil {
		t.Errorf("Run returned %v, want nil", err)
	}
}

func TestMemoryCache_StartStop(t *testing.T) {
	policy := DefaultPolicy()
	policy.SweepInterval = time.Millisecond
	cache := NewMemoryCache(policy)

	if err := cache.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := cache.Start(); err != ErrAlreadyRunning {
		t.Errorf("second Start = %v, want %v", err, ErrAlreadyRunning)
	}

	cache.Stop()
	cache.Stop()

	if err := cache.Start(); err != nil {
		t.Fatalf("Start after Stop failed: %v", err)
	}
	cache.Stop()
}

func TestMemoryCache_NilValue(t *testing.T) {
	cache := NewMemoryCache(DefaultPolicy())
	ctx := context.Background()

	if err := cache.Set(ctx, "k", nil, 5*time.Minute); err != nil {
		t.Fatalf("Set with nil value failed: %v", err)
	}
	got, ok := cache.Get(ctx, "k")
	if !ok || got != nil {
		t.Errorf("Get = (%q, %v), want (nil, true)", got, ok)
	}
}
