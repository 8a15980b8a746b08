package cache_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/calvinalkan/courtbook/internal/cache"
)

type recordingObserver struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingObserver) ObserveCache(name string, hit bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, fmt.Sprintf("%s:%v", name, hit))
}

func Test_Cache_Get_Returns_Miss_Then_Hit_After_Set(t *testing.T) {
	t.Parallel()

	obs := &recordingObserver{}
	c := cache.New[[]string]("members", obs)

	if _, ok := c.Get("members:all"); ok {
		t.Fatalf("Get on empty cache: ok=true")
	}

	c.Set("members:all", []string{"a", "b"})

	got, ok := c.Get("members:all")
	if !ok {
		t.Fatalf("Get after Set: ok=false")
	}

	if diff := cmp.Diff([]string{"a", "b"}, got); diff != "" {
		t.Fatalf("value mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff([]string{"members:false", "members:true"}, obs.events); diff != "" {
		t.Fatalf("observer events (-want +got):\n%s", diff)
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 || stats.Entries != 1 {
		t.Fatalf("stats=%+v, want 1 hit, 1 miss, 1 entry", stats)
	}
}

func Test_Cache_Invalidate_Removes_Only_Named_Keys(t *testing.T) {
	t.Parallel()

	c := cache.New[int]("test", nil)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	c.Invalidate("a", "c", "missing")

	if _, ok := c.Get("a"); ok {
		t.Errorf("a still cached")
	}

	if _, ok := c.Get("c"); ok {
		t.Errorf("c still cached")
	}

	if v, ok := c.Get("b"); !ok || v != 2 {
		t.Errorf("b=%d,%v; want 2,true", v, ok)
	}
}

func Test_Cache_InvalidatePrefix_And_Clear(t *testing.T) {
	t.Parallel()

	c := cache.New[int]("test", nil)
	c.Set("availability:2026-02-10", 1)
	c.Set("availability:2026-02-11", 2)
	c.Set("reservation:id:x", 3)

	c.InvalidatePrefix("availability:")

	if got, want := c.Len(), 1; got != want {
		t.Fatalf("Len()=%d, want %d", got, want)
	}

	c.Clear()

	if got := c.Len(); got != 0 {
		t.Fatalf("Len() after Clear=%d, want 0", got)
	}
}

func Test_Cache_SetIfUnchanged_Drops_Value_When_Invalidated_Since_Read(t *testing.T) {
	t.Parallel()

	c := cache.New[string]("test", nil)

	gen := c.Generation()

	// A writer invalidates between the reader's disk load and its publish.
	c.Invalidate("availability:2026-02-10")

	if c.SetIfUnchanged("availability:2026-02-10", "stale view", gen) {
		t.Fatalf("SetIfUnchanged stored a value loaded before an invalidation")
	}

	if _, ok := c.Get("availability:2026-02-10"); ok {
		t.Fatalf("stale value visible")
	}

	gen = c.Generation()
	if !c.SetIfUnchanged("availability:2026-02-10", "fresh view", gen) {
		t.Fatalf("SetIfUnchanged refused a value with current generation")
	}
}

func Test_Cache_Is_Safe_For_Concurrent_Use(t *testing.T) {
	t.Parallel()

	c := cache.New[int]("test", nil)

	var wg sync.WaitGroup

	for i := range 8 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for j := range 200 {
				key := fmt.Sprintf("k%d", j%10)
				gen := c.Generation()

				c.Get(key)
				c.SetIfUnchanged(key, i*j, gen)

				if j%17 == 0 {
					c.Invalidate(key)
				}
			}
		}()
	}

	wg.Wait()

	if c.Len() > 10 {
		t.Fatalf("Len()=%d, want <= 10", c.Len())
	}
}
