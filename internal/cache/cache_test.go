package cache

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestCache_GetSet(t *testing.T) {
	c := New[string, int](0)
	if _, ok := c.Get("a"); ok {
		t.Fatal("Get on empty cache found a value")
	}
	c.Set("a", 1)
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Errorf("Get(a) = %d, %v; want 1, true", v, ok)
	}
	c.Set("a", 2)
	if v, _ := c.Get("a"); v != 2 {
		t.Errorf("Get(a) after overwrite = %d, want 2", v)
	}
	if got := c.Len(); got != 1 {
		t.Errorf("Len = %d, want 1", got)
	}
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := New[int, int](2)
	c.Set(1, 1)
	c.Set(2, 2)
	c.Get(1) // 2 is now the oldest
	c.Set(3, 3)

	if _, ok := c.Get(2); ok {
		t.Error("entry 2 not evicted")
	}
	for _, k := range []int{1, 3} {
		if _, ok := c.Get(k); !ok {
			t.Errorf("entry %d evicted", k)
		}
	}
	if s := c.Stats(); s.Evictions != 1 || s.Len != 2 || s.Limit != 2 {
		t.Errorf("Stats = %+v", s)
	}
}

func TestCache_GetOrCreate(t *testing.T) {
	c := New[string, int](0)
	calls := 0
	create := func() (int, error) {
		calls++
		return 7, nil
	}

	for range 3 {
		v, err := c.GetOrCreate("k", create)
		if err != nil || v != 7 {
			t.Fatalf("GetOrCreate = %d, %v", v, err)
		}
	}
	if calls != 1 {
		t.Errorf("create called %d times, want 1", calls)
	}
	if s := c.Stats(); s.Hits != 2 || s.Misses != 1 {
		t.Errorf("Stats = %+v, want 2 hits 1 miss", s)
	}
}

func TestCache_GetOrCreateErrorNotCached(t *testing.T) {
	c := New[string, int](0)
	errBoom := errors.New("boom")

	if _, err := c.GetOrCreate("k", func() (int, error) { return 0, errBoom }); !errors.Is(err, errBoom) {
		t.Fatalf("err = %v, want errBoom", err)
	}
	if c.Len() != 0 {
		t.Fatal("failed create was cached")
	}
	if v, err := c.GetOrCreate("k", func() (int, error) { return 5, nil }); err != nil || v != 5 {
		t.Errorf("retry = %d, %v; want 5, nil", v, err)
	}
}

func TestCache_Clear(t *testing.T) {
	c := New[int, int](0)
	for i := range 10 {
		c.Set(i, i)
	}
	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Len after Clear = %d", c.Len())
	}
}

func TestCache_ConcurrentGetOrCreate(t *testing.T) {
	c := New[int, int](0)
	var calls atomic.Int32
	var wg sync.WaitGroup
	for range 16 {
		wg.Go(func() {
			_, _ = c.GetOrCreate(1, func() (int, error) {
				calls.Add(1)
				return 1, nil
			})
		})
	}
	wg.Wait()
	if n := calls.Load(); n != 1 {
		t.Errorf("create called %d times, want 1", n)
	}
}

func BenchmarkCache_GetOrCreateHit(b *testing.B) {
	c := New[int, int](16)
	c.Set(1, 1)
	create := func() (int, error) { return 1, nil }
	b.ReportAllocs()
	for b.Loop() {
		_, _ = c.GetOrCreate(1, create)
	}
}
