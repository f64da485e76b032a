package cache

import (
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
)

// value returns a create func yielding v.
func value(v int) func() (int, error) {
	return func() (int, error) { return v, nil }
}

// cached reports whether key is present without creating it.
func cached(c *Cache[string, int], key string) bool {
	_, err := c.GetOrCreate(key, func() (int, error) { return 0, errMissing })
	return err == nil
}

var errMissing = errors.New("missing")

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := New[string, int](3)
	_, _ = c.GetOrCreate("a", value(1))
	_, _ = c.GetOrCreate("b", value(2))
	_, _ = c.GetOrCreate("c", value(3))
	_, _ = c.GetOrCreate("a", value(0)) // b is now oldest
	_, _ = c.GetOrCreate("d", value(4))

	if cached(c, "b") {
		t.Error("b should have been evicted")
	}
	for _, k := range []string{"a", "c", "d"} {
		if !cached(c, k) {
			t.Errorf("%s should still be cached", k)
		}
	}
	if s := c.Stats(); s.Evictions != 1 || s.Len != 3 || s.Capacity != 3 {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestCacheUnlimited(t *testing.T) {
	c := New[string, int](0)
	for i := 0; i < 1000; i++ {
		_, _ = c.GetOrCreate(strconv.Itoa(i), value(i))
	}
	if c.Len() != 1000 {
		t.Errorf("Len() = %d, want 1000", c.Len())
	}
}

func TestCacheGetOrCreate(t *testing.T) {
	c := New[string, int](10)
	calls := 0
	create := func(v int, err error) func() (int, error) {
		return func() (int, error) {
			calls++
			return v, err
		}
	}

	if v, err := c.GetOrCreate("k", create(100, nil)); v != 100 || err != nil {
		t.Fatalf("GetOrCreate() = %d, %v", v, err)
	}
	if v, _ := c.GetOrCreate("k", create(200, nil)); v != 100 {
		t.Errorf("cached GetOrCreate() = %d, want 100", v)
	}
	if calls != 1 {
		t.Errorf("create called %d times, want 1", calls)
	}

	boom := errors.New("boom")
	if _, err := c.GetOrCreate("bad", create(0, boom)); !errors.Is(err, boom) {
		t.Errorf("GetOrCreate() error = %v, want boom", err)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, failed creation should not be cached", c.Len())
	}
}

func TestStatsHitRate(t *testing.T) {
	c := New[string, int](4)
	if c.Stats().HitRate() != 0 {
		t.Error("HitRate before lookups should be 0")
	}
	_, _ = c.GetOrCreate("a", value(1)) // miss
	_, _ = c.GetOrCreate("a", value(1))
	_, _ = c.GetOrCreate("a", value(1))
	_, _ = c.GetOrCreate("a", value(1))
	s := c.Stats()
	if s.Hits != 3 || s.Misses != 1 || s.HitRate() != 0.75 {
		t.Errorf("Stats() = %+v, HitRate %v", s, s.HitRate())
	}
}

func TestCacheConcurrentGetOrCreate(t *testing.T) {
	c := New[string, int](8)
	var created atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := strconv.Itoa(i % 4)
			_, _ = c.GetOrCreate(key, func() (int, error) {
				created.Add(1)
				return i, nil
			})
		}(i)
	}
	wg.Wait()
	if created.Load() != 4 {
		t.Errorf("created %d values, want 4", created.Load())
	}
}

func TestLRUList(t *testing.T) {
	var l lruList[int, string]
	a := l.pushFront(1, "a")
	l.pushFront(2, "b")
	l.pushFront(3, "c")
	l.moveToFront(a)

	want := []int{2, 3, 1}
	for i, k := range want {
		n := l.removeOldest()
		if n == nil || n.key != k {
			t.Fatalf("removeOldest #%d = %v, want key %d", i, n, k)
		}
	}
	if l.removeOldest() != nil || l.len != 0 || l.head != nil || l.tail != nil {
		t.Error("list should be empty")
	}
}
