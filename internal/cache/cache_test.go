package cache

import (
	"errors"
	"testing"
)

func TestCacheGetSet(t *testing.T) {
	c := New[string, int](0, nil)

	if _, ok := c.Get("a"); ok {
		t.Fatal("empty cache returned a value")
	}
	c.Set("a", 1)
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Errorf("Get(a) = %d, %v; want 1, true", v, ok)
	}

	s := c.Stats()
	if s.Hits != 1 || s.Misses != 1 {
		t.Errorf("Stats = %+v, want 1 hit 1 miss", s)
	}
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	var evicted []string
	c := New[string, int](2, func(k string, _ int) { evicted = append(evicted, k) })

	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a") // b is now oldest
	c.Set("c", 3)

	if len(evicted) != 1 || evicted[0] != "b" {
		t.Fatalf("evicted = %v, want [b]", evicted)
	}
	if _, ok := c.Get("b"); ok {
		t.Error("b still cached")
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
	if c.Stats().Evictions != 1 {
		t.Errorf("Evictions = %d, want 1", c.Stats().Evictions)
	}
}

func TestCacheSetReplaceNotifies(t *testing.T) {
	var got []int
	c := New[string, int](0, func(_ string, v int) { got = append(got, v) })
	c.Set("a", 1)
	c.Set("a", 2)
	if len(got) != 1 || got[0] != 1 {
		t.Errorf("replaced values = %v, want [1]", got)
	}
}

func TestCacheGetOrCreate(t *testing.T) {
	c := New[int, string](0, nil)
	calls := 0
	create := func() (string, error) {
		calls++
		return "v", nil
	}

	for i := 0; i < 3; i++ {
		v, err := c.GetOrCreate(7, create)
		if err != nil || v != "v" {
			t.Fatalf("GetOrCreate = %q, %v", v, err)
		}
	}
	if calls != 1 {
		t.Errorf("create called %d times, want 1", calls)
	}

	boom := errors.New("boom")
	if _, err := c.GetOrCreate(8, func() (string, error) { return "", boom }); !errors.Is(err, boom) {
		t.Errorf("error = %v, want boom", err)
	}
	if _, ok := c.Get(8); ok {
		t.Error("failed create was cached")
	}
}

func TestCacheDeleteAndClear(t *testing.T) {
	var evicted []int
	c := New[int, int](0, func(k, _ int) { evicted = append(evicted, k) })
	c.Set(1, 1)
	c.Set(2, 2)
	c.Set(3, 3)

	if !c.Delete(2) {
		t.Error("Delete(2) = false")
	}
	if c.Delete(2) {
		t.Error("second Delete(2) = true")
	}

	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Len() after Clear = %d", c.Len())
	}
	want := []int{2, 1, 3}
	if len(evicted) != len(want) {
		t.Fatalf("evicted = %v, want %v", evicted, want)
	}
	for i := range want {
		if evicted[i] != want[i] {
			t.Fatalf("evicted = %v, want %v", evicted, want)
		}
	}
}
