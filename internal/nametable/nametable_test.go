package nametable

import "testing"

func TestInsertGet(t *testing.T) {
	tb := New()
	tb.Insert("foo.local.", 1)
	tb.Insert("bar.local.", 2)

	v, ok := tb.Get("foo.local.")
	if !ok || v.(int) != 1 {
		t.Fatalf("Get(foo.local.) = %v, %v", v, ok)
	}
	v, ok = tb.Get("bar.local.")
	if !ok || v.(int) != 2 {
		t.Fatalf("Get(bar.local.) = %v, %v", v, ok)
	}
	if _, ok := tb.Get("missing.local."); ok {
		t.Fatalf("Get(missing.local.) found, want not found")
	}
}

func TestDuplicateKeysChain(t *testing.T) {
	tb := New()
	tb.Insert("dup.local.", "first")
	tb.Insert("dup.local.", "second")

	v, ok := tb.Get("dup.local.")
	if !ok || v.(string) != "first" {
		t.Fatalf("Get(dup.local.) = %v, %v, want first", v, ok)
	}

	count := 0
	tb.Walk(func(key string, val interface{}) bool {
		if key == "dup.local." {
			count++
		}
		return true
	})
	if count != 2 {
		t.Errorf("walked %d entries for dup.local., want 2", count)
	}
}

func TestWalkStopsEarly(t *testing.T) {
	tb := New()
	tb.Insert("a", 1)
	tb.Insert("b", 2)
	tb.Insert("c", 3)

	visited := 0
	tb.Walk(func(key string, val interface{}) bool {
		visited++
		return false
	})
	if visited != 1 {
		t.Errorf("visited = %d, want 1 (walk should stop after first false)", visited)
	}
}
