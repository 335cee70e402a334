package state

import (
	"sync"
	"testing"
)

func TestRingBasic(t *testing.T) {
	r := NewRing[int](3)

	if r.All() != nil {
		t.Fatal("expected nil from empty ring")
	}

	r.Add(1)
	r.Add(2)

	all := r.All()
	if len(all) != 2 || all[0] != 1 || all[1] != 2 {
		t.Fatalf("expected [1 2], got %v", all)
	}
}

func TestRingWrapping(t *testing.T) {
	r := NewRing[int](3)
	for i := 1; i <= 5; i++ {
		r.Add(i)
	}

	expected := []int{3, 4, 5}
	all := r.All()
	if len(all) != len(expected) {
		t.Fatalf("expected %d items, got %d", len(expected), len(all))
	}
	for i, v := range all {
		if v != expected[i] {
			t.Errorf("at index %d: expected %d, got %d", i, expected[i], v)
		}
	}
}

func TestRingZeroCapacityPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for zero capacity")
		}
	}()
	NewRing[int](0)
}

func TestRingConcurrentAccess(t *testing.T) {
	r := NewRing[int](100)
	var wg sync.WaitGroup

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				r.Add(i)
				_ = r.All()
			}
		}()
	}
	wg.Wait()

	if n := len(r.All()); n != 100 {
		t.Errorf("expected full ring, got %d", n)
	}
}
