package containers

import "testing"

func TestArenaInsertGetRemove(t *testing.T) {
	a := NewArena[string](4)

	i0, g0 := a.Insert("a")
	i1, g1 := a.Insert("b")
	if a.Len() != 2 {
		t.Fatalf("expected 2 live values, got %d", a.Len())
	}

	v, ok := a.Get(i0, g0)
	if !ok || *v != "a" {
		t.Errorf("Get(%d, %d) = %v, %v", i0, g0, v, ok)
	}

	if _, ok := a.Remove(i0, g0); !ok {
		t.Fatalf("failed to remove live slot")
	}
	if _, ok := a.Get(i0, g0); ok {
		t.Errorf("removed slot still resolves")
	}
	if _, ok := a.Remove(i0, g0); ok {
		t.Errorf("double remove succeeded")
	}

	v, ok = a.Get(i1, g1)
	if !ok || *v != "b" {
		t.Errorf("untouched slot lost its value")
	}
}

func TestArenaReuseBumpsGeneration(t *testing.T) {
	a := NewArena[int](1)

	i0, g0 := a.Insert(1)
	a.Remove(i0, g0)
	i1, g1 := a.Insert(2)

	if i1 != i0 {
		t.Errorf("expected slot %d to be reused, got %d", i0, i1)
	}
	if g1 == g0 {
		t.Errorf("generation was not bumped on reuse")
	}
	if _, ok := a.Get(i0, g0); ok {
		t.Errorf("stale generation resolves after reuse")
	}
	if v, ok := a.Get(i1, g1); !ok || *v != 2 {
		t.Errorf("reused slot does not hold the new value")
	}
}

func TestArenaEach(t *testing.T) {
	a := NewArena[int](0)
	for i := 0; i < 5; i++ {
		a.Insert(i)
	}
	a.Remove(2, 1)

	sum := 0
	a.Each(func(index, generation uint32, value *int) {
		sum += *value
	})
	if sum != 0+1+3+4 {
		t.Errorf("Each visited the wrong values, sum=%d", sum)
	}
	if _, ok := a.Get(99, 1); ok {
		t.Errorf("out of range index resolves")
	}
}
