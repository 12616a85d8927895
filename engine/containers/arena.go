package containers

// Arena stores values in reusable slots. Every slot carries a generation that
// is bumped when the slot is released, so an index paired with an old
// generation no longer resolves.
type Arena[T any] struct {
	slots []arenaSlot[T]
	free  []uint32
	count int
}

type arenaSlot[T any] struct {
	value      T
	generation uint32
	occupied   bool
}

func NewArena[T any](capacity int) *Arena[T] {
	return &Arena[T]{
		slots: make([]arenaSlot[T], 0, capacity),
	}
}

// Insert stores value and returns its slot index and generation. Free slots
// are reused before the arena grows.
func (a *Arena[T]) Insert(value T) (uint32, uint32) {
	if n := len(a.free); n > 0 {
		index := a.free[n-1]
		a.free = a.free[:n-1]
		s := &a.slots[index]
		s.value = value
		s.occupied = true
		a.count++
		return index, s.generation
	}
	// Generations start at 1 so the zero value of an index/generation pair
	// never names a live slot.
	a.slots = append(a.slots, arenaSlot[T]{value: value, generation: 1, occupied: true})
	a.count++
	return uint32(len(a.slots) - 1), 1
}

// Get returns a pointer to the value at index if generation still matches.
func (a *Arena[T]) Get(index, generation uint32) (*T, bool) {
	if int(index) >= len(a.slots) {
		return nil, false
	}
	s := &a.slots[index]
	if !s.occupied || s.generation != generation {
		return nil, false
	}
	return &s.value, true
}

// Remove releases the slot. It returns the stored value and false if the
// index/generation pair was not live.
func (a *Arena[T]) Remove(index, generation uint32) (T, bool) {
	var zero T
	if int(index) >= len(a.slots) {
		return zero, false
	}
	s := &a.slots[index]
	if !s.occupied || s.generation != generation {
		return zero, false
	}
	value := s.value
	s.value = zero
	s.occupied = false
	s.generation++
	a.free = append(a.free, index)
	a.count--
	return value, true
}

// Len returns the number of live values.
func (a *Arena[T]) Len() int {
	return a.count
}

// Each calls fn for every live value in slot order.
func (a *Arena[T]) Each(fn func(index, generation uint32, value *T)) {
	for i := range a.slots {
		s := &a.slots[i]
		if s.occupied {
			fn(uint32(i), s.generation, &s.value)
		}
	}
}
