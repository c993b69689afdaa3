package traces

// ring is a fixed-capacity ring of trace rows. When full, adding
// overwrites the oldest row. It is not safe for concurrent use; the
// Window serializes access.
type ring[T any] struct {
	items []T
	cap   int
	head  int // next write position
	size  int
}

func newRing[T any](capacity int) *ring[T] {
	if capacity <= 0 {
		panic("ring capacity must be greater than zero")
	}
	return &ring[T]{items: make([]T, capacity), cap: capacity}
}

func (r *ring[T]) add(item T) {
	r.items[r.head] = item
	r.head = (r.head + 1) % r.cap
	if r.size < r.cap {
		r.size++
	}
}

// all returns the contents oldest to newest. The slice is a copy.
func (r *ring[T]) all() []T {
	if r.size == 0 {
		return nil
	}

	out := make([]T, r.size)
	if r.size < r.cap {
		copy(out, r.items[:r.size])
	} else {
		n := copy(out, r.items[r.head:])
		copy(out[n:], r.items[:r.head])
	}
	return out
}

func (r *ring[T]) len() int { return r.size }

func (r *ring[T]) clear() {
	r.head = 0
	r.size = 0
	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
}
