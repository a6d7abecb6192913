package kernel

import "sync/atomic"

// Cell hands out exclusive access to a value, one holder at a time.
//
// The kernel runs every task on a single hart, so contention is impossible
// unless a guard is held across a point where another path borrows the same
// cell (e.g. keeping a TCB borrowed into a scheduling decision). That is a
// kernel bug and Borrow panics instead of blocking. A multi-core kernel must
// turn this into a real lock.
type Cell[T any] struct {
	borrowed atomic.Bool
	val      T
}

// Borrow returns the guarded value and the function that gives it back.
// The release function may be called more than once; only the first call
// has an effect, so an early release followed by a deferred one is fine.
func (c *Cell[T]) Borrow() (*T, func()) {
	if !c.borrowed.CompareAndSwap(false, true) {
		panic("kernel: cell already exclusively borrowed")
	}

	var done atomic.Bool

	return &c.val, func() {
		if done.CompareAndSwap(false, true) {
			c.borrowed.Store(false)
		}
	}
}

// With runs f with exclusive access to the value.
func (c *Cell[T]) With(f func(v *T)) {
	v, release := c.Borrow()
	defer release()

	f(v)
}
