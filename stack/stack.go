// Package stack implements the fixed-capacity register file shared by
// every opcode handler: a slot array with a logical top pointer,
// absolute/relative indexing, and the primitive operations the VM's
// host API is built from.
package stack

import (
	"fmt"

	"github.com/speedata/go-lua54vm/value"
)

// Stack is a LIFO slot array. Values are copied on push/get; there is
// no aliasing between slots (a tree-value model, not a
// reference-counted one).
type Stack struct {
	slots []value.Value
	top   int
}

// New returns a Stack pre-sized to capacity slots.
func New(capacity int) *Stack {
	return &Stack{slots: make([]value.Value, capacity)}
}

// Top returns the number of live slots.
func (s *Stack) Top() int { return s.top }

// Capacity returns the backing storage size.
func (s *Stack) Capacity() int { return len(s.slots) }

// SetTop adjusts the logical top directly, growing backing storage if
// needed and zero-filling any newly exposed slots with Nil.
func (s *Stack) SetTop(n int) {
	if n > len(s.slots) {
		s.grow(n)
	}
	for i := s.top; i < n; i++ {
		s.slots[i] = value.Nil
	}
	s.top = n
}

// Check ensures at least n free slots above top, growing backing
// storage if needed.
func (s *Stack) Check(n int) {
	if need := s.top + n; need > len(s.slots) {
		s.grow(need)
	}
}

func (s *Stack) grow(need int) {
	next := make([]value.Value, need)
	copy(next, s.slots)
	s.slots = next
}

// Push appends v above top. It fails with overflow if top == capacity.
func (s *Stack) Push(v value.Value) error {
	if s.top == len(s.slots) {
		return fmt.Errorf("stack: overflow (capacity %d)", len(s.slots))
	}
	s.slots[s.top] = v
	s.top++
	return nil
}

// Pop removes and returns the most recently pushed Value.
func (s *Stack) Pop() (value.Value, error) {
	if s.top == 0 {
		return value.Nil, fmt.Errorf("stack: underflow")
	}
	s.top--
	v := s.slots[s.top]
	s.slots[s.top] = value.Nil
	return v, nil
}

// AbsIndex normalizes a possibly-negative index: non-negative i maps
// to slot i; negative i maps to top+i (-1 is the most recent push).
func (s *Stack) AbsIndex(i int) int {
	if i >= 0 {
		return i
	}
	return s.top + i
}

// Get returns the Value at the normalized index i.
func (s *Stack) Get(i int) (value.Value, error) {
	idx := s.AbsIndex(i)
	if idx < 0 || idx >= s.top {
		return value.Nil, fmt.Errorf("stack: index %d out of range [0, %d)", idx, s.top)
	}
	return s.slots[idx], nil
}

// Set stores v at the normalized index i. The slot must already be
// live (idx < top); Set does not move top.
func (s *Stack) Set(i int, v value.Value) error {
	idx := s.AbsIndex(i)
	if idx < 0 || idx >= s.top {
		return fmt.Errorf("stack: index %d out of range [0, %d)", idx, s.top)
	}
	s.slots[idx] = v
	return nil
}

// Reverse in-place reverses the contiguous range [from, to). It is the
// primitive Rotate is built from.
func (s *Stack) Reverse(from, to int) error {
	if from < 0 || to > s.top || from > to {
		return fmt.Errorf("stack: invalid reverse range [%d, %d) with top %d", from, to, s.top)
	}
	for i, j := from, to-1; i < j; i, j = i+1, j-1 {
		s.slots[i], s.slots[j] = s.slots[j], s.slots[i]
	}
	return nil
}

// Rotate performs a ring rotation of [abs(index), top) by n positions,
// implemented as three reversals exactly as the reference C
// implementation's `lua_rotate` does.
func (s *Stack) Rotate(index, n int) error {
	from := s.AbsIndex(index)
	to := s.top
	if from < 0 || from > to {
		return fmt.Errorf("stack: invalid rotate start %d with top %d", from, to)
	}
	size := to - from
	if size == 0 {
		return nil
	}
	n = ((n % size) + size) % size
	mid := to - n
	if err := s.Reverse(from, mid); err != nil {
		return err
	}
	if err := s.Reverse(mid, to); err != nil {
		return err
	}
	return s.Reverse(from, to)
}

// Insert is Rotate(index, 1): it shifts the element currently at top-1
// down to index, sliding the rest up by one.
func (s *Stack) Insert(index int) error {
	return s.Rotate(index, 1)
}
