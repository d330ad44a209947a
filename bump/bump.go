// Package bump provides the sequential cursors that every allocation tier uses to
// carve objects out of a [start, end) address range.
package bump

import (
	"github.com/cockroachdb/errors"
	"go.uber.org/atomic"
)

// Bumper is a sequential allocator over a single address range. It is not safe for
// concurrent use: it belongs to exactly one owner at a time.
//
// The zero value is empty. An empty Bumper must be filled before it is bumped;
// an exhausted Bumper is still filled, it simply has no room left.
type Bumper struct {
	filled bool

	top uintptr
	end uintptr
}

// Fill points the cursor at a new [start, end) range
func (b *Bumper) Fill(start, end uintptr) {
	if end < start {
		panic(errors.AssertionFailedf("bump range is inverted: start 0x%x, end 0x%x", start, end))
	}

	b.top = start
	b.end = end
	b.filled = true
}

func (b *Bumper) Empty() bool { return !b.filled }
func (b *Bumper) SetEmpty() {
	b.filled = false
	b.top = 0
	b.end = 0
}

func (b *Bumper) Top() uintptr       { return b.top }
func (b *Bumper) End() uintptr       { return b.end }
func (b *Bumper) Remaining() uintptr { return b.end - b.top }

// Bump reserves size bytes at the top of the range and returns their address. It
// returns 0 when the range does not have size bytes left.
func (b *Bumper) Bump(size uintptr) uintptr {
	if !b.filled {
		panic(errors.AssertionFailedf("the bumper should be filled before bumping"))
	}

	res := b.top
	newTop := res + size
	if newTop > b.end || newTop < res {
		return 0
	}

	b.top = newTop
	return res
}

// AtomicBumper is the variant of Bumper used when several threads bump the same
// range. The range itself is fixed at Fill time, before the bumper is published.
type AtomicBumper struct {
	filled bool

	top atomic.Uintptr
	end uintptr
}

// Fill must happen before the AtomicBumper is visible to other threads
func (b *AtomicBumper) Fill(start, end uintptr) {
	if end < start {
		panic(errors.AssertionFailedf("bump range is inverted: start 0x%x, end 0x%x", start, end))
	}

	b.top.Store(start)
	b.end = end
	b.filled = true
}

func (b *AtomicBumper) Empty() bool        { return !b.filled }
func (b *AtomicBumper) Top() uintptr       { return b.top.Load() }
func (b *AtomicBumper) End() uintptr       { return b.end }
func (b *AtomicBumper) Remaining() uintptr { return b.end - b.top.Load() }

// Bump is Bumper.Bump with the top advanced by compare-and-swap
func (b *AtomicBumper) Bump(size uintptr) uintptr {
	if !b.filled {
		panic(errors.AssertionFailedf("the bumper should be filled before bumping"))
	}

	for {
		res := b.top.Load()
		newTop := res + size
		if newTop > b.end || newTop < res {
			return 0
		}

		if b.top.CompareAndSwap(res, newTop) {
			return res
		}
	}
}
