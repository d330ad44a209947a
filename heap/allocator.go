// Package heap implements the global block allocator: it hands out runs of whole
// blocks, takes them back with eager coalescing, and parks partially full blocks for
// recycling.
package heap

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/immix"
	"github.com/vkngwrapper/immix/avl"
	"github.com/vkngwrapper/immix/block"
	"github.com/vkngwrapper/immix/internal/utils"
	"github.com/vkngwrapper/immix/lines"
	"go.uber.org/atomic"
	"golang.org/x/exp/slog"
)

// Allocator is the global block allocator of a heap.
//
// Free runs larger than a single block are filed in an ordered index keyed by run
// length; each key holds a stack of runs of that length. Freed single blocks are
// parked on a lock-free stack so the common single-block request never takes the
// heap lock. Partially full blocks are parked on a lock-free stack per generation.
type Allocator struct {
	logger *slog.Logger
	flags  CreateFlags

	lock         utils.OptionalMutex
	table        *block.Table
	lines        *lines.Table
	index        avl.Tree[int, *block.SizeStack]
	cacheSingles bool

	singles  *block.Stack
	recycled [block.GenerationCount]*block.Stack

	freeBlocks   atomic.Int64
	activeBlocks [block.GenerationCount]atomic.Int64
	destroyed    atomic.Bool
}

func (a *Allocator) Capacity() int           { return a.table.Len() }
func (a *Allocator) Start() uintptr          { return a.table.Start() }
func (a *Allocator) End() uintptr            { return a.table.End() }
func (a *Allocator) BlockSize() uintptr      { return a.table.BlockSize() }
func (a *Allocator) LineSize() uintptr       { return a.lines.LineSize() }
func (a *Allocator) LinesPerBlock() int      { return a.table.LinesPerBlock() }
func (a *Allocator) Table() *block.Table     { return a.table }
func (a *Allocator) LineTable() *lines.Table { return a.lines }
func (a *Allocator) Flags() CreateFlags      { return a.flags }

// FreeBlocks is the number of blocks not owned by any caller, cached singles included
func (a *Allocator) FreeBlocks() int {
	return int(a.freeBlocks.Load())
}

// ActiveBlocks is the number of blocks of a generation owned by callers, recyclable
// blocks included
func (a *Allocator) ActiveBlocks(generation block.Generation) int {
	return int(a.activeBlocks[generation].Load())
}

// TotalActiveBlocks sums ActiveBlocks over every generation
func (a *Allocator) TotalActiveBlocks() int {
	total := 0
	for gen := range a.activeBlocks {
		total += int(a.activeBlocks[gen].Load())
	}
	return total
}

// Allocate hands out a run of exactly n contiguous blocks tagged with generation, or
// nil if no free run is large enough. The run's lines are clean and its cursor is
// empty.
func (a *Allocator) Allocate(n int, generation block.Generation) *block.Block {
	if n < 1 {
		panic(errors.AssertionFailedf("cannot allocate a run of %d blocks", n))
	}
	a.assertGeneration(generation)

	if n == 1 {
		b := a.singles.Pop()
		if b != nil {
			if !b.TransitionState(block.StateCached, block.StateOccupied) {
				panic(errors.AssertionFailedf("block %d was on the single-block stack in state %s", b.Index(), b.State()))
			}
			a.claim(b, generation)
			return b
		}
	}

	if n > a.table.Len() {
		return nil
	}

	a.lock.Lock()
	b := a.allocateLocked(n)
	if b == nil && !a.singles.Empty() {
		// Parked singles may coalesce into a large enough run
		a.drainSinglesLocked()
		b = a.allocateLocked(n)
	}
	a.lock.Unlock()

	if b == nil {
		a.logger.LogAttrs(context.Background(), slog.LevelDebug, "heap exhausted",
			slog.Int("blocks", n),
			slog.Int("freeBlocks", a.FreeBlocks()),
		)
		return nil
	}

	a.claim(b, generation)
	return b
}

func (a *Allocator) allocateLocked(n int) *block.Block {
	node := a.index.FindEqualOrSuccessor(n)
	if node == nil {
		return nil
	}

	stack := node.Value()
	b := stack.Pop()
	if stack.Empty() {
		a.index.Erase(node.Key())
	}

	if b.Blocks() > n {
		tail := a.table.Partition(b, n)
		a.refileLocked(b)
		b = tail
	}

	b.SetState(block.StateOccupied)
	return b
}

func (a *Allocator) claim(b *block.Block, generation block.Generation) {
	b.SetGeneration(generation)
	b.ResetAllocationState()

	n := int64(b.Blocks())
	a.freeBlocks.Sub(n)
	a.activeBlocks[generation].Add(n)
}

// Reclaim returns an occupied run to the heap. Its lines are cleared and it is
// merged with any free run directly before or after it.
func (a *Allocator) Reclaim(b *block.Block) {
	if !b.IsHeader() {
		panic(errors.AssertionFailedf("cannot reclaim block %d: it is inside the run at block %d", b.Index(), b.Header()))
	}
	if b.State() != block.StateOccupied {
		panic(errors.AssertionFailedf("cannot reclaim block %d in state %s", b.Index(), b.State()))
	}

	b.ResetAllocationState()
	b.ClearLines()

	n := int64(b.Blocks())
	generation := b.Generation()

	a.lock.Lock()
	if !b.TransitionState(block.StateOccupied, block.StateFree) {
		a.lock.Unlock()
		panic(errors.AssertionFailedf("block %d was reclaimed twice", b.Index()))
	}

	a.activeBlocks[generation].Sub(n)
	a.freeBlocks.Add(n)

	merged := a.coalesceLocked(b)
	coalesced := merged.Blocks()
	a.refileLocked(merged)
	if immix.DebugEnabled {
		err := a.validateIndexLocked()
		if err != nil {
			panic(err)
		}
	}
	a.lock.Unlock()

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "run reclaimed",
		slog.Int("index", b.Index()),
		slog.Int("blocks", int(n)),
		slog.Int("coalescedBlocks", coalesced),
	)
}

// coalesceLocked merges b with its free physical neighbors and returns the head of
// the merged run. Cached singles are not merged: they are off the free index until
// the single-block stack is drained.
func (a *Allocator) coalesceLocked(b *block.Block) *block.Block {
	prev := a.table.Prev(b)
	if prev != nil && prev.State() == block.StateFree {
		a.detachLocked(prev)
		a.table.Merge(prev, b)
		b = prev
	}

	next := a.table.Next(b)
	if next != nil && next.State() == block.StateFree {
		a.detachLocked(next)
		a.table.Merge(b, next)
	}

	return b
}

func (a *Allocator) detachLocked(b *block.Block) {
	stack := b.Stack()
	if stack == nil {
		panic(errors.AssertionFailedf("free block %d is not filed in the free index", b.Index()))
	}

	stack.Erase(b)
	if stack.Empty() {
		a.index.Erase(stack.Blocks())
	}
}

// refileLocked files a free run, parking single blocks on the lock-free stack
func (a *Allocator) refileLocked(b *block.Block) {
	if a.cacheSingles && b.Blocks() == 1 {
		b.SetState(block.StateCached)
		a.singles.Push(b)
		return
	}

	a.fileLocked(b)
}

func (a *Allocator) fileLocked(b *block.Block) {
	b.SetState(block.StateFree)

	var stack *block.SizeStack
	node := a.index.Find(b.Blocks())
	if node != nil {
		stack = node.Value()
	} else {
		stack = block.NewSizeStack(b.Blocks())
		a.index.Insert(b.Blocks(), stack)
	}

	stack.Push(b)
}

// drainSinglesLocked moves every parked single block into the free index,
// coalescing as it goes
func (a *Allocator) drainSinglesLocked() int {
	drained := a.singles.PopAll(func(b *block.Block) {
		if !b.TransitionState(block.StateCached, block.StateFree) {
			panic(errors.AssertionFailedf("block %d was on the single-block stack in state %s", b.Index(), b.State()))
		}

		a.fileLocked(a.coalesceLocked(b))
	})

	if drained > 0 {
		a.logger.LogAttrs(context.Background(), slog.LevelDebug, "single-block stack drained",
			slog.Int("blocks", drained),
			slog.Int("freeRuns", a.freeRunCountLocked()),
		)
	}

	return drained
}

func (a *Allocator) freeRunCountLocked() int {
	count := 0
	a.index.IterateInorder(func(node *avl.Node[int, *block.SizeStack]) {
		count += node.Value().Len()
	})
	return count
}

// AllocReusing pops a partially full block of the given generation that was parked
// by ReclaimForReusing, or returns nil. Its line markers are kept, so allocation into
// it must go through AllocRecycled.
func (a *Allocator) AllocReusing(generation block.Generation) *block.Block {
	a.assertGeneration(generation)

	b := a.recycled[generation].Pop()
	if b == nil {
		return nil
	}

	if !b.TransitionState(block.StateRecyclable, block.StateOccupied) {
		panic(errors.AssertionFailedf("block %d was on a recycle stack in state %s", b.Index(), b.State()))
	}
	b.ResetAllocationState()

	return b
}

// ReclaimForReusing parks an occupied block with some clean lines on the recycle
// stack of its generation. The block stays accounted as active.
func (a *Allocator) ReclaimForReusing(b *block.Block) {
	if !b.IsHeader() {
		panic(errors.AssertionFailedf("cannot recycle block %d: it is inside the run at block %d", b.Index(), b.Header()))
	}
	if !b.TransitionState(block.StateOccupied, block.StateRecyclable) {
		panic(errors.AssertionFailedf("cannot recycle block %d in state %s", b.Index(), b.State()))
	}

	a.recycled[b.Generation()].Push(b)
}

// RecyclableBlocks is the number of blocks parked for reuse in a generation
func (a *Allocator) RecyclableBlocks(generation block.Generation) int {
	return a.recycled[generation].Len()
}

// CachedBlocks is the number of free single blocks parked on the lock-free stack
func (a *Allocator) CachedBlocks() int {
	return a.singles.Len()
}

// Stop prepares the heap for a collection. Parked single blocks are filed back into
// the free index, and every recyclable block is taken off its recycle stack and
// handed to visit. Those blocks become occupied again and remain owned by the
// caller, who decides whether to Reclaim or recycle them.
func (a *Allocator) Stop(visit func(b *block.Block)) {
	a.lock.Lock()
	drained := a.drainSinglesLocked()
	a.lock.Unlock()

	recycled := 0
	for gen := range a.recycled {
		recycled += a.recycled[gen].PopAll(func(b *block.Block) {
			if !b.TransitionState(block.StateRecyclable, block.StateOccupied) {
				panic(errors.AssertionFailedf("block %d was on a recycle stack in state %s", b.Index(), b.State()))
			}

			if visit != nil {
				visit(b)
			}
		})
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "heap stopped",
		slog.Int("drainedSingles", drained),
		slog.Int("recyclableBlocks", recycled),
		slog.Int("freeBlocks", a.FreeBlocks()),
	)
}

// Mark records a live object at [addr, addr+size) in the line table
func (a *Allocator) Mark(addr uintptr, size uintptr) {
	a.lines.Mark(addr, size)
}

// BlockFor returns the run containing addr. It must only be used on runs the caller
// owns or while the heap is quiescent.
func (a *Allocator) BlockFor(addr uintptr) *block.Block {
	return a.table.BlockFor(addr)
}

// Contains reports whether addr lies inside the heap's range
func (a *Allocator) Contains(addr uintptr) bool {
	return addr >= a.table.Start() && addr < a.table.End()
}

// Destroy tears the heap down. Every run still owned by a caller is logged and an
// error is returned; the heap must not be used afterwards either way.
func (a *Allocator) Destroy() error {
	if !a.destroyed.CompareAndSwap(false, true) {
		return errors.New("the heap has already been destroyed")
	}

	a.Stop(nil)

	a.lock.Lock()
	defer a.lock.Unlock()

	unreleased := 0
	a.table.Runs(func(b *block.Block) {
		if b.State() == block.StateFree || b.State() == block.StateCached {
			return
		}

		unreleased++
		a.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY] run was not reclaimed",
			slog.Int("index", b.Index()),
			slog.String("start", fmt.Sprintf("0x%x", b.Start())),
			slog.Int("blocks", b.Blocks()),
			slog.String("generation", b.Generation().String()),
			slog.Int("dirtyLines", b.DirtyLines()),
		)
	})

	a.index.Clear(nil)

	if unreleased > 0 {
		return errors.Newf("%d runs were not reclaimed before the destruction of this heap!", unreleased)
	}

	return nil
}

func (a *Allocator) assertGeneration(generation block.Generation) {
	if generation < 0 || int(generation) >= block.GenerationCount {
		panic(errors.AssertionFailedf("invalid generation %s", generation))
	}
}
