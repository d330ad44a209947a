package heap

import (
	"github.com/dolthub/swiss"
	"github.com/pkg/errors"
	"github.com/vkngwrapper/immix/avl"
	"github.com/vkngwrapper/immix/block"
)

// Validate checks the block table, the free index and the block counters against
// each other. It must only be called while no other goroutine is using the heap.
func (a *Allocator) Validate() error {
	a.lock.Lock()
	defer a.lock.Unlock()

	err := a.table.Validate()
	if err != nil {
		return err
	}

	err = a.validateIndexLocked()
	if err != nil {
		return err
	}

	// Free run length -> number of runs, as found by walking the table
	freeRuns := swiss.NewMap[int, int](uint32(a.index.Size() + 1))
	var freeBlocks, cachedBlocks int
	var activeBlocks, recyclableBlocks [block.GenerationCount]int
	var prevFree bool

	a.table.Runs(func(b *block.Block) {
		isFree := b.State() == block.StateFree
		if isFree && prevFree && err == nil {
			err = errors.Errorf("free run at block %d directly follows another free run and should have been coalesced", b.Index())
		}
		prevFree = isFree

		switch b.State() {
		case block.StateFree:
			count, _ := freeRuns.Get(b.Blocks())
			freeRuns.Put(b.Blocks(), count+1)
			freeBlocks += b.Blocks()
		case block.StateCached:
			if b.Blocks() != 1 && err == nil {
				err = errors.Errorf("cached run at block %d has %d blocks", b.Index(), b.Blocks())
			}
			cachedBlocks += b.Blocks()
		case block.StateOccupied:
			activeBlocks[b.Generation()] += b.Blocks()
		case block.StateRecyclable:
			activeBlocks[b.Generation()] += b.Blocks()
			recyclableBlocks[b.Generation()]++
		}
	})
	if err != nil {
		return err
	}

	if freeRuns.Count() != a.index.Size() {
		return errors.Errorf("the table holds free runs of %d different lengths, but the free index has %d entries", freeRuns.Count(), a.index.Size())
	}
	freeRuns.Iter(func(blocks int, count int) bool {
		node := a.index.Find(blocks)
		if node == nil {
			err = errors.Errorf("the table holds %d free runs of %d blocks, but the free index has no entry for them", count, blocks)
			return true
		}
		if node.Value().Len() != count {
			err = errors.Errorf("the table holds %d free runs of %d blocks, but the free index has %d", count, blocks, node.Value().Len())
			return true
		}
		return false
	})
	if err != nil {
		return err
	}

	if cachedBlocks != a.singles.Len() {
		return errors.Errorf("the table holds %d cached blocks, but the single-block stack has %d", cachedBlocks, a.singles.Len())
	}

	if int(a.freeBlocks.Load()) != freeBlocks+cachedBlocks {
		return errors.Errorf("the heap counts %d free blocks, but the table holds %d", a.freeBlocks.Load(), freeBlocks+cachedBlocks)
	}

	total := int(a.freeBlocks.Load())
	for gen := 0; gen < block.GenerationCount; gen++ {
		counted := int(a.activeBlocks[gen].Load())
		if counted != activeBlocks[gen] {
			return errors.Errorf("the heap counts %d active blocks for %s, but the table holds %d", counted, block.Generation(gen), activeBlocks[gen])
		}
		if a.recycled[gen].Len() != recyclableBlocks[gen] {
			return errors.Errorf("the table holds %d recyclable runs for %s, but the recycle stack has %d", recyclableBlocks[gen], block.Generation(gen), a.recycled[gen].Len())
		}
		total += counted
	}

	if total != a.table.Len() {
		return errors.Errorf("free and active blocks add up to %d, but the heap capacity is %d", total, a.table.Len())
	}

	return nil
}

// validateIndexLocked checks every run filed in the free index
func (a *Allocator) validateIndexLocked() error {
	err := a.index.Validate()
	if err != nil {
		return err
	}

	a.index.IterateInorder(func(node *avl.Node[int, *block.SizeStack]) {
		if err != nil {
			return
		}

		stack := node.Value()
		if stack.Blocks() != node.Key() {
			err = errors.Errorf("the free index entry for %d blocks holds the stack for %d blocks", node.Key(), stack.Blocks())
			return
		}
		if stack.Empty() {
			err = errors.Errorf("the free index entry for %d blocks is empty", node.Key())
			return
		}

		stack.Iterate(func(b *block.Block) {
			if err != nil {
				return
			}

			if !b.IsHeader() {
				err = errors.Errorf("block %d is filed for %d blocks but does not head a run", b.Index(), node.Key())
			} else if b.Blocks() != node.Key() {
				err = errors.Errorf("run at block %d of %d blocks is filed for %d blocks", b.Index(), b.Blocks(), node.Key())
			} else if b.State() != block.StateFree {
				err = errors.Errorf("run at block %d is filed in the free index in state %s", b.Index(), b.State())
			} else if b.Stack() != stack {
				err = errors.Errorf("run at block %d does not point back at its size stack", b.Index())
			}
		})
	})

	return err
}
