package mutator

import (
	"context"
	"runtime"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/immix/block"
	"github.com/vkngwrapper/immix/bump"
	"go.uber.org/atomic"
	"golang.org/x/exp/slog"
)

type sharedBlock struct {
	block  *block.Block
	bumper bump.AtomicBumper
}

// SharedAllocator is the per-processor allocation tier. Each slot holds one block
// that every thread running on that processor bump-allocates from concurrently.
// When a slot's block runs out, the threads that notice race to install a fresh
// block by compare-and-swap.
type SharedAllocator struct {
	logger  *slog.Logger
	source  BlockSource
	archive *Archive

	slots  []atomic.Pointer[sharedBlock]
	wasted atomic.Int64
}

// NewSharedAllocator creates a tier with the given number of slots. A slot count of 0
// uses one slot per logical CPU.
func NewSharedAllocator(logger *slog.Logger, source BlockSource, archive *Archive, slots int) *SharedAllocator {
	if slots <= 0 {
		slots = runtime.NumCPU()
	}

	return &SharedAllocator{
		logger:  logger,
		source:  source,
		archive: archive,
		slots:   make([]atomic.Pointer[sharedBlock], slots),
	}
}

func (s *SharedAllocator) Slots() int { return len(s.slots) }

// Allocate returns the address of size bytes from the slot selected by processor, or
// 0 if the heap is exhausted. processor is any hint of the caller's current
// processor; it is reduced modulo the slot count.
func (s *SharedAllocator) Allocate(processor int, size uintptr) uintptr {
	if size > s.source.BlockSize() {
		panic(errors.AssertionFailedf("object of %d bytes does not fit in a shared block", size))
	}

	slot := &s.slots[uint(processor)%uint(len(s.slots))]
	current := slot.Load()
	if current != nil {
		addr := current.bumper.Bump(size)
		if addr != 0 {
			return addr
		}
	}

	b := s.source.Allocate(1, block.GenerationYoung)
	if b == nil {
		return 0
	}

	fresh := &sharedBlock{block: b}
	fresh.bumper.Fill(b.Start(), b.End())
	addr := fresh.bumper.Bump(size)

	for {
		if slot.CompareAndSwap(current, fresh) {
			s.archive.RecordYoung(b)
			return addr
		}

		// Another thread installed a block first. Use it if it has room and hand
		// ours back, since nothing has escaped from it yet.
		winner := slot.Load()
		if winner != nil {
			other := winner.bumper.Bump(size)
			if other != 0 {
				s.source.Reclaim(b)
				wasted := s.wasted.Inc()

				s.logger.LogAttrs(context.Background(), slog.LevelDebug, "shared block install lost",
					slog.Int("block", b.Index()),
					slog.Int64("wasted", wasted),
				)
				return other
			}
		}

		current = winner
	}
}

// Wasted is the number of blocks obtained for a slot and handed back because
// another thread installed its block first
func (s *SharedAllocator) Wasted() int64 {
	return s.wasted.Load()
}

// Remaining is the room left in the block installed for processor
func (s *SharedAllocator) Remaining(processor int) uintptr {
	current := s.slots[uint(processor)%uint(len(s.slots))].Load()
	if current == nil {
		return 0
	}
	return current.bumper.Remaining()
}

// RetireBlocks uninstalls every slot's block. The blocks stay recorded in the archive.
// Mutators must be stopped.
func (s *SharedAllocator) RetireBlocks() int {
	retired := 0
	for i := range s.slots {
		if s.slots[i].Swap(nil) != nil {
			retired++
		}
	}

	s.logger.LogAttrs(context.Background(), slog.LevelDebug, "shared blocks retired",
		slog.Int("blocks", retired),
	)
	return retired
}
