package mutator

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/immix"
	"github.com/vkngwrapper/immix/block"
)

// Mutator ties the allocation tiers together for one thread
type Mutator struct {
	source    BlockSource
	archive   *Archive
	tlab      *TLAB
	shared    *SharedAllocator
	processor int
}

// NewMutator creates the allocation state of one thread. shared may be nil if the
// thread never uses the per-processor tier. processor is the slot hint passed to
// the shared tier.
func NewMutator(source BlockSource, archive *Archive, shared *SharedAllocator, processor int) *Mutator {
	return &Mutator{
		source:    source,
		archive:   archive,
		tlab:      NewTLAB(source, archive),
		shared:    shared,
		processor: processor,
	}
}

func (m *Mutator) TLAB() *TLAB { return m.tlab }

func (m *Mutator) SetProcessor(processor int) { m.processor = processor }

// Allocate returns the address of size bytes from the thread-local tiers, or 0 if
// the heap is exhausted. Objects of at least MinHumongous bytes get their own run.
func (m *Mutator) Allocate(size uintptr) uintptr {
	size = alignSize(size)
	if size >= MinHumongous(m.source) {
		return m.AllocateHumongous(size)
	}

	return m.tlab.Allocate(size)
}

// AllocateShared is Allocate through the per-processor tier instead of the TLAB
func (m *Mutator) AllocateShared(size uintptr) uintptr {
	if m.shared == nil {
		panic(errors.AssertionFailedf("mutator has no shared allocator"))
	}

	size = alignSize(size)
	if size >= MinHumongous(m.source) {
		return m.AllocateHumongous(size)
	}

	return m.shared.Allocate(m.processor, size)
}

// AllocateHumongous gives the object a dedicated run of whole blocks
func (m *Mutator) AllocateHumongous(size uintptr) uintptr {
	blocks := immix.DivideRoundingUp(size, m.source.BlockSize())
	b := m.source.Allocate(int(blocks), block.GenerationHumongous)
	if b == nil {
		return 0
	}

	m.archive.RecordHumongous(b)
	return b.Start()
}

// Retire drops the thread's buffers ahead of a collection
func (m *Mutator) Retire() {
	m.tlab.Retire()
}

func alignSize(size uintptr) uintptr {
	if size == 0 {
		return ObjectAlignment
	}
	return immix.AlignUp(size, ObjectAlignment)
}
