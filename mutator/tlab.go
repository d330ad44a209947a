package mutator

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/immix/block"
)

// TLAB is the thread-local allocation buffer of one mutator. It must only be used by
// its owning thread.
//
// Small objects, those smaller than a line, go to a block being recycled line run by
// line run, which may be a partially full block handed back by the collector. Medium
// objects go to a fresh block that is bump-allocated from start to end.
type TLAB struct {
	source  BlockSource
	archive *Archive

	small  *block.Block
	medium *block.Block
}

func NewTLAB(source BlockSource, archive *Archive) *TLAB {
	return &TLAB{
		source:  source,
		archive: archive,
	}
}

// Allocate returns the address of size bytes, or 0 if the heap is exhausted
func (t *TLAB) Allocate(size uintptr) uintptr {
	if size >= MinHumongous(t.source) {
		panic(errors.AssertionFailedf("humongous object of %d bytes cannot be allocated from a TLAB", size))
	}

	if size < t.source.LineSize() {
		return t.AllocSmall(size)
	}
	return t.AllocMedium(size)
}

func (t *TLAB) AllocSmall(size uintptr) uintptr {
	if t.small != nil {
		addr := t.small.AllocRecycled(size)
		if addr != 0 {
			return addr
		}
	}

	for {
		if !t.refillSmall() {
			return 0
		}

		addr := t.small.AllocRecycled(size)
		if addr != 0 {
			return addr
		}
	}
}

// refillSmall prefers a partially full block over a fresh one
func (t *TLAB) refillSmall() bool {
	b := t.source.AllocReusing(block.GenerationYoung)
	if b == nil {
		b = t.source.Allocate(1, block.GenerationYoung)
	}
	if b == nil {
		t.small = nil
		return false
	}

	t.archive.RecordYoung(b)
	t.small = b
	return true
}

func (t *TLAB) AllocMedium(size uintptr) uintptr {
	if t.medium != nil {
		addr := t.medium.AllocSeq(size)
		if addr != 0 {
			return addr
		}
	}

	b := t.source.Allocate(1, block.GenerationYoung)
	if b == nil {
		t.medium = nil
		return 0
	}

	t.archive.RecordYoung(b)
	b.FillWhole()
	t.medium = b

	return b.AllocSeq(size)
}

func (t *TLAB) SmallBlock() *block.Block  { return t.small }
func (t *TLAB) MediumBlock() *block.Block { return t.medium }

// Retire drops the current blocks. They stay recorded in the archive, so the
// collector still finds them.
func (t *TLAB) Retire() {
	t.small = nil
	t.medium = nil
}
