package mutator

import (
	"github.com/vkngwrapper/immix/block"
)

// Archive records every block handed to a mutator tier since the last collection,
// so the collector can find them again. It is lock-free and shared by all mutators.
//
// A block must be popped from the archive before it can be recorded again.
type Archive struct {
	young     *block.Stack
	humongous *block.Stack
}

func NewArchive(table *block.Table) *Archive {
	return &Archive{
		young:     block.NewStack(table, block.ArchiveLink),
		humongous: block.NewStack(table, block.ArchiveLink),
	}
}

func (a *Archive) RecordYoung(b *block.Block)     { a.young.Push(b) }
func (a *Archive) RecordHumongous(b *block.Block) { a.humongous.Push(b) }

func (a *Archive) YoungLen() int     { return a.young.Len() }
func (a *Archive) HumongousLen() int { return a.humongous.Len() }

// PopAllYoung detaches every recorded young block and hands each to visit
func (a *Archive) PopAllYoung(visit func(b *block.Block)) int {
	return a.young.PopAll(visit)
}

// PopAllHumongous detaches every recorded humongous run and hands each to visit
func (a *Archive) PopAllHumongous(visit func(b *block.Block)) int {
	return a.humongous.PopAll(visit)
}

// Clear forgets every recorded block
func (a *Archive) Clear() {
	a.young.PopAll(func(*block.Block) {})
	a.humongous.PopAll(func(*block.Block) {})
}
