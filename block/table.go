package block

import (
	"github.com/cockroachdb/errors"
	perrors "github.com/pkg/errors"
	"github.com/vkngwrapper/immix"
	"github.com/vkngwrapper/immix/lines"
)

// Table is the descriptor arena: one Block per block slot of the reserved range,
// addressed by index. Runs are described by their first slot; every other slot of
// a run points at it through its header index.
//
// Partition and Merge rewrite headers and must be serialized by the caller.
type Table struct {
	start         uintptr
	blockShift    uint
	linesPerBlock int
	lines         *lines.Table
	blocks        []Block
}

// NewTable builds descriptors for every block covered by lineTable. The whole
// capacity starts out as a single free run.
func NewTable(lineTable *lines.Table, linesPerBlock int) (*Table, error) {
	err := immix.CheckPow2(linesPerBlock, "linesPerBlock")
	if err != nil {
		return nil, err
	}

	if lineTable.Len()%linesPerBlock != 0 {
		return nil, errors.Wrapf(immix.CapacityError, "line table of %d lines is not a whole number of %d-line blocks", lineTable.Len(), linesPerBlock)
	}

	blockSize := lineTable.LineSize() * uintptr(linesPerBlock)
	err = immix.CheckAligned(lineTable.Start(), blockSize, "start")
	if err != nil {
		return nil, err
	}

	shift := uint(0)
	for (uintptr(1) << shift) < blockSize {
		shift++
	}

	capacity := lineTable.Len() / linesPerBlock
	table := &Table{
		start:         lineTable.Start(),
		blockShift:    shift,
		linesPerBlock: linesPerBlock,
		lines:         lineTable,
		blocks:        make([]Block, capacity),
	}

	for i := range table.blocks {
		b := &table.blocks[i]
		b.table = table
		b.index = int32(i)
		b.start = table.start + uintptr(i)<<shift
		b.header = 0
	}

	head := &table.blocks[0]
	head.blocks = capacity
	head.SetState(StateFree)
	head.ResetAllocationState()

	return table, nil
}

func (t *Table) Len() int                { return len(t.blocks) }
func (t *Table) Start() uintptr          { return t.start }
func (t *Table) End() uintptr            { return t.start + uintptr(len(t.blocks))<<t.blockShift }
func (t *Table) BlockSize() uintptr      { return uintptr(1) << t.blockShift }
func (t *Table) LinesPerBlock() int      { return t.linesPerBlock }
func (t *Table) LineTable() *lines.Table { return t.lines }

// At returns the descriptor of slot index, which need not head a run
func (t *Table) At(index int) *Block {
	return &t.blocks[index]
}

// BlockFor returns the head of the run containing addr. The caller must keep the
// run from being partitioned or merged while it is resolved.
func (t *Table) BlockFor(addr uintptr) *Block {
	if addr < t.start || addr >= t.End() {
		panic(errors.AssertionFailedf("address 0x%x is outside of the block table [0x%x, 0x%x)", addr, t.start, t.End()))
	}

	slot := &t.blocks[(addr-t.start)>>t.blockShift]
	return &t.blocks[slot.header]
}

// Prev returns the head of the run physically before b, or nil if b starts the table
func (t *Table) Prev(b *Block) *Block {
	b.assertHeader("Prev")
	if b.index == 0 {
		return nil
	}

	return &t.blocks[t.blocks[b.index-1].header]
}

// Next returns the head of the run physically after b, or nil if b ends the table
func (t *Table) Next(b *Block) *Block {
	b.assertHeader("Next")
	next := int(b.index) + b.blocks
	if next >= len(t.blocks) {
		return nil
	}

	return &t.blocks[next]
}

// Partition splits the upper n blocks off of b into a new run and returns it.
// b keeps its state and shrinks to its remaining blocks.
func (t *Table) Partition(b *Block, n int) *Block {
	b.assertHeader("Partition")
	if n <= 0 || n >= b.blocks {
		panic(errors.AssertionFailedf("cannot partition %d blocks from a run of %d", n, b.blocks))
	}
	if b.stack != nil {
		panic(errors.AssertionFailedf("cannot partition block %d while it is filed in a size stack", b.index))
	}

	tailIndex := int(b.index) + b.blocks - n
	tail := &t.blocks[tailIndex]
	for i := tailIndex; i < tailIndex+n; i++ {
		t.blocks[i].header = int32(tailIndex)
	}
	tail.blocks = n
	tail.SetState(b.State())
	tail.generation = b.generation
	b.blocks -= n

	return tail
}

// Merge folds next, which must be the run physically following b, into b. next
// must already be detached from any size stack.
func (t *Table) Merge(b *Block, next *Block) {
	b.assertHeader("Merge")
	next.assertHeader("Merge")
	if int(b.index)+b.blocks != int(next.index) {
		panic(errors.AssertionFailedf("cannot merge block %d (%d blocks) with non-adjacent block %d", b.index, b.blocks, next.index))
	}
	if b.stack != nil || next.stack != nil {
		panic(errors.AssertionFailedf("cannot merge blocks %d and %d while filed in a size stack", b.index, next.index))
	}

	end := int(next.index) + next.blocks
	for i := int(next.index); i < end; i++ {
		t.blocks[i].header = b.index
	}
	b.blocks += next.blocks
	next.blocks = 0
}

// Runs visits the head of every run in address order
func (t *Table) Runs(visit func(b *Block)) {
	for i := 0; i < len(t.blocks); {
		b := &t.blocks[i]
		visit(b)
		if b.blocks <= 0 {
			return
		}
		i += b.blocks
	}
}

// Validate checks that runs tile the table exactly and that every slot of a run
// points at its head
func (t *Table) Validate() error {
	i := 0
	for i < len(t.blocks) {
		b := &t.blocks[i]
		if b.header != b.index {
			return perrors.Errorf("block %d should head a run but its header is %d", i, b.header)
		}
		if b.blocks <= 0 {
			return perrors.Errorf("run at block %d has an invalid length %d", i, b.blocks)
		}
		if i+b.blocks > len(t.blocks) {
			return perrors.Errorf("run at block %d of %d blocks overruns the table of %d blocks", i, b.blocks, len(t.blocks))
		}
		if _, ok := stateMapping[b.State()]; !ok {
			return perrors.Errorf("run at block %d has an invalid state %s", i, b.State())
		}

		for j := i + 1; j < i+b.blocks; j++ {
			if t.blocks[j].header != int32(i) {
				return perrors.Errorf("block %d is inside the run at block %d but its header is %d", j, i, t.blocks[j].header)
			}
		}

		i += b.blocks
	}

	return nil
}
