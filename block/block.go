// Package block holds the descriptor table that tracks every block of the
// reserved range and the intrusive stacks used to file descriptors.
package block

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/immix/bump"
	"github.com/vkngwrapper/immix/lines"
	"go.uber.org/atomic"
)

// State is the single membership tag of a run. Only the descriptor heading a run
// carries a meaningful state.
type State int32

const (
	// StateFree runs are filed in a SizeStack of the free index
	StateFree State = iota
	// StateCached runs are single blocks parked on the lock-free single-block stack
	StateCached
	// StateOccupied runs are owned by a caller of the heap
	StateOccupied
	// StateRecyclable runs are partially full blocks parked on a recycle stack
	StateRecyclable
)

var stateMapping = map[State]string{
	StateFree:       "StateFree",
	StateCached:     "StateCached",
	StateOccupied:   "StateOccupied",
	StateRecyclable: "StateRecyclable",
}

func (s State) String() string {
	str, ok := stateMapping[s]
	if !ok {
		return fmt.Sprintf("State(%d)", int32(s))
	}
	return str
}

type Generation int32

const (
	GenerationYoung Generation = iota
	GenerationOld
	GenerationHumongous

	GenerationCount int = iota
)

var generationMapping = map[Generation]string{
	GenerationYoung:     "GenerationYoung",
	GenerationOld:       "GenerationOld",
	GenerationHumongous: "GenerationHumongous",
}

func (g Generation) String() string {
	str, ok := generationMapping[g]
	if !ok {
		return fmt.Sprintf("Generation(%d)", int32(g))
	}
	return str
}

// Block is the descriptor of one block slot. When it heads a run it describes the
// whole run: every field below header is only meaningful on the run's first slot.
type Block struct {
	table  *Table
	index  int32
	start  uintptr
	header int32

	blocks     int
	state      atomic.Int32
	generation Generation

	stack     *SizeStack
	stackPrev *Block
	stackNext *Block

	// Lock-free stack links, holding index+1 of the next descriptor
	freeNext    atomic.Int32
	archiveNext atomic.Int32

	bumper     bump.Bumper
	discoverer lines.Discoverer
}

func (b *Block) Index() int             { return int(b.index) }
func (b *Block) Start() uintptr         { return b.start }
func (b *Block) Blocks() int            { return b.blocks }
func (b *Block) Size() uintptr          { return uintptr(b.blocks) << b.table.blockShift }
func (b *Block) End() uintptr           { return b.start + b.Size() }
func (b *Block) IsHeader() bool         { return b.header == b.index }
func (b *Block) Header() int            { return int(b.header) }
func (b *Block) Stack() *SizeStack      { return b.stack }
func (b *Block) Generation() Generation { return b.generation }

func (b *Block) SetGeneration(generation Generation) { b.generation = generation }

func (b *Block) State() State { return State(b.state.Load()) }

func (b *Block) SetState(state State) { b.state.Store(int32(state)) }

// TransitionState moves the run from one state to another and reports whether
// it was in the expected state
func (b *Block) TransitionState(from, to State) bool {
	return b.state.CompareAndSwap(int32(from), int32(to))
}

// Contains reports whether addr falls inside the run
func (b *Block) Contains(addr uintptr) bool {
	return addr >= b.start && addr < b.End()
}

// Lines returns the number of lines covered by the run
func (b *Block) Lines() int {
	return b.blocks * b.table.linesPerBlock
}

// AllocSeq bump-allocates size bytes from the run's cursor, returning 0 if the
// cursor is empty or exhausted
func (b *Block) AllocSeq(size uintptr) uintptr {
	if b.bumper.Empty() {
		return 0
	}

	return b.bumper.Bump(size)
}

// AllocRecycled bump-allocates size bytes, moving on to the next run of clean
// lines whenever the current one cannot hold the request. It returns 0 once no
// clean run in the block can hold size bytes.
func (b *Block) AllocRecycled(size uintptr) uintptr {
	for {
		if !b.bumper.Empty() {
			addr := b.bumper.Bump(size)
			if addr != 0 {
				return addr
			}
		}

		r, ok := b.discoverer.Next()
		if !ok {
			b.bumper.SetEmpty()
			return 0
		}
		b.bumper.Fill(r.Start, r.End)
	}
}

// FillWhole points the cursor at the entire run
func (b *Block) FillWhole() {
	b.bumper.Fill(b.start, b.End())
}

// Remaining returns the bytes left in the current cursor
func (b *Block) Remaining() uintptr {
	if b.bumper.Empty() {
		return 0
	}
	return b.bumper.Remaining()
}

// ResetAllocationState empties the cursor and restarts clean line discovery at
// the start of the run
func (b *Block) ResetAllocationState() {
	b.bumper.SetEmpty()
	b.discoverer.Init(b.table.lines, b.start, b.Lines())
}

// ClearLines marks every line of the run clean
func (b *Block) ClearLines() {
	b.table.lines.Clear(b.start, b.Lines())
}

// DirtyLines counts the lines of the run that hold marked objects
func (b *Block) DirtyLines() int {
	first := b.table.lines.LineFor(b.start)
	return b.table.lines.CountDirty(first, b.Lines())
}

func (b *Block) String() string {
	return fmt.Sprintf("Block(index: %d, start: 0x%x, blocks: %d, state: %s)", b.index, b.start, b.blocks, b.State())
}

func (b *Block) assertHeader(op string) {
	if !b.IsHeader() {
		panic(errors.AssertionFailedf("%s: block %d is not the head of a run (header %d)", op, b.index, b.header))
	}
}
