package block

import (
	"github.com/cockroachdb/errors"
	"go.uber.org/atomic"
)

// SizeStack is an intrusive stack of free runs that all have the same length.
// It supports removal from the middle so a run can be pulled out for coalescing.
type SizeStack struct {
	blocks int
	top    *Block
	count  int
}

func NewSizeStack(blocks int) *SizeStack {
	return &SizeStack{blocks: blocks}
}

func (s *SizeStack) Blocks() int  { return s.blocks }
func (s *SizeStack) Len() int     { return s.count }
func (s *SizeStack) Empty() bool  { return s.top == nil }
func (s *SizeStack) Peek() *Block { return s.top }

func (s *SizeStack) Push(b *Block) {
	if b.stack != nil {
		panic(errors.AssertionFailedf("block %d is already filed in a size stack", b.index))
	}
	if b.blocks != s.blocks {
		panic(errors.AssertionFailedf("cannot file a run of %d blocks in the stack for %d blocks", b.blocks, s.blocks))
	}

	b.stack = s
	b.stackPrev = nil
	b.stackNext = s.top
	if s.top != nil {
		s.top.stackPrev = b
	}
	s.top = b
	s.count++
}

func (s *SizeStack) Pop() *Block {
	b := s.top
	if b == nil {
		return nil
	}

	s.Erase(b)
	return b
}

// Erase unlinks b, which must be filed in this stack
func (s *SizeStack) Erase(b *Block) {
	if b.stack != s {
		panic(errors.AssertionFailedf("block %d is not filed in the stack for %d blocks", b.index, s.blocks))
	}

	if b.stackPrev != nil {
		b.stackPrev.stackNext = b.stackNext
	} else {
		s.top = b.stackNext
	}
	if b.stackNext != nil {
		b.stackNext.stackPrev = b.stackPrev
	}

	b.stack = nil
	b.stackPrev = nil
	b.stackNext = nil
	s.count--
}

// Iterate visits every filed run from the top
func (s *SizeStack) Iterate(visit func(b *Block)) {
	for b := s.top; b != nil; b = b.stackNext {
		visit(b)
	}
}

// Link selects which of a descriptor's two link cells a Stack threads through
type Link int

const (
	// FreeLink is used by the stacks owned by the heap
	FreeLink Link = iota
	// ArchiveLink is used by the archive of blocks handed to mutators
	ArchiveLink
)

// Stack is a lock-free intrusive stack of descriptors. The head word packs the
// top descriptor's index+1 in its low 32 bits and a version in its high 32 bits,
// which is bumped on every update so a stale head never wins a swap.
type Stack struct {
	table *Table
	link  Link
	head  atomic.Uint64
	count atomic.Int64
}

func NewStack(table *Table, link Link) *Stack {
	return &Stack{
		table: table,
		link:  link,
	}
}

func (s *Stack) cell(b *Block) *atomic.Int32 {
	if s.link == ArchiveLink {
		return &b.archiveNext
	}
	return &b.freeNext
}

func nextHead(old uint64, top int32) uint64 {
	version := (old >> 32) + 1
	return version<<32 | uint64(uint32(top))
}

func (s *Stack) Push(b *Block) {
	cell := s.cell(b)
	for {
		old := s.head.Load()
		cell.Store(int32(uint32(old)))
		if s.head.CompareAndSwap(old, nextHead(old, b.index+1)) {
			s.count.Inc()
			return
		}
	}
}

// Pop removes the top descriptor, or returns nil if the stack is empty
func (s *Stack) Pop() *Block {
	for {
		old := s.head.Load()
		top := int32(uint32(old))
		if top == 0 {
			return nil
		}

		b := &s.table.blocks[top-1]
		next := s.cell(b).Load()
		if s.head.CompareAndSwap(old, nextHead(old, next)) {
			s.count.Dec()
			return b
		}
	}
}

// PopAll detaches the whole stack in one swap and visits every descriptor that
// was on it. visit may push the descriptor onto another stack.
func (s *Stack) PopAll(visit func(b *Block)) int {
	var old uint64
	for {
		old = s.head.Load()
		if uint32(old) == 0 {
			return 0
		}
		if s.head.CompareAndSwap(old, nextHead(old, 0)) {
			break
		}
	}

	visited := 0
	for top := int32(uint32(old)); top != 0; {
		b := &s.table.blocks[top-1]
		top = s.cell(b).Load()
		visit(b)
		visited++
	}
	s.count.Sub(int64(visited))

	return visited
}

// Len is only exact while no other goroutine is using the stack
func (s *Stack) Len() int {
	return int(s.count.Load())
}

func (s *Stack) Empty() bool {
	return uint32(s.head.Load()) == 0
}
