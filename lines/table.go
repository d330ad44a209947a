// Package lines tracks which lines of the reserved range hold live objects so
// partially occupied blocks can be bump-allocated into again.
package lines

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/immix"
)

// Marker is the per-line occupancy byte
type Marker uint8

const (
	Clean Marker = iota
	Dirty
)

var markerMapping = map[Marker]string{
	Clean: "Clean",
	Dirty: "Dirty",
}

func (m Marker) String() string {
	str, ok := markerMapping[m]
	if !ok {
		return fmt.Sprintf("Marker(%d)", uint8(m))
	}
	return str
}

// Range is a [Start, End) address range made of whole lines
type Range struct {
	Start uintptr
	End   uintptr
}

func (r Range) Size() uintptr { return r.End - r.Start }

// Table holds one Marker for every line of the reserved range.
//
// Marking is done by the collector while mutators are stopped; the allocator
// only reads markers and clears whole blocks, so the table is not synchronized.
type Table struct {
	start     uintptr
	lineSize  uintptr
	lineShift uint
	markers   []Marker
}

// NewTable sizes a table for lineCount lines of lineSize bytes starting at start.
// All lines begin clean.
func NewTable(start uintptr, lineSize int, lineCount int) (*Table, error) {
	err := immix.CheckPow2(lineSize, "lineSize")
	if err != nil {
		return nil, err
	}
	err = immix.CheckAligned(start, uintptr(lineSize), "start")
	if err != nil {
		return nil, err
	}
	if lineCount < 1 {
		return nil, errors.Wrapf(immix.CapacityError, "line count must be positive, got %d", lineCount)
	}

	shift := uint(0)
	for (1 << shift) < lineSize {
		shift++
	}

	return &Table{
		start:     start,
		lineSize:  uintptr(lineSize),
		lineShift: shift,
		markers:   make([]Marker, lineCount),
	}, nil
}

func (t *Table) Start() uintptr    { return t.start }
func (t *Table) End() uintptr      { return t.start + uintptr(len(t.markers))<<t.lineShift }
func (t *Table) LineSize() uintptr { return t.lineSize }
func (t *Table) Len() int          { return len(t.markers) }

// LineFor returns the index of the line containing addr
func (t *Table) LineFor(addr uintptr) int {
	if addr < t.start || addr >= t.End() {
		panic(errors.AssertionFailedf("address 0x%x is outside of the line table [0x%x, 0x%x)", addr, t.start, t.End()))
	}

	return int((addr - t.start) >> t.lineShift)
}

// AddrFor returns the first address of a line. line may be equal to Len(), which
// yields the end of the table.
func (t *Table) AddrFor(line int) uintptr {
	if line < 0 || line > len(t.markers) {
		panic(errors.AssertionFailedf("invalid line index %d", line))
	}

	return t.start + uintptr(line)<<t.lineShift
}

func (t *Table) Marker(line int) Marker {
	return t.markers[line]
}

func (t *Table) MarkLine(line int) {
	t.markers[line] = Dirty
}

// Mark dirties every line touched by the object occupying [addr, addr+size)
func (t *Table) Mark(addr uintptr, size uintptr) {
	if size == 0 {
		size = 1
	}

	first := t.LineFor(addr)
	last := t.LineFor(addr + size - 1)

	for i := first; i <= last; i++ {
		t.markers[i] = Dirty
	}
}

// Clear resets count lines starting at the line containing start
func (t *Table) Clear(start uintptr, count int) {
	first := t.LineFor(start)
	if first+count > len(t.markers) {
		panic(errors.AssertionFailedf("clearing %d lines from line %d overruns the table of %d lines", count, first, len(t.markers)))
	}

	markers := t.markers[first : first+count]
	for i := range markers {
		markers[i] = Clean
	}
}

// CountDirty returns the number of dirty lines in [first, first+count)
func (t *Table) CountDirty(first, count int) int {
	dirty := 0
	for _, m := range t.markers[first : first+count] {
		if m != Clean {
			dirty++
		}
	}
	return dirty
}
