package lines_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/immix"
	"github.com/vkngwrapper/immix/lines"
)

const (
	testStart    = uintptr(0x10000)
	testLineSize = 128
)

func newTestTable(t *testing.T, count int) *lines.Table {
	table, err := lines.NewTable(testStart, testLineSize, count)
	require.NoError(t, err)
	return table
}

func TestNewTableRejectsBadGeometry(t *testing.T) {
	_, err := lines.NewTable(testStart, 100, 4)
	require.ErrorIs(t, err, immix.PowerOfTwoError)

	_, err = lines.NewTable(testStart+1, testLineSize, 4)
	require.ErrorIs(t, err, immix.AlignmentError)

	_, err = lines.NewTable(testStart, testLineSize, 0)
	require.ErrorIs(t, err, immix.CapacityError)
}

func TestMarkCoversEveryTouchedLine(t *testing.T) {
	table := newTestTable(t, 8)

	// Straddles lines 1 and 2
	table.Mark(testStart+testLineSize+100, 60)
	table.Mark(testStart+5*testLineSize, testLineSize)

	expected := []lines.Marker{
		lines.Clean, lines.Dirty, lines.Dirty, lines.Clean,
		lines.Clean, lines.Dirty, lines.Clean, lines.Clean,
	}
	for i, m := range expected {
		require.Equal(t, m, table.Marker(i), "line %d", i)
	}
	require.Equal(t, 3, table.CountDirty(0, 8))

	table.Clear(testStart+testLineSize, 2)
	require.Equal(t, 1, table.CountDirty(0, 8))
	require.Equal(t, lines.Dirty, table.Marker(5))
}

func TestLineAddressMapping(t *testing.T) {
	table := newTestTable(t, 4)

	require.Equal(t, 0, table.LineFor(testStart))
	require.Equal(t, 2, table.LineFor(testStart+2*testLineSize+127))
	require.Equal(t, testStart+3*testLineSize, table.AddrFor(3))
	require.Equal(t, table.End(), table.AddrFor(4))

	require.Panics(t, func() { table.LineFor(table.End()) })
}

func TestDiscoverCleanRuns(t *testing.T) {
	table := newTestTable(t, 5)
	table.MarkLine(2)

	var d lines.Discoverer
	d.Init(table, testStart, 5)

	var runs []lines.Range
	complete := d.Discover(func(r lines.Range) bool {
		runs = append(runs, r)
		return true
	})
	require.True(t, complete)
	require.Equal(t, []lines.Range{
		{Start: testStart, End: testStart + 2*testLineSize},
		{Start: testStart + 3*testLineSize, End: testStart + 5*testLineSize},
	}, runs)
	require.True(t, d.Exhausted())
}

func TestDiscoverStopsEarlyAndResumes(t *testing.T) {
	table := newTestTable(t, 5)
	table.MarkLine(2)

	var d lines.Discoverer
	d.Init(table, testStart, 5)

	visits := 0
	complete := d.Discover(func(r lines.Range) bool {
		visits++
		return false
	})
	require.False(t, complete)
	require.Equal(t, 1, visits)

	r, ok := d.Next()
	require.True(t, ok)
	require.Equal(t, testStart+3*testLineSize, r.Start)
	require.Equal(t, uintptr(2*testLineSize), r.Size())

	_, ok = d.Next()
	require.False(t, ok)

	d.Reset()
	r, ok = d.Next()
	require.True(t, ok)
	require.Equal(t, testStart, r.Start)
}

func TestDiscovererScopedToBlock(t *testing.T) {
	table := newTestTable(t, 8)

	var d lines.Discoverer
	d.Init(table, testStart+4*testLineSize, 4)
	table.MarkLine(4)
	table.MarkLine(7)

	r, ok := d.Next()
	require.True(t, ok)
	require.Equal(t, lines.Range{Start: testStart + 5*testLineSize, End: testStart + 7*testLineSize}, r)
	_, ok = d.Next()
	require.False(t, ok)

	d.Clear()
	require.Equal(t, 0, table.CountDirty(0, 8))
}

func TestAllDirtyBlockHasNoRuns(t *testing.T) {
	table := newTestTable(t, 3)
	table.Mark(testStart, 3*testLineSize)

	var d lines.Discoverer
	d.Init(table, testStart, 3)
	require.True(t, d.Discover(func(lines.Range) bool {
		t.Fatal("no clean run expected")
		return true
	}))
}
