package mutator_test

import (
	"io"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/immix/block"
	"github.com/vkngwrapper/immix/heap"
	"github.com/vkngwrapper/immix/lines"
	"github.com/vkngwrapper/immix/mutator"
	mock_mutator "github.com/vkngwrapper/immix/mutator/mocks"
	"go.uber.org/mock/gomock"
	"golang.org/x/exp/slog"
)

const (
	testStart         = uintptr(0x2000000)
	testLineSize      = 128
	testLinesPerBlock = 8
	testBlockSize     = testLineSize * testLinesPerBlock
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard))
}

// carveRuns splits a fresh table into runs of the given lengths, in address order,
// ready for allocation the way the heap would hand them out
func carveRuns(t *testing.T, sizes ...int) (*block.Table, []*block.Block) {
	total := 0
	for _, size := range sizes {
		total += size
	}

	lineTable, err := lines.NewTable(testStart, testLineSize, total*testLinesPerBlock)
	require.NoError(t, err)
	table, err := block.NewTable(lineTable, testLinesPerBlock)
	require.NoError(t, err)

	runs := make([]*block.Block, len(sizes))
	head := table.At(0)
	for i := len(sizes) - 1; i > 0; i-- {
		runs[i] = table.Partition(head, sizes[i])
	}
	runs[0] = head

	for _, b := range runs {
		b.SetState(block.StateOccupied)
		b.ResetAllocationState()
	}
	return table, runs
}

func expectGeometry(source *mock_mutator.MockBlockSource) {
	source.EXPECT().BlockSize().Return(uintptr(testBlockSize)).AnyTimes()
	source.EXPECT().LineSize().Return(uintptr(testLineSize)).AnyTimes()
}

func TestSmallPrefersRecycledBlocks(t *testing.T) {
	ctrl := gomock.NewController(t)
	source := mock_mutator.NewMockBlockSource(ctrl)
	expectGeometry(source)

	table, runs := carveRuns(t, 1, 1)
	archive := mutator.NewArchive(table)
	tlab := mutator.NewTLAB(source, archive)

	// Only the last line of the recycled block is free
	table.LineTable().Mark(runs[0].Start(), 7*testLineSize)

	gomock.InOrder(
		source.EXPECT().AllocReusing(block.GenerationYoung).Return(runs[0]),
		source.EXPECT().AllocReusing(block.GenerationYoung).Return(nil),
		source.EXPECT().Allocate(1, block.GenerationYoung).Return(runs[1]),
	)

	require.Equal(t, runs[0].Start()+7*testLineSize, tlab.Allocate(64))
	require.Equal(t, runs[0].Start()+7*testLineSize+64, tlab.Allocate(64))
	require.Equal(t, runs[1].Start(), tlab.Allocate(64))
	require.Same(t, runs[1], tlab.SmallBlock())
	require.Equal(t, 2, archive.YoungLen())
}

func TestSmallSkipsFullRecycledBlocks(t *testing.T) {
	ctrl := gomock.NewController(t)
	source := mock_mutator.NewMockBlockSource(ctrl)
	expectGeometry(source)

	table, runs := carveRuns(t, 1, 1)
	archive := mutator.NewArchive(table)
	tlab := mutator.NewTLAB(source, archive)

	table.LineTable().Mark(runs[0].Start(), testBlockSize)

	gomock.InOrder(
		source.EXPECT().AllocReusing(block.GenerationYoung).Return(runs[0]),
		source.EXPECT().AllocReusing(block.GenerationYoung).Return(nil),
		source.EXPECT().Allocate(1, block.GenerationYoung).Return(runs[1]),
	)

	require.Equal(t, runs[1].Start(), tlab.Allocate(8))

	var archived []*block.Block
	archive.PopAllYoung(func(b *block.Block) {
		archived = append(archived, b)
	})
	require.Equal(t, []*block.Block{runs[1], runs[0]}, archived)
}

func TestSmallExhaustion(t *testing.T) {
	ctrl := gomock.NewController(t)
	source := mock_mutator.NewMockBlockSource(ctrl)
	expectGeometry(source)

	table, _ := carveRuns(t, 1)
	tlab := mutator.NewTLAB(source, mutator.NewArchive(table))

	source.EXPECT().AllocReusing(block.GenerationYoung).Return(nil)
	source.EXPECT().Allocate(1, block.GenerationYoung).Return(nil)

	require.Equal(t, uintptr(0), tlab.Allocate(16))
	require.Nil(t, tlab.SmallBlock())
}

func TestMediumBumpsWholeBlocks(t *testing.T) {
	ctrl := gomock.NewController(t)
	source := mock_mutator.NewMockBlockSource(ctrl)
	expectGeometry(source)

	table, runs := carveRuns(t, 1, 1)
	archive := mutator.NewArchive(table)
	tlab := mutator.NewTLAB(source, archive)

	gomock.InOrder(
		source.EXPECT().Allocate(1, block.GenerationYoung).Return(runs[0]),
		source.EXPECT().Allocate(1, block.GenerationYoung).Return(runs[1]),
		source.EXPECT().Allocate(1, block.GenerationYoung).Return(nil),
	)

	require.Equal(t, runs[0].Start(), tlab.Allocate(400))
	require.Equal(t, runs[0].Start()+400, tlab.Allocate(400))
	require.Equal(t, runs[1].Start(), tlab.Allocate(400))
	require.Equal(t, runs[1].Start()+400, tlab.Allocate(400))
	require.Equal(t, uintptr(0), tlab.Allocate(400))
	require.Equal(t, 2, archive.YoungLen())

	require.Panics(t, func() { tlab.Allocate(testBlockSize / 2) })
}

func TestHumongousGetsDedicatedRun(t *testing.T) {
	ctrl := gomock.NewController(t)
	source := mock_mutator.NewMockBlockSource(ctrl)
	expectGeometry(source)

	table, runs := carveRuns(t, 2)
	archive := mutator.NewArchive(table)
	m := mutator.NewMutator(source, archive, nil, 0)

	source.EXPECT().Allocate(2, block.GenerationHumongous).Return(runs[0])
	source.EXPECT().Allocate(2, block.GenerationHumongous).Return(nil)

	require.Equal(t, runs[0].Start(), m.Allocate(1500))
	require.Equal(t, uintptr(0), m.Allocate(testBlockSize+1))
	require.Equal(t, 1, archive.HumongousLen())

	require.Panics(t, func() { m.AllocateShared(8) })
}

func TestSharedSlotsAreIndependent(t *testing.T) {
	ctrl := gomock.NewController(t)
	source := mock_mutator.NewMockBlockSource(ctrl)
	expectGeometry(source)

	table, runs := carveRuns(t, 1, 1)
	archive := mutator.NewArchive(table)
	shared := mutator.NewSharedAllocator(discardLogger(), source, archive, 2)

	gomock.InOrder(
		source.EXPECT().Allocate(1, block.GenerationYoung).Return(runs[0]),
		source.EXPECT().Allocate(1, block.GenerationYoung).Return(runs[1]),
	)

	require.Equal(t, runs[0].Start(), shared.Allocate(0, 100))
	require.Equal(t, runs[0].Start()+100, shared.Allocate(2, 100))
	require.Equal(t, runs[1].Start(), shared.Allocate(1, 100))
	require.Equal(t, uintptr(testBlockSize-200), shared.Remaining(0))
	require.Equal(t, 2, archive.YoungLen())

	require.Equal(t, 2, shared.RetireBlocks())
	require.Equal(t, uintptr(0), shared.Remaining(0))
	require.Equal(t, int64(0), shared.Wasted())
}

func TestSharedLoserUsesWinnerBlock(t *testing.T) {
	ctrl := gomock.NewController(t)
	source := mock_mutator.NewMockBlockSource(ctrl)
	expectGeometry(source)

	table, runs := carveRuns(t, 1, 1)
	archive := mutator.NewArchive(table)
	shared := mutator.NewSharedAllocator(discardLogger(), source, archive, 1)

	var winnerAddr uintptr
	gomock.InOrder(
		source.EXPECT().Allocate(1, block.GenerationYoung).DoAndReturn(func(int, block.Generation) *block.Block {
			// Another thread installs its block while this one is obtaining one
			winnerAddr = shared.Allocate(0, 100)
			return runs[0]
		}),
		source.EXPECT().Allocate(1, block.GenerationYoung).Return(runs[1]),
		source.EXPECT().Reclaim(runs[0]),
	)

	addr := shared.Allocate(0, 100)
	require.Equal(t, runs[1].Start(), winnerAddr)
	require.Equal(t, runs[1].Start()+100, addr)
	require.Equal(t, int64(1), shared.Wasted())
	require.Equal(t, 1, archive.YoungLen())
}

func TestSharedLoserReplacesFullWinner(t *testing.T) {
	ctrl := gomock.NewController(t)
	source := mock_mutator.NewMockBlockSource(ctrl)
	expectGeometry(source)

	table, runs := carveRuns(t, 1, 1)
	archive := mutator.NewArchive(table)
	shared := mutator.NewSharedAllocator(discardLogger(), source, archive, 1)

	gomock.InOrder(
		source.EXPECT().Allocate(1, block.GenerationYoung).DoAndReturn(func(int, block.Generation) *block.Block {
			// The winner's block is filled by its first object
			require.Equal(t, runs[1].Start(), shared.Allocate(0, testBlockSize))
			return runs[0]
		}),
		source.EXPECT().Allocate(1, block.GenerationYoung).Return(runs[1]),
	)

	require.Equal(t, runs[0].Start(), shared.Allocate(0, 100))
	require.Equal(t, runs[0].Start()+100, shared.Allocate(0, 100))
	require.Equal(t, int64(0), shared.Wasted())
	require.Equal(t, 2, archive.YoungLen())
}

func newTestHeap(t *testing.T, capacity int) *heap.Allocator {
	a, err := heap.New(discardLogger(), heap.CreateOptions{
		Start:          testStart,
		CapacityBlocks: capacity,
		LineSize:       testLineSize,
		LinesPerBlock:  testLinesPerBlock,
	})
	require.NoError(t, err)
	return a
}

type span struct {
	start uintptr
	size  uintptr
}

func requireDisjoint(t *testing.T, a *heap.Allocator, spans []span) {
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	for i, s := range spans {
		require.True(t, a.Contains(s.start))
		require.True(t, a.Contains(s.start+s.size-1))
		if i > 0 {
			prev := spans[i-1]
			require.True(t, prev.start+prev.size <= s.start, "objects at 0x%x and 0x%x overlap", prev.start, s.start)
		}
	}
}

func TestMutatorsAgainstHeap(t *testing.T) {
	const capacity = 512
	a := newTestHeap(t, capacity)
	archive := mutator.NewArchive(a.Table())
	shared := mutator.NewSharedAllocator(discardLogger(), a, archive, 2)

	sizes := []uintptr{8, 24, 64, 120, 200, 384, 500, 600, 1500}

	var mu sync.Mutex
	var spans []span
	var wg sync.WaitGroup
	for w := 0; w < 6; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()

			m := mutator.NewMutator(a, archive, shared, w)
			var mine []span
			for i := 0; i < 120; i++ {
				size := sizes[(i+w)%len(sizes)]
				var addr uintptr
				if i%4 == 0 {
					addr = m.AllocateShared(size)
				} else {
					addr = m.Allocate(size)
				}
				if addr == 0 {
					continue
				}
				mine = append(mine, span{start: addr, size: size})
			}
			m.Retire()

			mu.Lock()
			spans = append(spans, mine...)
			mu.Unlock()
		}(w)
	}
	wg.Wait()

	requireDisjoint(t, a, spans)

	// Every block handed back after a lost install race was reclaimed, so the archive
	// holds exactly the active blocks
	require.Equal(t, a.ActiveBlocks(block.GenerationYoung), archive.YoungLen())
	humongousBlocks := 0
	archive.PopAllHumongous(func(b *block.Block) {
		humongousBlocks += b.Blocks()
	})
	require.Equal(t, a.ActiveBlocks(block.GenerationHumongous), humongousBlocks)
	require.Equal(t, capacity, a.FreeBlocks()+a.TotalActiveBlocks())
	require.NoError(t, a.Validate())

	shared.RetireBlocks()
	archive.PopAllYoung(a.Reclaim)
	require.Equal(t, capacity-humongousBlocks, a.FreeBlocks())
}

func TestRecycledBlocksFlowBackToTheTLAB(t *testing.T) {
	a := newTestHeap(t, 8)
	archive := mutator.NewArchive(a.Table())
	m := mutator.NewMutator(a, archive, nil, 0)

	first := m.Allocate(64)
	require.NotEqual(t, uintptr(0), first)
	m.Retire()

	// Collect: the object survives, its block is parked for reuse
	a.Stop(nil)
	a.Mark(first, 64)
	archive.PopAllYoung(a.ReclaimForReusing)
	require.Equal(t, 1, a.RecyclableBlocks(block.GenerationYoung))

	second := m.Allocate(64)
	require.Equal(t, a.BlockFor(first), a.BlockFor(second))
	require.Equal(t, first+testLineSize, second)
	require.Equal(t, 0, a.RecyclableBlocks(block.GenerationYoung))
	require.NoError(t, a.Validate())
}
