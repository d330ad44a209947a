package heap

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/immix"
	"github.com/vkngwrapper/immix/avl"
	"github.com/vkngwrapper/immix/block"
)

// AddStatistics adds the heap's block counts to stats. It only reads counters, so it
// is safe to call at any time.
func (a *Allocator) AddStatistics(stats *immix.Statistics) {
	blockSize := int(a.table.BlockSize())
	active := a.TotalActiveBlocks()

	stats.CapacityBlocks += a.table.Len()
	stats.CapacityBytes += a.table.Len() * blockSize
	stats.FreeBlocks += a.FreeBlocks()
	stats.ActiveBlocks += active
	stats.ActiveBytes += active * blockSize
}

// AddDetailedStatistics walks the block table and adds run-level statistics to stats.
// The heap should be quiescent.
func (a *Allocator) AddDetailedStatistics(stats *immix.DetailedStatistics) {
	a.lock.Lock()
	defer a.lock.Unlock()

	a.AddStatistics(&stats.Statistics)

	a.table.Runs(func(b *block.Block) {
		switch b.State() {
		case block.StateFree:
			stats.AddFreeRun(b.Blocks())
		case block.StateCached:
			stats.AddFreeRun(b.Blocks())
			stats.CachedBlocks += b.Blocks()
		default:
			stats.AddActiveRun(b.Blocks())
		}
	})
}

// PrintDetailedMap writes a JSON description of every run of the heap. The heap
// should be quiescent.
func (a *Allocator) PrintDetailedMap(writer *jwriter.Writer) {
	var stats immix.DetailedStatistics
	stats.Clear()
	a.AddDetailedStatistics(&stats)

	a.lock.Lock()
	defer a.lock.Unlock()

	objState := writer.Object()
	defer objState.End()

	objState.Name("Start").Int(int(a.table.Start()))
	objState.Name("BlockSize").Int(int(a.table.BlockSize()))
	objState.Name("LineSize").Int(int(a.lines.LineSize()))
	objState.Name("CapacityBlocks").Int(stats.CapacityBlocks)
	objState.Name("FreeBlocks").Int(stats.FreeBlocks)
	objState.Name("ActiveBlocks").Int(stats.ActiveBlocks)
	objState.Name("CachedBlocks").Int(stats.CachedBlocks)
	objState.Name("FreeRunCount").Int(stats.FreeRunCount)
	objState.Name("ActiveRunCount").Int(stats.ActiveRunCount)

	sizes := objState.Name("FreeIndex").Array()
	a.index.IterateInorder(func(node *avl.Node[int, *block.SizeStack]) {
		entry := sizes.Object()
		entry.Name("Blocks").Int(node.Key())
		entry.Name("Runs").Int(node.Value().Len())
		entry.End()
	})
	sizes.End()

	runs := objState.Name("Runs").Array()
	defer runs.End()

	a.table.Runs(func(b *block.Block) {
		run := runs.Object()
		defer run.End()

		run.Name("Index").Int(b.Index())
		run.Name("Blocks").Int(b.Blocks())
		run.Name("State").String(b.State().String())
		if b.State() == block.StateOccupied || b.State() == block.StateRecyclable {
			run.Name("Generation").String(b.Generation().String())
			run.Name("DirtyLines").Int(b.DirtyLines())
		}
	})
}
