package main

import (
	"fmt"
	"io"
	"math/rand"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/spf13/cobra"
	"github.com/vkngwrapper/immix"
	"github.com/vkngwrapper/immix/block"
	"github.com/vkngwrapper/immix/heap"
	"github.com/vkngwrapper/immix/mutator"
	"github.com/vkngwrapper/immix/reserve"
	"go.uber.org/atomic"
	"golang.org/x/exp/slog"
)

type simConfig struct {
	Mutators    int
	Objects     int
	Cycles      int
	Survival    float64
	SharedEvery int
	Seed        int64
}

var simOptions simConfig

func init() {
	cmd := newSimulateCmd()
	cmd.Flags().IntVar(&simOptions.Mutators, "mutators", 4, "Number of concurrent mutator goroutines")
	cmd.Flags().IntVar(&simOptions.Objects, "objects", 2000, "Objects allocated by each mutator per cycle")
	cmd.Flags().IntVar(&simOptions.Cycles, "cycles", 3, "Number of allocate/collect cycles")
	cmd.Flags().Float64Var(&simOptions.Survival, "survival", 0.1, "Fraction of objects that survive each collection")
	cmd.Flags().IntVar(&simOptions.SharedEvery, "shared-every", 8, "Route every Nth object through the per-processor tier (0 disables it)")
	cmd.Flags().Int64Var(&simOptions.Seed, "seed", 1, "Seed for object sizes and survival")
	rootCmd.AddCommand(cmd)
}

func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Drive a heap through allocation and collection cycles",
		Long: `The simulate command reserves an address range, lays a heap over it and runs
mutator goroutines that allocate a mix of small, medium and humongous objects
through every allocation tier. Between cycles a fraction of the objects is
marked live: blocks with no live lines are reclaimed and partially live blocks
are parked for recycling.

Example:
  immixctl simulate --mutators 8 --cycles 5
  immixctl simulate --blocks 256 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(newLogger(cmd.ErrOrStderr()), simOptions, cmd.OutOrStdout())
		},
	}
	return cmd
}

type simObject struct {
	addr uintptr
	size uintptr
}

type simResult struct {
	Allocated int64
	Failed    int64
	Survivors int
	Reclaimed int
	Recycled  int
	Retained  int
	Wasted    int64
}

type simulation struct {
	config  simConfig
	region  *reserve.Region
	heap    *heap.Allocator
	archive *mutator.Archive
	shared  *mutator.SharedAllocator

	// Fully live runs kept out of circulation until teardown
	retained []*block.Block

	allocated atomic.Int64
	failed    atomic.Int64
	result    simResult
}

func runSimulate(logger *slog.Logger, config simConfig, out io.Writer) error {
	if config.Mutators < 1 {
		return errors.Newf("mutators must be positive, got %d", config.Mutators)
	}
	if config.Survival < 0 || config.Survival > 1 {
		return errors.Newf("survival must be between 0 and 1, got %f", config.Survival)
	}

	g, err := computeGeometry()
	if err != nil {
		return err
	}

	region, err := reserve.Reserve(uintptr(g.CapacityBytes), uintptr(g.BlockSize))
	if err != nil {
		return err
	}
	defer region.Release()

	allocator, err := heap.New(logger, heap.CreateOptions{
		Start:          region.Start(),
		CapacityBlocks: g.CapacityBlocks,
		LineSize:       g.LineSize,
		LinesPerBlock:  g.LinesPerBlock,
	})
	if err != nil {
		return err
	}

	archive := mutator.NewArchive(allocator.Table())
	sim := &simulation{
		config:  config,
		region:  region,
		heap:    allocator,
		archive: archive,
		shared:  mutator.NewSharedAllocator(logger, allocator, archive, config.Mutators),
	}

	for cycle := 0; cycle < config.Cycles; cycle++ {
		objects := sim.allocateCycle(cycle)
		sim.collect(cycle, objects)
	}

	sim.result.Allocated = sim.allocated.Load()
	sim.result.Failed = sim.failed.Load()
	sim.result.Wasted = sim.shared.Wasted()
	sim.result.Retained = len(sim.retained)

	if err := allocator.Validate(); err != nil {
		return errors.Wrap(err, "heap failed validation after the simulation")
	}

	if jsonOut {
		err = printJSON(out, func(writer *jwriter.Writer) {
			obj := writer.Object()
			defer obj.End()

			sim.printResult(obj.Name("Simulation"))
			allocator.PrintDetailedMap(obj.Name("Heap"))
		})
	} else {
		err = sim.printText(out)
	}
	if err != nil {
		return err
	}

	return sim.teardown()
}

func (s *simulation) allocateCycle(cycle int) [][]simObject {
	objects := make([][]simObject, s.config.Mutators)
	blockSize := s.heap.BlockSize()
	lineSize := s.heap.LineSize()

	var wg sync.WaitGroup
	for w := 0; w < s.config.Mutators; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()

			rng := rand.New(rand.NewSource(s.config.Seed + int64(cycle*s.config.Mutators+w)))
			m := mutator.NewMutator(s.heap, s.archive, s.shared, w)
			defer m.Retire()

			for i := 0; i < s.config.Objects; i++ {
				size := objectSize(rng, lineSize, blockSize)

				var addr uintptr
				if s.config.SharedEvery > 0 && i%s.config.SharedEvery == 0 {
					addr = m.AllocateShared(size)
				} else {
					addr = m.Allocate(size)
				}
				if addr == 0 {
					s.failed.Inc()
					continue
				}

				s.touch(addr, size)
				s.allocated.Inc()
				objects[w] = append(objects[w], simObject{addr: addr, size: size})
			}
		}(w)
	}
	wg.Wait()

	return objects
}

// objectSize draws from a mix of mostly small objects, some medium objects and the
// occasional humongous one
func objectSize(rng *rand.Rand, lineSize, blockSize uintptr) uintptr {
	roll := rng.Intn(100)
	switch {
	case roll < 70 || lineSize <= 8:
		return 8 + uintptr(rng.Intn(int(lineSize)))
	case roll < 97 && blockSize/2 > lineSize:
		return lineSize + uintptr(rng.Intn(int(blockSize/2-lineSize)))
	default:
		return blockSize/2 + uintptr(rng.Intn(int(blockSize)*2))
	}
}

// touch writes the first and last byte of an object so the range is really backed
func (s *simulation) touch(addr, size uintptr) {
	data := s.region.Bytes()
	offset := addr - s.region.Start()
	data[offset] = byte(size)
	data[offset+size-1] = byte(size >> 8)
}

func (s *simulation) collect(cycle int, objects [][]simObject) {
	s.shared.RetireBlocks()

	var candidates []*block.Block
	s.heap.Stop(func(b *block.Block) {
		candidates = append(candidates, b)
	})
	s.archive.PopAllYoung(func(b *block.Block) {
		candidates = append(candidates, b)
	})

	rng := rand.New(rand.NewSource(s.config.Seed - int64(cycle) - 1))
	for _, list := range objects {
		for _, obj := range list {
			if rng.Float64() < s.config.Survival {
				s.heap.Mark(obj.addr, obj.size)
				s.result.Survivors++
			}
		}
	}

	for _, b := range candidates {
		dirty := b.DirtyLines()
		switch {
		case dirty == 0:
			s.heap.Reclaim(b)
			s.result.Reclaimed++
		case dirty < b.Lines():
			s.heap.ReclaimForReusing(b)
			s.result.Recycled++
		default:
			s.retained = append(s.retained, b)
		}
	}

	s.archive.PopAllHumongous(func(b *block.Block) {
		if b.DirtyLines() == 0 {
			s.heap.Reclaim(b)
			s.result.Reclaimed++
		} else {
			s.retained = append(s.retained, b)
		}
	})
}

func (s *simulation) printResult(writer *jwriter.Writer) {
	obj := writer.Object()
	defer obj.End()

	obj.Name("Allocated").Int(int(s.result.Allocated))
	obj.Name("Failed").Int(int(s.result.Failed))
	obj.Name("Survivors").Int(s.result.Survivors)
	obj.Name("Reclaimed").Int(s.result.Reclaimed)
	obj.Name("Recycled").Int(s.result.Recycled)
	obj.Name("Retained").Int(s.result.Retained)
	obj.Name("WastedSharedBlocks").Int(int(s.result.Wasted))
}

func (s *simulation) printText(out io.Writer) error {
	var stats immix.DetailedStatistics
	stats.Clear()
	s.heap.AddDetailedStatistics(&stats)

	_, err := fmt.Fprintf(out, `Objects allocated:     %d
Allocation failures:   %d
Survivors:             %d
Runs reclaimed:        %d
Blocks recycled:       %d
Runs retained:         %d
Wasted shared blocks:  %d

Capacity:              %d blocks (%d bytes)
Free:                  %d blocks in %d runs (%d cached)
Active:                %d blocks in %d runs
`,
		s.result.Allocated,
		s.result.Failed,
		s.result.Survivors,
		s.result.Reclaimed,
		s.result.Recycled,
		s.result.Retained,
		s.result.Wasted,
		stats.CapacityBlocks, stats.CapacityBytes,
		stats.FreeBlocks, stats.FreeRunCount, stats.CachedBlocks,
		stats.ActiveBlocks, stats.ActiveRunCount,
	)
	return err
}

// teardown hands every run back and destroys the heap
func (s *simulation) teardown() error {
	s.shared.RetireBlocks()
	s.heap.Stop(s.heap.Reclaim)
	s.archive.PopAllYoung(s.heap.Reclaim)
	s.archive.PopAllHumongous(s.heap.Reclaim)
	for _, b := range s.retained {
		s.heap.Reclaim(b)
	}
	s.retained = nil

	return s.heap.Destroy()
}
