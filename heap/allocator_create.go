package heap

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/immix"
	"github.com/vkngwrapper/immix/block"
	"github.com/vkngwrapper/immix/lines"
	"golang.org/x/exp/slog"
)

// CreateFlags indicate specific heap behaviors to activate or deactivate
type CreateFlags int32

const (
	// CreateExternallySynchronized ensures that the heap will not be synchronized internally.
	// The consumer must guarantee the heap is used from only one thread at a time or is
	// synchronized by some other mechanism, but performance may improve because the heap
	// lock is not used. The lock-free stacks remain lock-free either way.
	CreateExternallySynchronized CreateFlags = 1 << iota
	// CreateNoSingleBlockCache files freed single blocks straight into the free index
	// instead of parking them on the lock-free single-block stack. Every single-block
	// allocation then takes the heap lock, but free single blocks coalesce eagerly.
	CreateNoSingleBlockCache
)

var createFlagsMapping = map[CreateFlags]string{
	CreateExternallySynchronized: "CreateExternallySynchronized",
	CreateNoSingleBlockCache:     "CreateNoSingleBlockCache",
}

func (f CreateFlags) String() string {
	if f == 0 {
		return "None"
	}

	var names []string
	for bit := CreateFlags(1); bit != 0 && bit <= f; bit <<= 1 {
		if f&bit == 0 {
			continue
		}

		str, ok := createFlagsMapping[bit]
		if !ok {
			str = fmt.Sprintf("CreateFlags(%d)", int32(bit))
		}
		names = append(names, str)
	}

	return strings.Join(names, "|")
}

const (
	// DefaultLineSize is the line size used when CreateOptions.LineSize is left at 0
	DefaultLineSize int = 128
	// DefaultLinesPerBlock is the number of lines per block used when
	// CreateOptions.LinesPerBlock is left at 0. With the default line size, blocks are 32KiB.
	DefaultLinesPerBlock int = 256
)

// CreateOptions contains the settings used to create a heap. Start and CapacityBlocks
// are required, every other field may be left blank
type CreateOptions struct {
	// Flags indicates specific heap behaviors to activate or deactivate
	Flags CreateFlags

	// Start is the first address of the reserved range. It must be non-zero and aligned to
	// the block size.
	Start uintptr
	// CapacityBlocks is the number of blocks in the reserved range. The heap never grows.
	CapacityBlocks int

	// LineSize is the granularity of line marking in bytes. It must be a power of two.
	LineSize int
	// LinesPerBlock is the number of lines in each block. It must be a power of two.
	LinesPerBlock int
}

// New creates a heap over an already reserved address range. The whole capacity
// starts out as a single free run.
//
// logger - The logger heap events are written to
//
// options - The heap geometry: Start and CapacityBlocks are required
func New(logger *slog.Logger, options CreateOptions) (*Allocator, error) {
	lineSize := options.LineSize
	if lineSize == 0 {
		lineSize = DefaultLineSize
	}

	linesPerBlock := options.LinesPerBlock
	if linesPerBlock == 0 {
		linesPerBlock = DefaultLinesPerBlock
	}

	if options.Start == 0 {
		return nil, errors.Wrap(immix.AlignmentError, "heap start address must be non-zero")
	}

	if options.CapacityBlocks < 1 || options.CapacityBlocks >= math.MaxInt32 {
		return nil, errors.Wrapf(immix.CapacityError, "capacity of %d blocks is out of range", options.CapacityBlocks)
	}

	err := immix.CheckPow2(linesPerBlock, "LinesPerBlock")
	if err != nil {
		return nil, err
	}

	if options.CapacityBlocks > math.MaxInt/linesPerBlock {
		return nil, errors.Wrapf(immix.CapacityError, "capacity of %d blocks of %d lines overflows the line table", options.CapacityBlocks, linesPerBlock)
	}

	blockSize := uintptr(lineSize) * uintptr(linesPerBlock)
	if options.Start+uintptr(options.CapacityBlocks)*blockSize < options.Start {
		return nil, errors.Wrapf(immix.CapacityError, "a heap of %d blocks starting at 0x%x overflows the address space", options.CapacityBlocks, options.Start)
	}

	lineTable, err := lines.NewTable(options.Start, lineSize, options.CapacityBlocks*linesPerBlock)
	if err != nil {
		return nil, err
	}

	table, err := block.NewTable(lineTable, linesPerBlock)
	if err != nil {
		return nil, err
	}

	allocator := &Allocator{
		logger:       logger,
		flags:        options.Flags,
		table:        table,
		lines:        lineTable,
		cacheSingles: options.Flags&CreateNoSingleBlockCache == 0,
		singles:      block.NewStack(table, block.FreeLink),
	}
	allocator.lock.UseMutex = options.Flags&CreateExternallySynchronized == 0
	for gen := range allocator.recycled {
		allocator.recycled[gen] = block.NewStack(table, block.FreeLink)
	}

	allocator.fileLocked(table.At(0))
	allocator.freeBlocks.Store(int64(options.CapacityBlocks))

	logger.LogAttrs(context.Background(), slog.LevelInfo, "heap initialized",
		slog.String("start", fmt.Sprintf("0x%x", options.Start)),
		slog.Int("capacityBlocks", options.CapacityBlocks),
		slog.Int("blockSize", int(blockSize)),
		slog.Int("lineSize", lineSize),
		slog.Int("linesPerBlock", linesPerBlock),
		slog.String("flags", options.Flags.String()),
	)

	immix.DebugValidate(allocator)

	return allocator, nil
}
