// Package mutator implements the allocation fast paths used by mutator threads:
// thread-local buffers for small and medium objects, a per-processor shared tier,
// and dedicated runs for humongous objects.
package mutator

import (
	"github.com/vkngwrapper/immix/block"
)

//go:generate mockgen -destination=mocks/block_source.go -package=mock_mutator github.com/vkngwrapper/immix/mutator BlockSource

// BlockSource is the part of the global block allocator the fast paths draw from.
// *heap.Allocator implements it.
type BlockSource interface {
	Allocate(n int, generation block.Generation) *block.Block
	Reclaim(b *block.Block)
	AllocReusing(generation block.Generation) *block.Block
	BlockSize() uintptr
	LineSize() uintptr
}

// ObjectAlignment is the granularity object sizes are rounded up to
const ObjectAlignment uintptr = 8

// MinHumongous is the smallest object size that gets a dedicated run of blocks
func MinHumongous(source BlockSource) uintptr {
	return source.BlockSize() >> 1
}
