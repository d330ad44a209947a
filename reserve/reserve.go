// Package reserve obtains the fixed address range a heap is laid out over.
package reserve

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/immix"
)

// Region is a reserved, zero-filled address range whose start is aligned as requested
type Region struct {
	mem   []byte
	start uintptr
	size  uintptr

	release func(mem []byte) error
}

func (r *Region) Start() uintptr { return r.start }
func (r *Region) Size() uintptr  { return r.size }
func (r *Region) End() uintptr   { return r.start + r.size }

// Bytes returns the aligned window of the region
func (r *Region) Bytes() []byte {
	if r.mem == nil {
		return nil
	}

	offset := r.start - addressOf(r.mem)
	return r.mem[offset : offset+r.size]
}

// Release gives the range back. The heap laid over it must be destroyed first.
// Releasing twice is a no-op.
func (r *Region) Release() error {
	if r.mem == nil {
		return nil
	}

	mem := r.mem
	r.mem = nil
	return r.release(mem)
}

// Reserve obtains size bytes starting at an address aligned to align
func Reserve(size uintptr, align uintptr) (*Region, error) {
	if size == 0 {
		return nil, errors.Wrap(immix.CapacityError, "cannot reserve an empty range")
	}

	err := immix.CheckPow2(align, "align")
	if err != nil {
		return nil, err
	}

	total := size + align
	if total < size {
		return nil, errors.Wrapf(immix.CapacityError, "a range of %d bytes aligned to %d overflows the address space", size, align)
	}

	mem, release, err := mapRange(total)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to reserve %d bytes", total)
	}

	return &Region{
		mem:     mem,
		start:   immix.AlignUp(addressOf(mem), align),
		size:    size,
		release: release,
	}, nil
}
