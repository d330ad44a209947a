//go:build unix

package reserve

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

func mapRange(size uintptr) ([]byte, func(mem []byte) error, error) {
	mem, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, nil, err
	}

	return mem, unix.Munmap, nil
}

func addressOf(mem []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(mem)))
}
