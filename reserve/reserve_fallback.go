//go:build !unix

package reserve

import (
	"unsafe"
)

// mapRange falls back to Go memory where anonymous mappings are not available. The
// Go heap does not move objects, so the range keeps its address until released.
func mapRange(size uintptr) ([]byte, func(mem []byte) error, error) {
	return make([]byte, size), func([]byte) error { return nil }, nil
}

func addressOf(mem []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(mem)))
}
