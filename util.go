package immix

import (
	cerrors "github.com/cockroachdb/errors"
)

type Number interface {
	~int | ~uint | ~uintptr
}

func CheckPow2[T Number](number T, name string) error {
	if number == 0 || number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

func CheckAligned(addr uintptr, alignment uintptr, name string) error {
	if addr&(alignment-1) != 0 {
		return cerrors.Wrapf(AlignmentError, "%s (0x%x) must be aligned to %d", name, addr, alignment)
	}
	return nil
}

func AlignUp[T Number](value T, alignment T) T {
	return (value + alignment - 1) &^ (alignment - 1)
}

func AlignDown[T Number](value T, alignment T) T {
	return value &^ (alignment - 1)
}

// DivideRoundingUp returns the number of alignment-sized units needed to hold value
func DivideRoundingUp[T Number](value T, unit T) T {
	return (value + unit - 1) / unit
}
