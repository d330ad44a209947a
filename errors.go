package immix

import "github.com/pkg/errors"

// PowerOfTwoError is the error returned from CheckPow2 or other methods if the number being tested is not a power of two
var PowerOfTwoError error = errors.New("number must be a power of two")

// AlignmentError is returned when an address handed to the allocator does not sit on the boundary it must
var AlignmentError error = errors.New("address is not aligned")

// CapacityError is returned when a requested heap geometry cannot be represented by the block table
var CapacityError error = errors.New("invalid heap capacity")
