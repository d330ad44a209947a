//go:build !debug_immix

package immix

// DebugEnabled reports whether structural checks run on the allocation paths
const DebugEnabled = false

// DebugValidate will call Validate on the provided object and panics if any errors are returned. This
// method no-ops unless the debug_immix build tag is present
func DebugValidate(validatable Validatable) {
}
