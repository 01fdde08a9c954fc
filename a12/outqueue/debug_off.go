//go:build !a12debug

package outqueue

// poisonOnSwap is a no-op in release builds. The borrow discipline
// documented on Flush is enforced by caller discipline only; see
// debug_on.go for the debug-build poison-fill.
func poisonOnSwap(buf []byte) {}
