//go:build !a12debug

package session

// macBypassEnabled is always false in release builds: MAC verification
// is mandatory. See debug_on.go for the build-tag-gated escape hatch
// used only for local protocol debugging.
func macBypassEnabled() bool { return false }
