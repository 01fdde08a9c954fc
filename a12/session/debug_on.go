//go:build a12debug

package session

// macBypassEnabled skips inbound MAC verification for local protocol
// debugging. It must never be the default; the a12debug build tag is the
// only way to reach it.
func macBypassEnabled() bool { return true }
