// Package tick implements the 16-bit wrapping simulation tick counter shared by
// client and server.
package tick

// Tick identifies one fixed-duration authoritative simulation step. It wraps
// at 65535 -> 0, so ordering must go through Diff / IsMoreRecent rather than
// plain integer comparison.
type Tick uint16

// Diff returns the signed distance a-b, interpreting the difference modulo
// 2^16. The result is valid as long as the real distance is below 32768 ticks.
func Diff(a, b Tick) int {
	return int(int16(a - b))
}

// IsMoreRecent reports whether a is strictly more recent than b.
func IsMoreRecent(a, b Tick) bool {
	return Diff(a, b) > 0
}

// AtOrBefore reports whether a is b or older than b.
func AtOrBefore(a, b Tick) bool {
	return Diff(a, b) <= 0
}

// Add offsets t by n ticks (n may be negative), wrapping as the counter does.
func (t Tick) Add(n int) Tick {
	return t + Tick(uint16(n))
}
