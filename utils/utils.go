package utils

import "os"

///////////////////////////////////////////////////////////////////////////////
// Formatting Utilities
///////////////////////////////////////////////////////////////////////////////

// Itoa formats a signed integer in base 10 using a stack buffer.
// The only allocation is the returned string.
//
//go:nosplit
//go:inline
func Itoa(n int) string {
	if n >= 0 {
		return Utoa(uint64(n))
	}
	var buf [21]byte
	i := len(buf)
	u := uint64(-n)
	for u >= 10 {
		i--
		buf[i] = byte('0' + u%10)
		u /= 10
	}
	i--
	buf[i] = byte('0' + u)
	i--
	buf[i] = '-'
	return string(buf[i:])
}

// Utoa formats an unsigned integer in base 10 using a stack buffer.
//
//go:nosplit
//go:inline
func Utoa(u uint64) string {
	var buf [20]byte
	i := len(buf)
	for u >= 10 {
		i--
		buf[i] = byte('0' + u%10)
		u /= 10
	}
	i--
	buf[i] = byte('0' + u)
	return string(buf[i:])
}

// Hex formats an unsigned integer as 0x-prefixed lowercase hex.
// Used for address dumps in fixie and copy traces.
//
//go:nosplit
//go:inline
func Hex(u uint64) string {
	const digits = "0123456789abcdef"
	var buf [18]byte
	i := len(buf)
	for {
		i--
		buf[i] = digits[u&15]
		u >>= 4
		if u == 0 {
			break
		}
	}
	i--
	buf[i] = 'x'
	i--
	buf[i] = '0'
	return string(buf[i:])
}

///////////////////////////////////////////////////////////////////////////////
// Diagnostics Sink
///////////////////////////////////////////////////////////////////////////////

// PrintWarning writes a preformatted message straight to stderr.
// No formatting, no buffering: callers concatenate their own line.
//
//go:nosplit
//go:inline
func PrintWarning(msg string) {
	_, _ = os.Stderr.WriteString(msg)
}

///////////////////////////////////////////////////////////////////////////////
// Bit Arithmetic — Word/Bit Index Splits for []uint64 Bitmaps
///////////////////////////////////////////////////////////////////////////////

// WordOf returns the bitmap word holding bit i.
//
//go:nosplit
//go:inline
func WordOf(i uint32) uint32 {
	return i >> 6
}

// BitOf returns the bit position of bit i inside its bitmap word.
//
//go:nosplit
//go:inline
func BitOf(i uint32) uint32 {
	return i & 63
}

// IndexOf rebuilds a bit index from its word and bit coordinates.
//
//go:nosplit
//go:inline
func IndexOf(word, bit uint32) uint32 {
	return word<<6 | bit
}

// MarkBit sets bit i in map.
//
//go:nosplit
//go:inline
func MarkBit(m []uint64, i uint32) {
	m[i>>6] |= 1 << (i & 63)
}

// ClearBit clears bit i in map.
//
//go:nosplit
//go:inline
func ClearBit(m []uint64, i uint32) {
	m[i>>6] &^= 1 << (i & 63)
}

// GetBit reports whether bit i is set in map.
//
//go:nosplit
//go:inline
func GetBit(m []uint64, i uint32) bool {
	return m[i>>6]&(1<<(i&63)) != 0
}

// Ceiling returns ⌈n/d⌉ for d > 0.
//
//go:nosplit
//go:inline
func Ceiling(n, d uint32) uint32 {
	return (n + d - 1) / d
}

// Avg returns the midpoint of a and b rounded down without overflow.
//
//go:nosplit
//go:inline
func Avg(a, b uint32) uint32 {
	return a/2 + b/2 + (a&b)&1
}

// Avg64 is Avg for byte counters.
//
//go:nosplit
//go:inline
func Avg64(a, b uint64) uint64 {
	return a/2 + b/2 + (a&b)&1
}

// Log2Ceil returns the number of bits needed to count up to n-1,
// i.e. the smallest r with 1<<r >= n.
//
//go:nosplit
//go:inline
func Log2Ceil(n uint32) uint32 {
	r := uint32(0)
	for i := uint64(1); i < uint64(n); i <<= 1 {
		r++
	}
	return r
}

// PowerOfTwo reports whether n is a non-zero power of two.
//
//go:nosplit
//go:inline
func PowerOfTwo(n uint32) bool {
	return n != 0 && n&(n-1) == 0
}

///////////////////////////////////////////////////////////////////////////////
// Hash & Mixers — For Forwarding Table Indexing
///////////////////////////////////////////////////////////////////////////////

// Mix64 applies a Murmur3-style avalanche to a 64-bit value.
// Addresses share their high region bits, so the forwarding table mixes
// them before masking.
//
//go:nosplit
//go:inline
func Mix64(x uint64) uint64 {
	x ^= x >> 33
	x *= 0xff51afd7ed558ccd
	x ^= x >> 33
	x *= 0xc4ceb9fe1a85ec53
	x ^= x >> 33
	return x
}
