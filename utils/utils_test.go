package utils

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"testing"
)

// ============================================================================
// FORMATTING TESTS
// ============================================================================

func TestItoa(t *testing.T) {
	tests := []int{0, 1, 9, 10, 99, 100, 12345, -1, -10, -98765, math.MaxInt64, math.MinInt64}

	for _, n := range tests {
		t.Run(fmt.Sprintf("n_%d", n), func(t *testing.T) {
			if got, want := Itoa(n), strconv.Itoa(n); got != want {
				t.Errorf("Itoa(%d) = %q, strconv.Itoa = %q", n, got, want)
			}
		})
	}
}

func TestUtoa(t *testing.T) {
	for _, u := range []uint64{0, 7, 10, 4096, math.MaxUint64} {
		if got, want := Utoa(u), strconv.FormatUint(u, 10); got != want {
			t.Errorf("Utoa(%d) = %q, want %q", u, got, want)
		}
	}
}

func TestHex(t *testing.T) {
	for _, u := range []uint64{0, 1, 0xdeadbeef, math.MaxUint64} {
		if got, want := Hex(u), "0x"+strconv.FormatUint(u, 16); got != want {
			t.Errorf("Hex(%d) = %q, want %q", u, got, want)
		}
	}
}

func TestPrintWarning(t *testing.T) {
	// Output is not captured; the call must simply not panic.
	for _, msg := range []string{"", "GC: minor collection\n", strings.Repeat("x", 4096)} {
		PrintWarning(msg)
	}
}

// ============================================================================
// BIT ARITHMETIC TESTS
// ============================================================================

func TestWordBitRoundTrip(t *testing.T) {
	for _, i := range []uint32{0, 1, 63, 64, 65, 127, 128, 1 << 20} {
		if got := IndexOf(WordOf(i), BitOf(i)); got != i {
			t.Errorf("IndexOf(WordOf(%d), BitOf(%d)) = %d", i, i, got)
		}
	}
}

func TestMarkClearGetBit(t *testing.T) {
	m := make([]uint64, 3)
	bitsToSet := []uint32{0, 5, 63, 64, 130, 191}
	for _, i := range bitsToSet {
		MarkBit(m, i)
	}
	for _, i := range bitsToSet {
		if !GetBit(m, i) {
			t.Fatalf("bit %d should be set", i)
		}
	}
	if GetBit(m, 1) || GetBit(m, 129) {
		t.Fatal("unexpected bit set")
	}
	ClearBit(m, 64)
	if GetBit(m, 64) {
		t.Fatal("bit 64 should be clear")
	}
	if m[1] != 0 {
		t.Fatalf("word 1 = %#x, want 0", m[1])
	}
}

func TestCeilingAvgLog(t *testing.T) {
	cases := []struct{ n, d, want uint32 }{
		{0, 64, 0}, {1, 64, 1}, {64, 64, 1}, {65, 64, 2}, {4097, 512, 9},
	}
	for _, c := range cases {
		if got := Ceiling(c.n, c.d); got != c.want {
			t.Errorf("Ceiling(%d,%d) = %d, want %d", c.n, c.d, got, c.want)
		}
	}

	if got := Avg(math.MaxUint32, math.MaxUint32); got != math.MaxUint32 {
		t.Errorf("Avg overflowed: %d", got)
	}
	if got := Avg(10, 21); got != 15 {
		t.Errorf("Avg(10,21) = %d, want 15", got)
	}
	if got := Avg64(1<<40, 1<<41); got != (1<<40+1<<41)/2 {
		t.Errorf("Avg64 = %d", got)
	}

	logs := map[uint32]uint32{0: 0, 1: 0, 2: 1, 3: 2, 4: 2, 5: 3, 8: 3, 9: 4}
	for n, want := range logs {
		if got := Log2Ceil(n); got != want {
			t.Errorf("Log2Ceil(%d) = %d, want %d", n, got, want)
		}
	}
}

func TestPowerOfTwo(t *testing.T) {
	for _, n := range []uint32{1, 2, 512, 1 << 31} {
		if !PowerOfTwo(n) {
			t.Errorf("PowerOfTwo(%d) = false", n)
		}
	}
	for _, n := range []uint32{0, 3, 513, 1<<31 + 1} {
		if PowerOfTwo(n) {
			t.Errorf("PowerOfTwo(%d) = true", n)
		}
	}
}

func TestMix64Spreads(t *testing.T) {
	// Addresses in the same region differ only in their low bits.
	seen := make(map[uint64]struct{})
	for i := uint64(0); i < 1024; i++ {
		seen[Mix64(7<<32|i)&1023] = struct{}{}
	}
	if len(seen) < 512 {
		t.Fatalf("Mix64 spread only %d/1024 buckets", len(seen))
	}
}
