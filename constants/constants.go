// ─────────────────────────────────────────────────────────────────────────────
// [Filename]: constants.go — Collector Tunables & Default Sizing
//
// Purpose:
//   - Defines the default generation sizes, tenure thresholds and paddings
//     used to seed heap.Config.
//   - Defines word geometry shared by the memory, segment and heap packages.
//
// Notes:
//   - These are defaults only; every value here has a matching heap.Config
//     field so tests can inject alternate thresholds.
//   - Sizes ending in "InBytes" are bytes, everything else is words or counts.
//
// ⚠️ No runtime logic here — all values must be compile-time resolvable
// ─────────────────────────────────────────────────────────────────────────────

package constants

// ───────────────────────────── Word Geometry ──────────────────────────────

const (
	// BytesPerWord is the size of one managed heap word.
	BytesPerWord = 8

	// BitsPerWord is the number of bits in one managed heap word.
	// Bitmaps are stored as []uint64 so this is also the bitmap word width.
	BitsPerWord = 64

	// LogBitsPerWord is log2(BitsPerWord), used for word/bit index splits.
	LogBitsPerWord = 6
)

// ─────────────────────────── Generational Policy ───────────────────────────

const (
	// TenureThreshold is the number of nursery survivals after which an object
	// is promoted into the tenured generation.
	// 3 survivals fits in a 2-bit age record.
	TenureThreshold = 3

	// FixieTenureThreshold is the age at which a pinned object is considered
	// tenured. Pinned objects cannot be moved, so they age two extra cycles
	// before being excluded from minor marking.
	FixieTenureThreshold = TenureThreshold + 2

	// HeapMapPages is the number of pages summarised by one heap-map bit.
	// With 4 KiB pages one heap-map bit covers 4 MiB of tenured space.
	HeapMapPages = 1024

	// OversizedGen2Divisor marks gen2 as oversized once its occupancy drops
	// below capacity/OversizedGen2Divisor (and capacity exceeds the initial size).
	OversizedGen2Divisor = 4

	// Gen2GrowthFactor multiplies the minimum next gen2 capacity when memory
	// is not tight.
	Gen2GrowthFactor = 2
)

// ─────────────────────────── Memory Guardrails ─────────────────────────────

const (
	// InitialGen2CapacityInBytes floors every tenured generation allocation.
	InitialGen2CapacityInBytes = 4 << 20 // 4 MiB

	// InitialTenuredFixieCeilingInBytes floors the tenured-fixie footprint
	// ceiling that escalates minor collections to major ones.
	InitialTenuredFixieCeilingInBytes = 4 << 20 // 4 MiB

	// LowMemoryPaddingInBytes is added to every projected memory need.
	LowMemoryPaddingInBytes = 1 << 20 // 1 MiB

	// LikelyPageSizeInBytes is the fallback page size when the OS cannot be asked.
	LikelyPageSizeInBytes = 4096
)

// ───────────────────────────── Fixie Layout ───────────────────────────────

const (
	// FixieHeaderWords is the storage reserved in front of every fixie body.
	// The first header word holds FixieMagic|handle for lookup verification.
	FixieHeaderWords = 3

	// FixieMagic tags the first header word of every live fixie.
	FixieMagic = 0xF1C5 << 48

	// FixieMagicMask isolates the magic tag from the handle bits.
	FixieMagicMask = 0xFFFF << 48
)

// ─────────────────────────── Debug Allocation ─────────────────────────────

const (
	// AllocationCanary brackets every storage block when debug allocation is on.
	AllocationCanary = 0x22377322

	// FreedPoison overwrites freed storage when debug allocation is on.
	FreedPoison = 0xFEFEFEFEFEFEFEFE
)
