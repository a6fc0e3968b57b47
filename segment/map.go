// ============================================================================
// SEGMENT MAP: HIERARCHICAL RECORD BITMAP
// ============================================================================
//
// A Map attaches bitsPerRecord bits to every `scale` words of its segment.
// Maps chain through `child`: the tenured generation uses
//
//	heap map (1 bit / HeapMapPages pages) → page map (1 bit / page) → pointer map (1 bit / word)
//
// and Set/Clear cascade down the chain, so a top-level scan skips whole
// untouched regions and only descends where a pointer slot was marked.
// The nursery uses a single level with multi-bit records as its age map.
//
// Storage model:
//   - Map bits live in the segment's own storage block, after the payload
//   - Deeper levels come first: a level's offset is its child's footprint
//   - Records never straddle bitmap words (bitsPerRecord divides 64)

package segment

import (
	"iter"
	"math/bits"
	"sync/atomic"

	"gengc/debug"
	"gengc/memory"
	"gengc/utils"
)

// Map is one level of a segment bitmap hierarchy.
type Map struct {
	segment       *Segment
	child         *Map
	data          []uint64
	bitsPerRecord uint32
	scale         uint32
	clearNewData  bool
}

// NewMap describes a map level. It has no storage until bound to a segment.
//
//	bitsPerRecord: bits per record, a power of two ≤ 64
//	scale:         words per record, a power of two
//	child:         next finer level, or nil
//	clearNewData:  zero the bits when storage is attached
func NewMap(bitsPerRecord, scale uint32, child *Map, clearNewData bool) *Map {
	debug.Assert(utils.PowerOfTwo(bitsPerRecord) && bitsPerRecord <= 64, "map record width must be a power of two ≤ 64")
	debug.Assert(utils.PowerOfTwo(scale), "map scale must be a power of two")
	return &Map{
		child:         child,
		bitsPerRecord: bitsPerRecord,
		scale:         scale,
		clearNewData:  clearNewData,
	}
}

// ============================================================================
// GEOMETRY
// ============================================================================

// Child returns the next finer level, or nil.
func (m *Map) Child() *Map { return m.child }

// Scale returns the number of segment words covered by one record.
func (m *Map) Scale() uint32 { return m.scale }

// BitsPerRecord returns the record width.
func (m *Map) BitsPerRecord() uint32 { return m.bitsPerRecord }

// Segment returns the segment this map is bound to, or nil.
func (m *Map) Segment() *Segment { return m.segment }

// CalculateSize returns the words needed for this level over capacity words.
func CalculateSize(capacity, scale, bitsPerRecord uint32) uint32 {
	result := utils.Ceiling(utils.Ceiling(capacity, scale)*bitsPerRecord, 64)
	debug.Assert(result != 0, "map size must be non-zero")
	return result
}

// CalculateSize returns this level's size over capacity words.
func (m *Map) CalculateSize(capacity uint32) uint32 {
	return CalculateSize(capacity, m.scale, m.bitsPerRecord)
}

// Size returns this level's size over its segment's capacity.
func (m *Map) Size() uint32 {
	return m.CalculateSize(m.segment.capacity)
}

// CalculateFootprint returns the words needed by this level and all children.
func (m *Map) CalculateFootprint(capacity uint32) uint32 {
	n := m.CalculateSize(capacity)
	if m.child != nil {
		n += m.child.CalculateFootprint(capacity)
	}
	return n
}

func (m *Map) calculateOffset(capacity uint32) uint32 {
	if m.child != nil {
		return m.child.CalculateFootprint(capacity)
	}
	return 0
}

// bind attaches the whole chain to s.
func (m *Map) bind(s *Segment) {
	for l := m; l != nil; l = l.child {
		l.segment = s
	}
}

// init carves each level's bits out of the tail of storage.
func (m *Map) init(storage []uint64, capacity uint32) {
	if m.data == nil {
		start := capacity + m.calculateOffset(capacity)
		size := m.CalculateSize(capacity)
		m.data = storage[start : start+size : start+size]
	}
	if m.clearNewData {
		clear(m.data)
	}
	if m.child != nil {
		m.child.init(storage, capacity)
	}
}

// replaceWith takes over next's bits level by level.
func (m *Map) replaceWith(next *Map) {
	debug.Assert(m.bitsPerRecord == next.bitsPerRecord, "map replacement changes record width")
	debug.Assert(m.scale == next.scale, "map replacement changes scale")

	m.data = next.data
	next.segment = nil
	next.data = nil

	if m.child != nil {
		m.child.replaceWith(next.child)
	}
}

// ============================================================================
// INDEXING
// ============================================================================

// IndexOf converts a segment word index into this level's bit index.
//
//go:nosplit
//go:inline
func (m *Map) IndexOf(segmentIndex uint32) uint32 {
	return (segmentIndex / m.scale) * m.bitsPerRecord
}

// IndexOfAddress converts an address inside the segment into a bit index.
func (m *Map) IndexOfAddress(p memory.Address) uint32 {
	debug.Assert(m.segment.AlmostContains(p), "map index outside segment")
	debug.Assert(m.segment.capacity != 0, "map index on empty segment")
	return m.IndexOf(m.segment.IndexOf(p))
}

func (m *Map) recordMask() uint64 {
	if m.bitsPerRecord == 64 {
		return ^uint64(0)
	}
	return 1<<m.bitsPerRecord - 1
}

func (m *Map) getIndex(i uint32) uint32 {
	return uint32((m.data[i>>6] >> (i & 63)) & m.recordMask())
}

func (m *Map) setOnlyIndex(i, v uint32) {
	debug.Assert(utils.WordOf(i) < uint32(len(m.data)), "map bit out of range")
	shift := i & 63
	mask := m.recordMask()
	w := &m.data[i>>6]
	*w = (*w &^ (mask << shift)) | ((uint64(v) & mask) << shift)
}

func (m *Map) clearOnlyIndex(i uint32) {
	debug.Assert(utils.WordOf(i) < uint32(len(m.data)), "map bit out of range")
	m.data[i>>6] &^= m.recordMask() << (i & 63)
}

// ============================================================================
// RECORD ACCESS
// ============================================================================

// Get returns the record covering p.
func (m *Map) Get(p memory.Address) uint32 {
	return m.getIndex(m.IndexOfAddress(p))
}

// GetAt returns the record covering segment word index.
func (m *Map) GetAt(segmentIndex uint32) uint32 {
	return m.getIndex(m.IndexOf(segmentIndex))
}

// SetOnly writes v into the record covering p on this level only.
func (m *Map) SetOnly(p memory.Address, v uint32) {
	m.setOnlyIndex(m.IndexOfAddress(p), v)
}

// SetOnlyAt writes a 1 record at segment word index on this level only.
func (m *Map) SetOnlyAt(segmentIndex uint32) {
	m.setOnlyIndex(m.IndexOf(segmentIndex), 1)
}

// ClearOnly clears the record covering p on this level only.
func (m *Map) ClearOnly(p memory.Address) {
	m.clearOnlyIndex(m.IndexOfAddress(p))
}

// ClearOnlyAt clears the record at segment word index on this level only.
func (m *Map) ClearOnlyAt(segmentIndex uint32) {
	m.clearOnlyIndex(m.IndexOf(segmentIndex))
}

// Set writes v into the record covering p and cascades to every child level.
func (m *Map) Set(p memory.Address, v uint32) {
	m.SetOnly(p, v)
	debug.Assert(m.Get(p) == v&uint32(m.recordMask()), "map set did not stick")
	if m.child != nil {
		m.child.Set(p, v)
	}
}

// Clear clears the record covering p and cascades to every child level.
func (m *Map) Clear(p memory.Address) {
	m.ClearOnly(p)
	if m.child != nil {
		m.child.Clear(p)
	}
}

// MarkAtomic sets the single-bit record covering p with an atomic OR and
// cascades. Safe against concurrent MarkAtomic callers on the same word.
func (m *Map) MarkAtomic(p memory.Address) {
	debug.Assert(m.bitsPerRecord == 1, "atomic mark on multi-bit map")
	i := m.IndexOfAddress(p)
	atomic.OrUint64(&m.data[i>>6], 1<<(i&63))
	if m.child != nil {
		m.child.MarkAtomic(p)
	}
}

// ============================================================================
// ITERATION
// ============================================================================

// Iterator yields the segment word index of every set record in a range.
// Zero bitmap words are skipped whole.
type Iterator struct {
	m     *Map
	index uint32
	limit uint32
}

// Iterator returns a lazy, finite iterator over set records covering
// [start, end). end is clamped to the segment position.
func (m *Map) Iterator(start, end uint32) Iterator {
	debug.Assert(m.bitsPerRecord == 1, "iteration over multi-bit map")
	debug.Assert(m.segment != nil, "iteration over unbound map")
	debug.Assert(start <= m.segment.position, "iteration starts past position")

	if end > m.segment.position {
		end = m.segment.position
	}

	it := Iterator{m: m, index: m.IndexOf(start), limit: m.IndexOf(end)}
	if (end-start)%m.scale != 0 {
		it.limit++
	}
	if bitsAvailable := uint32(len(m.data)) << 6; it.limit > bitsAvailable {
		it.limit = bitsAvailable
	}
	return it
}

// HasMore advances to the next set record and reports whether one exists.
func (it *Iterator) HasMore() bool {
	data := it.m.data
	for it.index < it.limit {
		w := data[it.index>>6] >> (it.index & 63)
		if w != 0 {
			it.index += uint32(bits.TrailingZeros64(w))
			if it.index < it.limit {
				return true
			}
			break
		}
		it.index = (it.index | 63) + 1
	}
	it.index = it.limit
	return false
}

// Next returns the segment word index of the current record and advances.
func (it *Iterator) Next() uint32 {
	more := it.HasMore()
	debug.Assert(more, "iterator exhausted")
	i := it.index
	it.index++
	return i * it.m.scale
}

// Records exposes Iterator as a range-over-func sequence. Every call starts
// a fresh scan.
func (m *Map) Records(start, end uint32) iter.Seq[uint32] {
	return func(yield func(uint32) bool) {
		it := m.Iterator(start, end)
		for it.HasMore() {
			if !yield(it.Next()) {
				return
			}
		}
	}
}
