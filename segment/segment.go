// ============================================================================
// SEGMENT: BUMP-POINTER WORD REGION
// ============================================================================
//
// A Segment is one contiguous word region registered in the managed address
// space, with a bump cursor. Generations are segments; a collection copies
// survivors into fresh "next" segments and then swaps them in.
//
// Invariants:
//   - position ≤ capacity
//   - [base, base+position) is live payload, the rest is uncommitted
//   - storage = payload words followed by every map level's bits
//
// Allocation of the storage block degrades gracefully: when the allocator
// refuses the desired capacity the request is halved toward the minimum, and
// only at the minimum does the aborting allocator path run.

package segment

import (
	"gengc/debug"
	"gengc/memory"
	"gengc/utils"
)

// Allocator supplies and reclaims segment storage. TryAllocateWords returns
// nil when the request would exceed the heap limit; AllocateWords aborts
// instead of failing.
type Allocator interface {
	TryAllocateWords(n uint32) []uint64
	AllocateWords(n uint32) []uint64
	FreeWords(w []uint64)
}

// Segment is a bump-allocated word region with an optional bitmap.
type Segment struct {
	alloc    Allocator
	space    *memory.Space
	storage  []uint64 // Payload + map bits, as returned by alloc
	data     []uint64 // Payload view, len == capacity
	base     memory.Address
	position uint32
	capacity uint32
	m        *Map
}

// New allocates a segment of up to desired words (never less than minimum)
// and binds m to it. desired == 0 yields an empty segment with no storage.
func New(alloc Allocator, space *memory.Space, m *Map, desired, minimum uint32) *Segment {
	s := &Segment{alloc: alloc, space: space, m: m}
	if m != nil {
		m.bind(s)
	}
	if desired == 0 {
		return s
	}

	if minimum == 0 {
		minimum = 1
	}
	debug.Assert(desired >= minimum, "segment desired below minimum")

	s.capacity = desired
	for s.storage == nil {
		s.storage = alloc.TryAllocateWords(s.Footprint(s.capacity))
		if s.storage != nil {
			break
		}
		if s.capacity > minimum {
			s.capacity = utils.Avg(minimum, s.capacity)
		} else {
			s.storage = alloc.AllocateWords(s.Footprint(s.capacity))
		}
	}

	s.data = s.storage[:s.capacity:s.capacity]
	s.base = space.Map(s.data, memory.KindSegment, 0)

	if m != nil {
		m.init(s.storage, s.capacity)
	}
	return s
}

// ============================================================================
// ACCOUNTING
// ============================================================================

// Footprint returns the storage words needed for capacity words of payload
// plus this segment's maps.
func (s *Segment) Footprint(capacity uint32) uint32 {
	if s.m != nil && capacity != 0 {
		return capacity + s.m.CalculateFootprint(capacity)
	}
	return capacity
}

// Capacity returns the payload size in words.
func (s *Segment) Capacity() uint32 { return s.capacity }

// Position returns the bump cursor in words.
func (s *Segment) Position() uint32 { return s.position }

// Remaining returns the uncommitted words.
func (s *Segment) Remaining() uint32 { return s.capacity - s.position }

// Base returns the address of word 0, or Null for an empty segment.
func (s *Segment) Base() memory.Address { return s.base }

// Map returns the root bitmap level, or nil.
func (s *Segment) Map() *Map { return s.m }

// ============================================================================
// ADDRESSING
// ============================================================================

// Contains reports whether p is inside the live payload.
//
//go:nosplit
//go:inline
func (s *Segment) Contains(p memory.Address) bool {
	return s.position != 0 && p.Region() == s.base.Region() && p.Offset() < s.position
}

// AlmostContains is Contains, also accepting the one-past-the-end address.
func (s *Segment) AlmostContains(p memory.Address) bool {
	return s.Contains(p) || (s.data != nil && p == s.base.Add(s.position))
}

// IndexOf returns the word index of p within the segment.
func (s *Segment) IndexOf(p memory.Address) uint32 {
	debug.Assert(s.AlmostContains(p), "segment index outside segment")
	return p.Offset()
}

// Get returns the address of word offset.
func (s *Segment) Get(offset uint32) memory.Address {
	debug.Assert(offset <= s.position, "segment offset past position")
	return s.base.Add(offset)
}

// Slot returns a pointer view of payload word index.
func (s *Segment) Slot(index uint32) *memory.Address {
	return (*memory.Address)(&s.data[index])
}

// Words returns the payload words from index to position.
func (s *Segment) Words(index uint32) []uint64 {
	return s.data[index:s.position]
}

// Allocate bumps the cursor by size words and returns the old cursor address.
func (s *Segment) Allocate(size uint32) memory.Address {
	debug.Assert(size != 0, "zero-size segment allocation")
	debug.Assert(s.position+size <= s.capacity, "segment overflow")

	p := s.base.Add(s.position)
	s.position += size
	return p
}

// ============================================================================
// LIFECYCLE
// ============================================================================

func (s *Segment) release() {
	if s.storage != nil {
		s.space.Unmap(s.base)
		s.alloc.FreeWords(s.storage)
	}
	s.storage, s.data, s.base = nil, nil, memory.Null
}

// ReplaceWith frees this segment's storage and takes over next's storage,
// region, cursor and map bits. next is left empty.
func (s *Segment) ReplaceWith(next *Segment) {
	s.release()

	s.storage, next.storage = next.storage, nil
	s.data, next.data = next.data, nil
	s.base, next.base = next.base, memory.Null
	s.position, next.position = next.position, 0
	s.capacity, next.capacity = next.capacity, 0

	if next.m != nil {
		if s.m == nil {
			debug.Abort("segment replacement adds a map")
		}
		s.m.replaceWith(next.m)
		next.m = nil
	} else {
		debug.Assert(s.m == nil, "segment replacement drops a map")
	}
}

// Dispose releases storage and detaches the map.
func (s *Segment) Dispose() {
	s.release()
	s.position, s.capacity = 0, 0
	s.m = nil
}
