// ============================================================================
// MANAGED ADDRESS SPACE
// ============================================================================
//
// Space is the registry of every word region the collector hands out:
// segment payloads, raw allocation blocks, fixie bodies and the immortal
// heap. An Address names a region in its high 32 bits and a word offset in
// its low 32 bits, so pointer arithmetic inside one object is plain addition
// and region lookup is a slice index.
//
// The high 32 bits hold a 24-bit slot index and an 8-bit reuse tag. Unmapped
// slots are recycled oldest first and their tag is bumped, so a stale
// address resolves to KindFree until its slot has been remapped 256 times.
// The registry therefore grows with the peak number of live regions, not
// with the number of allocations ever made.
//
// Concurrency model:
//   - Map/Unmap take the write lock (allocator and collector paths)
//   - Lookups take the read lock and return views that stay valid until
//     the region is unmapped

package memory

import (
	"sync"

	"gengc/utils"
)

// ============================================================================
// ADDRESSES
// ============================================================================

// Address is a managed heap word address. Null is the null pointer.
type Address uint64

// Null is the null managed pointer. Region 0 is never mapped.
const Null Address = 0

// MaxRegionWords bounds the length of a single region.
const MaxRegionWords = 1<<32 - 1

const (
	slotBits = 24
	slotMask = 1<<slotBits - 1

	// MaxRegions bounds the number of simultaneously mapped regions.
	MaxRegions = slotMask
)

// Make builds an address from a region id and word offset.
//
//go:nosplit
//go:inline
func Make(region, offset uint32) Address {
	return Address(uint64(region)<<32 | uint64(offset))
}

// Region returns the region id of a.
//
//go:nosplit
//go:inline
func (a Address) Region() uint32 {
	return uint32(a >> 32)
}

// Offset returns the word offset of a inside its region.
//
//go:nosplit
//go:inline
func (a Address) Offset() uint32 {
	return uint32(a)
}

// Add returns the address words further into the same region.
//
//go:nosplit
//go:inline
func (a Address) Add(words uint32) Address {
	return a + Address(words)
}

// String renders a as region:offset for traces.
func (a Address) String() string {
	if a == Null {
		return "null"
	}
	return utils.Utoa(uint64(a.Region())) + ":" + utils.Utoa(uint64(a.Offset()))
}

// ============================================================================
// REGION KINDS
// ============================================================================

// Kind classifies a mapped region.
type Kind uint8

const (
	KindFree     Kind = iota // Unmapped or never mapped
	KindRaw                  // TryAllocate/Allocate block owned by the client
	KindSegment              // Generation payload
	KindFixie                // Pinned object body
	KindImmortal             // Immortal heap (boot image)
)

var kindNames = [...]string{"free", "raw", "segment", "fixie", "immortal"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + utils.Itoa(int(k)) + ")"
}

type region struct {
	words []uint64
	kind  Kind
	tag   uint8  // Reuse count of this slot, mod 256
	owner uint32 // Fixie arena handle for KindFixie
}

func split(region uint32) (slot uint32, tag uint8) {
	return region & slotMask, uint8(region >> slotBits)
}

// ============================================================================
// SPACE
// ============================================================================

// Space maps region ids to word slices.
type Space struct {
	mu      sync.RWMutex
	regions []region
	free    []uint32 // Unmapped slots, oldest first
	live    int
}

// NewSpace returns an empty space with region 0 reserved for Null.
func NewSpace() *Space {
	return &Space{regions: make([]region, 1, 64)}
}

// Map registers words as a new region and returns its base address.
// Zero-length regions are legal; their base is still unique.
func (s *Space) Map(words []uint64, kind Kind, owner uint32) Address {
	if uint64(len(words)) > MaxRegionWords {
		panic("memory: region exceeds 2^32-1 words")
	}
	if kind == KindFree {
		panic("memory: cannot map a free region")
	}

	s.mu.Lock()
	var slot uint32
	if len(s.free) > 0 {
		slot = s.free[0]
		s.free = s.free[1:]
	} else {
		slot = uint32(len(s.regions))
		if slot > MaxRegions {
			s.mu.Unlock()
			panic("memory: more than MaxRegions regions mapped")
		}
		s.regions = append(s.regions, region{})
	}
	r := &s.regions[slot]
	tag := r.tag
	*r = region{words: words, kind: kind, tag: tag, owner: owner}
	s.live++
	s.mu.Unlock()

	return Make(uint32(tag)<<slotBits|slot, 0)
}

// Unmap releases the region containing base and returns its words.
// Unmapping a free region returns nil.
func (s *Space) Unmap(base Address) []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.lookup(base)
	if r == nil {
		return nil
	}
	words := r.words
	*r = region{tag: r.tag + 1}
	s.free = append(s.free, base.Region()&slotMask)
	s.live--
	return words
}

// lookup returns the region for a, or nil if a is unmapped.
func (s *Space) lookup(a Address) *region {
	slot, tag := split(a.Region())
	if slot == 0 || int(slot) >= len(s.regions) {
		return nil
	}
	r := &s.regions[slot]
	if r.kind == KindFree || r.tag != tag {
		return nil
	}
	return r
}

// Kind classifies the region containing a.
func (s *Space) Kind(a Address) Kind {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r := s.lookup(a); r != nil && a.Offset() < uint32(len(r.words)) {
		return r.kind
	}
	return KindFree
}

// Owner returns the owner handle recorded for the region containing a.
func (s *Space) Owner(a Address) (uint32, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r := s.lookup(a); r != nil {
		return r.owner, true
	}
	return 0, false
}

// Len returns the length in words of the region containing a.
func (s *Space) Len(a Address) uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r := s.lookup(a); r != nil {
		return uint32(len(r.words))
	}
	return 0
}

// Words returns the region words from a to the end of its region.
// It returns nil when a is unmapped or past the end.
func (s *Space) Words(a Address) []uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r := s.lookup(a)
	if r == nil || a.Offset() > uint32(len(r.words)) {
		return nil
	}
	return r.words[a.Offset():]
}

// Slot returns a pointer view of the word at a.
// ⚠️ Panics when a is unmapped.
func (s *Space) Slot(a Address) *Address {
	w := s.Words(a)
	if len(w) == 0 {
		panic("memory: slot " + a.String() + " is not mapped")
	}
	return (*Address)(&w[0])
}

// Load reads the word at a as an address.
func (s *Space) Load(a Address) Address {
	return *s.Slot(a)
}

// Store writes v into the word at a.
func (s *Space) Store(a Address, v Address) {
	*s.Slot(a) = v
}

// LoadWord reads the raw word at a.
func (s *Space) LoadWord(a Address) uint64 {
	return uint64(*s.Slot(a))
}

// StoreWord writes a raw word at a.
func (s *Space) StoreWord(a Address, v uint64) {
	*s.Slot(a) = Address(v)
}

// Slots returns the registry size: the peak number of regions mapped at once.
func (s *Space) Slots() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.regions) - 1
}

// Live returns the number of mapped regions.
func (s *Space) Live() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.live
}
