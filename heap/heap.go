// ============================================================================
// HEAP: PUBLIC COLLECTOR FAÇADE
// ============================================================================
//
// Heap is the only surface a runtime sees. It owns one Context and exposes
// allocation, collection, the explicit write barrier (Mark), padding
// estimates and pointer classification.
//
// Thread safety:
//   - TryAllocate, Allocate, Free, AllocateStorage, AllocateFixed, Mark and
//     Pad may be called concurrently; each holds the allocator lock for its
//     bookkeeping only
//   - Collect assumes every mutator is parked; it is not reentrant
//   - Mark concurrent with Collect is undefined

package heap

import (
	"gengc/constants"
	"gengc/debug"
	"gengc/memory"
	"gengc/utils"
)

// Heap is a generational copying collector over a managed address space.
type Heap struct {
	c *Context
}

// New validates cfg and builds an empty heap.
func New(cfg Config) (*Heap, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Heap{c: newContext(cfg)}, nil
}

// SetClient installs the runtime's object model. It may be set once.
func (h *Heap) SetClient(client Client) {
	debug.Assert(h.c.client == nil, "heap client already set")
	h.c.client = client
}

// Space returns the managed address space objects live in.
func (h *Heap) Space() *memory.Space { return h.c.space }

// Config returns the heap's configuration.
func (h *Heap) Config() Config { return h.c.cfg }

// SetImmortalHeap registers words as the immortal heap and returns its base.
// Immortal objects are never copied and always count as tenured.
func (h *Heap) SetImmortalHeap(words []uint64) memory.Address {
	c := h.c
	debug.Assert(c.immortalRegion == 0, "immortal heap already set")
	base := c.space.Map(words, memory.KindImmortal, 0)
	c.immortalRegion = base.Region()
	c.immortalWords = uint32(len(words))
	return base
}

// LimitExceeded reports whether more bytes are in use than the limit.
func (h *Heap) LimitExceeded() bool {
	return h.c.bytesInUse() > h.c.limit
}

// ============================================================================
// RAW ALLOCATION
// ============================================================================

// TryAllocate returns a zeroed raw block, or Null when the limit would be
// reached.
func (h *Heap) TryAllocate(sizeInBytes uint32) memory.Address {
	w := h.c.allocateWords(wordsFor(sizeInBytes), true)
	if w == nil {
		return memory.Null
	}
	return h.c.mapRaw(w)
}

// Allocate returns a zeroed raw block regardless of the limit. It panics
// with ErrOutOfMemory when the system limit is exhausted.
func (h *Heap) Allocate(sizeInBytes uint32) memory.Address {
	return h.c.mapRaw(h.c.allocateOrAbort(wordsFor(sizeInBytes)))
}

// Free releases a block returned by TryAllocate or Allocate.
func (h *Heap) Free(p memory.Address, sizeInBytes uint32) {
	h.c.freeRaw(p, sizeInBytes)
}

// AllocateStorage implements Allocator with the aborting path, so fixies
// allocated through the heap count against it.
func (h *Heap) AllocateStorage(sizeInBytes uint32) []uint64 {
	return h.c.allocateOrAbort(wordsFor(sizeInBytes))
}

// ============================================================================
// COLLECTION
// ============================================================================

// Collect runs one collection. incomingFootprint is the number of words
// outside the generations (raw blocks) that may survive into the nursery.
func (h *Heap) Collect(t CollectionType, incomingFootprint uint32) {
	record := h.c.collectCycle(t, incomingFootprint)
	if r := h.c.cfg.Recorder; r != nil {
		r.OnCollection(record)
	}
}

// CollectionType returns the mode of the current or last collection.
func (h *Heap) CollectionType() CollectionType { return h.c.mode }

// ============================================================================
// PINNED ALLOCATION
// ============================================================================

func (h *Heap) allocateFixed(alloc Allocator, sizeInWords uint32, objectMask, immortal bool) (memory.Address, uint32) {
	c := h.c
	words := fixieTotalWords(sizeInWords, objectMask)
	totalInBytes := words * constants.BytesPerWord

	var storage []uint64
	owned := alloc == nil || alloc == Allocator(h)
	if owned {
		storage = c.allocateOrAbort(words)
	} else {
		storage = alloc.AllocateStorage(totalInBytes)
		if uint32(len(storage)) < words {
			debug.Abort("fixie allocator returned " + utils.Itoa(len(storage)) + " words, need " + utils.Utoa(uint64(words)))
		}
		storage = storage[:words:words]
	}

	c.mu.Lock()
	fh := c.newFixie(storage, sizeInWords, objectMask, immortal, owned)
	body := c.fixies.get(fh).body()
	c.mu.Unlock()

	return body, totalInBytes
}

// AllocateFixed returns the body of a new pinned object and its total
// storage size in bytes. A nil alloc uses the heap itself.
func (h *Heap) AllocateFixed(alloc Allocator, sizeInWords uint32, objectMask bool) (memory.Address, uint32) {
	return h.allocateFixed(alloc, sizeInWords, objectMask, false)
}

// AllocateImmortalFixed is AllocateFixed for objects that are never freed
// by a collection.
func (h *Heap) AllocateImmortalFixed(alloc Allocator, sizeInWords uint32, objectMask bool) (memory.Address, uint32) {
	return h.allocateFixed(alloc, sizeInWords, objectMask, true)
}

// DisposeFixies frees every mortal fixie and resets immortal ones.
func (h *Heap) DisposeFixies() {
	h.c.disposeFixies()
}

// ============================================================================
// WRITE BARRIER
// ============================================================================

func (c *Context) needsMark(p memory.Address) bool {
	fixed := c.client.IsFixed(p)
	debug.Assert(fixed || !c.immortalHeapContains(p), "mark inside the immortal heap")

	if fixed {
		return uint32(c.fixies.get(c.fixieOf(p)).age) >= c.cfg.FixieTenureThreshold
	}
	return c.gen2.Contains(p) || c.nextGen2.Contains(p)
}

func (c *Context) targetNeedsMark(target memory.Address) bool {
	return target != memory.Null &&
		!c.gen2.Contains(target) &&
		!c.nextGen2.Contains(target) &&
		!c.immortalHeapContains(target) &&
		!(c.client.IsFixed(target) && uint32(c.fixies.get(c.fixieOf(target)).age) >= c.cfg.FixieTenureThreshold)
}

// Mark records that count slots starting offset words into p were written.
// Slots of tenured objects that now point at younger data get their card
// set; tenured fixies get their mask bits and move to the dirty list.
//
// The allocator lock is held throughout: fixie lookups read the arena that
// AllocateFixed grows.
func (h *Heap) Mark(p memory.Address, offset, count uint32) {
	c := h.c
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.needsMark(p) {
		return
	}

	if c.client.IsFixed(p) {
		fh := c.fixieOf(p)
		f := c.fixies.get(fh)
		debug.Assert(offset == 0 || f.hasMask, "masked mark on a fixie without a mask")

		dirty := false
		for i := uint32(0); i < count; i++ {
			if c.targetNeedsMark(c.space.Load(p.Add(offset + i))) {
				if c.cfg.DebugFixies {
					debug.DropMessage("GC_FIXIE", "dirty "+utils.Itoa(int(fh))+" at "+utils.Utoa(uint64(offset+i)))
				}
				dirty = true
				if f.hasMask {
					utils.MarkBit(f.mask(), offset+i)
					debug.Assert(utils.GetBit(f.mask(), offset+i), "fixie mask bit did not stick")
				}
			}
		}
		if dirty {
			c.markDirty(fh)
		}
		return
	}

	m := c.heapMap
	if !c.gen2.Contains(p) {
		debug.Assert(c.nextGen2.Contains(p), "mark outside the tenured generation")
		m = c.nextHeapMap
	}
	for i := uint32(0); i < count; i++ {
		slot := p.Add(offset + i)
		if c.targetNeedsMark(c.space.Load(slot)) {
			m.MarkAtomic(slot)
		}
	}
}

// Pad records that p will grow by one word when next copied.
func (h *Heap) Pad(p memory.Address) {
	c := h.c
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.gen1.Contains(p):
		if c.ageMap.Get(p) == c.cfg.TenureThreshold {
			c.tenurePadding++
		} else {
			c.gen1Padding++
		}
	case c.gen2.Contains(p):
		c.gen2Padding++
	default:
		c.gen1Padding++
	}
}

// ============================================================================
// CLASSIFICATION
// ============================================================================

// Follow resolves a possibly forwarded pointer to its current location.
func (h *Heap) Follow(p memory.Address) memory.Address {
	c := h.c
	if p == memory.Null || c.client.IsFixed(p) {
		return p
	}
	if c.wasCollected(p) {
		return c.follow(p)
	}
	return p
}

// Status classifies p against the collection in progress.
func (h *Heap) Status(p memory.Address) Status {
	c := h.c
	switch {
	case p == memory.Null:
		return Null
	case c.nextGen1.Contains(p):
		return Reachable
	case c.nextGen2.Contains(p),
		c.immortalHeapContains(p),
		c.gen2.Contains(p) && (c.mode == MinorCollection || c.gen2.IndexOf(p) >= c.gen2Base):
		return Tenured
	case c.wasCollected(p):
		return Reachable
	}
	return Unreachable
}

// Generation names the segment containing p ("gen1", "gen2", ...), or
// "none" for raw, fixie and immortal storage.
func (h *Heap) Generation(p memory.Address) string {
	return h.c.segmentName(p)
}

// ============================================================================
// STATISTICS & TEARDOWN
// ============================================================================

// Stats returns a snapshot of collection counters and occupancy.
func (h *Heap) Stats() Stats { return h.c.snapshot() }

// StatsJSON encodes Stats.
func (h *Heap) StatsJSON() ([]byte, error) { return marshalStats(h.c.snapshot()) }

// BytesInUse returns the bytes currently handed out.
func (h *Heap) BytesInUse() uint64 { return h.c.bytesInUse() }

// Dispose releases every segment and fixie. All raw blocks must have been
// freed first.
func (h *Heap) Dispose() {
	h.c.dispose()
	if n := h.c.bytesInUse(); n != 0 {
		debug.Abort("heap disposed with " + utils.Utoa(n) + " bytes still allocated")
	}
}
