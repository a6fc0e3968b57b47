// ============================================================================
// SIM WORLD: REFERENCE HEAP CLIENT
// ============================================================================
//
// World is a small runtime on top of heap.Heap. Mutator code allocates
// objects in raw chunks, links them with the write barrier, and keeps them
// alive through strong handles. Weak handles are cleared or forwarded at the
// end of root visiting, the way a runtime finalises weak references.
//
// Addresses returned by World are valid until the next Collect; handles
// survive collections.
//
// Allocation:
//   - Small objects bump-allocate from the current raw chunk
//   - Objects larger than a chunk get a dedicated block
//   - When the soft limit refuses a chunk, the aborting path is used and
//     NeedsCollection reports true
//
// Every chunk is freed after each collection: its survivors now live in the
// nursery.

package sim

import (
	"gengc/constants"
	"gengc/debug"
	"gengc/heap"
	"gengc/memory"
	"gengc/utils"
)

// DefaultChunkBytes is the raw chunk size used when none is configured.
const DefaultChunkBytes = 64 << 10

// Handle names a strong root slot.
type Handle uint32

// WeakHandle names a weak reference slot.
type WeakHandle uint32

type chunk struct {
	base     memory.Address
	bytes    uint32
	position uint32 // Words used
}

// World is a heap.Client with a tiny object model.
type World struct {
	h     *heap.Heap
	space *memory.Space

	roots     []memory.Address
	freeRoots []Handle
	weak      []memory.Address
	immortal  []memory.Address // Permanent roots

	chunks     []chunk
	chunkBytes uint32
	pressure   bool

	allocated    uint64
	weakCleared  uint64
	forcedChunks uint64 // Chunks taken past the soft limit
}

// NewWorld creates a heap from cfg and installs a World as its client.
func NewWorld(cfg heap.Config, chunkBytes uint32) (*World, error) {
	h, err := heap.New(cfg)
	if err != nil {
		return nil, err
	}
	if chunkBytes == 0 {
		chunkBytes = DefaultChunkBytes
	}
	w := &World{h: h, space: h.Space(), chunkBytes: chunkBytes}
	h.SetClient(w)
	return w, nil
}

// Heap returns the underlying heap.
func (w *World) Heap() *heap.Heap { return w.h }

// ============================================================================
// heap.Client
// ============================================================================

// CopiedSizeInWords includes the hash word a hashed object gains on its
// first move.
func (w *World) CopiedSizeInWords(o memory.Address) uint32 {
	hdr := w.space.LoadWord(o)
	n := sizeWords(hdr)
	if hdr&flagHashed != 0 && hdr&flagExtended == 0 {
		n++
	}
	return n
}

// Copy moves o's words to dst, appending the identity hash when needed.
func (w *World) Copy(src, dst memory.Address) {
	hdr := w.space.LoadWord(src)
	n := sizeWords(hdr)
	copy(w.space.Words(dst)[:n], w.space.Words(src)[:n])

	if hdr&flagHashed != 0 && hdr&flagExtended == 0 {
		w.space.StoreWord(dst.Add(n), hashOf(src))
		w.space.StoreWord(dst, hdr|flagExtended)
	}
}

// IsFixed reports whether p is a pinned body.
func (w *World) IsFixed(p memory.Address) bool {
	return w.space.Kind(p) == memory.KindFixie
}

// Walk visits every field slot of o.
func (w *World) Walk(o memory.Address, visit heap.WalkFunc) {
	fields := headerFields(w.space.LoadWord(o))
	for i := uint32(1); i <= fields; i++ {
		if !visit(i) {
			return
		}
	}
}

// VisitRoots visits every immortal object and live strong handle, then
// resolves weak handles.
func (w *World) VisitRoots(visit heap.VisitFunc) {
	for i := range w.immortal {
		visit(&w.immortal[i])
	}
	for i := range w.roots {
		if w.roots[i] != memory.Null {
			visit(&w.roots[i])
		}
	}
	w.resolveWeak()
}

func (w *World) resolveWeak() {
	for i, p := range w.weak {
		if p == memory.Null {
			continue
		}
		switch w.h.Status(p) {
		case heap.Unreachable:
			w.weak[i] = memory.Null
			w.weakCleared++
		case heap.Reachable:
			w.weak[i] = w.h.Follow(p)
		}
	}
}

// ============================================================================
// ALLOCATION
// ============================================================================

func (w *World) newChunk(minWords uint32) *chunk {
	bytes := max(w.chunkBytes, minWords*constants.BytesPerWord)
	base := w.h.TryAllocate(bytes)
	if base == memory.Null {
		w.pressure = true
		w.forcedChunks++
		base = w.h.Allocate(bytes)
	}
	w.chunks = append(w.chunks, chunk{base: base, bytes: bytes})
	return &w.chunks[len(w.chunks)-1]
}

// Alloc returns a zeroed object with the given shape.
func (w *World) Alloc(fields, payload uint32) memory.Address {
	if fields > MaxFields || payload > MaxPayload {
		debug.Abort("sim object shape out of range")
	}
	size := 1 + fields + payload

	var c *chunk
	if n := len(w.chunks); n > 0 && w.chunks[n-1].bytes/constants.BytesPerWord-w.chunks[n-1].position >= size {
		c = &w.chunks[n-1]
	} else {
		c = w.newChunk(size)
	}

	o := c.base.Add(c.position)
	c.position += size
	w.space.StoreWord(o, makeHeader(fields, payload))
	w.allocated++
	return o
}

// AllocFixed returns a pinned object. Immortal ones are never collected and
// stay roots for the life of the World.
func (w *World) AllocFixed(fields, payload uint32, immortal bool) memory.Address {
	size := 1 + fields + payload
	var body memory.Address
	if immortal {
		body, _ = w.h.AllocateImmortalFixed(nil, size, true)
		w.immortal = append(w.immortal, body)
	} else {
		body, _ = w.h.AllocateFixed(nil, size, true)
	}
	w.space.StoreWord(body, makeHeader(fields, payload))
	w.allocated++
	return body
}

// NeedsCollection reports whether the soft limit has been hit since the
// last collection.
func (w *World) NeedsCollection() bool {
	return w.pressure || w.h.LimitExceeded()
}

// incoming is the raw footprint the next collection may carry over.
func (w *World) incoming() uint32 {
	var words uint32
	for _, c := range w.chunks {
		words += c.position
	}
	return words
}

// Collect runs one collection and releases every chunk.
func (w *World) Collect(t heap.CollectionType) {
	w.h.Collect(t, w.incoming())
	w.releaseChunks()
	w.pressure = false
}

func (w *World) releaseChunks() {
	for _, c := range w.chunks {
		w.h.Free(c.base, c.bytes)
	}
	w.chunks = w.chunks[:0]
}

// Dispose frees everything, including immortal objects.
func (w *World) Dispose() {
	w.releaseChunks()
	w.h.Dispose()
}

// ============================================================================
// MUTATOR ACCESS
// ============================================================================

// Field returns field i (1-based) of o.
func (w *World) Field(o memory.Address, i uint32) memory.Address {
	debug.Assert(i >= 1 && i <= headerFields(w.space.LoadWord(o)), "sim field out of range")
	return w.space.Load(o.Add(i))
}

// SetField stores v into field i of o and runs the write barrier.
func (w *World) SetField(o memory.Address, i uint32, v memory.Address) {
	debug.Assert(i >= 1 && i <= headerFields(w.space.LoadWord(o)), "sim field out of range")
	w.space.Store(o.Add(i), v)
	w.h.Mark(o, i, 1)
}

// Fields returns o's field count.
func (w *World) Fields(o memory.Address) uint32 {
	return headerFields(w.space.LoadWord(o))
}

// Payload returns o's payload words.
func (w *World) Payload(o memory.Address) []uint64 {
	hdr := w.space.LoadWord(o)
	start := 1 + headerFields(hdr)
	return w.space.Words(o.Add(start))[:headerPayload(hdr)]
}

// IdentityHash returns o's stable hash, announcing the extra word the next
// copy will need the first time it is taken.
func (w *World) IdentityHash(o memory.Address) uint64 {
	hdr := w.space.LoadWord(o)
	switch {
	case hdr&flagExtended != 0:
		return w.space.LoadWord(o.Add(baseWords(hdr)))
	case hdr&flagHashed != 0 || w.IsFixed(o):
		return hashOf(o)
	}
	w.space.StoreWord(o, hdr|flagHashed)
	w.h.Pad(o)
	return hashOf(o)
}

// peekHash is IdentityHash without side effects; ok is false when the hash
// was never taken.
func (w *World) peekHash(o memory.Address) (hash uint64, ok bool) {
	hdr := w.space.LoadWord(o)
	switch {
	case hdr&flagExtended != 0:
		return w.space.LoadWord(o.Add(baseWords(hdr))), true
	case hdr&flagHashed != 0:
		return hashOf(o), true
	}
	return 0, false
}

// ============================================================================
// HANDLES
// ============================================================================

// Root pins o behind a strong handle.
func (w *World) Root(o memory.Address) Handle {
	if n := len(w.freeRoots); n > 0 {
		r := w.freeRoots[n-1]
		w.freeRoots = w.freeRoots[:n-1]
		w.roots[r] = o
		return r
	}
	w.roots = append(w.roots, o)
	return Handle(len(w.roots) - 1)
}

// Deref returns the current address behind r.
func (w *World) Deref(r Handle) memory.Address { return w.roots[r] }

// Release drops r. Its slot is reused by later Root calls.
func (w *World) Release(r Handle) {
	if w.roots[r] == memory.Null {
		debug.Abort("sim handle " + utils.Utoa(uint64(r)) + " released twice")
	}
	w.roots[r] = memory.Null
	w.freeRoots = append(w.freeRoots, r)
}

// Weak creates a weak reference to o. Pinned objects cannot be weakly
// referenced.
func (w *World) Weak(o memory.Address) WeakHandle {
	if w.IsFixed(o) {
		debug.Abort("sim weak reference to a pinned object")
	}
	w.weak = append(w.weak, o)
	return WeakHandle(len(w.weak) - 1)
}

// DerefWeak returns the current target of r, or Null once it was cleared.
func (w *World) DerefWeak(r WeakHandle) memory.Address { return w.weak[r] }

// ============================================================================
// COUNTERS
// ============================================================================

// Allocated returns the number of objects allocated so far.
func (w *World) Allocated() uint64 { return w.allocated }

// WeakCleared returns the number of weak references cleared so far.
func (w *World) WeakCleared() uint64 { return w.weakCleared }

// ForcedChunks returns the number of chunks allocated past the soft limit.
func (w *World) ForcedChunks() uint64 { return w.forcedChunks }

// LiveHandles returns the number of strong handles in use.
func (w *World) LiveHandles() int { return len(w.roots) - len(w.freeRoots) }
