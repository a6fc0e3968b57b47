// ============================================================================
// STORAGE ALLOCATOR
// ============================================================================
//
// Every word the heap hands out (segment storage, raw client blocks, fixie
// storage) is accounted here under one lock. The lock covers bookkeeping
// only; region registration happens after it is released.
//
// Debug allocation:
//   - Each block is bracketed by AllocationCanary words
//   - Freed payload is overwritten with FreedPoison
//   - A damaged canary on free aborts
//
// Limits:
//   - The limited path refuses a request once count+size reaches Limit
//   - The aborting path ignores Limit and only fails past SystemLimit

package heap

import (
	"fmt"

	"gengc/constants"
	"gengc/debug"
	"gengc/memory"
	"gengc/utils"
)

// wordsFor converts a byte size into whole words.
//
//go:nosplit
//go:inline
func wordsFor(sizeInBytes uint32) uint32 {
	return utils.Ceiling(sizeInBytes, constants.BytesPerWord)
}

// allocateWords returns n zeroed words, or nil when the request would
// exceed the applicable limit.
func (c *Context) allocateWords(n uint32, limit bool) []uint64 {
	debug.Assert(n != 0, "zero-size allocation")

	words := n
	if c.cfg.DebugAllocation {
		words += 2
	}
	size := uint64(words) * constants.BytesPerWord

	c.mu.Lock()
	defer c.mu.Unlock()

	if limit && size+c.count >= c.limit {
		return nil
	}
	if !limit && c.cfg.SystemLimit != 0 && size+c.count > c.cfg.SystemLimit {
		return nil
	}

	block := make([]uint64, words)
	c.count += size

	if !c.cfg.DebugAllocation {
		return block
	}
	block[0] = constants.AllocationCanary
	block[words-1] = constants.AllocationCanary
	user := block[1 : n+1 : n+1]
	c.debugBlocks[&user[0]] = block
	return user
}

// allocateOrAbort is allocateWords without the soft limit. Failure panics
// with ErrOutOfMemory.
func (c *Context) allocateOrAbort(n uint32) []uint64 {
	w := c.allocateWords(n, false)
	if w == nil {
		bytes := uint64(n) * constants.BytesPerWord
		debug.DropMessage("GC_ABORT", "out of memory allocating "+utils.Utoa(bytes)+" bytes")
		panic(fmt.Errorf("%w: %d bytes requested, %d in use", ErrOutOfMemory, bytes, c.bytesInUse()))
	}
	return w
}

// freeWords returns a block obtained from allocateWords.
func (c *Context) freeWords(w []uint64) {
	debug.Assert(len(w) != 0, "freeing an empty block")

	c.mu.Lock()
	defer c.mu.Unlock()

	size := uint64(len(w)) * constants.BytesPerWord

	if c.cfg.DebugAllocation {
		block, ok := c.debugBlocks[&w[0]]
		if !ok {
			debug.Abort("free of a block the heap did not allocate")
		}
		if block[0] != constants.AllocationCanary || block[len(block)-1] != constants.AllocationCanary {
			debug.Abort("allocation canary damaged")
		}
		for i := range w {
			w[i] = constants.FreedPoison
		}
		delete(c.debugBlocks, &w[0])
		size += 2 * constants.BytesPerWord
	}

	if c.count < size {
		debug.Abort("heap count underflow")
	}
	c.count -= size
}

func (c *Context) bytesInUse() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// ============================================================================
// SEGMENT STORAGE
// ============================================================================

// TryAllocateWords implements segment.Allocator against the soft limit.
func (c *Context) TryAllocateWords(n uint32) []uint64 {
	return c.allocateWords(n, true)
}

// AllocateWords implements segment.Allocator; it panics instead of failing.
func (c *Context) AllocateWords(n uint32) []uint64 {
	return c.allocateOrAbort(n)
}

// FreeWords implements segment.Allocator.
func (c *Context) FreeWords(w []uint64) {
	c.freeWords(w)
}

// ============================================================================
// RAW BLOCKS
// ============================================================================

// mapRaw registers a client block as a raw region.
func (c *Context) mapRaw(w []uint64) memory.Address {
	return c.space.Map(w, memory.KindRaw, 0)
}

// freeRaw releases a raw region by its base address.
func (c *Context) freeRaw(p memory.Address, sizeInBytes uint32) {
	debug.Assert(p.Offset() == 0, "raw free not at block base")
	if c.space.Kind(p) != memory.KindRaw {
		debug.Abort("raw free of " + p.String() + " which is not a raw block")
	}
	w := c.space.Unmap(p)
	debug.Assert(uint32(len(w)) == wordsFor(sizeInBytes), "raw free size mismatch")
	c.freeWords(w)
}
