// ============================================================================
// SIM OBJECT MODEL
// ============================================================================
//
// Object layout (words):
//
//	[0]                 header
//	[1 .. fields]       pointer slots
//	[.. payload]        opaque payload
//	[hash]              identity hash, present once the object has been
//	                    copied after its hash was first taken
//
// Header bits:
//
//	 0..23  field count
//	24..47  payload words
//	    48  hashed: the identity hash has been observed
//	    49  extended: the trailing hash word is present
//
// An identity hash is the mixed address the object had when the hash was
// first taken. Moving a hashed object must preserve it, so the first copy
// after hashing grows the object by one word, which is what heap.Pad
// announces ahead of time.

package sim

import (
	"gengc/memory"
	"gengc/utils"
)

const (
	countBits    = 24
	countMask    = 1<<countBits - 1
	flagHashed   = 1 << 48
	flagExtended = 1 << 49

	// MaxFields and MaxPayload bound one object's shape.
	MaxFields  = countMask
	MaxPayload = countMask
)

func makeHeader(fields, payload uint32) uint64 {
	return uint64(fields) | uint64(payload)<<countBits
}

func headerFields(h uint64) uint32  { return uint32(h & countMask) }
func headerPayload(h uint64) uint32 { return uint32(h >> countBits & countMask) }

// baseWords is the object size without any hash extension.
func baseWords(h uint64) uint32 {
	return 1 + headerFields(h) + headerPayload(h)
}

// sizeWords is the current in-heap size.
func sizeWords(h uint64) uint32 {
	n := baseWords(h)
	if h&flagExtended != 0 {
		n++
	}
	return n
}

// hashOf derives an identity hash from an address.
func hashOf(p memory.Address) uint64 {
	return utils.Mix64(uint64(p))
}
