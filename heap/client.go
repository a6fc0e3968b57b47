package heap

import (
	"errors"

	"gengc/memory"
)

// WalkFunc receives the word offset of one pointer slot of an object.
// Returning false stops the walk.
type WalkFunc func(offset uint32) bool

// VisitFunc receives one root slot. The collector may rewrite *slot.
type VisitFunc func(slot *memory.Address)

// Client is the runtime's view of its own objects. The collector never
// interprets object payload itself.
type Client interface {
	// CopiedSizeInWords is the size o will occupy after relocation.
	CopiedSizeInWords(o memory.Address) uint32

	// Copy duplicates src's payload into dst without following pointers.
	Copy(src, dst memory.Address)

	// IsFixed reports whether p is a pinned allocation.
	IsFixed(p memory.Address) bool

	// Walk enumerates o's pointer slots in a stable order.
	Walk(o memory.Address, visit WalkFunc)

	// VisitRoots enumerates every root slot outside the heap.
	VisitRoots(visit VisitFunc)
}

// Allocator supplies storage for pinned allocations.
type Allocator interface {
	AllocateStorage(sizeInBytes uint32) []uint64
}

// Recorder observes finished collections.
type Recorder interface {
	OnCollection(r CollectionRecord)
}

// CollectionType selects how much of the heap a collection traces.
type CollectionType uint8

const (
	MinorCollection CollectionType = iota
	MajorCollection
)

func (t CollectionType) String() string {
	if t == MajorCollection {
		return "major"
	}
	return "minor"
}

// Status classifies a pointer during a collection.
type Status uint8

const (
	Null Status = iota
	Reachable
	Unreachable
	Tenured
)

var statusNames = [...]string{"null", "reachable", "unreachable", "tenured"}

func (s Status) String() string { return statusNames[s] }

var (
	// ErrOutOfMemory is raised by the aborting allocation path.
	ErrOutOfMemory = errors.New("heap: out of memory")

	// ErrInvalidConfig wraps every configuration validation failure.
	ErrInvalidConfig = errors.New("heap: invalid config")
)
