// ============================================================================
// COLLECTOR CONTEXT
// ============================================================================
//
// Context is the collector's whole state: both generations with their next
// segments and maps, the footprint counters that drive sizing, the fixie
// arena, the forwarding table and the traversal worklist.
//
// Generations:
//   - gen1 (nursery): age map of ageBits per word
//   - gen2 (tenured): heap map → page map → pointer map
//
// Units:
//   - Segment positions, capacities, tenure footprint and paddings are words
//   - count, limit, thresholds and fixie footprints are bytes
//
// Concurrency model:
//   - mu guards count and the debug block table (allocator entry points)
//   - Everything else is owned by the thread running Collect

package heap

import (
	"sync"
	"time"

	"gengc/constants"
	"gengc/debug"
	"gengc/fwdidx"
	"gengc/memory"
	"gengc/segment"
	"gengc/utils"
)

// top marks gen2Base as unset for the current collection.
const top = ^uint32(0)

// Context aggregates every generation, map, counter and fixie list.
type Context struct {
	cfg    Config
	space  *memory.Space
	client Client

	mu                 sync.Mutex
	count              uint64 // Bytes handed out, including canaries
	limit              uint64
	lowMemoryThreshold uint64
	debugBlocks        map[*uint64][]uint64

	immortalRegion uint32 // 0 when no immortal heap is set
	immortalWords  uint32

	ageMap     *segment.Map
	gen1       *segment.Segment
	nextAgeMap *segment.Map
	nextGen1   *segment.Segment

	heapMap     *segment.Map
	gen2        *segment.Segment
	nextHeapMap *segment.Map
	nextGen2    *segment.Segment

	gen2Base uint32

	incomingFootprint uint32
	tenureFootprint   uint32
	gen1Padding       uint32
	tenurePadding     uint32
	gen2Padding       uint32

	fixieTenureFootprint    uint64
	untenuredFixieFootprint uint64
	tenuredFixieFootprint   uint64
	tenuredFixieCeiling     uint64

	mode   CollectionType
	fixies fixieArena

	forward    *fwdidx.Table
	stack      []memory.Address
	walkParent memory.Address
	walkChild  WalkFunc

	stats          Stats
	copied         uint64
	promoted       uint64
	lastCollection time.Time
}

func newContext(cfg Config) *Context {
	c := &Context{
		cfg:                 cfg,
		space:               memory.NewSpace(),
		limit:               cfg.Limit,
		lowMemoryThreshold:  cfg.LowMemoryThreshold,
		tenuredFixieCeiling: cfg.InitialTenuredFixieCeilingInBytes,
		mode:                MinorCollection,
		fixies:              newFixieArena(),
		forward:             fwdidx.New(1024),
		stack:               make([]memory.Address, 0, 256),
		lastCollection:      time.Now(),
	}
	if c.lowMemoryThreshold == 0 {
		c.lowMemoryThreshold = cfg.Limit / 2
	}
	if cfg.DebugAllocation {
		c.debugBlocks = make(map[*uint64][]uint64)
	}
	c.walkChild = c.visitChild

	c.ageMap = c.newAgeMap()
	c.gen1 = segment.New(c, c.space, c.ageMap, 0, 0)
	c.nextAgeMap = c.newAgeMap()
	c.nextGen1 = segment.New(c, c.space, c.nextAgeMap, 0, 0)

	c.heapMap = c.newHeapMap()
	c.gen2 = segment.New(c, c.space, c.heapMap, 0, 0)
	c.nextHeapMap = c.newHeapMap()
	c.nextGen2 = segment.New(c, c.space, c.nextHeapMap, 0, 0)

	return c
}

func (c *Context) newAgeMap() *segment.Map {
	return segment.NewMap(c.cfg.ageBits(), 1, nil, false)
}

func (c *Context) newHeapMap() *segment.Map {
	pointer := segment.NewMap(1, 1, nil, true)
	page := segment.NewMap(1, c.cfg.pageWords(), pointer, true)
	return segment.NewMap(1, page.Scale()*c.cfg.HeapMapPages, page, true)
}

// dispose releases every segment and fixie.
func (c *Context) dispose() {
	c.gen1.Dispose()
	c.nextGen1.Dispose()
	c.gen2.Dispose()
	c.nextGen2.Dispose()
	c.disposeFixies()
	for l := listNone + 1; l < numLists; l++ {
		c.freeList(l, false)
	}
	for h := range c.fixies.nodes {
		if f := &c.fixies.nodes[h]; f.storage != nil {
			c.fixies.remove(fixieHandle(h))
			c.freeFixie(fixieHandle(h))
		}
	}
}

// disposeFixies frees every mortal fixie and resets the immortal ones.
func (c *Context) disposeFixies() {
	c.freeList(listTenured, true)
	c.freeList(listDirty, true)
	c.freeList(listUntenured, true)
}

// ============================================================================
// SIZING POLICY
// ============================================================================

func (c *Context) minimumNextGen1Capacity() uint32 {
	debug.Assert(c.tenureFootprint <= c.gen1.Position()+c.incomingFootprint+c.gen1Padding,
		"tenure footprint exceeds nursery")
	return c.gen1.Position() - c.tenureFootprint + c.incomingFootprint + c.gen1Padding
}

func (c *Context) minimumNextGen2Capacity() uint32 {
	return c.gen2.Position() + c.tenureFootprint + c.tenurePadding + c.gen2Padding
}

func (c *Context) oversizedGen2() bool {
	return c.gen2.Capacity() > c.cfg.initialGen2Words() &&
		c.gen2.Position() < c.gen2.Capacity()/c.cfg.OversizedGen2Divisor
}

func (c *Context) undersizedGen2() bool {
	return c.tenureFootprint+c.tenurePadding > c.gen2.Remaining()
}

func (c *Context) fixieCeilingExceeded() bool {
	return c.fixieTenureFootprint+c.tenuredFixieFootprint > c.tenuredFixieCeiling
}

// memoryNeeded projects the bytes in use once both next segments exist.
func (c *Context) memoryNeeded() uint64 {
	c.mu.Lock()
	count := c.count
	c.mu.Unlock()

	words := uint64(c.gen1.Footprint(c.minimumNextGen1Capacity())) +
		uint64(c.gen2.Footprint(c.minimumNextGen2Capacity()))
	return count + words*constants.BytesPerWord + c.cfg.LowMemoryPaddingInBytes
}

func (c *Context) lowMemory() bool {
	return c.memoryNeeded() > c.lowMemoryThreshold
}

// escalation names the first reason a collection must be major, or "".
func (c *Context) escalation() string {
	switch {
	case c.lowMemory():
		return "low memory"
	case c.oversizedGen2():
		return "oversized gen2"
	case c.undersizedGen2():
		return "undersized gen2"
	case c.fixieCeilingExceeded():
		return "fixie ceiling"
	}
	return ""
}

// adjustLowMemoryThreshold moves the threshold toward the limit when the
// projected need exceeds it, or toward the need when it is well above it.
func (c *Context) adjustLowMemoryThreshold() {
	need := c.memoryNeeded()
	old := c.lowMemoryThreshold

	if need > old {
		c.lowMemoryThreshold = utils.Avg64(c.limit, old)
	} else if need+need/16 < old {
		c.lowMemoryThreshold = utils.Avg64(need, old)
	}

	if c.cfg.Verbose && c.lowMemoryThreshold != old {
		verb := "decrease"
		if c.lowMemoryThreshold > old {
			verb = "increase"
		}
		debug.DropMessage("GC", verb+" low memory threshold from "+utils.Utoa(old)+
			" to "+utils.Utoa(c.lowMemoryThreshold))
	}
}

func (c *Context) initNextGen1() {
	c.nextAgeMap = c.newAgeMap()

	minimum := c.minimumNextGen1Capacity()
	desired := minimum

	c.nextGen1 = segment.New(c, c.space, c.nextAgeMap, desired, minimum)

	if c.cfg.Verbose {
		debug.DropMessage("GC", "init nextGen1 to "+
			utils.Utoa(uint64(c.nextGen1.Capacity())*constants.BytesPerWord)+" bytes")
	}
}

func (c *Context) initNextGen2() {
	c.nextHeapMap = c.newHeapMap()

	minimum := c.minimumNextGen2Capacity()
	desired := minimum

	if !(c.lowMemory() || c.oversizedGen2()) {
		desired *= c.cfg.Gen2GrowthFactor
	}
	if initial := c.cfg.initialGen2Words(); desired < initial {
		desired = initial
	}

	c.nextGen2 = segment.New(c, c.space, c.nextHeapMap, desired, minimum)

	if c.cfg.Verbose {
		debug.DropMessage("GC", "init nextGen2 to "+
			utils.Utoa(uint64(c.nextGen2.Capacity())*constants.BytesPerWord)+" bytes")
	}
}

// ============================================================================
// CLASSIFICATION
// ============================================================================

// immortalHeapContains reports whether p lies in the immortal heap.
func (c *Context) immortalHeapContains(p memory.Address) bool {
	return c.immortalRegion != 0 && p.Region() == c.immortalRegion && p.Offset() < c.immortalWords
}

// fresh reports whether o already lives where this collection copies to.
func (c *Context) fresh(o memory.Address) bool {
	return c.nextGen1.Contains(o) ||
		c.nextGen2.Contains(o) ||
		(c.gen2.Contains(o) && c.gen2.IndexOf(o) >= c.gen2Base)
}

// segmentName labels p for traces.
func (c *Context) segmentName(p memory.Address) string {
	switch {
	case c.gen1.Contains(p):
		return "gen1"
	case c.nextGen1.Contains(p):
		return "nextGen1"
	case c.gen2.Contains(p):
		return "gen2"
	case c.nextGen2.Contains(p):
		return "nextGen2"
	}
	return "none"
}
