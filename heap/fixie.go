// ============================================================================
// FIXIE ARENA: PINNED ALLOCATION METADATA
// ============================================================================
//
// A fixie is a pinned allocation: its body is never copied, so it is tracked
// by age, dirty and marked flags instead of by the generational copy.
//
// Arena layout:
//   - nodes[] holds every fixie record, addressed by a stable fixieHandle
//   - Released nodes are chained through next into a freelist
//   - Each of the five lists is a doubly-linked chain with one head
//
// Storage layout of one fixie (a KindFixie region whose owner is the handle):
//
//	[magic|handle][size][reserved] [body ... size words] [mask ... ⌈size/64⌉ words]
//
// List invariants:
//   - A node is on at most one list; list == listNone while in transit
//   - remove clears prev, next and list together
//   - add requires a node that is on no list

package heap

import (
	"gengc/constants"
	"gengc/debug"
	"gengc/memory"
	"gengc/utils"
)

// fixieHandle is a stable arena index.
type fixieHandle uint32

const nilFixie fixieHandle = ^fixieHandle(0)

// fixieList names one of the collector's fixie chains.
type fixieList uint8

const (
	listNone      fixieList = iota
	listUntenured           // Young, not yet reached this cycle
	listTenured             // Tenured, no pointers into younger data
	listDirty               // Tenured, mask records pointers into younger data
	listMarked              // Reached, body not yet walked
	listVisited             // Reached and walked
	numLists
)

var listNames = [numLists]string{"none", "untenured", "tenured", "dirty", "marked", "visited"}

func (l fixieList) String() string { return listNames[l] }

// fixie is one arena record.
type fixie struct {
	storage []uint64 // Header + body + mask, nil while free
	base    memory.Address
	size    uint32 // Body words
	age     uint8
	hasMask bool
	marked  bool
	dirty   bool
	owned   bool // Storage came from the heap's own allocator
	list    fixieList
	prev    fixieHandle
	next    fixieHandle // Freelist link while free
}

// body returns the address of body word 0.
func (f *fixie) body() memory.Address {
	return f.base.Add(constants.FixieHeaderWords)
}

// mask returns the pointer mask words, empty when the fixie has none.
func (f *fixie) mask() []uint64 {
	start := constants.FixieHeaderWords + f.size
	return f.storage[start:]
}

func fixieMaskWords(size uint32, hasMask bool) uint32 {
	if !hasMask {
		return 0
	}
	return utils.Ceiling(size, constants.BitsPerWord)
}

// fixieTotalWords returns the storage size of a fixie.
func fixieTotalWords(size uint32, hasMask bool) uint32 {
	return constants.FixieHeaderWords + size + fixieMaskWords(size, hasMask)
}

// totalSize returns the storage size in bytes.
func (f *fixie) totalSize() uint64 {
	return uint64(fixieTotalWords(f.size, f.hasMask)) * constants.BytesPerWord
}

// ============================================================================
// ARENA
// ============================================================================

type fixieArena struct {
	nodes    []fixie
	heads    [numLists]fixieHandle
	counts   [numLists]int
	freeHead fixieHandle
	live     int
}

func newFixieArena() fixieArena {
	a := fixieArena{freeHead: nilFixie}
	for l := range a.heads {
		a.heads[l] = nilFixie
	}
	return a
}

// get returns the record for h.
//
//go:nosplit
//go:inline
func (a *fixieArena) get(h fixieHandle) *fixie {
	return &a.nodes[h]
}

// borrow takes a node off the freelist, growing the arena when empty.
func (a *fixieArena) borrow() fixieHandle {
	h := a.freeHead
	if h == nilFixie {
		h = fixieHandle(len(a.nodes))
		debug.Assert(h != nilFixie, "fixie arena exhausted")
		a.nodes = append(a.nodes, fixie{})
	} else {
		a.freeHead = a.nodes[h].next
	}
	a.nodes[h] = fixie{prev: nilFixie, next: nilFixie}
	a.live++
	return h
}

// release returns an unlinked node to the freelist.
func (a *fixieArena) release(h fixieHandle) {
	f := &a.nodes[h]
	debug.Assert(f.list == listNone, "releasing a linked fixie")
	*f = fixie{prev: nilFixie, next: a.freeHead}
	a.freeHead = h
	a.live--
}

// head returns the first node on l, or nilFixie.
func (a *fixieArena) head(l fixieList) fixieHandle { return a.heads[l] }

// len returns the number of nodes on l.
func (a *fixieArena) len(l fixieList) int { return a.counts[l] }

// add pushes h onto the front of l. listNone leaves h unlinked.
func (a *fixieArena) add(h fixieHandle, l fixieList) {
	f := &a.nodes[h]
	debug.Assert(f.list == listNone, "fixie already on a list")
	debug.Assert(f.prev == nilFixie && f.next == nilFixie, "fixie has dangling links")

	if l == listNone {
		return
	}
	f.list = l
	f.next = a.heads[l]
	if f.next != nilFixie {
		a.nodes[f.next].prev = h
	}
	a.heads[l] = h
	a.counts[l]++
}

// remove unlinks h from its list.
func (a *fixieArena) remove(h fixieHandle) {
	f := &a.nodes[h]
	if f.list == listNone {
		return
	}
	if f.prev != nilFixie {
		a.nodes[f.prev].next = f.next
	} else {
		debug.Assert(a.heads[f.list] == h, "fixie list head mismatch")
		a.heads[f.list] = f.next
	}
	if f.next != nilFixie {
		a.nodes[f.next].prev = f.prev
	}
	a.counts[f.list]--
	f.prev, f.next, f.list = nilFixie, nilFixie, listNone
}

// move relinks h onto l.
func (a *fixieArena) move(h fixieHandle, l fixieList) {
	a.remove(h)
	a.add(h, l)
}

// ============================================================================
// CONTEXT OPERATIONS
// ============================================================================

// newFixie stamps storage with the fixie header, registers its region and
// links the record onto l. Immortal fixies stay unlinked.
func (c *Context) newFixie(storage []uint64, size uint32, hasMask, immortal, owned bool) fixieHandle {
	h := c.fixies.borrow()
	f := c.fixies.get(h)

	f.storage = storage
	f.size = size
	f.hasMask = hasMask
	f.owned = owned
	if immortal {
		f.age = c.immortalAge()
	}

	storage[0] = constants.FixieMagic | uint64(h)
	storage[1] = uint64(size)
	storage[2] = 0
	clear(f.mask())

	f.base = c.space.Map(storage, memory.KindFixie, uint32(h))

	if immortal {
		c.fixies.add(h, listNone)
	} else {
		c.fixies.add(h, listUntenured)
	}

	if c.cfg.DebugFixies {
		debug.DropMessage("GC_FIXIE", "make "+utils.Itoa(int(h))+" at "+f.body().String()+
			" of size "+utils.Utoa(f.totalSize()))
	}
	return h
}

// immortalAge is the age sentinel one past the fixie tenure threshold.
func (c *Context) immortalAge() uint8 {
	return uint8(c.cfg.FixieTenureThreshold + 1)
}

func (c *Context) isImmortalFixie(f *fixie) bool {
	return f.age == c.immortalAge()
}

// fixieOf resolves a fixie body address to its handle.
func (c *Context) fixieOf(p memory.Address) fixieHandle {
	h, ok := c.space.Owner(p)
	if !ok || c.space.Kind(p) != memory.KindFixie {
		debug.Abort("fixed object " + p.String() + " is not a fixie body")
	}
	if debug.Assertions {
		stamp := c.space.LoadWord(memory.Make(p.Region(), 0))
		debug.Assert(stamp&constants.FixieMagicMask == constants.FixieMagic, "fixie header magic")
		debug.Assert(fixieHandle(stamp&^constants.FixieMagicMask) == fixieHandle(h), "fixie header handle")
	}
	return fixieHandle(h)
}

// freeFixie unregisters and releases a fixie that is on no list.
func (c *Context) freeFixie(h fixieHandle) {
	f := c.fixies.get(h)
	if c.cfg.DebugFixies {
		debug.DropMessage("GC_FIXIE", "free "+utils.Itoa(int(h)))
	}
	c.space.Unmap(f.base)
	if f.owned {
		c.freeWords(f.storage)
	}
	c.fixies.release(h)
}

// freeList frees every non-immortal fixie on l. Immortal ones are reset
// and unlinked when resetImmortal is set, otherwise left in place.
func (c *Context) freeList(l fixieList, resetImmortal bool) {
	for h := c.fixies.head(l); h != nilFixie; {
		f := c.fixies.get(h)
		next := f.next

		if c.isImmortalFixie(f) {
			if resetImmortal {
				if c.cfg.DebugFixies {
					debug.DropMessage("GC_FIXIE", "reset immortal "+utils.Itoa(int(h)))
				}
				c.fixies.remove(h)
				clear(f.mask())
				f.marked = false
				f.dirty = false
			}
		} else {
			c.fixies.remove(h)
			c.freeFixie(h)
		}
		h = next
	}
}

// markDirty moves a tenured fixie with pointers into younger data onto the
// dirty list.
func (c *Context) markDirty(h fixieHandle) {
	f := c.fixies.get(h)
	if !f.dirty {
		f.dirty = true
		c.fixies.move(h, listDirty)
	}
}

// markClean undoes markDirty once the mask holds no young pointers.
// Immortal fixies leave the lists entirely.
func (c *Context) markClean(h fixieHandle) {
	f := c.fixies.get(h)
	if f.dirty {
		f.dirty = false
		if c.isImmortalFixie(f) {
			c.fixies.remove(h)
		} else {
			c.fixies.move(h, listTenured)
		}
	}
}

// sweepFixies frees unreached fixies and ages the reached ones.
func (c *Context) sweepFixies() {
	debug.Assert(c.fixies.head(listMarked) == nilFixie, "marked fixies left after trace")

	if c.mode == MajorCollection {
		c.freeList(listTenured, false)
		c.freeList(listDirty, false)
		c.tenuredFixieFootprint = 0
	}
	c.freeList(listUntenured, false)
	c.untenuredFixieFootprint = 0

	threshold := c.cfg.FixieTenureThreshold
	for h := c.fixies.head(listVisited); h != nilFixie; h = c.fixies.head(listVisited) {
		f := c.fixies.get(h)
		c.fixies.remove(h)

		if !c.isImmortalFixie(f) {
			f.age++
			if uint32(f.age) > threshold {
				f.age = uint8(threshold)
			} else if uint32(f.age)+1 == threshold {
				c.fixieTenureFootprint += f.totalSize()
			}
		}

		if uint32(f.age) >= threshold {
			if c.cfg.DebugFixies {
				debug.DropMessage("GC_FIXIE", "tenure "+utils.Itoa(int(h))+" dirty="+boolString(f.dirty))
			}
			if !c.isImmortalFixie(f) {
				c.tenuredFixieFootprint += f.totalSize()
			}
			if f.dirty {
				c.fixies.add(h, listDirty)
			} else {
				c.fixies.add(h, listTenured)
			}
		} else {
			c.untenuredFixieFootprint += f.totalSize()
			c.fixies.add(h, listUntenured)
		}

		f.marked = false
	}

	c.tenuredFixieCeiling = max(2*c.tenuredFixieFootprint, c.cfg.InitialTenuredFixieCeilingInBytes)
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
