// ============================================================================
// COPY / UPDATE / COLLECT TRAVERSAL
// ============================================================================
//
// copy relocates one object and records the move in the forwarding table.
// update resolves one slot: pinned targets are queued for marking, immortal
// and (minor) tenured targets stay put, forwarded targets resolve through
// the table, everything else is copied. collect drives update over a whole
// subgraph with an explicit worklist of copies still to walk.
//
// Write barrier:
//
//	After a slot is resolved, if its new value is not known-reachable for
//	the next minor collection (tenured, immortal, or a tenured fixie), the
//	slot's container records it: a fixie about to tenure sets its mask bit
//	and dirty flag; a tenured slot sets its card in the gen2 map.
//
// Traversal invariants:
//   - An object is copied at most once per collection (forwarding check)
//   - A copy is pushed once, when it is created, so it is walked once
//   - The worklist is the only traversal state; the native stack stays flat

package heap

import (
	"math/bits"

	"gengc/debug"
	"gengc/memory"
	"gengc/segment"
	"gengc/utils"
)

// ============================================================================
// COPY
// ============================================================================

func (c *Context) copyTo(s *segment.Segment, o memory.Address, size uint32) memory.Address {
	if debug.Assertions && s.Remaining() < size {
		debug.Abort("copy of " + o.String() + " (" + c.segmentName(o) + ") overflows its destination")
	}
	dst := s.Allocate(size)
	c.client.Copy(o, dst)
	return dst
}

// copy2 picks o's destination by generation and age.
func (c *Context) copy2(o memory.Address) memory.Address {
	size := c.client.CopiedSizeInWords(o)
	threshold := c.cfg.TenureThreshold

	switch {
	case c.gen2.Contains(o):
		debug.Assert(c.mode == MajorCollection, "tenured object copied in minor collection")
		return c.copyTo(c.nextGen2, o, size)

	case c.gen1.Contains(o):
		age := c.ageMap.Get(o)
		if age == threshold {
			c.promoted++
			if c.mode == MinorCollection {
				debug.Assert(c.gen2.Remaining() >= size, "gen2 full during promotion")
				if c.gen2Base == top {
					c.gen2Base = c.gen2.Position()
				}
				return c.copyTo(c.gen2, o, size)
			}
			return c.copyTo(c.nextGen2, o, size)
		}

		dst := c.copyTo(c.nextGen1, o, size)
		c.nextAgeMap.SetOnly(dst, age+1)
		if age+1 == threshold {
			c.tenureFootprint += size
		}
		return dst

	default:
		debug.Assert(!c.nextGen1.Contains(o), "copying an object already in nextGen1")
		debug.Assert(!c.nextGen2.Contains(o), "copying an object already in nextGen2")
		debug.Assert(!c.immortalHeapContains(o), "copying an immortal object")

		dst := c.copyTo(c.nextGen1, o, size)
		c.nextAgeMap.Clear(dst)
		return dst
	}
}

// copy relocates o and records the forwarding.
func (c *Context) copy(o memory.Address) memory.Address {
	r := c.copy2(o)
	c.copied++
	c.forward.Put(uint64(o), uint64(r))
	return r
}

// ============================================================================
// FORWARDING
// ============================================================================

// wasCollected reports whether o has been copied this collection.
func (c *Context) wasCollected(o memory.Address) bool {
	if o == memory.Null || c.fresh(o) {
		return false
	}
	_, ok := c.forward.Get(uint64(o))
	return ok
}

// follow returns the copy of a collected object.
func (c *Context) follow(o memory.Address) memory.Address {
	r, ok := c.forward.Get(uint64(o))
	debug.Assert(ok, "follow of an object that was not collected")
	debug.Assert(c.fresh(memory.Address(r)), "forwarding target is not fresh")
	return memory.Address(r)
}

// ============================================================================
// UPDATE
// ============================================================================

func (c *Context) update3(o memory.Address) (memory.Address, bool) {
	switch {
	case c.client.IsFixed(o):
		h := c.fixieOf(o)
		f := c.fixies.get(h)
		if !f.marked && (c.mode == MajorCollection || uint32(f.age) < c.cfg.FixieTenureThreshold) {
			if c.cfg.DebugFixies {
				debug.DropMessage("GC_FIXIE", "mark "+utils.Itoa(int(h)))
			}
			f.marked = true
			c.fixies.move(h, listMarked)
		}
		return o, false

	case c.immortalHeapContains(o):
		return o, false

	case c.wasCollected(o):
		return c.follow(o), false
	}
	return c.copy(o), true
}

func (c *Context) update2(o memory.Address) (memory.Address, bool) {
	if c.mode == MinorCollection && c.gen2.Contains(o) {
		return o, false
	}
	return c.update3(o)
}

// knownReachable reports whether a pointer to p never needs a card: p is
// immortal, a tenured fixie, or inside the tenured segment seg.
func (c *Context) knownReachable(p memory.Address, seg *segment.Segment) bool {
	if c.immortalHeapContains(p) || seg.Contains(p) {
		return true
	}
	if c.client.IsFixed(p) {
		return uint32(c.fixies.get(c.fixieOf(p)).age) >= c.cfg.FixieTenureThreshold
	}
	return false
}

// tenuredTarget returns the segment and map cards are recorded in.
func (c *Context) tenuredTarget() (*segment.Segment, *segment.Map) {
	if c.mode == MinorCollection {
		return c.gen2, c.heapMap
	}
	return c.nextGen2, c.nextHeapMap
}

// updateHeapMap is the write barrier for slot p at offset inside target.
func (c *Context) updateHeapMap(p, target memory.Address, offset uint32, result memory.Address) {
	seg, m := c.tenuredTarget()

	if c.knownReachable(result, seg) {
		return
	}

	if target != memory.Null && c.client.IsFixed(target) {
		h := c.fixieOf(target)
		f := c.fixies.get(h)
		if uint32(f.age)+1 >= c.cfg.FixieTenureThreshold {
			if c.cfg.DebugFixies {
				debug.DropMessage("GC_FIXIE", "dirty "+utils.Itoa(int(h))+" at "+utils.Utoa(uint64(offset))+": "+result.String())
			}
			f.dirty = true
			if f.hasMask {
				utils.MarkBit(f.mask(), offset)
			}
		}
	} else if seg.Contains(p) {
		m.Set(p, 1)
	}
}

// update resolves *slot, applying the write barrier for its container.
func (c *Context) update(slot *memory.Address, p, target memory.Address, offset uint32) (memory.Address, bool) {
	o := *slot
	if o == memory.Null {
		return memory.Null, false
	}

	result, needsVisit := c.update2(o)
	if result != memory.Null {
		c.updateHeapMap(p, target, offset, result)
	}
	return result, needsVisit
}

// ============================================================================
// COLLECT
// ============================================================================

// collect resolves *slot and walks everything newly copied beneath it.
// p is the slot's heap address, or Null for roots; target and offset name
// the slot's container when it is inside an object.
func (c *Context) collect(slot *memory.Address, p, target memory.Address, offset uint32) {
	result, needsVisit := c.update(slot, p, target, offset)
	*slot = result
	if !needsVisit {
		return
	}

	base := len(c.stack)
	c.stack = append(c.stack, result)
	for len(c.stack) > base {
		n := len(c.stack) - 1
		obj := c.stack[n]
		c.stack = c.stack[:n]

		c.walkParent = obj
		c.client.Walk(obj, c.walkChild)
	}
}

// visitChild updates one slot of walkParent and queues new copies.
func (c *Context) visitChild(offset uint32) bool {
	parent := c.walkParent
	p := parent.Add(offset)
	slot := c.space.Slot(p)

	result, needsVisit := c.update(slot, p, parent, offset)
	*slot = result
	if needsVisit {
		c.stack = append(c.stack, result)
	}
	return true
}

// collectAt resolves the slot at offset inside target.
func (c *Context) collectAt(target memory.Address, offset uint32) {
	p := target.Add(offset)
	c.collect(c.space.Slot(p), p, target, offset)
}

// ============================================================================
// CARD SCAN
// ============================================================================

// collectMap traces every marked slot of gen2 under m in [start, end) and
// reports whether any record stayed marked. A pointer-level record stays
// marked iff its slot still points at something not known-reachable.
func (c *Context) collectMap(m *segment.Map, start, end uint32) bool {
	dirty := false
	for it := m.Iterator(start, end); it.HasMore(); {
		i := it.Next()

		if child := m.Child(); child != nil {
			debug.Assert(m.Scale() > 1, "card map level without scale")
			m.ClearOnlyAt(i)
			if c.collectMap(child, i, i+m.Scale()) {
				m.SetOnlyAt(i)
				dirty = true
			}
			continue
		}

		debug.Assert(m.Scale() == 1, "pointer map level with scale")
		p := c.gen2.Get(i)
		slot := c.gen2.Slot(i)

		m.ClearOnlyAt(i)
		if c.nextGen1.Contains(*slot) {
			m.SetOnlyAt(i)
			dirty = true
			continue
		}

		c.collect(slot, p, memory.Null, 0)

		if v := *slot; v != memory.Null && !c.knownReachable(v, c.gen2) {
			m.SetOnlyAt(i)
			dirty = true
		}
	}
	return dirty
}

// ============================================================================
// FIXIES
// ============================================================================

// visitDirtyFixies retraces the recorded slots of every dirty tenured
// fixie and moves the ones left with no young pointers to the clean list.
func (c *Context) visitDirtyFixies() {
	for h := c.fixies.head(listDirty); h != nilFixie; {
		f := c.fixies.get(h)
		next := f.next
		body := f.body()

		if c.cfg.DebugFixies {
			debug.DropMessage("GC_FIXIE", "clean "+utils.Itoa(int(h)))
		}

		clean := true
		if f.hasMask {
			mask := f.mask()
			for word := range mask {
				for w := mask[word]; w != 0; w &= w - 1 {
					index := utils.IndexOf(uint32(word), uint32(bits.TrailingZeros64(w)))
					if index >= f.size {
						break
					}
					utils.ClearBit(mask, index)
					c.collectAt(body, index)
					if utils.GetBit(mask, index) {
						clean = false
					}
				}
			}
		} else {
			// No mask: retrace every slot, the barrier re-dirties on young pointers.
			f.dirty = false
			c.walkFixie(body)
			clean = !f.dirty
			f.dirty = true
		}

		if clean {
			c.markClean(h)
		}
		h = next
	}
}

// visitMarkedFixies walks every queued fixie body until none are left.
func (c *Context) visitMarkedFixies() {
	for h := c.fixies.head(listMarked); h != nilFixie; h = c.fixies.head(listMarked) {
		c.fixies.remove(h)

		if c.cfg.DebugFixies {
			debug.DropMessage("GC_FIXIE", "visit "+utils.Itoa(int(h)))
		}

		c.walkFixie(c.fixies.get(h).body())
		c.fixies.add(h, listVisited)
	}
}

// walkFixie collects every pointer slot of a fixie body. The offsets are
// gathered first so nested collects never run inside the client's walk.
func (c *Context) walkFixie(body memory.Address) {
	var offsets []uint32
	c.client.Walk(body, func(offset uint32) bool {
		offsets = append(offsets, offset)
		return true
	})
	for _, offset := range offsets {
		c.collectAt(body, offset)
	}
}
