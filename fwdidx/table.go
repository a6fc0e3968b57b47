// ════════════════════════════════════════════════════════════════════════════════════════════════
// ⚡ FORWARDING TABLE
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Component: Robin Hood map from original object address to copy address
//
// Description:
//   During a collection every copied object records its new location here instead of
//   overwriting its own header. The original payload stays readable for the whole cycle
//   and the table is reset before the next one.
//
// Design Principles:
//   - Power-of-2 sizing with mixed hashing (addresses share their region bits)
//   - Robin Hood displacement keeps probe chains short
//   - Parallel key/value arrays
//   - Zero key is the empty sentinel (Null is never forwarded)
//   - Grows at 50% load, keeps its backing arrays across Reset
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package fwdidx

import (
	"gengc/debug"
	"gengc/utils"
)

// Table maps forwarded addresses to their copies. Not safe for concurrent use.
type Table struct {
	keys []uint64 // 0 = empty
	vals []uint64
	mask uint64
	n    int
}

func nextPow2(n int) uint64 {
	s := uint64(1)
	for s < uint64(n) {
		s <<= 1
	}
	return s
}

// New creates a table sized for capacity entries before its first growth.
func New(capacity int) *Table {
	sz := nextPow2(capacity * 2)
	if sz < 16 {
		sz = 16
	}
	return &Table{
		keys: make([]uint64, sz),
		vals: make([]uint64, sz),
		mask: sz - 1,
	}
}

// Len returns the number of recorded entries.
func (t *Table) Len() int { return t.n }

// Cap returns the slot count.
func (t *Table) Cap() int { return len(t.keys) }

// Put records key → val. An existing entry is kept and its value returned.
func (t *Table) Put(key, val uint64) uint64 {
	debug.Assert(key != 0, "forwarding null")
	if (t.n+1)*2 > len(t.keys) {
		t.grow()
	}
	v, inserted := t.put(key, val)
	if inserted {
		t.n++
	}
	return v
}

func (t *Table) put(key, val uint64) (uint64, bool) {
	i := utils.Mix64(key) & t.mask
	dist := uint64(0)

	for {
		k := t.keys[i]

		if k == 0 {
			t.keys[i], t.vals[i] = key, val
			return val, true
		}
		if k == key {
			return t.vals[i], false
		}

		// Displace an occupant closer to its home slot than we are to ours.
		kDist := (i + t.mask + 1 - (utils.Mix64(k) & t.mask)) & t.mask
		if kDist < dist {
			key, t.keys[i] = t.keys[i], key
			val, t.vals[i] = t.vals[i], val
			dist = kDist
		}

		i = (i + 1) & t.mask
		dist++
	}
}

// Get returns the copy recorded for key.
func (t *Table) Get(key uint64) (uint64, bool) {
	if key == 0 {
		return 0, false
	}
	i := utils.Mix64(key) & t.mask
	dist := uint64(0)

	for {
		k := t.keys[i]
		if k == 0 {
			return 0, false
		}
		if k == key {
			return t.vals[i], true
		}
		kDist := (i + t.mask + 1 - (utils.Mix64(k) & t.mask)) & t.mask
		if kDist < dist {
			return 0, false
		}
		i = (i + 1) & t.mask
		dist++
	}
}

func (t *Table) grow() {
	oldKeys, oldVals := t.keys, t.vals
	sz := uint64(len(oldKeys)) * 2
	t.keys = make([]uint64, sz)
	t.vals = make([]uint64, sz)
	t.mask = sz - 1
	for i, k := range oldKeys {
		if k != 0 {
			t.put(k, oldVals[i])
		}
	}
}

// Reset forgets every entry.
func (t *Table) Reset() {
	if t.n == 0 {
		return
	}
	clear(t.keys)
	clear(t.vals)
	t.n = 0
}
