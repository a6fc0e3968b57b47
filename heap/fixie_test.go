package heap

import (
	"testing"

	"gengc/memory"
)

// ============================================================================
// ARENA
// ============================================================================

func listOf(a *fixieArena, l fixieList) []fixieHandle {
	var out []fixieHandle
	for h := a.head(l); h != nilFixie; h = a.get(h).next {
		out = append(out, h)
	}
	return out
}

func TestFixieArenaLists(t *testing.T) {
	a := newFixieArena()
	h0, h1, h2 := a.borrow(), a.borrow(), a.borrow()
	if a.live != 3 {
		t.Fatalf("live = %d", a.live)
	}

	a.add(h0, listUntenured)
	a.add(h1, listUntenured)
	a.add(h2, listUntenured)
	if got := listOf(&a, listUntenured); len(got) != 3 || got[0] != h2 || got[2] != h0 {
		t.Fatalf("untenured = %v", got)
	}

	// Removing from the middle keeps both neighbours linked.
	a.move(h1, listMarked)
	if got := listOf(&a, listUntenured); len(got) != 2 || got[0] != h2 || got[1] != h0 {
		t.Fatalf("after move untenured = %v", got)
	}
	if a.len(listUntenured) != 2 || a.len(listMarked) != 1 {
		t.Fatalf("counts = %v", a.counts)
	}
	if f := a.get(h1); f.list != listMarked || f.prev != nilFixie || f.next != nilFixie {
		t.Fatalf("moved node = %+v", *f)
	}

	// Removing an unlinked node is a no-op.
	a.remove(h1)
	a.remove(h1)
	if a.len(listMarked) != 0 || a.head(listMarked) != nilFixie {
		t.Fatal("double remove corrupted the marked list")
	}

	a.release(h1)
	if a.live != 2 {
		t.Fatalf("live after release = %d", a.live)
	}
	if again := a.borrow(); again != h1 {
		t.Fatalf("freelist returned %d, want %d", again, h1)
	}
}

func TestFixieArenaAddToNoneStaysUnlinked(t *testing.T) {
	a := newFixieArena()
	h := a.borrow()
	a.add(h, listNone)
	for l := listNone; l < numLists; l++ {
		if a.len(l) != 0 {
			t.Fatalf("list %v has %d nodes", l, a.len(l))
		}
	}
	a.add(h, listTenured)
	if listOf(&a, listTenured)[0] != h {
		t.Fatal("node not linked after leaving listNone")
	}
}

func TestFixieArenaDoubleAddAsserts(t *testing.T) {
	a := newFixieArena()
	h := a.borrow()
	a.add(h, listTenured)
	expectInvariant(t, func() { a.add(h, listDirty) })
}

// ============================================================================
// LIFECYCLE
// ============================================================================

func TestUnreachableFixieFreed(t *testing.T) {
	h, tc := newTestHeap(t, testConfig())
	defer tc.dispose()

	before := h.BytesInUse()
	body, total := h.AllocateFixed(nil, 3, true)
	if h.BytesInUse() != before+uint64(total) {
		t.Fatalf("fixie storage not accounted: %d → %d (+%d)", before, h.BytesInUse(), total)
	}
	tc.space.StoreWord(body, header(1, 1))

	tc.collect(MinorCollection)
	if h.Stats().LiveFixies != 0 {
		t.Fatalf("live fixies = %d", h.Stats().LiveFixies)
	}
	if tc.space.Kind(body) != memory.KindFree {
		t.Fatal("fixie region still mapped")
	}
	if h.BytesInUse() > before {
		t.Fatalf("fixie bytes not returned: %d > %d", h.BytesInUse(), before)
	}
}

func TestFixieNeverMoves(t *testing.T) {
	h, tc := newTestHeap(t, testConfig())
	defer tc.dispose()

	f := tc.fixed(1, 2, false)
	tc.space.StoreWord(f.Add(2), 0xABCD)
	r := tc.root(f)

	for i := 0; i < 8; i++ {
		tc.collect(MinorCollection)
	}
	tc.collect(MajorCollection)

	if tc.roots[r] != f || tc.copies[f] != 0 {
		t.Fatal("pinned object moved")
	}
	if tc.space.LoadWord(f.Add(2)) != 0xABCD {
		t.Fatal("pinned payload changed")
	}
	if state := fixieState(h, f); state.list != listTenured || uint32(state.age) != h.Config().FixieTenureThreshold {
		t.Fatalf("fixie on %v at age %d", state.list, state.age)
	}
}

func TestFixieDirtiedAtTenureKeepsYoungReferent(t *testing.T) {
	for _, masked := range []bool{true, false} {
		t.Run(map[bool]string{true: "mask", false: "nomask"}[masked], func(t *testing.T) {
			h, tc := newTestHeap(t, testConfig())
			defer tc.dispose()
			ftt := h.Config().FixieTenureThreshold

			body, _ := h.AllocateFixed(nil, 2, masked)
			tc.space.StoreWord(body, header(1, 0))
			tc.root(body)
			for i := uint32(1); i < ftt; i++ {
				tc.collect(MinorCollection)
			}
			state := fixieState(h, body)
			if uint32(state.age) != ftt-1 || state.list != listUntenured {
				t.Fatalf("age %d on %v before tenure", state.age, state.list)
			}

			// The fixie is still untenured, so no barrier is needed for this store.
			young := tc.object(0, 2, 3)
			want := tc.payloadDigest(young)
			tc.space.Store(body.Add(1), young)

			tc.collect(MinorCollection)
			if state.list != listDirty || !state.dirty {
				t.Fatalf("tenured with a nursery pointer on %v (dirty=%v)", state.list, state.dirty)
			}
			if masked && state.mask()[0] != 1<<1 {
				t.Fatalf("mask = %b", state.mask()[0])
			}

			// The dirty fixie is the only path to the referent.
			tc.collect(MinorCollection)
			ref := tc.field(body, 1)
			if h.Generation(ref) != "gen1" || tc.payloadDigest(ref) != want {
				t.Fatal("referent lost in the dirty scan")
			}
			if state.list != listDirty {
				t.Fatal("fixie cleaned while pointing into the nursery")
			}

			tc.space.Store(body.Add(1), memory.Null)
			tc.collect(MinorCollection)
			if state.list != listTenured || state.dirty {
				t.Fatalf("after clearing: %v (dirty=%v)", state.list, state.dirty)
			}
		})
	}
}

func TestMajorFreesUnreachableTenuredFixie(t *testing.T) {
	h, tc := newTestHeap(t, testConfig())
	defer tc.dispose()

	f := tc.fixed(0, 1, false)
	r := tc.root(f)
	for i := uint32(0); i < h.Config().FixieTenureThreshold; i++ {
		tc.collect(MinorCollection)
	}
	if fixieState(h, f).list != listTenured {
		t.Fatal("fixie not tenured")
	}

	tc.roots[r] = memory.Null
	tc.collect(MinorCollection)
	if h.Stats().LiveFixies != 1 {
		t.Fatal("minor collection freed a tenured fixie")
	}
	tc.collect(MajorCollection)
	if h.Stats().LiveFixies != 0 || h.Stats().TenuredFixies != 0 {
		t.Fatalf("after major: %d live, %d tenured bytes", h.Stats().LiveFixies, h.Stats().TenuredFixies)
	}
}

func TestImmortalFixie(t *testing.T) {
	h, tc := newTestHeap(t, testConfig())
	defer tc.dispose()

	f := tc.fixed(1, 0, true)
	state := fixieState(h, f)
	if state.list != listNone {
		t.Fatalf("immortal fixie linked on %v", state.list)
	}

	// Unrooted, it survives every kind of collection.
	tc.collect(MinorCollection)
	tc.collect(MajorCollection)
	if h.Stats().LiveFixies != 1 || tc.space.Kind(f) != memory.KindFixie {
		t.Fatal("immortal fixie freed")
	}

	// Immortal fixies count as tenured: a nursery store needs the barrier.
	young := tc.object(0, 1, 1)
	tc.set(f, 1, young)
	if state.list != listDirty {
		t.Fatalf("immortal fixie on %v after mark", state.list)
	}
	tc.collect(MinorCollection)
	if h.Generation(tc.field(f, 1)) != "gen1" {
		t.Fatal("referent of immortal fixie lost")
	}

	tc.space.Store(f.Add(1), memory.Null)
	tc.collect(MinorCollection)
	if state.list != listNone || state.dirty {
		t.Fatalf("clean immortal fixie on %v", state.list)
	}

	h.DisposeFixies()
	if h.Stats().LiveFixies != 1 {
		t.Fatal("DisposeFixies freed an immortal fixie")
	}
}

func TestDisposeFixiesResetsDirtyImmortal(t *testing.T) {
	h, tc := newTestHeap(t, testConfig())
	defer tc.dispose()

	f := tc.fixed(1, 0, true)
	tc.fixed(0, 0, false)
	tc.set(f, 1, tc.object(0, 1, 1))
	state := fixieState(h, f)

	h.DisposeFixies()
	if state.list != listNone || state.dirty || state.mask()[0] != 0 {
		t.Fatalf("immortal after dispose: list=%v dirty=%v mask=%b", state.list, state.dirty, state.mask()[0])
	}
	if h.Stats().LiveFixies != 1 {
		t.Fatalf("live fixies = %d", h.Stats().LiveFixies)
	}
}

// customAlloc hands out storage the heap does not own.
type customAlloc struct{ calls int }

func (a *customAlloc) AllocateStorage(sizeInBytes uint32) []uint64 {
	a.calls++
	return make([]uint64, wordsFor(sizeInBytes))
}

func TestFixieCustomAllocatorNotCounted(t *testing.T) {
	h, tc := newTestHeap(t, testConfig())
	defer tc.dispose()

	var alloc customAlloc
	before := h.BytesInUse()
	body, total := h.AllocateFixed(&alloc, 4, true)
	if alloc.calls != 1 || total != uint32(fixieTotalWords(4, true))*8 {
		t.Fatalf("calls = %d, total = %d", alloc.calls, total)
	}
	if h.BytesInUse() != before {
		t.Fatal("foreign fixie storage charged to the heap")
	}
	tc.space.StoreWord(body, header(0, 3))

	tc.collect(MinorCollection)
	if h.Stats().LiveFixies != 0 || h.BytesInUse() > before {
		t.Fatal("foreign fixie not released cleanly")
	}
}
