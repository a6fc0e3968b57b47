package memory

import (
	"sync"
	"testing"
)

func TestAddressCoordinates(t *testing.T) {
	a := Make(7, 42)
	if a.Region() != 7 || a.Offset() != 42 {
		t.Fatalf("Make(7,42) = %d:%d", a.Region(), a.Offset())
	}
	if b := a.Add(3); b.Region() != 7 || b.Offset() != 45 {
		t.Fatalf("Add(3) = %v", b)
	}
	if Null.String() != "null" || a.String() != "7:42" {
		t.Fatalf("String() = %q / %q", Null.String(), a.String())
	}
}

func TestMapLoadStore(t *testing.T) {
	s := NewSpace()
	base := s.Map(make([]uint64, 4), KindRaw, 0)
	if base == Null {
		t.Fatal("Map returned Null")
	}
	if base.Offset() != 0 {
		t.Fatalf("base offset = %d", base.Offset())
	}

	s.Store(base.Add(2), Make(9, 1))
	if got := s.Load(base.Add(2)); got != Make(9, 1) {
		t.Fatalf("Load = %v", got)
	}
	s.StoreWord(base, 0xabc)
	if s.LoadWord(base) != 0xabc {
		t.Fatal("StoreWord/LoadWord mismatch")
	}

	if k := s.Kind(base.Add(3)); k != KindRaw {
		t.Fatalf("Kind = %v", k)
	}
	if k := s.Kind(base.Add(4)); k != KindFree {
		t.Fatalf("Kind past end = %v, want free", k)
	}
	if n := s.Len(base.Add(1)); n != 4 {
		t.Fatalf("Len = %d", n)
	}
	if w := s.Words(base.Add(1)); len(w) != 3 {
		t.Fatalf("Words len = %d", len(w))
	}
}

func TestUnmapNeverAliases(t *testing.T) {
	s := NewSpace()
	a := s.Map(make([]uint64, 2), KindSegment, 0)
	if words := s.Unmap(a); len(words) != 2 {
		t.Fatalf("Unmap returned %d words", len(words))
	}
	b := s.Map(make([]uint64, 2), KindSegment, 0)
	if a.Region() == b.Region() {
		t.Fatal("recycled slot handed out the same region")
	}
	if s.Kind(a) != KindFree {
		t.Fatal("stale address still resolves")
	}
	if s.Unmap(a) != nil {
		t.Fatal("double Unmap returned words")
	}
	if s.Live() != 1 {
		t.Fatalf("Live = %d, want 1", s.Live())
	}
}

func TestOwner(t *testing.T) {
	s := NewSpace()
	a := s.Map(make([]uint64, 1), KindFixie, 99)
	if h, ok := s.Owner(a); !ok || h != 99 {
		t.Fatalf("Owner = %d,%v", h, ok)
	}
	if _, ok := s.Owner(Null); ok {
		t.Fatal("Owner(Null) reported ok")
	}
}

func TestSlotPanicsOnUnmapped(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	NewSpace().Slot(Make(3, 0))
}

func TestConcurrentMapUnmap(t *testing.T) {
	s := NewSpace()
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				a := s.Map(make([]uint64, 8), KindRaw, 0)
				s.Store(a.Add(7), a)
				if s.Load(a.Add(7)) != a {
					t.Error("lost store")
					return
				}
				s.Unmap(a)
			}
		}()
	}
	wg.Wait()
	if s.Live() != 0 {
		t.Fatalf("Live = %d after concurrent churn", s.Live())
	}
}

func TestRegionSlotsRecycled(t *testing.T) {
	s := NewSpace()
	keep := s.Map(make([]uint64, 1), KindRaw, 0)

	var stale []Address
	for i := 0; i < 10000; i++ {
		a := s.Map(make([]uint64, 4), KindRaw, 0)
		s.Unmap(a)
		// Only the last 255 mappings of a slot are guaranteed distinct.
		stale = append(stale, a)
		if len(stale) > 255 {
			stale = stale[1:]
		}
	}
	if n := s.Slots(); n != 2 {
		t.Fatalf("registry holds %d slots after churn, want 2", n)
	}

	fresh := s.Map(make([]uint64, 4), KindRaw, 0)
	for _, a := range stale {
		if a == fresh {
			t.Fatalf("stale %v aliases a live region", a)
		}
	}
	if s.Kind(keep) != KindRaw || s.Kind(fresh) != KindRaw {
		t.Fatal("live regions lost")
	}
	if s.Live() != 2 {
		t.Fatalf("Live = %d", s.Live())
	}
}

func TestRecycledSlotsOldestFirst(t *testing.T) {
	s := NewSpace()
	a := s.Map(make([]uint64, 1), KindRaw, 0)
	b := s.Map(make([]uint64, 1), KindRaw, 0)
	s.Unmap(a)
	s.Unmap(b)

	c := s.Map(make([]uint64, 1), KindRaw, 0)
	if c.Region()&slotMask != a.Region()&slotMask {
		t.Fatalf("reused slot %d, want %d", c.Region()&slotMask, a.Region()&slotMask)
	}
	if s.Kind(a) != KindFree || s.Kind(b) != KindFree {
		t.Fatal("stale addresses resolve after reuse")
	}
}
