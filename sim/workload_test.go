package sim

import (
	"testing"

	"gengc/heap"
)

func smallWorkload(seed int64) Workload {
	wl := DefaultWorkload()
	wl.Seed = seed
	wl.Steps = 3000
	wl.CollectEvery = 200
	wl.MajorEvery = 4
	wl.MaxHandles = 300
	return wl
}

func TestRunPreservesGraph(t *testing.T) {
	for _, seed := range []int64{1, 2, 3} {
		w := newTestWorld(t)
		report, err := w.Run(smallWorkload(seed))
		if err != nil {
			t.Fatalf("seed %d: %v", seed, err)
		}
		if report.Steps != 3000 || report.Collections < 15 {
			t.Fatalf("seed %d: report %+v", seed, report)
		}
		if report.Majors < report.Collections/4 {
			t.Fatalf("seed %d: %d majors in %d collections", seed, report.Majors, report.Collections)
		}
		if report.LastLive == 0 {
			t.Fatalf("seed %d: nothing survived", seed)
		}
	}
}

func TestRunIsDeterministic(t *testing.T) {
	a, err := newTestWorld(t).Run(smallWorkload(7))
	if err != nil {
		t.Fatal(err)
	}
	b, err := newTestWorld(t).Run(smallWorkload(7))
	if err != nil {
		t.Fatal(err)
	}
	a.Elapsed, b.Elapsed = 0, 0
	if a != b {
		t.Fatalf("same seed diverged:\n%+v\n%+v", a, b)
	}
}

func TestRunMinorOnly(t *testing.T) {
	wl := smallWorkload(11)
	wl.MajorEvery = 0
	wl.ReleasePercent = 5 // mostly long-lived, so objects tenure

	w := newTestWorld(t)
	if _, err := w.Run(wl); err != nil {
		t.Fatal(err)
	}
	if w.Heap().Stats().ObjectsPromoted == 0 {
		t.Fatal("long-lived objects never promoted")
	}
}

func TestRunUnderPressure(t *testing.T) {
	cfg := testConfig()
	cfg.Limit = 256 << 10
	cfg.InitialGen2CapacityInBytes = 64 << 10
	cfg.LowMemoryPaddingInBytes = 16 << 10

	w, err := NewWorld(cfg, 4096)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Dispose()

	wl := smallWorkload(5)
	wl.CollectEvery = 1 << 30 // only pressure triggers collections
	wl.MaxPayload = 64
	wl.FixedPercent = 0 // only chunks grow the heap, so the soft limit is met there first
	report, err := w.Run(wl)
	if err != nil {
		t.Fatal(err)
	}
	if w.ForcedChunks() == 0 {
		t.Fatal("workload never outgrew the soft limit")
	}
	if report.Collections == 0 {
		t.Fatal("soft limit never forced a collection")
	}
}

func TestRunWithJournalRecorder(t *testing.T) {
	var seen []heap.CollectionRecord
	cfg := testConfig()
	cfg.Recorder = recorderFunc(func(r heap.CollectionRecord) { seen = append(seen, r) })

	w, err := NewWorld(cfg, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Dispose()

	report, err := w.Run(smallWorkload(3))
	if err != nil {
		t.Fatal(err)
	}
	if len(seen) != report.Collections {
		t.Fatalf("recorded %d of %d collections", len(seen), report.Collections)
	}
	for i, r := range seen {
		if r.Sequence != uint64(i+1) {
			t.Fatalf("record %d has sequence %d", i, r.Sequence)
		}
	}
}

func TestRunRejectsEmptyWorkload(t *testing.T) {
	if _, err := newTestWorld(t).Run(Workload{Steps: 10}); err == nil {
		t.Fatal("workload without handles accepted")
	}
}

type recorderFunc func(heap.CollectionRecord)

func (f recorderFunc) OnCollection(r heap.CollectionRecord) { f(r) }
