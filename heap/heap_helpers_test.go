package heap

import (
	"errors"
	"testing"

	"golang.org/x/crypto/sha3"

	"gengc/constants"
	"gengc/debug"
	"gengc/memory"
)

// ============================================================================
// TEST OBJECT MODEL
// ============================================================================
//
// Object layout (words):
//
//	[0]           header: field count (low 32) | payload words (high 32)
//	[1..fields]   pointer slots
//	[...]         payload
//
// Every fresh object is its own raw block, so a collection's incoming
// footprint is simply the sum of live raw block sizes.

type rawBlock struct {
	base  memory.Address
	bytes uint32
}

type testClient struct {
	t     *testing.T
	h     *Heap
	space *memory.Space

	roots []memory.Address
	raw   []rawBlock

	copies map[memory.Address]int // Keyed by source
	walks  map[memory.Address]int

	afterRoots func() // Runs at the end of VisitRoots, inside the collection
}

func testConfig() Config {
	cfg := DefaultConfig(16 << 20)
	cfg.InitialGen2CapacityInBytes = 64 << 10
	cfg.InitialTenuredFixieCeilingInBytes = 64 << 10
	cfg.LowMemoryPaddingInBytes = 64 << 10
	cfg.LikelyPageSizeInBytes = 4096
	cfg.HeapMapPages = 4
	return cfg
}

func newTestHeap(t *testing.T, cfg Config) (*Heap, *testClient) {
	t.Helper()
	h, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tc := &testClient{
		t:      t,
		h:      h,
		space:  h.Space(),
		copies: make(map[memory.Address]int),
		walks:  make(map[memory.Address]int),
	}
	h.SetClient(tc)
	return h, tc
}

func header(fields, payload uint32) uint64 {
	return uint64(fields) | uint64(payload)<<32
}

func (tc *testClient) shape(o memory.Address) (fields, payload uint32) {
	w := tc.space.LoadWord(o)
	return uint32(w), uint32(w >> 32)
}

// ── heap.Client ─────────────────────────────────────────────────────────────

func (tc *testClient) CopiedSizeInWords(o memory.Address) uint32 {
	fields, payload := tc.shape(o)
	return 1 + fields + payload
}

func (tc *testClient) Copy(src, dst memory.Address) {
	size := tc.CopiedSizeInWords(src)
	copy(tc.space.Words(dst)[:size], tc.space.Words(src)[:size])
	tc.copies[src]++
}

func (tc *testClient) IsFixed(p memory.Address) bool {
	return tc.space.Kind(p) == memory.KindFixie
}

func (tc *testClient) Walk(o memory.Address, visit WalkFunc) {
	tc.walks[o]++
	fields, _ := tc.shape(o)
	for i := uint32(1); i <= fields; i++ {
		if !visit(i) {
			return
		}
	}
}

func (tc *testClient) VisitRoots(visit VisitFunc) {
	for i := range tc.roots {
		visit(&tc.roots[i])
	}
	if tc.afterRoots != nil {
		tc.afterRoots()
	}
}

// ── mutator helpers ─────────────────────────────────────────────────────────

// object allocates a raw object with payload filled from seed.
func (tc *testClient) object(fields, payload uint32, seed uint64) memory.Address {
	tc.t.Helper()
	size := 1 + fields + payload
	bytes := size * constants.BytesPerWord
	o := tc.h.TryAllocate(bytes)
	if o == memory.Null {
		tc.t.Fatalf("TryAllocate(%d) failed", bytes)
	}
	tc.raw = append(tc.raw, rawBlock{o, bytes})
	tc.space.StoreWord(o, header(fields, payload))
	for i := uint32(0); i < payload; i++ {
		tc.space.StoreWord(o.Add(1+fields+i), seed*1000+uint64(i))
	}
	return o
}

// fixed allocates a pinned object with a pointer mask.
func (tc *testClient) fixed(fields, payload uint32, immortal bool) memory.Address {
	tc.t.Helper()
	var body memory.Address
	if immortal {
		body, _ = tc.h.AllocateImmortalFixed(nil, 1+fields+payload, true)
	} else {
		body, _ = tc.h.AllocateFixed(nil, 1+fields+payload, true)
	}
	tc.space.StoreWord(body, header(fields, payload))
	return body
}

func (tc *testClient) root(o memory.Address) int {
	tc.roots = append(tc.roots, o)
	return len(tc.roots) - 1
}

func (tc *testClient) field(o memory.Address, i uint32) memory.Address {
	return tc.space.Load(o.Add(i))
}

// set stores v into field i of o and runs the write barrier.
func (tc *testClient) set(o memory.Address, i uint32, v memory.Address) {
	tc.space.Store(o.Add(i), v)
	tc.h.Mark(o, i, 1)
}

func (tc *testClient) incoming() uint32 {
	var words uint32
	for _, b := range tc.raw {
		words += b.bytes / constants.BytesPerWord
	}
	return words
}

// collect runs one collection and frees every raw block afterwards.
func (tc *testClient) collect(t CollectionType) {
	clear(tc.copies)
	clear(tc.walks)
	tc.h.Collect(t, tc.incoming())
	for _, b := range tc.raw {
		tc.h.Free(b.base, b.bytes)
	}
	tc.raw = tc.raw[:0]
}

// payloadDigest fingerprints o's payload words.
func (tc *testClient) payloadDigest(o memory.Address) [32]byte {
	fields, payload := tc.shape(o)
	h := sha3.New256()
	var buf [8]byte
	for _, w := range tc.space.Words(o.Add(1 + fields))[:payload] {
		for i := range buf {
			buf[i] = byte(w >> (8 * i))
		}
		h.Write(buf[:])
	}
	var out [32]byte
	h.Sum(out[:0])
	return out
}

func (tc *testClient) dispose() {
	for _, b := range tc.raw {
		tc.h.Free(b.base, b.bytes)
	}
	tc.raw = nil
	tc.h.Dispose()
}

// ── assertions ──────────────────────────────────────────────────────────────

func expectInvariant(t *testing.T, fn func()) {
	t.Helper()
	if !debug.Assertions {
		t.Skip("assertions compiled out")
	}
	defer func() {
		r := recover()
		err, ok := r.(error)
		var inv *debug.InvariantError
		if !ok || !errors.As(err, &inv) {
			t.Fatalf("expected *debug.InvariantError panic, got %v", r)
		}
	}()
	fn()
}

// fixieState returns the arena record of a fixie body.
func fixieState(h *Heap, body memory.Address) *fixie {
	return h.c.fixies.get(h.c.fixieOf(body))
}
