// ============================================================================
// RANDOM WORKLOAD
// ============================================================================
//
// Run drives a World with a seeded mix of mutator operations and verifies
// every collection: the graph digest taken just before a collection must
// equal the digest taken just after it, and every surviving weak reference
// must still point at a live object of the same shape.
//
// Operation mix per step:
//   - allocate a movable or pinned object and root it
//   - link two rooted objects through the write barrier
//   - release a handle
//   - take an identity hash
//   - create a weak reference

package sim

import (
	"fmt"
	"math/rand"
	"time"

	"gengc/heap"
	"gengc/memory"
)

// Workload configures Run. Percentages are per step and independent.
type Workload struct {
	Seed         int64  `json:"seed"`
	Steps        int    `json:"steps"`
	CollectEvery int    `json:"collect_every"` // Steps between minor collections
	MajorEvery   int    `json:"major_every"`   // Every n-th collection is major, 0 = never
	MaxFields    uint32 `json:"max_fields"`
	MaxPayload   uint32 `json:"max_payload"`
	MaxHandles   int    `json:"max_handles"`

	FixedPercent    int `json:"fixed_percent"`
	ImmortalPercent int `json:"immortal_percent"` // Of fixed allocations
	LinkPercent     int `json:"link_percent"`
	ReleasePercent  int `json:"release_percent"`
	HashPercent     int `json:"hash_percent"`
	WeakPercent     int `json:"weak_percent"`
}

// DefaultWorkload is a mixed workload of modest size.
func DefaultWorkload() Workload {
	return Workload{
		Seed:            1,
		Steps:           20000,
		CollectEvery:    500,
		MajorEvery:      8,
		MaxFields:       4,
		MaxPayload:      6,
		MaxHandles:      2000,
		FixedPercent:    2,
		ImmortalPercent: 10,
		LinkPercent:     60,
		ReleasePercent:  30,
		HashPercent:     5,
		WeakPercent:     3,
	}
}

// Report summarises one Run.
type Report struct {
	Steps       int           `json:"steps"`
	Allocated   uint64        `json:"allocated"`
	Collections int           `json:"collections"`
	Majors      int           `json:"majors"`
	LastLive    int           `json:"last_live"`
	WeakCleared uint64        `json:"weak_cleared"`
	Elapsed     time.Duration `json:"elapsed_ns"`
}

type weakShape struct {
	handle  WeakHandle
	fields  uint32
	payload int
}

type runner struct {
	w      *World
	wl     Workload
	rng    *rand.Rand
	live   []Handle
	weak   []weakShape
	report Report
}

// Run executes wl against w.
func (w *World) Run(wl Workload) (Report, error) {
	if wl.MaxHandles <= 0 || wl.CollectEvery <= 0 {
		return Report{}, fmt.Errorf("sim: workload needs positive max_handles and collect_every")
	}
	r := &runner{w: w, wl: wl, rng: rand.New(rand.NewSource(wl.Seed))}
	start := time.Now()

	for step := 1; step <= wl.Steps; step++ {
		r.step()
		if step%wl.CollectEvery == 0 || w.NeedsCollection() {
			if err := r.collect(); err != nil {
				return r.report, fmt.Errorf("step %d: %w", step, err)
			}
		}
		r.report.Steps = step
	}

	r.report.Allocated = w.Allocated()
	r.report.WeakCleared = w.WeakCleared()
	r.report.Elapsed = time.Since(start)
	return r.report, nil
}

func (r *runner) chance(percent int) bool {
	return percent > 0 && r.rng.Intn(100) < percent
}

func (r *runner) pick() memory.Address {
	return r.w.Deref(r.live[r.rng.Intn(len(r.live))])
}

func (r *runner) step() {
	w, wl := r.w, r.wl

	if len(r.live) < wl.MaxHandles {
		fields := uint32(r.rng.Intn(int(wl.MaxFields) + 1))
		payload := uint32(r.rng.Intn(int(wl.MaxPayload) + 1))

		var o memory.Address
		if r.chance(wl.FixedPercent) {
			o = w.AllocFixed(fields, payload, r.chance(wl.ImmortalPercent))
		} else {
			o = w.Alloc(fields, payload)
		}
		seed := r.rng.Uint64()
		words := w.Payload(o)
		for i := range words {
			words[i] = seed + uint64(i)
		}
		r.live = append(r.live, w.Root(o))
	}

	if len(r.live) >= 2 && r.chance(wl.LinkPercent) {
		src, dst := r.pick(), r.pick()
		if n := w.Fields(src); n > 0 {
			w.SetField(src, 1+uint32(r.rng.Intn(int(n))), dst)
		}
	}

	if len(r.live) > 0 && r.chance(wl.ReleasePercent) {
		i := r.rng.Intn(len(r.live))
		w.Release(r.live[i])
		r.live[i] = r.live[len(r.live)-1]
		r.live = r.live[:len(r.live)-1]
	}

	if len(r.live) > 0 && r.chance(wl.HashPercent) {
		w.IdentityHash(r.pick())
	}

	if len(r.live) > 0 && r.chance(wl.WeakPercent) {
		if o := r.pick(); !w.IsFixed(o) {
			r.weak = append(r.weak, weakShape{w.Weak(o), w.Fields(o), len(w.Payload(o))})
		}
	}
}

func (r *runner) collect() error {
	w := r.w
	t := heap.MinorCollection
	if r.wl.MajorEvery > 0 && (r.report.Collections+1)%r.wl.MajorEvery == 0 {
		t = heap.MajorCollection
	}

	before, _ := w.Digest()
	w.Collect(t)
	after, live := w.Digest()

	r.report.Collections++
	if w.Heap().CollectionType() == heap.MajorCollection {
		r.report.Majors++
	}
	r.report.LastLive = live

	if before != after {
		return fmt.Errorf("graph digest changed across collection %d", r.report.Collections)
	}
	for _, ws := range r.weak {
		o := w.DerefWeak(ws.handle)
		if o == memory.Null {
			continue
		}
		if w.Fields(o) != ws.fields || len(w.Payload(o)) != ws.payload {
			return fmt.Errorf("weak reference %d resolved to a different object", ws.handle)
		}
	}
	return nil
}
