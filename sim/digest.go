package sim

import (
	"encoding/binary"

	"golang.org/x/crypto/sha3"

	"gengc/memory"
)

// Digest fingerprints the strongly reachable graph independently of where
// objects live. Objects are numbered in breadth-first discovery order from
// the handles; each contributes its shape, its field targets by number, its
// payload, whether it is pinned, and its identity hash once taken. Two
// digests match iff the graphs are isomorphic with identical contents.
func (w *World) Digest() (sum [32]byte, live int) {
	ids := make(map[memory.Address]uint64)
	var order []memory.Address

	number := func(p memory.Address) uint64 {
		if p == memory.Null {
			return 0
		}
		if id, ok := ids[p]; ok {
			return id
		}
		order = append(order, p)
		ids[p] = uint64(len(order))
		return uint64(len(order))
	}

	d := sha3.New256()
	var buf [8]byte
	put := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[:], v)
		d.Write(buf[:])
	}

	for _, r := range w.roots {
		put(number(r))
	}
	for i := 0; i < len(order); i++ {
		o := order[i]
		fields := w.Fields(o)
		payload := w.Payload(o)

		put(uint64(fields))
		put(uint64(len(payload)))
		for f := uint32(1); f <= fields; f++ {
			put(number(w.space.Load(o.Add(f))))
		}
		for _, v := range payload {
			put(v)
		}
		if w.IsFixed(o) {
			put(1)
		} else {
			put(0)
		}
		if hash, ok := w.peekHash(o); ok {
			put(hash)
		}
	}

	d.Sum(sum[:0])
	return sum, len(order)
}
