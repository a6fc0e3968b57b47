// assert_on.go - invariant checks compiled in (default build)

//go:build !gcnoassert

package debug

// Assertions reports whether Assert checks are compiled in.
const Assertions = true
