// assert_off.go - invariant checks compiled out with -tags gcnoassert
//
// Release builds of an embedding runtime drop every Assert call site: the
// condition is still evaluated by the caller but the branch folds away.

//go:build gcnoassert

package debug

// Assertions reports whether Assert checks are compiled in.
const Assertions = false
