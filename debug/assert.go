package debug

// InvariantError is the panic value raised when a collector invariant is
// violated. Heap corruption cannot be reasoned about once detected, so there
// is no recovery path inside the collector.
type InvariantError struct {
	What string
}

func (e *InvariantError) Error() string {
	return "gengc: invariant violated: " + e.What
}

// Abort logs and raises an invariant violation.
func Abort(what string) {
	DropMessage("GC_ABORT", what)
	panic(&InvariantError{What: what})
}

// Assert aborts with what when cond is false and assertions are compiled in.
//
//go:inline
func Assert(cond bool, what string) {
	if Assertions && !cond {
		Abort(what)
	}
}
