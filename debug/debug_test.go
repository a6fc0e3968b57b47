package debug

import (
	"errors"
	"testing"
)

func TestDropErrorDoesNotPanic(t *testing.T) {
	DropError("GC_TEST", nil)
	DropError("GC_TEST", errors.New("journal closed"))
}

func TestDropMessageDoesNotPanic(t *testing.T) {
	DropMessage("GC", "minor collection")
	DropMessage("", "")
}

func TestAssertPanicsWithInvariantError(t *testing.T) {
	if !Assertions {
		t.Skip("assertions compiled out")
	}
	defer func() {
		r := recover()
		err, ok := r.(error)
		var inv *InvariantError
		if !ok || !errors.As(err, &inv) || inv.What != "segment overflow" {
			t.Fatalf("recovered %v", r)
		}
	}()
	Assert(true, "never")
	Assert(false, "segment overflow")
}

func TestAbortAlwaysPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("Abort returned")
		}
	}()
	Abort("unreachable")
}
