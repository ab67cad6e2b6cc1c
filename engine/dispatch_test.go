package engine

import (
	stderrors "errors"
	"testing"

	"github.com/wippyai/isolate-runtime/errors"
)

func TestDispatchSlot_SyncCycle(t *testing.T) {
	var slot DispatchSlot
	if slot.State() != SlotIdle {
		t.Fatalf("initial state = %s, want idle", slot.State())
	}

	c := &Call{OpID: 1}
	slot.Begin(c)
	if slot.State() != SlotPendingSync || slot.Pending() != c {
		t.Fatalf("state after Begin = %s", slot.State())
	}

	if !slot.Complete([]byte("ok")) {
		t.Fatal("Complete should accept the pending call")
	}
	if slot.State() != SlotIdle {
		t.Fatalf("state after Complete = %s, want idle", slot.State())
	}
	if !c.Responded() || string(c.Response()) != "ok" {
		t.Fatalf("call = %+v", c)
	}
}

func TestDispatchSlot_CompleteWhenIdle(t *testing.T) {
	var slot DispatchSlot
	if slot.Complete([]byte("late")) {
		t.Fatal("Complete on idle slot must report false")
	}
}

func TestDispatchSlot_ClearOnlyOwner(t *testing.T) {
	var slot DispatchSlot
	c := &Call{OpID: 1}
	slot.Begin(c)

	slot.Clear(&Call{OpID: 1})
	if slot.State() != SlotPendingSync {
		t.Fatal("Clear with a foreign call must not release the slot")
	}

	slot.Clear(c)
	if slot.State() != SlotIdle {
		t.Fatal("Clear with the owning call must release the slot")
	}
}

func TestDispatchSlot_BeginWhilePendingPanics(t *testing.T) {
	var slot DispatchSlot
	slot.Begin(&Call{OpID: 1})

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected panic")
		}
		err, ok := r.(error)
		if !ok {
			t.Fatalf("panic value %T is not an error", r)
		}
		want := &errors.Error{Phase: errors.PhaseDispatch, Kind: errors.KindProtocolViolation}
		if !stderrors.Is(err, want) {
			t.Fatalf("panic = %v, want protocol violation", err)
		}
	}()
	slot.Begin(&Call{OpID: 2})
}
