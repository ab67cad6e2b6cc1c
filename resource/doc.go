// Package resource provides monotonic handle tables.
//
// A Table maps integer handles to Go values. Handles start at 1, grow
// strictly, and are never reused within one table, even after the entry
// they named has been removed. Handle 0 is always invalid. These
// properties let callers treat a handle as a stable identity: a stale
// handle can only miss, never alias a newer entry.
//
//	workers := resource.NewTable[*entry]()
//
//	id := workers.Insert(e)          // 1, 2, 3, ...
//	e, ok := workers.Get(id)
//	e, ok = workers.Remove(id)       // first remover wins
//
// # Observers
//
// Observers are notified synchronously on insert and remove:
//
//	workers.Subscribe(resource.ObserverFunc(func(ev resource.Event) {
//	    if ev.Type == resource.EventDropped {
//	        log.Printf("entry %d removed", ev.Handle)
//	    }
//	}))
//
// Close drops every remaining entry, calling Drop on values that
// implement Dropper and notifying observers, returns the dropped values,
// and makes further inserts return 0.
package resource
