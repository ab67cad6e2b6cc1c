package resource

import (
	"sync"
	"testing"
)

type testObserver struct {
	events []Event
}

func (o *testObserver) OnResourceEvent(e Event) {
	o.events = append(o.events, e)
}

func TestTable_Basic(t *testing.T) {
	table := NewTable[string]()

	h := table.Insert("test")
	if h == 0 {
		t.Fatal("Expected non-zero handle")
	}

	val, ok := table.Get(h)
	if !ok {
		t.Fatal("Get failed")
	}
	if val != "test" {
		t.Fatalf("Expected 'test', got %v", val)
	}

	val, ok = table.Remove(h)
	if !ok {
		t.Fatal("Remove failed")
	}
	if val != "test" {
		t.Fatalf("Expected 'test', got %v", val)
	}

	if _, ok := table.Remove(h); ok {
		t.Fatal("second Remove should miss")
	}
	if table.Len() != 0 {
		t.Fatal("Expected Len() == 0 after Remove")
	}
}

func TestTable_HandlesNeverReused(t *testing.T) {
	table := NewTable[int]()

	var last Handle
	for i := 0; i < 50; i++ {
		h := table.Insert(i)
		if h <= last {
			t.Fatalf("handle %d not greater than previous %d", h, last)
		}
		last = h
		if i%2 == 0 {
			table.Remove(h)
		}
	}

	if h := table.Insert(-1); h != last+1 {
		t.Fatalf("handle after removals = %d, want %d", h, last+1)
	}
}

func TestTable_ZeroHandleInvalid(t *testing.T) {
	table := NewTable[string]()
	table.Insert("a")

	if _, ok := table.Get(0); ok {
		t.Fatal("handle 0 must never resolve")
	}
	if _, ok := table.Remove(0); ok {
		t.Fatal("handle 0 must never remove")
	}
}

func TestTable_Observer(t *testing.T) {
	table := NewTable[string]()
	obs := &testObserver{}
	table.Subscribe(obs)

	h := table.Insert("test")
	if len(obs.events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(obs.events))
	}
	if obs.events[0].Type != EventCreated || obs.events[0].Handle != h {
		t.Fatalf("unexpected event %+v", obs.events[0])
	}

	table.Remove(h)
	if len(obs.events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(obs.events))
	}
	if obs.events[1].Type != EventDropped {
		t.Fatal("Expected EventDropped")
	}

	// a miss must not notify
	table.Remove(h)
	if len(obs.events) != 2 {
		t.Fatalf("Expected no event for a missed Remove, got %d", len(obs.events))
	}

	table.Unsubscribe(obs)
	table.Insert("test2")
	if len(obs.events) != 2 {
		t.Fatal("Should not receive events after Unsubscribe")
	}
}

func TestTable_ObserverFunc(t *testing.T) {
	table := NewTable[string]()
	var created, dropped int
	table.Subscribe(ObserverFunc(func(e Event) {
		switch e.Type {
		case EventCreated:
			created++
		case EventDropped:
			dropped++
		}
	}))

	h := table.Insert("a")
	table.Insert("b")
	table.Remove(h)

	if created != 2 || dropped != 1 {
		t.Fatalf("created=%d dropped=%d, want 2/1", created, dropped)
	}
}

type dropCounter struct {
	count int
}

func (d *dropCounter) Drop() {
	d.count++
}

func TestTable_Close(t *testing.T) {
	table := NewTable[*dropCounter]()
	obs := &testObserver{}
	table.Subscribe(obs)

	a, b := &dropCounter{}, &dropCounter{}
	ha := table.Insert(a)
	hb := table.Insert(b)
	table.Remove(ha)
	hc := table.Insert(&dropCounter{})

	dropped := table.Close()
	if len(dropped) != 2 || dropped[0] != b {
		t.Fatalf("Close returned %v, want [b c]", dropped)
	}
	if a.count != 0 || b.count != 1 || dropped[1].count != 1 {
		t.Fatalf("drop counts a=%d b=%d c=%d, want 0/1/1", a.count, b.count, dropped[1].count)
	}

	// created a, b, dropped a, created c, then one drop per closed entry
	if len(obs.events) != 6 {
		t.Fatalf("got %d events, want 6", len(obs.events))
	}
	for i, want := range []Handle{hb, hc} {
		e := obs.events[4+i]
		if e.Type != EventDropped || e.Handle != want {
			t.Fatalf("event %d = %+v, want dropped %d", 4+i, e, want)
		}
	}

	if h := table.Insert(&dropCounter{}); h != 0 {
		t.Fatal("Expected Insert to fail after Close")
	}
	if again := table.Close(); len(again) != 0 {
		t.Fatalf("second Close returned %d values", len(again))
	}
	if len(obs.events) != 6 {
		t.Fatal("failed Insert or second Close must not notify")
	}
}

func TestTable_ConcurrentRemoveSingleWinner(t *testing.T) {
	table := NewTable[string]()
	h := table.Insert("x")

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := table.Remove(h); ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("wins = %d, want 1", wins)
	}
}
