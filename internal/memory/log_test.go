package memory

import (
	"sync"
	"testing"

	"lumos/internal/domain"
)

func TestLog_AppendAssignsIncreasingIDs(t *testing.T) {
	l := NewLog()
	a := l.Append(domain.AuthorUser, "hi")
	b := l.Append(domain.AuthorAssistant, "hello")
	if a.ID != 1 || b.ID != 2 {
		t.Fatalf("expected ids 1,2, got %d,%d", a.ID, b.ID)
	}
	if l.Len() != 2 {
		t.Fatalf("expected 2 messages, got %d", l.Len())
	}
}

func TestLog_AllReturnsInsertionOrder(t *testing.T) {
	l := NewLog()
	l.Append(domain.AuthorUser, "one")
	l.Append(domain.AuthorAssistant, "two")
	l.Append(domain.AuthorUser, "three")

	all := l.All()
	want := []string{"one", "two", "three"}
	for i, m := range all {
		if m.Text != want[i] {
			t.Fatalf("position %d: expected %q, got %q", i, want[i], m.Text)
		}
	}
}

func TestLog_AllIsACopy(t *testing.T) {
	l := NewLog()
	l.Append(domain.AuthorUser, "original")
	all := l.All()
	all[0].Text = "mutated"
	if m, _ := l.Get(1); m.Text != "original" {
		t.Fatalf("log entry changed through returned slice: %q", m.Text)
	}
}

func TestLog_LastAndGet(t *testing.T) {
	l := NewLog()
	if _, ok := l.Last(); ok {
		t.Fatal("empty log should have no last message")
	}
	l.Append(domain.AuthorUser, "a")
	l.Append(domain.AuthorAssistant, "b")

	last, ok := l.Last()
	if !ok || last.Text != "b" {
		t.Fatalf("expected last 'b', got %+v", last)
	}
	if _, ok := l.Get(0); ok {
		t.Fatal("id 0 should not exist")
	}
	if _, ok := l.Get(3); ok {
		t.Fatal("id 3 should not exist")
	}
	if m, ok := l.Get(1); !ok || m.Text != "a" {
		t.Fatalf("expected 'a' for id 1, got %+v", m)
	}
}

func TestLog_OnAppendNotifies(t *testing.T) {
	l := NewLog()
	var got []uint64
	l.OnAppend(func(m domain.Message) {
		got = append(got, m.ID)
	})
	l.Append(domain.AuthorUser, "x")
	l.Append(domain.AuthorAssistant, "y")
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("expected notifications [1 2], got %v", got)
	}
}

func TestLog_ConcurrentAppendsKeepUniqueIDs(t *testing.T) {
	l := NewLog()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Append(domain.AuthorUser, "m")
		}()
	}
	wg.Wait()

	seen := make(map[uint64]bool)
	for i, m := range l.All() {
		if seen[m.ID] {
			t.Fatalf("duplicate id %d", m.ID)
		}
		seen[m.ID] = true
		if m.ID != uint64(i+1) {
			t.Fatalf("id %d at position %d breaks ordering", m.ID, i)
		}
	}
}

func TestLog_WatchersSeeLogOrder(t *testing.T) {
	l := NewLog()
	var mu sync.Mutex
	var order []uint64
	l.OnAppend(func(m domain.Message) {
		mu.Lock()
		order = append(order, m.ID)
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Append(domain.AuthorAssistant, "r")
		}()
	}
	wg.Wait()

	for i, id := range order {
		if id != uint64(i+1) {
			t.Fatalf("watcher saw id %d at position %d", id, i)
		}
	}
}
