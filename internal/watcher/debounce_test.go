package watcher

import (
	"testing"
	"time"
)

func TestDebouncerCoalescesEvents(t *testing.T) {
	debouncer := newDebouncer(25 * time.Millisecond)
	defer debouncer.stop()

	received := make(chan string, 2)
	flush := func(path string) {
		received <- path
	}

	coalesced := debouncer.schedule("path", ChangeEvent{Paths: []string{"path"}, Kind: KindCreated}, flush)
	if coalesced {
		t.Fatalf("expected first event not to be coalesced")
	}
	coalesced = debouncer.schedule("path", ChangeEvent{Paths: []string{"path"}, Kind: KindModified}, flush)
	if !coalesced {
		t.Fatalf("expected second event to be coalesced")
	}

	count := 0
	deadline := time.After(200 * time.Millisecond)
	for {
		select {
		case path := <-received:
			count++
			change, ok := debouncer.pop(path)
			if !ok {
				t.Fatal("expected pending change on flush")
			}
			if change.Kind != KindCreated {
				t.Fatalf("expected merged kind created, got %s", change.Kind)
			}
		case <-deadline:
			if count != 1 {
				t.Fatalf("expected 1 flush, got %d", count)
			}
			return
		}
	}
}

func TestDebouncerKeepsPathsApart(t *testing.T) {
	debouncer := newDebouncer(time.Hour)
	defer debouncer.stop()
	flush := func(string) {}

	if debouncer.schedule("a", ChangeEvent{Paths: []string{"a"}}, flush) {
		t.Fatal("expected a to start a new window")
	}
	if debouncer.schedule("b", ChangeEvent{Paths: []string{"b"}}, flush) {
		t.Fatal("expected b to start a new window")
	}
	if _, ok := debouncer.pop("a"); !ok {
		t.Fatal("expected pending change for a")
	}
	if _, ok := debouncer.pop("a"); ok {
		t.Fatal("expected pop to clear a")
	}
}

func TestDebouncerStopDropsPending(t *testing.T) {
	debouncer := newDebouncer(10 * time.Millisecond)
	received := make(chan string, 1)
	debouncer.schedule("path", ChangeEvent{Paths: []string{"path"}}, func(path string) {
		received <- path
	})
	debouncer.stop()

	select {
	case <-received:
		t.Fatal("expected no flush after stop")
	case <-time.After(50 * time.Millisecond):
	}
	if debouncer.schedule("path", ChangeEvent{}, func(string) {}) {
		t.Fatal("expected stopped debouncer to ignore schedule")
	}
}

func TestMergeKind(t *testing.T) {
	cases := []struct {
		earlier, later, want Kind
	}{
		{KindCreated, KindModified, KindCreated},
		{KindCreated, KindRemoved, KindRemoved},
		{KindModified, KindOther, KindModified},
		{KindModified, KindModified, KindModified},
		{KindRemoved, KindCreated, KindCreated},
		{KindOther, KindModified, KindModified},
	}
	for _, tc := range cases {
		if got := mergeKind(tc.earlier, tc.later); got != tc.want {
			t.Fatalf("mergeKind(%s, %s) = %s, want %s", tc.earlier, tc.later, got, tc.want)
		}
	}
}
