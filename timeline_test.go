package pawchat

import (
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestTimeline_Dedup(t *testing.T) {
	tl := NewTimeline("1")
	tl.AppendOlder([]Message{msgAt("5", 2, 5), msgAt("4", 2, 4), msgAt("3", 2, 3)})
	tl.AppendOlder([]Message{msgAt("4", 2, 4), msgAt("3", 2, 3), msgAt("2", 2, 2)})
	tl.Prepend([]Message{msgAt("6", 2, 6), msgAt("5", 2, 5)})
	tl.Prepend([]Message{msgAt("6", 2, 6)})

	counts := make(map[string]int)
	for _, m := range tl.All() {
		counts[m.ID]++
	}
	for id, n := range counts {
		if n != 1 {
			t.Errorf("id %s appears %d times", id, n)
		}
	}
	if diff := cmp.Diff([]string{"6", "5", "4", "3", "2"}, ids(tl.All())); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestTimeline_OrderedByTime(t *testing.T) {
	tl := NewTimeline("1")
	// Interleave live and history arrivals out of time order.
	tl.Prepend([]Message{msgAt("10", 1, 10)})
	tl.AppendOlder([]Message{msgAt("8", 1, 8), msgAt("3", 1, 3)})
	tl.Prepend([]Message{msgAt("12", 1, 12), msgAt("9", 1, 9)})
	tl.AppendOlder([]Message{msgAt("7", 1, 7), msgAt("1", 1, 1)})

	got := tl.All()
	sorted := append([]Message(nil), got...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time.After(sorted[j].Time) })
	if diff := cmp.Diff(ids(sorted), ids(got)); diff != "" {
		t.Errorf("All() is not sorted by time descending (-sorted +got):\n%s", diff)
	}
}

func TestTimeline_TieBreak(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	mk := func(id string) Message { return Message{ID: id, Time: at} }

	tl := NewTimeline("1")
	tl.AppendOlder([]Message{mk("h1"), mk("h2")})
	tl.Prepend([]Message{mk("l1")})
	tl.Prepend([]Message{mk("l2")})

	want := []string{"l2", "l1", "h1", "h2"}
	if diff := cmp.Diff(want, ids(tl.All())); diff != "" {
		t.Errorf("same-instant order (-want +got):\n%s", diff)
	}
}

func TestTimeline_PrependBatchNewestFirst(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tl := NewTimeline("1")
	tl.Prepend([]Message{{ID: "b", Time: at}, {ID: "a", Time: at}})
	if diff := cmp.Diff([]string{"b", "a"}, ids(tl.All())); diff != "" {
		t.Errorf("batch order (-want +got):\n%s", diff)
	}
}

func TestTimeline_Replace(t *testing.T) {
	t.Run("keeps position", func(t *testing.T) {
		tl := NewTimeline("1")
		tl.AppendOlder([]Message{msgAt("2", 1, 2), msgAt("1", 1, 1)})
		tmp := msgAt("temp_x", 7, 3)
		tl.Prepend([]Message{tmp})

		echo := msgAt("3", 7, 3)
		if !tl.Replace("temp_x", echo) {
			t.Fatal("Replace returned false")
		}
		if diff := cmp.Diff([]string{"3", "2", "1"}, ids(tl.All())); diff != "" {
			t.Errorf("order (-want +got):\n%s", diff)
		}
		if tl.Has("temp_x") {
			t.Error("temp id still present")
		}
	})

	t.Run("missing id", func(t *testing.T) {
		tl := NewTimeline("1")
		if tl.Replace("nope", msgAt("1", 1, 1)) {
			t.Error("Replace of missing id returned true")
		}
		if tl.Len() != 0 {
			t.Errorf("Len = %d, want 0", tl.Len())
		}
	})

	t.Run("merges into existing id", func(t *testing.T) {
		tl := NewTimeline("1")
		tl.Prepend([]Message{msgAt("temp_x", 7, 3)})
		tl.Prepend([]Message{msgAt("3", 7, 3)})

		if !tl.Replace("temp_x", msgAt("3", 7, 3)) {
			t.Fatal("Replace returned false")
		}
		if diff := cmp.Diff([]string{"3"}, ids(tl.All())); diff != "" {
			t.Errorf("ids (-want +got):\n%s", diff)
		}
	})
}

func TestTimeline_Reset(t *testing.T) {
	tl := NewTimeline("1")
	tl.Prepend([]Message{msgAt("1", 1, 1)})
	tl.Reset("2")

	if tl.Len() != 0 {
		t.Errorf("Len = %d after Reset", tl.Len())
	}
	if tl.RoomID() != "2" {
		t.Errorf("RoomID = %q, want 2", tl.RoomID())
	}
	if _, ok := tl.Get("1"); ok {
		t.Error("Get found an entry after Reset")
	}
}

func TestTimeline_OldestTemp(t *testing.T) {
	tl := NewTimeline("1")
	tl.Prepend([]Message{{ID: "temp_a", Text: "hi", SenderID: 7, Time: time.Unix(10, 0)}})
	tl.Prepend([]Message{{ID: "temp_b", Text: "hi", SenderID: 7, Time: time.Unix(20, 0)}})
	tl.Prepend([]Message{{ID: "temp_c", Text: "hi", SenderID: 8, Time: time.Unix(5, 0)}})

	id, ok := tl.oldestTemp(7, "hi")
	if !ok || id != "temp_a" {
		t.Errorf("oldestTemp = %q, %v; want temp_a, true", id, ok)
	}
	if _, ok := tl.oldestTemp(7, "bye"); ok {
		t.Error("oldestTemp matched different text")
	}
}

func TestTimeline_Concurrent(t *testing.T) {
	tl := NewTimeline("1")
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				id := fmt.Sprint(i)
				if w%2 == 0 {
					tl.Prepend([]Message{msgAt(id, 1, i%60)})
				} else {
					tl.AppendOlder([]Message{msgAt(id, 1, i%60)})
				}
				_ = tl.All()
			}
		}(w)
	}
	wg.Wait()

	if tl.Len() != 50 {
		t.Errorf("Len = %d, want 50", tl.Len())
	}
}
