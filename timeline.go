package pawchat

import (
	"sort"
	"sync"
)

// Timeline is the ordered, de-duplicated message log of one room. History
// pages, live pushes and optimistic sends all go through it.
//
// Entries are ordered by Time descending. Ties are broken by rank: prepends
// take increasing positive ranks, older pages decreasing negative ranks, and
// an entry replaced in place keeps its rank. A live arrival therefore sits
// above a history entry stamped with the same instant.
type Timeline struct {
	mu      sync.RWMutex
	roomID  string
	entries []timelineEntry
	index   map[string]int
	hi, lo  int64
}

type timelineEntry struct {
	msg  Message
	rank int64
}

// NewTimeline returns an empty timeline for roomID.
func NewTimeline(roomID string) *Timeline {
	return &Timeline{
		roomID: roomID,
		index:  make(map[string]int),
	}
}

// RoomID returns the room the timeline currently holds.
func (t *Timeline) RoomID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.roomID
}

// Prepend inserts live arrivals and optimistic sends at the newest end.
// msgs is newest first. A message whose id is already present replaces the
// existing entry in place.
func (t *Timeline) Prepend(msgs []Message) {
	if len(msgs) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if idx, ok := t.index[m.ID]; ok {
			t.entries[idx].msg = m
			continue
		}
		t.hi++
		t.insertLocked(timelineEntry{msg: m, rank: t.hi})
	}
	t.sortLocked()
}

// AppendOlder inserts a history page at the oldest end. msgs is newest
// first. A message whose id is already present replaces the existing entry
// in place.
func (t *Timeline) AppendOlder(msgs []Message) {
	if len(msgs) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, m := range msgs {
		if idx, ok := t.index[m.ID]; ok {
			t.entries[idx].msg = m
			continue
		}
		t.lo--
		t.insertLocked(timelineEntry{msg: m, rank: t.lo})
	}
	t.sortLocked()
}

// Replace swaps the entry oldID for msg, keeping its rank. When msg.ID is
// already present elsewhere, that entry takes msg and oldID is dropped, so
// ids stay unique. It reports whether oldID was found.
func (t *Timeline) Replace(oldID string, msg Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	old, ok := t.index[oldID]
	if !ok {
		return false
	}
	if dup, ok := t.index[msg.ID]; ok && dup != old {
		t.entries[dup].msg = msg
		t.entries = append(t.entries[:old], t.entries[old+1:]...)
	} else {
		t.entries[old].msg = msg
	}
	t.sortLocked()
	return true
}

// All returns a copy of the timeline, newest first.
func (t *Timeline) All() []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Message, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.msg
	}
	return out
}

// Len returns the number of entries.
func (t *Timeline) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Has reports whether an entry with id exists.
func (t *Timeline) Has(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.index[id]
	return ok
}

// Get returns the entry with id.
func (t *Timeline) Get(id string) (Message, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	idx, ok := t.index[id]
	if !ok {
		return Message{}, false
	}
	return t.entries[idx].msg, true
}

// IDs returns the set of ids currently present.
func (t *Timeline) IDs() map[string]struct{} {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make(map[string]struct{}, len(t.index))
	for id := range t.index {
		ids[id] = struct{}{}
	}
	return ids
}

// Reset empties the timeline, for example when the room changes.
func (t *Timeline) Reset(roomID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.roomID = roomID
	t.entries = nil
	t.index = make(map[string]int)
	t.hi, t.lo = 0, 0
}

// oldestTemp returns the oldest optimistic entry from senderID with text.
func (t *Timeline) oldestTemp(senderID int64, text string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for i := len(t.entries) - 1; i >= 0; i-- {
		m := t.entries[i].msg
		if m.IsTemp() && m.SenderID == senderID && m.Text == text {
			return m.ID, true
		}
	}
	return "", false
}

func (t *Timeline) insertLocked(e timelineEntry) {
	t.entries = append(t.entries, e)
	t.index[e.msg.ID] = len(t.entries) - 1
}

func (t *Timeline) sortLocked() {
	sort.SliceStable(t.entries, func(i, j int) bool {
		a, b := t.entries[i], t.entries[j]
		if !a.msg.Time.Equal(b.msg.Time) {
			return a.msg.Time.After(b.msg.Time)
		}
		return a.rank > b.rank
	})
	clear(t.index)
	for i, e := range t.entries {
		t.index[e.msg.ID] = i
	}
}
