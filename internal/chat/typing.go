package chat

import (
	"sort"
	"sync"
	"time"
)

type typingEntry struct {
	deadline time.Time
	timer    Timer
	seq      uint64
}

// TypingTracker holds the set of users currently typing in one room.
// Each username has at most one entry and one live expiry timer.
type TypingTracker struct {
	ttl      time.Duration
	clock    Clock
	onChange func(usernames []string)

	// notifyMu serializes transitions with their onChange calls, so
	// observers see sets in transition order.
	notifyMu sync.Mutex

	mu      sync.Mutex
	entries map[string]*typingEntry
	seq     uint64
	closed  bool
}

// NewTypingTracker creates a tracker expiring entries ttl after their last
// refresh. onChange, if set, receives the sorted set after every change and
// must not call back into the tracker.
func NewTypingTracker(ttl time.Duration, clock Clock, onChange func(usernames []string)) *TypingTracker {
	if clock == nil {
		clock = SystemClock
	}
	return &TypingTracker{
		ttl:      ttl,
		clock:    clock,
		onChange: onChange,
		entries:  make(map[string]*typingEntry),
	}
}

// Apply records a typing event. A start creates or refreshes the user's
// entry; a stop removes it immediately.
func (t *TypingTracker) Apply(ev TypingEvent) {
	if ev.Username == "" {
		return
	}

	t.notifyMu.Lock()
	defer t.notifyMu.Unlock()

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	var changed bool
	if ev.IsTyping {
		changed = t.refreshLocked(ev.Username)
	} else {
		changed = t.removeLocked(ev.Username)
	}
	snapshot := t.snapshotLocked()
	t.mu.Unlock()

	if changed {
		t.notify(snapshot)
	}
}

func (t *TypingTracker) refreshLocked(username string) bool {
	t.seq++
	seq := t.seq

	e, ok := t.entries[username]
	if ok {
		e.timer.Stop()
	} else {
		e = &typingEntry{}
		t.entries[username] = e
	}
	e.seq = seq
	e.deadline = t.clock.Now().Add(t.ttl)
	e.timer = t.clock.AfterFunc(t.ttl, func() { t.expire(username, seq) })
	return !ok
}

func (t *TypingTracker) removeLocked(username string) bool {
	e, ok := t.entries[username]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(t.entries, username)
	return true
}

// expire removes username if seq still identifies its current entry.
// A timer that lost the race against a refresh or a stop does nothing.
func (t *TypingTracker) expire(username string, seq uint64) {
	t.notifyMu.Lock()
	defer t.notifyMu.Unlock()

	t.mu.Lock()
	e, ok := t.entries[username]
	if t.closed || !ok || e.seq != seq {
		t.mu.Unlock()
		return
	}
	delete(t.entries, username)
	snapshot := t.snapshotLocked()
	t.mu.Unlock()

	t.notify(snapshot)
}

// Usernames returns the users currently typing, sorted.
func (t *TypingTracker) Usernames() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// Deadline returns when username's entry expires.
func (t *TypingTracker) Deadline(username string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[username]
	if !ok {
		return time.Time{}, false
	}
	return e.deadline, true
}

// Reset cancels every timer and empties the set. The tracker stays usable.
func (t *TypingTracker) Reset() {
	t.notifyMu.Lock()
	defer t.notifyMu.Unlock()

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	changed := t.clearLocked()
	t.mu.Unlock()

	if changed {
		t.notify([]string{})
	}
}

// Close cancels every timer and ignores all later events. No onChange call
// happens after Close returns.
func (t *TypingTracker) Close() {
	t.notifyMu.Lock()
	defer t.notifyMu.Unlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.clearLocked()
}

func (t *TypingTracker) clearLocked() bool {
	n := len(t.entries)
	for username, e := range t.entries {
		e.timer.Stop()
		delete(t.entries, username)
	}
	return n > 0
}

func (t *TypingTracker) snapshotLocked() []string {
	out := make([]string, 0, len(t.entries))
	for username := range t.entries {
		out = append(out, username)
	}
	sort.Strings(out)
	return out
}

func (t *TypingTracker) notify(usernames []string) {
	if t.onChange != nil {
		t.onChange(usernames)
	}
}
