package tracker

import (
	"sort"
	"time"
)

// DefaultGrace is how long a disconnected participant keeps their seat.
const DefaultGrace = 5 * time.Minute

type Entry struct {
	Username       string
	Code           string
	DisconnectedAt time.Time
}

type key struct {
	code     string
	username string
}

// Tracker remembers participants who dropped out of an active round.
// It is owned by the hub goroutine and does no locking.
type Tracker struct {
	grace   time.Duration
	entries map[key]Entry
}

func New(grace time.Duration) *Tracker {
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &Tracker{grace: grace, entries: make(map[key]Entry)}
}

// Track records a disconnect. A second disconnect restarts the window.
func (t *Tracker) Track(code, username string, at time.Time) {
	t.entries[key{code, username}] = Entry{Username: username, Code: code, DisconnectedAt: at}
}

// Cancel forgets a pending entry and reports whether one existed.
func (t *Tracker) Cancel(code, username string) bool {
	k := key{code, username}
	_, ok := t.entries[k]
	delete(t.entries, k)
	return ok
}

// ForgetLobby drops every entry for code, used when the session is destroyed.
func (t *Tracker) ForgetLobby(code string) {
	for k := range t.entries {
		if k.code == code {
			delete(t.entries, k)
		}
	}
}

func (t *Tracker) pending(code, username string) (Entry, bool) {
	e, ok := t.entries[key{code, username}]
	return e, ok
}

// ForLobby lists the pending entries of code, oldest first.
func (t *Tracker) ForLobby(code string) []Entry {
	var out []Entry
	for k, e := range t.entries {
		if k.code == code {
			out = append(out, e)
		}
	}
	sortEntries(out)
	return out
}

func (t *Tracker) Len() int { return len(t.entries) }

// Expire removes and returns entries older than the grace window at now,
// oldest first.
func (t *Tracker) Expire(now time.Time) []Entry {
	var out []Entry
	for k, e := range t.entries {
		if now.Sub(e.DisconnectedAt) > t.grace {
			out = append(out, e)
			delete(t.entries, k)
		}
	}
	sortEntries(out)
	return out
}

func sortEntries(es []Entry) {
	sort.Slice(es, func(i, j int) bool {
		if es[i].DisconnectedAt.Equal(es[j].DisconnectedAt) {
			return es[i].Username < es[j].Username
		}
		return es[i].DisconnectedAt.Before(es[j].DisconnectedAt)
	})
}
