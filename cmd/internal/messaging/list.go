package messaging

import (
	"fmt"
	"sync"
)

// conversationList owns the visible message list for one conversation.
//
// Optimistic sends go through a two-phase protocol: Stage appends a
// provisional message, then exactly one of Confirm (swap in the
// server-confirmed message) or Discard (roll back) follows. Replace
// applies a full server snapshot while carrying still-staged
// provisional entries forward, so a poll cycle cannot resurrect a
// rolled-back entry or drop an in-flight one.
//
// Invariant: no two entries ever share an id.
type conversationList struct {
	mu     sync.Mutex
	msgs   []Message
	staged map[string]Message // provisional id -> provisional message
}

func newConversationList() *conversationList {
	return &conversationList{staged: make(map[string]Message)}
}

// Snapshot returns a sorted copy of the visible list.
func (l *conversationList) Snapshot() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := append([]Message(nil), l.msgs...)
	return out
}

// Len reports the visible list length.
func (l *conversationList) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.msgs)
}

// ConfirmedLen reports the number of non-provisional entries.
func (l *conversationList) ConfirmedLen() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.msgs) - len(l.staged)
}

// Replace installs a full server snapshot. Staged provisional entries
// that have not been confirmed or discarded are re-applied on top.
func (l *conversationList) Replace(msgs []Message) {
	l.mu.Lock()
	defer l.mu.Unlock()

	next := dedupeByID(append([]Message(nil), msgs...))
	for _, prov := range l.staged {
		if !containsID(next, prov.ID) {
			next = append(next, prov)
		}
	}
	sortMessages(next)
	l.msgs = next
}

// Stage appends a provisional message. The id must be new.
func (l *conversationList) Stage(m Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if containsID(l.msgs, m.ID) {
		return fmt.Errorf("duplicate message id %q", m.ID)
	}
	l.staged[m.ID] = m
	l.msgs = append(l.msgs, m)
	sortMessages(l.msgs)
	return nil
}

// Confirm replaces the provisional entry with the server-confirmed
// message and re-sorts. Confirming an unknown provisional id still
// inserts the confirmed message (a poll may have discarded the
// provisional first); the id-uniqueness invariant holds either way.
func (l *conversationList) Confirm(provisionalID string, confirmed Message) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.msgs = removeID(l.msgs, provisionalID)
	delete(l.staged, provisionalID)

	if !containsID(l.msgs, confirmed.ID) {
		l.msgs = append(l.msgs, confirmed)
	}
	sortMessages(l.msgs)
}

// Discard rolls back a staged provisional entry by id.
func (l *conversationList) Discard(provisionalID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.msgs = removeID(l.msgs, provisionalID)
	delete(l.staged, provisionalID)
}

// DiscardStaged rolls back every staged entry (session teardown).
func (l *conversationList) DiscardStaged() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for id := range l.staged {
		l.msgs = removeID(l.msgs, id)
		delete(l.staged, id)
	}
}

// MarkRead flips the local read status for messageID.
// Returns false when the id is not present.
func (l *conversationList) MarkRead(messageID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.msgs {
		if l.msgs[i].ID == messageID {
			l.msgs[i].ReadStatus = ReadStatusRead
			return true
		}
	}
	return false
}

func containsID(msgs []Message, id string) bool {
	for i := range msgs {
		if msgs[i].ID == id {
			return true
		}
	}
	return false
}

func removeID(msgs []Message, id string) []Message {
	out := msgs[:0]
	for _, m := range msgs {
		if m.ID != id {
			out = append(out, m)
		}
	}
	return out
}
