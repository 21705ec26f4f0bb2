// Package messagelog holds the ordered, id-deduplicated view of one ticket
// thread. The server keeps one per ticket in its in-memory store and every
// client keeps one for the ticket it has open.
package messagelog

import (
	"errors"
	"sort"
	"sync"

	"github.com/spec-kit/ticket-channel/internal/domain"
)

var (
	// ErrDuplicateID is returned by Append when the id is already present.
	ErrDuplicateID = errors.New("messagelog: duplicate message id")
	// ErrOutOfOrder is returned by Append when the message would not sort
	// after the current tail.
	ErrOutOfOrder = errors.New("messagelog: message sorts before tail")
	// ErrMissingID is returned for messages without an authoritative id.
	ErrMissingID = errors.New("messagelog: message has no server id")
)

// Log is an ordered sequence of confirmed messages keyed by server id.
// It is safe for concurrent use.
type Log struct {
	mu    sync.RWMutex
	items []domain.Message
	ids   map[string]struct{}
}

// New returns an empty log.
func New() *Log {
	return &Log{ids: make(map[string]struct{})}
}

// Append adds m at the tail. It never reorders: a message that does not
// sort strictly after the tail is rejected.
func (l *Log) Append(m domain.Message) error {
	if m.ID == "" || domain.IsLocalID(m.ID) {
		return ErrMissingID
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.ids[m.ID]; ok {
		return ErrDuplicateID
	}
	if n := len(l.items); n > 0 && !l.items[n-1].Before(&m) {
		return ErrOutOfOrder
	}
	l.items = append(l.items, m)
	l.ids[m.ID] = struct{}{}
	return nil
}

// InsertIfAbsent folds in a server-confirmed message. It is a no-op when
// the id is already present and otherwise inserts at the sorted position.
// It reports whether the log changed.
func (l *Log) InsertIfAbsent(m domain.Message) bool {
	if m.ID == "" || domain.IsLocalID(m.ID) {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.ids[m.ID]; ok {
		return false
	}
	idx := sort.Search(len(l.items), func(i int) bool {
		return m.Before(&l.items[i])
	})
	l.items = append(l.items, domain.Message{})
	copy(l.items[idx+1:], l.items[idx:])
	l.items[idx] = m
	l.ids[m.ID] = struct{}{}
	return true
}

// List returns a copy of the messages in (CreatedAt, ID) order.
func (l *Log) List() []domain.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.Message, len(l.items))
	copy(out, l.items)
	return out
}

// Contains reports whether id is present.
func (l *Log) Contains(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.ids[id]
	return ok
}

// Find returns the first message matching pred.
func (l *Log) Find(pred func(*domain.Message) bool) (domain.Message, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i := range l.items {
		if pred(&l.items[i]) {
			return l.items[i], true
		}
	}
	return domain.Message{}, false
}

// Tail returns the last message, if any.
func (l *Log) Tail() (domain.Message, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.items) == 0 {
		return domain.Message{}, false
	}
	return l.items[len(l.items)-1], true
}

// Len returns the number of messages.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}
