package service

import "sync"

// ticketLocks hands out one mutex per ticket id. Entries are reference
// counted and dropped once nobody holds or waits for them.
type ticketLocks struct {
	mu    sync.Mutex
	locks map[string]*ticketLock
}

type ticketLock struct {
	mu   sync.Mutex
	refs int
}

func newTicketLocks() *ticketLocks {
	return &ticketLocks{locks: make(map[string]*ticketLock)}
}

// Lock blocks until the caller owns ticketID and returns the release func.
func (l *ticketLocks) Lock(ticketID string) func() {
	l.mu.Lock()
	lock, ok := l.locks[ticketID]
	if !ok {
		lock = &ticketLock{}
		l.locks[ticketID] = lock
	}
	lock.refs++
	l.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		l.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(l.locks, ticketID)
		}
		l.mu.Unlock()
	}
}

func (l *ticketLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
