package client

import (
	"sync"
	"time"

	"github.com/spec-kit/ticket-channel/internal/domain"
	"github.com/spec-kit/ticket-channel/internal/messagelog"
)

// LocalLog is the client's view of one ticket: the confirmed, id-ordered
// thread plus the sends still waiting for an ack.
type LocalLog struct {
	ticketID  string
	confirmed *messagelog.Log

	mu       sync.Mutex
	pending  []domain.Message
	status   domain.TicketStatus
	statusAt time.Time
}

// NewLocalLog returns an empty view of ticketID.
func NewLocalLog(ticketID string) *LocalLog {
	return &LocalLog{ticketID: ticketID, confirmed: messagelog.New()}
}

// TicketID returns the ticket this view belongs to.
func (l *LocalLog) TicketID() string { return l.ticketID }

// AddPending appends an optimistic message.
func (l *LocalLog) AddPending(m domain.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending = append(l.pending, m)
}

// RemovePending drops the optimistic message with the given temporary id.
func (l *LocalLog) RemovePending(tempID string) (domain.Message, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, m := range l.pending {
		if m.ID == tempID {
			l.pending = append(l.pending[:i], l.pending[i+1:]...)
			return m, true
		}
	}
	return domain.Message{}, false
}

// PendingCount returns the number of unacknowledged sends.
func (l *LocalLog) PendingCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// Confirm folds in a server-confirmed message. It reports whether the
// view changed.
func (l *LocalLog) Confirm(m domain.Message) bool {
	m.DeliveryState = domain.DeliveryAcked
	return l.confirmed.InsertIfAbsent(m)
}

// Merge folds in an authoritative listing. Server threads only grow, so
// the union with what is already known is the current thread.
func (l *LocalLog) Merge(msgs []domain.Message) int {
	added := 0
	for _, m := range msgs {
		if l.Confirm(m) {
			added++
		}
	}
	return added
}

// Messages returns confirmed messages in thread order followed by the
// pending ones in send order.
func (l *LocalLog) Messages() []domain.Message {
	out := l.confirmed.List()
	l.mu.Lock()
	defer l.mu.Unlock()
	return append(out, l.pending...)
}

// Status returns the last known ticket status.
func (l *LocalLog) Status() domain.TicketStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

// ApplyStatus records status as observed at the given time: the creation
// time of the message that carried it, or the ticket's updated_at for a
// snapshot. Observations older than the current one are dropped and
// CLOSED is never replaced. It reports whether the status was taken.
func (l *LocalLog) ApplyStatus(status domain.TicketStatus, at time.Time) bool {
	if status == "" {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	switch {
	case l.status == domain.TicketStatusClosed:
		return status == domain.TicketStatusClosed
	case status == domain.TicketStatusClosed:
	case at.Before(l.statusAt):
		return false
	}
	l.status = status
	if at.After(l.statusAt) {
		l.statusAt = at
	}
	return true
}
