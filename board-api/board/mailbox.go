package board

import "taskboard/board-api/domain"

// Mailbox holds at most one undelivered snapshot. A newer snapshot replaces an
// unread one, so a slow reader always catches up to the latest state and the
// writer never blocks.
type Mailbox struct {
	ch chan domain.Snapshot
}

// NewMailbox returns an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{ch: make(chan domain.Snapshot, 1)}
}

// Deliver stores s, dropping any snapshot not yet read.
func (m *Mailbox) Deliver(s domain.Snapshot) {
	for {
		select {
		case m.ch <- s:
			return
		default:
		}
		select {
		case <-m.ch:
		default:
		}
	}
}

// C returns the channel snapshots are read from.
func (m *Mailbox) C() <-chan domain.Snapshot {
	return m.ch
}
