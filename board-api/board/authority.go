package board

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	"taskboard/board-api/domain"
)

// ErrStopped is returned once the authority loop has exited.
var ErrStopped = errors.New("authority stopped")

// Conn receives snapshots pushed by the authority. Deliver is called from the
// authority goroutine and must not block. Snapshots are shared between
// connections and must be treated as read-only.
type Conn interface {
	Deliver(domain.Snapshot)
}

type messageKind int

const (
	messageConnect messageKind = iota
	messageDisconnect
	messageCommand
	messageQuery
)

type message struct {
	kind   messageKind
	connID string
	conn   Conn
	cmd    domain.Command
	reply  chan domain.Snapshot
}

// Authority owns the board and applies commands one at a time in arrival
// order. Every accepted mutation is followed by a snapshot to every connected
// client and observer.
type Authority struct {
	board     *Board
	conns     map[string]Conn
	observers []Conn
	logger    *log.Logger
	inbox     chan message
	done      chan struct{}
}

// Option configures an Authority.
type Option func(*Authority)

// WithObserver registers c to receive every broadcast snapshot. Observers are
// not clients: they never get replies to snapshot requests.
func WithObserver(c Conn) Option {
	return func(a *Authority) {
		if c != nil {
			a.observers = append(a.observers, c)
		}
	}
}

// WithInboxSize sets how many messages may wait for the authority loop.
func WithInboxSize(n int) Option {
	return func(a *Authority) {
		if n > 0 {
			a.inbox = make(chan message, n)
		}
	}
}

// NewAuthority creates an authority over an empty board.
func NewAuthority(logger *log.Logger, opts ...Option) *Authority {
	if logger == nil {
		panic("logger is required")
	}
	a := &Authority{
		board:  NewBoard(),
		conns:  make(map[string]Conn),
		logger: logger,
		inbox:  make(chan message, 256),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run processes messages until ctx is cancelled. It must be called once.
func (a *Authority) Run(ctx context.Context) {
	defer close(a.done)
	a.logger.Info("board authority started")
	for {
		select {
		case <-ctx.Done():
			a.logger.WithField("clients", len(a.conns)).Info("board authority stopped")
			return
		case m := <-a.inbox:
			a.handle(m)
		}
	}
}

// Connect registers conn under id and sends it the current collection.
func (a *Authority) Connect(ctx context.Context, id string, conn Conn) error {
	return a.enqueue(ctx, message{kind: messageConnect, connID: id, conn: conn})
}

// Disconnect removes the connection registered under id.
func (a *Authority) Disconnect(ctx context.Context, id string) error {
	return a.enqueue(ctx, message{kind: messageDisconnect, connID: id})
}

// Submit hands cmd, sent by connection id, to the authority. It returns once
// the command is queued; its effect is observed through the next snapshot.
func (a *Authority) Submit(ctx context.Context, id string, cmd domain.Command) error {
	return a.enqueue(ctx, message{kind: messageCommand, connID: id, cmd: cmd})
}

// Snapshot returns the collection as of every message queued before the call.
func (a *Authority) Snapshot(ctx context.Context) (domain.Snapshot, error) {
	reply := make(chan domain.Snapshot, 1)
	if err := a.enqueue(ctx, message{kind: messageQuery, reply: reply}); err != nil {
		return domain.Snapshot{}, err
	}
	select {
	case s := <-reply:
		return s, nil
	case <-a.done:
		return domain.Snapshot{}, ErrStopped
	case <-ctx.Done():
		return domain.Snapshot{}, ctx.Err()
	}
}

func (a *Authority) enqueue(ctx context.Context, m message) error {
	select {
	case <-a.done:
		return ErrStopped
	default:
	}
	select {
	case a.inbox <- m:
		return nil
	case <-a.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Authority) handle(m message) {
	switch m.kind {
	case messageConnect:
		a.conns[m.connID] = m.conn
		m.conn.Deliver(a.board.Snapshot())
		a.logger.WithFields(log.Fields{"connection": m.connID, "clients": len(a.conns)}).Info("client connected")
	case messageDisconnect:
		delete(a.conns, m.connID)
		a.logger.WithFields(log.Fields{"connection": m.connID, "clients": len(a.conns)}).Info("client disconnected")
	case messageQuery:
		m.reply <- a.board.Snapshot()
	case messageCommand:
		a.apply(m.connID, m.cmd)
	}
}

func (a *Authority) apply(connID string, cmd domain.Command) {
	entry := a.logger.WithField("connection", connID)
	var changed bool
	switch c := cmd.(type) {
	case domain.CreateTask:
		task := a.board.Create(c)
		entry = entry.WithField("task", task.ID)
		changed = true
	case domain.UpdateTask:
		entry = entry.WithField("task", c.ID)
		changed = a.board.Update(c)
	case domain.MoveTask:
		entry = entry.WithFields(log.Fields{"task": c.ID, "status": c.Status})
		changed = a.board.Move(c)
	case domain.DeleteTask:
		entry = entry.WithField("task", c.ID)
		changed = a.board.Delete(c)
	case domain.RequestSnapshot:
		conn, ok := a.conns[connID]
		if !ok {
			entry.Debug("snapshot requested by unknown connection")
			return
		}
		conn.Deliver(a.board.Snapshot())
		return
	default:
		entry.Warnf("unhandled command %T", cmd)
		return
	}
	if !changed {
		entry.WithField("command", cmd.Kind()).Debug("command ignored")
		return
	}
	a.broadcast()
	entry.WithFields(log.Fields{"command": cmd.Kind(), "revision": a.board.revision, "tasks": a.board.Len()}).Debug("command applied")
}

func (a *Authority) broadcast() {
	snap := a.board.Snapshot()
	for _, c := range a.conns {
		c.Deliver(snap)
	}
	for _, o := range a.observers {
		o.Deliver(snap)
	}
}
