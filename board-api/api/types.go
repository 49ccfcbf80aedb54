package api

import (
	"context"

	"taskboard/board-api/board"
	"taskboard/board-api/domain"
)

// Authority abstracts the board owner for handlers.
type Authority interface {
	Connect(ctx context.Context, id string, conn board.Conn) error
	Disconnect(ctx context.Context, id string) error
	Submit(ctx context.Context, id string, cmd domain.Command) error
	Snapshot(ctx context.Context) (domain.Snapshot, error)
}
