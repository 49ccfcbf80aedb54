package main

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"taskboard/board-api/domain"
	"taskboard/board-client/render"
	"taskboard/board-client/transport"
	"taskboard/board-client/viewmodel"
)

// boardHandler feeds stream events into the view model and signals the UI.
type boardHandler struct {
	vm        *viewmodel.ViewModel
	updates   chan struct{}
	snapshots chan struct{}
}

func (h *boardHandler) Connected(string) {
	h.vm.SetConnected(true)
	notify(h.updates)
}

func (h *boardHandler) Disconnected() {
	h.vm.SetConnected(false)
	notify(h.updates)
}

func (h *boardHandler) Snapshot(tasks []domain.Task) {
	h.vm.ApplySnapshot(tasks)
	notify(h.snapshots)
	notify(h.updates)
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

type session struct {
	cfg     config
	vm      *viewmodel.ViewModel
	handler *boardHandler
	board   render.Board
	logger  *log.Logger
}

// startSession connects to the board and waits for the first snapshot or the
// load timeout, whichever comes first.
func startSession(ctx context.Context, cfg config, logger *log.Logger) *session {
	h := &boardHandler{updates: make(chan struct{}, 1), snapshots: make(chan struct{}, 1)}
	stream := transport.NewStream(cfg.endpoint, nil, h, logger)
	h.vm = viewmodel.New(transport.NewSender(cfg.endpoint, nil, stream, logger))

	go func() {
		_ = stream.Run(ctx)
	}()

	select {
	case <-h.vm.Loaded():
	case <-time.After(cfg.loadTimeout):
		h.vm.LoadingTimedOut()
	case <-ctx.Done():
	}
	return &session{cfg: cfg, vm: h.vm, handler: h, board: render.NewBoard(cfg.width), logger: logger}
}

// mutate runs one view model action, then waits for the snapshot that
// reflects it and prints the board.
func (s *session) mutate(ctx context.Context, action func(ctx context.Context) error) error {
	select {
	case <-s.handler.snapshots:
	default:
	}
	if err := action(ctx); err != nil {
		return err
	}
	select {
	case <-s.handler.snapshots:
	case <-time.After(s.cfg.loadTimeout):
		s.logger.Warn("no snapshot after command; showing last known board")
	case <-ctx.Done():
		return ctx.Err()
	}
	fmt.Println(s.board.Render(s.vm))
	return nil
}

// watch redraws the board on every change until interrupted.
func watch(ctx context.Context, s *session) error {
	draw := func() {
		fmt.Print("\033[H\033[2J")
		fmt.Println(s.board.Render(s.vm))
	}
	draw()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.handler.updates:
			draw()
		}
	}
}
