package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus/hooks/test"

	"taskboard/board-api/api"
	"taskboard/board-api/board"
	"taskboard/board-api/domain"
	"taskboard/board-client/viewmodel"
)

type recordingHandler struct {
	mu     sync.Mutex
	events []string
	snaps  chan []domain.Task
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{snaps: make(chan []domain.Task, 16)}
}

func (h *recordingHandler) Connected(id string) {
	h.mu.Lock()
	h.events = append(h.events, "connected:"+id)
	h.mu.Unlock()
}

func (h *recordingHandler) Disconnected() {
	h.mu.Lock()
	h.events = append(h.events, "disconnected")
	h.mu.Unlock()
}

func (h *recordingHandler) Snapshot(tasks []domain.Task) {
	h.mu.Lock()
	h.events = append(h.events, fmt.Sprintf("snapshot:%d", len(tasks)))
	h.mu.Unlock()
	h.snaps <- tasks
}

func (h *recordingHandler) Events() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.events...)
}

func waitSnapshot(t *testing.T, snaps <-chan []domain.Task) []domain.Task {
	t.Helper()
	select {
	case tasks := <-snaps:
		return tasks
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return nil
	}
}

func runStream(t *testing.T, s *Stream) {
	t.Helper()
	s.minBackoff = 10 * time.Millisecond
	s.maxBackoff = 20 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestStreamReconnects(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		w.Header().Set("Content-Type", "text/event-stream")
		if n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		id := fmt.Sprintf("conn-%d", n)
		fmt.Fprintf(w, "event: connected\ndata: {\"connectionId\":%q}\n\n", id)
		fmt.Fprint(w, ": keep-alive\n\n")
		fmt.Fprintf(w, "event: snapshot\ndata: [{\"id\":\"%d\",\"title\":\"t\",\"status\":\"todo\",\"attachments\":[]}]\n\n", n)
		w.(http.Flusher).Flush()
		if n == 2 {
			return
		}
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	logger, _ := test.NewNullLogger()
	h := newRecordingHandler()
	s := NewStream(srv.URL, nil, h, logger)
	runStream(t, s)

	if tasks := waitSnapshot(t, h.snaps); len(tasks) != 1 || tasks[0].ID != "2" {
		t.Fatalf("unexpected first snapshot %+v", tasks)
	}
	if tasks := waitSnapshot(t, h.snaps); len(tasks) != 1 || tasks[0].ID != "3" {
		t.Fatalf("unexpected second snapshot %+v", tasks)
	}

	want := []string{"connected:conn-2", "snapshot:1", "disconnected", "connected:conn-3", "snapshot:1"}
	if got := h.Events(); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected events\n got %v\nwant %v", got, want)
	}
	if id := s.ConnectionID(); id != "conn-3" {
		t.Fatalf("unexpected connection id %q", id)
	}
}

func TestStreamSkipsBadFrames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "event: snapshot\ndata: {not json\n\n")
		fmt.Fprint(w, "event: unknown\ndata: {}\n\n")
		fmt.Fprint(w, "event: snapshot\ndata: null\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	logger, hook := test.NewNullLogger()
	h := newRecordingHandler()
	runStream(t, NewStream(srv.URL, nil, h, logger))

	tasks := waitSnapshot(t, h.snaps)
	if tasks == nil || len(tasks) != 0 {
		t.Fatalf("null snapshot should decode as empty board, got %#v", tasks)
	}
	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Message == "bad stream frame" {
			warned = true
		}
	}
	if !warned {
		t.Fatal("expected bad frame to be logged")
	}
}

type fixedConn string

func (c fixedConn) ConnectionID() string { return string(c) }

func TestSenderPostsEnvelope(t *testing.T) {
	var gotBody, gotConn string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != domain.CommandsPath || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotConn = r.Header.Get(domain.HeaderConnectionID)
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(srv.Close)

	logger, _ := test.NewNullLogger()
	s := NewSender(srv.URL+"/", nil, fixedConn("abc"), logger)
	if err := s.Send(context.Background(), domain.MoveTask{ID: "1", Status: domain.StatusDone}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotBody != `{"type":"move","data":{"id":"1","status":"done"}}` {
		t.Fatalf("unexpected body %s", gotBody)
	}
	if gotConn != "abc" {
		t.Fatalf("unexpected connection header %q", gotConn)
	}
}

func TestSenderReportsRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid body", http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)

	logger, hook := test.NewNullLogger()
	s := NewSender(srv.URL, nil, nil, logger)
	if err := s.Send(context.Background(), domain.DeleteTask{ID: "1"}); err == nil {
		t.Fatal("expected error for rejected command")
	}
	if e := hook.LastEntry(); e == nil || e.Message != "send command" {
		t.Fatalf("expected rejection to be logged, got %+v", e)
	}
}

// viewHandler feeds stream events into a view model.
type viewHandler struct {
	vm    *viewmodel.ViewModel
	snaps chan []domain.Task
}

func (h *viewHandler) Connected(string) { h.vm.SetConnected(true) }
func (h *viewHandler) Disconnected()    { h.vm.SetConnected(false) }
func (h *viewHandler) Snapshot(tasks []domain.Task) {
	h.vm.ApplySnapshot(tasks)
	h.snaps <- tasks
}

func startBoard(t *testing.T) *httptest.Server {
	t.Helper()
	logger, _ := test.NewNullLogger()
	authority := board.NewAuthority(logger)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		authority.Run(ctx)
		close(done)
	}()

	e := echo.New()
	api.Register(e, authority, logger)
	srv := httptest.NewServer(e)
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
	})
	return srv
}

func TestClientAgainstBoard(t *testing.T) {
	srv := startBoard(t)
	logger, _ := test.NewNullLogger()

	h := &viewHandler{snaps: make(chan []domain.Task, 16)}
	stream := NewStream(srv.URL, nil, h, logger)
	vm := viewmodel.New(NewSender(srv.URL, nil, stream, logger))
	h.vm = vm
	runStream(t, stream)
	ctx := context.Background()

	if tasks := waitSnapshot(t, h.snaps); len(tasks) != 0 {
		t.Fatalf("expected empty board, got %+v", tasks)
	}
	if !vm.Connected() || vm.Loading() {
		t.Fatalf("expected connected and loaded, got connected=%v loading=%v", vm.Connected(), vm.Loading())
	}

	if err := vm.SetDraftField(viewmodel.FieldTitle, "Buy milk"); err != nil {
		t.Fatalf("draft: %v", err)
	}
	if err := vm.CreateTask(ctx); err != nil {
		t.Fatalf("create: %v", err)
	}
	waitSnapshot(t, h.snaps)
	want := domain.Task{
		ID: "1", Title: "Buy milk", Description: "", Status: domain.StatusTodo,
		Priority: domain.PriorityMedium, Category: domain.CategoryFeature,
		Attachments: []domain.Attachment{},
	}
	if got := vm.Tasks(); len(got) != 1 || !reflect.DeepEqual(got[0], want) {
		t.Fatalf("unexpected tasks after create %+v", got)
	}

	if err := vm.MoveTask(ctx, "1", domain.StatusDone); err != nil {
		t.Fatalf("move: %v", err)
	}
	waitSnapshot(t, h.snaps)
	want.Status = domain.StatusDone
	if got := vm.Tasks(); len(got) != 1 || !reflect.DeepEqual(got[0], want) {
		t.Fatalf("unexpected tasks after move %+v", got)
	}
	if p := vm.Progress(); p.Completion != 100 {
		t.Fatalf("expected 100%% completion, got %d", p.Completion)
	}

	if err := vm.StartEdit("1"); err != nil {
		t.Fatalf("start edit: %v", err)
	}
	_ = vm.EditField("1", viewmodel.FieldTitle, "Buy oat milk")
	if err := vm.CancelEdit(ctx, "1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if tasks := waitSnapshot(t, h.snaps); len(tasks) != 1 || tasks[0].Title != "Buy milk" {
		t.Fatalf("requested snapshot should carry the stored title, got %+v", tasks)
	}

	_ = vm.StartEdit("1")
	_ = vm.EditField("1", viewmodel.FieldDescription, "2 litres")
	if err := vm.SaveEdit(ctx, "1"); err != nil {
		t.Fatalf("save: %v", err)
	}
	if tasks := waitSnapshot(t, h.snaps); tasks[0].Description != "2 litres" || tasks[0].Status != domain.StatusDone {
		t.Fatalf("unexpected tasks after save %+v", tasks)
	}

	if err := vm.DeleteTask(ctx, "1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if tasks := waitSnapshot(t, h.snaps); len(tasks) != 0 {
		t.Fatalf("expected empty board after delete, got %+v", tasks)
	}
	if p := vm.Progress(); p.Completion != 0 || p.Total != 0 {
		t.Fatalf("unexpected progress %+v", p)
	}
}
