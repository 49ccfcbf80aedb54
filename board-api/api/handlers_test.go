package api

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus/hooks/test"

	"taskboard/board-api/board"
	"taskboard/board-api/domain"
)

type testBoard struct {
	e         *echo.Echo
	authority *board.Authority
	stop      context.CancelFunc
}

func newTestBoard(t *testing.T) *testBoard {
	t.Helper()
	logger, _ := test.NewNullLogger()
	authority := board.NewAuthority(logger)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		authority.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	e := echo.New()
	Register(e, authority, logger)
	return &testBoard{e: e, authority: authority, stop: cancel}
}

func (b *testBoard) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	b.e.ServeHTTP(rec, req)
	return rec
}

func (b *testBoard) snapshot(t *testing.T) domain.Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	snap, err := b.authority.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	return snap
}

func commandRequest(t *testing.T, cmd domain.Command) *http.Request {
	t.Helper()
	body, err := domain.EncodeCommand(cmd)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/commands", bytes.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func strPtr(s string) *string { return &s }

func TestPostCommandsCreate(t *testing.T) {
	b := newTestBoard(t)

	rec := b.do(commandRequest(t, domain.CreateTask{Title: strPtr("Write docs")}))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	snap := b.snapshot(t)
	if len(snap.Tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(snap.Tasks))
	}
	task := snap.Tasks[0]
	if task.ID != "1" || task.Title != "Write docs" || task.Status != domain.StatusTodo {
		t.Fatalf("unexpected task %+v", task)
	}
}

func TestPostCommandsIgnoredCommandStillAccepted(t *testing.T) {
	b := newTestBoard(t)

	rec := b.do(commandRequest(t, domain.DeleteTask{ID: "missing"}))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if snap := b.snapshot(t); snap.Revision != 0 {
		t.Fatalf("ignored command changed revision to %d", snap.Revision)
	}
}

func TestPostCommandsRejectsBadBodies(t *testing.T) {
	b := newTestBoard(t)

	cases := map[string]string{
		"malformed":     `{"type":`,
		"unknown type":  `{"type":"renameBoard","data":{}}`,
		"unknown field": `{"type":"create","data":{},"extra":1}`,
		"bad payload":   `{"type":"moveTask","data":{"id":7}}`,
	}
	for name, body := range cases {
		req := httptest.NewRequest(http.MethodPost, "/api/commands", strings.NewReader(body))
		rec := b.do(req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", name, rec.Code)
		}
	}
	if snap := b.snapshot(t); len(snap.Tasks) != 0 {
		t.Fatalf("rejected commands must not change the board: %+v", snap.Tasks)
	}
}

func TestPostCommandsGzip(t *testing.T) {
	b := newTestBoard(t)

	body, err := domain.EncodeCommand(domain.CreateTask{Title: strPtr("Zipped")})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, _ = zw.Write(body)
	_ = zw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/commands", &buf)
	req.Header.Set(echo.HeaderContentEncoding, "gzip")
	rec := b.do(req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if snap := b.snapshot(t); len(snap.Tasks) != 1 || snap.Tasks[0].Title != "Zipped" {
		t.Fatalf("unexpected tasks %+v", snap.Tasks)
	}
}

func TestPostCommandsAuthorityStopped(t *testing.T) {
	b := newTestBoard(t)
	b.stop()
	// Wait for the loop to exit so Submit fails deterministically.
	for i := 0; i < 100; i++ {
		if _, err := b.authority.Snapshot(context.Background()); err != nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	rec := b.do(commandRequest(t, domain.CreateTask{}))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestGetTasks(t *testing.T) {
	b := newTestBoard(t)

	rec := b.do(httptest.NewRequest(http.MethodGet, "/api/tasks", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Fatalf("expected empty array, got %s", got)
	}

	b.do(commandRequest(t, domain.CreateTask{Title: strPtr("A")}))
	b.do(commandRequest(t, domain.CreateTask{Title: strPtr("B")}))

	rec = b.do(httptest.NewRequest(http.MethodGet, "/api/tasks", nil))
	var tasks []domain.Task
	if err := sonic.ConfigStd.Unmarshal(rec.Body.Bytes(), &tasks); err != nil {
		t.Fatalf("decode tasks: %v", err)
	}
	if len(tasks) != 2 || tasks[0].Title != "A" || tasks[1].Title != "B" {
		t.Fatalf("unexpected tasks %+v", tasks)
	}
	if tasks[0].Attachments == nil {
		t.Fatal("attachments should decode as an empty list")
	}
}

func TestHealthz(t *testing.T) {
	b := newTestBoard(t)

	if rec := b.do(httptest.NewRequest(http.MethodGet, "/healthz", nil)); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	b.stop()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if rec := b.do(httptest.NewRequest(http.MethodGet, "/healthz", nil)); rec.Code == http.StatusServiceUnavailable {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("healthz kept reporting ok after the authority stopped")
}

type sseFrame struct {
	event string
	data  string
}

func readFrame(t *testing.T, r *bufio.Reader) sseFrame {
	t.Helper()
	var f sseFrame
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "":
			if f.event != "" || f.data != "" {
				return f
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, sseEventPrefix):
			f.event = strings.TrimPrefix(line, sseEventPrefix)
		case strings.HasPrefix(line, sseDataPrefix):
			f.data += strings.TrimPrefix(line, sseDataPrefix)
		}
	}
}

func readSnapshot(t *testing.T, r *bufio.Reader) []domain.Task {
	t.Helper()
	f := readFrame(t, r)
	if f.event != domain.EventSnapshot {
		t.Fatalf("expected snapshot frame, got %q", f.event)
	}
	var tasks []domain.Task
	if err := sonic.ConfigStd.UnmarshalFromString(f.data, &tasks); err != nil {
		t.Fatalf("decode snapshot %q: %v", f.data, err)
	}
	return tasks
}

func TestStreamDeliversSnapshots(t *testing.T) {
	b := newTestBoard(t)
	srv := httptest.NewServer(b.e)
	t.Cleanup(srv.Close)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(srv.URL + "/api/stream")
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get(echo.HeaderContentType); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	r := bufio.NewReader(resp.Body)

	first := readFrame(t, r)
	if first.event != domain.EventConnected {
		t.Fatalf("expected connected frame first, got %q", first.event)
	}
	var hello domain.Connected
	if err := sonic.ConfigStd.UnmarshalFromString(first.data, &hello); err != nil || hello.ConnectionID == "" {
		t.Fatalf("bad connected payload %q: %v", first.data, err)
	}

	if tasks := readSnapshot(t, r); len(tasks) != 0 {
		t.Fatalf("expected empty initial snapshot, got %+v", tasks)
	}

	post := func(cmd domain.Command) {
		t.Helper()
		body, _ := domain.EncodeCommand(cmd)
		req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/commands", bytes.NewReader(body))
		req.Header.Set(HeaderConnectionID, hello.ConnectionID)
		res, err := client.Do(req)
		if err != nil {
			t.Fatalf("post %s: %v", cmd.Kind(), err)
		}
		res.Body.Close()
		if res.StatusCode != http.StatusAccepted {
			t.Fatalf("post %s: status %d", cmd.Kind(), res.StatusCode)
		}
	}

	post(domain.CreateTask{Title: strPtr("Streamed")})
	tasks := readSnapshot(t, r)
	if len(tasks) != 1 || tasks[0].Title != "Streamed" {
		t.Fatalf("unexpected snapshot %+v", tasks)
	}

	post(domain.RequestSnapshot{})
	tasks = readSnapshot(t, r)
	if len(tasks) != 1 || tasks[0].ID != "1" {
		t.Fatalf("unexpected requested snapshot %+v", tasks)
	}
}
