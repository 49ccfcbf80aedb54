package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"taskboard/board-api/domain"
)

const maxFrameSize = 4 << 20

// Handler receives stream state changes. Calls are made from the stream
// goroutine, one at a time.
type Handler interface {
	Connected(connID string)
	Disconnected()
	Snapshot(tasks []domain.Task)
}

// Stream subscribes to the board's snapshot stream and keeps reconnecting
// until its context ends.
type Stream struct {
	endpoint   string
	client     *http.Client
	handler    Handler
	logger     *log.Logger
	minBackoff time.Duration
	maxBackoff time.Duration

	mu     sync.RWMutex
	connID string
}

// NewStream creates a stream against the board at endpoint. A nil client
// uses one without a timeout, since the response body never ends.
func NewStream(endpoint string, client *http.Client, handler Handler, logger *log.Logger) *Stream {
	if handler == nil {
		panic("transport.NewStream: handler is nil")
	}
	if logger == nil {
		panic("transport.NewStream: logger is nil")
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Stream{
		endpoint:   strings.TrimRight(endpoint, "/"),
		client:     client,
		handler:    handler,
		logger:     logger,
		minBackoff: time.Second,
		maxBackoff: 5 * time.Second,
	}
}

// ConnectionID returns the id of the live connection, or "" when there is none.
func (s *Stream) ConnectionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connID
}

func (s *Stream) setConnectionID(id string) {
	s.mu.Lock()
	s.connID = id
	s.mu.Unlock()
}

// Run keeps the subscription alive until ctx is cancelled.
func (s *Stream) Run(ctx context.Context) error {
	backoff := s.minBackoff
	for {
		connected, err := s.subscribe(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			backoff = s.minBackoff
		}
		s.logger.WithError(err).WithField("retry_in", backoff).Warn("board stream lost")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, s.maxBackoff)
	}
}

// subscribe reads one stream until it ends. connected reports whether the
// connected frame was seen.
func (s *Stream) subscribe(ctx context.Context) (connected bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+domain.StreamPath, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("stream: unexpected status %s", resp.Status)
	}

	defer func() {
		if connected {
			s.setConnectionID("")
			s.handler.Disconnected()
		}
	}()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)

	var event string
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if event != "" || data.Len() > 0 {
				if err := s.dispatch(event, data.String(), &connected); err != nil {
					s.logger.WithError(err).WithField("event", event).Warn("bad stream frame")
				}
			}
			event = ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return connected, err
	}
	return connected, errors.New("stream closed by server")
}

func (s *Stream) dispatch(event, data string, connected *bool) error {
	switch event {
	case domain.EventConnected:
		var hello domain.Connected
		if err := sonic.ConfigStd.UnmarshalFromString(data, &hello); err != nil {
			return fmt.Errorf("decode connected: %w", err)
		}
		s.setConnectionID(hello.ConnectionID)
		*connected = true
		s.logger.WithField("connection", hello.ConnectionID).Info("board stream connected")
		s.handler.Connected(hello.ConnectionID)
	case domain.EventSnapshot:
		var tasks []domain.Task
		if err := sonic.ConfigStd.UnmarshalFromString(data, &tasks); err != nil {
			return fmt.Errorf("decode snapshot: %w", err)
		}
		if tasks == nil {
			tasks = []domain.Task{}
		}
		s.handler.Snapshot(tasks)
	default:
		s.logger.WithField("event", event).Debug("ignoring stream event")
	}
	return nil
}
