package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"taskboard/board-api/domain"
)

// ConnectionSource reports the current stream connection id.
type ConnectionSource interface {
	ConnectionID() string
}

// Sender posts commands to the board. There is no retry: a command that fails
// to reach the board is lost and the error is returned to the caller.
type Sender struct {
	endpoint string
	client   *http.Client
	conn     ConnectionSource
	logger   *log.Logger
}

// NewSender creates a sender for the board at endpoint. conn may be nil when
// the caller never requests snapshots.
func NewSender(endpoint string, client *http.Client, conn ConnectionSource, logger *log.Logger) *Sender {
	if logger == nil {
		panic("transport.NewSender: logger is nil")
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Sender{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   client,
		conn:     conn,
		logger:   logger,
	}
}

// Send posts cmd and waits for the board to accept it.
func (s *Sender) Send(ctx context.Context, cmd domain.Command) error {
	body, err := domain.EncodeCommand(cmd)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+domain.CommandsPath, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.conn != nil {
		if id := s.conn.ConnectionID(); id != "" {
			req.Header.Set(domain.HeaderConnectionID, id)
		}
	}

	entry := s.logger.WithField("command", cmd.Kind())
	resp, err := s.client.Do(req)
	if err != nil {
		entry.WithError(err).Warn("send command")
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("board rejected %s: %s: %s", cmd.Kind(), resp.Status, strings.TrimSpace(string(msg)))
		entry.WithError(err).Warn("send command")
		return err
	}
	entry.Debug("command sent")
	return nil
}
