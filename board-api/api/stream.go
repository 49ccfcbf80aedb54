package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskboard/board-api/board"
	"taskboard/board-api/domain"
)

// streamTasks opens an SSE stream: a connected frame naming the connection,
// then one snapshot frame per broadcast for as long as the client stays.
func streamTasks(authority Authority, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		res := c.Response()
		flusher, ok := res.Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}
		res.Header().Set(echo.HeaderContentType, "text/event-stream")
		res.Header().Set(echo.HeaderCacheControl, "no-cache")
		res.Header().Set(echo.HeaderConnection, "keep-alive")
		res.Header().Set("X-Accel-Buffering", "no")
		res.WriteHeader(http.StatusOK)

		ctx := c.Request().Context()
		connID := uuid.NewString()
		entry := logger.WithField("connection", connID)

		if err := writeEvent(res, domain.EventConnected, domain.Connected{ConnectionID: connID}); err != nil {
			entry.WithError(err).Debug("write connected frame")
			return nil
		}
		flusher.Flush()

		mailbox := board.NewMailbox()
		if err := authority.Connect(ctx, connID, mailbox); err != nil {
			if !errors.Is(err, context.Canceled) {
				entry.WithError(err).Error("register stream")
			}
			return nil
		}
		defer func() {
			dctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
			defer cancel()
			if err := authority.Disconnect(dctx, connID); err != nil && !errors.Is(err, board.ErrStopped) {
				entry.WithError(err).Warn("unregister stream")
			}
		}()

		keepAlive := time.NewTicker(streamKeepAliveInterval)
		defer keepAlive.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case snap := <-mailbox.C():
				if err := writeEvent(res, domain.EventSnapshot, snap.Tasks); err != nil {
					entry.WithError(err).Debug("write snapshot frame")
					return nil
				}
				flusher.Flush()
			case <-keepAlive.C:
				if _, err := io.WriteString(res, sseKeepAlive); err != nil {
					return nil
				}
				flusher.Flush()
			}
		}
	}
}

func writeEvent(w io.Writer, event string, payload any) error {
	data, err := sonic.ConfigStd.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}
	if _, err := fmt.Fprintf(w, "%s%s\n%s%s\n\n", sseEventPrefix, event, sseDataPrefix, data); err != nil {
		return err
	}
	return nil
}
