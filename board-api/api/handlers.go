package api

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskboard/board-api/domain"
)

// Register wires up all board routes on the provided Echo instance.
func Register(e *echo.Echo, authority Authority, logger *log.Logger) {
	if logger == nil {
		panic("logger is required")
	}
	e.JSONSerializer = sonicSerializer{}

	e.GET(domain.StreamPath, streamTasks(authority, logger))
	e.POST(domain.CommandsPath, postCommands(authority, logger), GzipRequestMiddleware(postCommandMaxSize))
	e.GET(domain.TasksPath, getTasks(authority, logger))
	e.GET("/healthz", healthz(authority))
}

func healthz(authority Authority) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
		defer cancel()
		if _, err := authority.Snapshot(ctx); err != nil {
			return c.String(http.StatusServiceUnavailable, err.Error())
		}
		return c.NoContent(http.StatusOK)
	}
}

func getTasks(authority Authority, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		snap, err := authority.Snapshot(c.Request().Context())
		if err != nil {
			logger.WithError(err).Error("load snapshot")
			return c.String(http.StatusServiceUnavailable, "board unavailable")
		}
		return c.JSON(http.StatusOK, snap.Tasks)
	}
}

// postCommands accepts one command envelope. Accepted commands get 202 whether
// or not they end up changing the board; the outcome is only visible through
// the stream.
func postCommands(authority Authority, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics, ctx := newCommandMetrics(c.Request().Context(), logger)
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		connID := c.Request().Header.Get(HeaderConnectionID)
		metrics.SetConnectionProvided(connID != "")

		decodeStart := time.Now()
		lr := io.LimitReader(c.Request().Body, postCommandMaxSize)
		dec := sonic.ConfigStd.NewDecoder(lr)
		dec.DisallowUnknownFields()

		var env domain.Envelope
		if decErr := dec.Decode(&env); decErr != nil {
			metrics.SetErrorStage("decode")
			return c.String(http.StatusBadRequest, "invalid body")
		}
		metrics.SetCommandType(env.Type)
		cmd, cmdErr := env.Command()
		metrics.ObserveDecode(time.Since(decodeStart))
		if cmdErr != nil {
			metrics.SetErrorStage("command")
			return c.String(http.StatusBadRequest, cmdErr.Error())
		}

		submitStart := time.Now()
		submitErr := authority.Submit(ctx, connID, cmd)
		metrics.ObserveSubmit(time.Since(submitStart))
		if submitErr != nil {
			metrics.SetErrorStage("submit")
			logger.WithError(submitErr).WithField("command", cmd.Kind()).Error("submit command")
			return c.String(http.StatusServiceUnavailable, "board unavailable")
		}
		return c.NoContent(http.StatusAccepted)
	}
}
