package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskboard/board-api/api"
	"taskboard/board-api/board"
	"taskboard/board-api/storage"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.WithError(err).Warn("load .env")
	}

	logger := log.New()
	if api.EnvBool("DEBUG", false) {
		logger.SetLevel(log.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := []board.Option{board.WithInboxSize(api.EnvInt("BOARD_INBOX", 256))}

	if conn := api.EnvString("REDIS_CONNECTION_STRING", ""); conn != "" {
		redisOpts, err := storage.ParseRedisOptions(conn)
		if err != nil {
			logger.Fatalf("redis: %v", err)
		}
		rc := redis.NewClient(redisOpts)
		defer rc.Close()

		channel := api.EnvString("SNAPSHOT_CHANNEL", "board-snapshots")
		publisher := storage.NewPublisher(rc, channel, api.EnvDur("SNAPSHOT_TTL", time.Hour), logger)
		go publisher.Run(ctx)
		opts = append(opts, board.WithObserver(publisher))
		logger.WithField("channel", channel).Info("publishing snapshots to redis")
	}

	authority := board.NewAuthority(logger, opts...)
	go authority.Run(ctx)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: api.EnvList("CORS_ORIGINS", []string{"*"}),
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderContentEncoding, api.HeaderConnectionID},
	}))
	api.Register(e, authority, logger)

	listenAddr := ":" + api.EnvString("PORT", "5001")
	go func() {
		if err := e.Start(listenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("shutdown")
	}
}
