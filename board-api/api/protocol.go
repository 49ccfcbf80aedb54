package api

import (
	"time"

	"taskboard/board-api/domain"
)

const postCommandMaxSize = 64 * 1024 // 64 KiB

// HeaderConnectionID carries the stream connection a command originates from.
const HeaderConnectionID = domain.HeaderConnectionID

const (
	sseEventPrefix = "event: "
	sseDataPrefix  = "data: "
	sseKeepAlive   = ": keep-alive\n\n"
)

var (
	streamKeepAliveInterval = 15 * time.Second
	disconnectTimeout       = 5 * time.Second
	healthTimeout           = 2 * time.Second
)
