package domain

// Channel-level event names. Commands travel client→authority, snapshot and
// connected travel authority→client.
const (
	EventSnapshot        = "snapshot"
	EventConnected       = "connected"
	EventRequestSnapshot = "requestSnapshot"
	EventCreate          = "create"
	EventUpdate          = "update"
	EventMove            = "move"
	EventDelete          = "delete"
)

// Connected is the payload of the first frame on every stream.
type Connected struct {
	ConnectionID string `json:"connectionId"`
}

// HTTP binding shared by the authority and its clients.
const (
	StreamPath   = "/api/stream"
	CommandsPath = "/api/commands"
	TasksPath    = "/api/tasks"

	// HeaderConnectionID carries the stream connection a command originates from.
	HeaderConnectionID = "X-Connection-Id"
)
