package domain

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
)

// ErrUnknownCommand is returned when an envelope names no known command.
var ErrUnknownCommand = errors.New("unknown command type")

// Command is a request to the authority. The implementations below are the
// complete set; the authority switches over them exhaustively.
type Command interface {
	// Kind returns the event name the command travels under.
	Kind() string
	command()
}

// CreateTask asks for a new task. Nil fields are defaulted by the authority.
type CreateTask struct {
	Title       *string      `json:"title,omitempty"`
	Description *string      `json:"description,omitempty"`
	Status      *string      `json:"status,omitempty"`
	Priority    *string      `json:"priority,omitempty"`
	Category    *string      `json:"category,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// UpdateTask merges every non-nil field into the task identified by ID.
type UpdateTask struct {
	ID          string        `json:"id"`
	Title       *string       `json:"title,omitempty"`
	Description *string       `json:"description,omitempty"`
	Status      *string       `json:"status,omitempty"`
	Priority    *string       `json:"priority,omitempty"`
	Category    *string       `json:"category,omitempty"`
	Attachments *[]Attachment `json:"attachments,omitempty"`
}

// MoveTask changes only the status of a task.
type MoveTask struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// DeleteTask removes a task.
type DeleteTask struct {
	ID string `json:"id"`
}

// RequestSnapshot asks the authority to resend the collection to the sender.
type RequestSnapshot struct{}

func (CreateTask) Kind() string      { return EventCreate }
func (UpdateTask) Kind() string      { return EventUpdate }
func (MoveTask) Kind() string        { return EventMove }
func (DeleteTask) Kind() string      { return EventDelete }
func (RequestSnapshot) Kind() string { return EventRequestSnapshot }

func (CreateTask) command()      {}
func (UpdateTask) command()      {}
func (MoveTask) command()        {}
func (DeleteTask) command()      {}
func (RequestSnapshot) command() {}

// Envelope is the wire form of a command.
type Envelope struct {
	Type string                 `json:"type"`
	Data sonic.NoCopyRawMessage `json:"data,omitempty"`
}

// taskFields mirrors the optional task fields of create and update payloads.
// Attachments stay raw so a non-array value can be dropped instead of failing
// the whole command.
type taskFields struct {
	ID          string                 `json:"id"`
	Title       *string                `json:"title"`
	Description *string                `json:"description"`
	Status      *string                `json:"status"`
	Priority    *string                `json:"priority"`
	Category    *string                `json:"category"`
	Attachments sonic.NoCopyRawMessage `json:"attachments"`
}

// Command decodes the envelope payload into its command variant.
func (e Envelope) Command() (Command, error) {
	switch e.Type {
	case EventCreate:
		var f taskFields
		if err := decodeData(e.Data, &f); err != nil {
			return nil, err
		}
		atts, _ := decodeAttachments(f.Attachments)
		return CreateTask{
			Title:       f.Title,
			Description: f.Description,
			Status:      f.Status,
			Priority:    f.Priority,
			Category:    f.Category,
			Attachments: atts,
		}, nil
	case EventUpdate:
		var f taskFields
		if err := decodeData(e.Data, &f); err != nil {
			return nil, err
		}
		cmd := UpdateTask{
			ID:          f.ID,
			Title:       f.Title,
			Description: f.Description,
			Status:      f.Status,
			Priority:    f.Priority,
			Category:    f.Category,
		}
		if atts, ok := decodeAttachments(f.Attachments); ok {
			cmd.Attachments = &atts
		}
		return cmd, nil
	case EventMove:
		var cmd MoveTask
		if err := decodeData(e.Data, &cmd); err != nil {
			return nil, err
		}
		return cmd, nil
	case EventDelete:
		var cmd DeleteTask
		if err := decodeData(e.Data, &cmd); err != nil {
			return nil, err
		}
		return cmd, nil
	case EventRequestSnapshot:
		return RequestSnapshot{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, e.Type)
	}
}

// EncodeCommand renders cmd as a JSON envelope.
func EncodeCommand(cmd Command) ([]byte, error) {
	env := Envelope{Type: cmd.Kind()}
	if _, ok := cmd.(RequestSnapshot); !ok {
		data, err := sonic.ConfigStd.Marshal(cmd)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", cmd.Kind(), err)
		}
		env.Data = data
	}
	return sonic.ConfigStd.Marshal(env)
}

func decodeData(data []byte, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	return sonic.ConfigStd.Unmarshal(data, v)
}

// decodeAttachments reports ok only when raw holds a JSON array of attachments.
func decodeAttachments(raw []byte) ([]Attachment, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '[' {
		return nil, false
	}
	var atts []Attachment
	if err := sonic.ConfigStd.Unmarshal(raw, &atts); err != nil {
		return nil, false
	}
	if atts == nil {
		atts = []Attachment{}
	}
	return atts, true
}
