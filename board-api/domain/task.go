package domain

import "slices"

// Task represents a single card on the board.
type Task struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Status      string       `json:"status"`
	Priority    string       `json:"priority"`
	Category    string       `json:"category"`
	Attachments []Attachment `json:"attachments"`
}

// Attachment describes a file picked on the client. Bytes are never uploaded,
// so URL is normally nil.
type Attachment struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Type    string  `json:"type"`
	URL     *string `json:"url"`
	IsImage bool    `json:"isImage,omitempty"`
}

const (
	StatusTodo       = "todo"
	StatusInProgress = "in-progress"
	StatusDone       = "done"
)

const (
	PriorityLow    = "Low"
	PriorityMedium = "Medium"
	PriorityHigh   = "High"
)

const (
	CategoryBug         = "Bug"
	CategoryFeature     = "Feature"
	CategoryEnhancement = "Enhancement"
)

// Statuses lists the board columns in display order.
var Statuses = []string{StatusTodo, StatusInProgress, StatusDone}

var (
	Priorities = []string{PriorityLow, PriorityMedium, PriorityHigh}
	Categories = []string{CategoryBug, CategoryFeature, CategoryEnhancement}
)

// IsKnownStatus reports whether s names one of the board columns.
func IsKnownStatus(s string) bool {
	return slices.Contains(Statuses, s)
}

// IsKnownPriority reports whether p is a recognized priority.
func IsKnownPriority(p string) bool {
	return slices.Contains(Priorities, p)
}

// IsKnownCategory reports whether c is a recognized category.
func IsKnownCategory(c string) bool {
	return slices.Contains(Categories, c)
}

// ColumnOf returns the column a task with the given status renders in.
// Unrecognized values fall back to the todo column; the stored status is left
// untouched.
func ColumnOf(status string) string {
	if IsKnownStatus(status) {
		return status
	}
	return StatusTodo
}

// Clone returns a deep copy of t.
func (t Task) Clone() Task {
	out := t
	out.Attachments = CloneAttachments(t.Attachments)
	return out
}

// CloneAttachments copies attachments, never returning nil so the list always
// encodes as a JSON array.
func CloneAttachments(in []Attachment) []Attachment {
	out := make([]Attachment, len(in))
	for i, a := range in {
		if a.URL != nil {
			u := *a.URL
			a.URL = &u
		}
		out[i] = a
	}
	return out
}

// CloneTasks deep copies a task list. The result is never nil.
func CloneTasks(in []Task) []Task {
	out := make([]Task, len(in))
	for i, t := range in {
		out[i] = t.Clone()
	}
	return out
}

// Snapshot is the full collection at a given revision.
type Snapshot struct {
	Revision uint64 `json:"revision"`
	Tasks    []Task `json:"tasks"`
}
