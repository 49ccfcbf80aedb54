package board

import (
	"strconv"

	"taskboard/board-api/domain"
)

// Board is the authoritative task collection. It is not safe for concurrent
// use; the Authority owns it and touches it from a single goroutine.
type Board struct {
	tasks    []domain.Task
	nextID   uint64
	revision uint64
}

// NewBoard returns an empty board whose first task id is "1".
func NewBoard() *Board {
	return &Board{tasks: []domain.Task{}, nextID: 1}
}

// Create appends a task built from c, defaulting absent fields, and returns a
// copy of it.
func (b *Board) Create(c domain.CreateTask) domain.Task {
	id := strconv.FormatUint(b.nextID, 10)
	b.nextID++

	task := domain.Task{
		ID:          id,
		Title:       valueOr(c.Title, ""),
		Description: valueOr(c.Description, ""),
		Status:      valueOr(c.Status, domain.StatusTodo),
		Priority:    valueOr(c.Priority, domain.PriorityMedium),
		Category:    valueOr(c.Category, domain.CategoryFeature),
		Attachments: domain.CloneAttachments(c.Attachments),
	}
	b.tasks = append(b.tasks, task)
	b.revision++
	return task.Clone()
}

// Update merges the provided fields into the matching task. The stored id is
// never changed. It reports whether a task matched.
func (b *Board) Update(c domain.UpdateTask) bool {
	i := b.indexOf(c.ID)
	if i < 0 {
		return false
	}
	t := &b.tasks[i]
	setIf(&t.Title, c.Title)
	setIf(&t.Description, c.Description)
	setIf(&t.Status, c.Status)
	setIf(&t.Priority, c.Priority)
	setIf(&t.Category, c.Category)
	if c.Attachments != nil {
		t.Attachments = domain.CloneAttachments(*c.Attachments)
	}
	b.revision++
	return true
}

// Move overwrites only the status of the matching task.
func (b *Board) Move(c domain.MoveTask) bool {
	if c.Status == "" {
		return false
	}
	i := b.indexOf(c.ID)
	if i < 0 {
		return false
	}
	b.tasks[i].Status = c.Status
	b.revision++
	return true
}

// Delete removes the first task with the given id and reports whether the
// collection shrank.
func (b *Board) Delete(c domain.DeleteTask) bool {
	i := b.indexOf(c.ID)
	if i < 0 {
		return false
	}
	b.tasks = append(b.tasks[:i], b.tasks[i+1:]...)
	b.revision++
	return true
}

// Snapshot returns a deep copy of the collection at the current revision.
func (b *Board) Snapshot() domain.Snapshot {
	return domain.Snapshot{Revision: b.revision, Tasks: domain.CloneTasks(b.tasks)}
}

// Len returns the number of tasks on the board.
func (b *Board) Len() int { return len(b.tasks) }

func (b *Board) indexOf(id string) int {
	if id == "" {
		return -1
	}
	for i := range b.tasks {
		if b.tasks[i].ID == id {
			return i
		}
	}
	return -1
}

func valueOr(v *string, def string) string {
	if v == nil {
		return def
	}
	return *v
}

func setIf(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}
