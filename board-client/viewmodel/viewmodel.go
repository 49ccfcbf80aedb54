// Package viewmodel holds the client side of the board: a mirror of the last
// snapshot, per-card edit overrides, and the create form draft.
package viewmodel

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"taskboard/board-api/domain"
)

var (
	ErrDisconnected  = errors.New("not connected to the board")
	ErrTitleRequired = errors.New("title is required")
	ErrEditing       = errors.New("task is being edited")
	ErrNotEditing    = errors.New("task is not being edited")
	ErrUnknownTask   = errors.New("unknown task")
	ErrUnknownStatus = errors.New("unknown status")
	ErrUnknownField  = errors.New("unknown field")
)

// Editable card and draft fields.
const (
	FieldTitle       = "title"
	FieldDescription = "description"
	FieldPriority    = "priority"
	FieldCategory    = "category"
)

// Sender delivers commands to the authority. Delivery is at most once.
type Sender interface {
	Send(ctx context.Context, cmd domain.Command) error
}

// FileInfo describes a file picked for attachment. Only metadata is kept.
type FileInfo struct {
	Name string
	Type string
}

// Draft is the create form.
type Draft struct {
	Title       string
	Description string
	Priority    string
	Category    string
	Attachments []domain.Attachment
}

// Column is one board column with the tasks rendered in it.
type Column struct {
	Status string
	Tasks  []domain.Task
}

// Progress summarizes the board per column.
type Progress struct {
	Counts     map[string]int
	Total      int
	Completion int
}

// ViewModel is safe for concurrent use: snapshots arrive from the transport
// goroutine while the UI calls actions.
type ViewModel struct {
	sender Sender
	now    func() time.Time

	mu         sync.Mutex
	mirror     []domain.Task
	overrides  map[string]domain.Task
	connected  bool
	loading    bool
	loaded     chan struct{}
	loadedOnce sync.Once
	draft      Draft
	titleError bool
}

// New returns a view model in the loading state with an empty board.
func New(sender Sender) *ViewModel {
	if sender == nil {
		panic("viewmodel.New: sender is nil")
	}
	return &ViewModel{
		sender:    sender,
		now:       time.Now,
		mirror:    []domain.Task{},
		overrides: make(map[string]domain.Task),
		loading:   true,
		loaded:    make(chan struct{}),
		draft:     emptyDraft(),
	}
}

func emptyDraft() Draft {
	return Draft{
		Priority:    domain.PriorityMedium,
		Category:    domain.CategoryFeature,
		Attachments: []domain.Attachment{},
	}
}

// ApplySnapshot replaces the mirror. Cards under edit keep their override
// unless the task no longer exists.
func (vm *ViewModel) ApplySnapshot(tasks []domain.Task) {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	vm.mirror = domain.CloneTasks(tasks)
	for id := range vm.overrides {
		if vm.indexOf(id) < 0 {
			delete(vm.overrides, id)
		}
	}
	vm.finishLoading()
}

// LoadingTimedOut ends the loading state without a snapshot.
func (vm *ViewModel) LoadingTimedOut() {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.finishLoading()
}

// Loaded is closed once the first snapshot arrives or loading times out.
func (vm *ViewModel) Loaded() <-chan struct{} {
	return vm.loaded
}

func (vm *ViewModel) finishLoading() {
	vm.loading = false
	vm.loadedOnce.Do(func() { close(vm.loaded) })
}

// Loading reports whether the board is still waiting for its first snapshot.
func (vm *ViewModel) Loading() bool {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.loading
}

// SetConnected records the transport state.
func (vm *ViewModel) SetConnected(connected bool) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.connected = connected
}

// Connected reports the transport state.
func (vm *ViewModel) Connected() bool {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.connected
}

// Editing reports whether id has an active override.
func (vm *ViewModel) Editing(id string) bool {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	_, ok := vm.overrides[id]
	return ok
}

// StartEdit copies the mirrored task into an override.
func (vm *ViewModel) StartEdit(id string) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	if _, ok := vm.overrides[id]; ok {
		return nil
	}
	i := vm.indexOf(id)
	if i < 0 {
		return fmt.Errorf("%w: %q", ErrUnknownTask, id)
	}
	vm.overrides[id] = vm.mirror[i].Clone()
	return nil
}

// EditField changes one field of the override for id. The mirror is untouched.
func (vm *ViewModel) EditField(id, field, value string) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	task, ok := vm.overrides[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotEditing, id)
	}
	switch field {
	case FieldTitle:
		task.Title = value
	case FieldDescription:
		task.Description = value
	case FieldPriority:
		task.Priority = value
	case FieldCategory:
		task.Category = value
	default:
		return fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	vm.overrides[id] = task
	return nil
}

// SaveEdit sends the override's editable fields, writes it into the mirror
// and leaves edit mode.
func (vm *ViewModel) SaveEdit(ctx context.Context, id string) error {
	vm.mu.Lock()
	if !vm.connected {
		vm.mu.Unlock()
		return ErrDisconnected
	}
	task, ok := vm.overrides[id]
	if !ok {
		vm.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrNotEditing, id)
	}
	if i := vm.indexOf(id); i >= 0 {
		vm.mirror[i] = task
	}
	delete(vm.overrides, id)
	vm.mu.Unlock()

	return vm.send(ctx, domain.UpdateTask{
		ID:          task.ID,
		Title:       &task.Title,
		Description: &task.Description,
		Priority:    &task.Priority,
		Category:    &task.Category,
	})
}

// CancelEdit drops the override and asks for a fresh snapshot.
func (vm *ViewModel) CancelEdit(ctx context.Context, id string) error {
	vm.mu.Lock()
	_, ok := vm.overrides[id]
	delete(vm.overrides, id)
	connected := vm.connected
	vm.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %q", ErrNotEditing, id)
	}
	if !connected {
		return nil
	}
	return vm.send(ctx, domain.RequestSnapshot{})
}

// Draft returns a copy of the create form.
func (vm *ViewModel) Draft() Draft {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	d := vm.draft
	d.Attachments = domain.CloneAttachments(vm.draft.Attachments)
	return d
}

// TitleError reports whether the last create attempt had a blank title.
func (vm *ViewModel) TitleError() bool {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.titleError
}

// SetDraftField changes one field of the create form.
func (vm *ViewModel) SetDraftField(field, value string) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	switch field {
	case FieldTitle:
		vm.draft.Title = value
		vm.titleError = false
	case FieldDescription:
		vm.draft.Description = value
	case FieldPriority:
		vm.draft.Priority = value
	case FieldCategory:
		vm.draft.Category = value
	default:
		return fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	return nil
}

// AttachFiles replaces the draft attachments with files. No bytes are read.
func (vm *ViewModel) AttachFiles(files []FileInfo) {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	stamp := vm.now().UnixMilli()
	atts := make([]domain.Attachment, len(files))
	for i, f := range files {
		atts[i] = domain.Attachment{
			ID:      fmt.Sprintf("%s-%d-%d", f.Name, i, stamp),
			Name:    f.Name,
			Type:    f.Type,
			IsImage: strings.HasPrefix(f.Type, "image/"),
		}
	}
	vm.draft.Attachments = atts
}

// CreateTask sends the draft as a new task and resets the form. The task only
// appears once the authority broadcasts it.
func (vm *ViewModel) CreateTask(ctx context.Context) error {
	vm.mu.Lock()
	vm.titleError = false
	if strings.TrimSpace(vm.draft.Title) == "" {
		vm.titleError = true
		vm.mu.Unlock()
		return ErrTitleRequired
	}
	if !vm.connected {
		vm.mu.Unlock()
		return ErrDisconnected
	}
	d := vm.draft
	vm.draft = emptyDraft()
	vm.mu.Unlock()

	status := domain.StatusTodo
	return vm.send(ctx, domain.CreateTask{
		Title:       &d.Title,
		Description: &d.Description,
		Status:      &status,
		Priority:    &d.Priority,
		Category:    &d.Category,
		Attachments: domain.CloneAttachments(d.Attachments),
	})
}

// DeleteTask asks the authority to remove id. An active edit of id is dropped.
func (vm *ViewModel) DeleteTask(ctx context.Context, id string) error {
	vm.mu.Lock()
	if !vm.connected {
		vm.mu.Unlock()
		return ErrDisconnected
	}
	delete(vm.overrides, id)
	vm.mu.Unlock()

	return vm.send(ctx, domain.DeleteTask{ID: id})
}

// MoveTask asks the authority to put id in the status column.
func (vm *ViewModel) MoveTask(ctx context.Context, id, status string) error {
	if !domain.IsKnownStatus(status) {
		return fmt.Errorf("%w: %q", ErrUnknownStatus, status)
	}
	vm.mu.Lock()
	if !vm.connected {
		vm.mu.Unlock()
		return ErrDisconnected
	}
	if _, ok := vm.overrides[id]; ok {
		vm.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrEditing, id)
	}
	vm.mu.Unlock()

	return vm.send(ctx, domain.MoveTask{ID: id, Status: status})
}

// Tasks returns the rendered tasks in mirror order, overrides applied.
func (vm *ViewModel) Tasks() []domain.Task {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.rendered()
}

// Columns groups the rendered tasks by column in display order.
func (vm *ViewModel) Columns() []Column {
	tasks := vm.Tasks()
	cols := make([]Column, len(domain.Statuses))
	index := make(map[string]int, len(domain.Statuses))
	for i, s := range domain.Statuses {
		cols[i] = Column{Status: s, Tasks: []domain.Task{}}
		index[s] = i
	}
	for _, t := range tasks {
		i := index[domain.ColumnOf(t.Status)]
		cols[i].Tasks = append(cols[i].Tasks, t)
	}
	return cols
}

// Progress counts tasks per column and the share of done tasks.
func (vm *ViewModel) Progress() Progress {
	tasks := vm.Tasks()
	p := Progress{Counts: make(map[string]int, len(domain.Statuses)), Total: len(tasks)}
	for _, s := range domain.Statuses {
		p.Counts[s] = 0
	}
	for _, t := range tasks {
		p.Counts[domain.ColumnOf(t.Status)]++
	}
	total := p.Total
	if total == 0 {
		total = 1
	}
	p.Completion = int(math.Round(float64(p.Counts[domain.StatusDone]) * 100 / float64(total)))
	return p
}

func (vm *ViewModel) rendered() []domain.Task {
	out := make([]domain.Task, len(vm.mirror))
	for i, t := range vm.mirror {
		if o, ok := vm.overrides[t.ID]; ok {
			t = o
		}
		out[i] = t.Clone()
	}
	return out
}

func (vm *ViewModel) indexOf(id string) int {
	for i := range vm.mirror {
		if vm.mirror[i].ID == id {
			return i
		}
	}
	return -1
}

func (vm *ViewModel) send(ctx context.Context, cmd domain.Command) error {
	if err := vm.sender.Send(ctx, cmd); err != nil {
		return fmt.Errorf("send %s: %w", cmd.Kind(), err)
	}
	return nil
}
