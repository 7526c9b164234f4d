package storage

import (
	"time"

	"github.com/oklog/ulid/v2"

	"sendboard/internal/schedule"
)

// MessageKind selects how task content is delivered.
type MessageKind string

const (
	KindText MessageKind = "text"
	KindFile MessageKind = "file"
)

// TargetType is the kind of addressable recipient.
type TargetType string

const (
	TargetGroup   TargetType = "group"
	TargetContact TargetType = "contact"
)

// Status is a task's delivery state. Transitions:
// pending -> success (terminal, once), pending -> pending (recurring,
// rescheduled), pending -> failed (terminal, no auto-retry).
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// LogLevel classifies activity-log entries.
type LogLevel string

const (
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// Task is a scheduled unit of delivery.
type Task struct {
	ID         string      `json:"id"`
	TemplateID string      `json:"templateId,omitempty"`
	Kind       MessageKind `json:"type"`
	TargetType TargetType  `json:"targetType"`
	TargetID   string      `json:"targetId"`
	// TargetName is cached at creation time so delivery can fall back to a
	// name lookup when the target id changed upstream.
	TargetName string   `json:"targetName"`
	Content    []string `json:"content"`

	ScheduleTime  time.Time             `json:"scheduleTime"`
	Recurrence    schedule.Recurrence   `json:"recurrence"`
	IntervalValue int                   `json:"intervalValue,omitempty"`
	IntervalUnit  schedule.IntervalUnit `json:"intervalUnit,omitempty"`

	Status    Status     `json:"status"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

// TargetRef is a group/contact reference stored on a template.
type TargetRef struct {
	Type TargetType `json:"type"`
	ID   string     `json:"id"`
	Name string     `json:"name"`
}

// Template is a reusable message preset. It is a factory for tasks: generating
// tasks copies content and recurrence fields into new Task documents bound to
// concrete targets. Deleting a template does not affect tasks it spawned.
type Template struct {
	ID      string      `json:"id"`
	Name    string      `json:"name"`
	Kind    MessageKind `json:"type"`
	Content []string    `json:"content"`
	Targets []TargetRef `json:"targets,omitempty"`

	Recurrence    schedule.Recurrence   `json:"recurrence"`
	IntervalValue int                   `json:"intervalValue,omitempty"`
	IntervalUnit  schedule.IntervalUnit `json:"intervalUnit,omitempty"`
	// TimeOfDay ("HH:MM"), Weekday (1=Monday..7=Sunday) and MonthDay pick the
	// first concrete occurrence when tasks are generated; the recurrence
	// calculator only ever advances an already-concrete instant.
	TimeOfDay string `json:"timeOfDay,omitempty"`
	Weekday   int    `json:"weekday,omitempty"`
	MonthDay  int    `json:"monthDay,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// LogEntry is an append-only audit record. Retention is unbounded at write
// time; the read API exposes only a bounded tail.
type LogEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
	TaskID    string    `json:"taskId,omitempty"`
}

// Document is one tenant's whole store: owned exclusively by that tenant,
// lazily created on first access.
type Document struct {
	Tasks     []Task     `json:"tasks"`
	Templates []Template `json:"templates"`
	Logs      []LogEntry `json:"logs"`
}

// normalize migrates older documents in place: a document written before the
// templates field existed loads with an empty slice, tasks and logs intact.
func (d *Document) normalize() {
	if d.Tasks == nil {
		d.Tasks = []Task{}
	}
	if d.Templates == nil {
		d.Templates = []Template{}
	}
	if d.Logs == nil {
		d.Logs = []LogEntry{}
	}
}

// Clone returns a deep copy so callers can read without racing writers.
func (d *Document) Clone() *Document {
	cp := &Document{
		Tasks:     make([]Task, len(d.Tasks)),
		Templates: make([]Template, len(d.Templates)),
		Logs:      append([]LogEntry(nil), d.Logs...),
	}
	for i, t := range d.Tasks {
		t.Content = append([]string(nil), t.Content...)
		cp.Tasks[i] = t
	}
	for i, t := range d.Templates {
		t.Content = append([]string(nil), t.Content...)
		t.Targets = append([]TargetRef(nil), t.Targets...)
		cp.Templates[i] = t
	}
	if cp.Logs == nil {
		cp.Logs = []LogEntry{}
	}
	return cp
}

// FindTask returns a pointer into d.Tasks, or nil.
func (d *Document) FindTask(id string) *Task {
	for i := range d.Tasks {
		if d.Tasks[i].ID == id {
			return &d.Tasks[i]
		}
	}
	return nil
}

// FindTemplate returns a pointer into d.Templates, or nil.
func (d *Document) FindTemplate(id string) *Template {
	for i := range d.Templates {
		if d.Templates[i].ID == id {
			return &d.Templates[i]
		}
	}
	return nil
}

// NewID mints an opaque, creation-ordered id with a short kind prefix
// (e.g. "task_01J...").
func NewID(prefix string) string {
	id := ulid.Make().String()
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
