package tasks

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Status enumerates the task lifecycle states.
type Status string

const (
	StatusOpen       Status = "OPEN"
	StatusInProgress Status = "IN_PROGRESS"
	StatusDone       Status = "DONE"
)

// ParseStatus validates a raw status token.
func ParseStatus(raw string) (Status, error) {
	switch Status(strings.ToUpper(strings.TrimSpace(raw))) {
	case StatusOpen:
		return StatusOpen, nil
	case StatusInProgress:
		return StatusInProgress, nil
	case StatusDone:
		return StatusDone, nil
	default:
		return "", newError(KindValidation, fmt.Sprintf("unknown status %q", raw))
	}
}

// transitionAllowed reports whether a status change is permitted. The only
// forbidden move is OPEN directly to DONE; backward transitions are not
// restricted here.
func transitionAllowed(current, next Status) bool {
	return !(current == StatusOpen && next == StatusDone)
}

// ActionType enumerates activity log entry kinds.
type ActionType string

const (
	ActionCreateTask   ActionType = "CREATE_TASK"
	ActionUpdateTask   ActionType = "UPDATE_TASK"
	ActionStatusChange ActionType = "STATUS_CHANGE"
	ActionAssignUser   ActionType = "ASSIGN_USER"
	ActionDeleteTask   ActionType = "DELETE_TASK"
)

// Actor identifies the authenticated user performing a mutation.
type Actor struct {
	ID   uint
	Name string
	Role string
}

// Comment is one entry in a task's ordered comment list.
type Comment struct {
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Task is the persisted task row. Version increments by exactly one per
// committed mutation; a freshly created task commits at version 1.
type Task struct {
	ID             uint       `gorm:"column:id;primaryKey"`
	Title          string     `gorm:"column:title;size:190;not null"`
	Description    string     `gorm:"column:description;type:text;not null"`
	Status         Status     `gorm:"column:status;size:32;not null;default:OPEN;index"`
	AssignedUserID *uint      `gorm:"column:assigned_user_id;index"`
	CreatedByID    uint       `gorm:"column:created_by;not null"`
	Deadline       *time.Time `gorm:"column:deadline"`
	CommentsJSON   string     `gorm:"column:comments_json;type:text;not null;default:'[]'"`
	Version        int64      `gorm:"column:version;not null;default:0"`
	CreatedAt      time.Time  `gorm:"column:created_at;not null"`
	UpdatedAt      time.Time  `gorm:"column:updated_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Task) TableName() string {
	return "tasks"
}

// Comments decodes the stored comment list. Corrupt payloads yield an empty list.
func (t *Task) Comments() []Comment {
	if strings.TrimSpace(t.CommentsJSON) == "" {
		return []Comment{}
	}
	var comments []Comment
	if err := json.Unmarshal([]byte(t.CommentsJSON), &comments); err != nil {
		return []Comment{}
	}
	return comments
}

func (t *Task) appendComment(comment Comment) error {
	comments := append(t.Comments(), comment)
	encoded, err := json.Marshal(comments)
	if err != nil {
		return err
	}
	t.CommentsJSON = string(encoded)
	return nil
}

// ActivityLogEntry is one immutable audit record for a task mutation. The
// old/new value columns hold an opaque encoding keyed by ActionType; see
// logvalue.go for the per-action payloads.
type ActivityLogEntry struct {
	EntryID    string     `gorm:"column:entry_id;primaryKey;size:190;not null"`
	TaskID     uint       `gorm:"column:task_id;not null;index:idx_activity_task_time,priority:1"`
	ActionType ActionType `gorm:"column:action_type;size:32;not null"`
	ActorID    uint       `gorm:"column:actor_id;not null"`
	OldValue   *string    `gorm:"column:old_value;type:text"`
	NewValue   *string    `gorm:"column:new_value;type:text"`
	CreatedAt  time.Time  `gorm:"column:created_at;not null;index:idx_activity_task_time,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (ActivityLogEntry) TableName() string {
	return "activity_logs"
}

// TaskView is the outward task representation shared by HTTP responses and
// live-event payloads, so clients can always overwrite by id.
type TaskView struct {
	ID               uint       `json:"id"`
	Title            string     `json:"title"`
	Description      string     `json:"description"`
	Status           Status     `json:"status"`
	Version          int64      `json:"version"`
	AssignedUserID   *uint      `json:"assigned_user_id"`
	AssignedUserName string     `json:"assigned_user_name,omitempty"`
	CreatedByID      uint       `json:"created_by"`
	Deadline         *time.Time `json:"deadline,omitempty"`
	Comments         []Comment  `json:"comments"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Metrics summarizes the task table for the list endpoint.
type Metrics struct {
	Total      int64 `json:"total"`
	Open       int64 `json:"open"`
	InProgress int64 `json:"in_progress"`
	Done       int64 `json:"done"`
	Assigned   int64 `json:"assigned"`
	Unassigned int64 `json:"unassigned"`
}

// TaskList bundles the task collection with its metrics.
type TaskList struct {
	Tasks   []TaskView `json:"tasks"`
	Metrics Metrics    `json:"metrics"`
}
