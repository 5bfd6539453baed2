package tasks

import (
	"encoding/json"
	"strconv"
	"time"
)

// The old/new value columns of an activity log entry hold one payload shape
// per action type:
//
//	STATUS_CHANGE  bare status token ("OPEN", "IN_PROGRESS", "DONE")
//	ASSIGN_USER    decimal user id, or NULL when unassigned
//	UPDATE_TASK    FieldDiff JSON restricted to the mutated fields
//	CREATE_TASK    Snapshot JSON in new_value, NULL old_value
//	DELETE_TASK    Snapshot JSON in old_value, NULL new_value
//
// Values are written by the mutator and decoded only at the display boundary
// in history.go.

// FieldDiff captures the mutated detail fields of an UPDATE_TASK entry. Only
// fields present in the update appear on either side of the diff.
type FieldDiff struct {
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	Deadline    *time.Time `json:"deadline,omitempty"`
	Comment     *string    `json:"comment,omitempty"`
}

// Snapshot is the full task state recorded on create and delete.
type Snapshot struct {
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	Status         Status     `json:"status"`
	AssignedUserID *uint      `json:"assigned_user_id"`
	Deadline       *time.Time `json:"deadline,omitempty"`
	Version        int64      `json:"version"`
}

func snapshotOf(task *Task) Snapshot {
	return Snapshot{
		Title:          task.Title,
		Description:    task.Description,
		Status:         task.Status,
		AssignedUserID: task.AssignedUserID,
		Deadline:       task.Deadline,
		Version:        task.Version,
	}
}

func encodeStatusValue(status Status) *string {
	value := string(status)
	return &value
}

func encodeAssigneeValue(userID *uint) *string {
	if userID == nil {
		return nil
	}
	value := strconv.FormatUint(uint64(*userID), 10)
	return &value
}

func decodeAssigneeValue(value *string) (uint, bool) {
	if value == nil {
		return 0, false
	}
	parsed, err := strconv.ParseUint(*value, 10, 64)
	if err != nil {
		return 0, false
	}
	return uint(parsed), true
}

func encodeJSONValue(payload any) (*string, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	value := string(encoded)
	return &value, nil
}
