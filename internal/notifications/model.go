package notifications

import "time"

// Kinds of notifications generated by committed task mutations.
const (
	KindTaskAssigned      = "task_assigned"
	KindTaskUpdated       = "task_updated"
	KindTaskStatusUpdated = "task_status_updated"
	KindTaskDeleted       = "task_deleted"
)

// Notification is one row in a user's inbox. Rows are created strictly after
// the originating mutation commits and are only ever mutated by MarkRead.
type Notification struct {
	ID        uint      `gorm:"column:id;primaryKey" json:"id"`
	UserID    uint      `gorm:"column:user_id;not null;index:idx_notifications_user_time,priority:1" json:"user_id"`
	TaskID    *uint     `gorm:"column:task_id" json:"task_id"`
	Kind      string    `gorm:"column:type;size:64;not null" json:"type"`
	Message   string    `gorm:"column:message;type:text;not null" json:"message"`
	IsRead    bool      `gorm:"column:is_read;not null;default:false" json:"is_read"`
	CreatedAt time.Time `gorm:"column:created_at;not null;index:idx_notifications_user_time,priority:2" json:"created_at"`
}

// TableName provides the explicit table binding for GORM.
func (Notification) TableName() string {
	return "notifications"
}
