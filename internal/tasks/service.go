package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase   = errors.New("tasks: database handle is required")
	errMissingIDProvider = errors.New("tasks: id provider is required")
	errMissingDirectory  = errors.New("tasks: user directory is required")
	noOpLogger           = zap.NewNop()
)

// UserDirectory resolves user ids to display names. Ids without a matching
// user are absent from the result.
type UserDirectory interface {
	DisplayNames(ctx context.Context, ids []uint) (map[uint]string, error)
}

// ServiceConfig describes the dependencies of the task mutation core.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Directory  UserDirectory
	Logger     *zap.Logger
	// Effects receives committed mutations for post-commit side effects.
	// Optional; a nil queue means no notifications or live events.
	Effects *EffectQueue
}

// Service is the sole writer of task rows and activity log entries. Every
// mutating operation runs inside one transaction: the current row is
// re-read under lock, the caller-supplied version is checked, and the row
// change plus exactly one log entry commit together or not at all. Side
// effects (notifications, live events) are handed to the effect queue only
// after the transaction has committed.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	directory  UserDirectory
	logger     *zap.Logger
	effects    *EffectQueue
}

// NewService constructs the task service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	if cfg.Directory == nil {
		return nil, errMissingDirectory
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		directory:  cfg.Directory,
		logger:     logger,
		effects:    cfg.Effects,
	}, nil
}

// CreateTaskInput describes a new task.
type CreateTaskInput struct {
	Title          string
	Description    string
	AssignedUserID *uint
	Deadline       *time.Time
	InitialComment string
}

// Create inserts a new task at version 1 together with its CREATE_TASK log
// entry. After N successful mutations (create included) the task's version
// equals N.
func (s *Service) Create(ctx context.Context, actor Actor, input CreateTaskInput) (TaskView, error) {
	title := strings.TrimSpace(input.Title)
	description := strings.TrimSpace(input.Description)
	if title == "" || description == "" {
		return TaskView{}, newError(KindValidation, "title and description are required")
	}
	if input.AssignedUserID != nil {
		if err := s.ensureUserExists(ctx, *input.AssignedUserID); err != nil {
			return TaskView{}, err
		}
	}

	now := s.clock().UTC()
	task := Task{
		Title:          title,
		Description:    description,
		Status:         StatusOpen,
		AssignedUserID: input.AssignedUserID,
		CreatedByID:    actor.ID,
		Deadline:       input.Deadline,
		CommentsJSON:   "[]",
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if comment := strings.TrimSpace(input.InitialComment); comment != "" {
		if err := task.appendComment(Comment{Author: actor.Name, Text: comment, CreatedAt: now}); err != nil {
			return TaskView{}, internalError("encode initial comment", err)
		}
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&task).Error; err != nil {
			return internalError("task insert failed", err)
		}
		newValue, err := encodeJSONValue(snapshotOf(&task))
		if err != nil {
			return internalError("encode snapshot", err)
		}
		return s.insertLogEntry(tx, task.ID, ActionCreateTask, actor.ID, nil, newValue, now)
	})
	if txErr != nil {
		return TaskView{}, s.failure("create", txErr)
	}

	view := s.view(ctx, &task)
	var orders []NotificationOrder
	if task.AssignedUserID != nil {
		orders = append(orders, NotificationOrder{
			UserID:  *task.AssignedUserID,
			Kind:    notificationKindAssigned,
			Message: fmt.Sprintf("You have been assigned task %q", task.Title),
		})
	}
	s.dispatch(EventTaskCreated, actor, view, assigneeTargets(task.AssignedUserID), orders)
	return view, nil
}

// UpdateDetailsInput carries a partial details update. Nil fields retain
// their prior value; NewComment appends to the comment list.
type UpdateDetailsInput struct {
	Title       *string
	Description *string
	Deadline    *time.Time
	NewComment  string
}

// UpdateDetails applies a partial field update under the version protocol and
// writes one UPDATE_TASK entry whose old/new values are field diffs limited
// to the mutated fields.
func (s *Service) UpdateDetails(ctx context.Context, actor Actor, taskID uint, expectedVersion int64, input UpdateDetailsInput) (TaskView, error) {
	comment := strings.TrimSpace(input.NewComment)
	if input.Title == nil && input.Description == nil && input.Deadline == nil && comment == "" {
		return TaskView{}, newError(KindValidation, "no fields to update")
	}
	if input.Title != nil && strings.TrimSpace(*input.Title) == "" {
		return TaskView{}, newError(KindValidation, "title must not be empty")
	}
	if input.Description != nil && strings.TrimSpace(*input.Description) == "" {
		return TaskView{}, newError(KindValidation, "description must not be empty")
	}

	now := s.clock().UTC()
	var updated Task
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := loadForUpdate(tx, taskID)
		if err != nil {
			return err
		}
		if current.Version != expectedVersion {
			return versionConflict(current.Version, expectedVersion)
		}

		var oldDiff, newDiff FieldDiff
		fields := map[string]any{"updated_at": now}
		if input.Title != nil {
			title := strings.TrimSpace(*input.Title)
			oldDiff.Title = pointerTo(current.Title)
			newDiff.Title = pointerTo(title)
			fields["title"] = title
			current.Title = title
		}
		if input.Description != nil {
			description := strings.TrimSpace(*input.Description)
			oldDiff.Description = pointerTo(current.Description)
			newDiff.Description = pointerTo(description)
			fields["description"] = description
			current.Description = description
		}
		if input.Deadline != nil {
			oldDiff.Deadline = current.Deadline
			newDiff.Deadline = input.Deadline
			fields["deadline"] = input.Deadline
			current.Deadline = input.Deadline
		}
		if comment != "" {
			if err := current.appendComment(Comment{Author: actor.Name, Text: comment, CreatedAt: now}); err != nil {
				return internalError("encode comment", err)
			}
			fields["comments_json"] = current.CommentsJSON
			newDiff.Comment = pointerTo(comment)
		}

		if err := versionGuardedUpdate(tx, current, expectedVersion, fields); err != nil {
			return err
		}

		oldValue, err := encodeJSONValue(oldDiff)
		if err != nil {
			return internalError("encode field diff", err)
		}
		newValue, err := encodeJSONValue(newDiff)
		if err != nil {
			return internalError("encode field diff", err)
		}
		if err := s.insertLogEntry(tx, current.ID, ActionUpdateTask, actor.ID, oldValue, newValue, now); err != nil {
			return err
		}
		current.UpdatedAt = now
		updated = *current
		return nil
	})
	if txErr != nil {
		return TaskView{}, s.failure("update_details", txErr)
	}

	view := s.view(ctx, &updated)
	var orders []NotificationOrder
	if updated.AssignedUserID != nil {
		orders = append(orders, NotificationOrder{
			UserID:  *updated.AssignedUserID,
			Kind:    notificationKindUpdated,
			Message: fmt.Sprintf("Task %q was updated", updated.Title),
		})
	}
	s.dispatch(EventTaskUpdated, actor, view, assigneeTargets(updated.AssignedUserID), orders)
	return view, nil
}

// ChangeStatus advances the task status under the version protocol. The task
// must be assigned, and OPEN may not move directly to DONE; both rules are
// checked before the version so their errors are stable regardless of the
// caller's version.
func (s *Service) ChangeStatus(ctx context.Context, actor Actor, taskID uint, expectedVersion int64, rawStatus string) (TaskView, error) {
	next, err := ParseStatus(rawStatus)
	if err != nil {
		return TaskView{}, err
	}

	now := s.clock().UTC()
	var updated Task
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := loadForUpdate(tx, taskID)
		if err != nil {
			return err
		}
		if current.AssignedUserID == nil {
			return newError(KindPrecondition, "task must be assigned to someone before changing status")
		}
		if !transitionAllowed(current.Status, next) {
			return newError(KindInvalidTransition, fmt.Sprintf("cannot move task from %s to %s", current.Status, next))
		}
		if current.Version != expectedVersion {
			return versionConflict(current.Version, expectedVersion)
		}

		previous := current.Status
		if err := versionGuardedUpdate(tx, current, expectedVersion, map[string]any{
			"status":     next,
			"updated_at": now,
		}); err != nil {
			return err
		}
		if err := s.insertLogEntry(tx, current.ID, ActionStatusChange, actor.ID,
			encodeStatusValue(previous), encodeStatusValue(next), now); err != nil {
			return err
		}
		current.Status = next
		current.UpdatedAt = now
		updated = *current
		return nil
	})
	if txErr != nil {
		return TaskView{}, s.failure("change_status", txErr)
	}

	view := s.view(ctx, &updated)
	orders := []NotificationOrder{{
		UserID:  *updated.AssignedUserID,
		Kind:    notificationKindStatusUpdated,
		Message: fmt.Sprintf("Task %q moved to %s", updated.Title, humanStatus(string(updated.Status))),
	}}
	s.dispatch(EventTaskStatusUpdated, actor, view, assigneeTargets(updated.AssignedUserID), orders)
	return view, nil
}

// Assign changes the assignee (or clears it with nil) under the version
// protocol and writes one ASSIGN_USER entry carrying the old and new ids.
// Only the new assignee is notified.
func (s *Service) Assign(ctx context.Context, actor Actor, taskID uint, expectedVersion int64, assignee *uint) (TaskView, error) {
	if assignee != nil {
		if err := s.ensureUserExists(ctx, *assignee); err != nil {
			return TaskView{}, err
		}
	}

	now := s.clock().UTC()
	var updated Task
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := loadForUpdate(tx, taskID)
		if err != nil {
			return err
		}
		if current.Version != expectedVersion {
			return versionConflict(current.Version, expectedVersion)
		}

		previous := current.AssignedUserID
		if err := versionGuardedUpdate(tx, current, expectedVersion, map[string]any{
			"assigned_user_id": assignee,
			"updated_at":       now,
		}); err != nil {
			return err
		}
		if err := s.insertLogEntry(tx, current.ID, ActionAssignUser, actor.ID,
			encodeAssigneeValue(previous), encodeAssigneeValue(assignee), now); err != nil {
			return err
		}
		current.AssignedUserID = assignee
		current.UpdatedAt = now
		updated = *current
		return nil
	})
	if txErr != nil {
		return TaskView{}, s.failure("assign", txErr)
	}

	view := s.view(ctx, &updated)
	var orders []NotificationOrder
	if assignee != nil {
		orders = append(orders, NotificationOrder{
			UserID:  *assignee,
			Kind:    notificationKindAssigned,
			Message: fmt.Sprintf("You have been assigned task %q", updated.Title),
		})
	}
	s.dispatch(EventTaskAssigned, actor, view, assigneeTargets(assignee), orders)
	return view, nil
}

// Delete writes a terminal DELETE_TASK entry with a full snapshot and removes
// the task row, both in one transaction. Delete follows the same version
// protocol as the other mutations.
func (s *Service) Delete(ctx context.Context, actor Actor, taskID uint, expectedVersion int64) error {
	now := s.clock().UTC()
	var removed Task
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := loadForUpdate(tx, taskID)
		if err != nil {
			return err
		}
		if current.Version != expectedVersion {
			return versionConflict(current.Version, expectedVersion)
		}

		oldValue, err := encodeJSONValue(snapshotOf(current))
		if err != nil {
			return internalError("encode snapshot", err)
		}
		if err := s.insertLogEntry(tx, current.ID, ActionDeleteTask, actor.ID, oldValue, nil, now); err != nil {
			return err
		}
		result := tx.Where("id = ?", current.ID).Delete(&Task{})
		if result.Error != nil {
			return internalError("task delete failed", result.Error)
		}
		if result.RowsAffected == 0 {
			return newError(KindNotFound, "task not found")
		}
		removed = *current
		return nil
	})
	if txErr != nil {
		return s.failure("delete", txErr)
	}

	view := s.view(ctx, &removed)
	var orders []NotificationOrder
	if removed.AssignedUserID != nil {
		orders = append(orders, NotificationOrder{
			UserID:  *removed.AssignedUserID,
			Kind:    notificationKindDeleted,
			Message: fmt.Sprintf("Task %q was deleted", removed.Title),
		})
	}
	s.dispatch(EventTaskDeleted, actor, view, assigneeTargets(removed.AssignedUserID), orders)
	return nil
}

// Get returns a single task.
func (s *Service) Get(ctx context.Context, taskID uint) (TaskView, error) {
	var task Task
	err := s.db.WithContext(ctx).Where("id = ?", taskID).Take(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return TaskView{}, newError(KindNotFound, "task not found")
	}
	if err != nil {
		return TaskView{}, s.failure("get", internalError("task select failed", err))
	}
	return s.view(ctx, &task), nil
}

// List returns all tasks, newest first, with board metrics.
func (s *Service) List(ctx context.Context) (TaskList, error) {
	var rows []Task
	if err := s.db.WithContext(ctx).Order("created_at DESC, id DESC").Find(&rows).Error; err != nil {
		return TaskList{}, s.failure("list", internalError("task query failed", err))
	}

	assigneeIDs := make([]uint, 0, len(rows))
	seen := make(map[uint]bool)
	for _, task := range rows {
		if task.AssignedUserID != nil && !seen[*task.AssignedUserID] {
			seen[*task.AssignedUserID] = true
			assigneeIDs = append(assigneeIDs, *task.AssignedUserID)
		}
	}
	names, err := s.directory.DisplayNames(ctx, assigneeIDs)
	if err != nil {
		return TaskList{}, s.failure("list", internalError("assignee lookup failed", err))
	}

	list := TaskList{Tasks: make([]TaskView, 0, len(rows))}
	for i := range rows {
		task := &rows[i]
		view := baseView(task)
		if task.AssignedUserID != nil {
			view.AssignedUserName = names[*task.AssignedUserID]
		}
		list.Tasks = append(list.Tasks, view)

		list.Metrics.Total++
		switch task.Status {
		case StatusOpen:
			list.Metrics.Open++
		case StatusInProgress:
			list.Metrics.InProgress++
		case StatusDone:
			list.Metrics.Done++
		}
		if task.AssignedUserID != nil {
			list.Metrics.Assigned++
		} else {
			list.Metrics.Unassigned++
		}
	}
	return list, nil
}

func (s *Service) ensureUserExists(ctx context.Context, userID uint) error {
	names, err := s.directory.DisplayNames(ctx, []uint{userID})
	if err != nil {
		return internalError("user lookup failed", err)
	}
	if _, ok := names[userID]; !ok {
		return newError(KindNotFound, fmt.Sprintf("user %d not found", userID))
	}
	return nil
}

func (s *Service) insertLogEntry(tx *gorm.DB, taskID uint, action ActionType, actorID uint, oldValue, newValue *string, at time.Time) error {
	entryID, err := s.idProvider.NewID()
	if err != nil {
		return internalError("id generation failed", err)
	}
	entry := ActivityLogEntry{
		EntryID:    entryID,
		TaskID:     taskID,
		ActionType: action,
		ActorID:    actorID,
		OldValue:   oldValue,
		NewValue:   newValue,
		CreatedAt:  at,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return internalError("activity log insert failed", err)
	}
	return nil
}

func loadForUpdate(tx *gorm.DB, taskID uint) (*Task, error) {
	var task Task
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", taskID).
		Take(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newError(KindNotFound, "task not found")
	}
	if err != nil {
		return nil, internalError("task select failed", err)
	}
	return &task, nil
}

func versionConflict(current, expected int64) *Error {
	return newError(KindConflict, fmt.Sprintf("task is at version %d, caller expected %d; reload and retry", current, expected))
}

// versionGuardedUpdate applies the field changes with the version predicate
// in the WHERE clause. Zero affected rows means another transaction won the
// race between our read and write.
func versionGuardedUpdate(tx *gorm.DB, task *Task, expectedVersion int64, fields map[string]any) error {
	fields["version"] = expectedVersion + 1
	result := tx.Model(&Task{}).
		Where("id = ? AND version = ?", task.ID, expectedVersion).
		Updates(fields)
	if result.Error != nil {
		return internalError("task update failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return versionConflict(task.Version, expectedVersion)
	}
	task.Version = expectedVersion + 1
	return nil
}

// failure normalizes transaction errors: tagged errors pass through, anything
// else is wrapped as internal and logged without leaking detail to the caller.
func (s *Service) failure(operation string, err error) error {
	var taskErr *Error
	if errors.As(err, &taskErr) {
		if taskErr.Kind() == KindInternal {
			s.logger.Error("task operation failed",
				zap.String("operation", operation),
				zap.Error(err))
		}
		return taskErr
	}
	s.logger.Error("task operation failed",
		zap.String("operation", operation),
		zap.Error(err))
	return internalError("storage failure", err)
}

func (s *Service) view(ctx context.Context, task *Task) TaskView {
	view := baseView(task)
	if task.AssignedUserID != nil {
		names, err := s.directory.DisplayNames(ctx, []uint{*task.AssignedUserID})
		if err == nil {
			view.AssignedUserName = names[*task.AssignedUserID]
		}
	}
	return view
}

func baseView(task *Task) TaskView {
	return TaskView{
		ID:             task.ID,
		Title:          task.Title,
		Description:    task.Description,
		Status:         task.Status,
		Version:        task.Version,
		AssignedUserID: task.AssignedUserID,
		CreatedByID:    task.CreatedByID,
		Deadline:       task.Deadline,
		Comments:       task.Comments(),
		CreatedAt:      task.CreatedAt,
		UpdatedAt:      task.UpdatedAt,
	}
}

func assigneeTargets(assignee *uint) []uint {
	if assignee == nil {
		return nil
	}
	return []uint{*assignee}
}

func pointerTo[T any](value T) *T {
	return &value
}
