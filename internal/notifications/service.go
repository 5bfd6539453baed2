package notifications

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase = errors.New("notifications: database handle is required")
	// ErrInvalidInput indicates a create request with missing target or message.
	ErrInvalidInput = errors.New("notifications: user id and message are required")
)

// ServiceConfig describes the dependencies of the notification store.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service persists and queries per-user notification inboxes.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewService constructs the notification service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, clock: clock, logger: logger}, nil
}

// CreateInput describes one notification to persist.
type CreateInput struct {
	UserID  uint
	TaskID  *uint
	Kind    string
	Message string
}

// Create inserts one unread notification row.
func (s *Service) Create(ctx context.Context, input CreateInput) (Notification, error) {
	if input.UserID == 0 || strings.TrimSpace(input.Message) == "" {
		return Notification{}, ErrInvalidInput
	}
	notification := Notification{
		UserID:    input.UserID,
		TaskID:    input.TaskID,
		Kind:      input.Kind,
		Message:   input.Message,
		IsRead:    false,
		CreatedAt: s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&notification).Error; err != nil {
		s.logger.Error("notification insert failed",
			zap.Uint("user_id", input.UserID),
			zap.String("type", input.Kind),
			zap.Error(err))
		return Notification{}, err
	}
	return notification, nil
}

// ListForUser returns the user's notifications, newest first.
func (s *Service) ListForUser(ctx context.Context, userID uint, onlyUnread bool) ([]Notification, error) {
	query := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if onlyUnread {
		query = query.Where("is_read = ?", false)
	}
	var rows []Notification
	if err := query.Order("created_at DESC, id DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// MarkRead flags the given notifications as read. The update is strictly
// scoped to rows owned by the requesting user; foreign ids are ignored.
// Returns the number of rows updated.
func (s *Service) MarkRead(ctx context.Context, userID uint, ids []uint) (int64, error) {
	if userID == 0 || len(ids) == 0 {
		return 0, nil
	}
	result := s.db.WithContext(ctx).
		Model(&Notification{}).
		Where("user_id = ? AND id IN ?", userID, ids).
		Update("is_read", true)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
