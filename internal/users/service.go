package users

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/harborlabs/taskdeck/backend/internal/auth"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase = errors.New("users: database handle is required")

	// ErrInvalidInput indicates missing or malformed user fields.
	ErrInvalidInput = errors.New("users: name, email and password are required")
	// ErrEmailTaken indicates the email is already registered.
	ErrEmailTaken = errors.New("users: email already exists")
	// ErrNotFound indicates the referenced user does not exist.
	ErrNotFound = errors.New("users: user not found")
	// ErrInvalidCredentials indicates a failed email/password login.
	ErrInvalidCredentials = errors.New("users: invalid credentials")
)

// ServiceConfig describes the dependencies of the user directory.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service manages workspace users and credential checks.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewService constructs the user service.
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

// CreateInput describes a new user registration.
type CreateInput struct {
	Name     string
	Email    string
	Password string
	Role     string
}

// Create registers a new user with a unique email and hashed password.
func (s *Service) Create(ctx context.Context, input CreateInput) (Profile, error) {
	name := strings.TrimSpace(input.Name)
	email := normalizeEmail(input.Email)
	if name == "" || email == "" {
		return Profile{}, ErrInvalidInput
	}

	hash, err := auth.HashPassword(input.Password)
	if err != nil {
		return Profile{}, err
	}

	role := strings.TrimSpace(input.Role)
	if role != auth.RoleAdmin {
		role = auth.RoleMember
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&User{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return Profile{}, err
	}
	if count > 0 {
		return Profile{}, ErrEmailTaken
	}

	now := s.clock().UTC()
	user := User{
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		s.logger.Error("user insert failed", zap.String("email", email), zap.Error(err))
		return Profile{}, err
	}
	return user.profile(), nil
}

// List returns every user with their task counts, newest first.
func (s *Service) List(ctx context.Context) ([]ProfileWithCounts, error) {
	var users []User
	if err := s.db.WithContext(ctx).Order("created_at DESC, id DESC").Find(&users).Error; err != nil {
		return nil, err
	}

	type countRow struct {
		AssignedUserID uint
		Status         string
		Total          int64
	}
	var counts []countRow
	err := s.db.WithContext(ctx).
		Table("tasks").
		Select("assigned_user_id, status, COUNT(*) AS total").
		Where("assigned_user_id IS NOT NULL").
		Group("assigned_user_id, status").
		Scan(&counts).Error
	if err != nil {
		return nil, err
	}

	totals := make(map[uint]*ProfileWithCounts, len(users))
	profiles := make([]ProfileWithCounts, 0, len(users))
	for _, user := range users {
		profiles = append(profiles, ProfileWithCounts{Profile: user.profile()})
	}
	for i := range profiles {
		totals[profiles[i].ID] = &profiles[i]
	}
	for _, row := range counts {
		profile, ok := totals[row.AssignedUserID]
		if !ok {
			continue
		}
		profile.TotalTasks += row.Total
		switch row.Status {
		case "IN_PROGRESS":
			profile.InProgressTasks += row.Total
		case "DONE":
			profile.CompletedTasks += row.Total
		}
	}
	return profiles, nil
}

// Get returns a single user profile.
func (s *Service) Get(ctx context.Context, id uint) (Profile, error) {
	var user User
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Profile{}, ErrNotFound
	}
	if err != nil {
		return Profile{}, err
	}
	return user.profile(), nil
}

// UpdateInput carries the editable user fields.
type UpdateInput struct {
	Name  string
	Email string
}

// Update changes a user's name and email.
func (s *Service) Update(ctx context.Context, id uint, input UpdateInput) (Profile, error) {
	name := strings.TrimSpace(input.Name)
	email := normalizeEmail(input.Email)
	if name == "" || email == "" {
		return Profile{}, ErrInvalidInput
	}

	var user User
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Profile{}, ErrNotFound
	}
	if err != nil {
		return Profile{}, err
	}

	if email != user.Email {
		var count int64
		if err := s.db.WithContext(ctx).Model(&User{}).Where("email = ? AND id <> ?", email, id).Count(&count).Error; err != nil {
			return Profile{}, err
		}
		if count > 0 {
			return Profile{}, ErrEmailTaken
		}
	}

	user.Name = name
	user.Email = email
	user.UpdatedAt = s.clock().UTC()
	if err := s.db.WithContext(ctx).Save(&user).Error; err != nil {
		return Profile{}, err
	}
	return user.profile(), nil
}

// Delete removes a user.
func (s *Service) Delete(ctx context.Context, id uint) error {
	result := s.db.WithContext(ctx).Where("id = ?", id).Delete(&User{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Authenticate resolves email/password credentials to a profile. Failures are
// indistinguishable between unknown email and wrong password.
func (s *Service) Authenticate(ctx context.Context, email, password string) (Profile, error) {
	var user User
	err := s.db.WithContext(ctx).Where("email = ?", normalizeEmail(email)).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Profile{}, ErrInvalidCredentials
	}
	if err != nil {
		return Profile{}, err
	}
	if err := auth.ComparePassword(user.PasswordHash, password); err != nil {
		return Profile{}, ErrInvalidCredentials
	}
	return user.profile(), nil
}

// DisplayNames resolves user ids to display names. Ids without a matching
// user are absent from the result, letting callers render a placeholder.
func (s *Service) DisplayNames(ctx context.Context, ids []uint) (map[uint]string, error) {
	names := make(map[uint]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}
	var users []User
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, err
	}
	for _, user := range users {
		names[user.ID] = user.Name
	}
	return names, nil
}

// EnsureAdmin creates the bootstrap admin account when no users exist yet.
func (s *Service) EnsureAdmin(ctx context.Context, name, email, password string) error {
	if strings.TrimSpace(email) == "" {
		return nil
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&User{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	_, err := s.Create(ctx, CreateInput{Name: name, Email: email, Password: password, Role: auth.RoleAdmin})
	if err != nil {
		return err
	}
	s.logger.Info("bootstrap admin created", zap.String("email", normalizeEmail(email)))
	return nil
}
