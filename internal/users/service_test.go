package users

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/harborlabs/taskdeck/backend/internal/auth"
	"gorm.io/gorm"
)

type taskRow struct {
	ID             uint   `gorm:"primaryKey"`
	AssignedUserID *uint  `gorm:"column:assigned_user_id"`
	Status         string `gorm:"column:status"`
}

func (taskRow) TableName() string { return "tasks" }

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:users_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&User{}, &taskRow{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	service, err := NewService(ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service, db
}

func mustCreateUser(t *testing.T, service *Service, name, email, role string) Profile {
	t.Helper()
	profile, err := service.Create(context.Background(), CreateInput{
		Name:     name,
		Email:    email,
		Password: "a-long-password",
		Role:     role,
	})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	return profile
}

func TestCreateRejectsDuplicateEmail(t *testing.T) {
	service, _ := newTestService(t)
	mustCreateUser(t, service, "First", "dup@example.com", auth.RoleMember)

	_, err := service.Create(context.Background(), CreateInput{
		Name:     "Second",
		Email:    "DUP@example.com",
		Password: "a-long-password",
	})
	if !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected email taken error, got %v", err)
	}
}

func TestCreateNormalizesRole(t *testing.T) {
	service, _ := newTestService(t)
	profile := mustCreateUser(t, service, "Odd Role", "odd@example.com", "superuser")
	if profile.Role != auth.RoleMember {
		t.Fatalf("expected unknown role to normalize to member, got %q", profile.Role)
	}
}

func TestAuthenticate(t *testing.T) {
	service, _ := newTestService(t)
	mustCreateUser(t, service, "Login User", "login@example.com", auth.RoleMember)

	profile, err := service.Authenticate(context.Background(), "Login@Example.com", "a-long-password")
	if err != nil {
		t.Fatalf("unexpected authenticate error: %v", err)
	}
	if profile.Name != "Login User" {
		t.Fatalf("unexpected profile: %+v", profile)
	}

	if _, err := service.Authenticate(context.Background(), "login@example.com", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if _, err := service.Authenticate(context.Background(), "missing@example.com", "a-long-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials for unknown email, got %v", err)
	}
}

func TestListIncludesTaskCounts(t *testing.T) {
	service, db := newTestService(t)
	worker := mustCreateUser(t, service, "Worker", "worker@example.com", auth.RoleMember)
	mustCreateUser(t, service, "Idle", "idle@example.com", auth.RoleMember)

	rows := []taskRow{
		{AssignedUserID: &worker.ID, Status: "IN_PROGRESS"},
		{AssignedUserID: &worker.ID, Status: "DONE"},
		{AssignedUserID: &worker.ID, Status: "OPEN"},
	}
	for i := range rows {
		if err := db.Create(&rows[i]).Error; err != nil {
			t.Fatalf("failed to seed task row: %v", err)
		}
	}

	profiles, err := service.List(context.Background())
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(profiles) != 2 {
		t.Fatalf("expected 2 users, got %d", len(profiles))
	}
	for _, profile := range profiles {
		switch profile.Email {
		case "worker@example.com":
			if profile.TotalTasks != 3 || profile.InProgressTasks != 1 || profile.CompletedTasks != 1 {
				t.Fatalf("unexpected counts for worker: %+v", profile)
			}
		case "idle@example.com":
			if profile.TotalTasks != 0 {
				t.Fatalf("expected zero tasks for idle user, got %+v", profile)
			}
		}
	}
}

func TestDisplayNamesSkipsMissingUsers(t *testing.T) {
	service, _ := newTestService(t)
	known := mustCreateUser(t, service, "Known", "known@example.com", auth.RoleMember)

	names, err := service.DisplayNames(context.Background(), []uint{known.ID, 9999})
	if err != nil {
		t.Fatalf("unexpected display names error: %v", err)
	}
	if names[known.ID] != "Known" {
		t.Fatalf("expected known user resolved, got %+v", names)
	}
	if _, ok := names[9999]; ok {
		t.Fatal("expected missing user to be absent from result")
	}
}

func TestUpdateAndDelete(t *testing.T) {
	service, _ := newTestService(t)
	profile := mustCreateUser(t, service, "Before", "before@example.com", auth.RoleMember)

	updated, err := service.Update(context.Background(), profile.ID, UpdateInput{Name: "After", Email: "after@example.com"})
	if err != nil {
		t.Fatalf("unexpected update error: %v", err)
	}
	if updated.Name != "After" || updated.Email != "after@example.com" {
		t.Fatalf("unexpected updated profile: %+v", updated)
	}

	if err := service.Delete(context.Background(), profile.ID); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	if err := service.Delete(context.Background(), profile.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
	if _, err := service.Get(context.Background(), profile.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestEnsureAdminBootstrapsOnce(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	if err := service.EnsureAdmin(ctx, "Root", "root@example.com", "a-long-password"); err != nil {
		t.Fatalf("unexpected ensure admin error: %v", err)
	}
	profiles, err := service.List(ctx)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(profiles) != 1 || profiles[0].Role != auth.RoleAdmin {
		t.Fatalf("expected one admin, got %+v", profiles)
	}

	// Second call is a no-op because users already exist.
	if err := service.EnsureAdmin(ctx, "Other", "other@example.com", "a-long-password"); err != nil {
		t.Fatalf("unexpected ensure admin error: %v", err)
	}
	profiles, err = service.List(ctx)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(profiles) != 1 {
		t.Fatalf("expected bootstrap to run once, got %d users", len(profiles))
	}
}
