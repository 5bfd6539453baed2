package notifications

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	dsn := fmt.Sprintf("file:notifications_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&Notification{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	service, err := NewService(ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service
}

func TestCreateAndListNewestFirst(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	current := time.Unix(1700000000, 0).UTC()
	service.clock = func() time.Time { return current }

	taskID := uint(12)
	if _, err := service.Create(ctx, CreateInput{UserID: 1, TaskID: &taskID, Kind: KindTaskAssigned, Message: "first"}); err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	current = current.Add(time.Minute)
	if _, err := service.Create(ctx, CreateInput{UserID: 1, Kind: KindTaskUpdated, Message: "second"}); err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	rows, err := service.ListForUser(ctx, 1, false)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(rows))
	}
	if rows[0].Message != "second" {
		t.Fatalf("expected newest first, got %q", rows[0].Message)
	}
	if rows[0].IsRead {
		t.Fatal("new notifications must start unread")
	}
	if rows[1].TaskID == nil || *rows[1].TaskID != 12 {
		t.Fatalf("expected related task id 12, got %+v", rows[1].TaskID)
	}
}

func TestCreateRejectsMissingFields(t *testing.T) {
	service := newTestService(t)
	if _, err := service.Create(context.Background(), CreateInput{UserID: 0, Message: "x"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input error, got %v", err)
	}
	if _, err := service.Create(context.Background(), CreateInput{UserID: 1, Message: "  "}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input error, got %v", err)
	}
}

func TestMarkReadScopedToOwner(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	mine, err := service.Create(ctx, CreateInput{UserID: 1, Kind: KindTaskAssigned, Message: "mine"})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	theirs, err := service.Create(ctx, CreateInput{UserID: 2, Kind: KindTaskAssigned, Message: "theirs"})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	updated, err := service.MarkRead(ctx, 1, []uint{mine.ID, theirs.ID})
	if err != nil {
		t.Fatalf("unexpected mark read error: %v", err)
	}
	if updated != 1 {
		t.Fatalf("expected exactly 1 row updated, got %d", updated)
	}

	otherRows, err := service.ListForUser(ctx, 2, true)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(otherRows) != 1 {
		t.Fatalf("expected foreign notification to stay unread, got %d unread", len(otherRows))
	}
}

func TestListUnreadOnly(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	first, err := service.Create(ctx, CreateInput{UserID: 3, Kind: KindTaskStatusUpdated, Message: "read me"})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	if _, err := service.Create(ctx, CreateInput{UserID: 3, Kind: KindTaskDeleted, Message: "keep me"}); err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	if _, err := service.MarkRead(ctx, 3, []uint{first.ID}); err != nil {
		t.Fatalf("unexpected mark read error: %v", err)
	}

	unread, err := service.ListForUser(ctx, 3, true)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(unread) != 1 || unread[0].Message != "keep me" {
		t.Fatalf("expected only the unread notification, got %+v", unread)
	}
}
