package tasks

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type stubDirectory map[uint]string

func (d stubDirectory) DisplayNames(_ context.Context, ids []uint) (map[uint]string, error) {
	names := make(map[uint]string, len(ids))
	for _, id := range ids {
		if name, ok := d[id]; ok {
			names[id] = name
		}
	}
	return names, nil
}

type testEnv struct {
	service   *Service
	db        *gorm.DB
	directory stubDirectory
	now       time.Time
}

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:tasks_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&Task{}, &ActivityLogEntry{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		db:        openTestDatabase(t),
		directory: stubDirectory{1: "Alice Chen", 2: "Bob Diaz", 3: "Cara Singh"},
		now:       time.Unix(1700000000, 0).UTC(),
	}
	service, err := NewService(ServiceConfig{
		Database:   env.db,
		IDProvider: NewUUIDProvider(),
		Directory:  env.directory,
		Clock:      func() time.Time { return env.now },
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	env.service = service
	return env
}

func (e *testEnv) advance(d time.Duration) {
	e.now = e.now.Add(d)
}

func (e *testEnv) logCount(t *testing.T, taskID uint) int64 {
	t.Helper()
	var count int64
	if err := e.db.Model(&ActivityLogEntry{}).Where("task_id = ?", taskID).Count(&count).Error; err != nil {
		t.Fatalf("failed to count log entries: %v", err)
	}
	return count
}

func (e *testEnv) lastLogEntry(t *testing.T, taskID uint) ActivityLogEntry {
	t.Helper()
	var entry ActivityLogEntry
	err := e.db.Where("task_id = ?", taskID).
		Order("created_at DESC, entry_id DESC").
		Take(&entry).Error
	if err != nil {
		t.Fatalf("failed to load last log entry: %v", err)
	}
	return entry
}

func (e *testEnv) mustCreate(t *testing.T, actor Actor, input CreateTaskInput) TaskView {
	t.Helper()
	view, err := e.service.Create(context.Background(), actor, input)
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	return view
}

func expectKind(t *testing.T, err error, kind Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	if got := KindOf(err); got != kind {
		t.Fatalf("expected error kind %s, got %s (%v)", kind, got, err)
	}
}

var (
	actorAlice = Actor{ID: 1, Name: "Alice Chen", Role: "admin"}
	actorBob   = Actor{ID: 2, Name: "Bob Diaz", Role: "member"}
)
