package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/harborlabs/taskdeck/backend/internal/auth"
	"github.com/harborlabs/taskdeck/backend/internal/notifications"
	"github.com/harborlabs/taskdeck/backend/internal/realtime"
	"github.com/harborlabs/taskdeck/backend/internal/tasks"
	"github.com/harborlabs/taskdeck/backend/internal/users"
)

type testServer struct {
	url         string
	client      *http.Client
	adminToken  string
	memberToken string
	memberID    uint
	queue       *tasks.EffectQueue
	hub         *realtime.Hub
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:server_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&users.User{}, &tasks.Task{}, &tasks.ActivityLogEntry{}, &notifications.Notification{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	userService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct user service: %v", err)
	}
	notificationService, err := notifications.NewService(notifications.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct notification service: %v", err)
	}
	hub := realtime.NewHub()
	queue := tasks.NewEffectQueue(tasks.EffectQueueConfig{
		Notifications: notificationService,
		Realtime:      hub,
	})
	t.Cleanup(queue.Close)
	taskService, err := tasks.NewService(tasks.ServiceConfig{
		Database:   db,
		IDProvider: tasks.NewUUIDProvider(),
		Directory:  userService,
		Effects:    queue,
	})
	if err != nil {
		t.Fatalf("failed to construct task service: %v", err)
	}

	issuer := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("test-signing-secret"),
		Issuer:        "taskdeck-auth",
		Audience:      "taskdeck-api",
		TokenTTL:      time.Minute,
	})

	handler, err := NewHTTPHandler(Dependencies{
		Tokens:        issuer,
		Users:         userService,
		Tasks:         taskService,
		Notifications: notificationService,
		Hub:           hub,
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	ctx := context.Background()
	admin, err := userService.Create(ctx, users.CreateInput{
		Name: "Alice Chen", Email: "alice@example.com", Password: "correct-horse", Role: auth.RoleAdmin,
	})
	if err != nil {
		t.Fatalf("failed to seed admin: %v", err)
	}
	member, err := userService.Create(ctx, users.CreateInput{
		Name: "Bob Diaz", Email: "bob@example.com", Password: "battery-staple", Role: auth.RoleMember,
	})
	if err != nil {
		t.Fatalf("failed to seed member: %v", err)
	}

	adminToken, _, err := issuer.IssueToken(ctx, auth.Identity{UserID: admin.ID, DisplayName: admin.Name, Role: admin.Role})
	if err != nil {
		t.Fatalf("failed to issue admin token: %v", err)
	}
	memberToken, _, err := issuer.IssueToken(ctx, auth.Identity{UserID: member.ID, DisplayName: member.Name, Role: member.Role})
	if err != nil {
		t.Fatalf("failed to issue member token: %v", err)
	}

	return &testServer{
		url:         server.URL,
		client:      server.Client(),
		adminToken:  adminToken,
		memberToken: memberToken,
		memberID:    member.ID,
		queue:       queue,
		hub:         hub,
	}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request, err := http.NewRequest(method, ts.url+path, reader)
	if err != nil {
		t.Fatalf("failed to construct request: %v", err)
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	response, err := ts.client.Do(request)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	payload, err := io.ReadAll(response.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	_ = response.Body.Close()
	return response, payload
}

func decodeInto(t *testing.T, payload []byte, target any) {
	t.Helper()
	if err := json.Unmarshal(payload, target); err != nil {
		t.Fatalf("failed to decode response %s: %v", payload, err)
	}
}

func errorToken(t *testing.T, payload []byte) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	decodeInto(t, payload, &body)
	return body.Error
}
