package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/harborlabs/taskdeck/backend/internal/auth"
	"github.com/harborlabs/taskdeck/backend/internal/notifications"
	"github.com/harborlabs/taskdeck/backend/internal/realtime"
	"github.com/harborlabs/taskdeck/backend/internal/tasks"
	"github.com/harborlabs/taskdeck/backend/internal/users"
)

const identityContextKey = "taskdeck_identity"

var (
	errMissingTokenIssuer   = errors.New("token issuer dependency required")
	errMissingUsersService  = errors.New("users service dependency required")
	errMissingTasksService  = errors.New("tasks service dependency required")
	errMissingNotifications = errors.New("notifications service dependency required")
	errMissingHub           = errors.New("realtime hub dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// TokenIssuer validates bearer tokens and issues new ones at login.
type TokenIssuer interface {
	IssueToken(ctx context.Context, identity auth.Identity) (string, int64, error)
	ValidateToken(token string) (auth.Identity, error)
}

// Dependencies wires the HTTP surface to the domain services.
type Dependencies struct {
	Tokens        TokenIssuer
	Users         *users.Service
	Tasks         *tasks.Service
	Notifications *notifications.Service
	Hub           *realtime.Hub
	Logger        *zap.Logger
}

// NewHTTPHandler assembles the full route table.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Tokens == nil {
		return nil, errMissingTokenIssuer
	}
	if deps.Users == nil {
		return nil, errMissingUsersService
	}
	if deps.Tasks == nil {
		return nil, errMissingTasksService
	}
	if deps.Notifications == nil {
		return nil, errMissingNotifications
	}
	if deps.Hub == nil {
		return nil, errMissingHub
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:        deps.Tokens,
		users:         deps.Users,
		tasks:         deps.Tasks,
		notifications: deps.Notifications,
		hub:           deps.Hub,
		logger:        logger,
	}

	router.POST("/auth/login", handler.handleLogin)
	router.GET("/events/stream", handler.handleEventStream)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/tasks", handler.handleListTasks)
	protected.POST("/tasks", handler.handleCreateTask)
	protected.GET("/tasks/:id", handler.handleGetTask)
	protected.PUT("/tasks/:id", handler.handleUpdateTask)
	protected.PUT("/tasks/:id/status", handler.handleChangeStatus)
	protected.PUT("/tasks/:id/assign", handler.handleAssignTask)
	protected.DELETE("/tasks/:id", handler.handleDeleteTask)
	protected.GET("/notifications", handler.handleListNotifications)
	protected.PUT("/notifications/read", handler.handleMarkNotificationsRead)
	protected.GET("/users", handler.handleListUsers)

	admin := protected.Group("/")
	admin.Use(handler.requireAdmin)
	admin.POST("/users", handler.handleCreateUser)
	admin.PUT("/users/:id", handler.handleUpdateUser)
	admin.DELETE("/users/:id", handler.handleDeleteUser)

	return router, nil
}

type httpHandler struct {
	tokens        TokenIssuer
	users         *users.Service
	tasks         *tasks.Service
	notifications *notifications.Service
	hub           *realtime.Hub
	logger        *zap.Logger
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	identity, err := h.identityFromHeader(c)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(identityContextKey, identity)
	c.Next()
}

func (h *httpHandler) requireAdmin(c *gin.Context) {
	identity := currentIdentity(c)
	if !identity.IsAdmin() {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	c.Next()
}

func (h *httpHandler) identityFromHeader(c *gin.Context) (auth.Identity, error) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return auth.Identity{}, errInvalidAuthorization
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return auth.Identity{}, errInvalidAuthorization
	}
	identity, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		return auth.Identity{}, err
	}
	return identity, nil
}

func currentIdentity(c *gin.Context) auth.Identity {
	value, _ := c.Get(identityContextKey)
	identity, _ := value.(auth.Identity)
	return identity
}

func currentActor(c *gin.Context) tasks.Actor {
	identity := currentIdentity(c)
	return tasks.Actor{ID: identity.UserID, Name: identity.DisplayName, Role: identity.Role}
}

func parseIDParam(c *gin.Context) (uint, bool) {
	raw := c.Param("id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_id"})
		return 0, false
	}
	return uint(id), true
}

// writeTaskError translates the mutator's error taxonomy onto HTTP statuses.
// The body carries the stable kind token so clients can branch on "conflict"
// and trigger a refresh-and-retry.
func (h *httpHandler) writeTaskError(c *gin.Context, err error) {
	kind := tasks.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case tasks.KindValidation:
		status = http.StatusBadRequest
	case tasks.KindNotFound:
		status = http.StatusNotFound
	case tasks.KindPrecondition, tasks.KindInvalidTransition:
		status = http.StatusUnprocessableEntity
	case tasks.KindConflict:
		status = http.StatusConflict
	case tasks.KindInternal:
		h.logger.Error("task operation failed", zap.Error(err))
	}

	message := "internal error"
	var taskErr *tasks.Error
	if errors.As(err, &taskErr) {
		message = taskErr.Message()
	}
	c.JSON(status, gin.H{"error": string(kind), "message": message})
}
