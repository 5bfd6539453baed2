package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/harborlabs/taskdeck/backend/internal/tasks"
)

type createTaskPayload struct {
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	AssignedUserID *uint      `json:"assigned_user_id"`
	Deadline       *time.Time `json:"deadline"`
	InitialComment string     `json:"comment"`
}

func (h *httpHandler) handleCreateTask(c *gin.Context) {
	var request createTaskPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	view, err := h.tasks.Create(c.Request.Context(), currentActor(c), tasks.CreateTaskInput{
		Title:          request.Title,
		Description:    request.Description,
		AssignedUserID: request.AssignedUserID,
		Deadline:       request.Deadline,
		InitialComment: request.InitialComment,
	})
	if err != nil {
		h.writeTaskError(c, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

func (h *httpHandler) handleListTasks(c *gin.Context) {
	list, err := h.tasks.List(c.Request.Context())
	if err != nil {
		h.writeTaskError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

type taskDetailPayload struct {
	Task    tasks.TaskView      `json:"task"`
	History []tasks.HistoryEntry `json:"history"`
}

func (h *httpHandler) handleGetTask(c *gin.Context) {
	taskID, ok := parseIDParam(c)
	if !ok {
		return
	}
	view, err := h.tasks.Get(c.Request.Context(), taskID)
	if err != nil {
		h.writeTaskError(c, err)
		return
	}
	history, err := h.tasks.History(c.Request.Context(), taskID)
	if err != nil {
		h.writeTaskError(c, err)
		return
	}
	c.JSON(http.StatusOK, taskDetailPayload{Task: view, History: history})
}

type updateTaskPayload struct {
	Version     int64      `json:"version"`
	Title       *string    `json:"title"`
	Description *string    `json:"description"`
	Deadline    *time.Time `json:"deadline"`
	Comment     string     `json:"comment"`
}

func (h *httpHandler) handleUpdateTask(c *gin.Context) {
	taskID, ok := parseIDParam(c)
	if !ok {
		return
	}
	var request updateTaskPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	view, err := h.tasks.UpdateDetails(c.Request.Context(), currentActor(c), taskID, request.Version, tasks.UpdateDetailsInput{
		Title:       request.Title,
		Description: request.Description,
		Deadline:    request.Deadline,
		NewComment:  request.Comment,
	})
	if err != nil {
		h.writeTaskError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

type changeStatusPayload struct {
	Version int64  `json:"version"`
	Status  string `json:"status"`
}

func (h *httpHandler) handleChangeStatus(c *gin.Context) {
	taskID, ok := parseIDParam(c)
	if !ok {
		return
	}
	var request changeStatusPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	view, err := h.tasks.ChangeStatus(c.Request.Context(), currentActor(c), taskID, request.Version, request.Status)
	if err != nil {
		h.writeTaskError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

type assignTaskPayload struct {
	Version        int64 `json:"version"`
	AssignedUserID *uint `json:"assigned_user_id"`
}

func (h *httpHandler) handleAssignTask(c *gin.Context) {
	taskID, ok := parseIDParam(c)
	if !ok {
		return
	}
	var request assignTaskPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	view, err := h.tasks.Assign(c.Request.Context(), currentActor(c), taskID, request.Version, request.AssignedUserID)
	if err != nil {
		h.writeTaskError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *httpHandler) handleDeleteTask(c *gin.Context) {
	taskID, ok := parseIDParam(c)
	if !ok {
		return
	}
	version, err := strconv.ParseInt(c.Query("version"), 10, 64)
	if err != nil || version <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_version"})
		return
	}

	if err := h.tasks.Delete(c.Request.Context(), currentActor(c), taskID, version); err != nil {
		h.writeTaskError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
