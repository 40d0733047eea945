package handler

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"

	"flashcard-server/internal/messaging"
	"flashcard-server/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Ограничение на загружаемый файл (байты).
const maxUploadSize = 20 << 20

// Расширения, которые принимаем как текстовые источники.
var allowedUploadExts = map[string]bool{
	".txt":  true,
	".md":   true,
	".html": true,
}

// createTask создает задачу генерации из текста или ссылки и публикует
// сообщение в очередь. text всегда идет по прямому пути, url и video -
// по пути с оглавлением, если не передан legacy.
func (h *TaskHandler) createTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, APIError{Message: "Invalid request body: " + err.Error()})
		return
	}

	task := &models.GenerationTask{
		ID:     uuid.New(),
		UserID: req.UserID,
		Status: models.TaskStatusPending,
	}

	switch models.SourceType(req.SourceType) {
	case models.SourceTypeText:
		if strings.TrimSpace(req.Content) == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, APIError{Message: "content is required for text source"})
			return
		}
		task.SourceType = models.SourceTypeText
		task.SourceContent = req.Content
		// Прямой путь: короткие тексты не требуют оглавления.
		req.Legacy = true
	case models.SourceTypeURL, models.SourceTypeVideo:
		if !isValidURL(req.URL) {
			c.AbortWithStatusJSON(http.StatusBadRequest, APIError{Message: "a valid http(s) url is required for url and video sources"})
			return
		}
		task.SourceType = models.SourceType(req.SourceType)
		task.SourceURL = req.URL
	default:
		c.AbortWithStatusJSON(http.StatusBadRequest, APIError{Message: fmt.Sprintf("unsupported source type: %q", req.SourceType)})
		return
	}

	if err := h.tasks.Create(c.Request.Context(), task); err != nil {
		handleServiceError(c, err, h.logger)
		return
	}

	if err := h.publishInitial(c, task, req.Legacy); err != nil {
		return
	}

	c.JSON(http.StatusAccepted, toTaskResponse(task))
}

// uploadTask принимает multipart файл, кладет его в объектное хранилище
// и создает задачу с путем через оглавление.
func (h *TaskHandler) uploadTask(c *gin.Context) {
	userID, err := uuid.Parse(c.PostForm("userId"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, APIError{Message: "invalid userId"})
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, APIError{Message: "file is required"})
		return
	}
	if fileHeader.Size > maxUploadSize {
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, APIError{Message: "file is too large"})
		return
	}
	ext := strings.ToLower(filepath.Ext(fileHeader.Filename))
	if !allowedUploadExts[ext] {
		c.AbortWithStatusJSON(http.StatusBadRequest, APIError{Message: fmt.Sprintf("unsupported file extension: %q", ext)})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadSize))
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}

	objectName, err := h.store.Put(c.Request.Context(), userID, fileHeader.Filename, data)
	if err != nil {
		h.logger.Error("Failed to store uploaded file", zap.String("filename", fileHeader.Filename), zap.Error(err))
		handleServiceError(c, err, h.logger)
		return
	}

	task := &models.GenerationTask{
		ID:             uuid.New(),
		UserID:         userID,
		Status:         models.TaskStatusPending,
		SourceType:     models.SourceTypeFile,
		SourceContent:  objectName,
		SourceFilename: fileHeader.Filename,
	}

	if err := h.tasks.Create(c.Request.Context(), task); err != nil {
		handleServiceError(c, err, h.logger)
		return
	}

	legacy := c.PostForm("legacy") == "true"
	if err := h.publishInitial(c, task, legacy); err != nil {
		return
	}

	c.JSON(http.StatusAccepted, toTaskResponse(task))
}

// publishInitial публикует первое сообщение пайплайна для новой задачи.
// При ошибке публикации задача помечается failed, клиент получает 500.
func (h *TaskHandler) publishInitial(c *gin.Context, task *models.GenerationTask, legacy bool) error {
	var err error
	if legacy {
		err = h.publisher.PublishGenerateTask(c.Request.Context(), messaging.GenerateTaskPayload{
			TaskID: task.ID,
			UserID: task.UserID,
			Legacy: true,
		})
	} else {
		err = h.publisher.PublishAnalyzeTask(c.Request.Context(), messaging.AnalyzeTaskPayload{
			TaskID: task.ID,
			UserID: task.UserID,
		})
	}
	if err != nil {
		h.logger.Error("Failed to publish pipeline task",
			zap.String("taskID", task.ID.String()),
			zap.Bool("legacy", legacy),
			zap.Error(err))
		if failErr := h.tasks.Fail(c.Request.Context(), task.ID, "failed to enqueue task"); failErr != nil {
			h.logger.Error("Failed to mark task as failed after publish error",
				zap.String("taskID", task.ID.String()), zap.Error(failErr))
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, APIError{Message: "failed to enqueue task"})
		return err
	}
	return nil
}

// getTask возвращает проекцию задачи с прогрессом.
func (h *TaskHandler) getTask(c *gin.Context) {
	taskID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, APIError{Message: "invalid task id"})
		return
	}

	task, err := h.tasks.GetByID(c.Request.Context(), taskID)
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, toTaskResponse(task))
}

// listTasks возвращает последние задачи пользователя (?userId=...&limit=...).
func (h *TaskHandler) listTasks(c *gin.Context) {
	userID, err := uuid.Parse(c.Query("userId"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, APIError{Message: "invalid userId"})
		return
	}

	limit := 0
	if rawLimit := c.Query("limit"); rawLimit != "" {
		limit, err = strconv.Atoi(rawLimit)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, APIError{Message: "invalid limit"})
			return
		}
	}

	tasks, err := h.tasks.ListByUserID(c.Request.Context(), userID, limit)
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}

	responses := make([]taskResponse, 0, len(tasks))
	for i := range tasks {
		responses = append(responses, toTaskResponse(&tasks[i]))
	}
	c.JSON(http.StatusOK, gin.H{"tasks": responses})
}

// selectChapters запускает фазу генерации по выбранным главам и публикует
// сообщение генерации.
func (h *TaskHandler) selectChapters(c *gin.Context) {
	taskID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, APIError{Message: "invalid task id"})
		return
	}

	var req selectChaptersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, APIError{Message: "Invalid request body: " + err.Error()})
		return
	}

	task, err := h.starter.StartGeneration(c.Request.Context(), taskID, req.Chapters)
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}

	if err := h.publisher.PublishGenerateTask(c.Request.Context(), messaging.GenerateTaskPayload{
		TaskID: task.ID,
		UserID: task.UserID,
	}); err != nil {
		h.logger.Error("Failed to publish generate task",
			zap.String("taskID", task.ID.String()), zap.Error(err))
		if failErr := h.tasks.Fail(c.Request.Context(), task.ID, "failed to enqueue generation"); failErr != nil {
			h.logger.Error("Failed to mark task as failed after publish error",
				zap.String("taskID", task.ID.String()), zap.Error(failErr))
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, APIError{Message: "failed to enqueue generation"})
		return
	}

	c.JSON(http.StatusAccepted, toTaskResponse(task))
}

func isValidURL(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host != ""
}
