package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"ffqueue/catalog"
	"ffqueue/config"
	"ffqueue/task"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Handler struct {
	taskManager *task.Manager
	cfg         *config.Config
	logger      *zap.Logger
}

func NewHandler(tm *task.Manager, cfg *config.Config, logger *zap.Logger) *Handler {
	return &Handler{
		taskManager: tm,
		cfg:         cfg,
		logger:      logger,
	}
}

// TaskView is a task as served over HTTP.
type TaskView struct {
	task.Task
	DownloadURL string `json:"downloadUrl,omitempty"`
}

// CreateTaskForm is the multipart body of POST /tasks.
type CreateTaskForm struct {
	Mode         string `form:"mode"`
	TargetFormat string `form:"targetFormat"`
	Preset       string `form:"preset"`
	Options      string `form:"options"`
}

// statusFor maps manager errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, task.ErrNotFound), errors.Is(err, task.ErrNoOutput):
		return http.StatusNotFound
	case errors.Is(err, task.ErrInvalidTransition), errors.Is(err, task.ErrTaskBusy):
		return http.StatusConflict
	case errors.Is(err, task.ErrQueueFull):
		return http.StatusTooManyRequests
	case errors.Is(err, task.ErrInputTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, task.ErrInvalidMode), errors.Is(err, task.ErrInvalidFormat),
		errors.Is(err, task.ErrInvalidPreset), errors.Is(err, catalog.ErrInvalidOptions):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// view attaches the download URL of a completed task.
func (h *Handler) view(c *gin.Context, t task.Task) TaskView {
	v := TaskView{Task: t}
	if t.Status != task.StatusCompleted {
		return v
	}

	baseURL := h.cfg.BaseURL
	if baseURL == "" {
		scheme := "http"
		if c.Request.TLS != nil {
			scheme = "https"
		}
		baseURL = fmt.Sprintf("%s://%s", scheme, c.Request.Host)
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	v.DownloadURL = fmt.Sprintf("%s/api/v1/tasks/%s/output", baseURL, t.ID)
	return v
}

// handleCreateTask accepts a multipart upload and adds it as an idle task.
func (h *Handler) handleCreateTask(c *gin.Context) {
	var form CreateTaskForm
	if err := c.ShouldBind(&form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	if h.cfg.MaxInputSize > 0 && fh.Size > h.cfg.MaxInputSize {
		h.fail(c, fmt.Errorf("%w: %d bytes exceeds limit of %d bytes", task.ErrInputTooLarge, fh.Size, h.cfg.MaxInputSize))
		return
	}

	var opts catalog.Options
	if form.Options != "" {
		if err := json.Unmarshal([]byte(form.Options), &opts); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid options: %v", err)})
			return
		}
	}

	f, err := fh.Open()
	if err != nil {
		h.fail(c, err)
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		h.fail(c, err)
		return
	}

	t, err := h.taskManager.AddTask(task.AddRequest{
		File: task.File{
			Name: fh.Filename,
			Size: int64(len(data)),
			MIME: detectMIME(fh.Header.Get("Content-Type"), data),
			Data: data,
		},
		Mode:         catalog.Mode(form.Mode),
		TargetFormat: catalog.Format(form.TargetFormat),
		Preset:       catalog.PresetID(form.Preset),
		Options:      opts,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, h.view(c, t))
}

// detectMIME trusts the declared type unless it is missing or generic, in
// which case the content is sniffed.
func detectMIME(declared string, data []byte) string {
	if mt, _, err := mime.ParseMediaType(declared); err == nil && mt != "application/octet-stream" {
		return mt
	}
	detected := mimetype.Detect(data).String()
	if mt, _, err := mime.ParseMediaType(detected); err == nil {
		return mt
	}
	return detected
}

func (h *Handler) handleListTasks(c *gin.Context) {
	tasks := h.taskManager.List()
	views := make([]TaskView, 0, len(tasks))
	for _, t := range tasks {
		views = append(views, h.view(c, t))
	}
	c.JSON(http.StatusOK, views)
}

func (h *Handler) handleGetTask(c *gin.Context) {
	t, found := h.taskManager.Get(c.Param("taskId"))
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
		return
	}
	c.JSON(http.StatusOK, h.view(c, t))
}

func (h *Handler) handleUpdateTask(c *gin.Context) {
	var patch task.Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	t, err := h.taskManager.UpdateTask(c.Param("taskId"), patch)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.view(c, t))
}

func (h *Handler) handleDeleteTask(c *gin.Context) {
	if err := h.taskManager.RemoveTask(c.Param("taskId")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) handleClearTasks(c *gin.Context) {
	h.taskManager.ClearQueue()
	c.Status(http.StatusNoContent)
}

func (h *Handler) handleStartTask(c *gin.Context) {
	t, err := h.taskManager.StartTask(c.Param("taskId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, h.view(c, t))
}

func (h *Handler) handleRetryTask(c *gin.Context) {
	t, err := h.taskManager.RetryTask(c.Param("taskId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, h.view(c, t))
}

func (h *Handler) handleStartAll(c *gin.Context) {
	n := h.taskManager.StartAll()
	c.JSON(http.StatusAccepted, gin.H{"queued": n})
}

// handleCancelTask cancels a task. The task is canceled even when stopping
// the engine fails; that failure shows up in the engine advisory.
func (h *Handler) handleCancelTask(c *gin.Context) {
	taskID := c.Param("taskId")
	if err := h.taskManager.CancelTask(taskID); err != nil {
		h.fail(c, err)
		return
	}
	t, _ := h.taskManager.Get(taskID)
	c.JSON(http.StatusOK, h.view(c, t))
}

// handleGetOutput serves the converted bytes of a completed task.
func (h *Handler) handleGetOutput(c *gin.Context) {
	t, out, err := h.taskManager.Output(c.Param("taskId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": t.OutputName}))
	c.Data(http.StatusOK, out.MIME, out.Data)
}

// handleEvents streams task events as Server-Sent Events until the client
// goes away.
func (h *Handler) handleEvents(c *gin.Context) {
	events, unsubscribe := h.taskManager.Subscribe(64)
	defer unsubscribe()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(string(ev.Type), h.view(c, ev.Task))
			return true
		}
	})
}

func (h *Handler) handleEngineStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.taskManager.EngineStatus())
}

// handleEngineLoad loads the engine ahead of the first conversion.
func (h *Handler) handleEngineLoad(c *gin.Context) {
	if err := h.taskManager.LoadEngine(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error(), "engine": h.taskManager.EngineStatus()})
		return
	}
	c.JSON(http.StatusOK, h.taskManager.EngineStatus())
}

type modeCatalog struct {
	Mode          catalog.Mode     `json:"mode"`
	InputFormats  []catalog.Format `json:"inputFormats"`
	OutputFormats []catalog.Format `json:"outputFormats"`
	DefaultFormat catalog.Format   `json:"defaultFormat"`
}

func (h *Handler) handleCatalog(c *gin.Context) {
	modes := make([]modeCatalog, 0, len(catalog.Modes))
	for _, m := range catalog.Modes {
		modes = append(modes, modeCatalog{
			Mode:          m,
			InputFormats:  catalog.InputFormats(m),
			OutputFormats: catalog.OutputFormats(m),
			DefaultFormat: catalog.DefaultFormat(m),
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"modes":         modes,
		"presets":       catalog.Presets(),
		"defaultPreset": catalog.DefaultPreset,
		"resolutions":   catalog.ResolutionPresets,
		"frameRates":    catalog.FrameRatePresets,
		"bitrates":      catalog.BitratePresets,
		"sampleRates":   catalog.SampleRatePresets,
	})
}
