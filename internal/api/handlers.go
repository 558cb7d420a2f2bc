package api

import (
	"context"
	_ "embed"
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"

	"videoinsight/internal/auth"
	"videoinsight/internal/logging"
	"videoinsight/internal/models"
	"videoinsight/internal/ratelimit"
	"videoinsight/internal/service/analysis"
	"videoinsight/internal/service/history"
	"videoinsight/internal/worker"
)

//go:embed web/index.html
var indexHTML []byte

const processingMessage = "Processing video and gathering transcripts..."

// Runner executes one analysis run.
type Runner interface {
	Run(ctx context.Context, upload models.UploadedMedia, query string, observe analysis.Observer) analysis.Outcome
}

// Executor schedules runs; Submit must not block.
type Executor interface {
	Submit(key string, fn func()) (<-chan struct{}, error)
}

// History exposes finished runs.
type History interface {
	List(ctx context.Context, limit int) ([]*models.AnalysisRecord, error)
	Get(ctx context.Context, runID string) (*models.AnalysisRecord, error)
	Delete(ctx context.Context, runID string) error
}

type Options struct {
	MaxUploadBytes int64
	Limiter        ratelimit.Limiter
	History        History
	Auth           *auth.Service
	Logger         *slog.Logger
}

// Handler wires HTTP routes to the analysis workflow.
type Handler struct {
	runner    Runner
	executor  Executor
	history   History
	limiter   ratelimit.Limiter
	auth      *auth.Service
	maxUpload int64
	logger    *slog.Logger
}

func NewHandler(runner Runner, executor Executor, opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	authService := opts.Auth
	if authService == nil {
		authService = auth.NewService("", logger)
	}
	return &Handler{
		runner:    runner,
		executor:  executor,
		history:   opts.History,
		limiter:   opts.Limiter,
		auth:      authService,
		maxUpload: opts.MaxUploadBytes,
		logger:    logging.WithComponent(logger, "api"),
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/", h.index)
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.Use(h.auth.Middleware())
	api.POST("/analyze", h.analyze)
	api.POST("/analyze/stream", h.analyzeStream)
	api.GET("/analyses", h.listAnalyses)
	api.GET("/analyses/:run_id", h.getAnalysis)
	api.DELETE("/analyses/:run_id", h.deleteAnalysis)
}

func (h *Handler) index(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", indexHTML)
}

type uploadError struct {
	status int
	msg    string
}

// readUpload opens the multipart "file" field. The caller must close the returned file.
func (h *Handler) readUpload(c *gin.Context) (models.UploadedMedia, multipart.File, *uploadError) {
	if h.maxUpload > 0 {
		// headroom for the other form fields and multipart framing
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload+1<<20)
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return models.UploadedMedia{}, nil, &uploadError{http.StatusRequestEntityTooLarge, "file too large"}
		}
		return models.UploadedMedia{}, nil, &uploadError{http.StatusBadRequest, "Please upload a video file (mp4, mov, avi)."}
	}
	if h.maxUpload > 0 && fileHeader.Size > h.maxUpload {
		return models.UploadedMedia{}, nil, &uploadError{http.StatusRequestEntityTooLarge, "file too large"}
	}
	f, err := fileHeader.Open()
	if err != nil {
		return models.UploadedMedia{}, nil, &uploadError{http.StatusBadRequest, "open file failed"}
	}
	name := filepath.Base(fileHeader.Filename)
	return models.UploadedMedia{
		Reader:    f,
		FileName:  name,
		Extension: filepath.Ext(name),
		Size:      fileHeader.Size,
	}, f, nil
}

// admit applies the per-client rate limit. Limiter errors fail open.
func (h *Handler) admit(c *gin.Context) bool {
	if h.limiter == nil {
		return true
	}
	ok, err := h.limiter.Allow(c.Request.Context(), c.ClientIP())
	if err != nil {
		h.logger.Warn("rate limiter unavailable", "error", err)
		return true
	}
	if !ok {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded, please retry later"})
		return false
	}
	return true
}

func submitErrorStatus(err error) (int, string) {
	if errors.Is(err, worker.ErrDispatcherBusy) {
		return http.StatusTooManyRequests, "server is busy, please retry"
	}
	return http.StatusServiceUnavailable, err.Error()
}

const abortedMessage = "An error occurred during analysis: the run was aborted"

// aborted reports a run that ended without an outcome, e.g. after a recovered panic.
func aborted(out analysis.Outcome) bool {
	return out.Failure == nil && out.Result == nil
}

func failureStatus(kind analysis.FailureKind) int {
	switch kind {
	case analysis.KindValidation:
		return http.StatusBadRequest
	case analysis.KindUpload, analysis.KindInference:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func outcomeBody(out analysis.Outcome) gin.H {
	body := gin.H{"run_id": out.RunID, "state": out.State}
	if out.Failure != nil {
		body["error"] = out.Failure.UserMessage()
		body["kind"] = out.Failure.Kind
		return body
	}
	body["result"] = out.Result.Content
	return body
}

func (h *Handler) analyze(c *gin.Context) {
	if !h.admit(c) {
		return
	}
	upload, file, uerr := h.readUpload(c)
	if uerr != nil {
		c.JSON(uerr.status, gin.H{"error": uerr.msg})
		return
	}
	defer file.Close()
	query := c.PostForm("query")
	ctx := c.Request.Context()

	var out analysis.Outcome
	done, err := h.executor.Submit(c.ClientIP(), func() {
		out = h.runner.Run(ctx, upload, query, nil)
	})
	if err != nil {
		status, msg := submitErrorStatus(err)
		c.JSON(status, gin.H{"error": msg})
		return
	}
	select {
	case <-done:
	case <-ctx.Done():
		return
	}

	if aborted(out) {
		h.logger.Error("analysis run aborted", "client_ip", c.ClientIP())
		c.JSON(http.StatusInternalServerError, gin.H{"run_id": out.RunID, "state": models.StateFailed, "error": abortedMessage})
		return
	}
	if out.Failure != nil {
		c.JSON(failureStatus(out.Failure.Kind), outcomeBody(out))
		return
	}
	c.JSON(http.StatusOK, outcomeBody(out))
}

func (h *Handler) analyzeStream(c *gin.Context) {
	if !h.admit(c) {
		return
	}
	upload, file, uerr := h.readUpload(c)
	if uerr != nil {
		c.JSON(uerr.status, gin.H{"error": uerr.msg})
		return
	}
	defer file.Close()
	query := c.PostForm("query")
	ctx := c.Request.Context()

	// the observer runs on the worker goroutine; only this handler writes to the response
	events := make(chan models.RunState, 8)
	observe := func(state models.RunState) {
		if state.Terminal() {
			return
		}
		select {
		case events <- state:
		default:
		}
	}
	var out analysis.Outcome
	done, err := h.executor.Submit(c.ClientIP(), func() {
		out = h.runner.Run(ctx, upload, query, observe)
	})
	if err != nil {
		status, msg := submitErrorStatus(err)
		c.JSON(status, gin.H{"error": msg})
		return
	}

	stream, err := newEventStream(c)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := stream.send("status", gin.H{"state": "queued", "message": processingMessage}); err != nil {
		return
	}
	for {
		select {
		case state := <-events:
			if err := stream.send("status", gin.H{"state": state, "message": processingMessage}); err != nil {
				return
			}
		case <-done:
			for drained := false; !drained; {
				select {
				case state := <-events:
					_ = stream.send("status", gin.H{"state": state, "message": processingMessage})
				default:
					drained = true
				}
			}
			if aborted(out) {
				h.logger.Error("analysis run aborted", "client_ip", c.ClientIP())
				_ = stream.send("error", gin.H{"run_id": out.RunID, "kind": "internal", "message": abortedMessage})
				return
			}
			if out.Failure != nil {
				_ = stream.send("error", gin.H{"run_id": out.RunID, "kind": out.Failure.Kind, "message": out.Failure.UserMessage()})
				return
			}
			_ = stream.send("done", gin.H{"run_id": out.RunID, "result": out.Result.Content})
			return
		case <-ctx.Done():
			return
		}
	}
}

func (h *Handler) requireHistory(c *gin.Context) bool {
	if h.history == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "history is disabled"})
		return false
	}
	return true
}

func (h *Handler) listAnalyses(c *gin.Context) {
	if !h.requireHistory(c) {
		return
	}
	limit := history.DefaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}
	records, err := h.history.List(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("list analyses failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list analyses failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"analyses": records})
}

func (h *Handler) getAnalysis(c *gin.Context) {
	if !h.requireHistory(c) {
		return
	}
	record, err := h.history.Get(c.Request.Context(), c.Param("run_id"))
	if err != nil {
		h.historyError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (h *Handler) deleteAnalysis(c *gin.Context) {
	if !h.requireHistory(c) {
		return
	}
	if err := h.history.Delete(c.Request.Context(), c.Param("run_id")); err != nil {
		h.historyError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) historyError(c *gin.Context, err error) {
	if errors.Is(err, history.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	h.logger.Error("history query failed", "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "history query failed"})
}
