// Package api exposes the workspace to a local browser UI over HTTP.
package api

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/otherjamesbrown/redact-cli/pkg/buildinfo"
	apperrors "github.com/otherjamesbrown/redact-cli/pkg/errors"
	"github.com/otherjamesbrown/redact-cli/pkg/export"
	"github.com/otherjamesbrown/redact-cli/pkg/history"
	"github.com/otherjamesbrown/redact-cli/pkg/intake"
	"github.com/otherjamesbrown/redact-cli/pkg/logging"
	"github.com/otherjamesbrown/redact-cli/pkg/redaction"
	"github.com/otherjamesbrown/redact-cli/pkg/workspace"
)

// Form fields accepted by POST /api/session.
const (
	FieldFile         = "file"
	FieldText         = "text"
	FieldEnabledTypes = "enabled_types"
	FieldMode         = "mode"
)

// multipart overhead allowed on top of the intake limit
const formOverhead = 1 << 20

// HistoryLister lists recorded runs. *history.Repository implements it.
type HistoryLister interface {
	List(ctx context.Context, filter history.Filter) ([]*history.Run, error)
}

// Option customizes a Handler.
type Option func(*Handler)

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(h *Handler) { h.logger = l.With(logging.F("component", "api")) }
}

// WithGatherer sets the registry served on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(h *Handler) { h.gatherer = g }
}

// WithDefaults sets the filter and mode used when a request omits them.
func WithDefaults(filter redaction.EntityTypeFilter, mode redaction.Mode) Option {
	return func(h *Handler) {
		h.defaultFilter = filter
		h.defaultMode = mode
	}
}

// WithHistory enables GET /api/history.
func WithHistory(l HistoryLister) Option {
	return func(h *Handler) { h.history = l }
}

// WithBaseContext sets the context sessions run under. Sessions outlive the
// request that started them, so this is the server's lifetime context.
func WithBaseContext(ctx context.Context) Option {
	return func(h *Handler) { h.baseCtx = ctx }
}

// Handler wires HTTP routes to the workspace.
type Handler struct {
	ws            *workspace.Workspace
	logger        logging.Logger
	gatherer      prometheus.Gatherer
	history       HistoryLister
	baseCtx       context.Context
	defaultFilter redaction.EntityTypeFilter
	defaultMode   redaction.Mode
}

// NewHandler constructs a Handler instance.
func NewHandler(ws *workspace.Workspace, opts ...Option) *Handler {
	h := &Handler{
		ws:            ws,
		logger:        logging.NewNopLogger(),
		gatherer:      prometheus.DefaultGatherer,
		baseCtx:       context.Background(),
		defaultFilter: redaction.AllEnabled(),
		defaultMode:   redaction.DefaultMode,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes mounts every route on router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", h.healthz)
	router.GET("/version", gin.WrapF(buildinfo.Handler("redact-serve")))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))

	api := router.Group("/api")
	api.POST("/session", h.startSession)
	api.GET("/session", h.getSession)
	api.DELETE("/session", h.clearSession)
	api.GET("/session/export/:format", h.exportSession)
	api.GET("/categories", h.listCategories)
	api.GET("/history", h.listHistory)
}

func (h *Handler) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) startSession(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, intake.MaxFileSize+formOverhead)

	staged, err := h.stageFromForm(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	filter := h.defaultFilter
	if raw, ok := c.GetPostForm(FieldEnabledTypes); ok {
		// Every category deselected: omit enabled_types so the analyzer default applies.
		if strings.TrimSpace(raw) == "" {
			filter = redaction.EntityTypeFilter{}
		} else if filter, err = redaction.ParseEntityTypeFilter(raw); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	mode := h.defaultMode
	if raw := c.PostForm(FieldMode); raw != "" {
		if mode, err = redaction.ParseMode(raw); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	if err := h.ws.Stage(staged); err != nil {
		h.respondError(c, err)
		return
	}
	snap, err := h.ws.Start(h.baseCtx, filter, mode)
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.logger.Info("Session accepted",
		logging.F("session_id", snap.ID),
		logging.F("file", staged.Name),
		logging.F("bytes", staged.Size))
	c.JSON(http.StatusAccepted, newSessionView(snap))
}

// stageFromForm stages the uploaded file, or the pasted text when no file
// part is present.
func (h *Handler) stageFromForm(c *gin.Context) (*intake.StagedFile, error) {
	hdr, err := c.FormFile(FieldFile)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, &apperrors.ValidationError{
				Reason: apperrors.ReasonFileTooLarge,
				Size:   tooLarge.Limit,
				Limit:  intake.MaxFileSize,
			}
		}
		text := c.PostForm(FieldText)
		if text == "" {
			return nil, errMissingInput
		}
		return intake.StageText(text)
	}

	name := filepath.Base(hdr.Filename)
	if hdr.Size > intake.MaxFileSize {
		return nil, &apperrors.ValidationError{
			Reason:   apperrors.ReasonFileTooLarge,
			FileName: name,
			Size:     hdr.Size,
			Limit:    intake.MaxFileSize,
		}
	}

	f, err := hdr.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}

	return intake.Stage(intake.Candidate{
		Name:      name,
		MediaType: hdr.Header.Get("Content-Type"),
		Size:      hdr.Size,
		Data:      data,
	})
}

func (h *Handler) getSession(c *gin.Context) {
	c.JSON(http.StatusOK, newSessionView(h.ws.Session()))
}

func (h *Handler) clearSession(c *gin.Context) {
	h.ws.Clear()
	c.Status(http.StatusNoContent)
}

func (h *Handler) exportSession(c *gin.Context) {
	f, err := export.ParseFormat(c.Param("format"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	a, err := h.ws.Export(f)
	if err != nil {
		h.respondError(c, err)
		return
	}

	disposition := "attachment"
	if f == export.FormatPDF {
		// The print document opens in the browser and prints itself.
		disposition = "inline"
	}
	c.Header("Content-Disposition", mime.FormatMediaType(disposition, map[string]string{"filename": a.SaveName()}))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, a.ContentType(), a.Data)
}

type categoryView struct {
	Code  string `json:"code"`
	Label string `json:"label"`
}

func (h *Handler) listCategories(c *gin.Context) {
	var out []categoryView
	for _, code := range redaction.AllCategories() {
		analyzer, _ := redaction.AnalyzerCode(code)
		out = append(out, categoryView{Code: code, Label: redaction.DisplayLabel(analyzer)})
	}
	c.JSON(http.StatusOK, gin.H{"categories": out})
}

func (h *Handler) listHistory(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "history is not configured"})
		return
	}

	filter := history.Filter{
		RiskLevel:  c.Query("risk"),
		NameSearch: c.Query("q"),
	}
	if s := c.Query("status"); s != "" {
		status := history.Status(s)
		if status != history.StatusCompleted && status != history.StatusFailed {
			c.JSON(http.StatusBadRequest, gin.H{"error": "status must be completed or failed"})
			return
		}
		filter.Status = &status
	}
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		filter.Limit = n
	}
	if s := c.Query("since"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid since duration"})
			return
		}
		since := time.Now().Add(-d)
		filter.Since = &since
	}

	runs, err := h.history.List(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list history", logging.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list history failed"})
		return
	}
	if runs == nil {
		runs = []*history.Run{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (h *Handler) respondError(c *gin.Context, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", logging.Err(err), logging.F("path", c.FullPath()))
	}
	c.JSON(status, gin.H{
		"error": err.Error(),
		"code":  string(apperrors.Classify(err)),
	})
}
