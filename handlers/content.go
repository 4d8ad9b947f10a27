package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/nerkean/gnizde.4ko/middleware"
	"github.com/nerkean/gnizde.4ko/models"
	"github.com/nerkean/gnizde.4ko/repository"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type ContentHandler struct {
	content *repository.ContentStore
	logger  *zap.Logger
}

func NewContentHandler(content *repository.ContentStore, logger *zap.Logger) *ContentHandler {
	return &ContentHandler{content: content, logger: logger}
}

// GetBlock returns {doc: null} for unknown keys. The admin settings block is
// never served here.
func (h *ContentHandler) GetBlock(c *gin.Context) {
	ctx, span := otel.Tracer(tracerName).Start(c.Request.Context(), "GetContentBlock")
	defer span.End()

	key := strings.TrimSpace(c.Param("key"))
	span.SetAttributes(attribute.String("content.key", key))
	if key == models.AdminSettingsKey {
		c.JSON(http.StatusOK, gin.H{"ok": true, "doc": nil})
		return
	}

	b, err := h.content.Get(ctx, key)
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "doc": nil})
		return
	}
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to get content block", zap.String("key", key), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "doc": b})
}

func (h *ContentHandler) UpsertBlock(c *gin.Context) {
	ctx, span := otel.Tracer(tracerName).Start(c.Request.Context(), "UpsertContentBlock")
	defer span.End()

	key := strings.TrimSpace(c.Param("key"))
	if key == "" || key == models.AdminSettingsKey {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid content key"})
		return
	}

	var req models.ContentBlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON body"})
		return
	}

	block := &models.ContentBlock{
		Key:       key,
		Type:      req.Type,
		Data:      req.Data,
		Draft:     req.Draft,
		Version:   1,
		UpdatedBy: req.UpdatedBy,
	}
	if block.Type == "" {
		block.Type = "hero"
	}
	if req.Version != nil {
		block.Version = *req.Version
	}
	if block.UpdatedBy == "" {
		block.UpdatedBy = "content_editor"
	}
	if len(block.Data) == 0 || string(block.Data) == "null" {
		block.Data = json.RawMessage("{}")
	}

	saved, err := h.content.Upsert(ctx, block)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to save content block", zap.String("key", key), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	h.logger.Info("Content block saved",
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.String("key", key),
		zap.String("admin", middleware.AdminUser(c)),
	)
	c.JSON(http.StatusOK, gin.H{"ok": true, "doc": saved})
}
