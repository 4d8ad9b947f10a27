package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/nerkean/gnizde.4ko/middleware"
	"github.com/nerkean/gnizde.4ko/models"
	"github.com/nerkean/gnizde.4ko/repository"
	"github.com/nerkean/gnizde.4ko/settings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SettingsFetcher is a SettingsLoader that can also report store failures.
type SettingsFetcher interface {
	SettingsLoader
	Fetch(ctx context.Context) (*models.AdminSettings, error)
}

type AdminSettingsHandler struct {
	content  *repository.ContentStore
	settings SettingsFetcher
	logger   *zap.Logger
}

func NewAdminSettingsHandler(content *repository.ContentStore, loader SettingsFetcher, logger *zap.Logger) *AdminSettingsHandler {
	return &AdminSettingsHandler{content: content, settings: loader, logger: logger}
}

// GetSettings never exposes the stored password hash.
func (h *AdminSettingsHandler) GetSettings(c *gin.Context) {
	s := h.settings.Load(c.Request.Context())
	if s == nil {
		s = &models.AdminSettings{}
	}
	chats := s.TelegramChatIDs
	if chats == nil {
		chats = models.ChatIDs{}
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":              true,
		"telegramChatIds": chats,
		"adminUser":       s.AdminUser,
		"passwordSet":     s.AdminPassHash != "",
	})
}

func (h *AdminSettingsHandler) UpdateSettings(c *gin.Context) {
	ctx := c.Request.Context()

	var req models.AdminSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON body"})
		return
	}

	next := models.AdminSettings{
		TelegramChatIDs: req.TelegramChatIDs,
		AdminUser:       strings.TrimSpace(req.AdminUser),
	}
	if next.TelegramChatIDs == nil {
		next.TelegramChatIDs = models.ChatIDs{}
	}
	if req.NewPassword != "" {
		hash, err := settings.HashPassword(req.NewPassword)
		if err != nil {
			h.logger.Error("Failed to hash admin password", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
		next.AdminPassHash = hash
	} else {
		prev, err := h.settings.Fetch(ctx)
		if err != nil {
			// Saving now would drop the stored password hash.
			h.logger.Error("Failed to read current admin settings", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
		if prev != nil {
			next.AdminPassHash = prev.AdminPassHash
		}
	}

	data, err := json.Marshal(next)
	if err != nil {
		h.logger.Error("Failed to encode admin settings", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	admin := middleware.AdminUser(c)
	if admin == "" {
		admin = "admin"
	}
	if _, err := h.content.Upsert(ctx, &models.ContentBlock{
		Key:       models.AdminSettingsKey,
		Type:      "settings",
		Data:      data,
		Version:   1,
		UpdatedBy: admin,
	}); err != nil {
		h.logger.Error("Failed to save admin settings", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	h.logger.Info("Admin settings updated",
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.Int("telegram_chats", len(next.TelegramChatIDs)),
		zap.Bool("password_changed", req.NewPassword != ""),
		zap.String("admin", admin),
	)
	c.JSON(http.StatusOK, gin.H{
		"ok":              true,
		"telegramChatIds": next.TelegramChatIDs,
		"adminUser":       next.AdminUser,
		"passwordSet":     next.AdminPassHash != "",
	})
}
