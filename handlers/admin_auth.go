package handlers

import (
	"context"
	"net/http"

	"github.com/nerkean/gnizde.4ko/middleware"
	"github.com/nerkean/gnizde.4ko/models"
	"github.com/nerkean/gnizde.4ko/settings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SettingsLoader returns the admin.settings override, or nil.
type SettingsLoader interface {
	Load(ctx context.Context) *models.AdminSettings
}

type AuthHandler struct {
	sessions    *middleware.Sessions
	settings    SettingsLoader
	defaultUser string
	defaultPass string
	logger      *zap.Logger
}

func NewAuthHandler(sessions *middleware.Sessions, loader SettingsLoader, defaultUser, defaultPass string, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		sessions:    sessions,
		settings:    loader,
		defaultUser: defaultUser,
		defaultPass: defaultPass,
		logger:      logger,
	}
}

type loginRequest struct {
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

func secureRequest(c *gin.Context) bool {
	return c.Request.TLS != nil || c.GetHeader("X-Forwarded-Proto") == "https"
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	creds := settings.ResolveCredentials(h.defaultUser, h.defaultPass, h.settings.Load(c.Request.Context()))
	if !creds.Check(req.Username, req.Password) {
		h.logger.Warn("Failed admin login",
			zap.String("trace_id", middleware.GetTraceID(c.Request.Context())),
			zap.String("username", req.Username),
			zap.String("ip", c.ClientIP()),
		)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	token, err := h.sessions.Issue(creds.User)
	if err != nil {
		h.logger.Error("Failed to issue session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.SessionCookie, token, int(h.sessions.TTL().Seconds()), "/", "", secureRequest(c), true)
	h.logger.Info("Admin logged in",
		zap.String("trace_id", middleware.GetTraceID(c.Request.Context())),
		zap.String("username", creds.User),
	)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *AuthHandler) Logout(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.SessionCookie, "", -1, "/", "", secureRequest(c), true)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
