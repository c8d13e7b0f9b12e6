package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/PrincewillDev/polling-app-sub000/config"
	"github.com/PrincewillDev/polling-app-sub000/logging"
	"github.com/PrincewillDev/polling-app-sub000/session"
)

// SessionHandler exposes the token lifecycle over HTTP. Each client keeps
// its own credential pair; the server side stays stateless and delegates to
// the identity provider.
type SessionHandler struct {
	provider *session.LocalProvider
	cfg      config.SessionConfig
}

// NewSessionHandler wires the in-process provider.
func NewSessionHandler(provider *session.LocalProvider, cfg config.SessionConfig) *SessionHandler {
	return &SessionHandler{provider: provider, cfg: cfg}
}

// credentialBody builds the shared issue/refresh response. refresh_after
// tells the client when to start rotating, access-token expiry minus the
// configured skew.
func (h *SessionHandler) credentialBody(creds *session.Credentials) gin.H {
	return gin.H{
		"success":       true,
		"credentials":   creds,
		"refresh_after": creds.ExpiresAt.Add(-h.cfg.RefreshSkew),
	}
}

// IssueInput names the user a new session is minted for. A full deployment
// fronts this with a password check; here any non-empty user id is accepted.
type IssueInput struct {
	UserID string `json:"user_id" binding:"required"`
}

// Issue handles POST /session: mint a fresh credential pair.
func (h *SessionHandler) Issue(c *gin.Context) {
	var input IssueInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	creds := h.provider.Issue(input.UserID)
	logging.Log.WithField("user_id", input.UserID).Info("会话签发")
	c.JSON(http.StatusOK, h.credentialBody(creds))
}

// RefreshInput carries the refresh token being exchanged.
type RefreshInput struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// Refresh handles POST /session/refresh: rotate the credential pair.
func (h *SessionHandler) Refresh(c *gin.Context) {
	var input RefreshInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	if h.cfg.RefreshTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.RefreshTimeout)
		defer cancel()
	}

	creds, err := h.provider.Refresh(ctx, input.RefreshToken)
	if err != nil {
		if errors.Is(err, session.ErrRefreshRejected) {
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": session.ErrRefreshRejected.Error()})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "refresh temporarily unavailable"})
		return
	}

	c.JSON(http.StatusOK, h.credentialBody(creds))
}

// Status handles GET /session/status: validate the bearer token.
func (h *SessionHandler) Status(c *gin.Context) {
	token := bearerToken(c)
	if token == "" {
		c.JSON(http.StatusOK, gin.H{"success": true, "authenticated": false})
		return
	}

	userID, err := h.provider.Verify(c.Request.Context(), token)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"success": true, "authenticated": false})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"authenticated": true,
		"user_id":       userID,
		"server_time":   time.Now().UTC(),
	})
}

// SignOut handles POST /session/signout: revoke the pair on the provider.
func (h *SessionHandler) SignOut(c *gin.Context) {
	var input RefreshInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	// 注销是尽力而为，未知令牌也算成功
	_ = h.provider.Revoke(c.Request.Context(), input.RefreshToken)
	c.JSON(http.StatusOK, gin.H{"success": true})
}
