package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"sealdrop/internal/auth"
	"sealdrop/internal/identity"
	"sealdrop/internal/mailer"
)

// AuthHandler implements the passwordless login flow: request a one-time
// code by email, then trade the code for a session token. Verifying rotates
// the identity's single active session token. The request route sits behind
// the code rate limiter; see the router wiring.
type AuthHandler struct {
	Identities  identity.Store
	Codes       *auth.CodeIssuer
	Mailer      mailer.Mailer
	TokenConfig auth.TokenConfig
	Log         *zap.Logger
}

type requestCodeBody struct {
	Email string `json:"email"`
}

type verifyCodeBody struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

func (h *AuthHandler) RequestCode(c *gin.Context) {
	var body requestCodeBody
	if err := c.ShouldBindJSON(&body); err != nil || body.Email == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	code, err := h.Codes.Issue(body.Email)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Code issuance failed"})
		return
	}
	if err := h.Mailer.SendLoginCode(body.Email, code); err != nil {
		h.Log.Error("login code delivery failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Code delivery failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *AuthHandler) VerifyCode(c *gin.Context) {
	var body verifyCodeBody
	if err := c.ShouldBindJSON(&body); err != nil || body.Email == "" || body.Code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if err := h.Codes.Verify(body.Email, body.Code); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired code"})
		return
	}

	now := time.Now().UnixMilli()
	id, created, err := h.Identities.GetOrCreateByEmail(c.Request.Context(), body.Email, now)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Login failed"})
		return
	}
	if created {
		h.Log.Info("identity created", zap.String("uid", id.UID))
	}

	token, err := auth.CreateToken(id.UID, h.TokenConfig)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Token creation failed"})
		return
	}
	if err := h.Identities.SetSessionToken(c.Request.Context(), id.UID, token, now); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Login failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"uid":          id.UID,
		"socialNumber": id.SocialNumber,
		"token":        token,
	})
}
