package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"sealdrop/internal/identity"
	"sealdrop/internal/middleware"
	"sealdrop/internal/sealedbox"
)

type ProfileHandler struct {
	Identities identity.Store
}

func (h *ProfileHandler) Profile(c *gin.Context) {
	uid, ok := middleware.UIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}

	id, err := h.Identities.GetByUID(c.Request.Context(), uid)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Identity not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"uid":                id.UID,
		"socialNumber":       id.SocialNumber,
		"email":              id.Email,
		"publicKey":          id.PublicKey,
		"logoutTimeoutHours": id.LogoutTimeoutHours,
		"lastActiveAt":       id.LastActiveAt,
		"createdAt":          id.CreatedAt,
	})
}

type setPublicKeyBody struct {
	PublicKey []byte `json:"publicKey"`
}

func (h *ProfileHandler) SetPublicKey(c *gin.Context) {
	uid, ok := middleware.UIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}

	var body setPublicKeyBody
	if err := c.ShouldBindJSON(&body); err != nil || len(body.PublicKey) != sealedbox.KeySize {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid public key"})
		return
	}

	if err := h.Identities.SetPublicKey(c.Request.Context(), uid, body.PublicKey, time.Now().UnixMilli()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Update failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type setLogoutTimeoutBody struct {
	Hours int `json:"hours"`
}

func (h *ProfileHandler) SetLogoutTimeout(c *gin.Context) {
	uid, ok := middleware.UIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}

	var body setLogoutTimeoutBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	err := h.Identities.SetLogoutTimeout(c.Request.Context(), uid, body.Hours, time.Now().UnixMilli())
	if errors.Is(err, identity.ErrInvalidTimeout) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid logout timeout"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Update failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// LookupPublicKey resolves a contact's current public key by social number.
// The sender needs this once before sealing messages for a new contact.
func (h *ProfileHandler) LookupPublicKey(c *gin.Context) {
	socialNumber := c.Param("socialNumber")
	if socialNumber == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid social number"})
		return
	}

	id, err := h.Identities.GetBySocialNumber(c.Request.Context(), socialNumber)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}
	if len(id.PublicKey) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "No public key uploaded"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"uid": id.UID, "publicKey": id.PublicKey})
}
