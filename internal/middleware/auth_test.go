package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"sealdrop/internal/auth"
	"sealdrop/internal/identity"
)

func authTestRouter(t *testing.T) (*gin.Engine, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ids := identity.NewMemoryStore()
	cfg := auth.TokenConfig{Secret: "secret", Expiry: time.Hour, Issuer: "test"}

	now := time.Now().UnixMilli()
	id, _, err := ids.GetOrCreateByEmail(context.Background(), "a@example.com", now)
	if err != nil {
		t.Fatalf("GetOrCreateByEmail: %v", err)
	}
	token, err := auth.CreateToken(id.UID, cfg)
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}
	if err := ids.SetSessionToken(context.Background(), id.UID, token, now); err != nil {
		t.Fatalf("SetSessionToken: %v", err)
	}

	r := gin.New()
	r.GET("/protected", RequireAuth(cfg, ids), func(c *gin.Context) {
		uid, _ := UIDFromContext(c)
		c.JSON(http.StatusOK, gin.H{"uid": uid})
	})
	return r, token
}

func TestRequireAuth_ValidToken(t *testing.T) {
	r, token := authTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestRequireAuth_MissingOrMalformedHeader(t *testing.T) {
	r, _ := authTestRouter(t)

	for _, header := range []string{"", "Bearer", "Basic abc"} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		r.ServeHTTP(w, req)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("header %q: expected 401, got %d", header, w.Code)
		}
	}
}

func TestRequireAuth_RotatedTokenRejected(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ids := identity.NewMemoryStore()
	cfg := auth.TokenConfig{Secret: "secret", Expiry: time.Hour, Issuer: "test"}

	now := time.Now().UnixMilli()
	id, _, _ := ids.GetOrCreateByEmail(context.Background(), "b@example.com", now)
	oldToken, _ := auth.CreateToken(id.UID, cfg)
	_ = ids.SetSessionToken(context.Background(), id.UID, oldToken, now)

	newToken, _ := auth.CreateToken(id.UID, cfg)
	_ = ids.SetSessionToken(context.Background(), id.UID, newToken, now)

	r := gin.New()
	r.GET("/protected", RequireAuth(cfg, ids), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	// The old token still verifies as a JWT but no longer matches the
	// stored session token.
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+oldToken)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for rotated-out token, got %d", w.Code)
	}
}
