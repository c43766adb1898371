package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"sealdrop/internal/auth"
	"sealdrop/internal/delivery"
	"sealdrop/internal/handler"
	"sealdrop/internal/identity"
	"sealdrop/internal/mailer"
	"sealdrop/internal/middleware"
	"sealdrop/internal/registry"
)

type Deps struct {
	Identities   identity.Store
	Engine       *delivery.Engine
	Registry     *registry.Registry
	Codes        *auth.CodeIssuer
	Mailer       mailer.Mailer
	TokenConfig  auth.TokenConfig
	PingInterval time.Duration
	Log          *zap.Logger
}

func NewRouter(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"ok": true})
	})

	authHandler := &handler.AuthHandler{
		Identities:  deps.Identities,
		Codes:       deps.Codes,
		Mailer:      deps.Mailer,
		TokenConfig: deps.TokenConfig,
		Log:         deps.Log,
	}
	codeLimiter := middleware.NewRateLimiter(10, time.Minute)
	r.POST("/v1/auth/request", middleware.RateLimit(codeLimiter), authHandler.RequestCode)
	r.POST("/v1/auth/verify", authHandler.VerifyCode)

	protected := r.Group("/v1")
	protected.Use(middleware.RequireAuth(deps.TokenConfig, deps.Identities))

	profileHandler := &handler.ProfileHandler{Identities: deps.Identities}
	protected.GET("/profile", profileHandler.Profile)
	protected.PUT("/profile/publicKey", profileHandler.SetPublicKey)
	protected.PUT("/profile/logoutTimeout", profileHandler.SetLogoutTimeout)
	protected.GET("/users/:socialNumber/publicKey", profileHandler.LookupPublicKey)

	messageHandler := &handler.MessageHandler{Engine: deps.Engine}
	protected.POST("/messages/ack", messageHandler.Acknowledge)
	protected.GET("/messages/pending", messageHandler.Pending)

	wsHandler := &handler.WebSocketHandler{
		Registry:     deps.Registry,
		Engine:       deps.Engine,
		Identities:   deps.Identities,
		PingInterval: deps.PingInterval,
		Log:          deps.Log,
	}
	r.GET("/ws", wsHandler.Serve)

	return r
}
