package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/contactbook-hq/contactbook-backend/internal/handlers"
	"github.com/contactbook-hq/contactbook-backend/internal/middleware"
)

type RouterConfig struct {
	AuthHandler    *handlers.AuthHandler
	UserHandler    *handlers.UserHandler
	ContactHandler *handlers.ContactHandler
	AuthMiddleware *middleware.AuthMiddleware
	RateLimit      *middleware.RateLimitMiddleware
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{
			"http://localhost:80",
			"http://localhost:3000",
			"http://localhost:5174",
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	if cfg.RateLimit != nil {
		router.Use(cfg.RateLimit.Limit())
	}

	// ===============
	// || Public    ||
	// ===============
	router.GET("/healthcheck", handlers.HealthCheck)

	auth := router.Group("/api/auth")
	{
		auth.POST("/signup", cfg.AuthHandler.Signup)
		auth.POST("/login", cfg.AuthHandler.Login)
		auth.GET("/refresh", cfg.AuthHandler.Refresh)
		auth.GET("/confirmed_email/:token", cfg.AuthHandler.ConfirmEmail)
		auth.POST("/request_email", cfg.AuthHandler.RequestEmail)
		auth.POST("/request_reset_password", cfg.AuthHandler.RequestPasswordReset)
		auth.POST("/reset_password", cfg.AuthHandler.ResetPassword)
	}

	// ===============
	// || Protected ||
	// ===============
	protected := router.Group("/api")
	protected.Use(cfg.AuthMiddleware.RequireAuth())
	{
		protected.POST("/auth/logout", cfg.AuthHandler.Logout)

		protected.GET("/users/current", cfg.UserHandler.Current)
		protected.PATCH("/users/avatar", cfg.UserHandler.UpdateAvatar)

		protected.POST("/contacts", cfg.ContactHandler.Create)
		protected.GET("/contacts", cfg.ContactHandler.List)
		protected.GET("/contacts/search", cfg.ContactHandler.Search)
		protected.GET("/contacts/birthdays", cfg.ContactHandler.UpcomingBirthdays)
		protected.GET("/contacts/:id", cfg.ContactHandler.Get)
		protected.PUT("/contacts/:id", cfg.ContactHandler.Update)
		protected.PATCH("/contacts/:id", cfg.ContactHandler.Update)
		protected.DELETE("/contacts/:id", cfg.ContactHandler.Delete)
	}

	return router
}
