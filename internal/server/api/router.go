package api

import (
	"time"

	"satchel/internal/server/auth"
	"satchel/internal/server/config"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

// SetupRouter creates and configures the echo router with all routes and middleware.
func SetupRouter(handler *Handler, tokens *auth.TokenManager, cfg *config.Config) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Global middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "Authorization"},
	}))
	e.Use(RequestLogger())

	// Per-IP token bucket on the upload endpoint only
	uploadLimiter := middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(cfg.RateLimitRPS),
			Burst:     cfg.RateLimitBurst,
			ExpiresIn: 10 * time.Minute,
		}),
	})

	requireAuth := RequireAuth(tokens)

	// Health & stats
	e.GET("/health", handler.HandleHealth)
	e.GET("/api/stats", handler.HandleStats)

	// Accounts
	e.POST("/api/auth/register", handler.HandleRegister)
	e.POST("/api/auth/login", handler.HandleLogin)

	// Owner-facing file management
	e.POST("/api/files", handler.HandleUpload, requireAuth, uploadLimiter)
	e.GET("/api/files", handler.HandleList, requireAuth)
	e.DELETE("/api/files/:id", handler.HandleDelete, requireAuth)
	e.PUT("/api/files/:id/code", handler.HandleResetCode, requireAuth)
	e.GET("/api/files/:id/history", handler.HandleHistory, requireAuth)

	// Code-facing access
	e.GET("/api/code/:code", handler.HandleLookup)
	e.GET("/api/code/:code/url", handler.HandlePresign)
	e.GET("/d/:code", handler.HandleDownload, OptionalAuth(tokens))

	// Signed local blob links exist only with the filesystem backend
	if handler.local != nil {
		e.GET("/blob/:key", handler.HandleBlob)
	}

	return e
}
