package api

import (
	"context"
	"net/http"

	"entitlement-api/internal/middleware"
	"entitlement-api/internal/models"
	"entitlement-api/internal/services"

	"github.com/gin-gonic/gin"
)

// EntitlementService is what the premium endpoints need from the resolver
type EntitlementService interface {
	SetPremiumStatus(ctx context.Context, userID string, req services.PremiumStatusRequest) (*services.PremiumStatusResult, error)
	GetEntitlement(ctx context.Context, userID string) (*models.Entitlement, error)
	DeleteAccount(ctx context.Context, userID string) error
}

// NotificationProcessor applies one App Store webhook delivery
type NotificationProcessor interface {
	Process(ctx context.Context, body []byte) (*services.NotificationResult, error)
}

// Handler holds the dependencies of the HTTP handlers
type Handler struct {
	Entitlements  EntitlementService
	Notifications NotificationProcessor
	AuthSecret    string
}

// SetupRoutes sets up all routes
func SetupRoutes(r *gin.Engine, h *Handler) {
	api := r.Group("/api")
	{
		// Premium routes (require a signed-in user)
		user := api.Group("")
		user.Use(middleware.UserAuthMiddleware(h.AuthSecret))
		{
			user.POST("/premium", h.SetPremium)
			user.GET("/premium", h.GetPremium)
			user.DELETE("/account", h.DeleteAccount)
		}

		// App Store notification routes (no authentication, Apple calls these)
		appstore := api.Group("/appstore")
		{
			appstore.Any("/notifications", h.AppStoreNotification)
		}
	}

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "entitlement-api",
		})
	})
}
