package rest

import (
	"github.com/gin-gonic/gin"

	"github.com/fractionalev/ownership-ledger/internal/api/middleware"
)

// SetupRoutes configures all REST API routes
func SetupRoutes(router *gin.Engine, handler Handler, authCfg middleware.AuthConfig) {
	// Health check endpoint (no auth, no version prefix)
	router.GET("/health", handler.HealthCheck)

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		// Asset endpoints (public read access)
		v1.GET("/assets", handler.ListAssets)
		v1.GET("/assets/:id", handler.GetAsset)
		v1.GET("/assets/:id/ownership", handler.GetOwnership)
		v1.GET("/assets/:id/allocation", handler.GetAllocation)
		v1.GET("/assets/:id/distributions", handler.ListAssetDistributions)

		// Grant, run and investor endpoints (public read access)
		v1.GET("/grants/:id", handler.GetGrant)
		v1.GET("/distributions/:id", handler.GetDistributionRun)
		v1.GET("/investors/:id/grants", handler.ListInvestorGrants)
		v1.GET("/investors/:id/payouts", handler.ListInvestorPayouts)

		// Commands (requires authentication)
		authed := v1.Group("", middleware.Auth(authCfg))
		authed.POST("/assets", handler.CreateAsset)
		authed.PATCH("/assets/:id/status", handler.UpdateAssetStatus)
		authed.PATCH("/assets/:id/health", handler.UpdateAssetHealth)
		authed.POST("/assets/:id/grants", handler.GrantOwnership)
		authed.POST("/assets/:id/distributions", handler.InitiateDistribution)
		authed.POST("/grants/:id/cancel", handler.CancelGrant)
		authed.POST("/grants/:id/transfer", handler.TransferGrant)
		authed.POST("/distributions/:id/settlements/replay", handler.ReplaySettlement)
	}
}
