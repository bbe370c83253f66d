package rest

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/fractionalev/ownership-ledger/internal/api/shared/constants"
	"github.com/fractionalev/ownership-ledger/internal/api/shared/dto"
	"github.com/fractionalev/ownership-ledger/internal/api/shared/executor"
)

// Handler defines the interface for REST API handlers
type Handler interface {
	// CreateAsset registers an asset (requires authentication)
	// POST /api/v1/assets
	CreateAsset(c *gin.Context)

	// GetAsset retrieves a single asset
	// GET /api/v1/assets/:id
	GetAsset(c *gin.Context)

	// ListAssets retrieves assets with optional filters
	// GET /api/v1/assets?category=<category1>,<category2>&status=<status1>,<status2>&limit=<limit>&offset=<offset>
	ListAssets(c *gin.Context)

	// UpdateAssetStatus moves an asset along its lifecycle (requires authentication)
	// PATCH /api/v1/assets/:id/status
	UpdateAssetStatus(c *gin.Context)

	// UpdateAssetHealth sets an asset's health score (requires authentication)
	// PATCH /api/v1/assets/:id/health
	UpdateAssetHealth(c *gin.Context)

	// GrantOwnership grants a fraction of an asset to an investor (requires authentication)
	// POST /api/v1/assets/:id/grants
	GrantOwnership(c *gin.Context)

	// GetOwnership retrieves the ownership snapshot of an asset
	// GET /api/v1/assets/:id/ownership?as_of=<timestamp>
	GetOwnership(c *gin.Context)

	// GetAllocation retrieves the allocated and available basis points of an asset
	// GET /api/v1/assets/:id/allocation
	GetAllocation(c *gin.Context)

	// GetGrant retrieves a single ownership grant
	// GET /api/v1/grants/:id
	GetGrant(c *gin.Context)

	// CancelGrant cancels an ownership grant (requires authentication)
	// POST /api/v1/grants/:id/cancel
	CancelGrant(c *gin.Context)

	// TransferGrant moves an ownership grant to another investor (requires authentication)
	// POST /api/v1/grants/:id/transfer
	TransferGrant(c *gin.Context)

	// ListInvestorGrants retrieves the grants held by an investor
	// GET /api/v1/investors/:id/grants?include_cancelled=<bool>
	ListInvestorGrants(c *gin.Context)

	// InitiateDistribution distributes a period's revenue to the asset's owners (requires authentication)
	// POST /api/v1/assets/:id/distributions
	// The Idempotency-Key header takes precedence over idempotency_key in the body.
	InitiateDistribution(c *gin.Context)

	// ListAssetDistributions retrieves the distribution runs of an asset
	// GET /api/v1/assets/:id/distributions?limit=<limit>&offset=<offset>
	ListAssetDistributions(c *gin.Context)

	// GetDistributionRun retrieves a distribution run with its line items
	// GET /api/v1/distributions/:id
	GetDistributionRun(c *gin.Context)

	// ReplaySettlement re-emits the settlement instructions of a completed run (requires authentication)
	// POST /api/v1/distributions/:id/settlements/replay
	ReplaySettlement(c *gin.Context)

	// ListInvestorPayouts retrieves the payout history of an investor
	// GET /api/v1/investors/:id/payouts?limit=<limit>&offset=<offset>
	ListInvestorPayouts(c *gin.Context)

	// HealthCheck returns the health status of the API
	// GET /health
	HealthCheck(c *gin.Context)
}

// handler implements the Handler interface
type handler struct {
	debug    bool
	executor executor.Executor
}

// NewHandler creates a new REST API handler using the shared executor
func NewHandler(debug bool, exec executor.Executor) Handler {
	return &handler{
		debug:    debug,
		executor: exec,
	}
}

// bindJSON decodes and validates a request body, responding on failure
func bindJSON[T interface{ Validate() error }](c *gin.Context, req T) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		respondValidationError(c, fmt.Sprintf("Invalid request body: %v", err))
		return false
	}
	if err := req.Validate(); err != nil {
		respondError(c, err, "Invalid request body")
		return false
	}
	return true
}

// CreateAsset registers an asset
func (h *handler) CreateAsset(c *gin.Context) {
	var req dto.CreateAssetRequest
	if !bindJSON(c, &req) {
		return
	}

	response, err := h.executor.CreateAsset(c.Request.Context(), req)
	if err != nil {
		respondError(c, err, "Failed to create asset")
		return
	}

	c.JSON(http.StatusCreated, response)
}

// GetAsset retrieves a single asset
func (h *handler) GetAsset(c *gin.Context) {
	response, err := h.executor.GetAsset(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "Failed to get asset")
		return
	}

	c.JSON(http.StatusOK, response)
}

// ListAssets retrieves assets with optional filters
func (h *handler) ListAssets(c *gin.Context) {
	queryParams, err := ParseListAssetsQuery(c)
	if err != nil {
		respondValidationError(c, err.Error())
		return
	}

	if err := queryParams.Validate(); err != nil {
		respondValidationError(c, err.Error())
		return
	}

	response, err := h.executor.ListAssets(
		c.Request.Context(),
		queryParams.Categories,
		queryParams.Statuses,
		&queryParams.Limit,
		&queryParams.Offset,
	)
	if err != nil {
		respondError(c, err, "Failed to list assets")
		return
	}

	c.JSON(http.StatusOK, response)
}

// UpdateAssetStatus moves an asset along its lifecycle
func (h *handler) UpdateAssetStatus(c *gin.Context) {
	var req dto.UpdateAssetStatusRequest
	if !bindJSON(c, &req) {
		return
	}

	response, err := h.executor.UpdateAssetStatus(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		respondError(c, err, "Failed to update asset status")
		return
	}

	c.JSON(http.StatusOK, response)
}

// UpdateAssetHealth sets an asset's health score
func (h *handler) UpdateAssetHealth(c *gin.Context) {
	var req dto.UpdateAssetHealthRequest
	if !bindJSON(c, &req) {
		return
	}

	response, err := h.executor.UpdateAssetHealth(c.Request.Context(), c.Param("id"), *req.Health)
	if err != nil {
		respondError(c, err, "Failed to update asset health")
		return
	}

	c.JSON(http.StatusOK, response)
}

// GrantOwnership grants a fraction of an asset to an investor
func (h *handler) GrantOwnership(c *gin.Context) {
	var req dto.GrantOwnershipRequest
	if !bindJSON(c, &req) {
		return
	}

	response, err := h.executor.GrantOwnership(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		respondError(c, err, "Failed to grant ownership")
		return
	}

	c.JSON(http.StatusCreated, response)
}

// GetOwnership retrieves the ownership snapshot of an asset
func (h *handler) GetOwnership(c *gin.Context) {
	var queryParams GetOwnershipQueryParams
	if err := c.ShouldBindQuery(&queryParams); err != nil {
		respondValidationError(c, err.Error())
		return
	}

	asOf, err := queryParams.ParseAsOf()
	if err != nil {
		respondValidationError(c, err.Error())
		return
	}

	response, err := h.executor.GetOwnership(c.Request.Context(), c.Param("id"), asOf)
	if err != nil {
		respondError(c, err, "Failed to get ownership")
		return
	}

	c.JSON(http.StatusOK, response)
}

// GetAllocation retrieves the allocated and available basis points of an asset
func (h *handler) GetAllocation(c *gin.Context) {
	response, err := h.executor.GetAllocation(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "Failed to get allocation")
		return
	}

	c.JSON(http.StatusOK, response)
}

// GetGrant retrieves a single ownership grant
func (h *handler) GetGrant(c *gin.Context) {
	response, err := h.executor.GetGrant(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "Failed to get grant")
		return
	}

	c.JSON(http.StatusOK, response)
}

// CancelGrant cancels an ownership grant
func (h *handler) CancelGrant(c *gin.Context) {
	var req dto.CancelGrantRequest
	if !bindJSON(c, &req) {
		return
	}

	response, err := h.executor.CancelGrant(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		respondError(c, err, "Failed to cancel grant")
		return
	}

	c.JSON(http.StatusOK, response)
}

// TransferGrant moves an ownership grant to another investor
func (h *handler) TransferGrant(c *gin.Context) {
	var req dto.TransferGrantRequest
	if !bindJSON(c, &req) {
		return
	}

	response, err := h.executor.TransferGrant(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		respondError(c, err, "Failed to transfer grant")
		return
	}

	c.JSON(http.StatusCreated, response)
}

// ListInvestorGrants retrieves the grants held by an investor
func (h *handler) ListInvestorGrants(c *gin.Context) {
	var queryParams ListInvestorGrantsQueryParams
	if err := c.ShouldBindQuery(&queryParams); err != nil {
		respondValidationError(c, err.Error())
		return
	}

	response, err := h.executor.ListInvestorGrants(c.Request.Context(), c.Param("id"), queryParams.IncludeCancelled)
	if err != nil {
		respondError(c, err, "Failed to list investor grants")
		return
	}

	c.JSON(http.StatusOK, response)
}

// InitiateDistribution distributes a period's revenue to the asset's owners.
// A fresh run answers 201; a request matching an existing run answers 200 with duplicate set.
func (h *handler) InitiateDistribution(c *gin.Context) {
	var req dto.InitiateDistributionRequest
	if !bindJSON(c, &req) {
		return
	}

	idempotencyKey := strings.TrimSpace(req.IdempotencyKey)
	if header := strings.TrimSpace(c.GetHeader(constants.IDEMPOTENCY_KEY_HEADER)); header != "" {
		if idempotencyKey != "" && idempotencyKey != header {
			respondBadRequest(c, "Idempotency key mismatch", "Idempotency-Key header and idempotency_key body field differ")
			return
		}
		idempotencyKey = header
	}

	period, err := req.ResolvePeriod()
	if err != nil {
		respondError(c, err, "Invalid period")
		return
	}

	response, err := h.executor.InitiateDistribution(
		c.Request.Context(),
		c.Param("id"),
		period,
		req.TotalRevenueMinor,
		req.Currency,
		idempotencyKey,
	)
	if err != nil {
		respondError(c, err, "Failed to distribute revenue")
		return
	}

	status := http.StatusCreated
	if response.Duplicate {
		status = http.StatusOK
	}
	c.JSON(status, response)
}

// ListAssetDistributions retrieves the distribution runs of an asset
func (h *handler) ListAssetDistributions(c *gin.Context) {
	queryParams, err := ParsePageQuery(c)
	if err != nil {
		respondValidationError(c, err.Error())
		return
	}

	if err := queryParams.Validate(); err != nil {
		respondValidationError(c, err.Error())
		return
	}

	response, err := h.executor.ListAssetDistributions(c.Request.Context(), c.Param("id"), &queryParams.Limit, &queryParams.Offset)
	if err != nil {
		respondError(c, err, "Failed to list distributions")
		return
	}

	c.JSON(http.StatusOK, response)
}

// GetDistributionRun retrieves a distribution run with its line items
func (h *handler) GetDistributionRun(c *gin.Context) {
	response, err := h.executor.GetDistributionRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "Failed to get distribution run")
		return
	}

	c.JSON(http.StatusOK, response)
}

// ReplaySettlement re-emits the settlement instructions of a completed run
func (h *handler) ReplaySettlement(c *gin.Context) {
	response, err := h.executor.ReplaySettlement(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "Failed to replay settlement")
		return
	}

	c.JSON(http.StatusAccepted, response)
}

// ListInvestorPayouts retrieves the payout history of an investor
func (h *handler) ListInvestorPayouts(c *gin.Context) {
	queryParams, err := ParsePageQuery(c)
	if err != nil {
		respondValidationError(c, err.Error())
		return
	}

	if err := queryParams.Validate(); err != nil {
		respondValidationError(c, err.Error())
		return
	}

	response, err := h.executor.ListInvestorPayouts(c.Request.Context(), c.Param("id"), &queryParams.Limit, &queryParams.Offset)
	if err != nil {
		respondError(c, err, "Failed to list payouts")
		return
	}

	c.JSON(http.StatusOK, response)
}

// HealthCheck returns the health status of the API
func (h *handler) HealthCheck(c *gin.Context) {
	if err := h.executor.Ping(c.Request.Context()); err != nil {
		respondError(c, err, "Database unreachable")
		return
	}

	c.JSON(http.StatusOK, dto.HealthResponse{
		Status:   "ok",
		Service:  "ownership-ledger-api",
		Database: "ok",
	})
}
