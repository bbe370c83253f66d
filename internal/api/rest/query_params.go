package rest

import (
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fractionalev/ownership-ledger/internal/api/shared/constants"
	"github.com/fractionalev/ownership-ledger/internal/domain"
)

// PageQueryParams holds pagination query parameters shared by list endpoints
type PageQueryParams struct {
	Limit  int    `form:"limit,default=50"`
	Offset uint64 `form:"offset,default=0"`
}

// Validate validates the pagination parameters
func (p *PageQueryParams) Validate() error {
	if p.Limit < 1 || p.Limit > constants.MAX_PAGE_SIZE {
		return fmt.Errorf("limit must be between 1 and %d", constants.MAX_PAGE_SIZE)
	}
	return nil
}

// ListAssetsQueryParams holds query parameters for GET /assets
type ListAssetsQueryParams struct {
	PageQueryParams

	// Filters
	Categories []domain.AssetCategory `form:"-"`
	Statuses   []domain.AssetStatus   `form:"-"`
}

// ParseListAssetsQuery parses query parameters for GET /assets.
// Filters accept repeated parameters or comma separated values.
func ParseListAssetsQuery(c *gin.Context) (*ListAssetsQueryParams, error) {
	var params ListAssetsQueryParams
	if err := c.ShouldBindQuery(&params); err != nil {
		return nil, err
	}

	for _, category := range splitCSV(c.QueryArray("category")) {
		if !domain.IsValidAssetCategory(domain.AssetCategory(category)) {
			return nil, fmt.Errorf("invalid category: %s", category)
		}
		params.Categories = append(params.Categories, domain.AssetCategory(category))
	}

	for _, status := range splitCSV(c.QueryArray("status")) {
		if !domain.IsValidAssetStatus(domain.AssetStatus(status)) {
			return nil, fmt.Errorf("invalid status: %s", status)
		}
		params.Statuses = append(params.Statuses, domain.AssetStatus(status))
	}

	return &params, nil
}

// ParsePageQuery parses pagination query parameters
func ParsePageQuery(c *gin.Context) (*PageQueryParams, error) {
	var params PageQueryParams
	if err := c.ShouldBindQuery(&params); err != nil {
		return nil, err
	}
	return &params, nil
}

// GetOwnershipQueryParams holds query parameters for GET /assets/:id/ownership
type GetOwnershipQueryParams struct {
	AsOf string `form:"as_of"`
}

// ParseAsOf returns the snapshot instant, or nil for now
func (p *GetOwnershipQueryParams) ParseAsOf() (*time.Time, error) {
	if p.AsOf == "" {
		return nil, nil
	}
	at, err := time.Parse(time.RFC3339Nano, p.AsOf)
	if err != nil {
		return nil, fmt.Errorf("as_of must be an RFC 3339 timestamp: %s", p.AsOf)
	}
	at = at.UTC()
	return &at, nil
}

// ListInvestorGrantsQueryParams holds query parameters for GET /investors/:id/grants
type ListInvestorGrantsQueryParams struct {
	IncludeCancelled bool `form:"include_cancelled,default=false"`
}

// splitCSV flattens repeated and comma separated query values
func splitCSV(values []string) []string {
	var result []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				result = append(result, part)
			}
		}
	}
	return result
}
