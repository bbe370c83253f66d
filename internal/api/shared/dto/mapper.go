package dto

import (
	"encoding/json"

	"github.com/fractionalev/ownership-ledger/internal/distribution"
	"github.com/fractionalev/ownership-ledger/internal/domain"
	"github.com/fractionalev/ownership-ledger/internal/store/schema"
)

// MapAssetToDTO maps a schema.Asset to AssetResponse
func MapAssetToDTO(asset *schema.Asset) *AssetResponse {
	resp := &AssetResponse{
		ID:                 asset.ID,
		Name:               asset.Name,
		Category:           asset.Category,
		Status:             asset.Status,
		OriginalValueMinor: asset.OriginalValueMinor,
		Currency:           asset.Currency,
		Health:             asset.Health,
		RetiredAt:          asset.RetiredAt,
		CreatedAt:          asset.CreatedAt,
		UpdatedAt:          asset.UpdatedAt,
	}

	if len(asset.Metadata) > 0 {
		var metadata map[string]interface{}
		if err := json.Unmarshal(asset.Metadata, &metadata); err == nil {
			resp.Metadata = metadata
		}
	}

	return resp
}

// MapGrantToDTO maps a schema.OwnershipGrant to GrantResponse
func MapGrantToDTO(grant *schema.OwnershipGrant) *GrantResponse {
	return &GrantResponse{
		ID:                     grant.ID,
		AssetID:                grant.AssetID,
		InvestorID:             grant.InvestorID,
		FractionBps:            grant.FractionBps,
		AmountPaidMinor:        grant.AmountPaidMinor,
		Currency:               grant.Currency,
		TransferredFromGrantID: grant.TransferredFromGrantID,
		CancelledAt:            grant.CancelledAt,
		CancelReason:           grant.CancelReason,
		CreatedAt:              grant.CreatedAt,
	}
}

// MapSharesToDTO maps snapshot shares and sums their fractions
func MapSharesToDTO(shares []domain.Share) ([]ShareResponse, int) {
	result := make([]ShareResponse, 0, len(shares))
	allocated := 0
	for _, share := range shares {
		result = append(result, ShareResponse{
			InvestorID:  share.InvestorID,
			FractionBps: share.BasisPoints,
		})
		allocated += share.BasisPoints
	}
	return result, allocated
}

// MapRunToDTO maps a distribution run and its line items to DistributionRunResponse
func MapRunToDTO(run *schema.DistributionRun, items []schema.DistributionLineItem, duplicate bool) *DistributionRunResponse {
	resp := &DistributionRunResponse{
		ID:                run.ID,
		AssetID:           run.AssetID,
		Period:            run.Period().String(),
		PeriodStart:       run.PeriodStart,
		PeriodEnd:         run.PeriodEnd,
		TotalRevenueMinor: run.TotalRevenueMinor,
		Currency:          run.Currency,
		Status:            run.Status,
		IdempotencyKey:    run.IdempotencyKey,
		SnapshotAt:        run.SnapshotAt,
		FailureReason:     run.FailureReason,
		CreatedAt:         run.CreatedAt,
		CompletedAt:       run.CompletedAt,
		FailedAt:          run.FailedAt,
		Duplicate:         duplicate,
	}

	for _, item := range items {
		resp.LineItems = append(resp.LineItems, LineItemResponse{
			InvestorID:       item.InvestorID,
			FractionBps:      item.FractionBps,
			AmountMinor:      item.AmountMinor,
			RoundingAdjusted: item.RoundingAdjusted,
			Retained:         item.Retained,
		})
	}

	return resp
}

// MapResultToDTO maps an executor result to DistributionRunResponse
func MapResultToDTO(result *distribution.Result) *DistributionRunResponse {
	return MapRunToDTO(result.Run, result.LineItems, result.Duplicate)
}

// MapPayoutToDTO maps an investor payout to PayoutResponse
func MapPayoutToDTO(payout distribution.Payout) PayoutResponse {
	return PayoutResponse{
		RunID:            payout.LineItem.RunID,
		AssetID:          payout.AssetID,
		PeriodStart:      payout.PeriodStart,
		PeriodEnd:        payout.PeriodEnd,
		FractionBps:      payout.LineItem.FractionBps,
		AmountMinor:      payout.LineItem.AmountMinor,
		Currency:         payout.Currency,
		RoundingAdjusted: payout.LineItem.RoundingAdjusted,
		CreatedAt:        payout.LineItem.CreatedAt,
	}
}
