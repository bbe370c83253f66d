package graphql

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	apierrors "github.com/fractionalev/ownership-ledger/internal/api/shared/errors"
	"github.com/fractionalev/ownership-ledger/internal/api/shared/executor"
	"github.com/fractionalev/ownership-ledger/internal/domain"
)

// Resolver is the root resolver that holds executor
type Resolver struct {
	executor executor.Executor
}

// NewResolver creates a new root resolver with executor
func NewResolver(exec executor.Executor) *Resolver {
	return &Resolver{
		executor: exec,
	}
}

// resolveQuery runs the query field name with its arguments and returns the response DTO
func (r *Resolver) resolveQuery(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	switch name {
	case "asset":
		return r.executor.GetAsset(ctx, stringArg(args, "id"))

	case "assets":
		categories, err := stringListArg(args, "categories")
		if err != nil {
			return nil, err
		}
		statuses, err := stringListArg(args, "statuses")
		if err != nil {
			return nil, err
		}
		limit, offset, err := pageArgs(args)
		if err != nil {
			return nil, err
		}
		return r.executor.ListAssets(ctx,
			convertStrings[domain.AssetCategory](categories),
			convertStrings[domain.AssetStatus](statuses),
			limit, offset)

	case "grant":
		return r.executor.GetGrant(ctx, stringArg(args, "id"))

	case "investorGrants":
		includeCancelled, _ := args["include_cancelled"].(bool)
		return r.executor.ListInvestorGrants(ctx, stringArg(args, "investor_id"), includeCancelled)

	case "ownership":
		var asOf *time.Time
		if raw, ok := args["as_of"]; ok && raw != nil {
			t, err := parseTime(raw)
			if err != nil {
				return nil, apierrors.NewValidationError(err.Error())
			}
			asOf = &t
		}
		return r.executor.GetOwnership(ctx, stringArg(args, "asset_id"), asOf)

	case "allocation":
		return r.executor.GetAllocation(ctx, stringArg(args, "asset_id"))

	case "distributionRun":
		return r.executor.GetDistributionRun(ctx, stringArg(args, "id"))

	case "assetDistributions":
		limit, offset, err := pageArgs(args)
		if err != nil {
			return nil, err
		}
		return r.executor.ListAssetDistributions(ctx, stringArg(args, "asset_id"), limit, offset)

	case "investorPayouts":
		limit, offset, err := pageArgs(args)
		if err != nil {
			return nil, err
		}
		return r.executor.ListInvestorPayouts(ctx, stringArg(args, "investor_id"), limit, offset)

	default:
		return nil, apierrors.NewBadRequestError("Unknown query field", name)
	}
}

func stringArg(args map[string]interface{}, name string) string {
	s, _ := args[name].(string)
	return s
}

func stringListArg(args map[string]interface{}, name string) ([]string, error) {
	raw, ok := args[name]
	if !ok || raw == nil {
		return nil, nil
	}
	items, ok := raw.([]interface{})
	if !ok {
		return nil, apierrors.NewValidationError(fmt.Sprintf("%s must be a list", name))
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, apierrors.NewValidationError(fmt.Sprintf("%s must contain strings", name))
		}
		out = append(out, s)
	}
	return out, nil
}

// pageArgs reads the optional limit and offset arguments
func pageArgs(args map[string]interface{}) (*int, *uint64, error) {
	var limit *int
	if raw, ok := args["limit"]; ok && raw != nil {
		n, err := intArg(raw)
		if err != nil || n < 0 || n > math.MaxInt32 {
			return nil, nil, apierrors.NewValidationError("limit must be a non-negative integer")
		}
		l := int(n)
		limit = &l
	}

	var offset *uint64
	if raw, ok := args["offset"]; ok && raw != nil {
		var n Int64
		if err := n.UnmarshalGQL(raw); err != nil || n < 0 {
			return nil, nil, apierrors.NewValidationError("offset must be a non-negative integer")
		}
		o := uint64(n)
		offset = &o
	}
	return limit, offset, nil
}

func intArg(v interface{}) (int64, error) {
	switch v := v.(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("not an integer: %v", v)
		}
		return int64(v), nil
	case json.Number:
		return v.Int64()
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, fmt.Errorf("cannot unmarshal %T to Int", v)
	}
}

// convertStrings converts GraphQL enum values to their domain type
func convertStrings[T ~string](values []string) []T {
	if values == nil {
		return nil
	}

	out := make([]T, len(values))
	for i, v := range values {
		out[i] = T(v)
	}
	return out
}
