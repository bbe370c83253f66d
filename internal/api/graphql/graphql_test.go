package graphql_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fractionalev/ownership-ledger/internal/adapter"
	"github.com/fractionalev/ownership-ledger/internal/api/graphql"
	"github.com/fractionalev/ownership-ledger/internal/api/shared/dto"
	"github.com/fractionalev/ownership-ledger/internal/api/shared/executor"
	"github.com/fractionalev/ownership-ledger/internal/distribution"
	"github.com/fractionalev/ownership-ledger/internal/domain"
	"github.com/fractionalev/ownership-ledger/internal/ledger"
	"github.com/fractionalev/ownership-ledger/internal/logger"
	"github.com/fractionalev/ownership-ledger/internal/registry"
	"github.com/fractionalev/ownership-ledger/internal/settlement"
	"github.com/fractionalev/ownership-ledger/internal/store/memory"
)

func TestMain(m *testing.M) {
	if err := logger.Initialize(logger.Config{Debug: false}); err != nil {
		panic(err)
	}
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type testGraphQL struct {
	router *gin.Engine
	exec   executor.Executor
	runID  string
}

// setupTestGraphQL seeds one asset owned 60/30 with a completed November run
func setupTestGraphQL(t *testing.T) *testGraphQL {
	t.Helper()
	st := memory.NewStore()
	clock := adapter.NewClock()
	ids := adapter.NewIDGenerator()
	jsonAdapter := adapter.NewJSON()

	reg := registry.NewRegistry(registry.Config{DefaultCurrency: "NGN"}, st, clock, ids, jsonAdapter)
	led := ledger.NewLedger(ledger.Config{DefaultCurrency: "NGN", TreasuryAccountID: "treasury"}, st, clock, ids)
	dist := distribution.NewExecutor(distribution.Config{TreasuryAccountID: "treasury", DefaultCurrency: "NGN"},
		st, led, settlement.NewLogEmitter(), clock, ids, adapter.NewCanonicalizer(jsonAdapter), jsonAdapter)
	t.Cleanup(func() {
		_ = dist.Drain(context.Background())
	})
	exec := executor.NewExecutor(reg, led, dist, st, clock)

	ctx := context.Background()
	_, err := exec.CreateAsset(ctx, dto.CreateAssetRequest{
		ID:                 "A",
		Name:               "Tricycle A",
		Category:           domain.AssetCategoryVehicle,
		Status:             domain.AssetStatusActive,
		OriginalValueMinor: 850_000_000,
		Currency:           "NGN",
		Metadata:           map[string]interface{}{"plate": "LAG-001"},
	})
	require.NoError(t, err)
	for investor, bps := range map[string]int{"inv-1": 6000, "inv-2": 3000} {
		_, err := exec.GrantOwnership(ctx, "A", dto.GrantOwnershipRequest{
			InvestorID:       investor,
			FractionBps:      bps,
			AmountPaidMinor:  int64(bps) * 1000,
			InvestorVerified: true,
		})
		require.NoError(t, err)
	}

	period, err := domain.ParsePeriod("2025-11")
	require.NoError(t, err)
	run, err := exec.InitiateDistribution(ctx, "A", period, 100_000, "NGN", "nov-2025")
	require.NoError(t, err)

	h, err := graphql.NewHandler(false, exec)
	require.NoError(t, err)
	router := gin.New()
	graphql.SetupRoutes(router, h)

	return &testGraphQL{router: router, exec: exec, runID: run.ID}
}

type gqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message    string                 `json:"message"`
		Path       []interface{}          `json:"path"`
		Extensions map[string]interface{} `json:"extensions"`
	} `json:"errors"`
}

func (tg *testGraphQL) query(t *testing.T, query string, variables map[string]interface{}) (int, gqlResponse) {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{"query": query, "variables": variables})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/graphql", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	tg.router.ServeHTTP(w, req)

	var resp gqlResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w.Code, resp
}

// orNull maps an absent data member to the JSON literal null
func orNull(data json.RawMessage) json.RawMessage {
	if len(data) == 0 {
		return json.RawMessage("null")
	}
	return data
}

func TestGraphQL_Asset(t *testing.T) {
	tg := setupTestGraphQL(t)

	code, resp := tg.query(t, `{
		asset(id: "A") { __typename id status original_value_minor metadata retired_at }
		vehicles: assets(categories: [vehicle], limit: 10) { total assets { id category } }
	}`, nil)
	require.Equal(t, http.StatusOK, code)
	require.Empty(t, resp.Errors)
	assert.JSONEq(t, `{
		"asset": {
			"__typename": "Asset",
			"id": "A",
			"status": "active",
			"original_value_minor": "850000000",
			"metadata": {"plate": "LAG-001"},
			"retired_at": null
		},
		"vehicles": {"total": "1", "assets": [{"id": "A", "category": "vehicle"}]}
	}`, string(resp.Data))
}

func TestGraphQL_DistributionRun(t *testing.T) {
	tg := setupTestGraphQL(t)

	code, resp := tg.query(t, `query Run($id: ID!) {
		distributionRun(id: $id) {
			status total_revenue_minor period
			line_items { investor_id amount_minor retained }
		}
	}`, map[string]interface{}{"id": tg.runID})
	require.Equal(t, http.StatusOK, code)
	require.Empty(t, resp.Errors)
	assert.JSONEq(t, `{"distributionRun": {
		"status": "completed",
		"total_revenue_minor": "100000",
		"period": "2025-11-01T00:00:00Z/2025-12-01T00:00:00Z",
		"line_items": [
			{"investor_id": "inv-1", "amount_minor": "60000", "retained": false},
			{"investor_id": "inv-2", "amount_minor": "30000", "retained": false},
			{"investor_id": "treasury", "amount_minor": "10000", "retained": true}
		]
	}}`, string(resp.Data))
}

func TestGraphQL_ListsWithVariables(t *testing.T) {
	tg := setupTestGraphQL(t)

	code, resp := tg.query(t, `query Holdings($investor: ID!, $limit: Int) {
		investorPayouts(investor_id: $investor, limit: $limit) { total limit payouts { run_id amount_minor } }
		investorGrants(investor_id: $investor) { grants { asset_id fraction_bps } }
		assetDistributions(asset_id: "A", offset: 0) { total runs { id line_items { investor_id } } }
		allocation(asset_id: "A") { allocated_bps available_bps }
	}`, map[string]interface{}{"investor": "inv-2", "limit": 5})
	require.Equal(t, http.StatusOK, code)
	require.Empty(t, resp.Errors)
	assert.JSONEq(t, `{
		"investorPayouts": {"total": "1", "limit": 5, "payouts": [{"run_id": "`+tg.runID+`", "amount_minor": "30000"}]},
		"investorGrants": {"grants": [{"asset_id": "A", "fraction_bps": 3000}]},
		"assetDistributions": {"total": "1", "runs": [{"id": "`+tg.runID+`", "line_items": []}]},
		"allocation": {"allocated_bps": 9000, "available_bps": 1000}
	}`, string(resp.Data))
}

func TestGraphQL_Errors(t *testing.T) {
	tg := setupTestGraphQL(t)

	t.Run("not found keeps sibling fields", func(t *testing.T) {
		_, resp := tg.query(t, `{ missing: asset(id: "nope") { id } asset(id: "A") { id } }`, nil)
		assert.JSONEq(t, `{"missing": null, "asset": {"id": "A"}}`, string(resp.Data))
		require.Len(t, resp.Errors, 1)
		assert.Equal(t, []interface{}{"missing"}, resp.Errors[0].Path)
		assert.Equal(t, "not_found", resp.Errors[0].Extensions["code"])
	})

	t.Run("invalid as_of", func(t *testing.T) {
		_, resp := tg.query(t, `{ ownership(asset_id: "A", as_of: "yesterday") { allocated_bps } }`, nil)
		require.Len(t, resp.Errors, 1)
		assert.Equal(t, "validation_failed", resp.Errors[0].Extensions["code"])
	})

	t.Run("mutations are not part of the schema", func(t *testing.T) {
		_, resp := tg.query(t, `mutation { grantOwnership(asset_id: "A") { id } }`, nil)
		require.NotEmpty(t, resp.Errors)
		assert.Equal(t, "null", string(bytes.TrimSpace(orNull(resp.Data))))
	})

	t.Run("introspection", func(t *testing.T) {
		_, resp := tg.query(t, `{ __schema { queryType { name } } }`, nil)
		require.NotEmpty(t, resp.Errors)
		assert.Contains(t, resp.Errors[0].Message, "/graphql/schema")
	})
}

func TestGraphQL_OwnershipAsOf(t *testing.T) {
	tg := setupTestGraphQL(t)

	_, resp := tg.query(t, `{
		before: ownership(asset_id: "A", as_of: "2000-01-01T00:00:00Z") { allocated_bps shares { investor_id } }
		now: ownership(asset_id: "A") { allocated_bps shares { investor_id fraction_bps } }
	}`, nil)
	require.Empty(t, resp.Errors)
	assert.JSONEq(t, `{
		"before": {"allocated_bps": 0, "shares": []},
		"now": {"allocated_bps": 9000, "shares": [
			{"investor_id": "inv-1", "fraction_bps": 6000},
			{"investor_id": "inv-2", "fraction_bps": 3000}
		]}
	}`, string(resp.Data))
}

func TestGraphQL_Schema(t *testing.T) {
	tg := setupTestGraphQL(t)

	w := httptest.NewRecorder()
	tg.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/graphql/schema", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "type Query")
	assert.NotContains(t, w.Body.String(), "type Mutation")
}

func TestInt64_GQL(t *testing.T) {
	var buf bytes.Buffer
	graphql.Int64(9_007_199_254_740_993).MarshalGQL(&buf)
	assert.Equal(t, `"9007199254740993"`, buf.String())

	var i graphql.Int64
	require.NoError(t, i.UnmarshalGQL("42"))
	assert.Equal(t, graphql.Int64(42), i)
	require.NoError(t, i.UnmarshalGQL(json.Number("-7")))
	assert.Equal(t, graphql.Int64(-7), i)
	assert.Error(t, i.UnmarshalGQL(1.5))
	assert.Error(t, i.UnmarshalGQL(true))
}
