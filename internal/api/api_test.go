package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/tablehouse/perks/internal/cache"
	"github.com/tablehouse/perks/internal/domain"
	"github.com/tablehouse/perks/internal/engine"
	"github.com/tablehouse/perks/internal/ledger"
	"github.com/tablehouse/perks/internal/repository"
)

// createTestServer wires a server against a throwaway SQLite database and
// an in-process cache.
func createTestServer(t *testing.T, validateLimit int) *Server {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:       "sqlite",
		SQLitePath:   filepath.Join(t.TempDir(), "perks_api_test.db"),
		MaxOpenConns: 1,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	c := cache.NewLRUCache(1000)
	eng := engine.New(repo, c, nil, domain.EngineConfig{CodePrefix: "RWD-"})
	led := ledger.New(repo, nil)

	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}

	return NewServer(cfg, repo, c, eng, led, "test-v1", validateLimit)
}

func doRequest(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	return v
}

// alwaysRule returns a rule that grants on every qualifying order.
func alwaysRule() map[string]any {
	return map[string]any{
		"name":           "ten percent off",
		"active":         true,
		"spendThreshold": 1000,
		"trigger":        "purchase",
		"rewardType":     "percent_discount",
		"rewardValue":    10,
		"probability":    1.0,
		"validityDays":   30,
	}
}

func TestHealthEndpoints(t *testing.T) {
	srv := createTestServer(t, 0)

	t.Run("health", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodGet, "/health", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		body := decodeBody[map[string]string](t, rec)
		if body["status"] != "healthy" {
			t.Errorf("expected healthy, got %q", body["status"])
		}
		if body["version"] != "test-v1" {
			t.Errorf("expected version test-v1, got %q", body["version"])
		}
	})

	t.Run("ready", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodGet, "/ready", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
	})
}

func TestRuleEndpoints(t *testing.T) {
	srv := createTestServer(t, 0)

	var ruleID string

	t.Run("create", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodPost, "/rules", alwaysRule())
		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
		}
		rule := decodeBody[domain.RewardRule](t, rec)
		if rule.ID == "" {
			t.Fatal("expected generated rule id")
		}
		ruleID = rule.ID
	})

	t.Run("create rejects missing name", func(t *testing.T) {
		body := alwaysRule()
		body["name"] = ""
		rec := doRequest(t, srv, http.MethodPost, "/rules", body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("create rejects bad probability", func(t *testing.T) {
		body := alwaysRule()
		body["probability"] = 1.5
		rec := doRequest(t, srv, http.MethodPost, "/rules", body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("get", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodGet, "/rules/"+ruleID, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		rule := decodeBody[domain.RewardRule](t, rec)
		if rule.Name != "ten percent off" {
			t.Errorf("unexpected rule name %q", rule.Name)
		}
	})

	t.Run("list", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodGet, "/rules", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		body := decodeBody[map[string]json.RawMessage](t, rec)
		var count int
		if err := json.Unmarshal(body["count"], &count); err != nil {
			t.Fatalf("failed to decode count: %v", err)
		}
		if count != 1 {
			t.Errorf("expected 1 rule, got %d", count)
		}
	})

	t.Run("update", func(t *testing.T) {
		body := alwaysRule()
		body["name"] = "fifteen percent off"
		body["rewardValue"] = 15
		rec := doRequest(t, srv, http.MethodPut, "/rules/"+ruleID, body)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		rule := decodeBody[domain.RewardRule](t, rec)
		if rule.Name != "fifteen percent off" || rule.RewardValue != 15 {
			t.Errorf("update not applied: %+v", rule)
		}
	})

	t.Run("update unknown rule", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodPut, "/rules/nope", alwaysRule())
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rec.Code)
		}
	})

	t.Run("delete", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodDelete, "/rules/"+ruleID, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}

		rec = doRequest(t, srv, http.MethodGet, "/rules/"+ruleID, nil)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404 after delete, got %d", rec.Code)
		}
	})
}

func TestOrderCompleteEndpoint(t *testing.T) {
	srv := createTestServer(t, 0)

	rec := doRequest(t, srv, http.MethodPost, "/rules", alwaysRule())
	if rec.Code != http.StatusCreated {
		t.Fatalf("failed to create rule: %d", rec.Code)
	}

	t.Run("qualifying order grants", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodPost, "/orders/complete", OrderCompleteRequest{
			OrderID:  "order-1",
			UserID:   "user-1",
			Subtotal: 5000,
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		body := decodeBody[OrderCompleteResponse](t, rec)
		if !body.Granted {
			t.Fatal("expected a grant")
		}
		if body.Reward == nil || body.Reward.Code == "" {
			t.Fatal("expected a reward with a code")
		}
	})

	t.Run("anonymous order never grants", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodPost, "/orders/complete", OrderCompleteRequest{
			OrderID:  "order-2",
			Subtotal: 5000,
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		body := decodeBody[OrderCompleteResponse](t, rec)
		if body.Granted {
			t.Fatal("anonymous order must not grant")
		}
	})

	t.Run("below threshold never grants", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodPost, "/orders/complete", OrderCompleteRequest{
			OrderID:  "order-3",
			UserID:   "user-1",
			Subtotal: 500,
		})
		body := decodeBody[OrderCompleteResponse](t, rec)
		if body.Granted {
			t.Fatal("below-threshold order must not grant")
		}
	})

	t.Run("missing order id", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodPost, "/orders/complete", OrderCompleteRequest{
			UserID:   "user-1",
			Subtotal: 5000,
		})
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})
}

func TestRewardLifecycleEndpoints(t *testing.T) {
	srv := createTestServer(t, 0)

	rec := doRequest(t, srv, http.MethodPost, "/rules", alwaysRule())
	if rec.Code != http.StatusCreated {
		t.Fatalf("failed to create rule: %d", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodPost, "/orders/complete", OrderCompleteRequest{
		OrderID:  "order-1",
		UserID:   "user-1",
		Subtotal: 5000,
	})
	grant := decodeBody[OrderCompleteResponse](t, rec)
	if !grant.Granted {
		t.Fatal("expected a grant to seed the test")
	}
	reward := grant.Reward

	t.Run("validate own code", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodPost, "/rewards/validate", ValidateRequest{
			UserID: "user-1",
			Code:   reward.Code,
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		body := decodeBody[ValidateResponse](t, rec)
		if !body.Valid {
			t.Fatalf("expected valid, got reason %q", body.Reason)
		}
	})

	t.Run("foreign code looks unknown", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodPost, "/rewards/validate", ValidateRequest{
			UserID: "someone-else",
			Code:   reward.Code,
		})
		body := decodeBody[ValidateResponse](t, rec)
		if body.Valid || body.Reason != "invalid code" {
			t.Fatalf("foreign code must read as invalid, got %+v", body)
		}
	})

	t.Run("discount quote", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodPost, "/rewards/discount", DiscountRequest{
			RewardID: reward.ID,
			Subtotal: 5000,
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		body := decodeBody[DiscountResponse](t, rec)
		if body.Discount != 500 || body.Payable != 4500 {
			t.Errorf("expected 500 off 5000, got %+v", body)
		}
	})

	t.Run("redeem", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodPost, "/rewards/"+reward.ID+"/redeem", RedeemRequest{
			UserID:   "user-1",
			OrderID:  "order-2",
			Subtotal: 5000,
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		body := decodeBody[RedeemResponse](t, rec)
		if body.Reward.Status != domain.StatusRedeemed {
			t.Errorf("expected redeemed status, got %q", body.Reward.Status)
		}
		if body.Discount != 500 {
			t.Errorf("expected discount 500, got %d", body.Discount)
		}
	})

	t.Run("second redeem conflicts", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodPost, "/rewards/"+reward.ID+"/redeem", RedeemRequest{
			UserID:  "user-1",
			OrderID: "order-3",
		})
		if rec.Code != http.StatusConflict {
			t.Fatalf("expected 409, got %d", rec.Code)
		}
	})

	t.Run("validate after redeem", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodPost, "/rewards/validate", ValidateRequest{
			UserID: "user-1",
			Code:   reward.Code,
		})
		body := decodeBody[ValidateResponse](t, rec)
		if body.Valid || body.Reason != "already redeemed" {
			t.Fatalf("expected already redeemed, got %+v", body)
		}
	})

	t.Run("redeem unknown reward", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodPost, "/rewards/nope/redeem", RedeemRequest{
			UserID:  "user-1",
			OrderID: "order-4",
		})
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rec.Code)
		}
	})
}

func TestPointsEndpoints(t *testing.T) {
	srv := createTestServer(t, 0)

	t.Run("award", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodPost, "/points/award", AwardPointsRequest{
			UserID:         "user-1",
			Points:         500,
			Description:    "hashtag campaign",
			IdempotencyKey: "social:media-1",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		body := decodeBody[PointsResponse](t, rec)
		if body.Balance != 500 {
			t.Errorf("expected balance 500, got %d", body.Balance)
		}
	})

	t.Run("award replay is flagged", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodPost, "/points/award", AwardPointsRequest{
			UserID:         "user-1",
			Points:         500,
			IdempotencyKey: "social:media-1",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		body := decodeBody[PointsResponse](t, rec)
		if !body.Duplicate || body.Balance != 500 {
			t.Errorf("expected duplicate with unchanged balance, got %+v", body)
		}
	})

	t.Run("award requires idempotency key", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodPost, "/points/award", AwardPointsRequest{
			UserID: "user-1",
			Points: 100,
		})
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("redeem", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodPost, "/points/redeem", RedeemPointsRequest{
			UserID:  "user-1",
			Points:  200,
			OrderID: "order-1",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		body := decodeBody[PointsResponse](t, rec)
		if body.Balance != 300 {
			t.Errorf("expected balance 300, got %d", body.Balance)
		}
	})

	t.Run("redeem replay is flagged", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodPost, "/points/redeem", RedeemPointsRequest{
			UserID:  "user-1",
			Points:  200,
			OrderID: "order-1",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		body := decodeBody[PointsResponse](t, rec)
		if !body.Duplicate || body.Balance != 300 {
			t.Errorf("expected duplicate with unchanged balance, got %+v", body)
		}
	})

	t.Run("redeem beyond balance", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodPost, "/points/redeem", RedeemPointsRequest{
			UserID:  "user-1",
			Points:  10000,
			OrderID: "order-2",
		})
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("expected 422, got %d", rec.Code)
		}
	})

	t.Run("redeem for unknown user", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodPost, "/points/redeem", RedeemPointsRequest{
			UserID:  "nobody",
			Points:  100,
			OrderID: "order-3",
		})
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rec.Code)
		}
	})

	t.Run("balance and history", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodGet, "/users/user-1/points", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		body := decodeBody[UserPointsResponse](t, rec)
		if body.Balance != 300 {
			t.Errorf("expected balance 300, got %d", body.Balance)
		}
		if len(body.History) != 2 {
			t.Errorf("expected 2 ledger entries, got %d", len(body.History))
		}
	})
}

func TestValidateRateLimit(t *testing.T) {
	srv := createTestServer(t, 2)

	for i := 0; i < 2; i++ {
		rec := doRequest(t, srv, http.MethodPost, "/rewards/validate", ValidateRequest{
			UserID: "user-1",
			Code:   "RWD-NOPE0000",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("attempt %d: expected 200, got %d", i+1, rec.Code)
		}
	}

	rec := doRequest(t, srv, http.MethodPost, "/rewards/validate", ValidateRequest{
		UserID: "user-1",
		Code:   "RWD-NOPE0000",
	})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after limit, got %d", rec.Code)
	}

	// Another user is unaffected
	rec = doRequest(t, srv, http.MethodPost, "/rewards/validate", ValidateRequest{
		UserID: "user-2",
		Code:   "RWD-NOPE0000",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("other user should not be limited, got %d", rec.Code)
	}
}

func TestUserRewardsEndpoint(t *testing.T) {
	srv := createTestServer(t, 0)

	rec := doRequest(t, srv, http.MethodPost, "/rules", alwaysRule())
	if rec.Code != http.StatusCreated {
		t.Fatalf("failed to create rule: %d", rec.Code)
	}

	for _, orderID := range []string{"order-1", "order-2"} {
		doRequest(t, srv, http.MethodPost, "/orders/complete", OrderCompleteRequest{
			OrderID:  orderID,
			UserID:   "user-1",
			Subtotal: 5000,
		})
	}

	rec = doRequest(t, srv, http.MethodGet, "/users/user-1/rewards", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeBody[map[string]json.RawMessage](t, rec)
	var count int
	if err := json.Unmarshal(body["count"], &count); err != nil {
		t.Fatalf("failed to decode count: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 rewards, got %d", count)
	}
}

func TestStatsEndpoint(t *testing.T) {
	srv := createTestServer(t, 0)

	rec := doRequest(t, srv, http.MethodPost, "/rules", alwaysRule())
	if rec.Code != http.StatusCreated {
		t.Fatalf("failed to create rule: %d", rec.Code)
	}
	doRequest(t, srv, http.MethodPost, "/orders/complete", OrderCompleteRequest{
		OrderID:  "order-1",
		UserID:   "user-1",
		Subtotal: 5000,
	})

	rec = doRequest(t, srv, http.MethodGet, "/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	stats := decodeBody[domain.Stats](t, rec)
	if stats.Rules != 1 || stats.ActiveRules != 1 {
		t.Errorf("expected 1 active rule, got %+v", stats)
	}
	if stats.RewardsByState[domain.StatusActive] != 1 {
		t.Errorf("expected 1 active reward, got %+v", stats.RewardsByState)
	}
}
