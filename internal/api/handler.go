package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/tablehouse/perks/internal/domain"
	"github.com/tablehouse/perks/internal/engine"
	"github.com/tablehouse/perks/internal/ledger"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo          domain.Repository
	cache         domain.Cache
	engine        *engine.Engine
	ledger        *ledger.Service
	version       string
	validateLimit int
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, eng *engine.Engine, led *ledger.Service, version string, validateLimit int) *Handler {
	return &Handler{
		repo:          repo,
		cache:         cache,
		engine:        eng,
		ledger:        led,
		version:       version,
		validateLimit: validateLimit,
	}
}

// OrderCompleteRequest is the request body for POST /orders/complete.
type OrderCompleteRequest struct {
	OrderID  string `json:"orderId"`
	UserID   string `json:"userId"`
	TabID    string `json:"tabId,omitempty"`
	Subtotal int64  `json:"subtotal"`
}

// OrderCompleteResponse is the response for POST /orders/complete.
type OrderCompleteResponse struct {
	Granted bool           `json:"granted"`
	Reward  *domain.Reward `json:"reward,omitempty"`
}

// OrderComplete handles POST /orders/complete: the synchronous issuance
// trigger. Issuance failures are logged but never fail the order; the POS
// has already closed the check by the time this runs.
func (h *Handler) OrderComplete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req OrderCompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.OrderID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "orderId is required",
		})
		return
	}
	if req.Subtotal < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "subtotal must not be negative",
		})
		return
	}

	reward, err := h.engine.HandleOrderCompletion(ctx, &engine.OrderCompleted{
		OrderID:  req.OrderID,
		UserID:   req.UserID,
		TabID:    req.TabID,
		Subtotal: req.Subtotal,
	})
	if err != nil {
		slog.Error("issuance failed", "order_id", req.OrderID, "error", err)
		writeJSON(w, http.StatusOK, OrderCompleteResponse{Granted: false})
		return
	}

	writeJSON(w, http.StatusOK, OrderCompleteResponse{
		Granted: reward != nil,
		Reward:  reward,
	})
}

// ValidateRequest is the request body for POST /rewards/validate.
type ValidateRequest struct {
	UserID string `json:"userId"`
	Code   string `json:"code"`
}

// ValidateResponse is the response for POST /rewards/validate.
type ValidateResponse struct {
	Valid  bool           `json:"valid"`
	Reason string         `json:"reason,omitempty"`
	Reward *domain.Reward `json:"reward,omitempty"`
}

// Validate handles POST /rewards/validate. Unknown codes and codes owned
// by someone else get the same answer, so guessing reveals nothing.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.UserID == "" || req.Code == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "userId and code are required",
		})
		return
	}

	// Per-user rate limit on validation attempts
	if h.validateLimit > 0 && h.cache != nil {
		count, err := h.cache.IncrementCounter(ctx, "validate:"+req.UserID, time.Minute)
		if err != nil {
			slog.Warn("rate limit counter unavailable", "error", err)
		} else if count > int64(h.validateLimit) {
			writeJSON(w, http.StatusTooManyRequests, map[string]string{
				"error": "too many validation attempts",
			})
			return
		}
	}

	reward, err := h.engine.ValidateCode(ctx, req.UserID, req.Code)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrNotOwner):
			writeJSON(w, http.StatusOK, ValidateResponse{Valid: false, Reason: "invalid code"})
		case errors.Is(err, domain.ErrExpired):
			writeJSON(w, http.StatusOK, ValidateResponse{Valid: false, Reason: "expired"})
		case errors.Is(err, domain.ErrAlreadyRedeemed):
			writeJSON(w, http.StatusOK, ValidateResponse{Valid: false, Reason: "already redeemed"})
		default:
			slog.Error("validate failed", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "validation failed",
			})
		}
		return
	}

	writeJSON(w, http.StatusOK, ValidateResponse{Valid: true, Reward: reward})
}

// RedeemRequest is the request body for POST /rewards/{id}/redeem.
type RedeemRequest struct {
	UserID   string `json:"userId"`
	OrderID  string `json:"orderId"`
	Subtotal int64  `json:"subtotal,omitempty"`
}

// RedeemResponse is the response for POST /rewards/{id}/redeem.
type RedeemResponse struct {
	Reward   *domain.Reward `json:"reward"`
	Discount int64          `json:"discount,omitempty"`
}

// Redeem handles POST /rewards/{id}/redeem: the one-time transition.
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rewardID := chi.URLParam(r, "id")

	var req RedeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.UserID == "" || req.OrderID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "userId and orderId are required",
		})
		return
	}

	reward, err := h.engine.Redeem(ctx, req.UserID, rewardID, req.OrderID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrNotOwner):
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "reward not found",
			})
		case errors.Is(err, domain.ErrAlreadyRedeemed):
			writeJSON(w, http.StatusConflict, map[string]string{
				"error": "reward already redeemed",
			})
		case errors.Is(err, domain.ErrExpired):
			writeJSON(w, http.StatusGone, map[string]string{
				"error": "reward expired",
			})
		default:
			slog.Error("redeem failed", "reward_id", rewardID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "redemption failed",
			})
		}
		return
	}

	resp := RedeemResponse{Reward: reward}
	if req.Subtotal > 0 {
		resp.Discount = engine.Discount(reward, req.Subtotal)
	}
	writeJSON(w, http.StatusOK, resp)
}

// DiscountRequest is the request body for POST /rewards/discount.
type DiscountRequest struct {
	RewardID string `json:"rewardId"`
	Subtotal int64  `json:"subtotal"`
}

// DiscountResponse is the response for POST /rewards/discount.
type DiscountResponse struct {
	Discount int64 `json:"discount"`
	Payable  int64 `json:"payable"`
}

// DiscountQuote handles POST /rewards/discount: previews the discount a
// reward would take off a subtotal without redeeming anything.
func (h *Handler) DiscountQuote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req DiscountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.RewardID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rewardId is required",
		})
		return
	}
	if req.Subtotal < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "subtotal must not be negative",
		})
		return
	}

	reward, err := h.repo.GetReward(ctx, req.RewardID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "reward not found",
			})
			return
		}
		slog.Error("failed to get reward", "id", req.RewardID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get reward",
		})
		return
	}

	discount := engine.Discount(reward, req.Subtotal)
	writeJSON(w, http.StatusOK, DiscountResponse{
		Discount: discount,
		Payable:  req.Subtotal - discount,
	})
}

// CreateRule handles POST /rules.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var rule domain.RewardRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	if err := rule.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	if err := h.repo.SaveRule(ctx, &rule); err != nil {
		slog.Error("failed to save rule", "id", rule.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save rule",
		})
		return
	}
	h.engine.InvalidateRuleCache(ctx)

	slog.Info("rule created", "id", rule.ID, "name", rule.Name)
	writeJSON(w, http.StatusCreated, &rule)
}

// ListRules handles GET /rules.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.repo.ListRules(r.Context())
	if err != nil {
		slog.Error("failed to list rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list rules",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": rules,
		"count": len(rules),
	})
}

// GetRule handles GET /rules/{id}.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	rule, err := h.repo.GetRule(r.Context(), ruleID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "rule not found",
			})
			return
		}
		slog.Error("failed to get rule", "id", ruleID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get rule",
		})
		return
	}

	writeJSON(w, http.StatusOK, rule)
}

// UpdateRule handles PUT /rules/{id}.
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ruleID := chi.URLParam(r, "id")

	existing, err := h.repo.GetRule(ctx, ruleID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "rule not found",
			})
			return
		}
		slog.Error("failed to get rule", "id", ruleID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get rule",
		})
		return
	}

	var rule domain.RewardRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	rule.ID = ruleID
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now().UTC()
	if err := rule.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	if err := h.repo.SaveRule(ctx, &rule); err != nil {
		slog.Error("failed to save rule", "id", rule.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save rule",
		})
		return
	}
	h.engine.InvalidateRuleCache(ctx)

	slog.Info("rule updated", "id", rule.ID, "name", rule.Name)
	writeJSON(w, http.StatusOK, &rule)
}

// DeleteRule handles DELETE /rules/{id}. Rewards already issued under the
// rule keep their snapshot and stay redeemable.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ruleID := chi.URLParam(r, "id")

	if err := h.repo.DeleteRule(ctx, ruleID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "rule not found",
			})
			return
		}
		slog.Error("failed to delete rule", "id", ruleID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to delete rule",
		})
		return
	}
	h.engine.InvalidateRuleCache(ctx)

	slog.Info("rule deleted", "id", ruleID)
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "rule deleted",
	})
}

// ListUserRewards handles GET /users/{id}/rewards.
func (h *Handler) ListUserRewards(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	rewards, err := h.repo.ListUserRewards(r.Context(), userID)
	if err != nil {
		slog.Error("failed to list rewards", "user_id", userID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list rewards",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rewards": rewards,
		"count":   len(rewards),
	})
}

// UserPointsResponse is the response for GET /users/{id}/points.
type UserPointsResponse struct {
	UserID  string                      `json:"userId"`
	Balance int64                       `json:"balance"`
	History []*domain.PointsTransaction `json:"history"`
}

// GetUserPoints handles GET /users/{id}/points.
func (h *Handler) GetUserPoints(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "id")

	balance, err := h.ledger.Balance(ctx, userID)
	if err != nil {
		slog.Error("failed to get balance", "user_id", userID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get balance",
		})
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}
	history, err := h.ledger.History(ctx, userID, limit)
	if err != nil {
		slog.Error("failed to get history", "user_id", userID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get history",
		})
		return
	}

	writeJSON(w, http.StatusOK, UserPointsResponse{
		UserID:  userID,
		Balance: balance,
		History: history,
	})
}

// AwardPointsRequest is the request body for POST /points/award.
type AwardPointsRequest struct {
	UserID         string `json:"userId"`
	Points         int64  `json:"points"`
	Description    string `json:"description,omitempty"`
	IdempotencyKey string `json:"idempotencyKey"`
}

// PointsResponse is the response for the points mutation endpoints.
type PointsResponse struct {
	Balance   int64 `json:"balance"`
	Duplicate bool  `json:"duplicate,omitempty"`
}

// AwardPoints handles POST /points/award: the surface the engagement
// poller posts to. The idempotency key makes redelivery harmless.
func (h *Handler) AwardPoints(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req AwardPointsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "userId is required",
		})
		return
	}
	if req.Points <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "points must be positive",
		})
		return
	}
	if req.IdempotencyKey == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "idempotencyKey is required",
		})
		return
	}

	balance, err := h.ledger.Award(ctx, req.UserID, req.Points, req.Description, req.IdempotencyKey)
	if err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			writeJSON(w, http.StatusOK, PointsResponse{Balance: balance, Duplicate: true})
			return
		}
		slog.Error("failed to award points", "user_id", req.UserID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to award points",
		})
		return
	}

	writeJSON(w, http.StatusOK, PointsResponse{Balance: balance})
}

// RedeemPointsRequest is the request body for POST /points/redeem.
type RedeemPointsRequest struct {
	UserID  string `json:"userId"`
	Points  int64  `json:"points"`
	OrderID string `json:"orderId"`
}

// RedeemPoints handles POST /points/redeem: spends points against an
// order. The balance can never go negative.
func (h *Handler) RedeemPoints(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req RedeemPointsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.UserID == "" || req.OrderID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "userId and orderId are required",
		})
		return
	}
	if req.Points <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "points must be positive",
		})
		return
	}

	balance, err := h.ledger.RedeemForDiscount(ctx, req.UserID, req.Points, req.OrderID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrDuplicate):
			writeJSON(w, http.StatusOK, PointsResponse{Balance: balance, Duplicate: true})
		case errors.Is(err, domain.ErrInsufficientPoints):
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
				"error": "insufficient points balance",
			})
		case errors.Is(err, domain.ErrNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "user not found",
			})
		default:
			slog.Error("failed to redeem points", "user_id", req.UserID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to redeem points",
			})
		}
		return
	}

	writeJSON(w, http.StatusOK, PointsResponse{Balance: balance})
}

// Stats handles GET /stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.repo.Stats(r.Context())
	if err != nil {
		slog.Error("failed to get stats", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get stats",
		})
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
