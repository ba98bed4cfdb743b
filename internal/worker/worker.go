// Package worker provides async event processing for the Pro tier.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tablehouse/perks/internal/domain"
	"github.com/tablehouse/perks/internal/engine"
	"github.com/tablehouse/perks/internal/ledger"
)

// Worker consumes order and engagement events from the EventBus and drives
// the issuance pipeline and the points ledger. Handler failures are logged
// and swallowed: a reward that fails to issue must never hold up an order.
type Worker struct {
	bus    domain.EventBus
	engine *engine.Engine
	ledger *ledger.Service

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, eng *engine.Engine, led *ledger.Service) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		engine: eng,
		ledger: led,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to the inbound topics.
func (w *Worker) Start() error {
	orderSub, err := w.bus.Subscribe(w.ctx, domain.TopicOrderCompleted, w.handleOrderCompleted)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", domain.TopicOrderCompleted, err)
	}
	w.subscriptions = append(w.subscriptions, orderSub)

	socialSub, err := w.bus.Subscribe(w.ctx, domain.TopicSocialEngagement, w.handleSocialEngagement)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", domain.TopicSocialEngagement, err)
	}
	w.subscriptions = append(w.subscriptions, socialSub)

	slog.Info("worker started",
		"topics", []string{domain.TopicOrderCompleted, domain.TopicSocialEngagement},
	)
	return nil
}

// handleOrderCompleted feeds a completed order through the issuance
// pipeline.
func (w *Worker) handleOrderCompleted(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var order engine.OrderCompleted
	if err := json.Unmarshal(msg.Payload, &order); err != nil {
		slog.Error("failed to parse order event",
			"message_id", msg.ID,
			"error", err,
		)
		return nil
	}

	reward, err := w.engine.HandleOrderCompletion(ctx, &order)
	if err != nil {
		// The order itself already completed; losing a reward is the
		// acceptable failure mode.
		slog.Error("issuance failed",
			"order_id", order.OrderID,
			"user_id", order.UserID,
			"error", err,
		)
		return nil
	}

	if reward != nil {
		slog.Debug("order processed",
			"order_id", order.OrderID,
			"reward_id", reward.ID,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	return nil
}

// SocialEngagement is the qualifying-post event published by the external
// engagement poller.
type SocialEngagement struct {
	UserID  string `json:"userId"`
	MediaID string `json:"mediaId"`
	Points  int64  `json:"points"`
	Note    string `json:"note,omitempty"`
}

// handleSocialEngagement credits engagement points. The media ID keys the
// award, so redelivered events never double credit.
func (w *Worker) handleSocialEngagement(ctx context.Context, msg *domain.Message) error {
	var event SocialEngagement
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		slog.Error("failed to parse engagement event",
			"message_id", msg.ID,
			"error", err,
		)
		return nil
	}
	if event.UserID == "" || event.MediaID == "" || event.Points <= 0 {
		slog.Warn("dropping malformed engagement event", "message_id", msg.ID)
		return nil
	}

	description := event.Note
	if description == "" {
		description = "social engagement"
	}

	_, err := w.ledger.Award(ctx, event.UserID, event.Points, description, "social:"+event.MediaID)
	if err != nil && !errors.Is(err, domain.ErrDuplicate) {
		slog.Error("engagement award failed",
			"user_id", event.UserID,
			"media_id", event.MediaID,
			"error", err,
		)
	}
	return nil
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
