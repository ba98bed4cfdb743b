package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/tablehouse/perks/internal/domain"
	"github.com/tablehouse/perks/internal/repository"
)

func newTestService(t *testing.T) *Service {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:       "sqlite",
		SQLitePath:   filepath.Join(t.TempDir(), "ledger_test.db"),
		MaxOpenConns: 1,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return New(repo, nil)
}

func TestAward(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	t.Run("credits and returns balance", func(t *testing.T) {
		balance, err := svc.Award(ctx, "user-1", 50, "engagement bonus", "social:media-1")
		if err != nil {
			t.Fatalf("Award: %v", err)
		}
		if balance != 50 {
			t.Errorf("expected balance 50, got %d", balance)
		}
	})

	t.Run("replayed key does not double credit", func(t *testing.T) {
		balance, err := svc.Award(ctx, "user-1", 50, "engagement bonus", "social:media-1")
		if !errors.Is(err, domain.ErrDuplicate) {
			t.Fatalf("expected ErrDuplicate, got %v", err)
		}
		if balance != 50 {
			t.Errorf("expected unchanged balance 50, got %d", balance)
		}
	})

	t.Run("rejects non-positive amounts", func(t *testing.T) {
		if _, err := svc.Award(ctx, "user-1", 0, "", ""); err == nil {
			t.Error("expected error for zero award")
		}
		if _, err := svc.Award(ctx, "user-1", -5, "", ""); err == nil {
			t.Error("expected error for negative award")
		}
	})
}

func TestRedeemForDiscount(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Award(ctx, "user-1", 100, "seed", ""); err != nil {
		t.Fatalf("Award: %v", err)
	}

	t.Run("debits within balance", func(t *testing.T) {
		balance, err := svc.RedeemForDiscount(ctx, "user-1", 60, "order-1")
		if err != nil {
			t.Fatalf("RedeemForDiscount: %v", err)
		}
		if balance != 40 {
			t.Errorf("expected balance 40, got %d", balance)
		}
	})

	t.Run("retried checkout debits once", func(t *testing.T) {
		balance, err := svc.RedeemForDiscount(ctx, "user-1", 60, "order-1")
		if !errors.Is(err, domain.ErrDuplicate) {
			t.Fatalf("expected ErrDuplicate on replay, got %v", err)
		}
		if balance != 40 {
			t.Errorf("expected balance 40 after replay, got %d", balance)
		}
	})

	t.Run("never goes negative", func(t *testing.T) {
		_, err := svc.RedeemForDiscount(ctx, "user-1", 41, "order-2")
		if !errors.Is(err, domain.ErrInsufficientPoints) {
			t.Errorf("expected ErrInsufficientPoints, got %v", err)
		}

		balance, _ := svc.Balance(ctx, "user-1")
		if balance != 40 {
			t.Errorf("failed debit must not change balance, got %d", balance)
		}
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := svc.RedeemForDiscount(ctx, "nobody", 10, "order-3")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestBalanceAndHistory(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	t.Run("unknown user has zero balance", func(t *testing.T) {
		balance, err := svc.Balance(ctx, "nobody")
		if err != nil {
			t.Fatalf("Balance: %v", err)
		}
		if balance != 0 {
			t.Errorf("expected 0, got %d", balance)
		}
	})

	t.Run("history reflects every entry", func(t *testing.T) {
		svc.Award(ctx, "user-1", 100, "first", "")
		svc.Award(ctx, "user-1", 25, "second", "")
		svc.RedeemForDiscount(ctx, "user-1", 30, "order-1")

		entries, err := svc.History(ctx, "user-1", 10)
		if err != nil {
			t.Fatalf("History: %v", err)
		}
		if len(entries) != 3 {
			t.Fatalf("expected 3 entries, got %d", len(entries))
		}

		var sum int64
		for _, e := range entries {
			sum += e.Delta
		}
		balance, _ := svc.Balance(ctx, "user-1")
		if sum != balance {
			t.Errorf("balance %d does not equal ledger sum %d", balance, sum)
		}
	})
}
