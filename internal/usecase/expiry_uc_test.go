//go:build !integration

package usecase

import (
	"context"
	"testing"
	"time"

	"subscription-lifecycle/internal/domain/model"
)

func TestExpiryUseCase_ExpireDue(t *testing.T) {
	ctx := context.Background()

	cancelledUntil := func(id, userID string, end time.Time) *model.UserSubscription {
		sub := liveSub(id, userID, "basic", "")
		sub.Status = model.SubscriptionStatusCancelled
		sub.AutoRenew = false
		sub.EndDate = &end
		return sub
	}

	t.Run("should expire only cancelled rows whose window has closed", func(t *testing.T) {
		// Arrange
		h := newHarness()
		h.store.put(cancelledUntil("s1", "u1", testNow.Add(-time.Hour)))
		h.store.put(cancelledUntil("s2", "u2", testNow.Add(time.Hour)))
		h.store.put(liveSub("s3", "u3", "basic", ""))

		// Act
		n, err := h.expiry.ExpireDue(ctx, testNow, 100)

		// Assert
		if err != nil {
			t.Fatalf("ExpireDue returned an error: %v", err)
		}
		if n != 1 {
			t.Errorf("expected 1 expired, got %d", n)
		}
		if h.store.get("s1").Status != model.SubscriptionStatusExpired {
			t.Error("s1 should be expired")
		}
		if h.store.get("s2").Status != model.SubscriptionStatusCancelled || h.store.get("s3").Status != model.SubscriptionStatusActive {
			t.Error("rows inside their window must be untouched")
		}
		if types := h.publisher.types(); len(types) != 1 || types[0] != "subscription.expired" {
			t.Errorf("unexpected events %v", types)
		}
	})

	t.Run("should be a no-op on a second pass", func(t *testing.T) {
		h := newHarness()
		h.store.put(cancelledUntil("s1", "u1", testNow.Add(-time.Hour)))

		_, _ = h.expiry.ExpireDue(ctx, testNow, 100)
		n, err := h.expiry.ExpireDue(ctx, testNow, 100)

		if err != nil || n != 0 {
			t.Fatalf("expected 0, nil; got %d, %v", n, err)
		}
	})

	t.Run("should make resume report an expired window", func(t *testing.T) {
		h := newHarness()
		h.store.put(cancelledUntil("s1", "u1", testNow.Add(-time.Hour)))

		_, _ = h.expiry.ExpireDue(ctx, testNow, 100)
		_, err := h.lifecycle.ResumeSubscription(ctx, "u1")

		if err == nil {
			t.Fatal("expected resume to fail after expiry")
		}
	})
}
