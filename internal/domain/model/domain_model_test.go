//go:build !integration

package model

import (
	"errors"
	"testing"
	"time"

	"subscription-lifecycle/internal/domain"
)

// --- Plan Model Tests ---

func TestNewSubscriptionPlan(t *testing.T) {
	t.Run("should create a plan successfully", func(t *testing.T) {
		plan, err := NewSubscriptionPlan("p1", " Pro-Monthly ", "Pro", PlanCategoryStudent, 999, 9990)
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if plan.Slug != "pro-monthly" {
			t.Errorf("expected slug to be normalized, got %q", plan.Slug)
		}
		if !plan.IsActive {
			t.Error("expected new plan to be active")
		}
	})

	t.Run("should fail with unknown category", func(t *testing.T) {
		_, err := NewSubscriptionPlan("p1", "pro", "Pro", PlanCategory("vip"), 999, 9990)
		if !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})
}

func TestSubscriptionPlan_ProviderPriceRef(t *testing.T) {
	plan := &SubscriptionPlan{ID: "p1", ProviderPriceMonthly: "price_m", ProviderPriceYearly: "  "}

	if ref, ok := plan.ProviderPriceRef(BillingCycleMonthly); !ok || ref != "price_m" {
		t.Errorf("expected monthly price ref, got %q ok=%v", ref, ok)
	}
	if _, ok := plan.ProviderPriceRef(BillingCycleYearly); ok {
		t.Error("expected blank yearly price ref to be reported as missing")
	}
}

func TestPlanCategory_Allows(t *testing.T) {
	cases := []struct {
		category PlanCategory
		role     Role
		want     bool
	}{
		{PlanCategoryStudent, RoleStudent, true},
		{PlanCategoryTeacher, RoleStudent, false},
		{PlanCategoryStudent, RoleTeacher, false},
		{PlanCategoryTeacher, RoleAdmin, true},
		{PlanCategoryAdmin, RoleTeacher, false},
	}
	for _, tc := range cases {
		if got := tc.category.Allows(tc.role); got != tc.want {
			t.Errorf("%s.Allows(%s) = %v, want %v", tc.category, tc.role, got, tc.want)
		}
	}
}

// --- Subscription Model Tests ---

func TestUserSubscription_IsResumable(t *testing.T) {
	now := time.Now()
	future := now.Add(24 * time.Hour)
	past := now.Add(-time.Hour)

	t.Run("cancelled with future end date is resumable", func(t *testing.T) {
		s := &UserSubscription{Status: SubscriptionStatusCancelled, EndDate: &future}
		if !s.IsResumable(now) {
			t.Error("expected subscription to be resumable")
		}
	})

	t.Run("cancelled with past end date is not resumable", func(t *testing.T) {
		s := &UserSubscription{Status: SubscriptionStatusCancelled, EndDate: &past}
		if s.IsResumable(now) {
			t.Error("expected subscription not to be resumable")
		}
	})

	t.Run("active is not resumable", func(t *testing.T) {
		s := &UserSubscription{Status: SubscriptionStatusActive}
		if s.IsResumable(now) {
			t.Error("expected active subscription not to be resumable")
		}
	})
}

func TestUserSubscription_Clone(t *testing.T) {
	end := time.Now()
	ext := "sub_123"
	s := &UserSubscription{ID: "s1", EndDate: &end, ProviderSubscriptionID: &ext}

	cp := s.Clone()
	*cp.ProviderSubscriptionID = "changed"
	cp.EndDate = nil

	if s.ProviderSubID() != "sub_123" {
		t.Errorf("clone mutated original provider id: %s", s.ProviderSubID())
	}
	if s.EndDate == nil {
		t.Error("clone mutated original end date")
	}
}

// --- Coupon Model Tests ---

func TestDiscount_Amount(t *testing.T) {
	t.Run("percentage is truncated", func(t *testing.T) {
		d := Discount{Type: DiscountPercentage, Value: 15}
		if got := d.Amount(999); got != 149 {
			t.Errorf("expected 149, got %d", got)
		}
		if got := d.Apply(999); got != 850 {
			t.Errorf("expected 850 after discount, got %d", got)
		}
	})

	t.Run("fixed amount is capped at price", func(t *testing.T) {
		d := Discount{Type: DiscountFixedAmount, Value: 5000}
		if got := d.Amount(999); got != 999 {
			t.Errorf("expected 999, got %d", got)
		}
	})

	t.Run("zero price yields zero discount", func(t *testing.T) {
		d := Discount{Type: DiscountPercentage, Value: 50}
		if got := d.Amount(0); got != 0 {
			t.Errorf("expected 0, got %d", got)
		}
	})
}

func TestCoupon_Check(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	until := now.Add(24 * time.Hour)
	maxUses := int64(3)

	base := func() *Coupon {
		return &Coupon{
			ID:            "c1",
			Code:          "SPRING",
			DiscountType:  DiscountPercentage,
			DiscountValue: 10,
			ValidFrom:     now.Add(-time.Hour),
			ValidUntil:    &until,
			IsActive:      true,
			PlanIDs:       []string{"p1"},
			MaxUses:       &maxUses,
			UsedCount:     2,
		}
	}

	tests := []struct {
		name   string
		mutate func(c *Coupon)
		planID string
		want   error
	}{
		{"valid coupon", func(c *Coupon) {}, "p1", nil},
		{"inactive", func(c *Coupon) { c.IsActive = false }, "p1", domain.ErrCouponInactive},
		{"not yet valid", func(c *Coupon) { c.ValidFrom = now.Add(time.Hour) }, "p1", domain.ErrCouponExpired},
		{"past valid until", func(c *Coupon) { past := now.Add(-time.Minute); c.ValidUntil = &past }, "p1", domain.ErrCouponExpired},
		{"open ended window", func(c *Coupon) { c.ValidUntil = nil }, "p1", nil},
		{"other plan", func(c *Coupon) {}, "p2", domain.ErrCouponNotApplicable},
		{"all plans", func(c *Coupon) { c.AppliesToAllPlans = true }, "p2", nil},
		{"exhausted", func(c *Coupon) { c.UsedCount = 3 }, "p1", domain.ErrCouponExhausted},
		{"unlimited", func(c *Coupon) { c.MaxUses = nil; c.UsedCount = 1000 }, "p1", nil},
		{"inactive wins over exhausted", func(c *Coupon) { c.IsActive = false; c.UsedCount = 3 }, "p1", domain.ErrCouponInactive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			err := c.Check(tt.planID, now)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestNewCoupon(t *testing.T) {
	c, err := NewCoupon("c1", "  spring25 ", DiscountPercentage, 25, time.Now())
	if err != nil {
		t.Fatalf("expected no error, but got: %v", err)
	}
	if c.Code != "SPRING25" {
		t.Errorf("expected upper-cased code, got %q", c.Code)
	}

	if _, err := NewCoupon("c2", "BAD", DiscountPercentage, 120, time.Now()); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for percentage over 100, got %v", err)
	}
}
