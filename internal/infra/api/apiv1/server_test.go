//go:build !integration

package apiv1_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	apiv1 "subscription-lifecycle/internal/infra/api/apiv1"
	"subscription-lifecycle/internal/usecase"

	"subscription-lifecycle/internal/domain"
	"subscription-lifecycle/internal/domain/model"
)

//
// ---------------- use case mocks ----------------
//

type mockLifecycle struct {
	StartCheckoutFunc  func(ctx context.Context, req usecase.CheckoutRequest) (*usecase.CheckoutResult, error)
	CancelFunc         func(ctx context.Context, userID string) (*usecase.CancelResult, error)
	ResumeFunc         func(ctx context.Context, userID string) (*model.UserSubscription, error)
	ChangePlanFunc     func(ctx context.Context, req usecase.ChangePlanRequest) (*usecase.ChangePlanResult, error)
	GetCurrentFunc     func(ctx context.Context, userID string) (*model.UserSubscription, error)
	ListHistoryFunc    func(ctx context.Context, userID string) ([]*model.SubscriptionHistory, error)
	EnsureCustomerFunc func(ctx context.Context, userID, email, name string) (string, error)
}

func (m *mockLifecycle) StartCheckout(ctx context.Context, req usecase.CheckoutRequest) (*usecase.CheckoutResult, error) {
	return m.StartCheckoutFunc(ctx, req)
}
func (m *mockLifecycle) CancelSubscription(ctx context.Context, userID string) (*usecase.CancelResult, error) {
	return m.CancelFunc(ctx, userID)
}
func (m *mockLifecycle) ResumeSubscription(ctx context.Context, userID string) (*model.UserSubscription, error) {
	return m.ResumeFunc(ctx, userID)
}
func (m *mockLifecycle) ChangePlan(ctx context.Context, req usecase.ChangePlanRequest) (*usecase.ChangePlanResult, error) {
	return m.ChangePlanFunc(ctx, req)
}
func (m *mockLifecycle) GetCurrentSubscription(ctx context.Context, userID string) (*model.UserSubscription, error) {
	return m.GetCurrentFunc(ctx, userID)
}
func (m *mockLifecycle) ListHistory(ctx context.Context, userID string) ([]*model.SubscriptionHistory, error) {
	return m.ListHistoryFunc(ctx, userID)
}
func (m *mockLifecycle) EnsureCustomer(ctx context.Context, userID, email, name string) (string, error) {
	return m.EnsureCustomerFunc(ctx, userID, email, name)
}

type mockPlans struct {
	plans []*model.SubscriptionPlan
}

func (m *mockPlans) GetPlan(ctx context.Context, id string) (*model.SubscriptionPlan, error) {
	for _, p := range m.plans {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, domain.ErrPlanNotFound
}
func (m *mockPlans) GetPlanBySlug(ctx context.Context, slug string) (*model.SubscriptionPlan, error) {
	return m.GetPlan(ctx, slug)
}
func (m *mockPlans) ListPlans(ctx context.Context, category model.PlanCategory) ([]*model.SubscriptionPlan, error) {
	var out []*model.SubscriptionPlan
	for _, p := range m.plans {
		if category == "" || p.Category == category {
			out = append(out, p)
		}
	}
	return out, nil
}

type mockCoupons struct {
	PreviewFunc func(ctx context.Context, code, planID string, cycle model.BillingCycle) (*usecase.DiscountPreview, error)
}

func (m *mockCoupons) Validate(ctx context.Context, code, planID string, now time.Time) (*model.Coupon, error) {
	return nil, domain.ErrCouponNotFound
}
func (m *mockCoupons) PreviewDiscount(ctx context.Context, code, planID string, cycle model.BillingCycle) (*usecase.DiscountPreview, error) {
	return m.PreviewFunc(ctx, code, planID, cycle)
}

type mockBilling struct {
	ActivateFunc func(ctx context.Context, in usecase.ActivationInput) (*model.UserSubscription, error)
	InvoiceFunc  func(ctx context.Context, in usecase.InvoiceInput) (*model.Invoice, error)
}

func (m *mockBilling) ActivateFromCheckout(ctx context.Context, in usecase.ActivationInput) (*model.UserSubscription, error) {
	return m.ActivateFunc(ctx, in)
}
func (m *mockBilling) RecordInvoice(ctx context.Context, in usecase.InvoiceInput) (*model.Invoice, error) {
	return m.InvoiceFunc(ctx, in)
}
func (m *mockBilling) ListInvoices(ctx context.Context, userID string, limit int) ([]*model.Invoice, error) {
	return nil, nil
}

//
// ---------------- helpers ----------------
//

const (
	testSecret      = "test-jwt-secret"
	testInternalKey = "internal-key"
)

type fixture struct {
	lifecycle *mockLifecycle
	coupons   *mockCoupons
	billing   *mockBilling
	auth      *apiv1.Authenticator
	handler   http.Handler
}

func newFixture() *fixture {
	logger := zerolog.Nop()
	f := &fixture{
		lifecycle: &mockLifecycle{},
		coupons:   &mockCoupons{},
		billing:   &mockBilling{},
		auth:      apiv1.NewAuthenticator(testSecret, "identity"),
	}
	plans := &mockPlans{plans: []*model.SubscriptionPlan{
		{ID: "basic", Category: model.PlanCategoryStudent, IsActive: true},
		{ID: "studio", Category: model.PlanCategoryTeacher, IsActive: true},
	}}
	srv := apiv1.NewServer(f.lifecycle, plans, f.coupons, f.billing, &logger)
	f.handler = apiv1.NewRouter(srv, f.auth, testInternalKey, 5*time.Second, &logger)
	return f
}

func (f *fixture) token(t *testing.T, userID string, role model.Role) string {
	t.Helper()
	tok, err := f.auth.Mint(apiv1.Identity{UserID: userID, Role: role, Email: userID + "@example.com"}, time.Minute)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return tok
}

func (f *fixture) do(method, path, bearer, body string) *httptest.ResponseRecorder {
	var rd *bytes.Buffer
	if body != "" {
		rd = bytes.NewBufferString(body)
	} else {
		rd = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

//
// ---------------- tests ----------------
//

func TestAuth(t *testing.T) {
	t.Run("health is public", func(t *testing.T) {
		f := newFixture()
		if rec := f.do(http.MethodGet, "/health", "", ""); rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
	})

	t.Run("missing token returns 401", func(t *testing.T) {
		f := newFixture()
		if rec := f.do(http.MethodGet, "/api/v1/plans", "", ""); rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rec.Code)
		}
	})

	t.Run("token signed with another secret returns 401", func(t *testing.T) {
		f := newFixture()
		other := apiv1.NewAuthenticator("other-secret", "identity")
		tok, _ := other.Mint(apiv1.Identity{UserID: "u1", Role: model.RoleStudent}, time.Minute)
		if rec := f.do(http.MethodGet, "/api/v1/plans", tok, ""); rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rec.Code)
		}
	})

	t.Run("expired token returns 401", func(t *testing.T) {
		f := newFixture()
		tok, _ := f.auth.Mint(apiv1.Identity{UserID: "u1", Role: model.RoleStudent}, -time.Minute)
		if rec := f.do(http.MethodGet, "/api/v1/plans", tok, ""); rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rec.Code)
		}
	})

	t.Run("internal routes require the api key", func(t *testing.T) {
		f := newFixture()
		if rec := f.do(http.MethodPost, "/internal/billing/invoices", "", `{}`); rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rec.Code)
		}
		if rec := f.do(http.MethodPost, "/internal/billing/invoices", "wrong", `{}`); rec.Code != http.StatusForbidden {
			t.Fatalf("expected 403, got %d", rec.Code)
		}
	})
}

func TestPlans_List(t *testing.T) {
	f := newFixture()
	tok := f.token(t, "u1", model.RoleStudent)

	t.Run("filters by category", func(t *testing.T) {
		rec := f.do(http.MethodGet, "/api/v1/plans?category=teacher", tok, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		var out struct {
			Items []model.SubscriptionPlan `json:"items"`
		}
		_ = json.Unmarshal(rec.Body.Bytes(), &out)
		if len(out.Items) != 1 || out.Items[0].ID != "studio" {
			t.Errorf("unexpected items %+v", out.Items)
		}
	})

	t.Run("rejects unknown category", func(t *testing.T) {
		if rec := f.do(http.MethodGet, "/api/v1/plans?category=robots", tok, ""); rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})
}

func TestSubscription_Checkout(t *testing.T) {
	t.Run("passes identity and body to the use case", func(t *testing.T) {
		// Arrange
		f := newFixture()
		var got usecase.CheckoutRequest
		f.lifecycle.StartCheckoutFunc = func(ctx context.Context, req usecase.CheckoutRequest) (*usecase.CheckoutResult, error) {
			got = req
			return &usecase.CheckoutResult{CheckoutURL: "https://pay.test/s"}, nil
		}

		// Act
		rec := f.do(http.MethodPost, "/api/v1/subscription/checkout", f.token(t, "u1", model.RoleStudent),
			`{"plan_id":"basic","billing_cycle":"monthly","coupon_code":"SAVE15"}`)

		// Assert
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		if got.UserID != "u1" || got.Role != model.RoleStudent || got.Email != "u1@example.com" || got.CouponCode != "SAVE15" {
			t.Errorf("unexpected request %+v", got)
		}
		var out usecase.CheckoutResult
		_ = json.Unmarshal(rec.Body.Bytes(), &out)
		if out.CheckoutURL != "https://pay.test/s" {
			t.Errorf("unexpected body %s", rec.Body.String())
		}
	})

	t.Run("malformed body returns 400", func(t *testing.T) {
		f := newFixture()
		rec := f.do(http.MethodPost, "/api/v1/subscription/checkout", f.token(t, "u1", model.RoleStudent), `{"plan_id":`)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})
}

func TestSubscription_ErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.ErrNoActiveSubscription, http.StatusUnprocessableEntity},
		{domain.ErrWindowExpired, http.StatusUnprocessableEntity},
		{domain.ErrCouponExhausted, http.StatusUnprocessableEntity},
		{domain.ErrPlanNotFound, http.StatusNotFound},
		{domain.ErrRoleNotAllowed, http.StatusForbidden},
		{domain.ErrConcurrentModification, http.StatusConflict},
		{domain.ErrAlreadySubscribed, http.StatusConflict},
		{domain.NewProviderError("cancel", domain.ProviderTransient, "", fmt.Errorf("503")), http.StatusServiceUnavailable},
		{domain.NewProviderError("cancel", domain.ProviderUnknown, "", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{domain.NewProviderError("cancel", domain.ProviderPermanent, "invalid", fmt.Errorf("bad")), http.StatusBadGateway},
		{fmt.Errorf("db: %w", domain.ErrOperationFailed), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			f := newFixture()
			f.lifecycle.CancelFunc = func(ctx context.Context, userID string) (*usecase.CancelResult, error) {
				return nil, tc.err
			}

			rec := f.do(http.MethodPost, "/api/v1/subscription/cancel", f.token(t, "u1", model.RoleStudent), "")

			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestSubscription_Lifecycle(t *testing.T) {
	end := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	t.Run("cancel returns the end date", func(t *testing.T) {
		f := newFixture()
		f.lifecycle.CancelFunc = func(ctx context.Context, userID string) (*usecase.CancelResult, error) {
			return &usecase.CancelResult{EndDate: &end}, nil
		}

		rec := f.do(http.MethodPost, "/api/v1/subscription/cancel", f.token(t, "u1", model.RoleStudent), "")

		var out struct {
			EndDate time.Time `json:"end_date"`
		}
		_ = json.Unmarshal(rec.Body.Bytes(), &out)
		if rec.Code != http.StatusOK || !out.EndDate.Equal(end) {
			t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("change plan requires a plan id", func(t *testing.T) {
		f := newFixture()
		rec := f.do(http.MethodPost, "/api/v1/subscription/change-plan", f.token(t, "u1", model.RoleStudent), `{}`)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("change plan reports upgrade", func(t *testing.T) {
		f := newFixture()
		f.lifecycle.ChangePlanFunc = func(ctx context.Context, req usecase.ChangePlanRequest) (*usecase.ChangePlanResult, error) {
			if req.NewPlanID != "pro" || req.UserID != "u1" {
				return nil, domain.ErrInvalidArgument
			}
			return &usecase.ChangePlanResult{IsUpgrade: true}, nil
		}

		rec := f.do(http.MethodPost, "/api/v1/subscription/change-plan", f.token(t, "u1", model.RoleStudent), `{"plan_id":"pro"}`)

		if rec.Code != http.StatusOK || !bytes.Contains(rec.Body.Bytes(), []byte(`"is_upgrade":true`)) {
			t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("current subscription may be null", func(t *testing.T) {
		f := newFixture()
		f.lifecycle.GetCurrentFunc = func(ctx context.Context, userID string) (*model.UserSubscription, error) {
			return nil, nil
		}

		rec := f.do(http.MethodGet, "/api/v1/subscription", f.token(t, "u1", model.RoleStudent), "")

		if rec.Code != http.StatusOK || !bytes.Contains(rec.Body.Bytes(), []byte(`"subscription":null`)) {
			t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
		}
	})
}

func TestCoupons_Preview(t *testing.T) {
	f := newFixture()
	f.coupons.PreviewFunc = func(ctx context.Context, code, planID string, cycle model.BillingCycle) (*usecase.DiscountPreview, error) {
		if cycle != model.BillingCycleMonthly {
			return nil, domain.ErrInvalidArgument
		}
		return &usecase.DiscountPreview{Code: code, BaseAmount: 999, DiscountAmount: 149, FinalAmount: 850}, nil
	}

	rec := f.do(http.MethodPost, "/api/v1/coupons/preview", f.token(t, "u1", model.RoleStudent), `{"code":"SAVE15","plan_id":"basic"}`)

	var out usecase.DiscountPreview
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	if rec.Code != http.StatusOK || out.FinalAmount != 850 {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
	}
}

func TestInternal_CheckoutCompleted(t *testing.T) {
	t.Run("activates the subscription", func(t *testing.T) {
		f := newFixture()
		var got usecase.ActivationInput
		f.billing.ActivateFunc = func(ctx context.Context, in usecase.ActivationInput) (*model.UserSubscription, error) {
			got = in
			return &model.UserSubscription{ID: "s1", UserID: in.UserID, Status: model.SubscriptionStatusActive}, nil
		}

		rec := f.do(http.MethodPost, "/internal/billing/checkout-completed", testInternalKey,
			`{"user_id":"u1","price_ref":"price_basic_m","provider_subscription_id":"sub_1","trial":false}`)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		if got.UserID != "u1" || got.ProviderSubscriptionID != "sub_1" || got.PriceRef != "price_basic_m" {
			t.Errorf("unexpected input %+v", got)
		}
	})

	t.Run("exhausted coupon maps to 422", func(t *testing.T) {
		f := newFixture()
		f.billing.ActivateFunc = func(ctx context.Context, in usecase.ActivationInput) (*model.UserSubscription, error) {
			return nil, domain.ErrCouponExhausted
		}

		rec := f.do(http.MethodPost, "/internal/billing/checkout-completed", testInternalKey, `{"user_id":"u1","provider_subscription_id":"sub_1"}`)

		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("expected 422, got %d", rec.Code)
		}
	})
}
