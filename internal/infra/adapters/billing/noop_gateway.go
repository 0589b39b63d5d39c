package billing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"subscription-lifecycle/internal/domain"
	"subscription-lifecycle/internal/domain/model"
	"subscription-lifecycle/internal/domain/ports/adapter"
)

var _ adapter.BillingGateway = (*NoopGateway)(nil)

// NoopGateway is a simple in-memory gateway for dev runs and tests.
type NoopGateway struct {
	mu        sync.Mutex
	seq       int64
	now       func() time.Time
	customers map[string]string // user id -> customer id
	subs      map[string]*adapter.ProviderSubscription
	coupons   map[string]string // code -> coupon id
}

func NewNoopGateway() *NoopGateway {
	return &NoopGateway{
		now:       time.Now,
		customers: make(map[string]string),
		subs:      make(map[string]*adapter.ProviderSubscription),
		coupons:   make(map[string]string),
	}
}

func (g *NoopGateway) Name() string { return "noop" }

func (g *NoopGateway) next(prefix string) string {
	g.seq++
	return fmt.Sprintf("%s_noop_%d", prefix, g.seq)
}

func (g *NoopGateway) CreateCustomer(ctx context.Context, in adapter.CreateCustomerInput) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if id, ok := g.customers[in.UserID]; ok {
		return id, nil
	}
	id := g.next("cus")
	g.customers[in.UserID] = id
	return id, nil
}

// CreateCheckoutSession immediately materializes the provider subscription so
// that a dev run can complete checkout through the internal billing hand-off.
func (g *NoopGateway) CreateCheckoutSession(ctx context.Context, in adapter.CheckoutSessionInput) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	subID := g.next("sub")
	end := g.now().AddDate(0, 1, 0).UTC()
	g.subs[subID] = &adapter.ProviderSubscription{
		ID:               subID,
		CustomerID:       in.CustomerID,
		PriceRef:         in.PriceRef,
		Status:           "active",
		CurrentPeriodEnd: &end,
	}
	return "https://example.test/checkout/" + subID, nil
}

func (g *NoopGateway) UpdateSubscriptionPlan(ctx context.Context, providerSubID, newPriceRef string, policy adapter.ProrationPolicy) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, err := g.get(providerSubID)
	if err != nil {
		return err
	}
	s.PriceRef = newPriceRef
	return nil
}

func (g *NoopGateway) CancelSubscription(ctx context.Context, providerSubID string) (*adapter.ProviderSubscription, error) {
	return g.setCancel(providerSubID, true)
}

func (g *NoopGateway) ResumeSubscription(ctx context.Context, providerSubID string) (*adapter.ProviderSubscription, error) {
	return g.setCancel(providerSubID, false)
}

func (g *NoopGateway) setCancel(providerSubID string, flag bool) (*adapter.ProviderSubscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, err := g.get(providerSubID)
	if err != nil {
		return nil, err
	}
	s.CancelAtPeriodEnd = flag
	cp := *s
	return &cp, nil
}

func (g *NoopGateway) EnsureCoupon(ctx context.Context, code string, typ model.DiscountType, value int64, currency string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	code = model.NormalizeCode(code)
	if id, ok := g.coupons[code]; ok {
		return id, nil
	}
	g.coupons[code] = code
	return code, nil
}

func (g *NoopGateway) GetSubscription(ctx context.Context, providerSubID string) (*adapter.ProviderSubscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, err := g.get(providerSubID)
	if err != nil {
		return nil, err
	}
	cp := *s
	return &cp, nil
}

// Seed registers a provider subscription, e.g. from cmd/seed or a test.
func (g *NoopGateway) Seed(s adapter.ProviderSubscription) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.subs[s.ID] = &s
}

func (g *NoopGateway) get(id string) (*adapter.ProviderSubscription, error) {
	s, ok := g.subs[id]
	if !ok {
		return nil, domain.NewProviderError("get_subscription", domain.ProviderPermanent, "resource_missing", fmt.Errorf("noop: subscription %s not found", id))
	}
	return s, nil
}
