//go:build !integration

// File: internal/usecase/mocks_test.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"subscription-lifecycle/internal/domain"
	"subscription-lifecycle/internal/domain/model"
	"subscription-lifecycle/internal/domain/ports/adapter"
	"subscription-lifecycle/internal/domain/ports/repository"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
)

// memStore is a small in-memory ledger used by unit tests. WithTx serializes
// transactions and rolls every table back when fn fails.
type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	plans         map[string]*model.SubscriptionPlan
	subs          map[string]*model.UserSubscription
	history       []*model.SubscriptionHistory
	coupons       map[string]*model.Coupon
	customers     map[string]*model.BillingCustomer
	invoices      map[string]*model.Invoice
	discrepancies map[string]*model.Discrepancy

	updateErr     error // used by tests to force guarded write failures
	conflictsLeft int   // guarded writes still to fail with a conflict
	updates       int32
}

func newMemStore() *memStore {
	return &memStore{
		plans:         make(map[string]*model.SubscriptionPlan),
		subs:          make(map[string]*model.UserSubscription),
		coupons:       make(map[string]*model.Coupon),
		customers:     make(map[string]*model.BillingCustomer),
		invoices:      make(map[string]*model.Invoice),
		discrepancies: make(map[string]*model.Discrepancy),
	}
}

func (s *memStore) ledger() Ledger {
	return Ledger{
		Tx:            memTx{s},
		Plans:         memPlans{s},
		Subscriptions: memSubs{s},
		History:       memHistory{s},
		Coupons:       memCoupons{s},
		Customers:     memCustomers{s},
		Invoices:      memInvoices{s},
		Discrepancies: memDiscrepancies{s},
	}
}

type memSnapshot struct {
	subs          map[string]*model.UserSubscription
	history       []*model.SubscriptionHistory
	coupons       map[string]model.Coupon
	customers     map[string]model.BillingCustomer
	invoices      map[string]model.Invoice
	discrepancies map[string]model.Discrepancy
}

func (s *memStore) snapshot() memSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := memSnapshot{
		subs:          make(map[string]*model.UserSubscription, len(s.subs)),
		history:       append([]*model.SubscriptionHistory(nil), s.history...),
		coupons:       make(map[string]model.Coupon, len(s.coupons)),
		customers:     make(map[string]model.BillingCustomer, len(s.customers)),
		invoices:      make(map[string]model.Invoice, len(s.invoices)),
		discrepancies: make(map[string]model.Discrepancy, len(s.discrepancies)),
	}
	for k, v := range s.subs {
		snap.subs[k] = v.Clone()
	}
	for k, v := range s.coupons {
		snap.coupons[k] = *v
	}
	for k, v := range s.customers {
		snap.customers[k] = *v
	}
	for k, v := range s.invoices {
		snap.invoices[k] = *v
	}
	for k, v := range s.discrepancies {
		snap.discrepancies[k] = *v
	}
	return snap
}

func (s *memStore) restore(snap memSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = snap.subs
	s.history = snap.history
	s.coupons = make(map[string]*model.Coupon, len(snap.coupons))
	for k, v := range snap.coupons {
		v := v
		s.coupons[k] = &v
	}
	s.customers = make(map[string]*model.BillingCustomer, len(snap.customers))
	for k, v := range snap.customers {
		v := v
		s.customers[k] = &v
	}
	s.invoices = make(map[string]*model.Invoice, len(snap.invoices))
	for k, v := range snap.invoices {
		v := v
		s.invoices[k] = &v
	}
	s.discrepancies = make(map[string]*model.Discrepancy, len(snap.discrepancies))
	for k, v := range snap.discrepancies {
		v := v
		s.discrepancies[k] = &v
	}
}

// --- transactions ---

type memTx struct{ s *memStore }

func (m memTx) WithTx(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	m.s.txMu.Lock()
	defer m.s.txMu.Unlock()
	snap := m.s.snapshot()
	if err := fn(ctx, "memtx"); err != nil {
		m.s.restore(snap)
		return err
	}
	return nil
}

// --- plans ---

type memPlans struct{ s *memStore }

func (m memPlans) Save(ctx context.Context, tx repository.Tx, p *model.SubscriptionPlan) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	cp := *p
	m.s.plans[p.ID] = &cp
	return nil
}

func (m memPlans) find(match func(p *model.SubscriptionPlan) bool) (*model.SubscriptionPlan, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, p := range m.s.plans {
		if match(p) {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m memPlans) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.SubscriptionPlan, error) {
	return m.find(func(p *model.SubscriptionPlan) bool { return p.ID == id })
}

func (m memPlans) FindBySlug(ctx context.Context, tx repository.Tx, slug string) (*model.SubscriptionPlan, error) {
	return m.find(func(p *model.SubscriptionPlan) bool { return p.Slug == slug })
}

func (m memPlans) FindByProviderPriceRef(ctx context.Context, tx repository.Tx, ref string) (*model.SubscriptionPlan, error) {
	return m.find(func(p *model.SubscriptionPlan) bool {
		return ref != "" && (p.ProviderPriceMonthly == ref || p.ProviderPriceYearly == ref)
	})
}

func (m memPlans) ListAll(ctx context.Context, tx repository.Tx) ([]*model.SubscriptionPlan, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	out := make([]*model.SubscriptionPlan, 0, len(m.s.plans))
	for _, p := range m.s.plans {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PriceMonthly < out[j].PriceMonthly })
	return out, nil
}

// --- subscriptions ---

type memSubs struct{ s *memStore }

func (m memSubs) LockUser(ctx context.Context, tx repository.Tx, userID string) error {
	if tx == nil {
		return domain.ErrInvalidExecContext
	}
	return nil
}

func (m memSubs) liveFor(userID, exceptID string) bool {
	for _, s := range m.s.subs {
		if s.UserID == userID && s.ID != exceptID && s.IsLive() {
			return true
		}
	}
	return false
}

func (m memSubs) Create(ctx context.Context, tx repository.Tx, sub *model.UserSubscription) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.subs[sub.ID]; ok {
		return domain.ErrAlreadyExists
	}
	if sub.IsLive() && m.liveFor(sub.UserID, sub.ID) {
		return domain.ErrAlreadyExists
	}
	if psid := sub.ProviderSubID(); psid != "" {
		for _, s := range m.s.subs {
			if s.ProviderSubID() == psid {
				return domain.ErrAlreadyExists
			}
		}
	}
	m.s.subs[sub.ID] = sub.Clone()
	return nil
}

func (m memSubs) UpdateGuarded(ctx context.Context, tx repository.Tx, sub *model.UserSubscription, expectStatus model.SubscriptionStatus, expectPlanID string) error {
	atomic.AddInt32(&m.s.updates, 1)
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if m.s.updateErr != nil {
		return m.s.updateErr
	}
	if m.s.conflictsLeft > 0 {
		m.s.conflictsLeft--
		return domain.ErrConcurrentModification
	}
	cur, ok := m.s.subs[sub.ID]
	if !ok || cur.Status != expectStatus || cur.PlanID != expectPlanID {
		return domain.ErrConcurrentModification
	}
	if sub.IsLive() && m.liveFor(sub.UserID, sub.ID) {
		return domain.ErrConcurrentModification
	}
	m.s.subs[sub.ID] = sub.Clone()
	return nil
}

func (m memSubs) findOne(match func(s *model.UserSubscription) bool) (*model.UserSubscription, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, s := range m.s.subs {
		if match(s) {
			return s.Clone(), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m memSubs) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.UserSubscription, error) {
	return m.findOne(func(s *model.UserSubscription) bool { return s.ID == id })
}

func (m memSubs) FindByProviderSubscriptionID(ctx context.Context, tx repository.Tx, id string) (*model.UserSubscription, error) {
	return m.findOne(func(s *model.UserSubscription) bool { return s.ProviderSubID() == id })
}

func (m memSubs) FindLiveByUser(ctx context.Context, tx repository.Tx, userID string) (*model.UserSubscription, error) {
	return m.findOne(func(s *model.UserSubscription) bool { return s.UserID == userID && s.IsLive() })
}

func (m memSubs) FindLatestCancelledByUser(ctx context.Context, tx repository.Tx, userID string) (*model.UserSubscription, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var best *model.UserSubscription
	for _, s := range m.s.subs {
		if s.UserID != userID || s.Status != model.SubscriptionStatusCancelled {
			continue
		}
		if best == nil || s.UpdatedAt.After(best.UpdatedAt) {
			best = s
		}
	}
	if best == nil {
		return nil, domain.ErrNotFound
	}
	return best.Clone(), nil
}

func (m memSubs) FindCurrentByUser(ctx context.Context, tx repository.Tx, userID string) (*model.UserSubscription, error) {
	if s, err := m.FindLiveByUser(ctx, tx, userID); err == nil {
		return s, nil
	}
	return m.FindLatestCancelledByUser(ctx, tx, userID)
}

func (m memSubs) ExpirePriorForUser(ctx context.Context, tx repository.Tx, userID string, now time.Time) ([]*model.UserSubscription, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var closed []*model.UserSubscription
	for _, s := range m.s.subs {
		if s.UserID != userID {
			continue
		}
		if s.IsLive() || s.IsResumable(now) {
			end := now
			s.Status = model.SubscriptionStatusExpired
			s.EndDate = &end
			s.AutoRenew = false
			s.UpdatedAt = now
			closed = append(closed, s.Clone())
		}
	}
	return closed, nil
}

func (m memSubs) ListCancelledEndedBefore(ctx context.Context, tx repository.Tx, cutoff time.Time, limit int) ([]*model.UserSubscription, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []*model.UserSubscription
	for _, s := range m.s.subs {
		if s.Status == model.SubscriptionStatusCancelled && s.EndDate != nil && !s.EndDate.After(cutoff) {
			out = append(out, s.Clone())
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m memSubs) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.SubscriptionStatus]int, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	out := make(map[model.SubscriptionStatus]int)
	for _, s := range m.s.subs {
		out[s.Status]++
	}
	return out, nil
}

// put seeds a row directly.
func (s *memStore) put(sub *model.UserSubscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[sub.ID] = sub.Clone()
}

func (s *memStore) get(id string) *model.UserSubscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub, ok := s.subs[id]; ok {
		return sub.Clone()
	}
	return nil
}

func (s *memStore) historyFor(subID string) []*model.SubscriptionHistory {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.SubscriptionHistory
	for _, h := range s.history {
		if h.SubscriptionID == subID {
			out = append(out, h)
		}
	}
	return out
}

func (s *memStore) openDiscrepancies() []*model.Discrepancy {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Discrepancy
	for _, d := range s.discrepancies {
		if d.Status == model.DiscrepancyOpen {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out
}

// --- history ---

type memHistory struct{ s *memStore }

func (m memHistory) Append(ctx context.Context, tx repository.Tx, h *model.SubscriptionHistory) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	cp := *h
	m.s.history = append(m.s.history, &cp)
	return nil
}

func (m memHistory) ListByUser(ctx context.Context, tx repository.Tx, userID string) ([]*model.SubscriptionHistory, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []*model.SubscriptionHistory
	for _, h := range m.s.history {
		if h.UserID == userID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (m memHistory) ListBySubscription(ctx context.Context, tx repository.Tx, subID string) ([]*model.SubscriptionHistory, error) {
	return m.s.historyFor(subID), nil
}

// --- coupons ---

type memCoupons struct{ s *memStore }

func (m memCoupons) Save(ctx context.Context, tx repository.Tx, c *model.Coupon) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	cp := *c
	cp.Code = model.NormalizeCode(c.Code)
	m.s.coupons[c.ID] = &cp
	return nil
}

func (m memCoupons) FindByCode(ctx context.Context, tx repository.Tx, code string) (*model.Coupon, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, c := range m.s.coupons {
		if c.Code == code {
			cp := *c
			return &cp, nil
		}
	}
	return nil, domain.ErrCouponNotFound
}

func (m memCoupons) IncrementUsage(ctx context.Context, tx repository.Tx, id string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	c, ok := m.s.coupons[id]
	if !ok {
		return domain.ErrCouponNotFound
	}
	if c.MaxUses != nil && c.UsedCount >= *c.MaxUses {
		return domain.ErrCouponExhausted
	}
	c.UsedCount++
	return nil
}

func (m memCoupons) SetProviderCouponID(ctx context.Context, tx repository.Tx, id, providerID string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	c, ok := m.s.coupons[id]
	if !ok {
		return domain.ErrCouponNotFound
	}
	c.ProviderCouponID = &providerID
	return nil
}

// --- customers ---

type memCustomers struct{ s *memStore }

func (m memCustomers) FindByUser(ctx context.Context, tx repository.Tx, userID string) (*model.BillingCustomer, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	c, ok := m.s.customers[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m memCustomers) SaveIfAbsent(ctx context.Context, tx repository.Tx, c *model.BillingCustomer) (*model.BillingCustomer, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if existing, ok := m.s.customers[c.UserID]; ok {
		cp := *existing
		return &cp, nil
	}
	cp := *c
	m.s.customers[c.UserID] = &cp
	out := cp
	return &out, nil
}

// --- invoices ---

type memInvoices struct{ s *memStore }

func (m memInvoices) Save(ctx context.Context, tx repository.Tx, inv *model.Invoice) (*model.Invoice, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if existing, ok := m.s.invoices[inv.ProviderInvoiceID]; ok {
		existing.PaymentStatus = inv.PaymentStatus
		if inv.PaymentDate != nil {
			existing.PaymentDate = inv.PaymentDate
		}
		cp := *existing
		return &cp, nil
	}
	cp := *inv
	m.s.invoices[inv.ProviderInvoiceID] = &cp
	out := cp
	return &out, nil
}

func (m memInvoices) ListByUser(ctx context.Context, tx repository.Tx, userID string, limit int) ([]*model.Invoice, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []*model.Invoice
	for _, inv := range m.s.invoices {
		if inv.UserID == userID && len(out) < limit {
			cp := *inv
			out = append(out, &cp)
		}
	}
	return out, nil
}

// --- discrepancies ---

type memDiscrepancies struct{ s *memStore }

func (m memDiscrepancies) Record(ctx context.Context, tx repository.Tx, d *model.Discrepancy) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	cp := *d
	m.s.discrepancies[d.ID] = &cp
	return nil
}

func (m memDiscrepancies) ListOpen(ctx context.Context, tx repository.Tx, limit int) ([]*model.Discrepancy, error) {
	open := m.s.openDiscrepancies()
	sort.Slice(open, func(i, j int) bool { return open[i].CreatedAt.Before(open[j].CreatedAt) })
	if len(open) > limit {
		open = open[:limit]
	}
	return open, nil
}

func (m memDiscrepancies) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Discrepancy, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	d, ok := m.s.discrepancies[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m memDiscrepancies) MarkResolved(ctx context.Context, tx repository.Tx, id, resolution string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	d, ok := m.s.discrepancies[id]
	if !ok || d.Status != model.DiscrepancyOpen {
		return domain.ErrNotFound
	}
	now := time.Now()
	d.Status = model.DiscrepancyResolved
	d.Resolution = resolution
	d.ResolvedAt = &now
	return nil
}

func (m memDiscrepancies) IncrementAttempts(ctx context.Context, tx repository.Tx, id, detail string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	d, ok := m.s.discrepancies[id]
	if !ok {
		return domain.ErrNotFound
	}
	d.Attempts++
	d.Detail = detail
	return nil
}

func (m memDiscrepancies) CountOpen(ctx context.Context, tx repository.Tx) (int, error) {
	return len(m.s.openDiscrepancies()), nil
}

// --- billing gateway ---

type mockGateway struct {
	CreateCustomerFunc         func(ctx context.Context, in adapter.CreateCustomerInput) (string, error)
	CreateCheckoutSessionFunc  func(ctx context.Context, in adapter.CheckoutSessionInput) (string, error)
	UpdateSubscriptionPlanFunc func(ctx context.Context, subID, priceRef string, policy adapter.ProrationPolicy) error
	CancelSubscriptionFunc     func(ctx context.Context, subID string) (*adapter.ProviderSubscription, error)
	ResumeSubscriptionFunc     func(ctx context.Context, subID string) (*adapter.ProviderSubscription, error)
	EnsureCouponFunc           func(ctx context.Context, code string, typ model.DiscountType, value int64, currency string) (string, error)
	GetSubscriptionFunc        func(ctx context.Context, subID string) (*adapter.ProviderSubscription, error)

	mu    sync.Mutex
	calls map[string]int
	seq   int32
}

func (m *mockGateway) hit(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[method]++
}

func (m *mockGateway) count(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

func (m *mockGateway) Name() string { return "mock" }

func (m *mockGateway) CreateCustomer(ctx context.Context, in adapter.CreateCustomerInput) (string, error) {
	m.hit("CreateCustomer")
	if m.CreateCustomerFunc != nil {
		return m.CreateCustomerFunc(ctx, in)
	}
	return fmt.Sprintf("cus_%d", atomic.AddInt32(&m.seq, 1)), nil
}

func (m *mockGateway) CreateCheckoutSession(ctx context.Context, in adapter.CheckoutSessionInput) (string, error) {
	m.hit("CreateCheckoutSession")
	if m.CreateCheckoutSessionFunc != nil {
		return m.CreateCheckoutSessionFunc(ctx, in)
	}
	return "https://checkout.test/" + in.PriceRef, nil
}

func (m *mockGateway) UpdateSubscriptionPlan(ctx context.Context, subID, priceRef string, policy adapter.ProrationPolicy) error {
	m.hit("UpdateSubscriptionPlan")
	if m.UpdateSubscriptionPlanFunc != nil {
		return m.UpdateSubscriptionPlanFunc(ctx, subID, priceRef, policy)
	}
	return nil
}

func (m *mockGateway) CancelSubscription(ctx context.Context, subID string) (*adapter.ProviderSubscription, error) {
	m.hit("CancelSubscription")
	if m.CancelSubscriptionFunc != nil {
		return m.CancelSubscriptionFunc(ctx, subID)
	}
	return &adapter.ProviderSubscription{ID: subID, CancelAtPeriodEnd: true}, nil
}

func (m *mockGateway) ResumeSubscription(ctx context.Context, subID string) (*adapter.ProviderSubscription, error) {
	m.hit("ResumeSubscription")
	if m.ResumeSubscriptionFunc != nil {
		return m.ResumeSubscriptionFunc(ctx, subID)
	}
	return &adapter.ProviderSubscription{ID: subID}, nil
}

func (m *mockGateway) EnsureCoupon(ctx context.Context, code string, typ model.DiscountType, value int64, currency string) (string, error) {
	m.hit("EnsureCoupon")
	if m.EnsureCouponFunc != nil {
		return m.EnsureCouponFunc(ctx, code, typ, value, currency)
	}
	return "co_" + code, nil
}

func (m *mockGateway) GetSubscription(ctx context.Context, subID string) (*adapter.ProviderSubscription, error) {
	m.hit("GetSubscription")
	if m.GetSubscriptionFunc != nil {
		return m.GetSubscriptionFunc(ctx, subID)
	}
	return &adapter.ProviderSubscription{ID: subID}, nil
}

// --- events ---

type mockPublisher struct {
	mu     sync.Mutex
	events []adapter.LifecycleEvent
}

func (m *mockPublisher) Publish(ctx context.Context, ev adapter.LifecycleEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *mockPublisher) Close() error { return nil }

func (m *mockPublisher) types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.events))
	for _, ev := range m.events {
		out = append(out, ev.Type)
	}
	return out
}

// --- fixtures ---

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func fixedClock() time.Time { return testNow }

func testPlan(id string, category model.PlanCategory, monthly int64) *model.SubscriptionPlan {
	return &model.SubscriptionPlan{
		ID:                   id,
		Slug:                 id,
		Name:                 id,
		PriceMonthly:         monthly,
		PriceYearly:          monthly * 10,
		Currency:             "usd",
		IsActive:             true,
		Category:             category,
		ProviderPriceMonthly: "price_" + id + "_m",
		ProviderPriceYearly:  "price_" + id + "_y",
		CreatedAt:            testNow.Add(-30 * 24 * time.Hour),
	}
}

func liveSub(id, userID, planID string, psid string) *model.UserSubscription {
	nb := testNow.Add(20 * 24 * time.Hour)
	s := &model.UserSubscription{
		ID:              id,
		UserID:          userID,
		PlanID:          planID,
		BillingCycle:    model.BillingCycleMonthly,
		Status:          model.SubscriptionStatusActive,
		StartDate:       testNow.Add(-10 * 24 * time.Hour),
		NextBillingDate: &nb,
		AutoRenew:       true,
		CreatedAt:       testNow.Add(-10 * 24 * time.Hour),
		UpdatedAt:       testNow.Add(-10 * 24 * time.Hour),
	}
	if psid != "" {
		s.ProviderSubscriptionID = &psid
	}
	return s
}

type harness struct {
	store     *memStore
	gateway   *mockGateway
	publisher *mockPublisher
	plans     PlanUseCase
	coupons   CouponUseCase
	lifecycle *lifecycleUC
	billing   *billingEventUC
	reconcile *reconcileUC
	expiry    *expiryUC
}

func newHarness() *harness {
	store := newMemStore()
	for _, p := range []*model.SubscriptionPlan{
		testPlan("basic", model.PlanCategoryStudent, 999),
		testPlan("pro", model.PlanCategoryStudent, 1999),
		testPlan("studio", model.PlanCategoryTeacher, 4999),
	} {
		_ = memPlans{store}.Save(context.Background(), repository.NoTX, p)
	}
	gw := &mockGateway{}
	pub := &mockPublisher{}
	ledger := store.ledger()
	logger := newTestLogger()
	retry := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}

	plans := NewPlanUseCase(ledger.Plans)
	coupons := NewCouponUseCase(ledger.Coupons, plans, fixedClock)
	return &harness{
		store:     store,
		gateway:   gw,
		publisher: pub,
		plans:     plans,
		coupons:   coupons,
		lifecycle: NewLifecycleUseCase(ledger, plans, coupons, gw, pub, LifecycleOptions{
			Retry:      retry,
			SuccessURL: "https://app.test/billing/success",
			CancelURL:  "https://app.test/billing/cancel",
			Clock:      fixedClock,
		}, logger),
		billing:   NewBillingEventUseCase(ledger, pub, fixedClock, logger),
		reconcile: NewReconcileUseCase(ledger, gw, pub, retry, 5, fixedClock, logger),
		expiry:    NewExpiryUseCase(ledger, pub, logger),
	}
}

func transientErr(op string) error {
	return domain.NewProviderError(op, domain.ProviderTransient, "api_error", errors.New("upstream 503"))
}

func permanentErr(op string) error {
	return domain.NewProviderError(op, domain.ProviderPermanent, "invalid_request", errors.New("bad request"))
}

func unknownErr(op string) error {
	return domain.NewProviderError(op, domain.ProviderUnknown, "", context.DeadlineExceeded)
}
