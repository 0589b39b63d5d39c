package apiv1

import (
	"net/http"
	"strconv"
	"time"

	"subscription-lifecycle/internal/domain"
	"subscription-lifecycle/internal/domain/model"
	"subscription-lifecycle/internal/infra/api"
	"subscription-lifecycle/internal/infra/logging"
	"subscription-lifecycle/internal/usecase"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Server exposes the lifecycle use cases over JSON.
type Server struct {
	lifecycle usecase.LifecycleUseCase
	plans     usecase.PlanUseCase
	coupons   usecase.CouponUseCase
	billing   usecase.BillingEventUseCase
	log       *zerolog.Logger
}

func NewServer(
	lifecycle usecase.LifecycleUseCase,
	plans usecase.PlanUseCase,
	coupons usecase.CouponUseCase,
	billing usecase.BillingEventUseCase,
	logger *zerolog.Logger,
) *Server {
	l := logger.With().Str("component", "apiv1").Logger()
	return &Server{lifecycle: lifecycle, plans: plans, coupons: coupons, billing: billing, log: &l}
}

// RegisterAPIV1 mounts the user-facing routes behind JWT authentication.
func RegisterAPIV1(r chi.Router, s *Server, auth *Authenticator) {
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.Middleware)
		r.Get("/plans", s.listPlans)
		r.Post("/coupons/preview", s.previewCoupon)
		r.Get("/invoices", s.listInvoices)
		r.Route("/subscription", func(r chi.Router) {
			r.Get("/", s.getSubscription)
			r.Get("/history", s.listHistory)
			r.Post("/checkout", s.checkout)
			r.Post("/cancel", s.cancel)
			r.Post("/resume", s.resume)
			r.Post("/change-plan", s.changePlan)
		})
	})
}

// RegisterInternal mounts the billing hand-off routes used by the payment
// webhook collaborator.
func RegisterInternal(r chi.Router, s *Server, apiKey string) {
	r.Route("/internal/billing", func(r chi.Router) {
		r.Use(api.APIKey(apiKey, s.log))
		r.Post("/checkout-completed", s.checkoutCompleted)
		r.Post("/invoices", s.recordInvoice)
	})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := writeUseCaseError(w, err)
	l := logging.With(r.Context(), s.log)
	if status >= 500 {
		l.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		return
	}
	l.Debug().Err(err).Int("status", status).Str("path", r.URL.Path).Msg("request rejected")
}

func mustIdentity(r *http.Request) *Identity {
	id, _ := IdentityFrom(r.Context())
	return id
}

func (s *Server) listPlans(w http.ResponseWriter, r *http.Request) {
	category := model.PlanCategory(r.URL.Query().Get("category"))
	if category != "" && !category.Valid() {
		s.fail(w, r, domain.ErrInvalidArgument)
		return
	}
	plans, err := s.plans.ListPlans(r.Context(), category)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": plans})
}

func (s *Server) getSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := s.lifecycle.GetCurrentSubscription(r.Context(), mustIdentity(r).UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"subscription": sub})
}

func (s *Server) listHistory(w http.ResponseWriter, r *http.Request) {
	hist, err := s.lifecycle.ListHistory(r.Context(), mustIdentity(r).UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if hist == nil {
		hist = []*model.SubscriptionHistory{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": hist})
}

func (s *Server) listInvoices(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	invs, err := s.billing.ListInvoices(r.Context(), mustIdentity(r).UserID, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if invs == nil {
		invs = []*model.Invoice{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": invs})
}

type checkoutRequest struct {
	PlanID       string             `json:"plan_id"`
	BillingCycle model.BillingCycle `json:"billing_cycle"`
	CouponCode   string             `json:"coupon_code,omitempty"`
	SuccessURL   string             `json:"success_url,omitempty"`
	CancelURL    string             `json:"cancel_url,omitempty"`
}

func (s *Server) checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	id := mustIdentity(r)
	res, err := s.lifecycle.StartCheckout(r.Context(), usecase.CheckoutRequest{
		UserID:      id.UserID,
		Email:       id.Email,
		DisplayName: id.Name,
		Role:        id.Role,
		PlanID:      req.PlanID,
		Cycle:       req.BillingCycle,
		CouponCode:  req.CouponCode,
		SuccessURL:  req.SuccessURL,
		CancelURL:   req.CancelURL,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) cancel(w http.ResponseWriter, r *http.Request) {
	res, err := s.lifecycle.CancelSubscription(r.Context(), mustIdentity(r).UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) resume(w http.ResponseWriter, r *http.Request) {
	sub, err := s.lifecycle.ResumeSubscription(r.Context(), mustIdentity(r).UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"subscription": sub})
}

type changePlanRequest struct {
	PlanID string `json:"plan_id"`
}

func (s *Server) changePlan(w http.ResponseWriter, r *http.Request) {
	var req changePlanRequest
	if err := decodeJSON(r, &req); err != nil || req.PlanID == "" {
		s.fail(w, r, domain.ErrInvalidArgument)
		return
	}
	id := mustIdentity(r)
	res, err := s.lifecycle.ChangePlan(r.Context(), usecase.ChangePlanRequest{UserID: id.UserID, Role: id.Role, NewPlanID: req.PlanID})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type couponPreviewRequest struct {
	Code         string             `json:"code"`
	PlanID       string             `json:"plan_id"`
	BillingCycle model.BillingCycle `json:"billing_cycle"`
}

func (s *Server) previewCoupon(w http.ResponseWriter, r *http.Request) {
	var req couponPreviewRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.BillingCycle == "" {
		req.BillingCycle = model.BillingCycleMonthly
	}
	p, err := s.coupons.PreviewDiscount(r.Context(), req.Code, req.PlanID, req.BillingCycle)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) checkoutCompleted(w http.ResponseWriter, r *http.Request) {
	var in usecase.ActivationInput
	if err := decodeJSON(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	sub, err := s.billing.ActivateFromCheckout(r.Context(), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"subscription": sub})
}

func (s *Server) recordInvoice(w http.ResponseWriter, r *http.Request) {
	var in usecase.InvoiceInput
	if err := decodeJSON(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	inv, err := s.billing.RecordInvoice(r.Context(), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invoice": inv})
}

// NewRouter builds the public handler with the shared middleware chain.
func NewRouter(s *Server, auth *Authenticator, internalKey string, timeout time.Duration, logger *zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(
		api.TraceID(logger),
		api.RequestLog(logger),
		api.Recover(logger),
		api.Timeout(timeout),
	)
	RegisterAPIV1(r, s, auth)
	RegisterInternal(r, s, internalKey)
	return r
}
