package domain

import (
	"errors"
	"fmt"
)

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidExecContext = errors.New("invalid execution context")
	ErrOperationFailed    = errors.New("operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")

	// Lifecycle validation errors
	ErrPlanNotFound            = errors.New("plan not found")
	ErrNoActiveSubscription    = errors.New("no active subscription")
	ErrNoResumableSubscription = errors.New("no resumable subscription")
	ErrWindowExpired           = errors.New("resume window has expired; start a new checkout")
	ErrSamePlan                = errors.New("already subscribed to this plan")
	ErrAlreadySubscribed       = errors.New("user already has a live subscription on this plan")
	ErrPlanNotPurchasable      = errors.New("plan has no provider price for the requested billing cycle")
	ErrPriceNotConfigured      = errors.New("target plan has no provider price for the current billing cycle")
	ErrRoleNotAllowed          = errors.New("role is not allowed to purchase this plan category")
	ErrSubscriptionNotLinked   = errors.New("subscription is not linked to a provider subscription")

	// Coupon validation errors
	ErrCouponNotFound      = errors.New("coupon not found")
	ErrCouponInactive      = errors.New("coupon is not active")
	ErrCouponExpired       = errors.New("coupon is outside its validity window")
	ErrCouponNotApplicable = errors.New("coupon does not apply to this plan")
	ErrCouponExhausted     = errors.New("coupon usage limit reached")

	// Concurrency
	ErrConcurrentModification = errors.New("subscription was modified concurrently; please retry")

	// Provider outcome classes
	ErrProviderTransient     = errors.New("billing provider transient failure")
	ErrProviderPermanent     = errors.New("billing provider permanent failure")
	ErrProviderUnknown       = errors.New("billing provider outcome unknown")
	ErrProviderAlreadyExists = errors.New("billing provider resource already exists")
)

// ProviderErrorKind classifies a failed billing provider call.
type ProviderErrorKind string

const (
	ProviderTransient ProviderErrorKind = "transient"
	ProviderPermanent ProviderErrorKind = "permanent"
	ProviderUnknown   ProviderErrorKind = "unknown"
)

// ProviderError is returned by billing gateway adapters. Kind decides whether
// the caller may retry; Code carries the provider's own error code if any.
type ProviderError struct {
	Op   string
	Kind ProviderErrorKind
	Code string
	Err  error
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("billing %s (%s, %s): %v", e.Op, e.Kind, e.Code, e.Err)
	}
	return fmt.Sprintf("billing %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() []error {
	var kind error
	switch e.Kind {
	case ProviderTransient:
		kind = ErrProviderTransient
	case ProviderUnknown:
		kind = ErrProviderUnknown
	default:
		kind = ErrProviderPermanent
	}
	return []error{kind, e.Err}
}

func NewProviderError(op string, kind ProviderErrorKind, code string, err error) *ProviderError {
	return &ProviderError{Op: op, Kind: kind, Code: code, Err: err}
}

// ProviderKind reports the outcome class of err. Errors that did not come
// from a provider adapter are treated as permanent.
func ProviderKind(err error) ProviderErrorKind {
	switch {
	case errors.Is(err, ErrProviderTransient):
		return ProviderTransient
	case errors.Is(err, ErrProviderUnknown):
		return ProviderUnknown
	default:
		return ProviderPermanent
	}
}

// IsValidation reports whether err is a caller-facing validation failure.
func IsValidation(err error) bool {
	for _, target := range []error{
		ErrPlanNotFound, ErrNoActiveSubscription, ErrNoResumableSubscription, ErrWindowExpired,
		ErrSamePlan, ErrAlreadySubscribed, ErrPlanNotPurchasable, ErrPriceNotConfigured,
		ErrRoleNotAllowed, ErrSubscriptionNotLinked, ErrCouponNotFound, ErrCouponInactive,
		ErrCouponExpired, ErrCouponNotApplicable, ErrCouponExhausted, ErrInvalidArgument,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
