package apiv1

import (
	"encoding/json"
	"errors"
	"net/http"

	"subscription-lifecycle/internal/domain"
)

type errorBody struct {
	Error string `json:"error"`
}

// errorStatus maps use case errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrPlanNotFound),
		errors.Is(err, domain.ErrCouponNotFound),
		errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrRoleNotAllowed):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrConcurrentModification),
		errors.Is(err, domain.ErrAlreadySubscribed),
		errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict
	case domain.IsValidation(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrProviderTransient):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrProviderUnknown):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrProviderPermanent):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// writeUseCaseError hides internal error text behind 5xx responses.
func writeUseCaseError(w http.ResponseWriter, err error) int {
	status := errorStatus(err)
	msg := err.Error()
	switch status {
	case http.StatusInternalServerError:
		msg = "internal error"
	case http.StatusBadGateway:
		msg = "billing provider rejected the request"
	case http.StatusServiceUnavailable:
		msg = "billing provider unavailable, please retry"
	case http.StatusGatewayTimeout:
		msg = "billing provider did not respond, please retry later"
	}
	writeError(w, status, msg)
	return status
}

func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return domain.ErrInvalidArgument
	}
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return domain.ErrInvalidArgument
	}
	return nil
}
